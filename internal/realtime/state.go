package realtime

// State is the lifecycle state of the realtime connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting

	// StateGaveUp means automatic reconnection stopped after the attempt
	// ceiling or an authentication rejection. Only Connect or
	// ForceReconnect leave it.
	StateGaveUp
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateGaveUp:
		return "gave up"
	default:
		return "unknown"
	}
}

// active reports whether the state has a connection in flight or open.
func (s State) active() bool {
	return s == StateConnecting || s == StateConnected || s == StateReconnecting
}

// Disconnect reasons, using the Socket.IO client's vocabulary.
const (
	ReasonClientDisconnect = "io client disconnect"
	ReasonServerDisconnect = "io server disconnect"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
	ReasonPingTimeout      = "ping timeout"
	ReasonAuthRejected     = "auth rejected"
	ReasonAttemptsExceeded = "reconnect attempts exhausted"
)
