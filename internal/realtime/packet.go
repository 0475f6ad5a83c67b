package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Engine.IO v4 packet types.
const (
	engineOpen    byte = '0'
	engineClose   byte = '1'
	enginePing    byte = '2'
	enginePong    byte = '3'
	engineMessage byte = '4'
	engineUpgrade byte = '5'
	engineNoop    byte = '6'
)

// Socket.IO v5 packet types, carried inside an Engine.IO message.
const (
	socketConnect      byte = '0'
	socketDisconnect   byte = '1'
	socketEvent        byte = '2'
	socketAck          byte = '3'
	socketConnectError byte = '4'
)

var errEmptyPacket = errors.New("empty packet")

// packet is one decoded frame. socket is zero unless engine is
// engineMessage.
type packet struct {
	engine byte
	socket byte
	data   []byte
}

// decodePacket splits a text frame into its Engine.IO and Socket.IO
// types. Only the default namespace is understood; a namespaced packet
// keeps its "/ns," prefix in data.
func decodePacket(raw []byte) (packet, error) {
	if len(raw) == 0 {
		return packet{}, errEmptyPacket
	}

	p := packet{engine: raw[0]}
	switch p.engine {
	case engineOpen, engineClose, enginePing, enginePong, engineUpgrade, engineNoop:
		p.data = raw[1:]
		return p, nil
	case engineMessage:
	default:
		return packet{}, fmt.Errorf("unknown engine packet type %q", raw[0])
	}

	if len(raw) < 2 {
		return packet{}, fmt.Errorf("message packet without socket type")
	}
	p.socket = raw[1]
	switch p.socket {
	case socketConnect, socketDisconnect, socketEvent, socketAck, socketConnectError:
	default:
		return packet{}, fmt.Errorf("unknown socket packet type %q", raw[1])
	}

	// Event and ack packets may carry a numeric ack id before the payload.
	data := raw[2:]
	if p.socket == socketEvent || p.socket == socketAck {
		i := 0
		for i < len(data) && data[i] >= '0' && data[i] <= '9' {
			i++
		}
		data = data[i:]
	}
	p.data = data
	return p, nil
}

// openPayload is the body of the Engine.IO open packet.
type openPayload struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
	MaxPayload   int    `json:"maxPayload"`
}

// readTimeout is how long the connection may stay silent before the
// server is considered gone.
func (o openPayload) readTimeout() time.Duration {
	d := time.Duration(o.PingInterval+o.PingTimeout) * time.Millisecond
	if d <= 0 {
		return 45 * time.Second
	}
	return d
}

// connectErrorPayload is the body of a Socket.IO connect_error packet.
type connectErrorPayload struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// eventName splits a Socket.IO event payload into its name and
// arguments.
func eventName(data []byte) (string, []json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return "", nil, fmt.Errorf("decoding event payload: %w", err)
	}
	if len(parts) == 0 {
		return "", nil, errors.New("event payload without name")
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("decoding event name: %w", err)
	}
	return name, parts[1:], nil
}

// encodeConnect builds the namespace connect packet carrying auth.
func encodeConnect(auth interface{}) ([]byte, error) {
	body, err := json.Marshal(auth)
	if err != nil {
		return nil, fmt.Errorf("encoding connect auth: %w", err)
	}
	return append([]byte{engineMessage, socketConnect}, body...), nil
}

// encodeEvent builds an event packet. A nil payload sends the bare
// event name.
func encodeEvent(name string, payload interface{}) ([]byte, error) {
	args := []interface{}{name}
	if payload != nil {
		args = append(args, payload)
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encoding event %s: %w", name, err)
	}
	return append([]byte{engineMessage, socketEvent}, body...), nil
}

var (
	pongFrame       = []byte{enginePong}
	disconnectFrame = []byte{engineMessage, socketDisconnect}
)

// endpointURL turns a server base URL into the websocket transport URL.
func endpointURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing realtime url %q: %w", base, err)
	}

	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported realtime url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("realtime url %q has no host", base)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/socket.io/"
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
