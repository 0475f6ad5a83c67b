package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nhle/access-console/internal/model"
)

const writeTimeout = 10 * time.Second

var errNotConnected = errors.New("realtime connection not open")

// ConnectRejectedError is returned when the server refuses the namespace
// connect, which it does for a missing or invalid token.
type ConnectRejectedError struct {
	Message string
}

func (e *ConnectRejectedError) Error() string {
	return fmt.Sprintf("connection rejected by server: %s", e.Message)
}

// IsConnectRejected reports whether err (or any error in its chain) is a
// ConnectRejectedError.
func IsConnectRejected(err error) bool {
	var rejected *ConnectRejectedError
	return errors.As(err, &rejected)
}

// Options configures a Manager.
type Options struct {
	// URL is the server base URL (http, https, ws or wss).
	URL string

	// MaxReconnectAttempts is the number of consecutive failed attempts
	// after which the manager gives up.
	MaxReconnectAttempts int

	// ReconnectDelay is the fixed wait between attempts.
	ReconnectDelay time.Duration

	// ForceReconnectDelay is the pause between teardown and reconnect in
	// ForceReconnect.
	ForceReconnectDelay time.Duration

	// HandshakeTimeout bounds the open and namespace connect exchange.
	HandshakeTimeout time.Duration

	// Dialer overrides the websocket dialer.
	Dialer *websocket.Dialer

	Logger zerolog.Logger
}

// Manager owns the single realtime connection of the application. It
// binds the connection to an access token, reconnects after transport
// loss up to a fixed number of attempts, and re-dispatches server events
// to registered listeners.
//
// Manager methods never return transport errors; failures surface as
// log entries and ConnectionStateChangedEvent deliveries.
type Manager struct {
	opts   Options
	dialer *websocket.Dialer
	log    zerolog.Logger

	bus *Bus

	mu       sync.Mutex
	token    string
	state    State
	sess     *session
	attempts int
}

// NewManager creates a disconnected Manager.
func NewManager(opts Options) *Manager {
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 5
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.ForceReconnectDelay < 0 {
		opts.ForceReconnectDelay = 0
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
		}
	}

	logger := opts.Logger.With().Str("component", "realtime").Logger()
	return &Manager{
		opts:   opts,
		dialer: dialer,
		log:    logger,
		bus:    NewBus(logger),
	}
}

// session is one token-bound connection lifetime, spanning any automatic
// reconnects. Events from a session that is no longer current are dropped.
type session struct {
	id     string
	token  string
	ctx    context.Context
	cancel context.CancelFunc

	wmu       sync.Mutex
	conn      *websocket.Conn
	connected bool
}

func newSession(token string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:     uuid.New().String(),
		token:  token,
		ctx:    ctx,
		cancel: cancel,
	}
}

// attach records a freshly dialed connection so close can interrupt the
// handshake.
func (s *session) attach(conn *websocket.Conn) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if err := s.ctx.Err(); err != nil {
		return err
	}
	s.conn = conn
	s.connected = false
	return nil
}

func (s *session) setConnected() {
	s.wmu.Lock()
	s.connected = s.conn != nil
	s.wmu.Unlock()
}

func (s *session) isConnected() bool {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.connected
}

func (s *session) write(frame []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.conn == nil {
		return errNotConnected
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// dropConn closes conn and forgets it if it is still the session's.
func (s *session) dropConn(conn *websocket.Conn) {
	s.wmu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.connected = false
	}
	s.wmu.Unlock()
	conn.Close()
}

// close ends the session. It does not wait for the read goroutine, so it
// is safe to call from a listener.
func (s *session) close() {
	s.cancel()

	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.conn == nil {
		return
	}
	if s.connected {
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(websocket.TextMessage, disconnectFrame)
	}
	s.conn.Close()
	s.conn = nil
	s.connected = false
}

// Connect opens a connection authenticated with token. It is a no-op when
// a connection for the same token is open or in progress. A different
// token tears the current connection down first. Connect returns
// immediately; progress is reported through events.
func (m *Manager) Connect(token string) {
	if token == "" {
		m.log.Warn().Msg("connect requested without a token")
		return
	}

	m.mu.Lock()
	if m.sess != nil && m.token == token && m.state.active() {
		state := m.state
		m.mu.Unlock()
		m.log.Debug().Stringer("state", state).Msg("already connected with this token")
		return
	}

	old := m.sess
	s := newSession(token)
	m.sess = s
	m.token = token
	m.attempts = 0
	m.state = StateConnecting
	m.mu.Unlock()

	if old != nil {
		wasConnected := old.isConnected()
		old.close()
		if wasConnected {
			m.dispatch(ConnectionStateChangedEvent{
				Trigger: EventDisconnect,
				State:   StateConnecting,
				Reason:  ReasonClientDisconnect,
			})
		}
	}

	m.log.Info().Str("session", s.id).Msg("connecting to realtime server")
	m.dispatch(ConnectionStateChangedEvent{
		Trigger: EventStateChanged,
		State:   StateConnecting,
	})

	go m.run(s)
}

// Disconnect closes the connection, forgets the token and resets the
// attempt counter. Calling it when already disconnected does nothing.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	old := m.sess
	prev := m.state
	m.sess = nil
	m.token = ""
	m.attempts = 0
	m.state = StateDisconnected
	m.mu.Unlock()

	if old == nil && prev == StateDisconnected {
		return
	}

	wasConnected := false
	if old != nil {
		wasConnected = old.isConnected()
		old.close()
	}

	m.log.Info().Stringer("previous_state", prev).Msg("realtime connection closed")

	if prev != StateDisconnected {
		m.dispatch(ConnectionStateChangedEvent{
			Trigger: EventStateChanged,
			State:   StateDisconnected,
			Reason:  ReasonClientDisconnect,
		})
	}
	if wasConnected {
		m.dispatch(ConnectionStateChangedEvent{
			Trigger: EventDisconnect,
			State:   StateDisconnected,
			Reason:  ReasonClientDisconnect,
		})
	}
}

// ForceReconnect disconnects, waits ForceReconnectDelay and connects with
// token. Cancelling ctx during the wait leaves the manager disconnected
// and returns the context error.
func (m *Manager) ForceReconnect(ctx context.Context, token string) error {
	m.log.Info().Msg("forcing realtime reconnect")
	m.Disconnect()

	if err := sleepCtx(ctx, m.opts.ForceReconnectDelay); err != nil {
		return err
	}

	m.Connect(token)
	return nil
}

// IsConnected reports whether the connection is open and authenticated.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	s := m.sess
	state := m.state
	m.mu.Unlock()

	return s != nil && state == StateConnected && s.isConnected()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AddListener registers fn for event. Listeners of one event run in
// registration order on the connection's goroutine.
func (m *Manager) AddListener(event string, fn Listener) Subscription {
	return m.bus.AddListener(event, fn)
}

// RemoveListener removes exactly the registration sub refers to.
// Unknown or already removed subscriptions are ignored.
func (m *Manager) RemoveListener(sub Subscription) {
	m.bus.RemoveListener(sub)
}

// MarkAsRead tells the server over the realtime channel that one
// notification was read. Dropped with a warning when not connected.
func (m *Manager) MarkAsRead(id int) {
	m.send("markAsRead", map[string]int{"notificationId": id})
}

// MarkAllAsRead tells the server over the realtime channel that every
// notification was read. Dropped with a warning when not connected.
func (m *Manager) MarkAllAsRead() {
	m.send("markAllAsRead", nil)
}

func (m *Manager) send(event string, payload interface{}) {
	m.mu.Lock()
	s := m.sess
	state := m.state
	m.mu.Unlock()

	if s == nil || state != StateConnected || !s.isConnected() {
		m.log.Warn().Str("event", event).Msg("not connected, outbound event dropped")
		return
	}

	frame, err := encodeEvent(event, payload)
	if err != nil {
		m.log.Error().Err(err).Str("event", event).Msg("encoding outbound event")
		return
	}
	if err := s.write(frame); err != nil {
		m.log.Warn().Err(err).Str("event", event).Msg("sending outbound event")
	}
}

// run drives one session: connect with retry, read until the transport
// ends, and decide whether to reconnect.
func (m *Manager) run(s *session) {
	for {
		conn, open, err := m.connectWithRetry(s)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			reason := ReasonAttemptsExceeded
			if IsConnectRejected(err) {
				reason = ReasonAuthRejected
			}
			m.log.Error().Err(err).Str("reason", reason).Msg("giving up on realtime connection")
			m.transition(s, StateGaveUp, reason, err)
			return
		}

		reason, retry := m.readLoop(s, conn, open)
		s.dropConn(conn)
		if s.ctx.Err() != nil {
			return
		}

		next := StateReconnecting
		if !retry {
			next = StateDisconnected
		}
		m.log.Warn().Str("reason", reason).Bool("reconnect", retry).Msg("realtime connection lost")
		m.transition(s, next, reason, nil)
		m.emit(s, ConnectionStateChangedEvent{
			Trigger: EventDisconnect,
			State:   next,
			Reason:  reason,
		})
		if !retry {
			return
		}

		if err := sleepCtx(s.ctx, m.opts.ReconnectDelay); err != nil {
			return
		}
	}
}

// connectWithRetry dials until the namespace connect succeeds, the
// attempt ceiling is reached, or the server rejects the token.
func (m *Manager) connectWithRetry(s *session) (*websocket.Conn, openPayload, error) {
	var (
		conn *websocket.Conn
		open openPayload
	)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(m.opts.ReconnectDelay),
			uint64(m.opts.MaxReconnectAttempts-1),
		),
		s.ctx,
	)

	op := func() error {
		c, o, err := m.dial(s)
		if err != nil {
			if s.ctx.Err() != nil {
				return backoff.Permanent(s.ctx.Err())
			}
			attempt := m.recordFailure(s)
			m.log.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_attempts", m.opts.MaxReconnectAttempts).
				Msg("realtime connection attempt failed")
			m.emit(s, ConnectionStateChangedEvent{
				Trigger: EventConnectError,
				State:   m.State(),
				Err:     err,
				Attempt: attempt,
			})
			if IsConnectRejected(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		conn, open = c, o
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		return nil, openPayload{}, err
	}

	m.markConnected(s)
	return conn, open, nil
}

func (m *Manager) dial(s *session) (*websocket.Conn, openPayload, error) {
	endpoint, err := endpointURL(m.opts.URL)
	if err != nil {
		return nil, openPayload{}, err
	}

	conn, _, err := m.dialer.DialContext(s.ctx, endpoint, nil)
	if err != nil {
		return nil, openPayload{}, fmt.Errorf("dialing %s: %w", endpoint, err)
	}
	if err := s.attach(conn); err != nil {
		conn.Close()
		return nil, openPayload{}, err
	}

	open, err := m.handshake(s, conn)
	if err != nil {
		s.dropConn(conn)
		return nil, openPayload{}, err
	}
	return conn, open, nil
}

// handshake reads the Engine.IO open packet and performs the Socket.IO
// namespace connect with the bearer token as auth.
func (m *Manager) handshake(s *session, conn *websocket.Conn) (openPayload, error) {
	_ = conn.SetReadDeadline(time.Now().Add(m.opts.HandshakeTimeout))

	p, err := readPacket(conn)
	if err != nil {
		return openPayload{}, fmt.Errorf("reading open packet: %w", err)
	}
	if p.engine != engineOpen {
		return openPayload{}, fmt.Errorf("expected open packet, got %q", p.engine)
	}

	var open openPayload
	if err := json.Unmarshal(p.data, &open); err != nil {
		return openPayload{}, fmt.Errorf("decoding open packet: %w", err)
	}

	frame, err := encodeConnect(map[string]string{"token": "Bearer " + s.token})
	if err != nil {
		return openPayload{}, err
	}
	if err := s.write(frame); err != nil {
		return openPayload{}, fmt.Errorf("sending connect: %w", err)
	}

	for {
		p, err := readPacket(conn)
		if err != nil {
			return openPayload{}, fmt.Errorf("awaiting connect ack: %w", err)
		}

		switch {
		case p.engine == enginePing:
			if err := s.write(pongFrame); err != nil {
				return openPayload{}, fmt.Errorf("sending pong: %w", err)
			}
		case p.engine == engineClose:
			return openPayload{}, errors.New("server closed the transport during handshake")
		case p.engine == engineMessage && p.socket == socketConnect:
			s.setConnected()
			m.log.Debug().Str("sid", open.SID).Msg("realtime handshake complete")
			return open, nil
		case p.engine == engineMessage && p.socket == socketConnectError:
			var body connectErrorPayload
			_ = json.Unmarshal(p.data, &body)
			return openPayload{}, &ConnectRejectedError{Message: body.Message}
		}
	}
}

// readLoop processes frames until the transport ends. It returns the
// disconnect reason and whether automatic reconnection applies.
func (m *Manager) readLoop(s *session, conn *websocket.Conn, open openPayload) (string, bool) {
	timeout := open.readTimeout()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				return ReasonClientDisconnect, false
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return ReasonPingTimeout, true
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return ReasonTransportClose, true
			}
			m.log.Debug().Err(err).Msg("realtime read failed")
			return ReasonTransportError, true
		}

		p, err := decodePacket(raw)
		if err != nil {
			m.log.Warn().Err(err).Msg("malformed realtime packet")
			m.emit(s, ConnectionStateChangedEvent{
				Trigger: EventError,
				State:   StateConnected,
				Err:     err,
			})
			continue
		}

		switch p.engine {
		case enginePing:
			if err := s.write(pongFrame); err != nil {
				m.log.Warn().Err(err).Msg("sending pong")
			}
		case engineClose:
			return ReasonTransportClose, true
		case engineMessage:
			switch p.socket {
			case socketDisconnect:
				return ReasonServerDisconnect, false
			case socketEvent:
				m.handleEvent(s, p.data)
			case socketConnectError:
				var body connectErrorPayload
				_ = json.Unmarshal(p.data, &body)
				m.emit(s, ConnectionStateChangedEvent{
					Trigger: EventError,
					State:   StateConnected,
					Err:     &ConnectRejectedError{Message: body.Message},
				})
			}
		}
	}
}

// handleEvent decodes a domain event and dispatches it.
func (m *Manager) handleEvent(s *session, data []byte) {
	name, args, err := eventName(data)
	if err != nil {
		m.log.Warn().Err(err).Msg("undecodable realtime event")
		return
	}

	var first json.RawMessage
	if len(args) > 0 {
		first = args[0]
	}

	switch name {
	case EventNotification, EventAdminNotification:
		var n model.Notification
		if err := json.Unmarshal(first, &n); err != nil {
			m.log.Warn().Err(err).Str("event", name).Msg("undecodable notification payload")
			return
		}
		m.log.Debug().Int("notification_id", n.ID).Str("event", name).Msg("notification received")
		m.emit(s, NotificationEvent{
			Notification: n,
			Admin:        name == EventAdminNotification,
		})
	case EventNotificationRead:
		var body struct {
			NotificationID int `json:"notificationId"`
		}
		if err := json.Unmarshal(first, &body); err != nil {
			m.log.Warn().Err(err).Str("event", name).Msg("undecodable read payload")
			return
		}
		m.emit(s, NotificationReadEvent{ID: body.NotificationID})
	case EventAllNotificationsRead:
		m.emit(s, AllNotificationsReadEvent{})
	default:
		m.log.Debug().Str("event", name).Msg("ignoring unknown realtime event")
	}
}

func (m *Manager) recordFailure(s *session) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess != s {
		return 0
	}
	m.attempts++
	return m.attempts
}

func (m *Manager) markConnected(s *session) {
	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	m.state = StateConnected
	m.mu.Unlock()

	m.log.Info().Str("session", s.id).Msg("realtime connection established")
	m.dispatch(ConnectionStateChangedEvent{Trigger: EventStateChanged, State: StateConnected})
	m.dispatch(ConnectionStateChangedEvent{Trigger: EventConnect, State: StateConnected})
}

// transition moves the current session to state and announces it.
func (m *Manager) transition(s *session, state State, reason string, err error) {
	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		return
	}
	m.state = state
	attempts := m.attempts
	m.mu.Unlock()

	m.dispatch(ConnectionStateChangedEvent{
		Trigger: EventStateChanged,
		State:   state,
		Reason:  reason,
		Err:     err,
		Attempt: attempts,
	})
}

// emit dispatches ev unless s has been superseded.
func (m *Manager) emit(s *session, ev Event) {
	m.mu.Lock()
	current := m.sess == s
	m.mu.Unlock()

	if !current {
		return
	}
	m.dispatch(ev)
}

func (m *Manager) dispatch(ev Event) {
	m.bus.Dispatch(ev)
}

func readPacket(conn *websocket.Conn) (packet, error) {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return packet{}, err
	}
	return decodePacket(raw)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
