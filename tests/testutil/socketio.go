package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// SocketServer is an in-process Socket.IO v4 server speaking the
// websocket transport only. It accepts the namespace connect when the
// auth token matches Token (any token when Token is empty).
type SocketServer struct {
	*httptest.Server

	// Token is the bearer token accepted by the server, without the
	// "Bearer " prefix.
	Token string

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sockets  map[*fakeSocket]bool
	attempts int
	connects int
	pongs    int
	refuse   bool
	reject   bool
	auths    []string
	received []string
	nextSID  int
}

type fakeSocket struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (f *fakeSocket) send(frame string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.conn.SetWriteDeadline(time.Now().Add(time.Second))
	return f.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// NewSocketServer starts a SocketServer that is shut down when the test
// completes.
func NewSocketServer(t *testing.T, token string) *SocketServer {
	t.Helper()

	s := &SocketServer{
		Token:   token,
		sockets: make(map[*fakeSocket]bool),
	}
	s.Server = httptest.NewServer(s)
	t.Cleanup(func() {
		s.DropAll()
		s.Server.Close()
	})
	return s
}

// ServeHTTP handles /socket.io/ upgrade requests.
func (s *SocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/socket.io/") {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	s.attempts++
	refuse := s.refuse
	s.nextSID++
	sid := fmt.Sprintf("sid-%d", s.nextSID)
	s.mu.Unlock()

	if refuse {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if r.URL.Query().Get("EIO") != "4" || r.URL.Query().Get("transport") != "websocket" {
		http.Error(w, "bad transport", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sock := &fakeSocket{conn: conn}
	defer func() {
		s.remove(sock)
		conn.Close()
	}()

	open := fmt.Sprintf(
		`0{"sid":%q,"upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`,
		sid,
	)
	if sock.send(open) != nil {
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg := string(raw)

		switch {
		case msg == "3":
			s.mu.Lock()
			s.pongs++
			s.mu.Unlock()
		case strings.HasPrefix(msg, "40"):
			var auth struct {
				Token string `json:"token"`
			}
			_ = json.Unmarshal([]byte(msg[2:]), &auth)

			s.mu.Lock()
			s.auths = append(s.auths, auth.Token)
			accepted := !s.reject && (s.Token == "" || auth.Token == "Bearer "+s.Token)
			if accepted {
				s.sockets[sock] = true
				s.connects++
			}
			s.mu.Unlock()

			if !accepted {
				_ = sock.send(`44{"message":"Authentication error"}`)
				continue
			}
			_ = sock.send(fmt.Sprintf(`40{"sid":%q}`, sid))
		case msg == "41":
			return
		case strings.HasPrefix(msg, "42"):
			s.mu.Lock()
			s.received = append(s.received, msg[2:])
			s.mu.Unlock()
		}
	}
}

func (s *SocketServer) remove(sock *fakeSocket) {
	s.mu.Lock()
	delete(s.sockets, sock)
	s.mu.Unlock()
}

func (s *SocketServer) connected() []*fakeSocket {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*fakeSocket, 0, len(s.sockets))
	for sock := range s.sockets {
		out = append(out, sock)
	}
	return out
}

// Emit sends an event to every connected client. A nil payload sends the
// bare event name.
func (s *SocketServer) Emit(event string, payload interface{}) error {
	args := []interface{}{event}
	if payload != nil {
		args = append(args, payload)
	}
	body, err := json.Marshal(args)
	if err != nil {
		return err
	}
	for _, sock := range s.connected() {
		if err := sock.send("42" + string(body)); err != nil {
			return err
		}
	}
	return nil
}

// SendRaw writes an arbitrary frame to every connected client.
func (s *SocketServer) SendRaw(frame string) {
	for _, sock := range s.connected() {
		_ = sock.send(frame)
	}
}

// Ping sends an Engine.IO ping to every connected client.
func (s *SocketServer) Ping() {
	s.SendRaw("2")
}

// Kick performs a server-side namespace disconnect on every client.
func (s *SocketServer) Kick() {
	s.SendRaw("41")
}

// DropAll closes every client transport without a close handshake.
func (s *SocketServer) DropAll() {
	s.mu.Lock()
	all := make([]*fakeSocket, 0, len(s.sockets))
	for sock := range s.sockets {
		all = append(all, sock)
	}
	s.sockets = make(map[*fakeSocket]bool)
	s.mu.Unlock()

	for _, sock := range all {
		sock.conn.Close()
	}
}

// SetRefuse makes the server answer upgrade requests with 503.
func (s *SocketServer) SetRefuse(refuse bool) {
	s.mu.Lock()
	s.refuse = refuse
	s.mu.Unlock()
}

// SetReject makes the server refuse every namespace connect.
func (s *SocketServer) SetReject(reject bool) {
	s.mu.Lock()
	s.reject = reject
	s.mu.Unlock()
}

// ActiveConnections is the number of clients past the namespace connect.
func (s *SocketServer) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sockets)
}

// Attempts is the number of transport requests received.
func (s *SocketServer) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Connects is the number of accepted namespace connects.
func (s *SocketServer) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Pongs is the number of pong packets received.
func (s *SocketServer) Pongs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pongs
}

// Auths returns the auth tokens presented, in order.
func (s *SocketServer) Auths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auths...)
}

// Received returns the JSON argument arrays of client events, in order.
func (s *SocketServer) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// WaitFor polls cond until it holds or a few seconds pass.
func WaitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
