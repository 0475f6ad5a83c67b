package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/access-console/internal/model"
	"github.com/nhle/access-console/tests/testutil"
)

func newTestManager(t *testing.T, url string) *Manager {
	t.Helper()

	m := NewManager(Options{
		URL:                  url,
		MaxReconnectAttempts: 3,
		ReconnectDelay:       10 * time.Millisecond,
		ForceReconnectDelay:  10 * time.Millisecond,
		HandshakeTimeout:     time.Second,
		Logger:               zerolog.Nop(),
	})
	t.Cleanup(m.Disconnect)
	return m
}

// recorder collects events delivered to a listener.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// ── Connection lifecycle ────────────────────────────────────────────────────

func TestManager_ConnectAndReceiveNotification(t *testing.T) {
	srv := testutil.NewSocketServer(t, "tok")
	m := newTestManager(t, srv.URL)

	var rec recorder
	m.AddListener(EventNotification, rec.listen)

	m.Connect("tok")
	testutil.WaitFor(t, "connection", m.IsConnected)

	if auths := srv.Auths(); len(auths) != 1 || auths[0] != "Bearer tok" {
		t.Fatalf("auths = %v, want [Bearer tok]", auths)
	}

	err := srv.Emit("notification", map[string]interface{}{
		"id":        12,
		"message":   "Access denied",
		"type":      "access_denied",
		"read":      false,
		"createdAt": "2024-05-01T10:00:00Z",
		"accessLog": map[string]interface{}{"cardId": "C42"},
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	testutil.WaitFor(t, "notification event", func() bool { return rec.count() == 1 })

	ev, ok := rec.all()[0].(NotificationEvent)
	if !ok {
		t.Fatalf("event type = %T, want NotificationEvent", rec.all()[0])
	}
	if ev.Admin {
		t.Error("expected Admin=false for notification")
	}
	if ev.Notification.ID != 12 || ev.Notification.CardID() != "C42" {
		t.Errorf("notification = %+v", ev.Notification)
	}
	if ev.Notification.Type != model.NotificationTypeAccessDenied {
		t.Errorf("type = %q", ev.Notification.Type)
	}
}

func TestManager_ReadEventsAreTyped(t *testing.T) {
	srv := testutil.NewSocketServer(t, "")
	m := newTestManager(t, srv.URL)

	var admin, read, all recorder
	m.AddListener(EventAdminNotification, admin.listen)
	m.AddListener(EventNotificationRead, read.listen)
	m.AddListener(EventAllNotificationsRead, all.listen)

	m.Connect("tok")
	testutil.WaitFor(t, "connection", m.IsConnected)

	_ = srv.Emit("admin-notification", map[string]interface{}{"id": 3, "message": "m", "type": "info"})
	_ = srv.Emit("notification_read", map[string]int{"notificationId": 3})
	_ = srv.Emit("all_notifications_read", nil)

	testutil.WaitFor(t, "all events", func() bool {
		return admin.count() == 1 && read.count() == 1 && all.count() == 1
	})

	if ev := admin.all()[0].(NotificationEvent); !ev.Admin || ev.Notification.ID != 3 {
		t.Errorf("admin event = %+v", ev)
	}
	if ev := read.all()[0].(NotificationReadEvent); ev.ID != 3 {
		t.Errorf("read event id = %d, want 3", ev.ID)
	}
	if _, ok := all.all()[0].(AllNotificationsReadEvent); !ok {
		t.Errorf("all event type = %T", all.all()[0])
	}
}

func TestManager_ConnectSameTokenIsNoop(t *testing.T) {
	srv := testutil.NewSocketServer(t, "")
	m := newTestManager(t, srv.URL)

	m.Connect("tok")
	testutil.WaitFor(t, "connection", m.IsConnected)
	m.Connect("tok")
	m.Connect("tok")

	time.Sleep(50 * time.Millisecond)
	if got := srv.Attempts(); got != 1 {
		t.Errorf("transport attempts = %d, want 1", got)
	}
}

func TestManager_ConnectEmptyTokenIsNoop(t *testing.T) {
	srv := testutil.NewSocketServer(t, "")
	m := newTestManager(t, srv.URL)

	m.Connect("")

	time.Sleep(30 * time.Millisecond)
	if m.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", m.State())
	}
	if srv.Attempts() != 0 {
		t.Errorf("transport attempts = %d, want 0", srv.Attempts())
	}
}

func TestManager_TokenChangeLeavesOneConnection(t *testing.T) {
	srv := testutil.NewSocketServer(t, "")
	m := newTestManager(t, srv.URL)

	m.Connect("token-a")
	testutil.WaitFor(t, "first connection", m.IsConnected)

	m.Connect("token-b")
	testutil.WaitFor(t, "second connection", func() bool {
		return m.IsConnected() && srv.Connects() == 2
	})
	testutil.WaitFor(t, "old connection closed", func() bool {
		return srv.ActiveConnections() == 1
	})

	auths := srv.Auths()
	if auths[len(auths)-1] != "Bearer token-b" {
		t.Errorf("last auth = %q, want Bearer token-b", auths[len(auths)-1])
	}
}

func TestManager_DisconnectIsIdempotent(t *testing.T) {
	srv := testutil.NewSocketServer(t, "")
	m := newTestManager(t, srv.URL)

	var disconnects recorder
	m.AddListener(EventDisconnect, disconnects.listen)

	m.Connect("tok")
	testutil.WaitFor(t, "connection", m.IsConnected)

	m.Disconnect()
	m.Disconnect()

	if m.IsConnected() {
		t.Error("expected not connected after Disconnect")
	}
	if m.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", m.State())
	}
	testutil.WaitFor(t, "server side close", func() bool { return srv.ActiveConnections() == 0 })

	if got := disconnects.count(); got != 1 {
		t.Errorf("disconnect events = %d, want 1", got)
	}
	ev := disconnects.all()[0].(ConnectionStateChangedEvent)
	if ev.Reason != ReasonClientDisconnect {
		t.Errorf("reason = %q, want %q", ev.Reason, ReasonClientDisconnect)
	}
}

func TestManager_DisconnectWithoutConnectionIsNoop(t *testing.T) {
	m := newTestManager(t, "http://127.0.0.1:1")

	var states recorder
	m.AddListener(EventStateChanged, states.listen)

	m.Disconnect()
	m.Disconnect()

	if states.count() != 0 {
		t.Errorf("state events = %d, want 0", states.count())
	}
}

// ── Reconnect policy ────────────────────────────────────────────────────────

func TestManager_GivesUpAfterCeiling(t *testing.T) {
	srv := testutil.NewSocketServer(t, "")
	srv.SetRefuse(true)
	m := newTestManager(t, srv.URL)

	var errs recorder
	m.AddListener(EventConnectError, errs.listen)

	m.Connect("tok")
	testutil.WaitFor(t, "gave up", func() bool { return m.State() == StateGaveUp })

	if got := srv.Attempts(); got != 3 {
		t.Errorf("transport attempts = %d, want 3", got)
	}
	events := errs.all()
	if len(events) != 3 {
		t.Fatalf("connect_error events = %d, want 3", len(events))
	}
	for i, ev := range events {
		if got := ev.(ConnectionStateChangedEvent).Attempt; got != i+1 {
			t.Errorf("event %d attempt = %d, want %d", i, got, i+1)
		}
	}

	time.Sleep(50 * time.Millisecond)
	if got := srv.Attempts(); got != 3 {
		t.Errorf("attempts after giving up = %d, want 3", got)
	}
}

func TestManager_ConnectLeavesGaveUp(t *testing.T) {
	srv := testutil.NewSocketServer(t, "")
	srv.SetRefuse(true)
	m := newTestManager(t, srv.URL)

	m.Connect("tok")
	testutil.WaitFor(t, "gave up", func() bool { return m.State() == StateGaveUp })

	srv.SetRefuse(false)
	m.Connect("tok")
	testutil.WaitFor(t, "connection", m.IsConnected)
}

func TestManager_AuthRejectionIsPermanent(t *testing.T) {
	srv := testutil.NewSocketServer(t, "good")
	m := newTestManager(t, srv.URL)

	var states recorder
	m.AddListener(EventStateChanged, states.listen)

	m.Connect("bad")
	testutil.WaitFor(t, "gave up event", func() bool {
		events := states.all()
		if len(events) == 0 {
			return false
		}
		return events[len(events)-1].(ConnectionStateChangedEvent).State == StateGaveUp
	})

	if got := srv.Attempts(); got != 1 {
		t.Errorf("transport attempts = %d, want 1", got)
	}
	events := states.all()
	last := events[len(events)-1].(ConnectionStateChangedEvent)
	if last.Reason != ReasonAuthRejected {
		t.Errorf("reason = %q, want %q", last.Reason, ReasonAuthRejected)
	}
	if !IsConnectRejected(last.Err) {
		t.Errorf("err = %v, want ConnectRejectedError", last.Err)
	}
}

func TestManager_ServerDisconnectDoesNotReconnect(t *testing.T) {
	srv := testutil.NewSocketServer(t, "")
	m := newTestManager(t, srv.URL)

	var disconnects recorder
	m.AddListener(EventDisconnect, disconnects.listen)

	m.Connect("tok")
	testutil.WaitFor(t, "connection", m.IsConnected)

	srv.Kick()
	testutil.WaitFor(t, "disconnect event", func() bool { return disconnects.count() == 1 })
	if m.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", m.State())
	}

	time.Sleep(50 * time.Millisecond)
	if got := srv.Attempts(); got != 1 {
		t.Errorf("transport attempts = %d, want 1", got)
	}
	if ev := disconnects.all()[0].(ConnectionStateChangedEvent); ev.Reason != ReasonServerDisconnect {
		t.Errorf("reason = %q, want %q", ev.Reason, ReasonServerDisconnect)
	}
}

func TestManager_TransportLossReconnects(t *testing.T) {
	srv := testutil.NewSocketServer(t, "")
	m := newTestManager(t, srv.URL)

	var connects recorder
	m.AddListener(EventConnect, connects.listen)

	m.Connect("tok")
	testutil.WaitFor(t, "connection", m.IsConnected)

	srv.DropAll()
	testutil.WaitFor(t, "reconnection", func() bool {
		return connects.count() == 2 && m.IsConnected()
	})

	if got := srv.Connects(); got != 2 {
		t.Errorf("namespace connects = %d, want 2", got)
	}
}

func TestManager_RepliesToPing(t *testing.T) {
	srv := testutil.NewSocketServer(t, "")
	m := newTestManager(t, srv.URL)

	m.Connect("tok")
	testutil.WaitFor(t, "connection", m.IsConnected)

	srv.Ping()
	testutil.WaitFor(t, "pong", func() bool { return srv.Pongs() == 1 })
}

func TestManager_ForceReconnect(t *testing.T) {
	srv := testutil.NewSocketServer(t, "")
	m := newTestManager(t, srv.URL)

	m.Connect("tok")
	testutil.WaitFor(t, "connection", m.IsConnected)

	if err := m.ForceReconnect(context.Background(), "tok"); err != nil {
		t.Fatalf("ForceReconnect: %v", err)
	}
	testutil.WaitFor(t, "reconnection", func() bool {
		return m.IsConnected() && srv.Connects() == 2
	})
}

func TestManager_ForceReconnectCancelled(t *testing.T) {
	srv := testutil.NewSocketServer(t, "")
	m := NewManager(Options{
		URL:                 srv.URL,
		ForceReconnectDelay: time.Minute,
		Logger:              zerolog.Nop(),
	})
	t.Cleanup(m.Disconnect)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.ForceReconnect(ctx, "tok"); err == nil {
		t.Fatal("expected context error")
	}
	if m.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", m.State())
	}
}

// ── Listeners ───────────────────────────────────────────────────────────────

func TestManager_RemoveListener(t *testing.T) {
	srv := testutil.NewSocketServer(t, "")
	m := newTestManager(t, srv.URL)

	var first, second recorder
	sub := m.AddListener(EventAllNotificationsRead, first.listen)
	m.AddListener(EventAllNotificationsRead, second.listen)

	m.RemoveListener(sub)
	m.RemoveListener(sub)
	m.RemoveListener(Subscription{})

	m.Connect("tok")
	testutil.WaitFor(t, "connection", m.IsConnected)
	_ = srv.Emit("all_notifications_read", nil)

	testutil.WaitFor(t, "second listener", func() bool { return second.count() == 1 })
	if first.count() != 0 {
		t.Errorf("removed listener fired %d times", first.count())
	}
}

func TestManager_ListenerOrderAndPanicRecovery(t *testing.T) {
	srv := testutil.NewSocketServer(t, "")
	m := newTestManager(t, srv.URL)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) Listener {
		return func(Event) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	m.AddListener(EventNotificationRead, record("a"))
	m.AddListener(EventNotificationRead, func(Event) { panic("listener bug") })
	m.AddListener(EventNotificationRead, record("c"))

	m.Connect("tok")
	testutil.WaitFor(t, "connection", m.IsConnected)
	_ = srv.Emit("notification_read", map[string]int{"notificationId": 1})

	testutil.WaitFor(t, "listeners", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "a" || order[1] != "c" {
		t.Errorf("order = %v, want [a c]", order)
	}
	if !m.IsConnected() {
		t.Error("a panicking listener must not drop the connection")
	}
}

func TestManager_DisconnectFromListener(t *testing.T) {
	srv := testutil.NewSocketServer(t, "")
	m := newTestManager(t, srv.URL)

	m.AddListener(EventAllNotificationsRead, func(Event) { m.Disconnect() })

	m.Connect("tok")
	testutil.WaitFor(t, "connection", m.IsConnected)
	_ = srv.Emit("all_notifications_read", nil)

	testutil.WaitFor(t, "disconnect", func() bool { return m.State() == StateDisconnected })
}

// ── Outbound events ─────────────────────────────────────────────────────────

func TestManager_OutboundMarkEvents(t *testing.T) {
	srv := testutil.NewSocketServer(t, "")
	m := newTestManager(t, srv.URL)

	// Not connected: dropped.
	m.MarkAsRead(1)

	m.Connect("tok")
	testutil.WaitFor(t, "connection", m.IsConnected)

	m.MarkAsRead(7)
	m.MarkAllAsRead()

	testutil.WaitFor(t, "outbound events", func() bool { return len(srv.Received()) == 2 })

	got := srv.Received()
	if got[0] != `["markAsRead",{"notificationId":7}]` {
		t.Errorf("first event = %s", got[0])
	}
	if got[1] != `["markAllAsRead"]` {
		t.Errorf("second event = %s", got[1])
	}
}
