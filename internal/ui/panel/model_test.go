package panel

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/access-console/internal/keys"
	"github.com/nhle/access-console/internal/model"
	"github.com/nhle/access-console/internal/notification"
	"github.com/nhle/access-console/internal/realtime"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestPanel(t *testing.T, list []model.Notification, state realtime.State) Model {
	t.Helper()

	m := New(keys.DefaultKeyMap(), 80, 24)
	m.now = func() time.Time { return testNow }
	m.SetSnapshot(notification.Snapshot{
		Notifications: list,
		UnreadCount:   model.CountUnread(list),
		Connection:    state,
	})
	return m
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func resultOf(cmd tea.Cmd) tea.Msg {
	if cmd == nil {
		return nil
	}
	return cmd()
}

func sampleList() []model.Notification {
	return []model.Notification{
		{ID: 2, Type: model.NotificationTypeAccessDenied, AccessLog: &model.AccessLog{CardID: "C42"}, CreatedAt: "2024-05-01T11:55:00Z"},
		{ID: 1, Message: "Door controller offline", Read: true, CreatedAt: "garbage"},
	}
}

func TestPanel_InitRequestsRefresh(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 24)
	if _, ok := resultOf(m.Init()).(RefreshRequestMsg); !ok {
		t.Error("Init should request a refresh")
	}
}

func TestPanel_HeaderShowsUnread(t *testing.T) {
	m := newTestPanel(t, sampleList(), realtime.StateConnected)

	if got := m.Header(); got != "Notifications (1 unread)" {
		t.Errorf("header = %q", got)
	}
	if !strings.Contains(m.View(), "(1 unread)") {
		t.Error("view does not show the unread count")
	}
}

func TestPanel_EnterMarksOnlyUnread(t *testing.T) {
	m := newTestPanel(t, sampleList(), realtime.StateConnected)

	msg := resultOf(func() tea.Cmd {
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		return cmd
	}())
	req, ok := msg.(MarkReadRequestMsg)
	if !ok || req.ID != 2 {
		t.Fatalf("msg = %#v, want MarkReadRequestMsg{2}", msg)
	}

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	if n, _ := m.Selected(); n.ID != 1 {
		t.Fatalf("selected = %d, want 1", n.ID)
	}
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Errorf("enter on a read notification returned %#v", resultOf(cmd))
	}
}

func TestPanel_ActionKeys(t *testing.T) {
	m := newTestPanel(t, sampleList(), realtime.StateConnected)

	tests := []struct {
		key  tea.KeyMsg
		want tea.Msg
	}{
		{runes("a"), MarkAllRequestMsg{}},
		{runes("s"), SyncRequestMsg{}},
		{runes("r"), RefreshRequestMsg{}},
		{runes("R"), ReconnectRequestMsg{}},
	}
	for _, tt := range tests {
		_, cmd := m.Update(tt.key)
		if got := resultOf(cmd); got != tt.want {
			t.Errorf("key %q -> %#v, want %#v", tt.key.String(), got, tt.want)
		}
	}

	_, cmd := m.Update(runes("o"))
	if open, ok := resultOf(cmd).(OpenDetailMsg); !ok || open.Notification.ID != 2 {
		t.Errorf("o -> %#v", resultOf(cmd))
	}
}

func TestPanel_MarkAllWithNothingUnread(t *testing.T) {
	m := newTestPanel(t, []model.Notification{{ID: 1, Read: true}}, realtime.StateConnected)

	if _, cmd := m.Update(runes("a")); cmd != nil {
		t.Errorf("a with nothing unread returned %#v", resultOf(cmd))
	}
}

func TestPanel_StaleBanner(t *testing.T) {
	m := newTestPanel(t, sampleList(), realtime.StateGaveUp)
	if !strings.Contains(m.View(), "notifications may be out of date") {
		t.Error("gave-up state should show the stale banner")
	}

	m = newTestPanel(t, sampleList(), realtime.StateReconnecting)
	if strings.Contains(m.View(), "out of date") {
		t.Error("banner shown while still reconnecting")
	}
}

func TestPanel_RendersTitlesAndFallbackTime(t *testing.T) {
	m := newTestPanel(t, sampleList(), realtime.StateConnected)
	view := m.View()

	for _, want := range []string{
		"Access denied for card C42",
		"Access denied - Card C42",
		"5 minutes ago",
		"Door controller offline",
		FallbackTime,
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestPanel_SnapshotKeepsCursor(t *testing.T) {
	m := newTestPanel(t, sampleList(), realtime.StateConnected)
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})

	pushed := append([]model.Notification{{ID: 3, Message: "new"}}, sampleList()...)
	m, _ = m.Update(SnapshotMsg{Snapshot: notification.Snapshot{
		Notifications: pushed,
		UnreadCount:   model.CountUnread(pushed),
	}})

	if n, _ := m.Selected(); n.ID != 1 {
		t.Errorf("selected = %d after push, want 1", n.ID)
	}
	if m.UnreadCount() != 2 {
		t.Errorf("unread = %d, want 2", m.UnreadCount())
	}
}

func TestPanel_EmptyState(t *testing.T) {
	m := newTestPanel(t, nil, realtime.StateConnected)

	if _, ok := m.Selected(); ok {
		t.Error("empty panel has a selection")
	}
	if !strings.Contains(m.View(), "No notifications") {
		t.Error("empty state not rendered")
	}
}

func TestRelativeTime(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", FallbackTime},
		{"not a date", FallbackTime},
		{"2024-05-01T11:59:40Z", FallbackTime},
		{"2024-05-01T13:00:00Z", FallbackTime},
		{"2024-05-01T11:00:00Z", "1 hour ago"},
		{"2024-05-01 09:00:00", "3 hours ago"},
		{"2024-04-28T12:00:00.000Z", "3 days ago"},
	}
	for _, tt := range tests {
		if got := RelativeTime(tt.raw, testNow); got != tt.want {
			t.Errorf("RelativeTime(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
