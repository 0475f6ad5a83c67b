package panel

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/access-console/internal/keys"
	"github.com/nhle/access-console/internal/model"
	"github.com/nhle/access-console/internal/notification"
	"github.com/nhle/access-console/internal/realtime"
	"github.com/nhle/access-console/internal/theme"
)

// StaleBanner is shown while the realtime connection has given up.
const StaleBanner = "Live updates stopped: notifications may be out of date. Press R to reconnect."

// Requests the panel sends to its parent, which owns the store.
type (
	// RefreshRequestMsg asks for a fetch. Sent when the panel opens and on r.
	RefreshRequestMsg struct{}

	// MarkReadRequestMsg asks to mark one unread notification read.
	MarkReadRequestMsg struct{ ID int }

	// MarkAllRequestMsg asks to mark every notification read.
	MarkAllRequestMsg struct{}

	// SyncRequestMsg asks for an access-denied backfill for the current user.
	SyncRequestMsg struct{}

	// ReconnectRequestMsg asks for a forced realtime reconnect.
	ReconnectRequestMsg struct{}

	// OpenDetailMsg asks to show the selected notification in full.
	OpenDetailMsg struct{ Notification model.Notification }
)

// SnapshotMsg delivers a store snapshot to the panel.
type SnapshotMsg struct {
	Snapshot notification.Snapshot
}

// Model is the notification list view.
type Model struct {
	list     list.Model
	keys     *keys.KeyMap
	snapshot notification.Snapshot
	width    int
	height   int
	now      func() time.Time
}

// New creates a new panel model.
func New(k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height-1)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)

	return Model{
		list:   l,
		keys:   k,
		width:  width,
		height: height,
		now:    time.Now,
	}
}

// Init requests a fetch; opening the panel always refreshes.
func (m Model) Init() tea.Cmd {
	return func() tea.Msg { return RefreshRequestMsg{} }
}

// Update handles messages for the panel.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case SnapshotMsg:
		return m, m.SetSnapshot(msg.Snapshot)

	case tea.KeyMsg:
		return m.handleKeys(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) handleKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.MarkRead):
		n, ok := m.Selected()
		if !ok || n.Read {
			return m, nil
		}
		return m, send(MarkReadRequestMsg{ID: n.ID})

	case key.Matches(msg, m.keys.Open):
		n, ok := m.Selected()
		if !ok {
			return m, nil
		}
		return m, send(OpenDetailMsg{Notification: n})

	case key.Matches(msg, m.keys.MarkAll):
		if m.snapshot.UnreadCount == 0 {
			return m, nil
		}
		return m, send(MarkAllRequestMsg{})

	case key.Matches(msg, m.keys.Sync):
		return m, send(SyncRequestMsg{})

	case key.Matches(msg, m.keys.Refresh):
		return m, send(RefreshRequestMsg{})

	case key.Matches(msg, m.keys.Reconnect):
		return m, send(ReconnectRequestMsg{})
	}

	// Delegate to the list for navigation keys.
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func send(msg tea.Msg) tea.Cmd {
	return func() tea.Msg { return msg }
}

// SetSnapshot replaces the rendered list, keeping the cursor on the same
// notification when it is still present.
func (m *Model) SetSnapshot(s notification.Snapshot) tea.Cmd {
	selectedID := -1
	if n, ok := m.Selected(); ok {
		selectedID = n.ID
	}

	m.snapshot = s
	now := m.now()
	items := make([]list.Item, len(s.Notifications))
	cursor := 0
	for i, n := range s.Notifications {
		items[i] = NotificationItem{Notification: n, now: now}
		if n.ID == selectedID {
			cursor = i
		}
	}

	cmd := m.list.SetItems(items)
	m.list.Select(cursor)
	return cmd
}

// Selected returns the notification under the cursor.
func (m Model) Selected() (model.Notification, bool) {
	it, ok := m.list.SelectedItem().(NotificationItem)
	if !ok {
		return model.Notification{}, false
	}
	return it.Notification, true
}

// UnreadCount returns the unread count of the last snapshot.
func (m Model) UnreadCount() int {
	return m.snapshot.UnreadCount
}

// Stale reports whether the connection gave up reconnecting.
func (m Model) Stale() bool {
	return m.snapshot.Connection == realtime.StateGaveUp
}

// Header returns the panel title with the unread count.
func (m Model) Header() string {
	return fmt.Sprintf("Notifications (%d unread)", m.snapshot.UnreadCount)
}

// View renders the panel.
func (m Model) View() string {
	sections := []string{theme.HeaderStyle.Render(m.Header())}

	if m.Stale() {
		sections = append(sections, theme.BannerStyle.Width(m.width).Render(StaleBanner))
	}

	if len(m.snapshot.Notifications) == 0 {
		sections = append(sections, m.renderEmptyState())
	} else {
		sections = append(sections, m.list.View())
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderEmptyState shows guidance text when there are no notifications.
func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height - 2).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	return style.Render(
		"No notifications.\n\n" +
			"Press s to sync missed access denials.",
	)
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	listHeight := height - 1
	if m.Stale() {
		listHeight--
	}
	if listHeight < 0 {
		listHeight = 0
	}
	m.list.SetSize(width, listHeight)
}
