package panel

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/nhle/access-console/internal/model"
	"github.com/nhle/access-console/internal/theme"
)

// FallbackTime is shown when a notification has no usable timestamp.
const FallbackTime = "a few seconds ago"

// NotificationItem wraps a model.Notification for a bubbles/list.
type NotificationItem struct {
	Notification model.Notification
	now          time.Time
}

// FilterValue returns the string used for fuzzy filtering.
func (i NotificationItem) FilterValue() string { return i.Notification.Title() }

// Title returns the headline.
func (i NotificationItem) Title() string { return i.Notification.Title() }

// Description returns the subtitle and relative time.
func (i NotificationItem) Description() string {
	parts := []string{RelativeTime(i.Notification.CreatedAt, i.now)}
	if sub := i.Notification.Subtitle(); sub != "" {
		parts = append([]string{sub}, parts...)
	}
	return strings.Join(parts, " | ")
}

// ItemDelegate renders a notification on two lines: the title with an
// unread mark, then the subtitle and the time.
type ItemDelegate struct{}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 2 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single notification.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(NotificationItem)
	if !ok {
		return
	}
	n := it.Notification

	mark := " "
	if !n.Read {
		mark = theme.UnreadMarkStyle.Render("●")
	}

	title := n.Title()
	if title == "" {
		title = "(no message)"
	}
	second := theme.TimeStyle.Render(RelativeTime(n.CreatedAt, it.now))
	if sub := n.Subtitle(); sub != "" {
		second = sub + "  " + second
	}

	line := fmt.Sprintf("%s %s\n  %s", mark, title, second)
	if n.Read {
		line = theme.DimmedStyle.Render(line)
	}

	if index == m.Index() {
		line = theme.SelectedItemStyle.Render(line)
	} else {
		line = theme.ListItemStyle.Render(line)
	}

	fmt.Fprint(w, line)
}

// RelativeTime renders a server timestamp relative to now. Missing,
// unparseable or future timestamps render as FallbackTime.
func RelativeTime(raw string, now time.Time) string {
	t, ok := model.ParseTimestamp(raw)
	if !ok || t.After(now) {
		return FallbackTime
	}
	if now.Sub(t) < time.Minute {
		return FallbackTime
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
