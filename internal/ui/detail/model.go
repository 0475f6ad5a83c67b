package detail

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/access-console/internal/keys"
	"github.com/nhle/access-console/internal/model"
	"github.com/nhle/access-console/internal/theme"
)

// BackMsg signals the parent to navigate back to the panel.
type BackMsg struct{}

// MarkReadRequestMsg asks the parent to mark the shown notification read.
type MarkReadRequestMsg struct{ ID int }

// Model shows one notification and its access log.
type Model struct {
	notification *model.Notification
	viewport     viewport.Model
	keys         *keys.KeyMap
	width        int
	height       int
}

// New creates a new detail view model.
func New(keys *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, height-2)
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		keys:     keys,
		width:    width,
		height:   height,
	}
}

// Init returns the initial command for the detail view.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the detail view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, m.keys.Back):
			return m, func() tea.Msg { return BackMsg{} }

		case key.Matches(msg, m.keys.MarkRead):
			if m.notification != nil && !m.notification.Read {
				id := m.notification.ID
				return m, func() tea.Msg { return MarkReadRequestMsg{ID: id} }
			}
			return m, nil
		}
	}

	// Delegate to viewport for scrolling (j/k, up/down, pgup/pgdn)
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the detail view.
func (m Model) View() string {
	if m.notification == nil {
		emptyStyle := lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray)
		return emptyStyle.Render("No notification selected")
	}

	return m.viewport.View()
}

// SetNotification shows n and scrolls to the top.
func (m *Model) SetNotification(n model.Notification) {
	m.notification = &n
	m.viewport.SetContent(m.renderContent())
	m.viewport.GotoTop()
}

// Refresh re-renders from an updated copy of the shown notification, for
// instance after it was marked read elsewhere. Other ids are ignored.
func (m *Model) Refresh(list []model.Notification) {
	if m.notification == nil {
		return
	}
	for _, n := range list {
		if n.ID == m.notification.ID {
			m.SetNotification(n)
			return
		}
	}
}

// renderContent builds the full detail content string for the viewport.
func (m Model) renderContent() string {
	if m.notification == nil {
		return ""
	}
	n := m.notification

	var sections []string

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	sections = append(sections, titleStyle.Render(n.Title()))

	readLabel := "UNREAD"
	if n.Read {
		readLabel = "read"
	}
	typeLabel := string(n.Type)
	if typeLabel == "" {
		typeLabel = "notification"
	}
	sections = append(sections, lipgloss.JoinHorizontal(
		lipgloss.Top,
		theme.TypeLabelStyle(string(n.Type)).Render(typeLabel),
		"  ",
		theme.HelpStyle.Render(readLabel),
	))
	sections = append(sections, "")

	rows := [][2]string{
		{"Message", n.Message},
		{"Received", formatTimestamp(n.CreatedAt)},
		{"ID", fmt.Sprintf("%d", n.ID)},
	}

	if log := n.AccessLog; log != nil {
		rows = append(rows,
			[2]string{"Card", log.CardID},
			[2]string{"Swiped", formatTimestamp(log.Timestamp)},
			[2]string{"Direction", log.Type},
		)
		if log.Message != "" {
			rows = append(rows, [2]string{"Reason", log.Message})
		}
		if e := log.Employee; e != nil {
			rows = append(rows, [2]string{"Employee", e.FullName()})
			if e.Email != "" {
				rows = append(rows, [2]string{"Email", e.Email})
			}
		}
		if s := log.AccessSystem; s != nil {
			rows = append(rows, [2]string{"Reader", s.Describe()})
		}
	}

	sections = append(sections, renderRows(rows)...)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func renderRows(rows [][2]string) []string {
	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)
	valStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)

	width := 0
	for _, r := range rows {
		if len(r[0]) > width {
			width = len(r[0])
		}
	}

	var out []string
	for _, r := range rows {
		if r[1] == "" {
			continue
		}
		label := r[0] + ":" + strings.Repeat(" ", width-len(r[0])+1)
		out = append(out, metaStyle.Render(label)+valStyle.Render(r[1]))
	}
	return out
}

// formatTimestamp shows a parsed server time in local time, or the raw
// value when it cannot be parsed.
func formatTimestamp(raw string) string {
	if t, ok := model.ParseTimestamp(raw); ok {
		return t.In(time.Local).Format("2006-01-02 15:04:05")
	}
	return raw
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height - 2
}
