package help

import (
	"strings"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/access-console/internal/keys"
	"github.com/nhle/access-console/internal/theme"
)

// legendRow explains one connection state shown in the header.
type legendRow struct {
	state string
	text  string
}

var connectionLegend = []legendRow{
	{"connected", "live notifications are arriving"},
	{"connecting", "first connection attempt in progress"},
	{"reconnecting", "connection lost, retrying every second"},
	{"gave up", "retries exhausted; press R or use :reconnect"},
	{"disconnected", "signed out or stopped"},
}

// Model is the help overlay: key bindings and a legend for the
// connection indicator with the current state marked.
type Model struct {
	keys       *keys.KeyMap
	help       help.Model
	connection string
	width      int
	height     int
}

// New creates a help overlay.
func New(k *keys.KeyMap, width, height int) Model {
	h := help.New()
	h.ShowAll = true
	m := Model{keys: k, help: h}
	m.SetSize(width, height)
	return m
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update is a no-op; the root model closes the overlay.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

// SetConnection records the current connection state name so the legend
// can mark it.
func (m *Model) SetConnection(state string) {
	m.connection = state
}

// View renders the help overlay.
func (m Model) View() string {
	heading := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	var legend strings.Builder
	for i, row := range connectionLegend {
		if i > 0 {
			legend.WriteByte('\n')
		}
		legend.WriteString(theme.ConnectionStyle(row.state).Width(14).Render(row.state))
		legend.WriteString(theme.HelpStyle.Render(row.text))
		if row.state == m.connection {
			legend.WriteString(theme.HelpStyle.Render("  ◀ now"))
		}
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		heading.Render("Keyboard Shortcuts"),
		m.help.View(m.keys),
		"",
		heading.Render("Connection"),
		legend.String(),
	)

	return theme.DetailPanelStyle.
		Width(max(m.width-4, 0)).
		Height(max(m.height-4, 0)).
		Render(body)
}

// SetSize updates the overlay dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = max(width-4, 0)
}
