package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/access-console/internal/theme"
)

// Command names understood by the palette.
const (
	Sync      = "sync"
	SyncAdmin = "sync admin"
	Refresh   = "refresh"
	MarkAll   = "read all"
	Reconnect = "reconnect"
	Logout    = "logout"
	Quit      = "quit"
)

// CommandMsg is emitted when the user executes a valid command.
type CommandMsg struct {
	Name    string
	AdminID int
}

// ErrorMsg is emitted when the input is not a valid command.
type ErrorMsg struct {
	Input string
	Err   error
}

// Parse turns palette input into a command.
func Parse(input string) (CommandMsg, error) {
	fields := strings.Fields(strings.ToLower(input))
	if len(fields) == 0 {
		return CommandMsg{}, fmt.Errorf("empty command")
	}

	switch fields[0] {
	case "sync":
		if len(fields) == 1 {
			return CommandMsg{Name: Sync}, nil
		}
		if len(fields) == 3 && fields[1] == "admin" {
			id, err := strconv.Atoi(fields[2])
			if err != nil || id <= 0 {
				return CommandMsg{}, fmt.Errorf("invalid admin id %q", fields[2])
			}
			return CommandMsg{Name: SyncAdmin, AdminID: id}, nil
		}
		return CommandMsg{}, fmt.Errorf("usage: sync [admin <id>]")
	case "refresh", "fetch":
		return CommandMsg{Name: Refresh}, nil
	case "read":
		if len(fields) == 2 && fields[1] == "all" {
			return CommandMsg{Name: MarkAll}, nil
		}
	case "reconnect":
		return CommandMsg{Name: Reconnect}, nil
	case "logout":
		return CommandMsg{Name: Logout}, nil
	case "quit", "q":
		return CommandMsg{Name: Quit}, nil
	}
	return CommandMsg{}, fmt.Errorf("unknown command %q", input)
}

// Model is the command palette view.
type Model struct {
	input  textinput.Model
	width  int
	height int
}

// New creates a new command palette model.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "sync | sync admin <id> | refresh | read all | reconnect | logout | quit"
	ti.Prompt = ": "
	ti.Focus()
	ti.Width = width - 6

	return Model{
		input:  ti,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && msg.Type == tea.KeyEnter {
		raw := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		if raw == "" {
			return m, nil
		}
		cmd, err := Parse(raw)
		if err != nil {
			return m, func() tea.Msg { return ErrorMsg{Input: raw, Err: err} }
		}
		return m, func() tea.Msg { return cmd }
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the command palette.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	content := lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render("Command"),
		m.input.View(),
	)

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Render(content)
}

// SetSize updates the command palette dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = width - 6
}

// Focus gives keyboard focus to the text input.
func (m *Model) Focus() tea.Cmd {
	return m.input.Focus()
}
