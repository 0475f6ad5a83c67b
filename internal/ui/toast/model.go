package toast

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/access-console/internal/theme"
)

// Kind distinguishes success from error toasts.
type Kind int

const (
	KindSuccess Kind = iota
	KindError
)

// ShowMsg asks the status bar to show a toast.
type ShowMsg struct {
	Kind Kind
	Text string
}

// ExpiredMsg clears the toast with the given id.
type ExpiredMsg struct{ ID int }

// DefaultTTL is how long a toast stays visible.
const DefaultTTL = 4 * time.Second

// Model holds the toast currently shown in the status bar. A newer toast
// replaces the current one.
type Model struct {
	ttl    time.Duration
	nextID int
	id     int
	kind   Kind
	text   string
}

// New creates a toast model. A non-positive ttl means DefaultTTL.
func New(ttl time.Duration) Model {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return Model{ttl: ttl}
}

// Update shows toasts and expires them.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ShowMsg:
		m.nextID++
		m.id = m.nextID
		m.kind = msg.Kind
		m.text = msg.Text
		id := m.id
		return m, tea.Tick(m.ttl, func(time.Time) tea.Msg { return ExpiredMsg{ID: id} })

	case ExpiredMsg:
		if msg.ID == m.id {
			m.text = ""
		}
	}
	return m, nil
}

// Active reports whether a toast is showing.
func (m Model) Active() bool {
	return m.text != ""
}

// Text returns the current toast text, or "".
func (m Model) Text() string {
	return m.text
}

// View renders the current toast, styled by kind.
func (m Model) View() string {
	if m.text == "" {
		return ""
	}
	if m.kind == KindError {
		return theme.ToastErrorStyle.Render("✗ " + m.text)
	}
	return theme.ToastSuccessStyle.Render("✓ " + m.text)
}
