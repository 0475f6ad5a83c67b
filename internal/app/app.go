package app

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/nhle/access-console/internal/api"
	"github.com/nhle/access-console/internal/keys"
	"github.com/nhle/access-console/internal/model"
	"github.com/nhle/access-console/internal/notification"
	"github.com/nhle/access-console/internal/realtime"
	appsync "github.com/nhle/access-console/internal/sync"
	"github.com/nhle/access-console/internal/theme"
	"github.com/nhle/access-console/internal/ui"
	"github.com/nhle/access-console/internal/ui/command"
	"github.com/nhle/access-console/internal/ui/detail"
	helpview "github.com/nhle/access-console/internal/ui/help"
	"github.com/nhle/access-console/internal/ui/panel"
	"github.com/nhle/access-console/internal/ui/toast"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewPanel ViewState = iota
	ViewDetail
	ViewHelp
	ViewCommand
)

// Store is the part of the notification store the UI drives.
type Store interface {
	Snapshot() notification.Snapshot
	FetchNotifications(ctx context.Context) error
	MarkAsRead(ctx context.Context, id int) error
	MarkAllAsRead(ctx context.Context) error
	SyncNotificationsForCurrentUser(ctx context.Context) (*model.SyncResult, error)
	SyncNotificationsForAdmin(ctx context.Context, adminID int) (*model.SyncResult, error)
	Start(ctx context.Context) error
	Reset(ctx context.Context)
}

// Reconnector forces a fresh realtime connection.
type Reconnector interface {
	ForceReconnect(ctx context.Context, token string) error
}

// SyncRecorder keeps a history of sync requests.
type SyncRecorder interface {
	RecordSync(ctx context.Context, run model.SyncRun) error
}

// Deps are the services the root model drives.
type Deps struct {
	Store    Store
	Realtime Reconnector
	Tokens   api.TokenSource
	Poller   *appsync.Poller
	Bridge   *Bridge
	History  SyncRecorder
	Logout   func() error
	Logger   zerolog.Logger
}

type (
	storeStartedMsg struct{ err error }
	actionDoneMsg   struct {
		action string
		err    error
	}
	syncDoneMsg struct {
		adminID int
		result  *model.SyncResult
		err     error
	}
	reconnectDoneMsg struct{ err error }
	loggedOutMsg     struct{ err error }
)

// Model is the root Bubble Tea model that manages view routing, layout
// and the store actions the views request.
type Model struct {
	ctx          context.Context
	deps         Deps
	log          zerolog.Logger
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	keys         *keys.KeyMap
	panel        panel.Model
	detail       detail.Model
	helpView     helpview.Model
	commandView  command.Model
	toast        toast.Model
	snapshot     notification.Snapshot
	ready        bool
	authError    string
}

// New creates the root model. ctx bounds the store's background work and
// should live as long as the program.
func New(ctx context.Context, deps Deps) Model {
	k := keys.DefaultKeyMap()

	return Model{
		ctx:         ctx,
		deps:        deps,
		log:         deps.Logger.With().Str("component", "app").Logger(),
		currentView: ViewPanel,
		keys:        k,
		panel:       panel.New(k, 80, 24),
		detail:      detail.New(k, 80, 24),
		helpView:    helpview.New(k, 80, 24),
		commandView: command.New(80, 24),
		toast:       toast.New(toast.DefaultTTL),
		snapshot:    deps.Store.Snapshot(),
	}
}

// Init starts the store, the poller and the bridge listeners, and lets
// the panel request its opening fetch.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		m.deps.Bridge.WaitSnapshot(),
		m.deps.Bridge.WaitToast(),
		m.startStore(),
		m.panel.Init(),
	}
	if m.deps.Poller != nil {
		cmds = append(cmds, m.deps.Poller.Start())
	}
	return tea.Batch(cmds...)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
		m.panel.SetSize(w, h)
		m.detail.SetSize(w, h)
		m.helpView.SetSize(w, h)
		m.commandView.SetSize(w, h)
		return m, nil

	case panel.SnapshotMsg:
		m.snapshot = msg.Snapshot
		cmd := m.panel.SetSnapshot(msg.Snapshot)
		m.detail.Refresh(msg.Snapshot.Notifications)
		m.helpView.SetConnection(msg.Snapshot.Connection.String())
		return m, tea.Batch(cmd, m.deps.Bridge.WaitSnapshot())

	case toastMsg:
		var cmd tea.Cmd
		m.toast, cmd = m.toast.Update(msg.ShowMsg)
		return m, tea.Batch(cmd, m.deps.Bridge.WaitToast())

	case toast.ShowMsg, toast.ExpiredMsg:
		var cmd tea.Cmd
		m.toast, cmd = m.toast.Update(msg)
		return m, cmd

	case storeStartedMsg:
		if msg.err != nil {
			m.log.Warn().Err(msg.err).Msg("store start interrupted")
		}
		return m, nil

	case appsync.FetchResultMsg:
		if msg.AuthError != nil {
			m.authError = msg.AuthError.Message
		} else if msg.Error == nil {
			m.authError = ""
		}
		if m.deps.Poller == nil {
			return m, nil
		}
		return m, m.deps.Poller.WaitForNextResult()

	case actionDoneMsg:
		if msg.err != nil {
			m.log.Debug().Err(msg.err).Str("action", msg.action).Msg("action failed")
		}
		return m, nil

	case panel.RefreshRequestMsg:
		return m, m.run("fetch", m.deps.Store.FetchNotifications)

	case panel.MarkReadRequestMsg:
		return m, m.markRead(msg.ID)

	case detail.MarkReadRequestMsg:
		return m, m.markRead(msg.ID)

	case panel.MarkAllRequestMsg:
		return m, m.run("mark all", m.deps.Store.MarkAllAsRead)

	case panel.SyncRequestMsg:
		return m, m.sync(0)

	case panel.ReconnectRequestMsg:
		return m, m.reconnect()

	case panel.OpenDetailMsg:
		m.detail.SetNotification(msg.Notification)
		m.previousView = m.currentView
		m.currentView = ViewDetail
		return m, nil

	case detail.BackMsg:
		m.currentView = ViewPanel
		return m, nil

	case syncDoneMsg:
		return m, m.handleSyncDone(msg)

	case reconnectDoneMsg:
		if msg.err != nil {
			return m, m.showToast(toast.KindError, "Reconnect failed: "+msg.err.Error())
		}
		return m, nil

	case loggedOutMsg:
		if msg.err != nil {
			return m, m.showToast(toast.KindError, "Logout failed: "+msg.err.Error())
		}
		return m, m.showToast(toast.KindSuccess, "Signed out")

	case command.CommandMsg:
		m.currentView = m.previousView
		return m, m.executeCommand(msg)

	case command.ErrorMsg:
		m.currentView = m.previousView
		return m, m.showToast(toast.KindError, msg.Err.Error())

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.currentView == ViewPanel {
				return m, tea.Quit
			}

		case "?":
			if m.currentView == ViewCommand {
				break
			}
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewHelp
			return m, nil

		case ":":
			if m.currentView == ViewCommand {
				break
			}
			m.previousView = m.currentView
			m.currentView = ViewCommand
			return m, m.commandView.Focus()

		case "esc":
			if m.currentView == ViewHelp || m.currentView == ViewCommand {
				m.currentView = m.previousView
				return m, nil
			}
		}
	}

	return m.updateActiveView(msg)
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewPanel:
		m.panel, cmd = m.panel.Update(msg)
	case ViewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader("Access Console", m.connectionStatus())
	statusBar := m.layout.RenderStatusBar(m.statusText())

	return m.layout.RenderWithFrame(header, m.renderContent(), statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewDetail:
		return m.detail.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	default:
		return m.panel.View()
	}
}

// connectionStatus returns the header's right-hand status.
func (m Model) connectionStatus() string {
	state := m.snapshot.Connection.String()
	status := theme.ConnectionStyle(state).Render("● " + state)
	if m.deps.Poller != nil && m.deps.Poller.Status().State == appsync.SyncRunning {
		status = "refreshing · " + status
	}
	return status
}

// statusText returns the toast, an auth error or keyboard hints.
func (m Model) statusText() string {
	if m.toast.Active() {
		return m.toast.View()
	}
	if m.authError != "" && m.currentView == ViewPanel {
		return m.authError
	}

	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return "enter execute | esc back"
	case ViewDetail:
		return "esc back | enter mark read | j/k scroll"
	default:
		return "q quit | ? help | enter read | a read all | s sync | r refresh | o details"
	}
}

func (m Model) showToast(kind toast.Kind, text string) tea.Cmd {
	return func() tea.Msg { return toast.ShowMsg{Kind: kind, Text: text} }
}

func (m Model) startStore() tea.Cmd {
	s, ctx := m.deps.Store, m.ctx
	return func() tea.Msg {
		return storeStartedMsg{err: s.Start(ctx)}
	}
}

// run executes a store action off the UI goroutine. Results reach the UI
// through store snapshots and toasts.
func (m Model) run(action string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionDoneMsg{action: action, err: fn(ctx)}
	}
}

func (m Model) markRead(id int) tea.Cmd {
	s := m.deps.Store
	return m.run("mark read", func(ctx context.Context) error {
		return s.MarkAsRead(ctx, id)
	})
}

func (m Model) sync(adminID int) tea.Cmd {
	s, ctx := m.deps.Store, m.ctx
	return func() tea.Msg {
		var (
			res *model.SyncResult
			err error
		)
		if adminID == 0 {
			res, err = s.SyncNotificationsForCurrentUser(ctx)
		} else {
			res, err = s.SyncNotificationsForAdmin(ctx, adminID)
		}
		return syncDoneMsg{adminID: adminID, result: res, err: err}
	}
}

func (m Model) handleSyncDone(msg syncDoneMsg) tea.Cmd {
	if msg.err != nil {
		return m.showToast(toast.KindError, "Sync failed: "+msg.err.Error())
	}

	res := msg.result
	if h := m.deps.History; h != nil {
		run := model.SyncRun{AdminID: msg.adminID, Result: *res, CreatedAt: time.Now()}
		if err := h.RecordSync(m.ctx, run); err != nil {
			m.log.Warn().Err(err).Msg("recording sync run")
		}
	}

	if !res.Success {
		text := "Sync failed"
		if res.Error != "" {
			text += ": " + res.Error
		}
		return m.showToast(toast.KindError, text)
	}
	return m.showToast(toast.KindSuccess, syncSummary(res))
}

// syncSummary describes a successful sync.
func syncSummary(res *model.SyncResult) string {
	if res.Message != "" {
		return res.Message
	}
	return fmt.Sprintf("Synced %d access-denied and %d other notifications",
		res.AccessDeniedCount, res.OtherNotificationsCount)
}

func (m Model) reconnect() tea.Cmd {
	rt, tokens, ctx := m.deps.Realtime, m.deps.Tokens, m.ctx
	return func() tea.Msg {
		token := tokens.AccessToken()
		if token == "" {
			return reconnectDoneMsg{err: api.ErrUnauthenticated}
		}
		return reconnectDoneMsg{err: rt.ForceReconnect(ctx, token)}
	}
}

func (m Model) logout() tea.Cmd {
	s, logout, ctx := m.deps.Store, m.deps.Logout, m.ctx
	return func() tea.Msg {
		var err error
		if logout != nil {
			err = logout()
		}
		s.Reset(ctx)
		return loggedOutMsg{err: err}
	}
}

// executeCommand handles a parsed command from the palette.
func (m *Model) executeCommand(cmd command.CommandMsg) tea.Cmd {
	switch cmd.Name {
	case command.Sync:
		return m.sync(0)
	case command.SyncAdmin:
		return m.sync(cmd.AdminID)
	case command.Refresh:
		if m.deps.Poller != nil {
			return m.deps.Poller.Refresh()
		}
		return m.run("fetch", m.deps.Store.FetchNotifications)
	case command.MarkAll:
		return m.run("mark all", m.deps.Store.MarkAllAsRead)
	case command.Reconnect:
		return m.reconnect()
	case command.Logout:
		return m.logout()
	case command.Quit:
		return tea.Quit
	default:
		return nil
	}
}

// ConnectionState returns the connection state of the last snapshot.
func (m Model) ConnectionState() realtime.State {
	return m.snapshot.Connection
}
