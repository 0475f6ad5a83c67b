package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/nhle/access-console/internal/api"
)

// SyncState represents the current state of the background refetch.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncRunning:
		return "syncing"
	case SyncError:
		return "error"
	default:
		return "idle"
	}
}

// SyncStatus holds the outcome of the most recent refetch.
type SyncStatus struct {
	State    SyncState
	LastSync time.Time
	Error    error
}

// FetchResultMsg is a tea.Msg sent when a refetch completes.
type FetchResultMsg struct {
	Error     error
	AuthError *AuthErrorMsg
	At        time.Time
}

// AuthErrorMsg is a tea.Msg sent when the server rejects the token.
type AuthErrorMsg struct {
	Message string
}

// Fetcher reloads the notification list.
type Fetcher interface {
	FetchNotifications(ctx context.Context) error
}

// fetchTimeout is the maximum time allowed for a single fetch operation.
const fetchTimeout = 30 * time.Second

// Poller refetches notifications on an interval and on demand, as a
// fallback for pushes missed while the realtime connection was down.
type Poller struct {
	fetcher   Fetcher
	interval  time.Duration
	log       zerolog.Logger
	status    SyncStatus
	resultCh  chan FetchResultMsg
	triggerCh chan struct{}
	stopCh    chan struct{}
	mu        gosync.Mutex
	running   bool
}

// New creates a Poller. A non-positive interval means 60s.
func New(f Fetcher, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Poller{
		fetcher:   f,
		interval:  interval,
		log:       logger.With().Str("component", "poller").Logger(),
		resultCh:  make(chan FetchResultMsg, 16),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the polling goroutine and returns a tea.Cmd that
// delivers the first FetchResultMsg. The first fetch happens after one
// interval; the store fetches on its own at startup.
func (p *Poller) Start() tea.Cmd {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	go p.loop()

	return p.waitForResult()
}

// Stop halts the polling goroutine.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	close(p.stopCh)
	p.running = false
}

// Refresh triggers an immediate fetch. Triggers coalesce while one is
// pending.
func (p *Poller) Refresh() tea.Cmd {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
	return nil
}

// Status returns the outcome of the last fetch.
func (p *Poller) Status() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.fetch()
		case <-p.triggerCh:
			p.fetch()
		}
	}
}

// fetch performs a single refetch and reports it on the result channel.
func (p *Poller) fetch() {
	p.setStatus(SyncRunning, nil)

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	err := p.fetcher.FetchNotifications(ctx)
	now := time.Now()
	if err != nil {
		p.setStatus(SyncError, err)
		p.log.Warn().Err(err).Msg("periodic fetch failed")

		msg := FetchResultMsg{Error: err, At: now}
		var authErr *api.AuthError
		if errors.As(err, &authErr) {
			msg.AuthError = &AuthErrorMsg{
				Message: "session expired. Run 'access-console login' to sign in again.",
			}
		}
		p.sendResult(msg)
		return
	}

	p.setStatus(SyncIdle, nil)
	p.sendResult(FetchResultMsg{At: now})
}

func (p *Poller) setStatus(state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.State = state
	p.status.Error = err
	if state == SyncIdle && err == nil {
		p.status.LastSync = time.Now()
	}
}

// sendResult sends a FetchResultMsg without blocking.
func (p *Poller) sendResult(msg FetchResultMsg) {
	select {
	case p.resultCh <- msg:
	default:
		// Drop if channel is full to avoid blocking the poller
	}
}

func (p *Poller) waitForResult() tea.Cmd {
	return func() tea.Msg {
		select {
		case result := <-p.resultCh:
			return result
		case <-p.stopCh:
			return nil
		}
	}
}

// WaitForNextResult returns a tea.Cmd that waits for the next fetch result.
// Call it after handling a FetchResultMsg to keep listening.
func (p *Poller) WaitForNextResult() tea.Cmd {
	return p.waitForResult()
}
