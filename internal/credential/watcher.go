package credential

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Watcher notices when another process logs in or out by polling the
// stored token.
type Watcher struct {
	tokens   *Tokens
	interval time.Duration
	log      zerolog.Logger

	// OnLogout runs when the stored token disappears.
	OnLogout func(ctx context.Context)

	// OnLogin runs when a different token appears.
	OnLogin func(ctx context.Context, token string)
}

// NewWatcher returns a Watcher. A non-positive interval means 2s.
func NewWatcher(tokens *Tokens, interval time.Duration, logger zerolog.Logger) *Watcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Watcher{
		tokens:   tokens,
		interval: interval,
		log:      logger.With().Str("component", "token_watcher").Logger(),
	}
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check reloads the token once and fires the matching callback on change.
func (w *Watcher) Check(ctx context.Context) {
	token, changed := w.tokens.Reload()
	if !changed {
		return
	}

	if token == "" {
		w.log.Info().Msg("access token removed")
		if w.OnLogout != nil {
			w.OnLogout(ctx)
		}
		return
	}

	w.log.Info().Msg("access token changed")
	if w.OnLogin != nil {
		w.OnLogin(ctx, token)
	}
}
