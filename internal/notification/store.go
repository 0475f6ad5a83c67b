package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/access-console/internal/api"
	"github.com/nhle/access-console/internal/model"
	"github.com/nhle/access-console/internal/realtime"
)

// Toast texts shown to the user.
const (
	msgMarkReadFailed   = "Unable to mark the notification as read"
	msgMarkAllDone      = "All notifications marked as read"
	msgMarkAllFailed    = "Unable to mark notifications as read"
	msgMarkAllTransport = "An error occurred while marking notifications as read"
)

// ErrMarkAllRejected is returned by MarkAllAsRead when the server answers
// without success.
var ErrMarkAllRejected = errors.New("server did not mark notifications read")

// API is the subset of the REST client the store uses.
type API interface {
	ListNotifications(ctx context.Context) ([]model.Notification, error)
	MarkAsRead(ctx context.Context, id int) error
	MarkAllAsRead(ctx context.Context) (*model.MarkAllResult, error)
	SyncForCurrentUser(ctx context.Context) (*model.SyncResult, error)
	SyncForAdmin(ctx context.Context, adminID int) (*model.SyncResult, error)
}

// Realtime is the connection the store subscribes to.
type Realtime interface {
	Connect(token string)
	Disconnect()
	ForceReconnect(ctx context.Context, token string) error
	IsConnected() bool
	State() realtime.State
	AddListener(event string, fn realtime.Listener) realtime.Subscription
	RemoveListener(sub realtime.Subscription)
}

// Toaster shows short-lived messages to the user.
type Toaster interface {
	Success(msg string)
	Error(msg string)
}

// Cache persists the last known list between runs.
type Cache interface {
	SaveSnapshot(ctx context.Context, list []model.Notification) error
	LoadSnapshot(ctx context.Context) ([]model.Notification, error)
	ClearSnapshot(ctx context.Context) error
}

// Options configures a Store.
type Options struct {
	// InitialDelay is the pause before Start connects.
	InitialDelay time.Duration

	// SettleDelay is the wait after each connect before checking it.
	SettleDelay time.Duration

	// SafetyRefetchDelay schedules one extra fetch after Start.
	SafetyRefetchDelay time.Duration

	Toaster Toaster
	Cache   Cache
	Logger  zerolog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Snapshot is a consistent view of the store.
type Snapshot struct {
	Notifications []model.Notification
	UnreadCount   int
	Connection    realtime.State
}

// Store is the client-side authority for the notification list. It merges
// HTTP fetches (which replace the list) with realtime pushes (which
// prepend) and derives the unread count from the list after every change.
//
// A fetch that completes after a push replaces the list with the
// server's answer; the later writer wins.
type Store struct {
	api    API
	rt     Realtime
	tokens api.TokenSource
	toast  Toaster
	cache  Cache
	opts   Options
	log    zerolog.Logger

	// notifyMu is taken before mu by every change so subscribers see
	// snapshots in the order the changes were made.
	notifyMu sync.Mutex

	mu            sync.Mutex
	notifications []model.Notification
	unread        int
	gen           uint64
	subs          map[uint64]func(Snapshot)
	nextSub       uint64

	cacheMu   sync.Mutex
	persistMu sync.Mutex
	idle      *sync.Cond
	dirty     bool
	writing   bool

	lifeMu    sync.Mutex
	listeners []realtime.Subscription
	runCancel context.CancelFunc
	safety    *time.Timer
}

// NewStore creates an empty Store.
func NewStore(client API, rt Realtime, tokens api.TokenSource, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger := opts.Logger.With().Str("component", "notification_store").Logger()

	toast := opts.Toaster
	if toast == nil {
		toast = logToaster{log: logger}
	}

	s := &Store{
		api:           client,
		rt:            rt,
		tokens:        tokens,
		toast:         toast,
		cache:         opts.Cache,
		opts:          opts,
		log:           logger,
		notifications: []model.Notification{},
		subs:          make(map[uint64]func(Snapshot)),
	}
	s.idle = sync.NewCond(&s.persistMu)
	return s
}

// Snapshot returns a copy of the current list, unread count and
// connection state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	list := make([]model.Notification, len(s.notifications))
	copy(list, s.notifications)
	return Snapshot{
		Notifications: list,
		UnreadCount:   s.unread,
		Connection:    s.rt.State(),
	}
}

// UnreadCount returns the number of unread notifications.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Subscribe registers fn to receive a snapshot after every change. fn runs
// on the goroutine that made the change, must not block and must not
// change the store. Snapshots arrive in the order of the changes. The returned
// function unsubscribes.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// apply replaces the list with fn's result, recomputes the unread count
// and notifies subscribers outside mu.
func (s *Store) apply(fn func([]model.Notification) []model.Notification) {
	s.applyIf(func() bool { return true }, fn)
}

// applyIf is apply guarded by ok, which is checked under mu. It reports
// whether the change was made.
func (s *Store) applyIf(ok func() bool, fn func([]model.Notification) []model.Notification) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if !ok() {
		s.mu.Unlock()
		return false
	}
	s.notifications = fn(s.notifications)
	s.unread = model.CountUnread(s.notifications)
	snap := s.snapshotLocked()
	subs := s.subscribersLocked()
	s.mu.Unlock()

	for _, sub := range subs {
		sub(snap)
	}
	s.persist()
	return true
}

// notifyConnection republishes the current state after a connection change.
func (s *Store) notifyConnection() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	snap := s.snapshotLocked()
	subs := s.subscribersLocked()
	s.mu.Unlock()

	for _, sub := range subs {
		sub(snap)
	}
}

func (s *Store) subscribersLocked() []func(Snapshot) {
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs
}

// persist schedules a write of the current list to the cache. Requests
// made while a write is running collapse into one more write.
func (s *Store) persist() {
	if s.cache == nil {
		return
	}

	s.persistMu.Lock()
	s.dirty = true
	if s.writing {
		s.persistMu.Unlock()
		return
	}
	s.writing = true
	s.persistMu.Unlock()

	go s.writeSnapshots()
}

func (s *Store) writeSnapshots() {
	for {
		s.persistMu.Lock()
		if !s.dirty {
			s.writing = false
			s.idle.Broadcast()
			s.persistMu.Unlock()
			return
		}
		s.dirty = false
		s.persistMu.Unlock()

		s.saveSnapshot()
	}
}

// waitPersisted blocks until no snapshot write is pending.
func (s *Store) waitPersisted() {
	s.persistMu.Lock()
	for s.writing {
		s.idle.Wait()
	}
	s.persistMu.Unlock()
}

// saveSnapshot writes the list current at the time it holds cacheMu.
func (s *Store) saveSnapshot() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.mu.Lock()
	list := make([]model.Notification, len(s.notifications))
	copy(list, s.notifications)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cache.SaveSnapshot(ctx, list); err != nil {
		s.log.Warn().Err(err).Msg("saving notification snapshot")
	}
}

// FetchNotifications replaces the list with the server's. Without a token
// it does nothing. On failure the list is left as it was. A response that
// arrives after Reset, or after the token went away, is dropped.
func (s *Store) FetchNotifications(ctx context.Context) error {
	if s.tokens.AccessToken() == "" {
		s.log.Debug().Msg("no access token, skipping fetch")
		return nil
	}

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	list, err := s.api.ListNotifications(ctx)
	if err != nil {
		if errors.Is(err, api.ErrUnauthenticated) {
			s.log.Debug().Msg("token disappeared before fetch")
			return nil
		}
		s.log.Error().Err(err).Msg("fetching notifications")
		return err
	}

	current := func() bool {
		return s.gen == gen && s.tokens.AccessToken() != ""
	}
	if !s.applyIf(current, func([]model.Notification) []model.Notification { return list }) {
		s.log.Debug().Msg("discarding fetch from an ended session")
		return nil
	}
	s.log.Debug().Int("count", len(list)).Msg("notifications fetched")
	return nil
}

// MarkAsRead marks one notification read on the server and, once the
// server confirms, locally. A failure is shown as a toast.
func (s *Store) MarkAsRead(ctx context.Context, id int) error {
	if err := s.api.MarkAsRead(ctx, id); err != nil {
		s.log.Error().Err(err).Int("notification_id", id).Msg("marking notification read")
		s.toast.Error(msgMarkReadFailed)
		return err
	}

	s.apply(func(list []model.Notification) []model.Notification {
		return markRead(list, id)
	})
	return nil
}

// MarkAllAsRead marks every notification read on the server and, once the
// server reports success, locally.
func (s *Store) MarkAllAsRead(ctx context.Context) error {
	res, err := s.api.MarkAllAsRead(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("marking all notifications read")
		s.toast.Error(msgMarkAllTransport)
		return err
	}

	if !res.Success {
		msg := msgMarkAllFailed
		if res.Error != "" {
			msg = "Error: " + res.Error
		}
		s.log.Warn().Str("server_error", res.Error).Msg("server refused mark all read")
		s.toast.Error(msg)
		if res.Error != "" {
			return fmt.Errorf("%w: %s", ErrMarkAllRejected, res.Error)
		}
		return ErrMarkAllRejected
	}

	s.apply(markAllRead)
	s.toast.Success(msgMarkAllDone)
	return nil
}

// SyncNotificationsForCurrentUser asks the server to backfill the signed-in
// user's access-denied notifications and refetches on success.
func (s *Store) SyncNotificationsForCurrentUser(ctx context.Context) (*model.SyncResult, error) {
	res, err := s.api.SyncForCurrentUser(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("syncing notifications for current user")
		return nil, err
	}
	s.logSync(res, 0)

	if res.Success {
		_ = s.FetchNotifications(ctx)
	}
	return res, nil
}

// SyncNotificationsForAdmin backfills access-denied notifications for a
// newly added administrator and refetches on success.
func (s *Store) SyncNotificationsForAdmin(ctx context.Context, adminID int) (*model.SyncResult, error) {
	res, err := s.api.SyncForAdmin(ctx, adminID)
	if err != nil {
		s.log.Error().Err(err).Int("admin_id", adminID).Msg("syncing notifications for admin")
		return nil, err
	}
	s.logSync(res, adminID)

	if res.Success {
		_ = s.FetchNotifications(ctx)
	}
	return res, nil
}

func (s *Store) logSync(res *model.SyncResult, adminID int) {
	ev := s.log.Info()
	if !res.Success {
		ev = s.log.Warn().Str("server_error", res.Error)
	}
	if adminID != 0 {
		ev = ev.Int("admin_id", adminID)
	}
	ev.Bool("success", res.Success).
		Int("access_denied", res.AccessDeniedCount).
		Int("other", res.OtherNotificationsCount).
		Int("total", res.TotalCount).
		Msg("notification sync finished")
}

// Start wires the store to the realtime connection and runs the startup
// sequence: wait InitialDelay, connect (or force a reconnect when already
// connected), wait SettleDelay, force one reconnect if still not
// connected, fetch, backfill when the list is empty, and schedule one
// safety refetch. Without a token Start does nothing.
func (s *Store) Start(ctx context.Context) error {
	token := s.tokens.AccessToken()
	if token == "" {
		s.log.Debug().Msg("no access token, realtime not started")
		return nil
	}

	s.attach()
	ctx = s.beginRun(ctx)

	s.restoreSnapshot(ctx)

	if err := sleep(ctx, s.opts.InitialDelay); err != nil {
		return err
	}

	if s.rt.IsConnected() {
		s.log.Info().Msg("realtime already connected, forcing reconnect")
		if err := s.rt.ForceReconnect(ctx, token); err != nil {
			return err
		}
	} else {
		s.rt.Connect(token)
	}

	if err := sleep(ctx, s.opts.SettleDelay); err != nil {
		return err
	}

	if !s.rt.IsConnected() {
		s.log.Warn().Stringer("state", s.rt.State()).Msg("realtime not connected after settle, forcing reconnect")
		if err := s.rt.ForceReconnect(ctx, token); err != nil {
			return err
		}
		if err := sleep(ctx, s.opts.SettleDelay); err != nil {
			return err
		}
	}

	if err := s.FetchNotifications(ctx); err == nil {
		if len(s.Snapshot().Notifications) == 0 {
			s.log.Info().Msg("no notifications, requesting backfill")
			_, _ = s.SyncNotificationsForCurrentUser(ctx)
		}
	}

	s.scheduleSafetyRefetch(ctx)
	return nil
}

// Stop unregisters the realtime listeners and cancels any pending
// startup work and safety refetch.
func (s *Store) Stop() {
	s.endRun()

	s.lifeMu.Lock()
	subs := s.listeners
	s.listeners = nil
	s.lifeMu.Unlock()

	for _, sub := range subs {
		s.rt.RemoveListener(sub)
	}
	s.waitPersisted()
}

// Reset clears the list, disconnects the realtime connection and drops
// the cached snapshot. It is used when the access token goes away.
func (s *Store) Reset(ctx context.Context) {
	s.log.Info().Msg("resetting notifications")
	s.endRun()

	s.apply(func([]model.Notification) []model.Notification {
		s.gen++
		return []model.Notification{}
	})
	s.rt.Disconnect()

	if s.cache != nil {
		s.waitPersisted()
		s.cacheMu.Lock()
		err := s.cache.ClearSnapshot(ctx)
		s.cacheMu.Unlock()
		if err != nil {
			s.log.Warn().Err(err).Msg("clearing notification snapshot")
		}
	}
}

// attach registers the realtime listeners once.
func (s *Store) attach() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.listeners != nil {
		return
	}
	s.listeners = []realtime.Subscription{
		s.rt.AddListener(realtime.EventNotification, s.onNotification),
		s.rt.AddListener(realtime.EventAdminNotification, s.onNotification),
		s.rt.AddListener(realtime.EventNotificationRead, s.onNotificationRead),
		s.rt.AddListener(realtime.EventAllNotificationsRead, s.onAllNotificationsRead),
		s.rt.AddListener(realtime.EventStateChanged, s.onStateChanged),
	}
}

// beginRun cancels any previous run and returns the context of the new one.
func (s *Store) beginRun(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)

	s.lifeMu.Lock()
	if s.runCancel != nil {
		s.runCancel()
	}
	if s.safety != nil {
		s.safety.Stop()
		s.safety = nil
	}
	s.runCancel = cancel
	s.lifeMu.Unlock()

	s.mu.Lock()
	s.gen++
	s.mu.Unlock()

	return ctx
}

func (s *Store) endRun() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.runCancel != nil {
		s.runCancel()
		s.runCancel = nil
	}
	if s.safety != nil {
		s.safety.Stop()
		s.safety = nil
	}
}

func (s *Store) scheduleSafetyRefetch(ctx context.Context) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.safety != nil {
		s.safety.Stop()
	}
	s.safety = time.AfterFunc(s.opts.SafetyRefetchDelay, func() {
		if ctx.Err() != nil {
			return
		}
		s.log.Debug().Msg("safety refetch")
		_ = s.FetchNotifications(ctx)
	})
}

// restoreSnapshot shows the cached list while the first fetch is pending.
func (s *Store) restoreSnapshot(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if len(s.Snapshot().Notifications) > 0 {
		return
	}

	list, err := s.cache.LoadSnapshot(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("loading notification snapshot")
		return
	}
	if len(list) == 0 {
		return
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	empty := len(s.notifications) == 0
	if empty {
		s.notifications = list
		s.unread = model.CountUnread(list)
	}
	snap := s.snapshotLocked()
	subs := s.subscribersLocked()
	s.mu.Unlock()

	if !empty {
		return
	}
	s.log.Debug().Int("count", len(list)).Msg("restored cached notifications")
	for _, sub := range subs {
		sub(snap)
	}
}

func (s *Store) onNotification(ev realtime.Event) {
	ne, ok := ev.(realtime.NotificationEvent)
	if !ok {
		return
	}
	n := Normalize(ne.Notification, s.opts.Now())
	s.log.Info().
		Int("notification_id", n.ID).
		Str("type", string(n.Type)).
		Bool("admin", ne.Admin).
		Msg("notification pushed")

	s.apply(func(list []model.Notification) []model.Notification {
		return prepend(list, n)
	})
}

func (s *Store) onNotificationRead(ev realtime.Event) {
	re, ok := ev.(realtime.NotificationReadEvent)
	if !ok {
		return
	}
	s.apply(func(list []model.Notification) []model.Notification {
		return markRead(list, re.ID)
	})
}

func (s *Store) onAllNotificationsRead(realtime.Event) {
	s.apply(markAllRead)
}

func (s *Store) onStateChanged(realtime.Event) {
	s.notifyConnection()
}

// logToaster is used when no Toaster is configured.
type logToaster struct {
	log zerolog.Logger
}

func (t logToaster) Success(msg string) { t.log.Info().Str("toast", msg).Msg("success") }
func (t logToaster) Error(msg string)   { t.log.Error().Str("toast", msg).Msg("error") }

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
