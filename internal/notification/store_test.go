package notification

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/access-console/internal/api"
	"github.com/nhle/access-console/internal/model"
	"github.com/nhle/access-console/internal/realtime"
	"github.com/nhle/access-console/tests/testutil"
)

// fakeRealtime stands in for the realtime manager. Connect succeeds
// immediately unless refuse is set.
type fakeRealtime struct {
	*realtime.Bus

	mu              sync.Mutex
	connected       bool
	refuse          bool
	connects        []string
	forceReconnects int
	disconnects     int
}

func newFakeRealtime() *fakeRealtime {
	return &fakeRealtime{Bus: realtime.NewBus(zerolog.Nop())}
}

func (f *fakeRealtime) Connect(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, token)
	f.connected = !f.refuse
}

func (f *fakeRealtime) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
}

func (f *fakeRealtime) ForceReconnect(ctx context.Context, token string) error {
	f.mu.Lock()
	f.forceReconnects++
	f.mu.Unlock()
	f.Disconnect()
	f.Connect(token)
	return nil
}

func (f *fakeRealtime) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeRealtime) State() realtime.State {
	if f.IsConnected() {
		return realtime.StateConnected
	}
	return realtime.StateDisconnected
}

// toastRecorder captures toasts.
type toastRecorder struct {
	mu        sync.Mutex
	successes []string
	errors    []string
}

func (r *toastRecorder) Success(msg string) {
	r.mu.Lock()
	r.successes = append(r.successes, msg)
	r.mu.Unlock()
}

func (r *toastRecorder) Error(msg string) {
	r.mu.Lock()
	r.errors = append(r.errors, msg)
	r.mu.Unlock()
}

func (r *toastRecorder) lastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errors) == 0 {
		return ""
	}
	return r.errors[len(r.errors)-1]
}

type fixture struct {
	store  *Store
	server *testutil.APIServer
	rt     *fakeRealtime
	toasts *toastRecorder
}

func newFixture(t *testing.T, token string, cache Cache) *fixture {
	t.Helper()

	srv := testutil.NewAPIServer(t, "secret")
	rt := newFakeRealtime()
	toasts := &toastRecorder{}
	tokens := api.StaticToken(token)

	st := NewStore(api.NewClient(srv.URL, tokens, 0), rt, tokens, Options{
		SafetyRefetchDelay: time.Hour,
		Toaster:            toasts,
		Cache:              cache,
		Logger:             zerolog.Nop(),
		Now: func() time.Time {
			return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		},
	})
	t.Cleanup(st.Stop)

	return &fixture{store: st, server: srv, rt: rt, toasts: toasts}
}

func sample() []model.Notification {
	return []model.Notification{
		{ID: 3, Message: "third", Type: "access_denied", AccessLog: &model.AccessLog{CardID: "C3"}},
		{ID: 2, Message: "second", Read: true},
		{ID: 1, Message: "first"},
	}
}

func assertUnreadDerived(t *testing.T, snap Snapshot) {
	t.Helper()
	if want := model.CountUnread(snap.Notifications); snap.UnreadCount != want {
		t.Fatalf("unread = %d, but list has %d unread", snap.UnreadCount, want)
	}
}

// ── Fetch and push ──────────────────────────────────────────────────────────

func TestStore_FetchReplacesList(t *testing.T) {
	f := newFixture(t, "secret", nil)
	f.server.SetNotifications(sample())

	if err := f.store.FetchNotifications(context.Background()); err != nil {
		t.Fatalf("FetchNotifications: %v", err)
	}
	snap := f.store.Snapshot()
	if len(snap.Notifications) != 3 || snap.UnreadCount != 2 {
		t.Fatalf("snapshot = %d items, %d unread; want 3, 2", len(snap.Notifications), snap.UnreadCount)
	}

	f.server.SetNotifications([]model.Notification{{ID: 9, Message: "only"}})
	if err := f.store.FetchNotifications(context.Background()); err != nil {
		t.Fatalf("FetchNotifications: %v", err)
	}
	snap = f.store.Snapshot()
	if len(snap.Notifications) != 1 || snap.Notifications[0].ID != 9 {
		t.Fatalf("list = %+v, want only id 9", snap.Notifications)
	}
	assertUnreadDerived(t, snap)
}

func TestStore_PushPrependsThenFetchReconciles(t *testing.T) {
	f := newFixture(t, "secret", nil)
	f.server.SetNotifications(sample())
	f.store.Start(context.Background())

	pushed := model.Notification{ID: 4, Message: "pushed"}
	f.rt.Dispatch(realtime.NotificationEvent{Notification: pushed})

	snap := f.store.Snapshot()
	if snap.Notifications[0].ID != 4 {
		t.Fatalf("head = %d, want pushed id 4", snap.Notifications[0].ID)
	}
	if snap.UnreadCount != 3 {
		t.Errorf("unread = %d, want 3", snap.UnreadCount)
	}

	// The same notification pushed twice then fetched ends up once.
	f.rt.Dispatch(realtime.NotificationEvent{Notification: pushed, Admin: true})
	if got := len(f.store.Snapshot().Notifications); got != 5 {
		t.Fatalf("len after duplicate push = %d, want 5", got)
	}
	f.server.SetNotifications(append([]model.Notification{pushed}, sample()...))
	if err := f.store.FetchNotifications(context.Background()); err != nil {
		t.Fatalf("FetchNotifications: %v", err)
	}
	snap = f.store.Snapshot()
	if len(snap.Notifications) != 4 {
		t.Errorf("len after fetch = %d, want 4", len(snap.Notifications))
	}
	assertUnreadDerived(t, snap)
}

func TestStore_PushNormalizesAccessDenied(t *testing.T) {
	f := newFixture(t, "secret", nil)
	f.server.SetNotifications(sample())
	f.store.Start(context.Background())

	f.rt.Dispatch(realtime.NotificationEvent{Notification: model.Notification{
		ID:        10,
		Type:      model.NotificationTypeAccessDenied,
		AccessLog: &model.AccessLog{CardID: "C77"},
	}})

	head := f.store.Snapshot().Notifications[0]
	if head.Message != "Access denied for card C77" {
		t.Errorf("message = %q", head.Message)
	}
	if head.CreatedAt != "2024-05-01T12:00:00Z" {
		t.Errorf("createdAt = %q", head.CreatedAt)
	}
	if head.Read {
		t.Error("pushed notification must be unread")
	}
}

func TestStore_FetchFailureKeepsState(t *testing.T) {
	f := newFixture(t, "secret", nil)
	f.server.SetNotifications(sample())
	_ = f.store.FetchNotifications(context.Background())

	f.server.SetListStatus(http.StatusInternalServerError)
	if err := f.store.FetchNotifications(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
	snap := f.store.Snapshot()
	if len(snap.Notifications) != 3 || snap.UnreadCount != 2 {
		t.Errorf("snapshot changed after failed fetch: %d items, %d unread", len(snap.Notifications), snap.UnreadCount)
	}
}

func TestStore_NoTokenIsQuiet(t *testing.T) {
	f := newFixture(t, "", nil)

	if err := f.store.FetchNotifications(context.Background()); err != nil {
		t.Fatalf("FetchNotifications: %v", err)
	}
	if err := f.store.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(f.server.Requests()) != 0 {
		t.Errorf("requests = %v, want none", f.server.Requests())
	}
	if len(f.rt.connects) != 0 {
		t.Errorf("connects = %v, want none", f.rt.connects)
	}
}

func TestStore_RemoteReadEvents(t *testing.T) {
	f := newFixture(t, "secret", nil)
	f.server.SetNotifications(sample())
	f.store.Start(context.Background())

	f.rt.Dispatch(realtime.NotificationReadEvent{ID: 3})
	snap := f.store.Snapshot()
	if !snap.Notifications[0].Read || snap.UnreadCount != 1 {
		t.Fatalf("after read event: head read=%v unread=%d", snap.Notifications[0].Read, snap.UnreadCount)
	}

	f.rt.Dispatch(realtime.AllNotificationsReadEvent{})
	snap = f.store.Snapshot()
	if snap.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", snap.UnreadCount)
	}
	assertUnreadDerived(t, snap)
}

// ── Confirmed writes ────────────────────────────────────────────────────────

func TestStore_MarkAsRead(t *testing.T) {
	f := newFixture(t, "secret", nil)
	f.server.SetNotifications(sample())
	_ = f.store.FetchNotifications(context.Background())

	if err := f.store.MarkAsRead(context.Background(), 1); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	snap := f.store.Snapshot()
	if !snap.Notifications[2].Read || snap.UnreadCount != 1 {
		t.Errorf("after mark: read=%v unread=%d", snap.Notifications[2].Read, snap.UnreadCount)
	}
}

func TestStore_MarkAsReadFailureChangesNothing(t *testing.T) {
	f := newFixture(t, "secret", nil)
	f.server.SetNotifications(sample())
	_ = f.store.FetchNotifications(context.Background())
	f.server.SetMarkStatus(http.StatusInternalServerError)

	if err := f.store.MarkAsRead(context.Background(), 1); err == nil {
		t.Fatal("expected error")
	}
	if got := f.store.UnreadCount(); got != 2 {
		t.Errorf("unread = %d, want 2", got)
	}
	if f.toasts.lastError() != msgMarkReadFailed {
		t.Errorf("toast = %q", f.toasts.lastError())
	}
}

func TestStore_MarkAllAsReadSuccess(t *testing.T) {
	f := newFixture(t, "secret", nil)
	f.server.SetNotifications(sample())
	_ = f.store.FetchNotifications(context.Background())

	if err := f.store.MarkAllAsRead(context.Background()); err != nil {
		t.Fatalf("MarkAllAsRead: %v", err)
	}
	snap := f.store.Snapshot()
	for _, n := range snap.Notifications {
		if !n.Read {
			t.Errorf("notification %d still unread", n.ID)
		}
	}
	if snap.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", snap.UnreadCount)
	}
	if len(f.toasts.successes) != 1 || f.toasts.successes[0] != msgMarkAllDone {
		t.Errorf("success toasts = %v", f.toasts.successes)
	}
}

func TestStore_MarkAllAsReadServerError(t *testing.T) {
	f := newFixture(t, "secret", nil)
	f.server.SetNotifications(sample())
	_ = f.store.FetchNotifications(context.Background())
	f.server.SetMarkAllResult(model.MarkAllResult{Success: false, Error: "boom"})

	err := f.store.MarkAllAsRead(context.Background())
	if !errors.Is(err, ErrMarkAllRejected) {
		t.Fatalf("err = %v, want ErrMarkAllRejected", err)
	}
	if got := f.toasts.lastError(); !strings.Contains(got, "boom") {
		t.Errorf("toast = %q, want it to contain boom", got)
	}
	if got := f.store.UnreadCount(); got != 2 {
		t.Errorf("unread = %d, want 2", got)
	}
}

func TestStore_MarkAllAsReadGenericFailures(t *testing.T) {
	f := newFixture(t, "secret", nil)
	f.server.SetNotifications(sample())
	_ = f.store.FetchNotifications(context.Background())

	f.server.SetMarkAllResult(model.MarkAllResult{Success: false})
	_ = f.store.MarkAllAsRead(context.Background())
	if got := f.toasts.lastError(); got != msgMarkAllFailed {
		t.Errorf("toast = %q, want %q", got, msgMarkAllFailed)
	}

	f.server.SetMarkAllStatus(http.StatusBadGateway)
	_ = f.store.MarkAllAsRead(context.Background())
	if got := f.toasts.lastError(); got != msgMarkAllTransport {
		t.Errorf("toast = %q, want %q", got, msgMarkAllTransport)
	}
	if got := f.store.UnreadCount(); got != 2 {
		t.Errorf("unread = %d, want 2", got)
	}
}

// ── Sync ────────────────────────────────────────────────────────────────────

func TestStore_SyncRefetchesOnSuccess(t *testing.T) {
	f := newFixture(t, "secret", nil)
	f.server.SetSync(
		model.SyncResult{Success: true, AccessDeniedCount: 1, TotalCount: 1},
		[]model.Notification{{ID: 20, Message: "backfilled"}},
	)

	res, err := f.store.SyncNotificationsForCurrentUser(context.Background())
	if err != nil {
		t.Fatalf("SyncNotificationsForCurrentUser: %v", err)
	}
	if res.AccessDeniedCount != 1 {
		t.Errorf("result = %+v", res)
	}
	snap := f.store.Snapshot()
	if len(snap.Notifications) != 1 || snap.Notifications[0].ID != 20 {
		t.Errorf("list = %+v", snap.Notifications)
	}
}

func TestStore_SyncForAdminWithoutSuccessSkipsFetch(t *testing.T) {
	f := newFixture(t, "secret", nil)
	f.server.SetSync(model.SyncResult{Success: false, Error: "unknown admin"}, nil)

	if _, err := f.store.SyncNotificationsForAdmin(context.Background(), 4); err != nil {
		t.Fatalf("SyncNotificationsForAdmin: %v", err)
	}
	if got := f.server.CountRequests("GET /notification/user"); got != 0 {
		t.Errorf("list requests = %d, want 0", got)
	}
}

// ── Lifecycle ───────────────────────────────────────────────────────────────

func TestStore_StartSequenceBackfillsEmptyList(t *testing.T) {
	f := newFixture(t, "secret", nil)
	f.server.SetSync(model.SyncResult{Success: true}, []model.Notification{{ID: 1, Message: "m"}})

	if err := f.store.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if len(f.rt.connects) != 1 || f.rt.connects[0] != "secret" {
		t.Errorf("connects = %v, want [secret]", f.rt.connects)
	}
	if f.rt.forceReconnects != 0 {
		t.Errorf("force reconnects = %d, want 0", f.rt.forceReconnects)
	}

	want := []string{
		"GET /notification/user",
		"POST /notification/sync-for-current-user",
		"GET /notification/user",
	}
	got := f.server.Requests()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("requests = %v, want %v", got, want)
	}
	if f.store.UnreadCount() != 1 {
		t.Errorf("unread = %d, want 1", f.store.UnreadCount())
	}
}

func TestStore_StartForcesReconnectWhenNotConnected(t *testing.T) {
	f := newFixture(t, "secret", nil)
	f.server.SetNotifications(sample())
	f.rt.refuse = true

	if err := f.store.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.rt.forceReconnects != 1 {
		t.Errorf("force reconnects = %d, want 1", f.rt.forceReconnects)
	}
	if got := f.server.CountRequests("POST /notification/sync-for-current-user"); got != 0 {
		t.Errorf("sync requests = %d, want 0 for a non-empty list", got)
	}
}

func TestStore_StartWhenConnectedForcesReconnect(t *testing.T) {
	f := newFixture(t, "secret", nil)
	f.server.SetNotifications(sample())
	f.rt.Connect("secret")

	if err := f.store.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.rt.forceReconnects != 1 {
		t.Errorf("force reconnects = %d, want 1", f.rt.forceReconnects)
	}
}

func TestStore_SafetyRefetch(t *testing.T) {
	f := newFixture(t, "secret", nil)
	f.store.opts.SafetyRefetchDelay = 10 * time.Millisecond
	f.server.SetNotifications(sample())

	if err := f.store.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	testutil.WaitFor(t, "safety refetch", func() bool {
		return f.server.CountRequests("GET /notification/user") == 2
	})
}

func TestStore_StopRemovesListeners(t *testing.T) {
	f := newFixture(t, "secret", nil)
	f.server.SetNotifications(sample())
	f.store.Start(context.Background())

	if got := f.rt.ListenerCount(realtime.EventNotification); got != 1 {
		t.Fatalf("listeners = %d, want 1", got)
	}

	f.store.Stop()
	f.rt.Dispatch(realtime.NotificationEvent{Notification: model.Notification{ID: 99}})

	if got := len(f.store.Snapshot().Notifications); got != 3 {
		t.Errorf("len = %d, want 3 (push after Stop must be ignored)", got)
	}
	if got := f.rt.ListenerCount(realtime.EventNotification); got != 0 {
		t.Errorf("listeners after Stop = %d, want 0", got)
	}
}

func TestStore_ResetClearsEverything(t *testing.T) {
	cache := testutil.NewTestStore(t)
	f := newFixture(t, "secret", cache)
	f.server.SetNotifications(sample())
	f.store.Start(context.Background())
	f.store.waitPersisted()

	saved, err := cache.LoadSnapshot(context.Background())
	if err != nil || len(saved) != 3 {
		t.Fatalf("cached = %d items (err %v), want 3", len(saved), err)
	}

	f.store.Reset(context.Background())

	snap := f.store.Snapshot()
	if len(snap.Notifications) != 0 || snap.UnreadCount != 0 {
		t.Errorf("after reset: %d items, %d unread", len(snap.Notifications), snap.UnreadCount)
	}
	if f.rt.disconnects == 0 {
		t.Error("expected realtime disconnect")
	}
	saved, err = cache.LoadSnapshot(context.Background())
	if err != nil || len(saved) != 0 {
		t.Errorf("cache after reset = %d items (err %v), want 0", len(saved), err)
	}
}

func TestStore_StartRestoresCachedSnapshot(t *testing.T) {
	cache := testutil.NewSeededStore(t, sample())

	f := newFixture(t, "secret", cache)
	f.server.SetListStatus(http.StatusServiceUnavailable)

	var seen []int
	unsubscribe := f.store.Subscribe(func(s Snapshot) { seen = append(seen, len(s.Notifications)) })
	defer unsubscribe()

	if err := f.store.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	snap := f.store.Snapshot()
	if len(snap.Notifications) != 3 || snap.UnreadCount != 2 {
		t.Errorf("snapshot = %d items, %d unread; want cached 3, 2", len(snap.Notifications), snap.UnreadCount)
	}
	if len(seen) == 0 || seen[0] != 3 {
		t.Errorf("subscriber saw %v, want first snapshot of 3", seen)
	}
}

func TestStore_SubscribeAndUnsubscribe(t *testing.T) {
	f := newFixture(t, "secret", nil)
	f.server.SetNotifications(sample())

	var calls []Snapshot
	unsubscribe := f.store.Subscribe(func(s Snapshot) { calls = append(calls, s) })

	_ = f.store.FetchNotifications(context.Background())
	if len(calls) != 1 || calls[0].UnreadCount != 2 {
		t.Fatalf("calls = %+v", calls)
	}

	unsubscribe()
	_ = f.store.MarkAllAsRead(context.Background())
	if len(calls) != 1 {
		t.Errorf("calls after unsubscribe = %d, want 1", len(calls))
	}
}

// ── Session teardown and delivery order ─────────────────────────────────────

// heldListAPI answers ListNotifications only once release is closed.
type heldListAPI struct {
	API
	started chan struct{}
	release chan struct{}
	list    []model.Notification
}

func (a *heldListAPI) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	close(a.started)
	<-a.release
	return a.list, nil
}

// switchToken is a token source that can be changed mid-test.
type switchToken struct {
	mu    sync.Mutex
	token string
}

func (t *switchToken) AccessToken() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token
}

func (t *switchToken) set(token string) {
	t.mu.Lock()
	t.token = token
	t.mu.Unlock()
}

func TestStore_FetchInFlightDuringResetIsDiscarded(t *testing.T) {
	tests := []struct {
		name       string
		clearToken bool
	}{
		{name: "token removed", clearToken: true},
		{name: "token kept", clearToken: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			cache := testutil.NewTestStore(t)
			tokens := &switchToken{token: "secret"}
			held := &heldListAPI{
				started: make(chan struct{}),
				release: make(chan struct{}),
				list:    sample(),
			}
			st := NewStore(held, newFakeRealtime(), tokens, Options{Cache: cache, Logger: zerolog.Nop()})
			t.Cleanup(st.Stop)

			done := make(chan error, 1)
			go func() { done <- st.FetchNotifications(ctx) }()
			<-held.started

			if tt.clearToken {
				tokens.set("")
			}
			st.Reset(ctx)
			close(held.release)

			if err := <-done; err != nil {
				t.Fatalf("FetchNotifications: %v", err)
			}
			st.waitPersisted()

			if n := len(st.Snapshot().Notifications); n != 0 {
				t.Errorf("store has %d notifications after reset, want 0", n)
			}
			saved, err := cache.LoadSnapshot(ctx)
			if err != nil || len(saved) != 0 {
				t.Errorf("cached snapshot = %d items (err %v), want 0", len(saved), err)
			}
		})
	}
}

func TestStore_SubscribersSeeChangesInOrder(t *testing.T) {
	f := newFixture(t, "secret", nil)

	var (
		mu        sync.Mutex
		delivered []int
		first     sync.Once
	)
	firstIn := make(chan struct{})
	releaseFirst := make(chan struct{})

	f.store.Subscribe(func(s Snapshot) {
		block := false
		first.Do(func() { block = true })
		if block {
			close(firstIn)
			<-releaseFirst
		}
		mu.Lock()
		delivered = append(delivered, len(s.Notifications))
		mu.Unlock()
	})

	push := func(id int) chan struct{} {
		done := make(chan struct{})
		go func() {
			defer close(done)
			f.store.apply(func(list []model.Notification) []model.Notification {
				return prepend(list, model.Notification{ID: id})
			})
		}()
		return done
	}

	doneA := push(1)
	<-firstIn
	doneB := push(2)
	time.Sleep(20 * time.Millisecond)
	close(releaseFirst)
	<-doneA
	<-doneB

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 2 || delivered[0] != 1 || delivered[1] != 2 {
		t.Errorf("delivered list sizes %v, want [1 2]", delivered)
	}
	if got := len(f.store.Snapshot().Notifications); got != delivered[len(delivered)-1] {
		t.Errorf("store has %d notifications, last delivered snapshot has %d", got, delivered[len(delivered)-1])
	}
}

// gatedCache blocks SaveSnapshot until opened.
type gatedCache struct {
	gate chan struct{}
	once sync.Once

	mu    sync.Mutex
	saves int
	last  []model.Notification
}

func (c *gatedCache) open() { c.once.Do(func() { close(c.gate) }) }

func (c *gatedCache) SaveSnapshot(_ context.Context, list []model.Notification) error {
	<-c.gate
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saves++
	c.last = list
	return nil
}

func (c *gatedCache) LoadSnapshot(context.Context) ([]model.Notification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, nil
}

func (c *gatedCache) ClearSnapshot(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = nil
	return nil
}

func TestStore_PushDoesNotWaitForCache(t *testing.T) {
	cache := &gatedCache{gate: make(chan struct{})}
	f := newFixture(t, "secret", cache)
	t.Cleanup(cache.open)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for id := 1; id <= 3; id++ {
			f.store.onNotification(realtime.NotificationEvent{Notification: model.Notification{ID: id}})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		cache.open()
		t.Fatal("pushes blocked on the snapshot cache")
	}

	cache.open()
	f.store.waitPersisted()

	cache.mu.Lock()
	defer cache.mu.Unlock()
	if len(cache.last) != 3 {
		t.Errorf("cached %d notifications, want the latest 3", len(cache.last))
	}
	if cache.saves > 2 {
		t.Errorf("saves = %d, want pending writes coalesced into at most 2", cache.saves)
	}
}
