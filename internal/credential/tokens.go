package credential

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
)

// EnvToken overrides the stored access token when set.
const EnvToken = "ACCESS_CONSOLE_TOKEN"

// Session is what login stores.
type Session struct {
	AccessToken  string
	RefreshToken string
	UserID       int
}

// Tokens serves the current access token to the API client and the
// realtime connection. The stored value is cached; Reload re-reads it.
type Tokens struct {
	store TokenStore

	mu     sync.RWMutex
	cached string
}

// NewTokens returns Tokens backed by store with the stored token loaded.
func NewTokens(store TokenStore) *Tokens {
	t := &Tokens{store: store}
	t.Reload()
	return t
}

// AccessToken returns the environment override or the cached stored token.
func (t *Tokens) AccessToken() string {
	if v := os.Getenv(EnvToken); v != "" {
		return v
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cached
}

// Reload re-reads the stored token and reports whether it changed. A read
// error other than ErrNotFound keeps the cached value.
func (t *Tokens) Reload() (token string, changed bool) {
	v, err := t.store.Get(KeyAccessToken)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return t.AccessToken(), false
	}

	t.mu.Lock()
	changed = v != t.cached
	t.cached = v
	t.mu.Unlock()

	return t.AccessToken(), changed
}

// Save stores a session and makes its token current.
func (t *Tokens) Save(s Session) error {
	if s.AccessToken == "" {
		return errors.New("empty access token")
	}
	if err := t.store.Set(KeyAccessToken, s.AccessToken); err != nil {
		return err
	}
	if s.RefreshToken != "" {
		if err := t.store.Set(KeyRefreshToken, s.RefreshToken); err != nil {
			return err
		}
	}
	if s.UserID != 0 {
		if err := t.store.Set(KeyUserID, strconv.Itoa(s.UserID)); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.cached = s.AccessToken
	t.mu.Unlock()
	return nil
}

// Clear removes every stored session key.
func (t *Tokens) Clear() error {
	for _, key := range []string{KeyAccessToken, KeyRefreshToken, KeyUserID} {
		if err := t.store.Delete(key); err != nil {
			return fmt.Errorf("logging out: %w", err)
		}
	}

	t.mu.Lock()
	t.cached = ""
	t.mu.Unlock()
	return nil
}

// UserID returns the stored user id, or falls back to the id carried in
// the access token. Zero means unknown.
func (t *Tokens) UserID() int {
	if v, err := t.store.Get(KeyUserID); err == nil {
		if id, err := strconv.Atoi(v); err == nil {
			return id
		}
	}
	if ident, err := ParseIdentity(t.AccessToken()); err == nil {
		return ident.UserID
	}
	return 0
}
