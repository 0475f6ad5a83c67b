package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/gorilla/mux"

	"github.com/nhle/access-console/internal/model"
)

// APIServer is an in-process fake of the access-control server's
// notification endpoints. Requests must carry "Bearer <Token>".
type APIServer struct {
	*httptest.Server

	Token string

	mu            sync.Mutex
	notifications []model.Notification
	listStatus    int
	markStatus    int
	markAll       *model.MarkAllResult
	markAllStatus int
	syncResult    model.SyncResult
	syncCreates   []model.Notification
	rateLimited   int
	requests      []string
}

// NewAPIServer starts an APIServer that is shut down when the test
// completes.
func NewAPIServer(t *testing.T, token string) *APIServer {
	t.Helper()

	s := &APIServer{
		Token:      token,
		syncResult: model.SyncResult{Success: true, Message: "ok"},
	}

	r := mux.NewRouter()
	r.Use(s.record, s.authenticate)
	n := r.PathPrefix("/notification").Subrouter()
	n.HandleFunc("/user", s.handleList).Methods(http.MethodGet)
	n.HandleFunc("/read-all", s.handleMarkAll).Methods(http.MethodPatch)
	n.HandleFunc("/{id:[0-9]+}/read", s.handleMarkRead).Methods(http.MethodPatch)
	n.HandleFunc("/sync-for-current-user", s.handleSync).Methods(http.MethodPost)
	n.HandleFunc("/sync-access-denied/{adminId:[0-9]+}", s.handleSync).Methods(http.MethodPost)
	n.HandleFunc("/debug/{userId:[0-9]+}", s.handleDebug).Methods(http.MethodGet)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Server.Close)
	return s
}

func (s *APIServer) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		limited := s.rateLimited > 0
		if limited {
			s.rateLimited--
		}
		s.mu.Unlock()

		if limited {
			w.Header().Set("Retry-After", "0")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"message": "slow down"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *APIServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.Token {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"statusCode": 401,
				"message":    "Unauthorized",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *APIServer) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := s.listStatus
	list := append([]model.Notification{}, s.notifications...)
	s.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, map[string]string{"message": "list failed"})
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *APIServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.markStatus != 0 {
		writeJSON(w, s.markStatus, map[string]string{"message": "mark failed"})
		return
	}
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].Read = true
			writeJSON(w, http.StatusOK, s.notifications[i])
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "notification not found"})
}

func (s *APIServer) handleMarkAll(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.markAllStatus != 0 {
		writeJSON(w, s.markAllStatus, map[string]string{"message": "mark all failed"})
		return
	}
	if s.markAll != nil {
		writeJSON(w, http.StatusOK, s.markAll)
		return
	}
	for i := range s.notifications {
		s.notifications[i].Read = true
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "count": len(s.notifications)})
}

func (s *APIServer) handleSync(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications = append(append([]model.Notification{}, s.syncCreates...), s.notifications...)
	s.syncCreates = nil
	writeJSON(w, http.StatusOK, s.syncResult)
}

func (s *APIServer) handleDebug(w http.ResponseWriter, r *http.Request) {
	userID, _ := strconv.Atoi(mux.Vars(r)["userId"])

	s.mu.Lock()
	defer s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"userId": userID,
		"total":  len(s.notifications),
	})
}

// SetNotifications replaces the server-side list.
func (s *APIServer) SetNotifications(list []model.Notification) {
	s.mu.Lock()
	s.notifications = append([]model.Notification{}, list...)
	s.mu.Unlock()
}

// Notifications returns a copy of the server-side list.
func (s *APIServer) Notifications() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Notification{}, s.notifications...)
}

// SetListStatus makes the list endpoint fail with status. Zero restores it.
func (s *APIServer) SetListStatus(status int) {
	s.mu.Lock()
	s.listStatus = status
	s.mu.Unlock()
}

// SetMarkStatus makes the mark-read endpoint fail with status.
func (s *APIServer) SetMarkStatus(status int) {
	s.mu.Lock()
	s.markStatus = status
	s.mu.Unlock()
}

// SetMarkAllResult makes the mark-all endpoint answer 200 with result
// without changing the list.
func (s *APIServer) SetMarkAllResult(result model.MarkAllResult) {
	s.mu.Lock()
	s.markAll = &result
	s.mu.Unlock()
}

// SetMarkAllStatus makes the mark-all endpoint fail with status.
func (s *APIServer) SetMarkAllStatus(status int) {
	s.mu.Lock()
	s.markAllStatus = status
	s.mu.Unlock()
}

// SetSync sets the sync endpoints' response and the notifications a sync
// call adds to the list.
func (s *APIServer) SetSync(result model.SyncResult, creates []model.Notification) {
	s.mu.Lock()
	s.syncResult = result
	s.syncCreates = append([]model.Notification{}, creates...)
	s.mu.Unlock()
}

// RateLimitNext answers the next n requests with 429.
func (s *APIServer) RateLimitNext(n int) {
	s.mu.Lock()
	s.rateLimited = n
	s.mu.Unlock()
}

// Requests returns "METHOD /path" for every request received, in order.
func (s *APIServer) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// CountRequests returns how many requests matched "METHOD /path".
func (s *APIServer) CountRequests(request string) int {
	n := 0
	for _, r := range s.Requests() {
		if r == request {
			n++
		}
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
