package testutil

import (
	"context"
	"testing"

	"github.com/nhle/access-console/internal/model"
	"github.com/nhle/access-console/internal/store"
)

// NewTestStore opens an in-memory snapshot cache with the schema applied.
// It is closed when the test ends.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("opening snapshot cache: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing snapshot cache: %v", err)
		}
	})
	return s
}

// NewSeededStore is NewTestStore with list saved as the last known
// notification snapshot, as a previous run would have left it.
func NewSeededStore(t *testing.T, list []model.Notification) *store.SQLiteStore {
	t.Helper()

	s := NewTestStore(t)
	if err := s.SaveSnapshot(context.Background(), list); err != nil {
		t.Fatalf("seeding snapshot: %v", err)
	}
	return s
}
