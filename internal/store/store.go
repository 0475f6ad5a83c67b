package store

import (
	"context"

	"github.com/nhle/access-console/internal/model"
)

// Store defines the local persistence used by the console: the last known
// notification list and a history of server-side sync runs.
type Store interface {
	// === Notification snapshot ===

	SaveSnapshot(ctx context.Context, list []model.Notification) error
	LoadSnapshot(ctx context.Context) ([]model.Notification, error)
	ClearSnapshot(ctx context.Context) error
	SnapshotUnreadCount(ctx context.Context) (int, error)

	// === Sync history ===

	RecordSync(ctx context.Context, run model.SyncRun) error
	RecentSyncs(ctx context.Context, limit int) ([]model.SyncRun, error)

	Close() error
}
