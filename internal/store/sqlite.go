package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/access-console/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Every connection to ":memory:" is a separate database, and one
	// writer is all the console needs for a file.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SaveSnapshot replaces the stored list with list, keeping its order.
// Duplicate ids are stored as they are.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, list []model.Notification) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM notification_snapshot"); err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}

	if len(list) > 0 {
		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO notification_snapshot (
				position, notification_id, type, read, payload, saved_at
			) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing snapshot insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for i, n := range list {
			payload, err := json.Marshal(n)
			if err != nil {
				return fmt.Errorf("marshaling notification %d: %w", n.ID, err)
			}
			_, err = stmt.ExecContext(ctx,
				i, n.ID, string(n.Type), boolToInt(n.Read), string(payload), now,
			)
			if err != nil {
				return fmt.Errorf("saving notification %d: %w", n.ID, err)
			}
		}
	}

	return tx.Commit()
}

// LoadSnapshot returns the stored list in its saved order. An empty store
// yields an empty, non-nil slice.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context) ([]model.Notification, error) {
	var payloads []string
	err := s.db.SelectContext(ctx, &payloads,
		"SELECT payload FROM notification_snapshot ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}

	list := make([]model.Notification, 0, len(payloads))
	for _, p := range payloads {
		var n model.Notification
		if err := json.Unmarshal([]byte(p), &n); err != nil {
			return nil, fmt.Errorf("unmarshaling snapshot row: %w", err)
		}
		list = append(list, n)
	}
	return list, nil
}

// ClearSnapshot removes the stored list.
func (s *SQLiteStore) ClearSnapshot(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM notification_snapshot"); err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}
	return nil
}

// SnapshotUnreadCount counts unread rows in the stored list.
func (s *SQLiteStore) SnapshotUnreadCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM notification_snapshot WHERE read = 0")
	if err != nil {
		return 0, fmt.Errorf("counting unread snapshot rows: %w", err)
	}
	return n, nil
}

// RecordSync stores the outcome of a sync request. If the run has no ID,
// a new UUID is generated.
func (s *SQLiteStore) RecordSync(ctx context.Context, run model.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (
			id, admin_id, success, access_denied_count, other_count,
			total_count, message, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.AdminID, boolToInt(run.Result.Success),
		run.Result.AccessDeniedCount, run.Result.OtherNotificationsCount,
		run.Result.TotalCount, run.Result.Message, run.Result.Error,
		run.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording sync run: %w", err)
	}
	return nil
}

// syncRunRow mirrors a sync_runs row.
type syncRunRow struct {
	ID                string    `db:"id"`
	AdminID           int       `db:"admin_id"`
	Success           int       `db:"success"`
	AccessDeniedCount int       `db:"access_denied_count"`
	OtherCount        int       `db:"other_count"`
	TotalCount        int       `db:"total_count"`
	Message           string    `db:"message"`
	Error             string    `db:"error"`
	CreatedAt         time.Time `db:"created_at"`
}

// RecentSyncs returns up to limit sync runs, newest first.
func (s *SQLiteStore) RecentSyncs(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 10
	}

	var rows []syncRunRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, admin_id, success, access_denied_count, other_count,
			total_count, message, error, created_at
		FROM sync_runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sync runs: %w", err)
	}

	runs := make([]model.SyncRun, 0, len(rows))
	for _, r := range rows {
		runs = append(runs, model.SyncRun{
			ID:      r.ID,
			AdminID: r.AdminID,
			Result: model.SyncResult{
				Success:                 r.Success != 0,
				AccessDeniedCount:       r.AccessDeniedCount,
				OtherNotificationsCount: r.OtherCount,
				TotalCount:              r.TotalCount,
				Message:                 r.Message,
				Error:                   r.Error,
			},
			CreatedAt: r.CreatedAt,
		})
	}
	return runs, nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
