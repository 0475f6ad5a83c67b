package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notification_snapshot (
	position        INTEGER PRIMARY KEY,
	notification_id INTEGER NOT NULL,
	type            TEXT NOT NULL DEFAULT '',
	read            INTEGER NOT NULL DEFAULT 0 CHECK(read IN (0, 1)),
	payload         TEXT NOT NULL,
	saved_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_snapshot_read ON notification_snapshot(read);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS sync_runs (
	id                  TEXT PRIMARY KEY,
	admin_id            INTEGER NOT NULL DEFAULT 0,
	success             INTEGER NOT NULL DEFAULT 0 CHECK(success IN (0, 1)),
	access_denied_count INTEGER NOT NULL DEFAULT 0,
	other_count         INTEGER NOT NULL DEFAULT 0,
	total_count         INTEGER NOT NULL DEFAULT 0,
	message             TEXT NOT NULL DEFAULT '',
	error               TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_created ON sync_runs(created_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
