package db

// SchemaVersion is the current database schema version
const SchemaVersion = 3

// All timestamps are stored as INTEGER unix nanoseconds so ordering survives
// sub-second bursts and both SQLite drivers read them identically.
const schema = `
-- Cached entity records, one logical key-value table per synced table
CREATE TABLE IF NOT EXISTS records (
    table_name TEXT NOT NULL,
    id TEXT NOT NULL,
    owner_id TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL DEFAULT '',
    sync_status TEXT NOT NULL DEFAULT 'pending',
    last_error TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    last_accessed_at INTEGER NOT NULL,
    remote_version INTEGER NOT NULL DEFAULT 0,
    remote_modified_at INTEGER,
    deleted INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (table_name, id)
);

CREATE INDEX IF NOT EXISTS idx_records_owner ON records(table_name, owner_id);
CREATE INDEX IF NOT EXISTS idx_records_lru ON records(last_accessed_at);

-- Pending mutations, at most one per entity
CREATE TABLE IF NOT EXISTS outbox (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    operation TEXT NOT NULL,
    table_name TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '',
    base_version INTEGER NOT NULL DEFAULT 0,
    enqueued_at INTEGER NOT NULL,
    mutated_at INTEGER NOT NULL,
    revision INTEGER NOT NULL DEFAULT 1,
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_attempt_at INTEGER,
    last_error TEXT,
    error_kind TEXT NOT NULL DEFAULT '',
    next_attempt_at INTEGER,
    blocked INTEGER NOT NULL DEFAULT 0,
    attempting INTEGER NOT NULL DEFAULT 0,
    UNIQUE (table_name, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_outbox_order ON outbox(enqueued_at, id);

-- Append-only sync audit trail
CREATE TABLE IF NOT EXISTS activity_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    table_name TEXT NOT NULL DEFAULT '',
    entity_id TEXT NOT NULL DEFAULT '',
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activity_created ON activity_log(created_at);

-- Singleton drain/auth state
CREATE TABLE IF NOT EXISTS sync_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    last_drain_at INTEGER,
    last_succeeded INTEGER NOT NULL DEFAULT 0,
    last_failed INTEGER NOT NULL DEFAULT 0,
    last_conflicts INTEGER NOT NULL DEFAULT 0,
    auth_required INTEGER NOT NULL DEFAULT 0,
    auth_required_msg TEXT NOT NULL DEFAULT ''
);

INSERT OR IGNORE INTO sync_state (id) VALUES (1);

CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Migration defines a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the list of all database migrations in order
var Migrations = []Migration{
	// Version 1 is the initial schema - no migration needed
	{
		Version:     2,
		Description: "Add outbox_quarantine for undecodable entries",
		SQL: `
CREATE TABLE IF NOT EXISTS outbox_quarantine (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    outbox_id INTEGER NOT NULL,
    operation TEXT NOT NULL,
    table_name TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL,
    quarantined_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quarantine_entity ON outbox_quarantine(table_name, entity_id);
`,
	},
	{
		Version:     3,
		Description: "Track pull time and index activity by kind",
		SQL: `
ALTER TABLE sync_state ADD COLUMN last_pulled_at INTEGER;
CREATE INDEX IF NOT EXISTS idx_activity_kind ON activity_log(kind, created_at);
`,
	},
}
