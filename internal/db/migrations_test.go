package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// v1Schema is the store layout before quarantine and pull tracking existed.
const v1Schema = `
CREATE TABLE records (table_name TEXT NOT NULL, id TEXT NOT NULL, owner_id TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL DEFAULT '', sync_status TEXT NOT NULL DEFAULT 'pending', last_error TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL, updated_at INTEGER NOT NULL, last_accessed_at INTEGER NOT NULL,
    remote_version INTEGER NOT NULL DEFAULT 0, remote_modified_at INTEGER, deleted INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (table_name, id));
CREATE TABLE sync_state (id INTEGER PRIMARY KEY CHECK (id = 1), last_drain_at INTEGER,
    last_succeeded INTEGER NOT NULL DEFAULT 0, last_failed INTEGER NOT NULL DEFAULT 0,
    last_conflicts INTEGER NOT NULL DEFAULT 0, auth_required INTEGER NOT NULL DEFAULT 0,
    auth_required_msg TEXT NOT NULL DEFAULT '');
INSERT INTO sync_state (id) VALUES (1);
CREATE TABLE schema_info (key TEXT PRIMARY KEY, value TEXT NOT NULL);
INSERT INTO schema_info (key, value) VALUES ('version', '1');
`

func TestMigrateFromV1(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".sn"), 0755); err != nil {
		t.Fatal(err)
	}
	conn, err := sql.Open("sqlite", Path(dir))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := conn.Exec(v1Schema); err != nil {
		t.Fatalf("seed v1 schema: %v", err)
	}
	conn.Close()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	v, _ := db.GetSchemaVersion()
	if v != SchemaVersion {
		t.Errorf("version = %d, want %d", v, SchemaVersion)
	}
	ok, err := db.columnExists("sync_state", "last_pulled_at")
	if err != nil || !ok {
		t.Errorf("last_pulled_at missing after migration: %v", err)
	}
	if _, err := db.ListQuarantine(); err != nil {
		t.Errorf("quarantine table missing: %v", err)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db := newTestDB(t)

	n, err := db.RunMigrations()
	if err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	if n != 0 {
		t.Errorf("ran %d migrations on a current store", n)
	}

	// Column present but version behind, as with a store copied mid-upgrade
	if err := db.setSchemaVersionInternal(2); err != nil {
		t.Fatal(err)
	}
	n, err = db.RunMigrations()
	if err != nil {
		t.Fatalf("RunMigrations after rewind: %v", err)
	}
	if n != 1 {
		t.Errorf("ran %d migrations, want 1", n)
	}
}
