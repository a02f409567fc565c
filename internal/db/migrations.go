package db

import (
	"database/sql"
	"fmt"
	"strconv"
)

// columnExists checks whether a column exists on a table
func (db *DB) columnExists(table, column string) (bool, error) {
	rows, err := db.conn.Query(fmt.Sprintf("PRAGMA table_info(%s);", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}

	return false, rows.Err()
}

// GetSchemaVersion returns the current schema version from the database
func (db *DB) GetSchemaVersion() (int, error) {
	var version string
	err := db.conn.QueryRow("SELECT value FROM schema_info WHERE key = 'version'").Scan(&version)
	if err != nil {
		// No row or no table yet: pre-migration store
		return 0, nil
	}
	v, err := strconv.Atoi(version)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", version, err)
	}
	return v, nil
}

func (db *DB) setSchemaVersionInternal(version int) error {
	_, err := db.conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
		strconv.Itoa(version))
	return err
}

// RunMigrations applies pending migrations under the write lock and returns how many ran.
func (db *DB) RunMigrations() (int, error) {
	// Quick check without lock
	if v, _ := db.GetSchemaVersion(); v >= SchemaVersion {
		return 0, nil
	}

	var migrationsRun int
	err := db.withWriteLock(func() error {
		var err error
		migrationsRun, err = db.runMigrationsInternal()
		return err
	})
	return migrationsRun, err
}

// runMigrationsInternal applies migrations; the caller holds the write lock.
func (db *DB) runMigrationsInternal() (int, error) {
	if _, err := db.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_info (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return 0, fmt.Errorf("create schema_info: %w", err)
	}

	currentVersion, err := db.GetSchemaVersion()
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}

	migrationsRun := 0
	for _, migration := range Migrations {
		if migration.Version <= currentVersion {
			continue
		}

		stmt := migration.SQL
		if migration.Version == 3 {
			// ALTER TABLE is not idempotent; skip it when a copied store already has the column
			exists, err := db.columnExists("sync_state", "last_pulled_at")
			if err != nil {
				return migrationsRun, fmt.Errorf("check column last_pulled_at: %w", err)
			}
			if exists {
				stmt = `CREATE INDEX IF NOT EXISTS idx_activity_kind ON activity_log(kind, created_at);`
			}
		}

		if _, err := db.conn.Exec(stmt); err != nil {
			return migrationsRun, fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Description, err)
		}
		if err := db.setSchemaVersionInternal(migration.Version); err != nil {
			return migrationsRun, fmt.Errorf("set version %d: %w", migration.Version, err)
		}
		migrationsRun++
	}

	if currentVersion == 0 && migrationsRun == 0 {
		if err := db.setSchemaVersionInternal(SchemaVersion); err != nil {
			return 0, fmt.Errorf("set version: %w", err)
		}
	}

	return migrationsRun, nil
}
