package db

import (
	"database/sql"
	"time"

	"github.com/marcus/sn/internal/models"
)

// GetSyncState returns the singleton drain and auth state.
func (db *DB) GetSyncState() (*models.SyncState, error) {
	var s models.SyncState
	var lastDrain, lastPulled sql.NullInt64
	var auth int

	err := db.conn.QueryRow(`
		SELECT last_drain_at, last_succeeded, last_failed, last_conflicts, last_pulled_at,
			auth_required, auth_required_msg
		FROM sync_state WHERE id = 1
	`).Scan(&lastDrain, &s.LastSucceeded, &s.LastFailed, &s.LastConflicts, &lastPulled,
		&auth, &s.AuthRequiredMsg)
	if err == sql.ErrNoRows {
		return &s, nil
	}
	if err != nil {
		return nil, err
	}
	s.LastDrainAt = timePtr(lastDrain)
	s.LastPulledAt = timePtr(lastPulled)
	s.AuthRequired = auth != 0
	return &s, nil
}

// RecordDrain stores the outcome counts of the drain that finished at at.
func (db *DB) RecordDrain(at time.Time, succeeded, failed, conflicts int) error {
	return db.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE sync_state SET last_drain_at = ?, last_succeeded = ?, last_failed = ?, last_conflicts = ?
			WHERE id = 1
		`, toNanos(at), succeeded, failed, conflicts)
		return err
	})
}

// SetAuthRequired flags that the remote rejected our credentials. Draining
// stays paused until ClearAuthRequired.
func (db *DB) SetAuthRequired(msg string) error {
	return db.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE sync_state SET auth_required = 1, auth_required_msg = ? WHERE id = 1`, msg)
		return err
	})
}

// ClearAuthRequired resets the flag, typically after a fresh login.
func (db *DB) ClearAuthRequired() error {
	return db.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE sync_state SET auth_required = 0, auth_required_msg = '' WHERE id = 1`)
		return err
	})
}

// MarkPulled records when the cache was last refreshed from the remote.
func (db *DB) MarkPulled(at time.Time) error {
	return db.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE sync_state SET last_pulled_at = ? WHERE id = 1`, toNanos(at))
		return err
	})
}
