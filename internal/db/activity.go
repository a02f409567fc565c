package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/sn/internal/events"
	"github.com/marcus/sn/internal/models"
)

// DefaultActivityKeep is how many activity rows PruneActivity retains when
// the caller passes zero.
const DefaultActivityKeep = 5000

// RecordActivity appends an entry to the activity log.
func (db *DB) RecordActivity(kind events.Kind, table models.Table, entityID string, metadata any) error {
	return db.withTx(func(tx *sql.Tx) error {
		return db.recordActivityTx(tx, kind, table, entityID, metadata)
	})
}

func (db *DB) recordActivityTx(tx *sql.Tx, kind events.Kind, table models.Table, entityID string, metadata any) error {
	if !events.IsValidKind(string(kind)) {
		return fmt.Errorf("unknown activity kind %q", kind)
	}
	meta := []byte("{}")
	if metadata != nil {
		switch m := metadata.(type) {
		case json.RawMessage:
			if len(m) > 0 {
				meta = m
			}
		default:
			b, err := json.Marshal(metadata)
			if err != nil {
				return fmt.Errorf("marshal activity metadata: %w", err)
			}
			meta = b
		}
	}
	_, err := tx.Exec(`
		INSERT INTO activity_log (kind, table_name, entity_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(kind), string(table), entityID, string(meta), toNanos(db.clock.Now()))
	return err
}

const activityColumns = `id, kind, table_name, entity_id, metadata, created_at`

func scanActivity(rows *sql.Rows) ([]models.ActivityEntry, error) {
	defer rows.Close()

	var entries []models.ActivityEntry
	for rows.Next() {
		var e models.ActivityEntry
		var table, meta string
		var created int64
		if err := rows.Scan(&e.ID, &e.Kind, &table, &e.EntityID, &meta, &created); err != nil {
			return nil, err
		}
		e.Table = models.Table(table)
		e.Metadata = json.RawMessage(meta)
		e.CreatedAt = fromNanos(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ActivityTail returns the last limit entries in chronological order. kind
// and since narrow the result when set.
func (db *DB) ActivityTail(limit int, kind events.Kind, since *time.Time) ([]models.ActivityEntry, error) {
	query := `SELECT ` + activityColumns + ` FROM activity_log WHERE 1=1`
	var args []any
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	if since != nil {
		query += ` AND created_at >= ?`
		args = append(args, toNanos(*since))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	entries, err := scanActivity(rows)
	if err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// ActivitySince returns entries with id > afterID, oldest first. Used for
// follow-mode polling.
func (db *DB) ActivitySince(afterID int64, limit int) ([]models.ActivityEntry, error) {
	rows, err := db.conn.Query(`SELECT `+activityColumns+` FROM activity_log
		WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	return scanActivity(rows)
}

// PruneActivity deletes rows not in the newest keep entries.
func (db *DB) PruneActivity(keep int) (int64, error) {
	if keep <= 0 {
		keep = DefaultActivityKeep
	}
	var pruned int64
	err := db.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			DELETE FROM activity_log WHERE id NOT IN (
				SELECT id FROM activity_log ORDER BY id DESC LIMIT ?
			)
		`, keep)
		if err != nil {
			return err
		}
		pruned, _ = res.RowsAffected()
		return nil
	})
	return pruned, err
}
