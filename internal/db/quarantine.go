package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/marcus/sn/internal/events"
	"github.com/marcus/sn/internal/models"
)

// Quarantine moves an entry that can never be applied out of the active
// queue. The cached record is marked failed so the host can surface it.
func (db *DB) Quarantine(e *models.OutboxEntry, reason string) error {
	return db.withTx(func(tx *sql.Tx) error {
		now := db.clock.Now()
		if _, err := tx.Exec(`
			INSERT INTO outbox_quarantine (outbox_id, operation, table_name, entity_id, payload, reason, quarantined_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, e.ID, string(e.Operation), string(e.Table), e.EntityID, string(e.Payload), reason, toNanos(now)); err != nil {
			return fmt.Errorf("insert quarantine row: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM outbox WHERE id = ?`, e.ID); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE records SET sync_status = ?, last_error = ? WHERE table_name = ? AND id = ?`,
			string(models.SyncFailed), "quarantined: "+reason, string(e.Table), e.EntityID); err != nil {
			return err
		}
		return db.recordActivityTx(tx, events.KindQuarantined, e.Table, e.EntityID, map[string]any{
			"operation": string(e.Operation),
			"reason":    reason,
		})
	})
}

// ListQuarantine returns quarantined entries, newest first.
func (db *DB) ListQuarantine() ([]models.QuarantinedEntry, error) {
	rows, err := db.conn.Query(`
		SELECT id, outbox_id, operation, table_name, entity_id, payload, reason, quarantined_at
		FROM outbox_quarantine ORDER BY id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.QuarantinedEntry
	for rows.Next() {
		var q models.QuarantinedEntry
		var op, table string
		var at int64
		if err := rows.Scan(&q.ID, &q.OutboxID, &op, &table, &q.EntityID, &q.Payload, &q.Reason, &at); err != nil {
			return nil, err
		}
		q.Operation = models.Operation(op)
		q.Table = models.Table(table)
		q.QuarantinedAt = fromNanos(at)
		out = append(out, q)
	}
	return out, rows.Err()
}

// RequeueQuarantined drops a quarantine row and enqueues the entity again
// from its current cached state. The cached payload must decode; fix it with
// Put first if it does not.
func (db *DB) RequeueQuarantined(id int64) error {
	return db.withTx(func(tx *sql.Tx) error {
		var table, entityID string
		err := tx.QueryRow(`SELECT table_name, entity_id FROM outbox_quarantine WHERE id = ?`, id).Scan(&table, &entityID)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		rec, err := getRecordTx(tx, models.Table(table), entityID)
		if errors.Is(err, ErrNotFound) {
			// Nothing left to send
			_, err := tx.Exec(`DELETE FROM outbox_quarantine WHERE id = ?`, id)
			return err
		}
		if err != nil {
			return err
		}

		op, payload := requeueOp(rec)
		if op != models.OpDelete {
			if _, err := models.DecodePayload(rec.Table, payload); err != nil {
				return fmt.Errorf("requeue %s %s: %w", table, entityID, err)
			}
		}
		if _, err := tx.Exec(`DELETE FROM outbox_quarantine WHERE table_name = ? AND entity_id = ?`, table, entityID); err != nil {
			return err
		}
		if _, err := db.enqueueTx(tx, op, rec.Table, rec.ID, payload, rec.RemoteVersion, db.clock.Now()); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE records SET sync_status = ?, last_error = '' WHERE table_name = ? AND id = ?`,
			string(models.SyncPending), table, entityID); err != nil {
			return err
		}
		return db.recordActivityTx(tx, events.KindRetryRequested, rec.Table, rec.ID, map[string]any{
			"quarantine_id": id,
			"operation":     string(op),
		})
	})
}

// requeueOp picks the mutation that brings the remote in line with a cached record.
func requeueOp(rec *models.Record) (models.Operation, []byte) {
	switch {
	case rec.Deleted:
		return models.OpDelete, nil
	case rec.RemoteVersion == 0:
		return models.OpCreate, rec.Payload
	default:
		return models.OpUpdate, rec.Payload
	}
}
