package db

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/marcus/sn/internal/events"
	"github.com/marcus/sn/internal/models"
)

// Reconcile repairs the store after an unclean shutdown. In-flight flags are
// cleared, every unsynced record without an outbox entry gets one, and
// synced records that still have an entry go back to pending. Quarantined
// entities are left alone. Returns the number of entries re-enqueued.
func (db *DB) Reconcile() (int, error) {
	var requeued int
	err := db.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE outbox SET attempting = 0 WHERE attempting = 1`); err != nil {
			return err
		}

		rows, err := tx.Query(`SELECT `+recordColumns+` FROM records r
			WHERE r.sync_status != ?
			AND NOT EXISTS (SELECT 1 FROM outbox o WHERE o.table_name = r.table_name AND o.entity_id = r.id)
			AND NOT EXISTS (SELECT 1 FROM outbox_quarantine q WHERE q.table_name = r.table_name AND q.entity_id = r.id)
		`, string(models.SyncSynced))
		if err != nil {
			return err
		}
		var orphans []*models.Record
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				rows.Close()
				return err
			}
			orphans = append(orphans, rec)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		now := db.clock.Now()
		for _, rec := range orphans {
			op, payload := requeueOp(rec)
			if op != models.OpDelete {
				if _, err := models.DecodePayload(rec.Table, payload); err != nil {
					slog.Warn("sync: reconcile skipped undecodable record", "table", rec.Table, "id", rec.ID, "err", err)
					if _, err := tx.Exec(`UPDATE records SET sync_status = ?, last_error = ? WHERE table_name = ? AND id = ?`,
						string(models.SyncFailed), err.Error(), string(rec.Table), rec.ID); err != nil {
						return err
					}
					continue
				}
			}
			if _, err := db.enqueueTx(tx, op, rec.Table, rec.ID, payload, rec.RemoteVersion, now); err != nil {
				return fmt.Errorf("requeue %s %s: %w", rec.Table, rec.ID, err)
			}
			requeued++
		}

		if _, err := tx.Exec(`UPDATE records SET sync_status = ?
			WHERE sync_status = ? AND EXISTS (
				SELECT 1 FROM outbox o WHERE o.table_name = records.table_name AND o.entity_id = records.id
			)`, string(models.SyncPending), string(models.SyncSynced)); err != nil {
			return err
		}

		if requeued == 0 {
			return nil
		}
		return db.recordActivityTx(tx, events.KindReconciled, "", "", map[string]any{"requeued": requeued})
	})
	if err != nil {
		return 0, fmt.Errorf("reconcile: %w", err)
	}
	return requeued, nil
}
