package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/sn/internal/events"
	"github.com/marcus/sn/internal/models"
	"github.com/marcus/sn/internal/syncerr"
)

const recordColumns = `table_name, id, owner_id, payload, sync_status, last_error,
	created_at, updated_at, last_accessed_at, remote_version, remote_modified_at, deleted`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (*models.Record, error) {
	var r models.Record
	var table, status, payload string
	var created, updated, accessed int64
	var remoteModified sql.NullInt64
	var deleted int
	if err := s.Scan(&table, &r.ID, &r.OwnerID, &payload, &status, &r.LastError,
		&created, &updated, &accessed, &r.RemoteVersion, &remoteModified, &deleted); err != nil {
		return nil, err
	}
	r.Table = models.Table(table)
	r.SyncStatus = models.SyncStatus(status)
	if payload != "" {
		r.Payload = []byte(payload)
	}
	r.CreatedAt = fromNanos(created)
	r.UpdatedAt = fromNanos(updated)
	r.LastAccessedAt = fromNanos(accessed)
	r.RemoteModifiedAt = timePtr(remoteModified)
	r.Deleted = deleted != 0
	return &r, nil
}

// getRecordTx returns the row for (table, id), tombstones included.
func getRecordTx(q querier, table models.Table, id string) (*models.Record, error) {
	row := q.QueryRow(`SELECT `+recordColumns+` FROM records WHERE table_name = ? AND id = ?`, string(table), id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

// Put writes rec to the local store and enqueues the matching outbox entry in
// the same transaction. The mutation is a create when no live record exists
// and an update otherwise. rec is filled in with its id and sync metadata.
func (db *DB) Put(table models.Table, rec *models.Record) (models.Operation, error) {
	if _, err := models.DecodePayload(table, rec.Payload); err != nil {
		return "", err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Table = table

	var op models.Operation
	err := db.withTx(func(tx *sql.Tx) error {
		now := db.clock.Now()

		existing, err := getRecordTx(tx, table, rec.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("load record: %w", err)
		}
		if err := db.ensureRoomTx(tx, table, rec.ID, int64(len(rec.Payload))); err != nil {
			return err
		}

		if existing == nil {
			op = models.OpCreate
			rec.CreatedAt = now
			rec.RemoteVersion = 0
			rec.RemoteModifiedAt = nil
			_, err = tx.Exec(`
				INSERT INTO records (table_name, id, owner_id, payload, sync_status, last_error,
					created_at, updated_at, last_accessed_at, remote_version, deleted)
				VALUES (?, ?, ?, ?, ?, '', ?, ?, ?, 0, 0)
			`, string(table), rec.ID, rec.OwnerID, string(rec.Payload), string(models.SyncPending),
				toNanos(now), toNanos(now), toNanos(now))
		} else {
			op = models.OpUpdate
			if existing.Deleted {
				op = models.OpCreate
			}
			if rec.OwnerID == "" {
				rec.OwnerID = existing.OwnerID
			}
			rec.CreatedAt = existing.CreatedAt
			rec.RemoteVersion = existing.RemoteVersion
			rec.RemoteModifiedAt = existing.RemoteModifiedAt
			_, err = tx.Exec(`
				UPDATE records SET owner_id = ?, payload = ?, sync_status = ?, last_error = '',
					updated_at = ?, last_accessed_at = ?, deleted = 0
				WHERE table_name = ? AND id = ?
			`, rec.OwnerID, string(rec.Payload), string(models.SyncPending),
				toNanos(now), toNanos(now), string(table), rec.ID)
		}
		if err != nil {
			return fmt.Errorf("write record: %w", err)
		}

		rec.UpdatedAt = now
		rec.LastAccessedAt = now
		rec.SyncStatus = models.SyncPending
		rec.LastError = ""
		rec.Deleted = false

		_, err = db.enqueueTx(tx, op, table, rec.ID, rec.Payload, rec.RemoteVersion, now)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("put %s %s: %w", table, rec.ID, err)
	}
	return op, nil
}

// Delete tombstones the record and enqueues a delete in the same transaction.
// A record that never reached the remote is removed outright.
func (db *DB) Delete(table models.Table, id string) error {
	err := db.withTx(func(tx *sql.Tx) error {
		existing, err := getRecordTx(tx, table, id)
		if err != nil {
			return err
		}
		if existing.Deleted {
			return ErrNotFound
		}

		now := db.clock.Now()
		res, err := db.enqueueTx(tx, models.OpDelete, table, id, nil, existing.RemoteVersion, now)
		if err != nil {
			return err
		}

		if res == enqueueDropped {
			_, err = tx.Exec(`DELETE FROM records WHERE table_name = ? AND id = ?`, string(table), id)
		} else {
			_, err = tx.Exec(`
				UPDATE records SET deleted = 1, sync_status = ?, last_error = '', updated_at = ?
				WHERE table_name = ? AND id = ?
			`, string(models.SyncPending), toNanos(now), string(table), id)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	return nil
}

// Get returns a live record and refreshes its last-accessed time.
func (db *DB) Get(table models.Table, id string) (*models.Record, error) {
	rec, err := getRecordTx(db.conn, table, id)
	if err != nil {
		return nil, err
	}
	if rec.Deleted {
		return nil, ErrNotFound
	}

	now := db.clock.Now()
	if _, err := db.conn.Exec(`UPDATE records SET last_accessed_at = ? WHERE table_name = ? AND id = ?`,
		toNanos(now), string(table), id); err != nil {
		slog.Debug("store: touch record", "table", table, "id", id, "err", err)
	} else {
		rec.LastAccessedAt = now
	}
	return rec, nil
}

// Peek returns the record, tombstones included, without refreshing its access time.
func (db *DB) Peek(table models.Table, id string) (*models.Record, error) {
	return getRecordTx(db.conn, table, id)
}

// ListByOwner returns the live records of table owned by ownerID, most
// recently updated first, and refreshes their last-accessed time.
func (db *DB) ListByOwner(table models.Table, ownerID string) ([]models.Record, error) {
	rows, err := db.conn.Query(`SELECT `+recordColumns+` FROM records
		WHERE table_name = ? AND owner_id = ? AND deleted = 0
		ORDER BY updated_at DESC, id`, string(table), ownerID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	records, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return records, nil
	}

	now := db.clock.Now()
	if _, err := db.conn.Exec(`UPDATE records SET last_accessed_at = ?
		WHERE table_name = ? AND owner_id = ? AND deleted = 0`,
		toNanos(now), string(table), ownerID); err != nil {
		slog.Debug("store: touch records", "table", table, "owner", ownerID, "err", err)
	} else {
		for i := range records {
			records[i].LastAccessedAt = now
		}
	}
	return records, nil
}

// ListByStatus returns live and tombstoned records with the given status.
func (db *DB) ListByStatus(status models.SyncStatus, limit int) ([]models.Record, error) {
	rows, err := db.conn.Query(`SELECT `+recordColumns+` FROM records
		WHERE sync_status = ? ORDER BY updated_at DESC LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list %s records: %w", status, err)
	}
	return collectRecords(rows)
}

func collectRecords(rows *sql.Rows) ([]models.Record, error) {
	defer rows.Close()
	var records []models.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// StatusCounts tallies records by sync status. Pending tombstones count as pending.
func (db *DB) StatusCounts() (models.StatusCounts, error) {
	rows, err := db.conn.Query(`SELECT sync_status, COUNT(*) FROM records GROUP BY sync_status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(models.StatusCounts)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.SyncStatus(status)] = n
	}
	return counts, rows.Err()
}

// evictableWhere selects records that can be dropped without losing data.
const evictableWhere = `sync_status = 'synced' AND deleted = 0 AND NOT EXISTS (
	SELECT 1 FROM outbox o WHERE o.table_name = records.table_name AND o.entity_id = records.id)`

// Evict prunes least-recently-accessed synced records until at most
// keep live records remain. Records with pending work are never evicted,
// so fewer than requested may be removed.
func (db *DB) Evict(keep int) (int, error) {
	var evicted int
	err := db.withTx(func(tx *sql.Tx) error {
		var live int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM records WHERE deleted = 0`).Scan(&live); err != nil {
			return err
		}
		if live <= keep {
			return nil
		}

		res, err := tx.Exec(`DELETE FROM records WHERE rowid IN (
			SELECT rowid FROM records WHERE `+evictableWhere+`
			ORDER BY last_accessed_at ASC LIMIT ?)`, live-keep)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		evicted = int(n)
		if evicted == 0 {
			return nil
		}
		return db.recordActivityTx(tx, events.KindEvicted, "", "", map[string]any{
			"evicted": evicted,
			"keep":    keep,
		})
	})
	if err != nil {
		return 0, fmt.Errorf("evict: %w", err)
	}
	return evicted, nil
}

// ensureRoomTx makes room for size payload bytes under the quota by evicting
// synced records, oldest access first. It returns StorageFull when pending
// data alone would exceed the quota.
func (db *DB) ensureRoomTx(tx *sql.Tx, table models.Table, id string, size int64) error {
	if db.quotaBytes <= 0 {
		return nil
	}

	var usage int64
	if err := tx.QueryRow(`SELECT COALESCE(SUM(length(CAST(payload AS BLOB))), 0) FROM records
		WHERE NOT (table_name = ? AND id = ?)`, string(table), id).Scan(&usage); err != nil {
		return fmt.Errorf("measure usage: %w", err)
	}
	need := usage + size - db.quotaBytes
	if need <= 0 {
		return nil
	}

	rows, err := tx.Query(`SELECT rowid, length(CAST(payload AS BLOB)) FROM records
		WHERE `+evictableWhere+` AND NOT (table_name = ? AND id = ?)
		ORDER BY last_accessed_at ASC`, string(table), id)
	if err != nil {
		return fmt.Errorf("find evictable: %w", err)
	}
	var victims []int64
	var freed int64
	for freed < need && rows.Next() {
		var rowid, n int64
		if err := rows.Scan(&rowid, &n); err != nil {
			rows.Close()
			return err
		}
		victims = append(victims, rowid)
		freed += n
	}
	rows.Close()

	if freed < need {
		return syncerr.Newf(syncerr.KindStorageFull, "put", "%d bytes over the %d byte quota", need-freed, db.quotaBytes)
	}

	for _, rowid := range victims {
		if _, err := tx.Exec(`DELETE FROM records WHERE rowid = ?`, rowid); err != nil {
			return fmt.Errorf("evict: %w", err)
		}
	}
	slog.Debug("store: evicted for quota", "records", len(victims), "bytes", freed)
	return db.recordActivityTx(tx, events.KindEvicted, "", "", map[string]any{
		"evicted": len(victims),
		"bytes":   freed,
		"reason":  "quota",
	})
}

// UpsertRemote caches a record fetched from the remote. Records with an
// outstanding outbox entry, or whose local state is not synced, are left
// alone so unsent local edits stay authoritative. Stale versions are ignored.
// Reports whether the local store changed.
func (db *DB) UpsertRemote(rr models.RemoteRecord) (bool, error) {
	if !rr.Deleted {
		if _, err := models.DecodePayload(rr.Table, rr.Payload); err != nil {
			return false, err
		}
	}

	var applied bool
	err := db.withTx(func(tx *sql.Tx) error {
		if _, err := getOutboxTx(tx, rr.Table, rr.ID); err == nil {
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		existing, err := getRecordTx(tx, rr.Table, rr.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if existing != nil && (existing.RemoteVersion >= rr.Version || existing.SyncStatus != models.SyncSynced) {
			return nil
		}

		applied = true
		db.clock.Observe(rr.ModifiedAt)
		if rr.Deleted {
			if existing == nil {
				applied = false
				return nil
			}
			_, err := tx.Exec(`DELETE FROM records WHERE table_name = ? AND id = ?`, string(rr.Table), rr.ID)
			return err
		}

		if err := db.ensureRoomTx(tx, rr.Table, rr.ID, int64(len(rr.Payload))); err != nil {
			return err
		}
		return writeRemoteTx(tx, existing, rr, db.clock.Now())
	})
	if err != nil {
		return false, fmt.Errorf("cache remote %s %s: %w", rr.Table, rr.ID, err)
	}
	return applied, nil
}

// writeRemoteTx stores the remote version of a record as synced.
func writeRemoteTx(tx *sql.Tx, existing *models.Record, rr models.RemoteRecord, now time.Time) error {
	modified := rr.ModifiedAt
	if existing == nil {
		_, err := tx.Exec(`
			INSERT INTO records (table_name, id, owner_id, payload, sync_status, last_error,
				created_at, updated_at, last_accessed_at, remote_version, remote_modified_at, deleted)
			VALUES (?, ?, ?, ?, ?, '', ?, ?, ?, ?, ?, 0)
		`, string(rr.Table), rr.ID, rr.OwnerID, string(rr.Payload), string(models.SyncSynced),
			toNanos(now), toNanos(now), toNanos(now), rr.Version, toNanos(modified))
		return err
	}

	owner := rr.OwnerID
	if owner == "" {
		owner = existing.OwnerID
	}
	_, err := tx.Exec(`
		UPDATE records SET owner_id = ?, payload = ?, sync_status = ?, last_error = '',
			updated_at = ?, remote_version = ?, remote_modified_at = ?, deleted = 0
		WHERE table_name = ? AND id = ?
	`, owner, string(rr.Payload), string(models.SyncSynced), toNanos(now), rr.Version, toNanos(modified),
		string(rr.Table), rr.ID)
	return err
}
