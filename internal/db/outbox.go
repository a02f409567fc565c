package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/sn/internal/events"
	"github.com/marcus/sn/internal/models"
	"github.com/marcus/sn/internal/syncerr"
)

const outboxColumns = `id, operation, table_name, entity_id, payload, base_version, enqueued_at,
	mutated_at, revision, retry_count, last_attempt_at, last_error, error_kind, next_attempt_at,
	blocked, attempting`

type enqueueResult int

const (
	enqueueInserted enqueueResult = iota
	enqueueCoalesced
	enqueueDropped
)

func scanOutbox(s rowScanner) (*models.OutboxEntry, error) {
	var e models.OutboxEntry
	var op, table, payload string
	var enqueued, mutated int64
	var lastAttempt, nextAttempt sql.NullInt64
	var lastError sql.NullString
	var blocked, attempting int
	if err := s.Scan(&e.ID, &op, &table, &e.EntityID, &payload, &e.BaseVersion, &enqueued,
		&mutated, &e.Revision, &e.RetryCount, &lastAttempt, &lastError, &e.ErrorKind, &nextAttempt,
		&blocked, &attempting); err != nil {
		return nil, err
	}
	e.Operation = models.Operation(op)
	e.Table = models.Table(table)
	if payload != "" {
		e.Payload = []byte(payload)
	}
	e.EnqueuedAt = fromNanos(enqueued)
	e.MutatedAt = fromNanos(mutated)
	e.LastAttemptAt = timePtr(lastAttempt)
	e.LastError = stringPtr(lastError)
	e.NextAttemptAt = timePtr(nextAttempt)
	e.Blocked = blocked != 0
	e.Attempting = attempting != 0
	return &e, nil
}

func getOutboxTx(q querier, table models.Table, entityID string) (*models.OutboxEntry, error) {
	row := q.QueryRow(`SELECT `+outboxColumns+` FROM outbox WHERE table_name = ? AND entity_id = ?`,
		string(table), entityID)
	e, err := scanOutbox(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return e, err
}

// coalesce folds a new mutation into the outstanding one for the same entity.
// drop means the entry should disappear without any remote call. inFlight
// marks an entry whose remote call may already have landed.
func coalesce(existing models.Operation, inFlight bool, next models.Operation) (result models.Operation, drop bool, err error) {
	switch {
	case existing == models.OpCreate && next == models.OpUpdate:
		return models.OpCreate, false, nil
	case existing == models.OpCreate && next == models.OpDelete:
		if inFlight {
			return models.OpDelete, false, nil
		}
		return "", true, nil
	case existing == models.OpUpdate && next == models.OpUpdate:
		return models.OpUpdate, false, nil
	case existing == models.OpUpdate && next == models.OpDelete:
		return models.OpDelete, false, nil
	case existing == models.OpDelete && next == models.OpCreate:
		return models.OpCreate, false, nil
	case existing == models.OpDelete && next == models.OpDelete:
		return models.OpDelete, false, nil
	}
	return "", false, syncerr.Newf(syncerr.KindValidation, "enqueue", "%s after pending %s", next, existing)
}

// mergePayload combines payloads for a coalesced entry. A create absorbing an
// update keeps unspecified fields from the original create.
func mergePayload(table models.Table, existingOp, resultOp models.Operation, prev, next []byte) ([]byte, error) {
	if resultOp == models.OpDelete {
		return nil, nil
	}
	if existingOp != models.OpCreate || resultOp != models.OpCreate || len(prev) == 0 {
		return next, nil
	}
	base, err := models.DecodePayload(table, prev)
	if err != nil {
		// the pending create is unreadable; the new payload is complete on its own
		return next, nil
	}
	upd, err := models.DecodePayload(table, next)
	if err != nil {
		return nil, err
	}
	return json.Marshal(base.Merge(upd))
}

// enqueueTx appends or coalesces an outbox entry inside the caller's transaction.
func (db *DB) enqueueTx(tx *sql.Tx, op models.Operation, table models.Table, entityID string, payload []byte, baseVersion int64, now time.Time) (enqueueResult, error) {
	existing, err := getOutboxTx(tx, table, entityID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, fmt.Errorf("load outbox entry: %w", err)
	}

	if existing == nil {
		// Keep enqueued_at monotonic across processes sharing the store
		var maxEnqueued int64
		if err := tx.QueryRow(`SELECT COALESCE(MAX(enqueued_at), 0) FROM outbox`).Scan(&maxEnqueued); err != nil {
			return 0, err
		}
		at := toNanos(now)
		if at <= maxEnqueued {
			at = maxEnqueued + 1
		}
		_, err := tx.Exec(`
			INSERT INTO outbox (operation, table_name, entity_id, payload, base_version, enqueued_at, mutated_at, revision)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		`, string(op), string(table), entityID, string(payload), baseVersion, at, at)
		if err != nil {
			return 0, fmt.Errorf("insert outbox entry: %w", err)
		}
		return enqueueInserted, nil
	}

	result, drop, err := coalesce(existing.Operation, existing.Attempting, op)
	if err != nil {
		return 0, err
	}
	if drop {
		if _, err := tx.Exec(`DELETE FROM outbox WHERE id = ?`, existing.ID); err != nil {
			return 0, fmt.Errorf("drop outbox entry: %w", err)
		}
		return enqueueDropped, nil
	}

	merged, err := mergePayload(table, existing.Operation, result, existing.Payload, payload)
	if err != nil {
		return 0, err
	}
	mutatedAt := toNanos(now)
	if mutatedAt <= toNanos(existing.MutatedAt) {
		mutatedAt = toNanos(existing.MutatedAt) + 1
	}
	_, err = tx.Exec(`
		UPDATE outbox SET operation = ?, payload = ?, mutated_at = ?, revision = revision + 1,
			retry_count = 0, last_error = NULL, error_kind = '', next_attempt_at = NULL, blocked = 0
		WHERE id = ?
	`, string(result), string(merged), mutatedAt, existing.ID)
	if err != nil {
		return 0, fmt.Errorf("coalesce outbox entry: %w", err)
	}
	return enqueueCoalesced, nil
}

// Enqueue records a mutation for entityID in its own atomic unit and marks
// the cached record pending. Put and Delete enqueue for themselves; this is
// for hosts replaying mutations they staged elsewhere.
func (db *DB) Enqueue(op models.Operation, table models.Table, entityID string, payload []byte) error {
	if op != models.OpDelete {
		if _, err := models.DecodePayload(table, payload); err != nil {
			return err
		}
	}
	return db.withTx(func(tx *sql.Tx) error {
		var baseVersion int64
		if rec, err := getRecordTx(tx, table, entityID); err == nil {
			baseVersion = rec.RemoteVersion
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if _, err := db.enqueueTx(tx, op, table, entityID, payload, baseVersion, db.clock.Now()); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE records SET sync_status = ? WHERE table_name = ? AND id = ?`,
			string(models.SyncPending), string(table), entityID)
		return err
	})
}

// AttemptLease is how long an in-flight claim holds. A claim older than
// this was left by a process that died mid-call and may be taken over.
const AttemptLease = 2 * time.Minute

// claimable matches entries nobody holds a live claim on.
const claimable = `(attempting = 0 OR last_attempt_at IS NULL OR last_attempt_at <= ?)`

// DequeueOldest returns the oldest entry that is unblocked, due at now and
// not in flight in another drain, or nil when none is. The entry stays in
// the outbox until it is marked.
func (db *DB) DequeueOldest(now time.Time) (*models.OutboxEntry, error) {
	row := db.conn.QueryRow(`SELECT `+outboxColumns+` FROM outbox
		WHERE blocked = 0 AND (next_attempt_at IS NULL OR next_attempt_at <= ?) AND `+claimable+`
		ORDER BY enqueued_at, id LIMIT 1`, toNanos(now), toNanos(now.Add(-AttemptLease)))
	e, err := scanOutbox(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	return e, nil
}

// GetOutboxEntry returns the outstanding entry for an entity.
func (db *DB) GetOutboxEntry(table models.Table, entityID string) (*models.OutboxEntry, error) {
	return getOutboxTx(db.conn, table, entityID)
}

// ListOutbox returns every outstanding entry in drain order.
func (db *DB) ListOutbox() ([]models.OutboxEntry, error) {
	rows, err := db.conn.Query(`SELECT ` + outboxColumns + ` FROM outbox ORDER BY enqueued_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// OutboxStats summarises the queue at now.
func (db *DB) OutboxStats(now time.Time) (models.OutboxStats, error) {
	var s models.OutboxStats
	err := db.conn.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN blocked = 0 AND (next_attempt_at IS NULL OR next_attempt_at <= ?) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN blocked = 0 AND next_attempt_at > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(blocked), 0)
		FROM outbox`, toNanos(now), toNanos(now)).Scan(&s.Total, &s.Due, &s.Waiting, &s.Blocked)
	if err != nil {
		return s, err
	}
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM outbox_quarantine`).Scan(&s.Quarantined); err != nil {
		return s, err
	}
	return s, nil
}

// BeginAttempt claims the entry for this drain and flips a failed record
// back to pending while its retry runs. It returns ErrClaimed when another
// drain got there first.
func (db *DB) BeginAttempt(e *models.OutboxEntry) error {
	return db.withTx(func(tx *sql.Tx) error {
		now := db.clock.Now()
		res, err := tx.Exec(`UPDATE outbox SET attempting = 1, last_attempt_at = ? WHERE id = ? AND `+claimable,
			toNanos(now), e.ID, toNanos(now.Add(-AttemptLease)))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("begin attempt %s/%s: %w", e.Table, e.EntityID, ErrClaimed)
		}
		_, err = tx.Exec(`UPDATE records SET sync_status = ? WHERE table_name = ? AND id = ? AND sync_status = ?`,
			string(models.SyncPending), string(e.Table), e.EntityID, string(models.SyncFailed))
		return err
	})
}

// MarkSucceeded completes an entry after the remote accepted it. If the
// entity was edited while the call was in flight the entry survives,
// rebased on the new remote version, so the newer edit is sent next.
func (db *DB) MarkSucceeded(e *models.OutboxEntry, remote *models.RemoteRecord) error {
	return db.withTx(func(tx *sql.Tx) error {
		var version int64
		var modified any
		if remote != nil {
			version = remote.Version
			modified = toNanos(remote.ModifiedAt)
		}

		cur, err := getOutboxTx(tx, e.Table, e.EntityID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		if cur != nil && cur.ID == e.ID && cur.Revision != e.Revision {
			nextOp := cur.Operation
			if e.Operation == models.OpCreate && cur.Operation == models.OpCreate {
				nextOp = models.OpUpdate
			}
			if _, err := tx.Exec(`UPDATE outbox SET operation = ?, base_version = ?, attempting = 0 WHERE id = ?`,
				string(nextOp), version, cur.ID); err != nil {
				return err
			}
			_, err := tx.Exec(`UPDATE records SET remote_version = ?, remote_modified_at = ? WHERE table_name = ? AND id = ?`,
				version, modified, string(e.Table), e.EntityID)
			return err
		}

		if _, err := tx.Exec(`DELETE FROM outbox WHERE id = ?`, e.ID); err != nil {
			return err
		}
		if e.Operation == models.OpDelete {
			_, err = tx.Exec(`DELETE FROM records WHERE table_name = ? AND id = ? AND deleted = 1`,
				string(e.Table), e.EntityID)
			return err
		}
		_, err = tx.Exec(`
			UPDATE records SET sync_status = ?, last_error = '', remote_version = ?, remote_modified_at = ?
			WHERE table_name = ? AND id = ?
		`, string(models.SyncSynced), version, modified, string(e.Table), e.EntityID)
		return err
	})
}

// Failure describes a failed attempt for MarkFailed.
type Failure struct {
	Err error
	// Permanent failures block the entry until an edit or explicit retry.
	Permanent bool
	// NextAttemptAt is when a retryable failure becomes due again.
	NextAttemptAt *time.Time
}

// MarkFailed records a failed attempt: retry count, error and attempt time on
// the entry, failed status on the record. Returns the new retry count. An
// entry edited while in flight keeps its reset state and is not charged.
func (db *DB) MarkFailed(e *models.OutboxEntry, f Failure) (int, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	kind := string(syncerr.KindOf(f.Err))
	retries := e.RetryCount

	err := db.withTx(func(tx *sql.Tx) error {
		now := db.clock.Now()
		res, err := tx.Exec(`
			UPDATE outbox SET retry_count = retry_count + 1, last_error = ?, error_kind = ?,
				last_attempt_at = ?, next_attempt_at = ?, blocked = ?, attempting = 0
			WHERE id = ? AND revision = ?
		`, msg, kind, toNanos(now), nullNanos(f.NextAttemptAt), boolInt(f.Permanent), e.ID, e.Revision)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			_, err := tx.Exec(`UPDATE outbox SET attempting = 0 WHERE id = ?`, e.ID)
			return err
		}
		retries++
		_, err = tx.Exec(`UPDATE records SET sync_status = ?, last_error = ? WHERE table_name = ? AND id = ?`,
			string(models.SyncFailed), msg, string(e.Table), e.EntityID)
		return err
	})
	if err != nil {
		return e.RetryCount, fmt.Errorf("mark failed: %w", err)
	}
	return retries, nil
}

// AdoptRemote resolves a conflict in the remote's favour: the local mutation
// is discarded and the remote version cached as synced. Reports false when a
// newer local edit arrived meanwhile; that entry is rebased and kept.
func (db *DB) AdoptRemote(e *models.OutboxEntry, remote models.RemoteRecord) (bool, error) {
	adopted := true
	err := db.withTx(func(tx *sql.Tx) error {
		cur, err := getOutboxTx(tx, e.Table, e.EntityID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if cur != nil && cur.Revision != e.Revision {
			adopted = false
			_, err := tx.Exec(`UPDATE outbox SET base_version = ?, attempting = 0 WHERE id = ?`, remote.Version, cur.ID)
			return err
		}
		if cur != nil {
			if _, err := tx.Exec(`DELETE FROM outbox WHERE id = ?`, cur.ID); err != nil {
				return err
			}
		}
		db.clock.Observe(remote.ModifiedAt)

		if remote.Deleted {
			_, err := tx.Exec(`DELETE FROM records WHERE table_name = ? AND id = ?`, string(e.Table), e.EntityID)
			return err
		}
		existing, err := getRecordTx(tx, e.Table, e.EntityID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return writeRemoteTx(tx, existing, remote, db.clock.Now())
	})
	if err != nil {
		return false, fmt.Errorf("adopt remote %s %s: %w", e.Table, e.EntityID, err)
	}
	return adopted, nil
}

// Retry unblocks the entry for an entity and clears its backoff.
func (db *DB) Retry(table models.Table, entityID string) error {
	return db.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE outbox SET blocked = 0, retry_count = 0, next_attempt_at = NULL, error_kind = ''
			WHERE table_name = ? AND entity_id = ?
		`, string(table), entityID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(`UPDATE records SET sync_status = ?, last_error = '' WHERE table_name = ? AND id = ?`,
			string(models.SyncPending), string(table), entityID); err != nil {
			return err
		}
		return db.recordActivityTx(tx, events.KindRetryRequested, table, entityID, nil)
	})
}

// RetryAll unblocks every blocked or backing-off entry, or only those whose
// last failure was of kind when kind is non-empty. Returns how many changed.
func (db *DB) RetryAll(kind syncerr.Kind) (int, error) {
	var n int
	err := db.withTx(func(tx *sql.Tx) error {
		where := `(blocked = 1 OR next_attempt_at IS NOT NULL)`
		args := []any{}
		if kind != "" {
			where += ` AND error_kind = ?`
			args = append(args, string(kind))
		}

		if _, err := tx.Exec(`UPDATE records SET sync_status = ?, last_error = ''
			WHERE EXISTS (SELECT 1 FROM outbox o WHERE o.table_name = records.table_name
				AND o.entity_id = records.id AND `+where+`)`,
			append([]any{string(models.SyncPending)}, args...)...); err != nil {
			return err
		}
		res, err := tx.Exec(`UPDATE outbox SET blocked = 0, retry_count = 0, next_attempt_at = NULL, error_kind = ''
			WHERE `+where, args...)
		if err != nil {
			return err
		}
		affected, _ := res.RowsAffected()
		n = int(affected)
		if n == 0 {
			return nil
		}
		return db.recordActivityTx(tx, events.KindRetryRequested, "", "", map[string]any{
			"entries": n,
			"kind":    string(kind),
		})
	})
	if err != nil {
		return 0, fmt.Errorf("retry all: %w", err)
	}
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
