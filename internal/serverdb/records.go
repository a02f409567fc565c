package serverdb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConflict matches every *ConflictError.
	ErrConflict = errors.New("version conflict")
	// ErrForbidden is returned when an id is held by another owner.
	ErrForbidden = errors.New("record owned by another user")
)

// ConflictError rejects a write whose base version is stale. Current is the
// stored record the writer should reconcile against.
type ConflictError struct {
	Current *Record
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s/%s (current version %d)", e.Current.Table, e.Current.ID, e.Current.Version)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Record is the server copy of a synced entity. Deleted records remain as
// tombstones so stale clients learn about the delete.
type Record struct {
	Table      string          `json:"table"`
	ID         string          `json:"id"`
	OwnerID    string          `json:"owner_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Version    int64           `json:"version"`
	Deleted    bool            `json:"deleted,omitempty"`
	ModifiedBy string          `json:"modified_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ModifiedAt time.Time       `json:"modified_at"`
}

const recordColumns = `table_name, id, owner_id, payload, version, deleted, modified_by, created_at, modified_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (*Record, error) {
	var r Record
	var payload string
	var deleted int
	var created, modified int64
	if err := s.Scan(&r.Table, &r.ID, &r.OwnerID, &payload, &r.Version, &deleted, &r.ModifiedBy, &created, &modified); err != nil {
		return nil, err
	}
	if payload != "" {
		r.Payload = json.RawMessage(payload)
	}
	r.Deleted = deleted != 0
	r.CreatedAt = time.Unix(0, created).UTC()
	r.ModifiedAt = time.Unix(0, modified).UTC()
	return &r, nil
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func getRecord(q querier, table, id string) (*Record, error) {
	r, err := scanRecord(q.QueryRow(`SELECT `+recordColumns+` FROM records WHERE table_name = ? AND id = ?`, table, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

// nextVersion draws the next value of the global record sequence.
func nextVersion(tx *sql.Tx) (int64, error) {
	if _, err := tx.Exec(`UPDATE record_seq SET value = value + 1 WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("bump record seq: %w", err)
	}
	var v int64
	if err := tx.QueryRow(`SELECT value FROM record_seq WHERE id = 1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read record seq: %w", err)
	}
	return v, nil
}

func (db *ServerDB) writeRecord(tx *sql.Tx, r *Record) error {
	v, err := nextVersion(tx)
	if err != nil {
		return err
	}
	r.Version = v
	r.ModifiedAt = db.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = r.ModifiedAt
	}
	_, err = tx.Exec(`INSERT OR REPLACE INTO records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Table, r.ID, r.OwnerID, string(r.Payload), r.Version, boolInt(r.Deleted), r.ModifiedBy,
		r.CreatedAt.UnixNano(), r.ModifiedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// owned loads a record and hides it from other owners.
func owned(q querier, table, id, ownerID string) (*Record, error) {
	r, err := getRecord(q, table, id)
	if err != nil {
		return nil, err
	}
	if r.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return r, nil
}

// CreateRecord inserts a record, or revives the owner's own tombstone. An
// existing live record yields a *ConflictError.
func (db *ServerDB) CreateRecord(table, id, ownerID string, payload json.RawMessage, deviceID string) (*Record, error) {
	var out *Record
	err := db.withTx(func(tx *sql.Tx) error {
		existing, err := getRecord(tx, table, id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		r := &Record{Table: table, ID: id, OwnerID: ownerID, Payload: payload, ModifiedBy: deviceID}
		if existing != nil {
			if existing.OwnerID != ownerID {
				return ErrForbidden
			}
			if !existing.Deleted {
				return &ConflictError{Current: existing}
			}
			r.CreatedAt = existing.CreatedAt
		}
		if err := db.writeRecord(tx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// UpdateRecord replaces the payload when baseVersion matches the stored
// version. force skips the check and revives a tombstone.
func (db *ServerDB) UpdateRecord(table, id, ownerID string, payload json.RawMessage, baseVersion int64, force bool, deviceID string) (*Record, error) {
	var out *Record
	err := db.withTx(func(tx *sql.Tx) error {
		existing, err := owned(tx, table, id, ownerID)
		if err != nil {
			return err
		}
		if !force && (existing.Deleted || existing.Version != baseVersion) {
			return &ConflictError{Current: existing}
		}
		r := &Record{Table: table, ID: id, OwnerID: ownerID, Payload: payload, ModifiedBy: deviceID, CreatedAt: existing.CreatedAt}
		if err := db.writeRecord(tx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// DeleteRecord turns a record into a tombstone. Deleting a tombstone returns
// it unchanged.
func (db *ServerDB) DeleteRecord(table, id, ownerID string, baseVersion int64, force bool, deviceID string) (*Record, error) {
	var out *Record
	err := db.withTx(func(tx *sql.Tx) error {
		existing, err := owned(tx, table, id, ownerID)
		if err != nil {
			return err
		}
		if existing.Deleted {
			out = existing
			return nil
		}
		if !force && existing.Version != baseVersion {
			return &ConflictError{Current: existing}
		}
		r := &Record{Table: table, ID: id, OwnerID: ownerID, Deleted: true, ModifiedBy: deviceID, CreatedAt: existing.CreatedAt}
		if err := db.writeRecord(tx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// GetRecord returns one of ownerID's records, tombstones included.
func (db *ServerDB) GetRecord(table, id, ownerID string) (*Record, error) {
	return owned(db.conn, table, id, ownerID)
}

// ListRecords returns ownerID's records in table with a version above after,
// oldest version first. hasMore reports whether another page follows.
func (db *ServerDB) ListRecords(table, ownerID string, after int64, limit int) ([]Record, bool, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.Query(`SELECT `+recordColumns+` FROM records
		WHERE table_name = ? AND owner_id = ? AND version > ?
		ORDER BY version LIMIT ?`, table, ownerID, after, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("list records: iterate: %w", err)
	}
	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

// PurgeTombstones removes tombstones last modified before cutoff.
func (db *ServerDB) PurgeTombstones(cutoff time.Time) (int64, error) {
	res, err := db.conn.Exec(`DELETE FROM records WHERE deleted = 1 AND modified_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge tombstones: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RecordCounts tallies live records per table.
func (db *ServerDB) RecordCounts() (map[string]int, error) {
	rows, err := db.conn.Query(`SELECT table_name, COUNT(*) FROM records WHERE deleted = 0 GROUP BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var table string
		var n int
		if err := rows.Scan(&table, &n); err != nil {
			return nil, err
		}
		counts[table] = n
	}
	return counts, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
