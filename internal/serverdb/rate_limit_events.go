package serverdb

import (
	"fmt"
	"time"
)

// InsertRateLimitEvent records a rejected request. keyID is empty for
// IP-based limits and stored as NULL.
func (db *ServerDB) InsertRateLimitEvent(keyID, ip, endpointClass string) error {
	var keyIDParam any
	if keyID != "" {
		keyIDParam = keyID
	}
	_, err := db.conn.Exec(
		`INSERT INTO rate_limit_events (key_id, ip, endpoint_class, created_at) VALUES (?, ?, ?, ?)`,
		keyIDParam, ip, endpointClass, db.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert rate limit event: %w", err)
	}
	return nil
}

// CountRateLimitEvents returns how many events keyID triggered since t.
// An empty keyID counts every event.
func (db *ServerDB) CountRateLimitEvents(keyID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM rate_limit_events WHERE created_at >= ?`
	args := []any{since.UTC()}
	if keyID != "" {
		query += ` AND key_id = ?`
		args = append(args, keyID)
	}
	var n int
	if err := db.conn.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rate limit events: %w", err)
	}
	return n, nil
}

// CleanupRateLimitEvents deletes events older than the given duration.
func (db *ServerDB) CleanupRateLimitEvents(olderThan time.Duration) (int64, error) {
	cutoff := db.now().UTC().Add(-olderThan)
	res, err := db.conn.Exec(`DELETE FROM rate_limit_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup rate limit events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
