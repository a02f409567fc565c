package models

import (
	"encoding/json"
	"time"
)

// Table names a synced entity table
type Table string

const (
	TableNotes       Table = "notes"
	TableFlashcards  Table = "flashcards"
	TableDecks       Table = "decks"
	TablePreferences Table = "preferences"
)

// AllTables returns the synced tables in a stable order
func AllTables() []Table {
	return []Table{TableDecks, TableNotes, TableFlashcards, TablePreferences}
}

// SyncStatus represents the sync state of a cached record
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// Operation is the kind of mutation an outbox entry replays
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Record is a cached entity plus its sync metadata
type Record struct {
	Table            Table           `json:"table"`
	ID               string          `json:"id"`
	OwnerID          string          `json:"owner_id"`
	Payload          json.RawMessage `json:"payload"`
	SyncStatus       SyncStatus      `json:"sync_status"`
	LastError        string          `json:"last_error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	LastAccessedAt   time.Time       `json:"last_accessed_at"`
	RemoteVersion    int64           `json:"remote_version"`
	RemoteModifiedAt *time.Time      `json:"remote_modified_at,omitempty"`
	Deleted          bool            `json:"deleted,omitempty"`
}

// Decode returns the typed payload for the record
func (r *Record) Decode() (Payload, error) {
	return DecodePayload(r.Table, r.Payload)
}

// OutboxEntry is a pending mutation waiting to be applied remotely
type OutboxEntry struct {
	ID            int64           `json:"id"`
	Operation     Operation       `json:"operation"`
	Table         Table           `json:"table"`
	EntityID      string          `json:"entity_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	BaseVersion   int64           `json:"base_version"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	MutatedAt     time.Time       `json:"mutated_at"`
	Revision      int64           `json:"revision"`
	RetryCount    int             `json:"retry_count"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	LastError     *string         `json:"last_error,omitempty"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	NextAttemptAt *time.Time      `json:"next_attempt_at,omitempty"`
	Blocked       bool            `json:"blocked,omitempty"`
	Attempting    bool            `json:"attempting,omitempty"`
}

// Due reports whether the entry may be attempted at now
func (e *OutboxEntry) Due(now time.Time) bool {
	if e.Blocked {
		return false
	}
	return e.NextAttemptAt == nil || !e.NextAttemptAt.After(now)
}

// QuarantinedEntry is an outbox entry removed from the active queue
type QuarantinedEntry struct {
	ID            int64     `json:"id"`
	OutboxID      int64     `json:"outbox_id"`
	Operation     Operation `json:"operation"`
	Table         Table     `json:"table"`
	EntityID      string    `json:"entity_id"`
	Payload       string    `json:"payload"`
	Reason        string    `json:"reason"`
	QuarantinedAt time.Time `json:"quarantined_at"`
}

// RemoteRecord is the backend's view of an entity
type RemoteRecord struct {
	Table      Table           `json:"table"`
	ID         string          `json:"id"`
	OwnerID    string          `json:"owner_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Version    int64           `json:"version"`
	ModifiedAt time.Time       `json:"modified_at"`
	Deleted    bool            `json:"deleted,omitempty"`
}

// Resolution is the outcome of a last-write-wins comparison
type Resolution string

const (
	ResolutionLocalWins  Resolution = "local_wins"
	ResolutionRemoteWins Resolution = "remote_wins"
)

// Conflict describes a local mutation that raced a remote change
type Conflict struct {
	Table         Table           `json:"table"`
	EntityID      string          `json:"entity_id"`
	Operation     Operation       `json:"operation"`
	LocalPayload  json.RawMessage `json:"local_payload,omitempty"`
	RemotePayload json.RawMessage `json:"remote_payload,omitempty"`
	LocalAt       time.Time       `json:"local_at"`
	RemoteAt      time.Time       `json:"remote_at"`
	RemoteVersion int64           `json:"remote_version"`
	RemoteDeleted bool            `json:"remote_deleted,omitempty"`
	Resolution    Resolution      `json:"resolution"`
}

// ActivityEntry is one row of the append-only activity log
type ActivityEntry struct {
	ID        int64           `json:"id"`
	Kind      string          `json:"kind"`
	Table     Table           `json:"table,omitempty"`
	EntityID  string          `json:"entity_id,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// SyncState is the singleton row describing the last drain
type SyncState struct {
	LastDrainAt     *time.Time `json:"last_drain_at,omitempty"`
	LastSucceeded   int        `json:"last_succeeded"`
	LastFailed      int        `json:"last_failed"`
	LastConflicts   int        `json:"last_conflicts"`
	LastPulledAt    *time.Time `json:"last_pulled_at,omitempty"`
	AuthRequired    bool       `json:"auth_required"`
	AuthRequiredMsg string     `json:"auth_required_msg,omitempty"`
}

// OutboxStats summarises the outbox for status output
type OutboxStats struct {
	Total       int `json:"total"`
	Due         int `json:"due"`
	Waiting     int `json:"waiting"`
	Blocked     int `json:"blocked"`
	Quarantined int `json:"quarantined"`
}

// StatusCounts tallies records by sync status
type StatusCounts map[SyncStatus]int
