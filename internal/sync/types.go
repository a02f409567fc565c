package sync

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/marcus/sn/internal/db"
	"github.com/marcus/sn/internal/events"
	"github.com/marcus/sn/internal/models"
	"github.com/marcus/sn/internal/syncclient"
)

// State is the engine's position in the drain lifecycle.
type State int32

const (
	StateIdle State = iota
	StateDraining
	StateApplying
	StateSucceeded
	StateConflicted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StateApplying:
		return "applying"
	case StateSucceeded:
		return "succeeded"
	case StateConflicted:
		return "conflicted"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Trigger names what asked for a drain.
type Trigger string

const (
	TriggerManual        Trigger = "manual"
	TriggerReconnect     Trigger = "reconnect"
	TriggerTimer         Trigger = "timer"
	TriggerStartup       Trigger = "startup"
	TriggerStorageChange Trigger = "storage_change"
)

// DrainReport summarises one drain, including any extra passes requested
// while it ran.
type DrainReport struct {
	Trigger     Trigger   `json:"trigger"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Passes      int       `json:"passes"`
	Attempted   int       `json:"attempted"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Conflicts   int       `json:"conflicts"`
	Quarantined int       `json:"quarantined"`
	Err         error     `json:"-"`
}

// Store is the local side of the engine: outbox primitives plus the record
// and activity writes that accompany them. *db.DB implements it.
type Store interface {
	Now() time.Time
	DequeueOldest(now time.Time) (*models.OutboxEntry, error)
	BeginAttempt(e *models.OutboxEntry) error
	MarkSucceeded(e *models.OutboxEntry, remote *models.RemoteRecord) error
	MarkFailed(e *models.OutboxEntry, f db.Failure) (int, error)
	AdoptRemote(e *models.OutboxEntry, remote models.RemoteRecord) (bool, error)
	Quarantine(e *models.OutboxEntry, reason string) error
	Peek(table models.Table, id string) (*models.Record, error)
	UpsertRemote(rr models.RemoteRecord) (bool, error)
	RecordActivity(kind events.Kind, table models.Table, entityID string, metadata any) error
	GetSyncState() (*models.SyncState, error)
	RecordDrain(at time.Time, succeeded, failed, conflicts int) error
	SetAuthRequired(msg string) error
	MarkPulled(at time.Time) error
}

// Remote is the backend as the engine sees it. *syncclient.Client and
// *syncclient.Fake implement it.
type Remote interface {
	Create(ctx context.Context, table models.Table, id, ownerID string, payload json.RawMessage) syncclient.Result
	Update(ctx context.Context, table models.Table, id string, payload json.RawMessage, baseVersion int64, force bool) syncclient.Result
	Delete(ctx context.Context, table models.Table, id string, baseVersion int64, force bool) syncclient.Result
	Fetch(ctx context.Context, table models.Table, id string) syncclient.Result
	List(ctx context.Context, table models.Table, after int64, limit int) (*syncclient.Page, error)
}

// Options configures an Engine. The zero value is usable.
type Options struct {
	Backoff Backoff
	// RequestTimeout bounds each remote call. Defaults to 15s.
	RequestTimeout time.Duration
	// Sources feed triggers while Run is active.
	Sources []Source
	// PullPageSize is the List page size used by Pull. Defaults to 200.
	PullPageSize int

	// OnUnauthenticated is called once per drain that stops on a 401.
	OnUnauthenticated func(err error)
	// OnDrain receives every finished drain report.
	OnDrain func(r DrainReport)
	// OnStateChange observes state transitions.
	OnStateChange func(s State)

	Logger *slog.Logger
	// Rand drives backoff jitter. Seed it in tests for determinism.
	Rand *rand.Rand
}

const (
	defaultRequestTimeout = 15 * time.Second
	defaultPullPageSize   = 200
)
