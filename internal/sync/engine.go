// Package sync drains the local outbox to the remote and pulls remote
// changes back into the local store.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/marcus/sn/internal/db"
	"github.com/marcus/sn/internal/events"
	"github.com/marcus/sn/internal/models"
	"github.com/marcus/sn/internal/syncclient"
	"github.com/marcus/sn/internal/syncerr"
)

var (
	// ErrDrainInProgress is returned by Drain when another drain on the same
	// engine is active. The active drain will run once more on its behalf.
	ErrDrainInProgress = errors.New("sync: drain already in progress")

	// ErrUnauthenticated stops a drain when the remote rejects our credentials.
	ErrUnauthenticated = syncerr.ErrUnauthenticated
)

// Engine applies outbox entries to a remote, one at a time, oldest first.
type Engine struct {
	store  Store
	remote Remote
	opts   Options
	log    *slog.Logger

	draining atomic.Bool
	again    atomic.Bool
	state    atomic.Int32
	last     atomic.Pointer[DrainReport]

	triggers chan Trigger
	// rand is only touched from inside a drain
	rand *rand.Rand
}

// New builds an engine. Sources in opts start when Run is called.
func New(store Store, remote Remote, opts Options) *Engine {
	opts.Backoff = opts.Backoff.orDefault()
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.PullPageSize <= 0 {
		opts.PullPageSize = defaultPullPageSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := opts.Rand
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Engine{
		store:    store,
		remote:   remote,
		opts:     opts,
		log:      logger,
		triggers: make(chan Trigger, 1),
		rand:     r,
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// LastReport returns the most recent finished drain, or nil.
func (e *Engine) LastReport() *DrainReport {
	return e.last.Load()
}

func (e *Engine) setState(s State) {
	if State(e.state.Swap(int32(s))) == s {
		return
	}
	if e.opts.OnStateChange != nil {
		e.opts.OnStateChange(s)
	}
}

// RequestSync asks for a drain without waiting for it. Requests made while a
// drain is running fold into a single extra pass.
func (e *Engine) RequestSync() {
	e.Notify(TriggerManual)
}

// Notify queues a trigger for Run. It never blocks; a trigger already
// waiting covers this one.
func (e *Engine) Notify(t Trigger) {
	if e.draining.Load() {
		e.again.Store(true)
		// The drain may have finished between the two loads
		if e.draining.Load() {
			return
		}
	}
	select {
	case e.triggers <- t:
	default:
	}
}

// Run drains on every trigger until ctx is done. It starts every configured
// source and fires a startup trigger.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, src := range e.opts.Sources {
		g.Go(func() error {
			return src.Run(gctx, e.Notify)
		})
	}

	g.Go(func() error {
		e.Notify(TriggerStartup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case t := <-e.triggers:
				_, err := e.Drain(gctx, t)
				switch {
				case err == nil, errors.Is(err, ErrDrainInProgress):
				case errors.Is(err, context.Canceled):
					return nil
				default:
					e.log.Warn("sync: drain", "trigger", t, "err", err)
				}
			}
		}
	})

	return g.Wait()
}

// Drain applies every due entry and returns when none is left. Only one
// drain runs per engine; a concurrent call returns ErrDrainInProgress after
// asking the active drain for another pass.
func (e *Engine) Drain(ctx context.Context, trigger Trigger) (DrainReport, error) {
	if !e.draining.CompareAndSwap(false, true) {
		e.again.Store(true)
		return DrainReport{Trigger: trigger}, ErrDrainInProgress
	}

	report := DrainReport{Trigger: trigger, StartedAt: e.store.Now()}
	e.setState(StateDraining)

	if st, err := e.store.GetSyncState(); err != nil {
		report.Err = fmt.Errorf("load sync state: %w", err)
	} else if st.AuthRequired {
		report.Err = syncerr.Wrap(syncerr.KindUnauthenticated, "drain",
			fmt.Errorf("login required: %s", st.AuthRequiredMsg))
	}

	for report.Err == nil {
		e.again.Store(false)
		report.Passes++
		e.pass(ctx, &report)
		if report.Err != nil || !e.again.Load() {
			break
		}
		e.log.Debug("sync: running another pass", "trigger", trigger)
	}

	report.FinishedAt = e.store.Now()
	e.finish(&report)

	e.draining.Store(false)
	e.setState(StateIdle)
	// A request that landed after the last pass check still gets served
	if e.again.Swap(false) {
		e.Notify(trigger)
	}
	return report, report.Err
}

func (e *Engine) finish(r *DrainReport) {
	if r.Attempted > 0 {
		if err := e.store.RecordDrain(r.FinishedAt, r.Succeeded, r.Failed, r.Conflicts); err != nil {
			e.log.Warn("sync: record drain", "err", err)
		}
	}
	e.log.Debug("sync: drain finished",
		"trigger", r.Trigger, "passes", r.Passes, "attempted", r.Attempted,
		"succeeded", r.Succeeded, "failed", r.Failed, "conflicts", r.Conflicts,
		"quarantined", r.Quarantined, "err", r.Err)

	snapshot := *r
	e.last.Store(&snapshot)
	if e.opts.OnDrain != nil {
		e.opts.OnDrain(snapshot)
	}
}

// pass works through entries due at the pass start. An entry that fails is
// rescheduled past that instant, so it is attempted at most once per pass.
func (e *Engine) pass(ctx context.Context, r *DrainReport) {
	start := e.store.Now()
	for {
		if err := ctx.Err(); err != nil {
			r.Err = err
			return
		}
		entry, err := e.store.DequeueOldest(start)
		if err != nil {
			r.Err = err
			return
		}
		if entry == nil {
			return
		}
		if err := e.apply(ctx, entry, r); err != nil {
			r.Err = err
			return
		}
	}
}

// apply sends one entry. A returned error ends the drain.
func (e *Engine) apply(ctx context.Context, entry *models.OutboxEntry, r *DrainReport) error {
	e.setState(StateApplying)

	if reason := undecodable(entry); reason != "" {
		r.Attempted++
		r.Quarantined++
		e.log.Warn("sync: quarantining entry", "table", entry.Table, "id", entry.EntityID,
			"op", entry.Operation, "reason", reason)
		return e.store.Quarantine(entry, reason)
	}

	var ownerID string
	if entry.Operation == models.OpCreate {
		if rec, err := e.store.Peek(entry.Table, entry.EntityID); err == nil {
			ownerID = rec.OwnerID
		}
	}

	if err := e.store.BeginAttempt(entry); err != nil {
		if errors.Is(err, db.ErrClaimed) {
			e.log.Debug("sync: entry in flight elsewhere", "table", entry.Table, "id", entry.EntityID)
			return nil
		}
		return fmt.Errorf("begin attempt: %w", err)
	}
	r.Attempted++

	res := e.call(ctx, entry, ownerID, entry.BaseVersion, false)
	switch res.Kind {
	case syncclient.OK:
		return e.succeed(entry, res.Record, r)
	case syncclient.Conflict:
		return e.resolve(ctx, entry, ownerID, res, r)
	default:
		return e.fail(entry, res, r)
	}
}

// undecodable reports why an entry can never be sent, or "" when it can.
func undecodable(entry *models.OutboxEntry) string {
	switch entry.Operation {
	case models.OpCreate, models.OpUpdate:
		if _, err := models.DecodePayload(entry.Table, entry.Payload); err != nil {
			return err.Error()
		}
	case models.OpDelete:
		if models.EmptyPayload(entry.Table) == nil {
			return fmt.Sprintf("unknown table %q", entry.Table)
		}
	default:
		return fmt.Sprintf("unknown operation %q", entry.Operation)
	}
	return ""
}

// call performs the remote operation for entry. The call is shielded from
// ctx cancellation and bounded by RequestTimeout so an acknowledged write is
// never abandoned half way.
func (e *Engine) call(ctx context.Context, entry *models.OutboxEntry, ownerID string, base int64, force bool) syncclient.Result {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.RequestTimeout)
	defer cancel()

	switch entry.Operation {
	case models.OpCreate:
		if force {
			return e.remote.Update(callCtx, entry.Table, entry.EntityID, entry.Payload, base, true)
		}
		return e.remote.Create(callCtx, entry.Table, entry.EntityID, ownerID, entry.Payload)
	case models.OpUpdate:
		return e.remote.Update(callCtx, entry.Table, entry.EntityID, entry.Payload, base, force)
	default:
		return e.remote.Delete(callCtx, entry.Table, entry.EntityID, base, force)
	}
}

func (e *Engine) succeed(entry *models.OutboxEntry, remote *models.RemoteRecord, r *DrainReport) error {
	if err := e.store.MarkSucceeded(entry, remote); err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	r.Succeeded++
	e.setState(StateSucceeded)

	meta := map[string]any{"operation": string(entry.Operation)}
	if remote != nil {
		meta["version"] = remote.Version
	}
	if err := e.store.RecordActivity(events.KindSynced, entry.Table, entry.EntityID, meta); err != nil {
		e.log.Warn("sync: record activity", "err", err)
	}
	e.log.Debug("sync: applied", "table", entry.Table, "id", entry.EntityID, "op", entry.Operation)
	return nil
}

// resolve settles a conflict by last-write-wins. A winning local mutation is
// re-sent once with force; a losing one is replaced by the remote state.
func (e *Engine) resolve(ctx context.Context, entry *models.OutboxEntry, ownerID string, res syncclient.Result, r *DrainReport) error {
	remote := res.Record
	if remote == nil {
		fetched := e.fetch(ctx, entry)
		if fetched.Kind != syncclient.OK || fetched.Record == nil {
			return e.fail(entry, fetched, r)
		}
		remote = fetched.Record
	}
	if remote.Table == "" {
		remote.Table = entry.Table
	}
	if remote.ID == "" {
		remote.ID = entry.EntityID
	}

	// Both sides already agree the record is gone
	if entry.Operation == models.OpDelete && remote.Deleted {
		return e.succeed(entry, remote, r)
	}

	c := Resolve(entry, *remote)
	r.Conflicts++
	e.setState(StateConflicted)
	e.log.Info("sync: conflict",
		"table", entry.Table, "id", entry.EntityID, "op", entry.Operation,
		"resolution", c.Resolution, "local_at", c.LocalAt, "remote_at", c.RemoteAt,
		"local", string(c.LocalPayload), "remote", string(c.RemotePayload))
	if err := e.store.RecordActivity(events.KindConflict, entry.Table, entry.EntityID, c); err != nil {
		e.log.Warn("sync: record activity", "err", err)
	}

	if c.Resolution == models.ResolutionRemoteWins {
		adopted, err := e.store.AdoptRemote(entry, *remote)
		if err != nil {
			return err
		}
		if !adopted {
			e.log.Debug("sync: local edit arrived during conflict, keeping it", "table", entry.Table, "id", entry.EntityID)
		}
		return nil
	}

	forced := e.call(ctx, entry, ownerID, remote.Version, true)
	switch forced.Kind {
	case syncclient.OK:
		return e.succeed(entry, forced.Record, r)
	case syncclient.Conflict:
		// Lost a second race; back off rather than force again
		forced.Kind = syncclient.Retryable
		if forced.Err == nil {
			forced.Err = syncerr.New(syncerr.KindConflict, "force", "remote changed again")
		}
		return e.fail(entry, forced, r)
	default:
		return e.fail(entry, forced, r)
	}
}

func (e *Engine) fetch(ctx context.Context, entry *models.OutboxEntry) syncclient.Result {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.RequestTimeout)
	defer cancel()
	return e.remote.Fetch(callCtx, entry.Table, entry.EntityID)
}

// fail records a failed attempt. Retryable failures are rescheduled with
// backoff; anything else blocks the entry. An authentication failure also
// ends the drain.
func (e *Engine) fail(entry *models.OutboxEntry, res syncclient.Result, r *DrainReport) error {
	err := res.Err
	if err == nil {
		err = syncerr.New(syncerr.KindServerError, string(entry.Operation), "remote call failed")
	}
	permanent := res.Kind != syncclient.Retryable

	f := db.Failure{Err: err, Permanent: permanent}
	if !permanent {
		delay := e.opts.Backoff.Delay(entry.RetryCount+1, e.rand)
		next := e.store.Now().Add(delay)
		f.NextAttemptAt = &next
	}

	retries, markErr := e.store.MarkFailed(entry, f)
	if markErr != nil {
		return markErr
	}
	r.Failed++
	e.setState(StateFailed)
	e.log.Warn("sync: apply failed",
		"table", entry.Table, "id", entry.EntityID, "op", entry.Operation,
		"kind", syncerr.KindOf(err), "retries", retries, "permanent", permanent, "err", err)

	if !permanent {
		return nil
	}

	if errors.Is(err, syncerr.ErrUnauthenticated) {
		if serr := e.store.SetAuthRequired(err.Error()); serr != nil {
			e.log.Warn("sync: set auth required", "err", serr)
		}
		if e.opts.OnUnauthenticated != nil {
			e.opts.OnUnauthenticated(err)
		}
		if aerr := e.store.RecordActivity(events.KindUnauthenticated, entry.Table, entry.EntityID,
			map[string]any{"error": err.Error()}); aerr != nil {
			e.log.Warn("sync: record activity", "err", aerr)
		}
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	if aerr := e.store.RecordActivity(events.KindPermanentFailure, entry.Table, entry.EntityID, map[string]any{
		"operation": string(entry.Operation),
		"kind":      string(syncerr.KindOf(err)),
		"error":     err.Error(),
	}); aerr != nil {
		e.log.Warn("sync: record activity", "err", aerr)
	}
	return nil
}

// Pull copies remote records of table into the local store, page by page.
// Records with unsent local changes are skipped. When ownerID is set only
// that owner's records are kept. Returns how many records changed locally.
func (e *Engine) Pull(ctx context.Context, table models.Table, ownerID string) (int, error) {
	var applied int
	var after int64
	for {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		callCtx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
		page, err := e.remote.List(callCtx, table, after, e.opts.PullPageSize)
		cancel()
		if err != nil {
			e.noteAuth(err)
			return applied, fmt.Errorf("list %s: %w", table, err)
		}

		for _, rr := range page.Records {
			if rr.Table == "" {
				rr.Table = table
			}
			if ownerID != "" && rr.OwnerID != "" && rr.OwnerID != ownerID {
				continue
			}
			ok, err := e.store.UpsertRemote(rr)
			if err != nil {
				if syncerr.KindOf(err) == syncerr.KindValidation {
					e.log.Warn("sync: skipping undecodable remote record", "table", table, "id", rr.ID, "err", err)
					continue
				}
				return applied, err
			}
			if ok {
				applied++
			}
		}

		if !page.HasMore || page.Next <= after {
			break
		}
		after = page.Next
	}

	now := e.store.Now()
	if err := e.store.MarkPulled(now); err != nil {
		e.log.Warn("sync: mark pulled", "err", err)
	}
	if applied > 0 {
		if err := e.store.RecordActivity(events.KindPulled, table, "", map[string]any{"applied": applied}); err != nil {
			e.log.Warn("sync: record activity", "err", err)
		}
	}
	e.log.Debug("sync: pulled", "table", table, "applied", applied)
	return applied, nil
}

// Refresh re-fetches a single record into the local store. Reports whether
// the local copy changed.
func (e *Engine) Refresh(ctx context.Context, table models.Table, id string) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()

	res := e.remote.Fetch(callCtx, table, id)
	if res.Kind != syncclient.OK || res.Record == nil {
		e.noteAuth(res.Err)
		if res.Err == nil {
			return false, fmt.Errorf("refresh %s %s: no record returned", table, id)
		}
		return false, fmt.Errorf("refresh %s %s: %w", table, id, res.Err)
	}
	rr := *res.Record
	if rr.Table == "" {
		rr.Table = table
	}
	if rr.ID == "" {
		rr.ID = id
	}
	return e.store.UpsertRemote(rr)
}

func (e *Engine) noteAuth(err error) {
	if err == nil || !errors.Is(err, syncerr.ErrUnauthenticated) {
		return
	}
	if serr := e.store.SetAuthRequired(err.Error()); serr != nil {
		e.log.Warn("sync: set auth required", "err", serr)
	}
	if e.opts.OnUnauthenticated != nil {
		e.opts.OnUnauthenticated(err)
	}
}
