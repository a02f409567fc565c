package syncclient

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/marcus/sn/internal/models"
	"github.com/marcus/sn/internal/syncerr"
)

// Call is one invocation recorded by Fake.
type Call struct {
	Method      string
	Table       models.Table
	ID          string
	Payload     json.RawMessage
	BaseVersion int64
	Force       bool
}

type fakeKey struct {
	table models.Table
	id    string
}

// Fake is an in-memory remote for tests. By default it behaves like the
// reference server: versioned records, tombstones and conflicts on stale
// base versions. Script queues canned results that take precedence, one per
// call, per method.
type Fake struct {
	mu      sync.Mutex
	records map[fakeKey]models.RemoteRecord
	seq     int64
	scripts map[string][]Result
	calls   []Call

	// Now stamps ModifiedAt on writes. Defaults to time.Now.
	Now func() time.Time
	// Hook runs before each call is answered, outside the lock. Tests use it
	// to block a call in flight or to mutate local state mid-call.
	Hook func(ctx context.Context, c Call)
	// Offline makes every call fail as a network error.
	Offline bool
}

// NewFake returns an empty fake remote.
func NewFake() *Fake {
	return &Fake{
		records: make(map[fakeKey]models.RemoteRecord),
		scripts: make(map[string][]Result),
		Now:     time.Now,
	}
}

// Script queues results for method ("create", "update", "delete", "fetch").
func (f *Fake) Script(method string, results ...Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[method] = append(f.scripts[method], results...)
}

// Calls returns a copy of the call log.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns how many calls of method were made, or all calls when
// method is empty.
func (f *Fake) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if method == "" || c.Method == method {
			n++
		}
	}
	return n
}

// Seed writes a record as if another device had, bumping the version.
// A zero ModifiedAt is stamped with Now.
func (f *Fake) Seed(rr models.RemoteRecord) models.RemoteRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	rr.Version = f.seq
	if rr.ModifiedAt.IsZero() {
		rr.ModifiedAt = f.Now().UTC()
	}
	f.records[fakeKey{rr.Table, rr.ID}] = rr
	return rr
}

// Record returns the fake's copy of a record.
func (f *Fake) Record(table models.Table, id string) (models.RemoteRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rr, ok := f.records[fakeKey{table, id}]
	return rr, ok
}

func (f *Fake) begin(ctx context.Context, c Call) (Result, bool) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	hook := f.Hook
	f.mu.Unlock()

	if hook != nil {
		hook(ctx, c)
	}
	if err := ctx.Err(); err != nil {
		return Result{Kind: Retryable, Err: syncerr.Wrap(syncerr.KindTimeout, c.Method, err)}, true
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Offline {
		return Result{Kind: Retryable, Err: syncerr.New(syncerr.KindNetworkUnavailable, c.Method, "offline")}, true
	}
	if q := f.scripts[c.Method]; len(q) > 0 {
		f.scripts[c.Method] = q[1:]
		return q[0], true
	}
	return Result{}, false
}

func (f *Fake) write(rr models.RemoteRecord) *models.RemoteRecord {
	f.seq++
	rr.Version = f.seq
	rr.ModifiedAt = f.Now().UTC()
	f.records[fakeKey{rr.Table, rr.ID}] = rr
	return &rr
}

func conflictWith(op string, rr models.RemoteRecord) Result {
	return Result{Kind: Conflict, Record: &rr, Err: syncerr.New(syncerr.KindConflict, op, "version mismatch")}
}

func (f *Fake) Create(ctx context.Context, table models.Table, id, ownerID string, payload json.RawMessage) Result {
	if res, ok := f.begin(ctx, Call{Method: "create", Table: table, ID: id, Payload: payload}); ok {
		return res
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.records[fakeKey{table, id}]; ok && !cur.Deleted {
		return conflictWith("create", cur)
	}
	return Result{Kind: OK, Record: f.write(models.RemoteRecord{Table: table, ID: id, OwnerID: ownerID, Payload: payload})}
}

func (f *Fake) Update(ctx context.Context, table models.Table, id string, payload json.RawMessage, baseVersion int64, force bool) Result {
	if res, ok := f.begin(ctx, Call{Method: "update", Table: table, ID: id, Payload: payload, BaseVersion: baseVersion, Force: force}); ok {
		return res
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.records[fakeKey{table, id}]
	if !ok {
		return Result{Kind: Permanent, Err: syncerr.Wrap(syncerr.KindValidation, "update", ErrNotFound)}
	}
	if !force && (cur.Deleted || cur.Version != baseVersion) {
		return conflictWith("update", cur)
	}
	return Result{Kind: OK, Record: f.write(models.RemoteRecord{Table: table, ID: id, OwnerID: cur.OwnerID, Payload: payload})}
}

func (f *Fake) Delete(ctx context.Context, table models.Table, id string, baseVersion int64, force bool) Result {
	if res, ok := f.begin(ctx, Call{Method: "delete", Table: table, ID: id, BaseVersion: baseVersion, Force: force}); ok {
		return res
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.records[fakeKey{table, id}]
	if !ok || cur.Deleted {
		if ok {
			return Result{Kind: OK, Record: &cur}
		}
		return Result{Kind: OK, Record: &models.RemoteRecord{Table: table, ID: id, Deleted: true}}
	}
	if !force && cur.Version != baseVersion {
		return conflictWith("delete", cur)
	}
	return Result{Kind: OK, Record: f.write(models.RemoteRecord{Table: table, ID: id, OwnerID: cur.OwnerID, Deleted: true})}
}

func (f *Fake) Fetch(ctx context.Context, table models.Table, id string) Result {
	if res, ok := f.begin(ctx, Call{Method: "fetch", Table: table, ID: id}); ok {
		return res
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.records[fakeKey{table, id}]
	if !ok {
		return Result{Kind: OK, Record: &models.RemoteRecord{Table: table, ID: id, Deleted: true}}
	}
	return Result{Kind: OK, Record: &cur}
}

func (f *Fake) List(ctx context.Context, table models.Table, after int64, limit int) (*Page, error) {
	if res, ok := f.begin(ctx, Call{Method: "list", Table: table}); ok {
		return nil, res.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.RemoteRecord
	for k, rr := range f.records {
		if k.table == table && rr.Version > after {
			out = append(out, rr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })

	page := &Page{Next: after}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
		page.HasMore = true
	}
	page.Records = out
	if len(out) > 0 {
		page.Next = out[len(out)-1].Version
	}
	return page, nil
}

func (f *Fake) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Offline {
		return syncerr.New(syncerr.KindNetworkUnavailable, "ping", "offline")
	}
	return nil
}
