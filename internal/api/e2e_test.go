package api

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/marcus/sn/internal/db"
	"github.com/marcus/sn/internal/models"
	snsync "github.com/marcus/sn/internal/sync"
	"github.com/marcus/sn/internal/syncclient"
	"github.com/marcus/sn/internal/syncerr"
)

// device is one client install: its own local store and engine talking to
// the harness server.
type device struct {
	store  *db.DB
	client *syncclient.Client
	engine *snsync.Engine
	owner  string
}

func newDevice(t *testing.T, h *TestHarness, token, owner, deviceID string) *device {
	t.Helper()
	store, err := db.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("init local store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	client := syncclient.New(h.BaseURL, token, deviceID)
	engine := snsync.New(store, client, snsync.Options{
		Backoff:        snsync.Backoff{Base: time.Second, Max: time.Minute},
		RequestTimeout: 5 * time.Second,
	})
	return &device{store: store, client: client, engine: engine, owner: owner}
}

func (d *device) putNote(t *testing.T, id, title string) {
	t.Helper()
	raw, err := models.EncodePayload(models.NotePayload{Title: title})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.store.Put(models.TableNotes, &models.Record{ID: id, OwnerID: d.owner, Payload: raw}); err != nil {
		t.Fatalf("put %s: %v", id, err)
	}
}

func (d *device) drain(t *testing.T) snsync.DrainReport {
	t.Helper()
	r, err := d.engine.Drain(context.Background(), snsync.TriggerManual)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	return r
}

func (d *device) pull(t *testing.T) {
	t.Helper()
	if _, err := d.engine.Pull(context.Background(), models.TableNotes, d.owner); err != nil {
		t.Fatalf("pull: %v", err)
	}
}

func (d *device) title(t *testing.T, id string) string {
	t.Helper()
	rec, err := d.store.Peek(models.TableNotes, id)
	if err != nil {
		t.Fatalf("peek %s: %v", id, err)
	}
	var p models.NotePayload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		t.Fatal(err)
	}
	return p.Title
}

func serverTitle(t *testing.T, h *TestHarness, owner, id string) string {
	t.Helper()
	rec, err := h.Store.GetRecord(string(models.TableNotes), id, owner)
	if err != nil {
		t.Fatalf("server get %s: %v", id, err)
	}
	var p models.NotePayload
	json.Unmarshal(rec.Payload, &p)
	return p.Title
}

func TestClientAgainstServer(t *testing.T) {
	h := newTestHarness(t)
	uid, token := h.CreateUser("me@test.com")
	c := syncclient.New(h.BaseURL, token, "dev-a")
	ctx := context.Background()

	who, err := c.WhoAmI(ctx)
	if err != nil || who.UserID != uid {
		t.Fatalf("whoami = %+v, %v", who, err)
	}
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	res := c.Create(ctx, models.TableNotes, "n1", uid, json.RawMessage(`{"title":"one"}`))
	if res.Kind != syncclient.OK || res.Record.Version == 0 {
		t.Fatalf("create = %+v", res)
	}
	v := res.Record.Version

	res = c.Create(ctx, models.TableNotes, "n1", uid, json.RawMessage(`{"title":"again"}`))
	if res.Kind != syncclient.Conflict || res.Record == nil || res.Record.Version != v {
		t.Fatalf("duplicate create = %+v", res)
	}

	res = c.Update(ctx, models.TableNotes, "n1", json.RawMessage(`{"title":"two"}`), v+100, false)
	if res.Kind != syncclient.Conflict || res.Record == nil {
		t.Fatalf("stale update = %+v", res)
	}

	res = c.Update(ctx, models.TableNotes, "n1", json.RawMessage(`{"title":"two"}`), v, false)
	if res.Kind != syncclient.OK || res.Record.Version <= v {
		t.Fatalf("update = %+v", res)
	}

	res = c.Update(ctx, models.TableNotes, "n1", json.RawMessage(`{}`), res.Record.Version, false)
	if res.Kind != syncclient.Permanent || syncerr.KindOf(res.Err) != syncerr.KindValidation {
		t.Fatalf("invalid update = %+v", res)
	}

	res = c.Delete(ctx, models.TableNotes, "never-existed", 0, false)
	if res.Kind != syncclient.OK || !res.Record.Deleted {
		t.Fatalf("delete unknown = %+v", res)
	}

	res = c.Fetch(ctx, models.TableNotes, "n1")
	if res.Kind != syncclient.OK || res.Record.Deleted {
		t.Fatalf("fetch = %+v", res)
	}

	page, err := c.List(ctx, models.TableNotes, 0, 10)
	if err != nil || len(page.Records) != 1 {
		t.Fatalf("list = %+v, %v", page, err)
	}

	bad := syncclient.New(h.BaseURL, "sn_live_nope", "dev-a")
	res = bad.Fetch(ctx, models.TableNotes, "n1")
	if res.Kind != syncclient.Permanent || !errors.Is(res.Err, syncerr.ErrUnauthenticated) {
		t.Fatalf("bad key fetch = %+v", res)
	}
}

func TestEngineRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	uid, token := h.CreateUser("me@test.com")
	a := newDevice(t, h, token, uid, "dev-a")
	b := newDevice(t, h, token, uid, "dev-b")

	a.putNote(t, "n1", "from a")
	a.putNote(t, "n2", "doomed")
	if r := a.drain(t); r.Succeeded != 2 {
		t.Fatalf("first drain = %+v", r)
	}

	b.pull(t)
	if got := b.title(t, "n1"); got != "from a" {
		t.Fatalf("b sees %q", got)
	}

	if err := a.store.Delete(models.TableNotes, "n2"); err != nil {
		t.Fatal(err)
	}
	a.drain(t)
	rec, err := h.Store.GetRecord(string(models.TableNotes), "n2", uid)
	if err != nil || !rec.Deleted {
		t.Fatalf("server n2 = %+v, %v", rec, err)
	}

	b.pull(t)
	peek, err := b.store.Peek(models.TableNotes, "n2")
	if err == nil && !peek.Deleted {
		t.Errorf("b still has live n2")
	}
}

func TestEngineConflictRemoteWins(t *testing.T) {
	h := newTestHarness(t)
	uid, token := h.CreateUser("me@test.com")
	a := newDevice(t, h, token, uid, "dev-a")
	b := newDevice(t, h, token, uid, "dev-b")

	a.putNote(t, "n1", "v1")
	a.drain(t)
	b.pull(t)

	// a edits first, b edits later and reaches the server first
	a.putNote(t, "n1", "a's edit")
	time.Sleep(time.Millisecond)
	b.putNote(t, "n1", "b's edit")
	b.drain(t)

	r := a.drain(t)
	if r.Conflicts != 1 {
		t.Fatalf("a drain = %+v", r)
	}
	if got := a.title(t, "n1"); got != "b's edit" {
		t.Errorf("a local = %q, want b's edit", got)
	}
	if got := serverTitle(t, h, uid, "n1"); got != "b's edit" {
		t.Errorf("server = %q, want b's edit", got)
	}
}

func TestEngineConflictLocalWins(t *testing.T) {
	h := newTestHarness(t)
	uid, token := h.CreateUser("me@test.com")
	a := newDevice(t, h, token, uid, "dev-a")
	b := newDevice(t, h, token, uid, "dev-b")

	a.putNote(t, "n1", "v1")
	a.drain(t)
	b.pull(t)

	b.putNote(t, "n1", "b's edit")
	b.drain(t)
	time.Sleep(time.Millisecond)
	// a never saw b's write and edits afterwards
	a.putNote(t, "n1", "a's later edit")

	r := a.drain(t)
	if r.Conflicts != 1 || r.Succeeded != 1 {
		t.Fatalf("a drain = %+v", r)
	}
	if got := serverTitle(t, h, uid, "n1"); got != "a's later edit" {
		t.Errorf("server = %q, want a's later edit", got)
	}

	b.pull(t)
	if got := b.title(t, "n1"); got != "a's later edit" {
		t.Errorf("b = %q after pull", got)
	}
}
