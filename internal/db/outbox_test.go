package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marcus/sn/internal/models"
	"github.com/marcus/sn/internal/syncerr"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestCoalesceTable(t *testing.T) {
	tests := []struct {
		existing models.Operation
		inFlight bool
		next     models.Operation
		want     models.Operation
		drop     bool
		wantErr  bool
	}{
		{models.OpCreate, false, models.OpUpdate, models.OpCreate, false, false},
		{models.OpCreate, false, models.OpDelete, "", true, false},
		{models.OpCreate, true, models.OpDelete, models.OpDelete, false, false},
		{models.OpUpdate, false, models.OpUpdate, models.OpUpdate, false, false},
		{models.OpUpdate, false, models.OpDelete, models.OpDelete, false, false},
		{models.OpDelete, false, models.OpCreate, models.OpCreate, false, false},
		{models.OpDelete, false, models.OpDelete, models.OpDelete, false, false},
		{models.OpCreate, false, models.OpCreate, "", false, true},
		{models.OpDelete, false, models.OpUpdate, "", false, true},
	}

	for _, tc := range tests {
		got, drop, err := coalesce(tc.existing, tc.inFlight, tc.next)
		if tc.wantErr {
			if !errors.Is(err, syncerr.ErrValidation) {
				t.Errorf("%s->%s: err = %v, want validation error", tc.existing, tc.next, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s->%s: unexpected error %v", tc.existing, tc.next, err)
			continue
		}
		if got != tc.want || drop != tc.drop {
			t.Errorf("%s->%s (in flight %v) = %q drop %v, want %q drop %v",
				tc.existing, tc.next, tc.inFlight, got, drop, tc.want, tc.drop)
		}
	}
}

func TestCreateThenUpdateMergesPayload(t *testing.T) {
	db := newTestDB(t)
	rec := &models.Record{ID: "n1", Payload: notePayload(t, "Title", "first body")}
	if _, err := db.Put(models.TableNotes, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	first, _ := db.GetOutboxEntry(models.TableNotes, "n1")

	rec.Payload = json.RawMessage(`{"body":"second body"}`)
	if _, err := db.Put(models.TableNotes, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entries, err := db.ListOutbox()
	if err != nil {
		t.Fatalf("ListOutbox: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Operation != models.OpCreate {
		t.Errorf("operation = %s, want create", e.Operation)
	}
	var p models.NotePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Title != "Title" || p.Body != "second body" {
		t.Errorf("merged payload = %+v", p)
	}
	if e.Revision != first.Revision+1 {
		t.Errorf("revision = %d, want %d", e.Revision, first.Revision+1)
	}
	if !e.EnqueuedAt.Equal(first.EnqueuedAt) {
		t.Errorf("enqueued_at moved on coalesce: %v -> %v", first.EnqueuedAt, e.EnqueuedAt)
	}
	if !e.MutatedAt.After(first.MutatedAt) {
		t.Errorf("mutated_at not advanced: %v -> %v", first.MutatedAt, e.MutatedAt)
	}
}

func TestUpdateThenUpdateLatestWins(t *testing.T) {
	db := newTestDB(t)
	putNote(t, db, "n1", "v0")
	markSynced(t, db, "n1", 1)

	putNote(t, db, "n1", "v1")
	putNote(t, db, "n1", "v2")

	e, err := db.GetOutboxEntry(models.TableNotes, "n1")
	if err != nil {
		t.Fatalf("GetOutboxEntry: %v", err)
	}
	var p models.NotePayload
	json.Unmarshal(e.Payload, &p)
	if e.Operation != models.OpUpdate || p.Title != "v2" {
		t.Errorf("entry = %s %q, want update v2", e.Operation, p.Title)
	}
}

func TestUpdateThenDeleteBecomesDelete(t *testing.T) {
	db := newTestDB(t)
	putNote(t, db, "n1", "v0")
	markSynced(t, db, "n1", 1)
	putNote(t, db, "n1", "v1")

	if err := db.Delete(models.TableNotes, "n1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	e, _ := db.GetOutboxEntry(models.TableNotes, "n1")
	if e == nil || e.Operation != models.OpDelete || len(e.Payload) != 0 {
		t.Fatalf("entry = %+v, want bare delete", e)
	}
}

func TestDeleteThenCreateBecomesCreate(t *testing.T) {
	db := newTestDB(t)
	putNote(t, db, "n1", "v0")
	markSynced(t, db, "n1", 1)
	if err := db.Delete(models.TableNotes, "n1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	op, err := db.Put(models.TableNotes, &models.Record{ID: "n1", Payload: notePayload(t, "reborn", "")})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if op != models.OpCreate {
		t.Errorf("op = %s, want create", op)
	}
	e, _ := db.GetOutboxEntry(models.TableNotes, "n1")
	if e.Operation != models.OpCreate {
		t.Errorf("entry = %s, want create", e.Operation)
	}
	if _, err := db.Get(models.TableNotes, "n1"); err != nil {
		t.Errorf("resurrected record not visible: %v", err)
	}
}

func TestCoalesceResetsRetryState(t *testing.T) {
	db := newTestDB(t)
	putNote(t, db, "n1", "v0")
	e, _ := db.GetOutboxEntry(models.TableNotes, "n1")

	next := time.Now().Add(time.Hour)
	if _, err := db.MarkFailed(e, Failure{Err: syncerr.New(syncerr.KindServerError, "create", "boom"), NextAttemptAt: &next}); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	e, _ = db.GetOutboxEntry(models.TableNotes, "n1")
	if e.RetryCount != 1 || e.NextAttemptAt == nil {
		t.Fatalf("after failure: retry %d next %v", e.RetryCount, e.NextAttemptAt)
	}

	putNote(t, db, "n1", "v1")
	e, _ = db.GetOutboxEntry(models.TableNotes, "n1")
	if e.RetryCount != 0 || e.NextAttemptAt != nil || e.LastError != nil {
		t.Errorf("retry state not reset: %+v", e)
	}
}

func TestDequeueOldestOrderAndDue(t *testing.T) {
	db := newTestDB(t)
	putNote(t, db, "a", "first")
	putNote(t, db, "b", "second")
	putNote(t, db, "c", "third")

	// Re-editing a keeps its place at the head
	putNote(t, db, "a", "first edited")

	e, err := db.DequeueOldest(time.Now())
	if err != nil {
		t.Fatalf("DequeueOldest: %v", err)
	}
	if e == nil || e.EntityID != "a" {
		t.Fatalf("head = %+v, want a", e)
	}

	later := time.Now().Add(time.Hour)
	if _, err := db.MarkFailed(e, Failure{Err: errors.New("x"), NextAttemptAt: &later}); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	e, _ = db.DequeueOldest(time.Now())
	if e == nil || e.EntityID != "b" {
		t.Fatalf("head after backoff = %+v, want b", e)
	}

	// Permanent failure blocks c
	c, _ := db.GetOutboxEntry(models.TableNotes, "c")
	if _, err := db.MarkFailed(c, Failure{Err: errors.New("bad"), Permanent: true}); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	stats, err := db.OutboxStats(time.Now())
	if err != nil {
		t.Fatalf("OutboxStats: %v", err)
	}
	if stats.Total != 3 || stats.Due != 1 || stats.Waiting != 1 || stats.Blocked != 1 {
		t.Errorf("stats = %+v", stats)
	}

	// After the backoff a is due again
	e, _ = db.DequeueOldest(later.Add(time.Second))
	if e == nil || e.EntityID != "a" {
		t.Errorf("head after backoff elapsed = %+v, want a", e)
	}
}

func TestDequeueEmpty(t *testing.T) {
	db := newTestDB(t)
	e, err := db.DequeueOldest(time.Now())
	if err != nil || e != nil {
		t.Errorf("DequeueOldest on empty outbox = %v, %v", e, err)
	}
}

func TestMarkFailedFlipsStatus(t *testing.T) {
	db := newTestDB(t)
	putNote(t, db, "n1", "v0")
	e, _ := db.GetOutboxEntry(models.TableNotes, "n1")

	retries, err := db.MarkFailed(e, Failure{Err: syncerr.New(syncerr.KindNetworkUnavailable, "create", "offline")})
	if err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if retries != 1 {
		t.Errorf("retries = %d, want 1", retries)
	}
	rec, _ := db.Peek(models.TableNotes, "n1")
	if rec.SyncStatus != models.SyncFailed || rec.LastError == "" {
		t.Errorf("record = %s %q, want failed with error", rec.SyncStatus, rec.LastError)
	}

	// A due retry flips it back to pending while in flight
	e, _ = db.GetOutboxEntry(models.TableNotes, "n1")
	if err := db.BeginAttempt(e); err != nil {
		t.Fatalf("BeginAttempt: %v", err)
	}
	rec, _ = db.Peek(models.TableNotes, "n1")
	if rec.SyncStatus != models.SyncPending {
		t.Errorf("status during retry = %s, want pending", rec.SyncStatus)
	}
	if e, _ := db.GetOutboxEntry(models.TableNotes, "n1"); e.ErrorKind != string(syncerr.KindNetworkUnavailable) || !e.Attempting {
		t.Errorf("entry = kind %q attempting %v", e.ErrorKind, e.Attempting)
	}
}

func TestEditDuringFlightSurvivesSuccess(t *testing.T) {
	db := newTestDB(t)
	putNote(t, db, "n1", "v1")
	inFlight, _ := db.GetOutboxEntry(models.TableNotes, "n1")
	if err := db.BeginAttempt(inFlight); err != nil {
		t.Fatalf("BeginAttempt: %v", err)
	}

	// User edits while the create is on the wire
	putNote(t, db, "n1", "v2")

	rr := &models.RemoteRecord{Table: models.TableNotes, ID: "n1", Version: 1, ModifiedAt: time.Now()}
	if err := db.MarkSucceeded(inFlight, rr); err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}

	e, err := db.GetOutboxEntry(models.TableNotes, "n1")
	if err != nil {
		t.Fatalf("newer edit was dropped: %v", err)
	}
	if e.Operation != models.OpUpdate || e.BaseVersion != 1 || e.Attempting {
		t.Errorf("rebased entry = %s base %d attempting %v, want update base 1", e.Operation, e.BaseVersion, e.Attempting)
	}
	var p models.NotePayload
	json.Unmarshal(e.Payload, &p)
	if p.Title != "v2" {
		t.Errorf("payload title = %q, want v2", p.Title)
	}
	rec, _ := db.Peek(models.TableNotes, "n1")
	if rec.SyncStatus != models.SyncPending || rec.RemoteVersion != 1 {
		t.Errorf("record = %s v%d, want pending v1", rec.SyncStatus, rec.RemoteVersion)
	}
}

func TestDeleteDuringCreateFlightKeepsDelete(t *testing.T) {
	db := newTestDB(t)
	putNote(t, db, "n1", "v1")
	inFlight, _ := db.GetOutboxEntry(models.TableNotes, "n1")
	if err := db.BeginAttempt(inFlight); err != nil {
		t.Fatalf("BeginAttempt: %v", err)
	}

	if err := db.Delete(models.TableNotes, "n1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	e, _ := db.GetOutboxEntry(models.TableNotes, "n1")
	if e == nil || e.Operation != models.OpDelete {
		t.Fatalf("entry = %+v, want delete", e)
	}

	rr := &models.RemoteRecord{Table: models.TableNotes, ID: "n1", Version: 1, ModifiedAt: time.Now()}
	if err := db.MarkSucceeded(inFlight, rr); err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}
	e, _ = db.GetOutboxEntry(models.TableNotes, "n1")
	if e == nil || e.Operation != models.OpDelete || e.BaseVersion != 1 {
		t.Errorf("entry after create landed = %+v, want delete base 1", e)
	}
}

func TestMarkFailedAfterEditDoesNotCharge(t *testing.T) {
	db := newTestDB(t)
	putNote(t, db, "n1", "v1")
	inFlight, _ := db.GetOutboxEntry(models.TableNotes, "n1")
	putNote(t, db, "n1", "v2")

	if _, err := db.MarkFailed(inFlight, Failure{Err: errors.New("boom"), Permanent: true}); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	e, _ := db.GetOutboxEntry(models.TableNotes, "n1")
	if e.Blocked || e.RetryCount != 0 {
		t.Errorf("edited entry charged for stale failure: %+v", e)
	}
}

func TestAdoptRemote(t *testing.T) {
	db := newTestDB(t)
	putNote(t, db, "n1", "v0")
	markSynced(t, db, "n1", 1)
	putNote(t, db, "n1", "local")
	e, _ := db.GetOutboxEntry(models.TableNotes, "n1")

	remote := models.RemoteRecord{Table: models.TableNotes, ID: "n1", Payload: notePayload(t, "remote", ""),
		Version: 4, ModifiedAt: time.Now()}
	adopted, err := db.AdoptRemote(e, remote)
	if err != nil || !adopted {
		t.Fatalf("AdoptRemote = %v, %v", adopted, err)
	}
	if _, err := db.GetOutboxEntry(models.TableNotes, "n1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("entry kept after adopt: %v", err)
	}
	rec, _ := db.Get(models.TableNotes, "n1")
	var p models.NotePayload
	json.Unmarshal(rec.Payload, &p)
	if p.Title != "remote" || rec.SyncStatus != models.SyncSynced || rec.RemoteVersion != 4 {
		t.Errorf("record = %q %s v%d", p.Title, rec.SyncStatus, rec.RemoteVersion)
	}
}

func TestRetryUnblocks(t *testing.T) {
	db := newTestDB(t)
	putNote(t, db, "n1", "v0")
	e, _ := db.GetOutboxEntry(models.TableNotes, "n1")
	if _, err := db.MarkFailed(e, Failure{Err: syncerr.New(syncerr.KindValidation, "create", "rejected"), Permanent: true}); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if e, _ := db.DequeueOldest(time.Now()); e != nil {
		t.Fatal("blocked entry was dequeued")
	}

	if err := db.Retry(models.TableNotes, "n1"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if e, _ := db.DequeueOldest(time.Now()); e == nil {
		t.Error("entry still blocked after Retry")
	}
	if err := db.Retry(models.TableNotes, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Retry missing = %v, want ErrNotFound", err)
	}
}

func TestRetryAllByKind(t *testing.T) {
	db := newTestDB(t)
	putNote(t, db, "a", "a")
	putNote(t, db, "b", "b")
	later := time.Now().Add(time.Hour)

	a, _ := db.GetOutboxEntry(models.TableNotes, "a")
	db.MarkFailed(a, Failure{Err: syncerr.New(syncerr.KindServerError, "create", "500"), NextAttemptAt: &later})
	b, _ := db.GetOutboxEntry(models.TableNotes, "b")
	db.MarkFailed(b, Failure{Err: syncerr.New(syncerr.KindValidation, "create", "400"), Permanent: true})

	n, err := db.RetryAll(syncerr.KindServerError)
	if err != nil {
		t.Fatalf("RetryAll: %v", err)
	}
	if n != 1 {
		t.Errorf("RetryAll(server_error) = %d, want 1", n)
	}
	if e, _ := db.GetOutboxEntry(models.TableNotes, "b"); !e.Blocked {
		t.Error("validation failure unblocked by kind-filtered retry")
	}

	n, _ = db.RetryAll("")
	if n != 1 {
		t.Errorf("RetryAll() = %d, want 1", n)
	}
	stats, _ := db.OutboxStats(time.Now())
	if stats.Due != 2 {
		t.Errorf("due = %d, want 2", stats.Due)
	}
}

func TestEnqueueMonotonicAcrossClockSkew(t *testing.T) {
	db := newTestDB(t)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	putNote(t, db, "a", "a")

	// A second process with a clock in the past must still queue behind a
	db.SetClock(models.NewClock(func() time.Time { return fixed }))
	putNote(t, db, "b", "b")

	entries, _ := db.ListOutbox()
	if len(entries) != 2 || entries[0].EntityID != "a" || entries[1].EntityID != "b" {
		t.Fatalf("order = %+v", entries)
	}
	if !entries[1].EnqueuedAt.After(entries[0].EnqueuedAt) {
		t.Errorf("enqueued_at not monotonic: %v then %v", entries[0].EnqueuedAt, entries[1].EnqueuedAt)
	}
}

func TestEnqueueInMemory(t *testing.T) {
	db, err := OpenConn(openMemory(t))
	if err != nil {
		t.Fatalf("OpenConn: %v", err)
	}
	if err := db.Enqueue(models.OpCreate, models.TableDecks, "d1", json.RawMessage(`{"name":"Go"}`)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := db.Enqueue(models.OpCreate, models.TableDecks, "d2", json.RawMessage(`{"name":""}`)); !errors.Is(err, syncerr.ErrValidation) {
		t.Errorf("Enqueue invalid = %v, want validation error", err)
	}
	entries, _ := db.ListOutbox()
	if len(entries) != 1 || entries[0].Table != models.TableDecks {
		t.Errorf("entries = %+v", entries)
	}
}

func TestInFlightEntryIsClaimedOnce(t *testing.T) {
	dir := t.TempDir()
	daemon, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer daemon.Close()
	cli, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cli.Close()

	putNote(t, cli, "n1", "v1")

	// Both processes see the entry before either claims it
	first, _ := daemon.DequeueOldest(daemon.Now())
	second, _ := cli.DequeueOldest(cli.Now())
	if first == nil || second == nil {
		t.Fatalf("dequeue = %v, %v; want the entry in both", first, second)
	}

	if err := daemon.BeginAttempt(first); err != nil {
		t.Fatalf("BeginAttempt: %v", err)
	}
	if err := cli.BeginAttempt(second); !errors.Is(err, ErrClaimed) {
		t.Errorf("second claim err = %v, want ErrClaimed", err)
	}
	if e, _ := cli.DequeueOldest(cli.Now()); e != nil {
		t.Errorf("in-flight entry dequeued again: %+v", e)
	}

	// A claim left behind by a dead process expires after the lease
	later := time.Now().Add(AttemptLease + time.Minute)
	cli.SetClock(models.NewClock(func() time.Time { return later }))
	e, _ := cli.DequeueOldest(cli.Now())
	if e == nil {
		t.Fatal("stale claim still hides the entry")
	}
	if err := cli.BeginAttempt(e); err != nil {
		t.Errorf("taking over stale claim: %v", err)
	}
}

func TestEditAfterPullOrdersAfterRemoteTime(t *testing.T) {
	db := newTestDB(t)
	local := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	db.SetClock(models.NewClock(func() time.Time { return local }))

	// The server's clock runs an hour ahead of this device
	remoteAt := local.Add(time.Hour)
	if _, err := db.UpsertRemote(models.RemoteRecord{Table: models.TableNotes, ID: "n1", OwnerID: "u1",
		Payload: notePayload(t, "theirs", ""), Version: 1, ModifiedAt: remoteAt}); err != nil {
		t.Fatalf("UpsertRemote: %v", err)
	}

	putNote(t, db, "n1", "mine")
	e, err := db.GetOutboxEntry(models.TableNotes, "n1")
	if err != nil {
		t.Fatalf("GetOutboxEntry: %v", err)
	}
	if !e.MutatedAt.After(remoteAt) {
		t.Errorf("MutatedAt = %v, want after pulled remote time %v", e.MutatedAt, remoteAt)
	}
}
