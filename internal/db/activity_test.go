package db

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/marcus/sn/internal/events"
	"github.com/marcus/sn/internal/models"
)

func TestRecordActivityAndTail(t *testing.T) {
	db := newTestDB(t)

	for i := 0; i < 5; i++ {
		if err := db.RecordActivity(events.KindSynced, models.TableNotes, "n1", map[string]any{"i": i}); err != nil {
			t.Fatalf("RecordActivity: %v", err)
		}
	}
	if err := db.RecordActivity(events.KindConflict, models.TableDecks, "d1", nil); err != nil {
		t.Fatalf("RecordActivity: %v", err)
	}

	tail, err := db.ActivityTail(3, "", nil)
	if err != nil {
		t.Fatalf("ActivityTail: %v", err)
	}
	if len(tail) != 3 {
		t.Fatalf("got %d entries, want 3", len(tail))
	}
	// Chronological, newest last
	if tail[2].Kind != string(events.KindConflict) {
		t.Errorf("last kind = %s, want conflict", tail[2].Kind)
	}
	if tail[0].ID >= tail[1].ID {
		t.Errorf("tail not in chronological order: %d, %d", tail[0].ID, tail[1].ID)
	}

	var meta map[string]int
	if err := json.Unmarshal(tail[0].Metadata, &meta); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta["i"] != 3 {
		t.Errorf("metadata i = %d, want 3", meta["i"])
	}

	conflicts, _ := db.ActivityTail(10, events.KindConflict, nil)
	if len(conflicts) != 1 || conflicts[0].Table != models.TableDecks {
		t.Errorf("conflicts = %+v", conflicts)
	}

	future := time.Now().Add(time.Hour)
	if none, _ := db.ActivityTail(10, "", &future); len(none) != 0 {
		t.Errorf("since filter returned %d entries", len(none))
	}
}

func TestRecordActivityRejectsUnknownKind(t *testing.T) {
	db := newTestDB(t)
	if err := db.RecordActivity("bogus", "", "", nil); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestActivitySince(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 4; i++ {
		db.RecordActivity(events.KindPulled, "", "", nil)
	}

	first, _ := db.ActivitySince(0, 2)
	if len(first) != 2 {
		t.Fatalf("got %d, want 2", len(first))
	}
	rest, _ := db.ActivitySince(first[1].ID, 10)
	if len(rest) != 2 {
		t.Errorf("got %d after id %d, want 2", len(rest), first[1].ID)
	}
}

func TestPruneActivity(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 10; i++ {
		db.RecordActivity(events.KindSynced, models.TableNotes, "n", nil)
	}

	pruned, err := db.PruneActivity(4)
	if err != nil {
		t.Fatalf("PruneActivity: %v", err)
	}
	if pruned != 6 {
		t.Errorf("pruned %d, want 6", pruned)
	}
	left, _ := db.ActivityTail(100, "", nil)
	if len(left) != 4 {
		t.Errorf("kept %d, want 4", len(left))
	}
}

func TestSyncState(t *testing.T) {
	db := newTestDB(t)

	s, err := db.GetSyncState()
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if s.LastDrainAt != nil || s.AuthRequired {
		t.Errorf("fresh state = %+v", s)
	}

	at := time.Now().UTC().Round(0)
	if err := db.RecordDrain(at, 3, 1, 2); err != nil {
		t.Fatalf("RecordDrain: %v", err)
	}
	if err := db.SetAuthRequired("token expired"); err != nil {
		t.Fatalf("SetAuthRequired: %v", err)
	}
	if err := db.MarkPulled(at); err != nil {
		t.Fatalf("MarkPulled: %v", err)
	}

	s, _ = db.GetSyncState()
	if s.LastDrainAt == nil || !s.LastDrainAt.Equal(at) {
		t.Errorf("last drain = %v, want %v", s.LastDrainAt, at)
	}
	if s.LastSucceeded != 3 || s.LastFailed != 1 || s.LastConflicts != 2 {
		t.Errorf("counts = %+v", s)
	}
	if !s.AuthRequired || s.AuthRequiredMsg != "token expired" {
		t.Errorf("auth = %v %q", s.AuthRequired, s.AuthRequiredMsg)
	}
	if s.LastPulledAt == nil {
		t.Error("last pulled not recorded")
	}

	if err := db.ClearAuthRequired(); err != nil {
		t.Fatalf("ClearAuthRequired: %v", err)
	}
	s, _ = db.GetSyncState()
	if s.AuthRequired {
		t.Error("auth flag not cleared")
	}
}
