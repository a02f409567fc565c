package models

import (
	"errors"
	"testing"
	"time"

	"github.com/marcus/sn/internal/syncerr"
)

func TestDecodePayloadVariants(t *testing.T) {
	tests := []struct {
		name    string
		table   Table
		raw     string
		wantErr bool
	}{
		{"note", TableNotes, `{"title":"Mitosis","body":"cells divide"}`, false},
		{"note body only", TableNotes, `{"body":"scratch"}`, false},
		{"note empty", TableNotes, `{}`, true},
		{"note unknown field", TableNotes, `{"title":"x","colour":"red"}`, true},
		{"flashcard", TableFlashcards, `{"deck_id":"d1","front":"2+2","back":"4"}`, false},
		{"flashcard no deck", TableFlashcards, `{"front":"2+2","back":"4"}`, true},
		{"deck", TableDecks, `{"name":"Biology"}`, false},
		{"deck no name", TableDecks, `{"description":"x"}`, true},
		{"preference", TablePreferences, `{"key":"theme","value":"dark"}`, false},
		{"preference bad key", TablePreferences, `{"key":"Theme Color","value":"x"}`, true},
		{"unknown table", Table("widgets"), `{}`, true},
		{"garbage", TableNotes, `{"title":`, true},
		{"trailing data", TableDecks, `{"name":"a"}{"name":"b"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodePayload(tt.table, []byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("DecodePayload(%s) = %#v, want error", tt.raw, p)
				}
				if !errors.Is(err, syncerr.ErrValidation) {
					t.Errorf("error %v is not a validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodePayload(%s): %v", tt.raw, err)
			}
			if p.Table() != tt.table {
				t.Errorf("Table() = %q, want %q", p.Table(), tt.table)
			}
		})
	}
}

func TestNoteMergeOverlaysNonZeroFields(t *testing.T) {
	base := NotePayload{Title: "Draft", Body: "first", Tags: []string{"bio"}}
	merged := base.Merge(NotePayload{Body: "second"}).(NotePayload)

	if merged.Title != "Draft" {
		t.Errorf("Title = %q, want %q", merged.Title, "Draft")
	}
	if merged.Body != "second" {
		t.Errorf("Body = %q, want %q", merged.Body, "second")
	}
	if len(merged.Tags) != 1 || merged.Tags[0] != "bio" {
		t.Errorf("Tags = %v, want [bio]", merged.Tags)
	}
}

func TestMergeAcrossTablesTakesNext(t *testing.T) {
	got := NotePayload{Title: "a"}.Merge(DeckPayload{Name: "b"})
	if _, ok := got.(DeckPayload); !ok {
		t.Fatalf("Merge returned %T, want DeckPayload", got)
	}
}

func TestEncodePayloadValidates(t *testing.T) {
	if _, err := EncodePayload(DeckPayload{}); err == nil {
		t.Fatal("expected validation error for empty deck")
	}
	raw, err := EncodePayload(DeckPayload{Name: "Chem"})
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	if string(raw) != `{"name":"Chem"}` {
		t.Errorf("raw = %s", raw)
	}
}

func TestClockStrictlyIncreases(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewClock(func() time.Time { return fixed })

	a := c.Now()
	b := c.Now()
	if !b.After(a) {
		t.Fatalf("second timestamp %v not after %v", b, a)
	}

	c.Observe(fixed.Add(time.Hour))
	if got := c.Now(); !got.After(fixed.Add(time.Hour)) {
		t.Errorf("Now after Observe = %v, want > %v", got, fixed.Add(time.Hour))
	}
}

func TestOutboxEntryDue(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Minute)

	e := OutboxEntry{}
	if !e.Due(now) {
		t.Error("fresh entry should be due")
	}
	e.NextAttemptAt = &later
	if e.Due(now) {
		t.Error("entry in backoff should not be due")
	}
	if !e.Due(later) {
		t.Error("entry should be due once backoff elapsed")
	}
	e.Blocked = true
	if e.Due(later) {
		t.Error("blocked entry should never be due")
	}
}
