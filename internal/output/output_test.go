package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/marcus/sn/internal/models"
)

func TestFormatTimeAgo(t *testing.T) {
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{0, "just now"},
		{59 * time.Second, "just now"},
		{time.Minute, "1m ago"},
		{30 * time.Minute, "30m ago"},
		{2 * time.Hour, "2h ago"},
		{3 * 24 * time.Hour, "3d ago"},
	}
	for _, tc := range tests {
		if got := FormatTimeAgo(time.Now().Add(-tc.ago)); got != tc.want {
			t.Errorf("FormatTimeAgo(-%v) = %q, want %q", tc.ago, got, tc.want)
		}
	}

	old := time.Date(2024, 2, 3, 0, 0, 0, 0, time.Local)
	if got := FormatTimeAgo(old); got != "2024-02-03" {
		t.Errorf("FormatTimeAgo(old) = %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "now"},
		{45 * time.Second, "45s"},
		{3 * time.Minute, "3m"},
		{2 * time.Hour, "2h"},
	}
	for _, tc := range tests {
		if got := FormatDuration(tc.d); got != tc.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Errorf("short: got %q", got)
	}
	if got := Truncate("hello world", 5); got != "hell…" {
		t.Errorf("long: got %q", got)
	}
	if got := Truncate("héllo wörld", 3); got != "hé…" {
		t.Errorf("runes: got %q", got)
	}
}

func record(t *testing.T, table models.Table, p models.Payload) *models.Record {
	t.Helper()
	raw, err := models.EncodePayload(p)
	if err != nil {
		t.Fatal(err)
	}
	return &models.Record{Table: table, ID: "r1", Payload: raw, SyncStatus: models.SyncPending, UpdatedAt: time.Now()}
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name string
		rec  *models.Record
		want string
	}{
		{"note title", record(t, models.TableNotes, models.NotePayload{Title: "Groceries"}), "Groceries"},
		{"note body", record(t, models.TableNotes, models.NotePayload{Body: "first\nsecond"}), "first"},
		{"deck", record(t, models.TableDecks, models.DeckPayload{Name: "Go"}), "Go"},
		{"card", record(t, models.TableFlashcards, models.FlashcardPayload{DeckID: "d", Front: "chan?", Back: "pipe"}), "chan?"},
		{"pref", record(t, models.TablePreferences, models.PreferencePayload{Key: "theme", Value: "dark"}), "theme=dark"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summary(tt.rec); got != tt.want {
				t.Errorf("Summary = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSummaryUndecodable(t *testing.T) {
	rec := &models.Record{Table: models.TableNotes, Payload: json.RawMessage(`{"bogus":1}`)}
	if got := Summary(rec); !strings.Contains(got, "undecodable") {
		t.Errorf("Summary = %q", got)
	}
}

func TestSyncBadge(t *testing.T) {
	for status, symbol := range map[models.SyncStatus]string{
		models.SyncSynced:  "✓",
		models.SyncPending: "↻",
		models.SyncFailed:  "✗",
		"weird":            "?",
	} {
		got := SyncBadge(status)
		if !strings.Contains(got, symbol) || !strings.Contains(got, string(status)) {
			t.Errorf("SyncBadge(%s) = %q", status, got)
		}
	}
}

func TestFormatOutboxEntry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(90 * time.Second)
	msg := "server_error: boom"

	tests := []struct {
		name  string
		entry models.OutboxEntry
		want  []string
	}{
		{"due", models.OutboxEntry{ID: 1, Operation: models.OpCreate, Table: models.TableNotes, EntityID: "n1"}, []string{"#1", "create", "notes/n1", "[due]"}},
		{"waiting", models.OutboxEntry{ID: 2, Operation: models.OpUpdate, Table: models.TableDecks, EntityID: "d1", NextAttemptAt: &later, RetryCount: 2, LastError: &msg},
			[]string{"[retry in 1m]", "attempts=2", "boom"}},
		{"blocked", models.OutboxEntry{ID: 3, Operation: models.OpDelete, Table: models.TableNotes, EntityID: "n2", Blocked: true}, []string{"[blocked]"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatOutboxEntry(&tt.entry, now)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("FormatOutboxEntry = %q, missing %q", got, w)
				}
			}
		})
	}
}

func TestFormatRecordLong(t *testing.T) {
	rec := record(t, models.TableNotes, models.NotePayload{Title: "Plan", Tags: []string{"work", "q3"}})
	rec.LastError = "validation: title too long"
	entry := &models.OutboxEntry{ID: 7, Operation: models.OpUpdate, Table: models.TableNotes, EntityID: "r1"}

	got := FormatRecordLong(rec, entry, "rendered body")
	for _, w := range []string{"r1: Plan", "Tags: work, q3", "rendered body", "Last error", "OUTBOX:", "#7"} {
		if !strings.Contains(got, w) {
			t.Errorf("FormatRecordLong missing %q in:\n%s", w, got)
		}
	}
}

func TestRenderMarkdownEmpty(t *testing.T) {
	out, err := RenderMarkdown("   ", 80)
	if err != nil || out != "" {
		t.Errorf("RenderMarkdown(blank) = %q, %v", out, err)
	}
}

func TestRenderMarkdown(t *testing.T) {
	out, err := RenderMarkdown("# Heading\n\nsome *text*", 40)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Heading") || !strings.Contains(out, "text") {
		t.Errorf("rendered = %q", out)
	}
}
