package events

import (
	"testing"

	"github.com/marcus/sn/internal/models"
)

func TestNormalizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected models.Table
		valid    bool
	}{
		{"note", models.TableNotes, true},
		{"NOTES", models.TableNotes, true},
		{"card", models.TableFlashcards, true},
		{"flashcards", models.TableFlashcards, true},
		{"deck", models.TableDecks, true},
		{"pref", models.TablePreferences, true},
		{" preferences ", models.TablePreferences, true},
		{"issue", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := NormalizeTable(tt.input)
			if ok != tt.valid {
				t.Fatalf("NormalizeTable(%q) valid = %v, want %v", tt.input, ok, tt.valid)
			}
			if got != tt.expected {
				t.Errorf("NormalizeTable(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizeOperation(t *testing.T) {
	tests := map[string]models.Operation{
		"create": models.OpCreate,
		"add":    models.OpCreate,
		"Edit":   models.OpUpdate,
		"rm":     models.OpDelete,
		"upsert": "",
	}
	for in, want := range tests {
		if got := NormalizeOperation(in); got != want {
			t.Errorf("NormalizeOperation(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsValidTableAndKind(t *testing.T) {
	for _, table := range models.AllTables() {
		if !IsValidTable(string(table)) {
			t.Errorf("IsValidTable(%q) = false", table)
		}
	}
	if IsValidTable("boards") {
		t.Error("IsValidTable(boards) = true")
	}
	if !IsValidKind("sync_conflict") {
		t.Error("IsValidKind(sync_conflict) = false")
	}
	if IsValidKind("conflict") {
		t.Error("IsValidKind(conflict) = true")
	}
}
