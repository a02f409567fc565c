package events

import (
	"strings"

	"github.com/marcus/sn/internal/models"
)

// Kind is the category of an activity log entry.
type Kind string

// Activity kinds written by the sync engine and the store
const (
	KindSynced           Kind = "synced"
	KindConflict         Kind = "sync_conflict"
	KindPermanentFailure Kind = "permanent_failure"
	KindQuarantined      Kind = "quarantined"
	KindUnauthenticated  Kind = "unauthenticated"
	KindEvicted          Kind = "evicted"
	KindRetryRequested   Kind = "retry_requested"
	KindReconciled       Kind = "reconciled"
	KindPulled           Kind = "pulled"
)

// AllKinds returns all valid activity kinds.
func AllKinds() map[Kind]bool {
	return map[Kind]bool{
		KindSynced:           true,
		KindConflict:         true,
		KindPermanentFailure: true,
		KindQuarantined:      true,
		KindUnauthenticated:  true,
		KindEvicted:          true,
		KindRetryRequested:   true,
		KindReconciled:       true,
		KindPulled:           true,
	}
}

// IsValidKind checks if the given activity kind string is valid.
func IsValidKind(k string) bool {
	return AllKinds()[Kind(k)]
}

// AllTables returns all synced tables as a set.
func AllTables() map[models.Table]bool {
	m := make(map[models.Table]bool)
	for _, t := range models.AllTables() {
		m[t] = true
	}
	return m
}

// IsValidTable checks if the given table name is a synced table.
func IsValidTable(t string) bool {
	return AllTables()[models.Table(t)]
}

// NormalizeTable normalizes a table name to its canonical form.
// Accepts singular, plural and short forms used on the command line.
func NormalizeTable(name string) (models.Table, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "note", "notes":
		return models.TableNotes, true
	case "flashcard", "flashcards", "card", "cards":
		return models.TableFlashcards, true
	case "deck", "decks":
		return models.TableDecks, true
	case "preference", "preferences", "pref", "prefs":
		return models.TablePreferences, true
	default:
		return "", false
	}
}

// NormalizeOperation normalizes an operation string to its canonical form.
// Returns empty string for anything that is not create, update or delete.
func NormalizeOperation(op string) models.Operation {
	switch strings.ToLower(op) {
	case "create", "insert", "add":
		return models.OpCreate
	case "update", "edit", "patch":
		return models.OpUpdate
	case "delete", "remove", "rm":
		return models.OpDelete
	default:
		return ""
	}
}
