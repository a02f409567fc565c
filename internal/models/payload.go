package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/marcus/sn/internal/syncerr"
)

const (
	maxTitleLen    = 200
	maxDeckNameLen = 100
	maxBodyBytes   = 256 << 10
)

var prefKeyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// Payload is the closed set of per-table record bodies.
type Payload interface {
	Table() Table
	Validate() error
	// Merge overlays the non-zero fields of next onto the receiver and
	// returns the result. next must belong to the same table.
	Merge(next Payload) Payload
}

// NotePayload is the body of a notes record
type NotePayload struct {
	Title    string   `json:"title,omitempty"`
	Body     string   `json:"body,omitempty"`
	DeckID   string   `json:"deck_id,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Language string   `json:"language,omitempty"`
}

func (NotePayload) Table() Table { return TableNotes }

func (p NotePayload) Validate() error {
	if strings.TrimSpace(p.Title) == "" && strings.TrimSpace(p.Body) == "" {
		return invalid(TableNotes, "title or body is required")
	}
	if len(p.Title) > maxTitleLen {
		return invalid(TableNotes, "title longer than %d characters", maxTitleLen)
	}
	if len(p.Body) > maxBodyBytes {
		return invalid(TableNotes, "body larger than %d bytes", maxBodyBytes)
	}
	for _, tag := range p.Tags {
		if strings.TrimSpace(tag) == "" {
			return invalid(TableNotes, "empty tag")
		}
	}
	return nil
}

func (p NotePayload) Merge(next Payload) Payload {
	n, ok := next.(NotePayload)
	if !ok {
		return next
	}
	if n.Title != "" {
		p.Title = n.Title
	}
	if n.Body != "" {
		p.Body = n.Body
	}
	if n.DeckID != "" {
		p.DeckID = n.DeckID
	}
	if n.Tags != nil {
		p.Tags = n.Tags
	}
	if n.Language != "" {
		p.Language = n.Language
	}
	return p
}

// FlashcardPayload is the body of a flashcards record
type FlashcardPayload struct {
	DeckID       string     `json:"deck_id,omitempty"`
	Front        string     `json:"front,omitempty"`
	Back         string     `json:"back,omitempty"`
	Hint         string     `json:"hint,omitempty"`
	DueAt        *time.Time `json:"due_at,omitempty"`
	IntervalDays int        `json:"interval_days,omitempty"`
	Ease         float64    `json:"ease,omitempty"`
}

func (FlashcardPayload) Table() Table { return TableFlashcards }

func (p FlashcardPayload) Validate() error {
	if p.DeckID == "" {
		return invalid(TableFlashcards, "deck_id is required")
	}
	if strings.TrimSpace(p.Front) == "" || strings.TrimSpace(p.Back) == "" {
		return invalid(TableFlashcards, "front and back are required")
	}
	if p.IntervalDays < 0 {
		return invalid(TableFlashcards, "interval_days must not be negative")
	}
	if p.Ease < 0 {
		return invalid(TableFlashcards, "ease must not be negative")
	}
	return nil
}

func (p FlashcardPayload) Merge(next Payload) Payload {
	n, ok := next.(FlashcardPayload)
	if !ok {
		return next
	}
	if n.DeckID != "" {
		p.DeckID = n.DeckID
	}
	if n.Front != "" {
		p.Front = n.Front
	}
	if n.Back != "" {
		p.Back = n.Back
	}
	if n.Hint != "" {
		p.Hint = n.Hint
	}
	if n.DueAt != nil {
		p.DueAt = n.DueAt
	}
	if n.IntervalDays != 0 {
		p.IntervalDays = n.IntervalDays
	}
	if n.Ease != 0 {
		p.Ease = n.Ease
	}
	return p
}

// DeckPayload is the body of a decks record
type DeckPayload struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

func (DeckPayload) Table() Table { return TableDecks }

func (p DeckPayload) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return invalid(TableDecks, "name is required")
	}
	if len(p.Name) > maxDeckNameLen {
		return invalid(TableDecks, "name longer than %d characters", maxDeckNameLen)
	}
	return nil
}

func (p DeckPayload) Merge(next Payload) Payload {
	n, ok := next.(DeckPayload)
	if !ok {
		return next
	}
	if n.Name != "" {
		p.Name = n.Name
	}
	if n.Description != "" {
		p.Description = n.Description
	}
	return p
}

// PreferencePayload is the body of a preferences record
type PreferencePayload struct {
	Key   string `json:"key,omitempty"`
	Value string `json:"value"`
}

func (PreferencePayload) Table() Table { return TablePreferences }

func (p PreferencePayload) Validate() error {
	if !prefKeyPattern.MatchString(p.Key) {
		return invalid(TablePreferences, "invalid key %q", p.Key)
	}
	return nil
}

func (p PreferencePayload) Merge(next Payload) Payload {
	n, ok := next.(PreferencePayload)
	if !ok {
		return next
	}
	if n.Key != "" {
		p.Key = n.Key
	}
	p.Value = n.Value
	return p
}

// DecodePayload decodes and validates raw JSON as the payload variant for table.
// Unknown fields are rejected so a damaged row cannot decode as a partial record.
func DecodePayload(table Table, raw []byte) (Payload, error) {
	var p Payload
	var err error
	switch table {
	case TableNotes:
		var v NotePayload
		err = decodeStrict(raw, &v)
		p = v
	case TableFlashcards:
		var v FlashcardPayload
		err = decodeStrict(raw, &v)
		p = v
	case TableDecks:
		var v DeckPayload
		err = decodeStrict(raw, &v)
		p = v
	case TablePreferences:
		var v PreferencePayload
		err = decodeStrict(raw, &v)
		p = v
	default:
		return nil, syncerr.Newf(syncerr.KindValidation, "decode payload", "unknown table %q", table)
	}
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindValidation, "decode "+string(table)+" payload", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodePayload validates p and returns its JSON form.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, syncerr.New(syncerr.KindValidation, "encode payload", "nil payload")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}

// EmptyPayload returns the zero payload for table, or nil for an unknown table.
func EmptyPayload(table Table) Payload {
	switch table {
	case TableNotes:
		return NotePayload{}
	case TableFlashcards:
		return FlashcardPayload{}
	case TableDecks:
		return DeckPayload{}
	case TablePreferences:
		return PreferencePayload{}
	}
	return nil
}

func decodeStrict(raw []byte, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after payload")
	}
	return nil
}

func invalid(table Table, format string, args ...any) error {
	return syncerr.Newf(syncerr.KindValidation, "validate "+string(table), format, args...)
}
