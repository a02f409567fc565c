package cmd

import (
	"errors"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/marcus/sn/internal/models"
)

var errTitleRequired = errors.New("title is required")

// noteFormState holds the values bound to the note form fields.
type noteFormState struct {
	Title    string
	Body     string
	Tags     string
	Language string
}

func (s *noteFormState) payload(deckID string) models.NotePayload {
	return models.NotePayload{
		Title:    strings.TrimSpace(s.Title),
		Body:     s.Body,
		DeckID:   deckID,
		Tags:     splitTags(s.Tags),
		Language: strings.TrimSpace(s.Language),
	}
}

func buildNoteForm(s *noteFormState) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Value(&s.Title).
				Placeholder("Note title...").
				Validate(func(v string) error {
					if strings.TrimSpace(v) == "" {
						return errTitleRequired
					}
					return nil
				}),
			huh.NewText().
				Title("Body").
				Value(&s.Body).
				Placeholder("Markdown body...").
				Lines(8),
			huh.NewInput().
				Title("Tags").
				Value(&s.Tags).
				Placeholder("tag1, tag2, ..."),
			huh.NewInput().
				Title("Language").
				Value(&s.Language).
				Placeholder("en"),
		).Title("New Note"),
	)
}

// splitTags parses a comma separated tag list. Empty input yields nil so a
// merge leaves existing tags alone.
func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
