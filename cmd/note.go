package cmd

import (
	"fmt"

	"github.com/marcus/sn/internal/models"
	"github.com/marcus/sn/internal/output"
	"github.com/spf13/cobra"
)

var noteCmd = &cobra.Command{
	Use:     "note",
	Aliases: []string{"notes"},
	Short:   "Create and edit notes",
	GroupID: "records",
}

var noteAddCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Create a new note",
	Long: `Create a note. Without a title on an interactive terminal a form is shown.

Examples:
  sn note add "Krebs cycle" --body "Eight steps..." --tag biology
  sn note add "Verbs" --deck <deck-id> --lang es
  sn note add                          # opens a form`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: mutates,
	RunE: func(cmd *cobra.Command, args []string) error {
		state := noteFormState{}
		state.Body, _ = cmd.Flags().GetString("body")
		state.Language, _ = cmd.Flags().GetString("lang")
		tags, _ := cmd.Flags().GetStringSlice("tag")
		deck, _ := cmd.Flags().GetString("deck")
		if len(args) > 0 {
			state.Title = args[0]
		}

		if state.Title == "" && state.Body == "" {
			if !output.IsInteractive() {
				output.Error("title is required")
				return errTitleRequired
			}
			if err := buildNoteForm(&state).Run(); err != nil {
				output.Error("form: %v", err)
				return err
			}
		}

		p := state.payload(deck)
		if len(tags) > 0 {
			p.Tags = tags
		}

		settings, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		rec, _, err := putPayload(store, settings, nil, p)
		if err != nil {
			output.Error("failed to create note: %v", err)
			return err
		}

		if jsonOut {
			return output.JSON(rec)
		}
		fmt.Printf("CREATED %s %s\n", rec.ID, output.Summary(rec))
		return nil
	},
}

var noteEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a note",
	Long: `Change fields of a note. Only the flags given are changed.

Examples:
  sn note edit <id> --title "Krebs cycle (TCA)"
  sn note edit <id> --tag biology,exam`,
	Args:        cobra.ExactArgs(1),
	Annotations: mutates,
	RunE: func(cmd *cobra.Command, args []string) error {
		var next models.NotePayload
		next.Title, _ = cmd.Flags().GetString("title")
		next.Body, _ = cmd.Flags().GetString("body")
		next.DeckID, _ = cmd.Flags().GetString("deck")
		next.Language, _ = cmd.Flags().GetString("lang")
		if cmd.Flags().Changed("tag") {
			next.Tags, _ = cmd.Flags().GetStringSlice("tag")
		}

		settings, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		rec, err := editPayload(store, settings, models.TableNotes, args[0], next)
		if err != nil {
			output.Error("failed to update note: %v", err)
			return err
		}

		fmt.Printf("UPDATED %s\n", rec.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(noteCmd)
	noteCmd.AddCommand(noteAddCmd, noteEditCmd)

	noteAddCmd.Flags().String("body", "", "Note body (markdown)")
	noteAddCmd.Flags().String("deck", "", "Deck id")
	noteAddCmd.Flags().StringSlice("tag", nil, "Tags (repeatable or comma separated)")
	noteAddCmd.Flags().String("lang", "", "Language code")

	noteEditCmd.Flags().String("title", "", "New title")
	noteEditCmd.Flags().String("body", "", "New body")
	noteEditCmd.Flags().String("deck", "", "New deck id")
	noteEditCmd.Flags().StringSlice("tag", nil, "Replace tags")
	noteEditCmd.Flags().String("lang", "", "New language code")
}
