package cmd

import (
	"fmt"

	"github.com/marcus/sn/internal/models"
	"github.com/marcus/sn/internal/output"
	"github.com/spf13/cobra"
)

var cardCmd = &cobra.Command{
	Use:     "card",
	Aliases: []string{"cards", "flashcard"},
	Short:   "Create and edit flashcards",
	GroupID: "records",
}

// cardFromFlags reads the flashcard flags shared by add and edit.
func cardFromFlags(cmd *cobra.Command) (models.FlashcardPayload, error) {
	var p models.FlashcardPayload
	p.DeckID, _ = cmd.Flags().GetString("deck")
	p.Front, _ = cmd.Flags().GetString("front")
	p.Back, _ = cmd.Flags().GetString("back")
	p.Hint, _ = cmd.Flags().GetString("hint")
	p.IntervalDays, _ = cmd.Flags().GetInt("interval")
	p.Ease, _ = cmd.Flags().GetFloat64("ease")

	due, _ := cmd.Flags().GetString("due")
	t, err := parseDue(due)
	if err != nil {
		return p, err
	}
	p.DueAt = t
	return p, nil
}

var cardAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a flashcard",
	Long: `Create a flashcard in a deck.

Examples:
  sn card add --deck <deck-id> --front "hola" --back "hello"
  sn card add --deck <deck-id> --front "ATP" --back "..." --due 48h`,
	Args:        cobra.NoArgs,
	Annotations: mutates,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := cardFromFlags(cmd)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		settings, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		rec, _, err := putPayload(store, settings, nil, p)
		if err != nil {
			output.Error("failed to create card: %v", err)
			return err
		}

		if jsonOut {
			return output.JSON(rec)
		}
		fmt.Printf("CREATED %s %s\n", rec.ID, output.Summary(rec))
		return nil
	},
}

var cardEditCmd = &cobra.Command{
	Use:         "edit <id>",
	Short:       "Edit a flashcard",
	Args:        cobra.ExactArgs(1),
	Annotations: mutates,
	RunE: func(cmd *cobra.Command, args []string) error {
		next, err := cardFromFlags(cmd)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		settings, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		rec, err := editPayload(store, settings, models.TableFlashcards, args[0], next)
		if err != nil {
			output.Error("failed to update card: %v", err)
			return err
		}

		fmt.Printf("UPDATED %s\n", rec.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cardCmd)
	cardCmd.AddCommand(cardAddCmd, cardEditCmd)

	for _, c := range []*cobra.Command{cardAddCmd, cardEditCmd} {
		c.Flags().String("deck", "", "Deck id")
		c.Flags().String("front", "", "Front side")
		c.Flags().String("back", "", "Back side")
		c.Flags().String("hint", "", "Optional hint")
		c.Flags().String("due", "", "Next review: duration (48h) or date (2026-01-02)")
		c.Flags().Int("interval", 0, "Review interval in days")
		c.Flags().Float64("ease", 0, "Ease factor")
	}
	cardAddCmd.MarkFlagRequired("deck")
}
