package cmd

import (
	"fmt"

	"github.com/marcus/sn/internal/models"
	"github.com/marcus/sn/internal/output"
	"github.com/spf13/cobra"
)

var deckCmd = &cobra.Command{
	Use:     "deck",
	Aliases: []string{"decks"},
	Short:   "Create and edit decks",
	GroupID: "records",
}

var deckAddCmd = &cobra.Command{
	Use:         "add <name>",
	Short:       "Create a deck",
	Args:        cobra.ExactArgs(1),
	Annotations: mutates,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := models.DeckPayload{Name: args[0]}
		p.Description, _ = cmd.Flags().GetString("description")

		settings, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		rec, _, err := putPayload(store, settings, nil, p)
		if err != nil {
			output.Error("failed to create deck: %v", err)
			return err
		}

		if jsonOut {
			return output.JSON(rec)
		}
		fmt.Printf("CREATED %s %s\n", rec.ID, output.Summary(rec))
		return nil
	},
}

var deckEditCmd = &cobra.Command{
	Use:         "edit <id>",
	Short:       "Rename or describe a deck",
	Args:        cobra.ExactArgs(1),
	Annotations: mutates,
	RunE: func(cmd *cobra.Command, args []string) error {
		var next models.DeckPayload
		next.Name, _ = cmd.Flags().GetString("name")
		next.Description, _ = cmd.Flags().GetString("description")

		settings, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		rec, err := editPayload(store, settings, models.TableDecks, args[0], next)
		if err != nil {
			output.Error("failed to update deck: %v", err)
			return err
		}

		fmt.Printf("UPDATED %s\n", rec.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deckCmd)
	deckCmd.AddCommand(deckAddCmd, deckEditCmd)

	deckAddCmd.Flags().String("description", "", "Deck description")
	deckEditCmd.Flags().String("name", "", "New name")
	deckEditCmd.Flags().String("description", "", "New description")
}
