package cmd

import (
	"errors"
	"fmt"

	"github.com/marcus/sn/internal/db"
	"github.com/marcus/sn/internal/models"
	"github.com/marcus/sn/internal/output"
	"github.com/spf13/cobra"
)

var prefCmd = &cobra.Command{
	Use:     "pref",
	Aliases: []string{"prefs", "preference"},
	Short:   "Synced preferences",
	Long: `Preferences are small key/value records synced like any other table.
The key doubles as the record id, so setting a key twice updates it.`,
	GroupID: "records",
}

var prefSetCmd = &cobra.Command{
	Use:         "set <key> <value>",
	Short:       "Set a preference",
	Args:        cobra.ExactArgs(2),
	Annotations: mutates,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		settings, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		rec, err := store.Get(models.TablePreferences, key)
		if err != nil {
			if !errors.Is(err, db.ErrNotFound) {
				output.Error("%v", err)
				return err
			}
			rec = &models.Record{ID: key, OwnerID: ownerID(settings)}
		}

		_, op, err := putPayload(store, settings, rec, models.PreferencePayload{Key: key, Value: value})
		if err != nil {
			output.Error("failed to set %s: %v", key, err)
			return err
		}

		verb := "UPDATED"
		if op == models.OpCreate {
			verb = "CREATED"
		}
		fmt.Printf("%s %s=%s\n", verb, key, value)
		return nil
	},
}

var prefGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show a preference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		rec, err := store.Get(models.TablePreferences, args[0])
		if err != nil {
			output.Error("preference %s: %v", args[0], err)
			return err
		}
		p, err := rec.Decode()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if jsonOut {
			return output.JSON(rec)
		}
		fmt.Printf("%s  %s\n", p.(models.PreferencePayload).Value, output.SyncBadge(rec.SyncStatus))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(prefCmd)
	prefCmd.AddCommand(prefSetCmd, prefGetCmd)
}
