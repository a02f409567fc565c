package cmd

import (
	"errors"
	"fmt"

	"github.com/marcus/sn/internal/db"
	"github.com/marcus/sn/internal/models"
	"github.com/marcus/sn/internal/output"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:     "show [table] <id>",
	Aliases: []string{"view", "get"},
	Short:   "Display a record with its sync state",
	Long: `Display a record, its sync status and any pending outbox entry.
Note bodies are rendered as markdown on a terminal.

Examples:
  sn show 3f1c...            # search every table
  sn show note 3f1c...       # only notes`,
	GroupID: "records",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		var rec *models.Record
		if len(args) == 2 {
			table, err := parseTable(args[0])
			if err != nil {
				output.Error("%v", err)
				return err
			}
			rec, err = store.Get(table, args[1])
			if err != nil {
				err = fmt.Errorf("%s %s: %w", table, args[1], err)
			}
		} else {
			rec, err = findRecord(store, args[0])
		}
		if err != nil {
			output.Error("%v", err)
			return err
		}

		entry, err := store.GetOutboxEntry(rec.Table, rec.ID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			output.Error("%v", err)
			return err
		}

		if jsonOut {
			return output.JSON(map[string]any{"record": rec, "outbox": entry})
		}

		var body string
		if p, err := rec.Decode(); err == nil {
			if n, ok := p.(models.NotePayload); ok && n.Body != "" {
				body = output.RenderNoteBody(n.Body)
			}
		}
		fmt.Print(output.FormatRecordLong(rec, entry, body))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}
