package cmd

import (
	"fmt"
	"sort"

	"github.com/marcus/sn/internal/db"
	"github.com/marcus/sn/internal/models"
	"github.com/marcus/sn/internal/output"
	"github.com/marcus/sn/internal/syncconfig"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list [table]",
	Aliases: []string{"ls"},
	Short:   "List cached records",
	Long: `List records from the local store, newest first. Without a table every
table is listed.

Examples:
  sn list                    # everything
  sn list notes
  sn list --status failed    # records whose last sync attempt failed`,
	GroupID: "records",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		tables := models.AllTables()
		if len(args) == 1 {
			t, err := parseTable(args[0])
			if err != nil {
				output.Error("%v", err)
				return err
			}
			tables = []models.Table{t}
		}

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		records, err := listRecords(store, settings, tables, models.SyncStatus(status), limit)
		if err != nil {
			output.Error("failed to list records: %v", err)
			return err
		}

		if jsonOut {
			return output.JSON(records)
		}
		if len(records) == 0 {
			fmt.Println("No records found")
			return nil
		}
		for i := range records {
			fmt.Printf("%-11s %s\n", records[i].Table, output.FormatRecordShort(&records[i]))
		}
		return nil
	},
}

// listRecords collects records of tables for the current owner and for
// records created before login, or by sync status when status is set.
func listRecords(store *db.DB, s *syncconfig.Settings, tables []models.Table, status models.SyncStatus, limit int) ([]models.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	want := make(map[models.Table]bool, len(tables))
	for _, t := range tables {
		want[t] = true
	}

	var out []models.Record
	if status != "" {
		switch status {
		case models.SyncPending, models.SyncSynced, models.SyncFailed:
		default:
			return nil, fmt.Errorf("invalid status %q (use pending, synced or failed)", status)
		}
		recs, err := store.ListByStatus(status, limit)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if want[r.Table] {
				out = append(out, r)
			}
		}
		return out, nil
	}

	owners := []string{ownerID(s)}
	if owners[0] != localOwner {
		owners = append(owners, localOwner)
	}
	for _, t := range tables {
		for _, owner := range owners {
			recs, err := store.ListByOwner(t, owner)
			if err != nil {
				return nil, err
			}
			out = append(out, recs...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringP("status", "s", "", "Filter by sync status (pending, synced, failed)")
	listCmd.Flags().IntP("limit", "n", 100, "Maximum records to show")
}
