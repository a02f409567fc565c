package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcus/sn/internal/events"
	"github.com/marcus/sn/internal/models"
	"github.com/marcus/sn/internal/output"
	"github.com/spf13/cobra"
)

var activityCmd = &cobra.Command{
	Use:     "activity",
	Aliases: []string{"log", "tail"},
	Short:   "Show sync activity: conflicts, failures, evictions",
	Long: `Show the activity log. Conflicts resolved by last-write-wins are only
reported here.

Examples:
  sn activity                     # last 20 entries
  sn activity --kind sync_conflict
  sn activity --since 24h
  sn activity -f                  # follow new entries`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		lines, _ := cmd.Flags().GetInt("lines")
		kindFlag, _ := cmd.Flags().GetString("kind")
		sinceFlag, _ := cmd.Flags().GetDuration("since")

		var kind events.Kind
		if kindFlag != "" {
			if !events.IsValidKind(kindFlag) {
				output.Error("unknown activity kind %q", kindFlag)
				return fmt.Errorf("unknown activity kind %q", kindFlag)
			}
			kind = events.Kind(kindFlag)
		}
		var since *time.Time
		if sinceFlag > 0 {
			t := time.Now().Add(-sinceFlag)
			since = &t
		}

		_, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		var entries []models.ActivityEntry
		if lines > 0 {
			entries, err = store.ActivityTail(lines, kind, since)
			if err != nil {
				output.Error("query activity: %v", err)
				return err
			}
		}

		if jsonOut && !follow {
			return output.JSON(entries)
		}

		var maxID int64
		for i := range entries {
			fmt.Println(output.FormatActivity(&entries[i]))
			maxID = max(maxID, entries[i].ID)
		}

		if !follow {
			if len(entries) == 0 {
				fmt.Println("No activity recorded.")
			}
			return nil
		}

		if maxID == 0 {
			if tail, _ := store.ActivityTail(1, "", nil); len(tail) > 0 {
				maxID = tail[0].ID
			}
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-sigCh:
				fmt.Println()
				return nil
			case <-ticker.C:
				fresh, err := store.ActivitySince(maxID, 100)
				if err != nil {
					slog.Debug("activity: poll", "err", err)
					continue
				}
				for i := range fresh {
					maxID = max(maxID, fresh[i].ID)
					if kind != "" && events.Kind(fresh[i].Kind) != kind {
						continue
					}
					fmt.Println(output.FormatActivity(&fresh[i]))
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(activityCmd)
	activityCmd.Flags().BoolP("follow", "f", false, "Follow new entries")
	activityCmd.Flags().IntP("lines", "n", 20, "Number of initial entries to show")
	activityCmd.Flags().String("kind", "", "Only entries of this kind")
	activityCmd.Flags().Duration("since", 0, "Only entries newer than this (e.g. 24h)")
}
