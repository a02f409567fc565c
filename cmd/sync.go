package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/marcus/sn/internal/models"
	"github.com/marcus/sn/internal/output"
	snsync "github.com/marcus/sn/internal/sync"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the outbox and pull remote changes",
	Long: `Send every due outbox entry to the server, then pull records changed
elsewhere into the local store.

Examples:
  sn sync              # drain, then pull
  sn sync --no-pull    # drain only
  sn sync status       # show queue and last drain`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		if !isAuthenticated(settings) {
			output.Error("not logged in. Run: sn login --key <api-key>")
			return fmt.Errorf("not authenticated")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		engine := newEngine(store, settings)
		report, err := engine.Drain(ctx, snsync.TriggerManual)
		if err != nil {
			if errors.Is(err, snsync.ErrUnauthenticated) {
				output.Error("server rejected credentials. Run: sn login --key <api-key>")
			} else {
				output.Error("sync failed: %v", err)
			}
			return err
		}

		pull := settings.Pull
		if cmd.Flags().Changed("no-pull") {
			noPull, _ := cmd.Flags().GetBool("no-pull")
			pull = !noPull
		}
		pulled := 0
		if pull {
			for _, t := range models.AllTables() {
				n, err := engine.Pull(ctx, t, settings.UserID)
				if err != nil {
					output.Error("pull %s: %v", t, err)
					return err
				}
				pulled += n
			}
		}

		if jsonOut {
			return output.JSON(map[string]any{"drain": report, "pulled": pulled})
		}
		fmt.Printf("Sent %d, failed %d, conflicts %d", report.Succeeded, report.Failed, report.Conflicts)
		if report.Quarantined > 0 {
			fmt.Printf(", quarantined %d", report.Quarantined)
		}
		if pull {
			fmt.Printf(", pulled %d", pulled)
		}
		fmt.Println()
		if report.Failed > 0 {
			output.Warning("some changes failed, see: sn outbox list")
		}
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show outbox and sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		counts, err := store.StatusCounts()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		stats, err := store.OutboxStats(store.Now())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		state, err := store.GetSyncState()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if jsonOut {
			return output.JSON(map[string]any{
				"records": counts,
				"outbox":  stats,
				"state":   state,
				"server":  settings.ServerURL,
			})
		}

		fmt.Printf("Server:    %s\n", settings.ServerURL)
		if isAuthenticated(settings) {
			fmt.Printf("Account:   %s\n", settings.UserID)
		} else {
			fmt.Println("Account:   not logged in")
		}
		fmt.Printf("Records:   %d synced, %d pending, %d failed\n",
			counts[models.SyncSynced], counts[models.SyncPending], counts[models.SyncFailed])
		fmt.Printf("Outbox:    %d total, %d due, %d waiting, %d blocked, %d quarantined\n",
			stats.Total, stats.Due, stats.Waiting, stats.Blocked, stats.Quarantined)
		if state.LastDrainAt != nil {
			fmt.Printf("Last sync: %s (%d sent, %d failed, %d conflicts)\n",
				output.FormatTimeAgo(*state.LastDrainAt), state.LastSucceeded, state.LastFailed, state.LastConflicts)
		} else {
			fmt.Println("Last sync: never")
		}
		if state.LastPulledAt != nil {
			fmt.Printf("Last pull: %s\n", output.FormatTimeAgo(*state.LastPulledAt))
		}
		if state.AuthRequired {
			output.Warning("login required: %s", state.AuthRequiredMsg)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.Flags().Bool("no-pull", false, "Skip pulling remote changes")
	syncCmd.Flags().Duration("timeout", 0, "Overall timeout (0 for none)")
}
