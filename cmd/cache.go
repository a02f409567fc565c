package cmd

import (
	"fmt"

	"github.com/marcus/sn/internal/db"
	"github.com/marcus/sn/internal/output"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:     "cache",
	Short:   "Maintain the local store",
	GroupID: "system",
}

var cacheEvictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Drop least recently used synced records",
	Long: `Remove synced records, least recently accessed first, until at most
--keep live records remain. Records with unsent changes are never evicted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetInt("keep")

		_, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		n, err := store.Evict(keep)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		fmt.Printf("EVICTED %d records\n", n)
		return nil
	},
}

var cacheReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Repair outbox state after an unclean shutdown",
	Long: `Clear stale in-flight flags and re-enqueue unsynced records that lost
their outbox entry. The daemon runs this on start.`,
	Annotations: mutates,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		n, err := store.Reconcile()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		fmt.Printf("RECONCILED %d entries\n", n)
		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune-activity",
	Short: "Trim the activity log to its newest entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetInt("keep")

		_, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		n, err := store.PruneActivity(keep)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		fmt.Printf("PRUNED %d entries\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheEvictCmd, cacheReconcileCmd, cachePruneCmd)

	cacheEvictCmd.Flags().Int("keep", 500, "Live records to keep")
	cachePruneCmd.Flags().Int("keep", db.DefaultActivityKeep, "Entries to keep")
}
