package cmd

import (
	"fmt"
	"strconv"

	"github.com/marcus/sn/internal/output"
	"github.com/marcus/sn/internal/syncerr"
	"github.com/spf13/cobra"
)

var outboxCmd = &cobra.Command{
	Use:     "outbox",
	Short:   "Inspect and retry queued changes",
	GroupID: "sync",
}

var outboxListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List outstanding outbox entries in drain order",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		entries, err := store.ListOutbox()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if jsonOut {
			return output.JSON(entries)
		}
		if len(entries) == 0 {
			fmt.Println("Outbox is empty")
			return nil
		}
		now := store.Now()
		for i := range entries {
			fmt.Println(output.FormatOutboxEntry(&entries[i], now))
		}
		return nil
	},
}

var outboxRetryCmd = &cobra.Command{
	Use:   "retry [<table> <id>]",
	Short: "Unblock entries and clear their backoff",
	Long: `Make failed entries due again. Blocked entries stay blocked until they
are edited or retried here.

Examples:
  sn outbox retry note 3f1c...
  sn outbox retry --all
  sn outbox retry --all --kind validation_error`,
	Annotations: mutates,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		kind, _ := cmd.Flags().GetString("kind")
		if !all && len(args) != 2 {
			output.Error("give <table> <id> or --all")
			return fmt.Errorf("table and id required")
		}

		_, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		if all {
			n, err := store.RetryAll(syncerr.Kind(kind))
			if err != nil {
				output.Error("%v", err)
				return err
			}
			fmt.Printf("RETRYING %d entries\n", n)
			return nil
		}

		table, err := parseTable(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if err := store.Retry(table, args[1]); err != nil {
			output.Error("retry %s %s: %v", table, args[1], err)
			return err
		}
		fmt.Printf("RETRYING %s %s\n", table, args[1])
		return nil
	},
}

var quarantineCmd = &cobra.Command{
	Use:     "quarantine",
	Short:   "Inspect entries set aside as undeliverable",
	GroupID: "sync",
}

var quarantineListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List quarantined entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		entries, err := store.ListQuarantine()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if jsonOut {
			return output.JSON(entries)
		}
		if len(entries) == 0 {
			fmt.Println("Nothing quarantined")
			return nil
		}
		for _, q := range entries {
			fmt.Printf("%-4d %-7s %s/%s  %s  %s\n", q.ID, q.Operation, q.Table, q.EntityID,
				output.FormatTimeAgo(q.QuarantinedAt), output.Truncate(q.Reason, 60))
		}
		return nil
	},
}

var quarantineRequeueCmd = &cobra.Command{
	Use:         "requeue <id>",
	Short:       "Move a quarantined entry back to the outbox",
	Args:        cobra.ExactArgs(1),
	Annotations: mutates,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			output.Error("invalid quarantine id %q", args[0])
			return err
		}

		_, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		if err := store.RequeueQuarantined(id); err != nil {
			output.Error("requeue %d: %v", id, err)
			return err
		}
		fmt.Printf("REQUEUED %d\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(outboxCmd, quarantineCmd)
	outboxCmd.AddCommand(outboxListCmd, outboxRetryCmd)
	quarantineCmd.AddCommand(quarantineListCmd, quarantineRequeueCmd)

	outboxRetryCmd.Flags().Bool("all", false, "Retry every failed entry")
	outboxRetryCmd.Flags().String("kind", "", "With --all, only entries whose last error has this kind")
}
