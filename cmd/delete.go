package cmd

import (
	"fmt"

	"github.com/marcus/sn/internal/output"
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:     "rm <table> <id>...",
	Aliases: []string{"delete", "del"},
	Short:   "Delete records",
	Long: `Delete records locally and queue the deletes for the server. A record
that never reached the server is removed without a remote call.

Examples:
  sn rm note 3f1c...
  sn rm cards 9a2e... 77b0...`,
	GroupID:     "records",
	Args:        cobra.MinimumNArgs(2),
	Annotations: mutates,
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := parseTable(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}

		_, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		var failed error
		for _, id := range args[1:] {
			if err := store.Delete(table, id); err != nil {
				output.Error("%v", err)
				failed = err
				continue
			}
			fmt.Printf("DELETED %s %s\n", table, id)
		}
		return failed
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
