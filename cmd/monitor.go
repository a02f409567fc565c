package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/sn/internal/output"
	"github.com/marcus/sn/internal/tui/monitor"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live TUI of the outbox and sync activity",
	Long: `Launch a live-updating dashboard showing:
- Engine state and record counts by sync status
- Outbox: every queued change with its retry state
- Activity: conflicts, failures and evictions as they happen

Key bindings:
  Tab        Switch panels
  1/2        Jump to panel
  j/k        Move selection
  s          Sync now
  r          Force refresh
  ?          Toggle help
  q          Quit`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		interval, _ := cmd.Flags().GetDuration("interval")
		if interval < 500*time.Millisecond {
			interval = 2 * time.Second
		}

		var drainer monitor.Drainer
		if isAuthenticated(settings) {
			drainer = newEngine(store, settings)
		}
		model := monitor.NewModel(store, drainer, interval)

		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running monitor: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().Duration("interval", 2*time.Second, "Refresh interval")
}
