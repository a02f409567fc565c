package cmd

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	snsync "github.com/marcus/sn/internal/sync"
	"github.com/marcus/sn/internal/syncconfig"
)

// autoSyncTimeout bounds the drain that follows a mutating command.
const autoSyncTimeout = 5 * time.Second

// isMutatingCommand reports whether cmd changes local data and should be
// followed by an autosync.
func isMutatingCommand(cmd *cobra.Command) bool {
	return cmd.Annotations["sn.mutates"] == "true"
}

// autoSyncEnabled reports whether a drain should follow mutations. It needs
// auto_sync on and credentials present.
func autoSyncEnabled(s *syncconfig.Settings) bool {
	return s != nil && s.AutoSync && isAuthenticated(s)
}

// autoSyncAfterMutation runs a short drain after a mutating command.
// Errors are logged, not returned; the outbox keeps anything left over.
func autoSyncAfterMutation() {
	settings, err := syncconfig.Load()
	if err != nil {
		slog.Debug("autosync: load config", "err", err)
		return
	}
	if !autoSyncEnabled(settings) {
		return
	}

	store, err := openStore(settings)
	if err != nil {
		slog.Debug("autosync: open db", "err", err)
		return
	}
	defer store.Close()

	state, err := store.GetSyncState()
	if err == nil && state.AuthRequired {
		slog.Debug("autosync: skipped, login required")
		return
	}

	s := *settings
	s.RequestTimeout = min(s.RequestTimeout, autoSyncTimeout)
	engine := newEngine(store, &s)

	ctx, cancel := context.WithTimeout(context.Background(), autoSyncTimeout)
	defer cancel()

	report, err := engine.Drain(ctx, snsync.TriggerManual)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		slog.Debug("autosync: drain", "err", err)
		return
	}
	slog.Debug("autosync: drained", "succeeded", report.Succeeded, "failed", report.Failed, "conflicts", report.Conflicts)
}
