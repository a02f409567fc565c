package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/marcus/sn/internal/db"
	"github.com/marcus/sn/internal/models"
	"github.com/marcus/sn/internal/output"
	snsync "github.com/marcus/sn/internal/sync"
	"github.com/marcus/sn/internal/syncconfig"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync loop",
	Long: `Drain the outbox whenever something changes: on start, on a timer,
when the server becomes reachable again and when another process writes to
the local store. Remote changes are pulled on the same timer.

Logs go to log_file (rotated at log_max_size_mb). Stop with Ctrl+C or SIGTERM.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, store, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer store.Close()

		if !isAuthenticated(settings) {
			output.Error("not logged in. Run: sn auth login --key <api-key>")
			return fmt.Errorf("not authenticated")
		}

		foreground, _ := cmd.Flags().GetBool("foreground")
		logWriter := daemonLogWriter(settings)
		defer logWriter.Close()
		var w io.Writer = logWriter
		if foreground {
			w = io.MultiWriter(logWriter, os.Stderr)
		}
		level := slog.LevelInfo
		if debugMode || os.Getenv("SN_DEBUG") == "1" {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("sn daemon started (server %s, log %s)\n", settings.ServerURL, settings.LogFile)
		err = runDaemon(ctx, store, settings, logger)
		if err != nil {
			output.Error("daemon: %v", err)
			return err
		}
		fmt.Println("sn daemon stopped")
		return nil
	},
}

func daemonLogWriter(s *syncconfig.Settings) *lumberjack.Logger {
	maxSize := s.LogMaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	return &lumberjack.Logger{
		Filename:   s.LogFile,
		MaxSize:    maxSize,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
}

// runDaemon repairs the store, then runs the engine with every trigger
// source next to a periodic pull until ctx is done.
func runDaemon(ctx context.Context, store *db.DB, s *syncconfig.Settings, logger *slog.Logger) error {
	if n, err := store.Reconcile(); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	} else if n > 0 {
		logger.Info("daemon: reconciled outbox", "requeued", n)
	}
	if n, err := store.PruneActivity(db.DefaultActivityKeep); err != nil {
		logger.Warn("daemon: prune activity", "err", err)
	} else if n > 0 {
		logger.Debug("daemon: pruned activity", "rows", n)
	}

	client := newClient(s)
	dbPath := db.Path(store.BaseDir())
	sources := []snsync.Source{
		snsync.Ticker(s.Interval),
		snsync.Connectivity(client, s.ProbeInterval, s.RequestTimeout),
		snsync.FileWatch(filepath.Dir(dbPath), filepath.Base(dbPath), s.Debounce),
	}
	engine := newEngine(store, s, sources...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx)
	})
	if s.Pull && s.Interval > 0 {
		g.Go(func() error {
			pullLoop(gctx, engine, s, logger)
			return nil
		})
	}
	return g.Wait()
}

func pullLoop(ctx context.Context, engine *snsync.Engine, s *syncconfig.Settings, logger *slog.Logger) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		pullAll(ctx, engine, s.UserID, logger)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func pullAll(ctx context.Context, engine *snsync.Engine, owner string, logger *slog.Logger) {
	for _, table := range models.AllTables() {
		n, err := engine.Pull(ctx, table, owner)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("daemon: pull", "table", table, "err", err)
			}
			return
		}
		if n > 0 {
			logger.Info("daemon: pulled", "table", table, "applied", n)
		}
	}
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().Bool("foreground", false, "Also log to stderr")
}
