package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Source feeds triggers to a running engine until ctx is done. emit never
// blocks. A returned error stops Run.
type Source interface {
	Run(ctx context.Context, emit func(Trigger)) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, emit func(Trigger)) error

func (f SourceFunc) Run(ctx context.Context, emit func(Trigger)) error { return f(ctx, emit) }

// Ticker emits a timer trigger every interval.
func Ticker(interval time.Duration) Source {
	return SourceFunc(func(ctx context.Context, emit func(Trigger)) error {
		if interval <= 0 {
			<-ctx.Done()
			return nil
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				emit(TriggerTimer)
			}
		}
	})
}

// Pinger reports whether the remote is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Connectivity probes p every interval and emits a reconnect trigger when
// the remote comes back after being unreachable.
func Connectivity(p Pinger, interval, timeout time.Duration) Source {
	return SourceFunc(func(ctx context.Context, emit func(Trigger)) error {
		if interval <= 0 {
			<-ctx.Done()
			return nil
		}
		if timeout <= 0 {
			timeout = interval
		}
		online := true
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				pctx, cancel := context.WithTimeout(ctx, timeout)
				err := p.Ping(pctx)
				cancel()
				switch {
				case err != nil && online:
					slog.Debug("sync: remote unreachable", "err", err)
					online = false
				case err == nil && !online:
					slog.Debug("sync: remote reachable again")
					online = true
					emit(TriggerReconnect)
				}
			}
		}
	})
}

// FileWatch emits a storage-change trigger when files in dir whose names
// start with prefix are written, for example the store's database and WAL
// written by another process. Bursts within debounce collapse into one
// trigger.
func FileWatch(dir, prefix string, debounce time.Duration) Source {
	return SourceFunc(func(ctx context.Context, emit func(Trigger)) error {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create fsnotify watcher: %w", err)
		}
		defer w.Close()

		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}

		var timer *time.Timer
		var fire <-chan time.Time
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil

			case ev, ok := <-w.Events:
				if !ok {
					return nil
				}
				if !strings.HasPrefix(filepath.Base(ev.Name), prefix) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if debounce <= 0 {
					emit(TriggerStorageChange)
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				fire = timer.C

			case <-fire:
				fire = nil
				emit(TriggerStorageChange)

			case err, ok := <-w.Errors:
				if !ok {
					return nil
				}
				slog.Warn("sync: file watcher", "dir", dir, "err", err)
			}
		}
	})
}
