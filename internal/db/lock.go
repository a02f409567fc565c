package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	lockFileName   = "db.lock"
	defaultTimeout = 2 * time.Second
	initialBackoff = 5 * time.Millisecond
	maxBackoff     = 50 * time.Millisecond
)

// writeLocker gives one process at a time write access to the data dir using
// an OS file lock. The OS drops the lock if the holder exits or crashes, so
// a daemon killed mid-drain never wedges the CLI.
type writeLocker struct {
	lockPath string
	lockFile *os.File
}

// newWriteLocker creates a locker for the lock file inside dir.
func newWriteLocker(dir string) *writeLocker {
	return &writeLocker{
		lockPath: filepath.Join(dir, lockFileName),
	}
}

// acquire polls for the exclusive lock until timeout.
// The returned error names the current holder.
func (l *writeLocker) acquire(timeout time.Duration) error {
	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.lockFile = f

	deadline := time.Now().Add(timeout)
	backoff := initialBackoff

	for {
		if err := l.tryLock(); err == nil {
			l.writeHolder()
			return nil
		}

		if time.Now().After(deadline) {
			holder := l.readHolder()
			l.lockFile.Close()
			l.lockFile = nil
			return fmt.Errorf("write lock timeout after %v (holder: %s)", timeout, holder)
		}

		time.Sleep(backoff)
		backoff = min(backoff*2, maxBackoff)
	}
}

// release clears the holder info and drops the lock.
func (l *writeLocker) release() error {
	if l.lockFile == nil {
		return nil
	}

	l.lockFile.Truncate(0)
	l.unlock()

	err := l.lockFile.Close()
	l.lockFile = nil
	return err
}

// writeHolder records which process holds the lock, for timeout diagnostics.
func (l *writeLocker) writeHolder() {
	if l.lockFile == nil {
		return
	}
	l.lockFile.Truncate(0)
	l.lockFile.Seek(0, 0)
	fmt.Fprintf(l.lockFile, "pid:%d\ncmd:%s\ntime:%s\n",
		os.Getpid(), filepath.Base(os.Args[0]), time.Now().Format(time.RFC3339))
	l.lockFile.Sync()
}

// readHolder describes the current holder from the lock file contents.
func (l *writeLocker) readHolder() string {
	data, err := os.ReadFile(l.lockPath)
	if err != nil {
		return "unknown"
	}

	fields := make(map[string]string)
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if k, v, ok := strings.Cut(line, ":"); ok {
			fields[k] = v
		}
	}

	pid := fields["pid"]
	if pid == "" {
		return "unknown"
	}

	desc := fmt.Sprintf("pid:%s", pid)
	if cmd := fields["cmd"]; cmd != "" {
		desc += " (" + cmd + ")"
	}
	desc += " since " + fields["time"]

	if pidInt, err := strconv.Atoi(pid); err == nil && !isProcessAlive(pidInt) {
		desc += " STALE - process dead"
	}
	return desc
}

// tryLock, unlock and isProcessAlive live in lock_unix.go and lock_windows.go.
