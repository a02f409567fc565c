package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/marcus/sn/internal/models"
	"github.com/marcus/sn/internal/syncerr"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	dataDir = ".sn"
	dbFile  = ".sn/local.db"
)

// ErrNotFound is returned when a record or outbox entry does not exist.
var ErrNotFound = errors.New("not found")

// ErrClaimed is returned by BeginAttempt when another drain already has the
// entry in flight.
var ErrClaimed = errors.New("outbox entry already in flight")

// DB wraps the local store connection
type DB struct {
	conn    *sql.DB
	baseDir string
	clock   *models.Clock

	// mu serializes writers inside this process; the file lock covers
	// other processes sharing the same data dir.
	mu         sync.Mutex
	quotaBytes int64
}

// Path returns the database file path for baseDir.
func Path(baseDir string) string {
	return filepath.Join(baseDir, dbFile)
}

// Open opens an existing local store and runs any pending migrations
func Open(baseDir string) (*DB, error) {
	dbPath := Path(baseDir)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: run 'sn init' first")
	}

	conn, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn, baseDir: baseDir, clock: models.NewClock(nil)}

	// Quick check without lock; older stores may also lack base tables
	if v, _ := db.GetSchemaVersion(); v < SchemaVersion {
		if err := db.initSchema(); err != nil {
			conn.Close()
			return nil, err
		}
	}

	return db, nil
}

// Initialize creates the local store if needed and brings it to the current schema
func Initialize(baseDir string) (*DB, error) {
	dbPath := Path(baseDir)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	conn, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn, baseDir: baseDir, clock: models.NewClock(nil)}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// OpenConn wraps an already opened handle, such as an in-memory database,
// and creates the schema on it. No file lock is taken for such stores.
func OpenConn(conn *sql.DB) (*DB, error) {
	// In-memory SQLite is per connection; pin the pool to one.
	conn.SetMaxOpenConns(1)
	db := &DB{conn: conn, clock: models.NewClock(nil)}
	if err := db.initSchema(); err != nil {
		return nil, err
	}
	return db, nil
}

func openSQLite(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode so the daemon can read while the CLI writes
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Busy timeout as fallback protection behind the file lock
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	conn.Exec("PRAGMA synchronous=NORMAL")
	return conn, nil
}

func (db *DB) initSchema() error {
	return db.withWriteLock(func() error {
		if _, err := db.conn.Exec(schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := db.runMigrationsInternal(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		return nil
	})
}

// Close closes the database
func (db *DB) Close() error {
	return db.conn.Close()
}

// BaseDir returns the base directory for the database
func (db *DB) BaseDir() string {
	return db.baseDir
}

// Conn returns the underlying *sql.DB.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// SetQuota caps the total payload bytes held in the store. Zero disables the cap.
func (db *DB) SetQuota(bytes int64) {
	db.quotaBytes = bytes
}

// SetClock replaces the timestamp source. Tests use it to pin time.
func (db *DB) SetClock(c *models.Clock) {
	db.clock = c
}

// Now returns the store's next monotonic timestamp.
func (db *DB) Now() time.Time {
	return db.clock.Now()
}

// withWriteLock executes fn while holding an exclusive write lock.
// This prevents concurrent writes from multiple processes.
func (db *DB) withWriteLock(fn func() error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.baseDir == "" {
		return fn()
	}
	locker := newWriteLocker(filepath.Join(db.baseDir, dataDir))
	if err := locker.acquire(defaultTimeout); err != nil {
		return syncerr.Wrap(syncerr.KindTransactionAborted, "acquire write lock", err)
	}
	defer locker.release()
	return fn()
}

// withTx runs fn in a single transaction under the write lock. Either every
// statement fn issues survives or none does.
func (db *DB) withTx(fn func(tx *sql.Tx) error) error {
	return db.withWriteLock(func() error {
		tx, err := db.conn.BeginTx(context.Background(), nil)
		if err != nil {
			return classifyStorageErr("begin tx", err)
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return classifyStorageErr("", err)
		}
		if err := tx.Commit(); err != nil {
			if isDiskFull(err) {
				return syncerr.Wrap(syncerr.KindStorageFull, "commit", err)
			}
			return syncerr.Wrap(syncerr.KindTransactionAborted, "commit", err)
		}
		return nil
	})
}

// classifyStorageErr maps SQLite out-of-space failures to StorageFull and
// leaves already classified errors alone.
func classifyStorageErr(op string, err error) error {
	if syncerr.KindOf(err) != "" {
		return err
	}
	if isDiskFull(err) {
		return syncerr.Wrap(syncerr.KindStorageFull, op, err)
	}
	if op != "" {
		return fmt.Errorf("%s: %w", op, err)
	}
	return err
}

func isDiskFull(err error) bool {
	if err == nil {
		return false
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code()&0xff == sqlite3.SQLITE_FULL
	}
	// Connections handed to OpenConn may come from another driver
	return strings.Contains(strings.ToLower(err.Error()), "database or disk is full")
}
