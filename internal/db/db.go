package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	embedsql "github.com/nick-dorsch/trellis/embed/sql"
	"github.com/spf13/afero"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// maxTxAttempts bounds how often RunInTx retries a transaction that lost a
// write race against another process.
const maxTxAttempts = 3

type DB struct {
	*sql.DB
	Staging *StagingManager

	path       string
	fs         afero.Fs
	clock      func() time.Time
	onChange   func(ctx context.Context)
	onChangeMu sync.RWMutex

	epoch       atomic.Uint64
	listenersMu sync.RWMutex
	listeners   map[uint64]*listener
	nextID      uint64
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is a store transaction. All reads made through it observe the state at
// transaction time and all writes commit or roll back together.
type Tx struct {
	db *DB
	tx *sql.Tx
}

func (db *DB) SetOnChange(fn func(ctx context.Context)) {
	db.onChangeMu.Lock()
	defer db.onChangeMu.Unlock()
	db.onChange = fn
}

func (db *DB) triggerChange(ctx context.Context) {
	db.onChangeMu.RLock()
	fn := db.onChange
	db.onChangeMu.RUnlock()

	if fn != nil {
		fn(ctx)
	}
	db.publish(ctx)
}

// SetFs replaces the filesystem used for snapshot files.
func (db *DB) SetFs(fs afero.Fs) {
	db.fs = fs
}

// SetClock overrides the source of server-side timestamps.
func (db *DB) SetClock(fn func() time.Time) {
	db.clock = fn
}

// Now returns the store's notion of the current time, in UTC.
func (db *DB) Now() time.Time {
	if db.clock != nil {
		return db.clock().UTC()
	}
	return time.Now().UTC()
}

// Path returns the database file path the store was opened with.
func (db *DB) Path() string {
	return db.path
}

// Open opens a SQLite database at the given path.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Foreign keys support
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// CLI invocations and the board can write the same file concurrently.
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)

	return &DB{
		DB:        db,
		Staging:   NewStagingManager(),
		path:      path,
		fs:        afero.NewOsFs(),
		listeners: make(map[uint64]*listener),
	}, nil
}

func (db *DB) Migrate(ctx context.Context, schema string) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	db.triggerChange(ctx)
	return nil
}

func (db *DB) Init(ctx context.Context) error {
	return db.Migrate(ctx, embedsql.Schema)
}

// RunInTx runs fn inside a transaction and commits it. A transaction that
// fails because another connection holds the write lock is retried from the
// start, so fn must not have effects outside tx.
func (db *DB) RunInTx(ctx context.Context, fn func(tx *Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = db.runOnce(ctx, fn)
		if err == nil {
			db.triggerChange(ctx)
			return nil
		}
		if !isBusy(err) {
			return err
		}
	}
	return err
}

func (db *DB) runOnce(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{db: db, tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

// Now returns the transaction's timestamp source.
func (tx *Tx) Now() time.Time {
	return tx.db.Now()
}
