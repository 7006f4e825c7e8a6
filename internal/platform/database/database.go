// Package database opens the configured SQL database and owns the live
// connection pool. For SQLite it also supports consistent snapshots and
// swapping the underlying file, which the backup service relies on.
package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/R3E-Network/storefront/internal/config"
)

// ErrNotSQLite is returned by file-level operations on non-SQLite databases.
var ErrNotSQLite = stderrors.New("database: operation requires a sqlite driver")

func init() {
	// sqlx only knows the cgo driver name.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// DB guards a *sqlx.DB that may be closed and reopened at runtime.
type DB struct {
	mu  sync.RWMutex
	db  *sqlx.DB
	cfg config.DatabaseConfig
}

// Open connects using cfg and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}
	if cfg.IsSQLite() {
		if dir := filepath.Dir(FilePath(cfg.DSN)); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}
	db, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &DB{db: db, cfg: cfg}, nil
}

// Wrap adopts an existing connection. Used by tests.
func Wrap(db *sqlx.DB, cfg config.DatabaseConfig) *DB {
	return &DB{db: db, cfg: cfg}
}

func connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open(cfg.Driver, dsnFor(cfg))
	if err != nil {
		return nil, err
	}

	if cfg.IsSQLite() {
		// One writer at a time; this also keeps read-modify-write transactions
		// from deadlocking on lock upgrades.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func dsnFor(cfg config.DatabaseConfig) string {
	switch cfg.Driver {
	case "sqlite3":
		if !strings.Contains(cfg.DSN, "?") {
			return cfg.DSN + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
		}
	case "sqlite":
		if !strings.Contains(cfg.DSN, "?") {
			return cfg.DSN + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
		}
	}
	return cfg.DSN
}

// FilePath strips the "file:" prefix and query string from a SQLite DSN.
func FilePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

// Acquire returns the live connection and a release func. The connection must
// not be used after release; Swap waits for every holder to release.
func (d *DB) Acquire() (*sqlx.DB, func()) {
	d.mu.RLock()
	return d.db, d.mu.RUnlock
}

// Driver returns the configured driver name.
func (d *DB) Driver() string {
	return d.cfg.Driver
}

// IsSQLite reports whether the database is a SQLite file.
func (d *DB) IsSQLite() bool {
	return d.cfg.IsSQLite()
}

// Path returns the SQLite file path.
func (d *DB) Path() (string, error) {
	if !d.cfg.IsSQLite() {
		return "", ErrNotSQLite
	}
	path := FilePath(d.cfg.DSN)
	if path == "" || path == ":memory:" {
		return "", fmt.Errorf("%w: in-memory databases have no file", ErrNotSQLite)
	}
	return filepath.Clean(path), nil
}

// Ping verifies the connection.
func (d *DB) Ping(ctx context.Context) error {
	db, release := d.Acquire()
	defer release()
	return db.PingContext(ctx)
}

// Snapshot writes a consistent copy of the live SQLite database to dest.
func (d *DB) Snapshot(ctx context.Context, dest string) error {
	if !d.cfg.IsSQLite() {
		return ErrNotSQLite
	}
	db, release := d.Acquire()
	defer release()
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	return nil
}

// IntegrityCheck runs PRAGMA integrity_check on SQLite databases.
func (d *DB) IntegrityCheck(ctx context.Context) error {
	if !d.cfg.IsSQLite() {
		return nil
	}
	db, release := d.Acquire()
	defer release()
	var result string
	if err := db.GetContext(ctx, &result, "PRAGMA integrity_check"); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// Swap closes the connection, runs fn (which may replace the database file)
// and reopens. Every other caller blocks until Swap returns.
func (d *DB) Swap(ctx context.Context, fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		if err := d.db.Close(); err != nil {
			return fmt.Errorf("close database: %w", err)
		}
	}
	fnErr := fn()

	db, err := connect(ctx, d.cfg)
	if err != nil {
		return stderrors.Join(fnErr, fmt.Errorf("reopen database: %w", err))
	}
	d.db = db
	return fnErr
}

// Close closes the connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

// IsUniqueViolation reports whether err is a unique constraint failure from
// any supported driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var mattnErr sqlite3.Error
	if stderrors.As(err, &mattnErr) {
		return mattnErr.ExtendedCode == sqlite3.ErrConstraintUnique || mattnErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var moderncErr *sqlite.Error
	if stderrors.As(err, &moderncErr) {
		code := moderncErr.Code()
		if code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
		return code&0xff == sqlite3lib.SQLITE_CONSTRAINT && strings.Contains(moderncErr.Error(), "UNIQUE")
	}
	return false
}
