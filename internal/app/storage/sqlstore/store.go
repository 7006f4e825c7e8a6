// Package sqlstore implements the storage interfaces on top of sqlx. The same
// queries run on SQLite (mattn or modernc drivers) and PostgreSQL; statements
// are written with '?' placeholders and rebound for the active driver.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/storefront/internal/app/storage"
	"github.com/R3E-Network/storefront/internal/platform/database"
)

// Store implements the storage interfaces backed by a SQL database.
type Store struct {
	db   *database.DB
	bind int
}

var _ storage.CatalogStore = (*Store)(nil)
var _ storage.OrderStore = (*Store)(nil)
var _ storage.CustomerStore = (*Store)(nil)
var _ storage.UserStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)
var _ storage.CartStore = (*Store)(nil)
var _ storage.HTTPAuditStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *database.DB) *Store {
	return &Store{db: db, bind: sqlx.BindType(db.Driver())}
}

// q rebinds a '?' query for the active driver.
func (s *Store) q(query string) string {
	return sqlx.Rebind(s.bind, query)
}

// inTx runs fn in a transaction on the live connection.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	db, release := s.db.Acquire()
	defer release()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func now() time.Time {
	return time.Now().UTC()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// readErr maps driver errors from single-row lookups.
func readErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

// writeErr maps unique violations to storage.ErrConflict.
func writeErr(err error) error {
	if database.IsUniqueViolation(err) {
		return storage.ErrConflict
	}
	return err
}

// where accumulates AND-ed conditions and their arguments.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, args ...interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func likeArg(query string) string {
	return "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
}

// page appends LIMIT/OFFSET when requested.
func page(query string, args []interface{}, limit, offset int) (string, []interface{}) {
	if limit <= 0 && offset <= 0 {
		return query, args
	}
	if limit <= 0 {
		limit = math.MaxInt32
	}
	if offset < 0 {
		offset = 0
	}
	return query + " LIMIT ? OFFSET ?", append(append([]interface{}(nil), args...), limit, offset)
}

func (s *Store) count(ctx context.Context, q sqlx.QueryerContext, table string, w *where) (int, error) {
	var total int
	if err := sqlx.GetContext(ctx, q, &total, s.q("SELECT COUNT(*) FROM "+table+w.String()), w.args...); err != nil {
		return 0, err
	}
	return total, nil
}
