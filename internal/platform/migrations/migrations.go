// Package migrations embeds the storefront schema. Apply is the idempotent
// bootstrap run at startup; NewMigrator exposes the same files through
// golang-migrate for versioned up/down from the CLI.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var files embed.FS

const dir = "sql"

// UpFiles lists the up migrations in version order.
func UpFiles() ([]string, error) {
	entries, err := fs.ReadDir(files, dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Apply executes every up migration in order. Each file only uses
// IF NOT EXISTS statements, so Apply is safe to run on every start.
func Apply(ctx context.Context, db *sql.DB) error {
	names, err := UpFiles()
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	for _, name := range names {
		body, err := fs.ReadFile(files, dir+"/"+name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// NewMigrator wraps db in a golang-migrate instance for the given driver name
// ("sqlite3", "sqlite" or "postgres").
func NewMigrator(db *sql.DB, driver string) (*migrate.Migrate, error) {
	src, err := iofs.New(files, dir)
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	var target database.Driver
	switch driver {
	case "sqlite3":
		target, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	case "sqlite":
		target, err = sqlite.WithInstance(db, &sqlite.Config{})
	case "postgres":
		target, err = postgres.WithInstance(db, &postgres.Config{})
	default:
		return nil, fmt.Errorf("unsupported migration driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("migration driver %s: %w", driver, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, target)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}
