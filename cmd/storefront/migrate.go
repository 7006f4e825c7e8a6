package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/R3E-Network/storefront/internal/platform/database"
	"github.com/R3E-Network/storefront/internal/platform/migrations"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	run := func(cmd *cobra.Command, fn func(m *migrate.Migrate) error) error {
		cfg, err := opts.loadConfig()
		if err != nil {
			return err
		}
		db, err := database.Open(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		conn, release := db.Acquire()
		m, err := migrations.NewMigrator(conn.DB, cfg.Database.Driver)
		if err != nil {
			release()
			db.Close()
			return err
		}
		err = fn(m)
		release()
		// Closing the migrator also closes the shared connection pool.
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			opts.out.Warning("close migrator: %v", errors.Join(srcErr, dbErr))
		}
		return err
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(m *migrate.Migrate) error {
				if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return err
				}
				return printVersion(opts, m)
			})
		},
	}

	down := &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1 step)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			return run(cmd, func(m *migrate.Migrate) error {
				if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return err
				}
				return printVersion(opts, m)
			})
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(m *migrate.Migrate) error {
				return printVersion(opts, m)
			})
		},
	}

	cmd.AddCommand(up, down, versionCmd)
	return cmd
}

func printVersion(opts *rootOptions, m *migrate.Migrate) error {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		opts.out.Info("schema is empty")
		return nil
	}
	if err != nil {
		return err
	}
	if dirty {
		opts.out.Warning("schema version %d is dirty", v)
		return nil
	}
	opts.out.Success("schema version %d", v)
	return nil
}
