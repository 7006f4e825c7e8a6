package main

import (
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/storefront/internal/app/runtime"
	"github.com/R3E-Network/storefront/internal/cli"
)

func newBackupCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list and restore SQLite backups",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Write a new backup archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withRuntime(cmd.Context(), func(rt *runtime.Application) error {
				spin := opts.out.NewSpinner("creating backup")
				spin.Start()
				archive, err := rt.App().Backups.Create(cmd.Context())
				if err != nil {
					spin.Error("backup failed")
					return err
				}
				spin.Success("created " + archive.Name + " (" + cli.FormatBytes(archive.Size) + ")")
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List backup archives, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withRuntime(cmd.Context(), func(rt *runtime.Application) error {
				archives, err := rt.App().Backups.List(cmd.Context())
				if err != nil {
					return err
				}
				if len(archives) == 0 {
					opts.out.Info("no backups")
					return nil
				}
				rows := make([][]string, 0, len(archives))
				for _, a := range archives {
					rows = append(rows, []string{a.Name, cli.FormatBytes(a.Size), a.CreatedAt.Local().Format(time.RFC3339)})
				}
				return opts.out.Table([]string{"NAME", "SIZE", "CREATED"}, rows)
			})
		},
	}

	restore := &cobra.Command{
		Use:   "restore <archive.zip>",
		Short: "Replace the database with the contents of an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return opts.withRuntime(cmd.Context(), func(rt *runtime.Application) error {
				spin := opts.out.NewSpinner("restoring " + args[0])
				spin.Start()
				manifest, err := rt.App().Backups.Restore(cmd.Context(), f)
				if err != nil {
					spin.Error("restore failed")
					return err
				}
				spin.Success("restored snapshot from " + manifest.CreatedAt.Local().Format(time.RFC3339) +
					" (" + strconv.FormatInt(manifest.Size, 10) + " bytes)")
				return nil
			})
		},
	}

	cmd.AddCommand(create, list, restore)
	return cmd
}
