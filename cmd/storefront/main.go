// Command storefront runs the shop's HTTP API and provides the operational
// subcommands used around it: migrations, backups, user and catalog admin.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/storefront/internal/app/runtime"
	"github.com/R3E-Network/storefront/internal/cli"
	"github.com/R3E-Network/storefront/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
	out        *cli.Printer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		cli.NewPrinter(os.Stderr).Error("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "storefront",
		Short:         "Storefront API server and back-office tooling",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			opts.out = cli.NewPrinter(cmd.OutOrStdout())
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("STOREFRONT_CONFIG"), "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newBackupCmd(opts),
		newUserCmd(opts),
		newCatalogCmd(opts),
	)
	return cmd
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, nil
}

// withRuntime builds the application without serving HTTP, runs fn and
// releases everything afterwards.
func (o *rootOptions) withRuntime(ctx context.Context, fn func(rt *runtime.Application) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	// Command output goes to stdout; keep logs out of it.
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	rt, err := runtime.NewApplication(ctx, cfg, version)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Shutdown(context.Background()); err != nil {
			o.out.Warning("shutdown: %v", err)
		}
	}()
	return fn(rt)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := runtime.NewApplication(ctx, cfg, version)
			if err != nil {
				return err
			}
			runErr := rt.Run(ctx)
			if err := rt.Shutdown(context.Background()); err != nil && runErr == nil {
				runErr = fmt.Errorf("shutdown: %w", err)
			}
			return runErr
		},
	}
}
