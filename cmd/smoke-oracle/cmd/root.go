// Package cmd provides the CLI commands for smoke-oracle.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/config"
	"github.com/adam-jackson-cf/smoke-test-oracle/internal/errors"
	"github.com/adam-jackson-cf/smoke-test-oracle/internal/logging"
	"github.com/adam-jackson-cf/smoke-test-oracle/pkg/oracle"
	"github.com/adam-jackson-cf/smoke-test-oracle/pkg/version"
)

var (
	flagConfig  string
	flagBaseDir string
	flagDebug   bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the smoke-oracle CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoke-oracle",
		Short: "Checkpoint storage and validation engine for browser smoke tests",
		Long: `smoke-oracle persists browser-capture artifacts (DOM snapshots,
screenshots, console logs) as named checkpoints, supports index-only
querying over large corpora, and evaluates structured assertions and
pixel-accurate visual diffs against stored state.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("smoke-oracle version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file (default: ./"+config.DefaultConfigName+")")
	cmd.PersistentFlags().StringVar(&flagBaseDir, "base-dir", "", "Storage base directory (overrides config)")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newCaptureCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newCompareCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the CLI, printing structured errors to stderr.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, errors.Format(err))
	}
	return err
}

// loadConfig resolves the effective configuration from flags and the
// working directory.
func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		cwd, err := os.Getwd()
		if err == nil {
			path = config.Discover(cwd)
		}
	}

	var cfg *config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}

	if flagBaseDir != "" {
		cfg.Storage.BaseDir = flagBaseDir
	}
	if flagDebug {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// openClient builds the logger and an initialized oracle client.
func openClient(ctx context.Context) (*oracle.Client, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)

	client, err := oracle.Open(ctx, cfg, nil, logger)
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}
