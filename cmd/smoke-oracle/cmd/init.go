package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/config"
	"github.com/adam-jackson-cf/smoke-test-oracle/internal/ui"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file and create the storage layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func runInit(cmd *cobra.Command, force bool) error {
	styles := ui.ForStdout()

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	path := flagConfig
	if path == "" {
		path = filepath.Join(cwd, config.DefaultConfigName)
	}

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	if flagBaseDir != "" {
		cfg.Storage.BaseDir = flagBaseDir
	}
	if err := cfg.Save(path); err != nil {
		return err
	}

	client, _, err := openClient(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println(styles.Success.Render("✓") + " wrote " + path)
	fmt.Println(styles.Success.Render("✓") + " initialized storage at " + client.Manager.BaseDir())
	return nil
}
