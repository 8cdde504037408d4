package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/ui"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <dest>",
		Short: "Copy the entire storage tree to a destination directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			styles := ui.ForStdout()

			client, _, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := client.Manager.Export(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println(styles.Success.Render("✓") + " exported to " + args[0])
			return nil
		},
	}
	return cmd
}
