package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/ui"
)

func newImportCmd() *cobra.Command {
	var merge bool

	cmd := &cobra.Command{
		Use:   "import <src>",
		Short: "Copy a storage tree into the base directory",
		Long: `Import a previously exported storage tree. Without --merge the
current contents are replaced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			styles := ui.ForStdout()

			client, _, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := client.Manager.Import(cmd.Context(), args[0], merge); err != nil {
				return err
			}
			fmt.Println(styles.Success.Render("✓") + " imported from " + args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&merge, "merge", false, "Merge into existing contents instead of replacing")
	return cmd
}
