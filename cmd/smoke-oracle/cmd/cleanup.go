package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/store"
	"github.com/adam-jackson-cf/smoke-test-oracle/internal/ui"
)

func newCleanupCmd() *cobra.Command {
	var (
		olderThan time.Duration
		keepLast  int
		types     []string
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old artifacts and compact secondary indexes",
		Long: `Delete artifacts per selected type: filter by age, keep the newest
--keep-last, delete the rest. Without --older-than or --keep-last
nothing is deleted; index compaction still runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := store.CleanupOptions{
				OlderThan: olderThan,
				KeepLast:  keepLast,
			}
			for _, t := range types {
				opts.Types = append(opts.Types, store.Category(t))
			}
			return runCleanup(cmd, opts)
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Delete artifacts older than this (e.g. 720h)")
	cmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep the newest N artifacts per type")
	cmd.Flags().StringSliceVar(&types, "types", nil, "Restrict to categories (checkpoint, screenshot, html, console, visual_diff)")
	return cmd
}

func runCleanup(cmd *cobra.Command, opts store.CleanupOptions) error {
	styles := ui.ForStdout()

	client, _, err := openClient(cmd.Context())
	if err != nil {
		return err
	}

	result, err := client.Query.Cleanup(cmd.Context(), opts)
	if err != nil {
		return err
	}

	fmt.Printf("%s deleted %d artifact(s), freed %s\n",
		styles.Success.Render("✓"), result.Deleted, formatBytes(result.FreedSpace))
	return nil
}
