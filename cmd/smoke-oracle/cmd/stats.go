package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/ui"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show artifact counts and total storage size",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runStats(cmd *cobra.Command, jsonOutput bool) error {
	styles := ui.ForStdout()

	client, cfg, err := openClient(cmd.Context())
	if err != nil {
		return err
	}

	stats, err := client.Query.Stats(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Println(styles.Header.Render("storage " + cfg.Storage.BaseDir))
	fmt.Printf("%s %d\n", styles.Label.Render("checkpoints: "), stats.Checkpoints)
	fmt.Printf("%s %d\n", styles.Label.Render("screenshots: "), stats.Screenshots)
	fmt.Printf("%s %d\n", styles.Label.Render("doms:        "), stats.DOMs)
	fmt.Printf("%s %d\n", styles.Label.Render("console logs:"), stats.ConsoleLogs)
	fmt.Printf("%s %d\n", styles.Label.Render("visual diffs:"), stats.VisualDiffs)
	fmt.Printf("%s %s\n", styles.Label.Render("total size:  "), formatBytes(stats.TotalSize))
	if !stats.LastModified.IsZero() {
		fmt.Printf("%s %s\n", styles.Label.Render("modified:    "), stats.LastModified.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
