package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/store"
	"github.com/adam-jackson-cf/smoke-test-oracle/internal/ui"
)

func newQueryCmd() *cobra.Command {
	var (
		url        string
		name       string
		tag        string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List stored checkpoints without loading payloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, store.Filter{URL: url, Name: name, Tag: tag, Limit: limit}, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Filter by capture URL")
	cmd.Flags().StringVar(&name, "name", "", "Filter by checkpoint name")
	cmd.Flags().StringVar(&tag, "tag", "", "Filter by user tag")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of results")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runQuery(cmd *cobra.Command, filter store.Filter, jsonOutput bool) error {
	styles := ui.ForStdout()

	client, _, err := openClient(cmd.Context())
	if err != nil {
		return err
	}

	refs, err := client.Query.Checkpoints(cmd.Context(), filter)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(refs)
	}

	if len(refs) == 0 {
		fmt.Println(styles.Dim.Render("no checkpoints match"))
		return nil
	}

	fmt.Println(styles.Header.Render(fmt.Sprintf("%d checkpoint(s)", len(refs))))
	for _, ref := range refs {
		fmt.Printf("%s  %s  %s\n",
			styles.Label.Render(ref.Timestamp.Format("2006-01-02 15:04:05")),
			styles.Success.Render(ref.Tag(store.TagName)),
			styles.Dim.Render(ref.Tag(store.TagURL)))
		fmt.Println(styles.Dim.Render("  " + ref.Key()))
	}
	return nil
}
