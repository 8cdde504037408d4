package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/store"
	"github.com/adam-jackson-cf/smoke-test-oracle/internal/ui"
)

func newCaptureCmd() *cobra.Command {
	var (
		name        string
		url         string
		htmlPath    string
		shotPath    string
		consolePath string
		tags        []string
		description string
	)

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Store page state files as a named checkpoint",
		Long: `Store raw page state as a checkpoint. HTML, screenshot, and console
payloads are optional; each present file goes to its own store and the
checkpoint manifest records their ids.

The console file is a JSON array of entries:
  [{"timestamp": 1712000000000, "level": "error", "message": "boom"}]`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(cmd, captureArgs{
				name:        name,
				url:         url,
				htmlPath:    htmlPath,
				shotPath:    shotPath,
				consolePath: consolePath,
				tags:        tags,
				description: description,
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Checkpoint name (required)")
	cmd.Flags().StringVar(&url, "url", "", "Page URL the state was captured from")
	cmd.Flags().StringVar(&htmlPath, "html", "", "Path to an HTML snapshot file")
	cmd.Flags().StringVar(&shotPath, "screenshot", "", "Path to a png/jpeg/webp screenshot")
	cmd.Flags().StringVar(&consolePath, "console", "", "Path to a JSON console-entry file")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "User tag (repeatable)")
	cmd.Flags().StringVar(&description, "description", "", "Checkpoint description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

type captureArgs struct {
	name        string
	url         string
	htmlPath    string
	shotPath    string
	consolePath string
	tags        []string
	description string
}

func runCapture(cmd *cobra.Command, args captureArgs) error {
	styles := ui.ForStdout()

	client, _, err := openClient(cmd.Context())
	if err != nil {
		return err
	}

	input := store.CaptureInput{
		Name:        args.name,
		URL:         args.url,
		Tags:        args.tags,
		Description: args.description,
	}

	if args.htmlPath != "" {
		data, err := os.ReadFile(args.htmlPath)
		if err != nil {
			return err
		}
		input.HTML = string(data)
	}
	if args.shotPath != "" {
		data, err := os.ReadFile(args.shotPath)
		if err != nil {
			return err
		}
		input.Screenshot = data
	}
	if args.consolePath != "" {
		data, err := os.ReadFile(args.consolePath)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &input.ConsoleLogs); err != nil {
			return fmt.Errorf("console file is not a JSON entry array: %w", err)
		}
	}

	ref, err := client.Checkpoints.Capture(cmd.Context(), input)
	if err != nil {
		return err
	}

	fmt.Println(styles.Success.Render("✓") + " captured checkpoint " + styles.Header.Render(args.name))
	fmt.Println(styles.Label.Render("  id:   ") + ref.Key())
	if len(args.tags) > 0 {
		fmt.Println(styles.Label.Render("  tags: ") + strings.Join(args.tags, ", "))
	}
	return nil
}
