package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/ui"
	"github.com/adam-jackson-cf/smoke-test-oracle/internal/validate"
)

func newValidateCmd() *cobra.Command {
	var (
		specPath   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "validate <checkpoint-name>",
		Short: "Evaluate a validation spec against a stored checkpoint",
		Long: `Evaluate DOM, console, and visual validations against a checkpoint.
The spec file is yaml (or JSON):

  name: home
  validations:
    dom:
      exists: ["#app"]
      count:
        - selector: "nav a"
          count: 4
    console:
      maxErrors: 0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0], specPath, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&specPath, "spec", "", "Path to the validation spec file (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("spec")
	return cmd
}

func runValidate(cmd *cobra.Command, name, specPath string, jsonOutput bool) error {
	styles := ui.ForStdout()
	ctx := cmd.Context()

	client, _, err := openClient(ctx)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(specPath)
	if err != nil {
		return err
	}
	var def validate.Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return fmt.Errorf("spec file is not a valid definition: %w", err)
	}
	if def.Name == "" {
		def.Name = name
	}

	ref, err := client.Checkpoints.ByName(ctx, name)
	if err != nil {
		return err
	}
	if ref == nil {
		return fmt.Errorf("no checkpoint named %q", name)
	}
	manifest, err := client.Manager.RetrieveCheckpoint(ctx, ref)
	if err != nil {
		return err
	}

	refs := validate.Refs{}
	if id := manifest.State.DOMID; id != "" {
		refs.DOM, _ = client.Manager.GetDOM(ctx, id)
	}
	if id := manifest.State.ScreenshotID; id != "" {
		refs.Screenshot, _ = client.Manager.GetScreenshot(ctx, id)
	}
	if id := manifest.State.ConsoleID; id != "" {
		refs.Console, _ = client.Manager.GetConsole(ctx, id)
	}

	report, err := client.Validator.Validate(ctx, &def, refs)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	for _, r := range report.Validations {
		mark := styles.Success.Render("✓")
		if !r.Passed {
			mark = styles.Error.Render("✗")
		}
		fmt.Printf("%s [%s/%s] %s\n", mark, r.Type, r.Rule, r.Message)
	}
	fmt.Println()
	if report.Passed {
		fmt.Println(styles.Success.Render(fmt.Sprintf("passed (%d validation(s), %s)",
			report.Summary.Total, report.Duration.Round(time.Millisecond))))
		return nil
	}
	fmt.Println(styles.Error.Render(fmt.Sprintf("failed: %d of %d validation(s)",
		report.Summary.Failed, report.Summary.Total)))
	return fmt.Errorf("validation failed")
}
