package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/ui"
	"github.com/adam-jackson-cf/smoke-test-oracle/internal/visual"
	"github.com/adam-jackson-cf/smoke-test-oracle/pkg/oracle"
)

func newCompareCmd() *cobra.Command {
	var (
		threshold  float64
		includeAA  bool
		diffImage  bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "compare <baseline> <current>",
		Short: "Visually diff two screenshots (files or stored ids)",
		Long: `Compare two screenshots pixel by pixel. Arguments are image file
paths, or stored screenshot ids when no file exists at the path.
Differing dimensions are normalized by resizing current to baseline.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(cmd, args[0], args[1], visual.Options{
				Threshold:        threshold,
				IncludeAA:        includeAA,
				IncludeDiffImage: diffImage,
			}, jsonOutput)
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", 0.1, "Per-pixel tolerance in [0,1]")
	cmd.Flags().BoolVar(&includeAA, "include-aa", false, "Count anti-aliased pixels as differences")
	cmd.Flags().BoolVar(&diffImage, "diff-image", false, "Store the diff overlay as a visual_diff artifact")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runCompare(cmd *cobra.Command, baselineArg, currentArg string, opts visual.Options, jsonOutput bool) error {
	styles := ui.ForStdout()

	client, _, err := openClient(cmd.Context())
	if err != nil {
		return err
	}

	baseline, err := resolveImage(cmd, client, baselineArg)
	if err != nil {
		return err
	}
	current, err := resolveImage(cmd, client, currentArg)
	if err != nil {
		return err
	}

	result, err := client.Visual.Compare(cmd.Context(), baseline, current, opts)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	verdict := styles.Success.Render("identical")
	if result.DifferentPixels > 0 {
		verdict = styles.Warning.Render(fmt.Sprintf("%.2f%% different", result.DiffPercentage))
	}
	fmt.Printf("%s (%d of %d pixels)\n", verdict, result.DifferentPixels, result.TotalPixels)
	if result.Resized {
		fmt.Println(styles.Dim.Render("current was resized to baseline dimensions"))
	}
	if result.DiffBounds != nil {
		b := result.DiffBounds
		fmt.Printf("%s x=%d y=%d w=%d h=%d\n", styles.Label.Render("diff bounds:"), b.X, b.Y, b.Width, b.Height)
	}
	for _, r := range result.SignificantRegions {
		fmt.Printf("%s (%d,%d) %dx%d  %.1f%%\n", styles.Label.Render("  region:"), r.X, r.Y, r.Width, r.Height, r.DiffPercentage)
	}
	if result.DiffImageRef != nil {
		fmt.Println(styles.Label.Render("diff image: ") + result.DiffImageRef.Key())
	}
	return nil
}

// resolveImage treats arg as a file first, then as a stored id.
func resolveImage(cmd *cobra.Command, client *oracle.Client, arg string) (visual.ImageInput, error) {
	if data, err := os.ReadFile(arg); err == nil {
		return visual.ImageInput{Bytes: data}, nil
	}

	ref, err := client.Manager.GetScreenshot(cmd.Context(), arg)
	if err != nil {
		return visual.ImageInput{}, fmt.Errorf("%q is neither a readable file nor a stored screenshot id", arg)
	}
	return visual.ImageInput{Ref: ref}, nil
}
