package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mickamy/sfreport/internal/analyzer"
	"github.com/mickamy/sfreport/internal/diff"
)

var (
	diffFixture  string
	diffBase     string
	diffTarget   string
	diffFormat   string
	diffOutput   string
	diffMinDelta float64
	diffMaxItems int
)

// diffCmd represents the diff command
var diffCmd = &cobra.Command{
	Use:   "diff <parameterized-hash>",
	Short: "Compare two plans of a parameterized query",
	Long: `Compares the oldest and the most recent distinct plan of a parameterized query
(or the two given with --base and --target) and prints the differences as Markdown or JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		shapes, err := loadShapes(cmd.Context(), args[0], diffFixture)
		if err != nil {
			return err
		}
		if len(shapes) < 2 && (diffBase == "" || diffTarget == "") {
			return fmt.Errorf("%s has a single plan %s; nothing to compare", args[0], shapes[0].Hash)
		}
		base, err := pickShape(shapes, diffBase, shapes[len(shapes)-1])
		if err != nil {
			return fmt.Errorf("base: %w", err)
		}
		target, err := pickShape(shapes, diffTarget, shapes[0])
		if err != nil {
			return fmt.Errorf("target: %w", err)
		}

		baseAnalysis, err := analyzer.AnalyzeShape(*base)
		if err != nil {
			return fmt.Errorf("analyze base: %w", err)
		}
		targetAnalysis, err := analyzer.AnalyzeShape(*target)
		if err != nil {
			return fmt.Errorf("analyze target: %w", err)
		}
		report, err := diff.Compare(baseAnalysis, targetAnalysis, diff.Options{
			MinShareDelta: diffMinDelta,
			MaxItems:      diffMaxItems,
		})
		if err != nil {
			return err
		}

		var payload []byte
		switch diffFormat {
		case "md", "markdown":
			payload = []byte(report.Markdown())
		case "json":
			payload, err = report.JSON()
			if err != nil {
				return err
			}
			payload = append(payload, '\n')
		default:
			return fmt.Errorf("unsupported format %q", diffFormat)
		}
		if diffOutput == "" {
			_, err = os.Stdout.Write(payload)
			return err
		}
		return os.WriteFile(diffOutput, payload, 0o644)
	},
}

func init() {
	diffCmd.Flags().StringVar(&diffFixture, "file", "", "Read operator stats from a JSON fixture instead of the source")
	diffCmd.Flags().StringVar(&diffBase, "base", "", "Plan hash of the baseline (default oldest plan)")
	diffCmd.Flags().StringVar(&diffTarget, "target", "", "Plan hash of the target (default most recent plan)")
	diffCmd.Flags().StringVar(&diffFormat, "format", "md", "Output format: md or json")
	diffCmd.Flags().StringVarP(&diffOutput, "out", "o", "", "Output path (stdout if omitted)")
	diffCmd.Flags().Float64Var(&diffMinDelta, "min-delta", 0, "Minimum share-of-time delta (0-1) to report (default from config)")
	diffCmd.Flags().IntVar(&diffMaxItems, "limit", 0, "Maximum rows per section (default from config)")
	rootCmd.AddCommand(diffCmd)
}
