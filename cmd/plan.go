package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mickamy/sfreport/internal/analyzer"
	"github.com/mickamy/sfreport/internal/config"
	"github.com/mickamy/sfreport/internal/plan"
	"github.com/mickamy/sfreport/internal/render/html"
	"github.com/mickamy/sfreport/internal/render/tui"
)

var (
	planFixture  string
	planHash     string
	planMode     string
	planOutput   string
	planColor    bool
	planDepth    int
	planWarnings bool
)

// planCmd represents the plan command
var planCmd = &cobra.Command{
	Use:   "plan <parameterized-hash>",
	Short: "Show the distinct execution plans of a parameterized query",
	Long: `Fetches the recent executions of a parameterized query hash, groups them by plan
topology and prints each distinct plan as a tree (or renders the chosen one as HTML).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		shapes, err := loadShapes(cmd.Context(), args[0], planFixture)
		if err != nil {
			return err
		}
		if planHash != "" {
			shape, err := pickShape(shapes, planHash, nil)
			if err != nil {
				return err
			}
			shapes = shapes[:0]
			shapes = append(shapes, shape)
		}

		var w io.Writer = os.Stdout
		if planOutput != "" {
			f, err := os.Create(planOutput)
			if err != nil {
				return fmt.Errorf("create %s: %w", planOutput, err)
			}
			defer func() {
				_ = f.Close()
			}()
			w = f
		}

		switch planMode {
		case "tui":
			for i, shape := range shapes {
				analysis, err := analyzer.AnalyzeShape(*shape)
				if err != nil {
					return err
				}
				if i > 0 {
					_, _ = fmt.Fprintln(w)
				}
				if err := tui.Render(w, analysis, tui.Options{
					EnableColor:  planColor,
					MaxDepth:     planDepth,
					ShowWarnings: planWarnings,
				}); err != nil {
					return err
				}
			}
			return nil
		case "html":
			cfg := config.Active().Render
			renderer := html.PlanRenderer{Options: html.Options{Title: cfg.Title, IncludeStyles: cfg.IncludeStyles}}
			artifact := plan.Artifact{Name: plan.ArtifactName(args[0], shapes[0].Hash), Shape: *shapes[0]}
			return renderer.RenderPlan(w, artifact)
		default:
			return fmt.Errorf("unknown mode %q (expected tui or html)", planMode)
		}
	},
}

func init() {
	planCmd.Flags().StringVar(&planFixture, "file", "", "Read operator stats from a JSON fixture instead of the source")
	planCmd.Flags().StringVar(&planHash, "hash", "", "Only show the plan with this plan hash")
	planCmd.Flags().StringVar(&planMode, "mode", "tui", "Output mode: tui or html")
	planCmd.Flags().StringVarP(&planOutput, "out", "o", "", "Output path (stdout if omitted)")
	planCmd.Flags().BoolVar(&planColor, "color", true, "Colorize the tree")
	planCmd.Flags().IntVar(&planDepth, "depth", 0, "Maximum tree depth (0 for unlimited)")
	planCmd.Flags().BoolVar(&planWarnings, "warnings", true, "Highlight operator warnings")
	rootCmd.AddCommand(planCmd)
}
