package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mickamy/sfreport/internal/config"
	"github.com/mickamy/sfreport/internal/report"
)

var (
	runOutput   string
	runViews    []string
	runParallel int
	runAsOf     string
	runList     bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Render every report view into the output directory",
	Long: `Runs the selected views over one time window. Each view writes <output>/<view>.html;
plan pages referenced by the execution history are written once per distinct plan under <output>/plans/.
A failing view is logged and does not stop the others.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runList {
			for _, name := range report.Names(report.Builtin()) {
				fmt.Println(name)
			}
			return nil
		}

		cfg := config.Active()
		if runOutput != "" {
			cfg.Render.OutputDir = runOutput
		}
		if len(runViews) > 0 {
			cfg.Run.Views = runViews
		}
		if runParallel > 0 {
			cfg.Run.Parallelism = runParallel
		}
		if runAsOf != "" {
			cfg.Window.AsOf = runAsOf
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		config.Use(cfg)

		ctx := cmd.Context()
		exec, err := openExecutor(ctx)
		if err != nil {
			return err
		}
		defer func() {
			_ = exec.Close()
		}()

		runner := &report.Runner{Executor: exec, Config: cfg, Logger: logger}
		summary, err := runner.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("run %s over %s\n", summary.RunID, summary.Window)
		fmt.Printf("  rendered: %s\n", list(summary.Artifacts))
		fmt.Printf("  skipped:  %s\n", list(summary.Skipped))
		fmt.Printf("  failed:   %s\n", list(summary.Failed))
		fmt.Printf("  plans:    %d rendered, %d reused, %d executions expired\n",
			summary.Plans.Rendered, summary.Plans.Reused, summary.Plans.Expired)
		if n := len(summary.Failed); n > 0 {
			return fmt.Errorf("%d of %d views failed", n, n+len(summary.Succeeded)+len(summary.Skipped))
		}
		return nil
	},
}

func list(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func init() {
	runCmd.Flags().StringVarP(&runOutput, "out", "o", "", "Output directory (default from config)")
	runCmd.Flags().StringSliceVar(&runViews, "views", nil, "Comma-separated views to run (default all)")
	runCmd.Flags().IntVarP(&runParallel, "parallel", "p", 0, "Views rendered concurrently (default from config)")
	runCmd.Flags().StringVar(&runAsOf, "as-of", "", "Window end as RFC3339 (default now)")
	runCmd.Flags().BoolVar(&runList, "list", false, "List the available views and exit")
	rootCmd.AddCommand(runCmd)
}
