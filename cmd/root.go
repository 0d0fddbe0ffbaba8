package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mickamy/sfreport/internal/config"
	"github.com/mickamy/sfreport/internal/executor"
	"github.com/mickamy/sfreport/internal/gologger"
)

var (
	configPath string
	driverFlag string
	dsnFlag    string

	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sfreport",
	Short: "Static usage and query-plan reports from the Snowflake account catalog",
	Long: `sfreport reads ACCOUNT_USAGE telemetry (or a Postgres mirror of it) and renders
time-series charts, execution history tables and de-duplicated query plan pages.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = gologger.NewLogger(os.Stderr)
		return applyConfig()
	},
}

// Execute runs the CLI. meta carries build details shown by "version".
func Execute(version, meta string) {
	rootCmd.Version = version
	buildMeta = meta

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (JSON). Falls back to $SFREPORT_CONFIG")
	rootCmd.PersistentFlags().StringVar(&driverFlag, "driver", "", "Source driver: snowflake or postgres (default from config)")
	rootCmd.PersistentFlags().StringVar(&dsnFlag, "dsn", "", "Connection string; falls back to config, then $SFREPORT_DSN")
}

// applyConfig layers the config file, flags and environment, then activates the result.
func applyConfig() error {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("SFREPORT_CONFIG"))
	}
	if err := config.Apply(path); err != nil {
		return err
	}

	cfg := config.Active()
	if d := strings.TrimSpace(driverFlag); d != "" {
		cfg.Source.Driver = d
	}
	if dsn := strings.TrimSpace(dsnFlag); dsn != "" {
		cfg.Source.DSN = dsn
	}
	if cfg.Source.DSN == "" {
		cfg.Source.DSN = strings.TrimSpace(os.Getenv("SFREPORT_DSN"))
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	config.Use(cfg)
	return nil
}

func openExecutor(ctx context.Context) (executor.Executor, error) {
	src := config.Active().Source
	if src.DSN == "" {
		return nil, fmt.Errorf("no DSN: pass --dsn, set source.dsn or $SFREPORT_DSN")
	}
	return executor.Open(ctx, src.Driver, src.DSN)
}
