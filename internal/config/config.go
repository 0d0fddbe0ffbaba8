package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid wraps validation failures.
var ErrInvalid = errors.New("invalid configuration")

// Config holds everything one report run needs.
type Config struct {
	Source   SourceConfig  `json:"source"`
	Window   WindowConfig  `json:"window"`
	Plans    PlanConfig    `json:"plans"`
	Pivot    PivotConfig   `json:"pivot"`
	Insights InsightConfig `json:"insights"`
	Diff     DiffConfig    `json:"diff"`
	Render   RenderConfig  `json:"render"`
	Run      RunConfig     `json:"run"`
}

// SourceConfig selects the executor. The DSN is passed through untouched.
type SourceConfig struct {
	Driver string `json:"driver" validate:"oneof=snowflake postgres"`
	DSN    string `json:"dsn"`
}

// WindowConfig is the lookback shared by every query of a run.
type WindowConfig struct {
	Months int `json:"months" validate:"gte=0"`
	Days   int `json:"days" validate:"gte=0"`
	// AsOf is RFC3339; empty means the run start time.
	AsOf string `json:"as_of" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// PlanConfig bounds plan telemetry lookups.
type PlanConfig struct {
	RetentionDays int `json:"retention_days" validate:"gte=1"`
	MaxExecutions int `json:"max_executions" validate:"gte=1"`
}

// PivotConfig bounds discovery cardinality.
type PivotConfig struct {
	TopN int `json:"top_n" validate:"gte=1"`
}

// InsightConfig defines thresholds for plan insights.
type InsightConfig struct {
	HotspotCriticalPercent float64 `json:"hotspot_critical_percent" validate:"gte=0,lte=1"`
	HotspotWarningPercent  float64 `json:"hotspot_warning_percent" validate:"gte=0,lte=1"`
	ExplodingJoinFactor    float64 `json:"exploding_join_factor" validate:"gte=1"`
	SpillWarningBytes      float64 `json:"spill_warning_bytes" validate:"gte=0"`
	SpillCriticalBytes     float64 `json:"spill_critical_bytes" validate:"gte=0"`
	PruningWarnRatio       float64 `json:"pruning_warn_ratio" validate:"gte=0,lte=1"`
	PruningMinPartitions   float64 `json:"pruning_min_partitions" validate:"gte=0"`
}

// DiffConfig tunes plan-shape comparisons. Shares are fractions of total plan time.
type DiffConfig struct {
	MinShareDelta      float64 `json:"min_share_delta" validate:"gte=0,lte=1"`
	WarningShareDelta  float64 `json:"warning_share_delta" validate:"gte=0,lte=1"`
	CriticalShareDelta float64 `json:"critical_share_delta" validate:"gte=0,lte=1"`
	MaxItems           int     `json:"max_items" validate:"gte=1"`
}

// RenderConfig controls HTML output.
type RenderConfig struct {
	Title         string `json:"title"`
	IncludeStyles bool   `json:"include_styles"`
	OutputDir     string `json:"output_dir" validate:"required"`
}

// RunConfig controls view selection and scheduling.
type RunConfig struct {
	Parallelism int      `json:"parallelism" validate:"gte=1,lte=32"`
	Views       []string `json:"views"`
	TopQueries  int      `json:"top_queries" validate:"gte=1"`
}

var (
	mu     sync.RWMutex
	active = Default()

	validate = validator.New()
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Source: SourceConfig{
			Driver: "snowflake",
		},
		Window: WindowConfig{
			Months: 1,
		},
		Plans: PlanConfig{
			RetentionDays: 13,
			MaxExecutions: 1000,
		},
		Pivot: PivotConfig{
			TopN: 100,
		},
		Insights: InsightConfig{
			HotspotCriticalPercent: 0.40,
			HotspotWarningPercent:  0.20,
			ExplodingJoinFactor:    10,
			SpillWarningBytes:      1 << 30,
			SpillCriticalBytes:     1 << 34,
			PruningWarnRatio:       0.80,
			PruningMinPartitions:   1000,
		},
		Diff: DiffConfig{
			MinShareDelta:      0.05,
			WarningShareDelta:  0.10,
			CriticalShareDelta: 0.25,
			MaxItems:           10,
		},
		Render: RenderConfig{
			Title:         "sfreport",
			IncludeStyles: true,
			OutputDir:     "report",
		},
		Run: RunConfig{
			Parallelism: 1,
			TopQueries:  10,
		},
	}
}

// Active returns the currently applied configuration.
func Active() Config {
	mu.RLock()
	defer mu.RUnlock()
	return active
}

// Use replaces the active configuration.
func Use(cfg Config) {
	mu.Lock()
	active = cfg
	mu.Unlock()
}

// Apply loads configuration from the provided path (JSON) over the defaults,
// validates it and makes it active. Empty path resets to default.
func Apply(path string) error {
	if path == "" {
		Use(Default())
		return nil
	}
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	Use(cfg)
	return nil
}

// Load reads a JSON file layered over Default and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Window.Months == 0 && c.Window.Days == 0 {
		return fmt.Errorf("%w: window must span at least one day", ErrInvalid)
	}
	return nil
}

// ResolveAsOf parses the window anchor, falling back to now.
func (w WindowConfig) ResolveAsOf(now time.Time) (time.Time, error) {
	if w.AsOf == "" {
		return now.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, w.AsOf)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse as_of: %w", err)
	}
	return t.UTC(), nil
}
