package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mickamy/sfreport/internal/catalog"
	"github.com/mickamy/sfreport/internal/config"
	"github.com/mickamy/sfreport/internal/executor"
	"github.com/mickamy/sfreport/internal/pivot"
	"github.com/mickamy/sfreport/internal/plan"
	"github.com/mickamy/sfreport/internal/query"
	"github.com/mickamy/sfreport/internal/render/html"
)

// PageStore persists rendered view pages. Writing a name twice overwrites it.
type PageStore interface {
	Put(name string, body []byte) error
}

// Runner executes report views against one executor.
type Runner struct {
	Executor executor.Executor
	Config   config.Config
	Logger   zerolog.Logger

	// Views defaults to Builtin().
	Views []View
	// Pages and Plans default to the configured output directory.
	Pages PageStore
	Plans plan.ArtifactStore
	// Now defaults to time.Now.
	Now func() time.Time
}

// Summary describes one run.
type Summary struct {
	RunID     string
	Window    query.Window
	Succeeded []string
	Failed    []string
	Skipped   []string
	// Artifacts are the page names written, in view order.
	Artifacts []string
	Plans     plan.Stats
}

// Env is the run context shared by every view of one run.
type Env struct {
	RunID   string
	Window  query.Window
	Config  config.Config
	Catalog *catalog.Source
	Plans   *plan.Cache
	Pivots  *pivot.Assembler
	Logger  zerolog.Logger
}

type outcome struct {
	status   status
	artifact string
}

type status int

const (
	succeeded status = iota
	failed
	skipped
)

// Run resolves the window once, builds the run context and renders the
// selected views. A failing view is logged and counted; it never stops the
// others. The returned error covers setup problems only.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if r.Executor == nil {
		return Summary{}, errors.New("report: nil executor")
	}
	if err := r.Config.Validate(); err != nil {
		return Summary{}, fmt.Errorf("report: %w", err)
	}
	views, err := Select(r.views(), r.Config.Run.Views)
	if err != nil {
		return Summary{}, fmt.Errorf("report: %w", err)
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	asOf, err := r.Config.Window.ResolveAsOf(now())
	if err != nil {
		return Summary{}, fmt.Errorf("report: %w", err)
	}
	window := query.Window{Months: r.Config.Window.Months, Days: r.Config.Window.Days, AsOf: asOf}

	runID := uuid.NewString()
	logger := r.Logger.With().Str("run_id", runID).Logger()
	env := r.newEnv(runID, window, logger)

	logger.Info().
		Str("window", window.String()).
		Str("dialect", r.Executor.Dialect().String()).
		Int("views", len(views)).
		Int("parallelism", r.Config.Run.Parallelism).
		Msg("report run started")

	pages := r.Pages
	if pages == nil {
		pages = dirStore{root: r.Config.Render.OutputDir}
	}

	outcomes := make([]outcome, len(views))
	if r.Config.Run.Parallelism <= 1 {
		for i, v := range views {
			outcomes[i] = runView(ctx, env, pages, v)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(r.Config.Run.Parallelism)
		for i, v := range views {
			g.Go(func() error {
				outcomes[i] = runView(ctx, env, pages, v)
				return nil
			})
		}
		_ = g.Wait()
	}

	summary := Summary{RunID: runID, Window: window, Plans: env.Plans.Stats()}
	for i, o := range outcomes {
		name := views[i].Name
		switch o.status {
		case succeeded:
			summary.Succeeded = append(summary.Succeeded, name)
			summary.Artifacts = append(summary.Artifacts, o.artifact)
		case failed:
			summary.Failed = append(summary.Failed, name)
		case skipped:
			summary.Skipped = append(summary.Skipped, name)
		}
	}

	logger.Info().
		Int("succeeded", len(summary.Succeeded)).
		Int("failed", len(summary.Failed)).
		Int("skipped", len(summary.Skipped)).
		Int("plans_rendered", summary.Plans.Rendered).
		Int("plans_expired", summary.Plans.Expired).
		Msg("report run finished")
	return summary, nil
}

func (r *Runner) views() []View {
	if len(r.Views) > 0 {
		return r.Views
	}
	return Builtin()
}

func (r *Runner) newEnv(runID string, window query.Window, logger zerolog.Logger) *Env {
	store := r.Plans
	if store == nil {
		store = plan.NewDiskStore(r.Config.Render.OutputDir)
	}
	source := catalog.New(r.Executor, logger)
	renderer := html.PlanRenderer{Options: html.Options{
		Title:         r.Config.Render.Title,
		IncludeStyles: r.Config.Render.IncludeStyles,
	}}
	cache := plan.NewCache(source, renderer, store, plan.CacheOptions{
		Window:        window,
		RetentionDays: r.Config.Plans.RetentionDays,
		MaxExecutions: r.Config.Plans.MaxExecutions,
	}, logger)

	return &Env{
		RunID:   runID,
		Window:  window,
		Config:  r.Config,
		Catalog: source,
		Plans:   cache,
		Pivots:  pivot.NewAssembler(r.Executor, logger),
		Logger:  logger,
	}
}

func runView(ctx context.Context, env *Env, pages PageStore, v View) outcome {
	logger := env.Logger.With().Str("view", v.Name).Logger()
	start := time.Now()

	if err := ctx.Err(); err != nil {
		logger.Error().Err(err).Msg("view not started")
		return outcome{status: failed}
	}

	body, err := v.Render(ctx, env)
	if err != nil {
		logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("view failed")
		return outcome{status: failed}
	}
	if body == nil {
		logger.Info().Dur("elapsed", time.Since(start)).Msg("view skipped: no data")
		return outcome{status: skipped}
	}

	name := v.Name + ".html"
	if err := pages.Put(name, body); err != nil {
		logger.Error().Err(err).Msg("view write failed")
		return outcome{status: failed}
	}
	logger.Info().Str("artifact", name).Int("bytes", len(body)).Dur("elapsed", time.Since(start)).Msg("view rendered")
	return outcome{status: succeeded, artifact: name}
}

// dirStore writes pages directly under the output directory.
type dirStore struct {
	root string
}

func (s dirStore) Put(name string, body []byte) error {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("report: invalid page name %q", name)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("report: mkdir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.root, name), body, 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", name, err)
	}
	return nil
}
