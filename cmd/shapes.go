package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mickamy/sfreport/internal/catalog"
	"github.com/mickamy/sfreport/internal/config"
	"github.com/mickamy/sfreport/internal/model"
	"github.com/mickamy/sfreport/internal/parser"
	"github.com/mickamy/sfreport/internal/plan"
	"github.com/mickamy/sfreport/internal/query"
)

// loadShapes returns the distinct plan shapes of paramHash, most recent first.
// With a fixture file every execution in it counts as one of paramHash, and
// higher query ids count as more recent.
func loadShapes(ctx context.Context, paramHash, fixture string) ([]*model.PlanShape, error) {
	if fixture != "" {
		return shapesFromFixture(paramHash, fixture)
	}

	exec, err := openExecutor(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = exec.Close()
	}()

	cfg := config.Active()
	asOf, err := cfg.Window.ResolveAsOf(time.Now())
	if err != nil {
		return nil, err
	}
	window := query.Window{Months: cfg.Window.Months, Days: cfg.Window.Days, AsOf: asOf}.Capped(cfg.Plans.RetentionDays)

	src := catalog.New(exec, logger)
	execs, err := src.Executions(ctx, paramHash, window, cfg.Plans.MaxExecutions)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(execs))
	for _, e := range execs {
		ids = append(ids, e.QueryID)
	}
	records, err := src.OperatorRecords(ctx, ids)
	if err != nil {
		return nil, err
	}
	shapes, _ := plan.GroupShapes(paramHash, execs, records)
	if len(shapes) == 0 {
		return nil, fmt.Errorf("no plans for %s in %s (%d executions, plan telemetry expired)", paramHash, window, len(execs))
	}
	return shapes, nil
}

func shapesFromFixture(paramHash, path string) ([]*model.PlanShape, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	records, err := parser.ParseJSON(f)
	if err != nil {
		return nil, err
	}
	_, ids := parser.GroupByQuery(records)
	execs := make([]model.Execution, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		execs = append(execs, model.Execution{QueryID: ids[i], ParameterizedHash: paramHash})
	}
	shapes, _ := plan.GroupShapes(paramHash, execs, records)
	if len(shapes) == 0 {
		return nil, fmt.Errorf("no operator records in %s", path)
	}
	return shapes, nil
}

// pickShape returns the shape with the given plan hash, or fallback when hash is empty.
func pickShape(shapes []*model.PlanShape, hash string, fallback *model.PlanShape) (*model.PlanShape, error) {
	if hash == "" {
		return fallback, nil
	}
	for _, s := range shapes {
		if string(s.Hash) == hash {
			return s, nil
		}
	}
	return nil, fmt.Errorf("plan %s not found among %d shapes", hash, len(shapes))
}
