package report_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/mickamy/sfreport/internal/config"
	"github.com/mickamy/sfreport/internal/executor"
	"github.com/mickamy/sfreport/internal/plan"
	"github.com/mickamy/sfreport/internal/query"
	"github.com/mickamy/sfreport/internal/report"
)

var operatorColumns = []string{"query_id", "step_id", "operator_id", "parent_operators", "operator_type",
	"operator_statistics", "execution_time_breakdown", "operator_attributes"}

// fakeExecutor answers by the relation a statement reads.
type fakeExecutor struct {
	mu    sync.Mutex
	seen  []string
	start time.Time
}

func (f *fakeExecutor) Query(_ context.Context, stmt query.Statement) (*executor.Result, error) {
	f.mu.Lock()
	f.seen = append(f.seen, stmt.SQL)
	f.mu.Unlock()

	sql := stmt.SQL
	switch {
	case strings.Contains(sql, "query_operator_stats"):
		res := &executor.Result{Columns: operatorColumns}
		for _, id := range []string{"q1", "q2"} {
			res.Rows = append(res.Rows,
				[]any{id, int64(1), int64(0), nil, "Result", `{"output_rows": 10}`, `{"overall_percentage": 0.3}`, nil},
				[]any{id, int64(1), int64(1), "[0]", "TableScan", `{"input_rows": 0, "output_rows": 10}`, `{"overall_percentage": 0.7}`, `{"table_name": "SALES.PUBLIC.ORDERS"}`},
			)
		}
		return res, nil
	case strings.Contains(sql, "GROUP BY query_parameterized_hash"):
		return &executor.Result{
			Columns: []string{"query_parameterized_hash", "count", "sum", "max"},
			Rows:    [][]any{{"Q1", int64(3), 4200.0, "select * from orders"}},
		}, nil
	case strings.Contains(sql, "query_parameterized_hash IN"):
		return &executor.Result{
			Columns: []string{"query_id", "query_parameterized_hash", "start_time", "total_elapsed_time", "warehouse_name", "user_name"},
			Rows: [][]any{
				{"q3", "Q1", f.start, 1500.0, "ETL_WH", "LOADER"},
				{"q2", "Q1", f.start.Add(-time.Hour), 1400.0, "ETL_WH", "LOADER"},
				{"q1", "Q1", f.start.Add(-2 * time.Hour), 1300.0, "ETL_WH", "LOADER"},
			},
		}, nil
	case strings.Contains(sql, "warehouse_metering_history"):
		if strings.Contains(sql, "AS category") {
			return &executor.Result{Columns: []string{"category"}, Rows: [][]any{{"WH_A"}, {"WH_B"}, {"WH_A"}}}, nil
		}
		return &executor.Result{
			Columns: []string{"bucket", "c1", "c2"},
			Rows: [][]any{
				{f.start.Truncate(24 * time.Hour), 1.5, 0.0},
				{f.start.Truncate(24 * time.Hour).Add(24 * time.Hour), 2.0, 3.25},
			},
		}, nil
	case strings.Contains(sql, "account_usage.metering_history"):
		return nil, errors.New("permission denied for metering_history")
	default:
		return &executor.Result{}, nil
	}
}

func (f *fakeExecutor) Dialect() query.Dialect { return query.Postgres }

func (f *fakeExecutor) Close() error { return nil }

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{files: map[string][]byte{}}
}

func (s *memStore) Put(name string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = append([]byte(nil), body...)
	return nil
}

func (s *memStore) names(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name := range s.files {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Source.Driver = "postgres"
	cfg.Window.AsOf = "2024-06-30T00:00:00Z"
	cfg.Render.OutputDir = t.TempDir()
	return cfg
}

func newRunner(cfg config.Config, logger zerolog.Logger) (*report.Runner, *memStore, *memStore) {
	pages, plans := newMemStore(), newMemStore()
	return &report.Runner{
		Executor: &fakeExecutor{start: time.Date(2024, 6, 29, 12, 0, 0, 0, time.UTC)},
		Config:   cfg,
		Logger:   logger,
		Pages:    pages,
		Plans:    plans,
	}, pages, plans
}

func TestRunIsolatesFailingViews(t *testing.T) {
	var logs bytes.Buffer
	r, pages, plans := newRunner(testConfig(t), zerolog.New(&logs))

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, []string{"warehouse_credits", "execution_history"}, summary.Succeeded)
	assert.Equal(t, []string{"service_credits"}, summary.Failed)
	assert.Equal(t, []string{"queries_by_user", "query_load"}, summary.Skipped)
	assert.Equal(t, []string{"warehouse_credits.html", "execution_history.html"}, summary.Artifacts)
	assert.Equal(t, plan.Stats{Registered: 2, Rendered: 1, Expired: 1}, summary.Plans)
	assert.Equal(t, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), summary.Window.AsOf)

	rendered := plans.names("plan_Q1_")
	require.Len(t, rendered, 1)

	history := string(pages.files["execution_history.html"])
	assert.Contains(t, history, `href="plans/`+rendered[0]+`"`)
	assert.Contains(t, history, plan.ExpiredLabel)
	assert.Equal(t, 2, strings.Count(history, `href="plans/`))

	chart := string(pages.files["warehouse_credits.html"])
	assert.Contains(t, chart, `["DATE","WH_A","WH_B"]`)
	assert.Contains(t, chart, `["2024-06-30T00:00:00", 2, 3.25]`)

	var failure gjson.Result
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		if gjson.Get(line, "message").String() == "view failed" {
			failure = gjson.Parse(line)
		}
	}
	require.True(t, failure.Exists(), "expected a view failure log line")
	assert.Equal(t, "service_credits", failure.Get("view").String())
	assert.Equal(t, summary.RunID, failure.Get("run_id").String())
	assert.Contains(t, failure.Get("error").String(), "permission denied")
}

func TestRunParallelMatchesSequential(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.Parallelism = 3
	r, pages, _ := newRunner(cfg, zerolog.Nop())

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"warehouse_credits", "execution_history"}, summary.Succeeded)
	assert.Equal(t, []string{"service_credits"}, summary.Failed)
	assert.Len(t, pages.names(""), 2)
}

func TestRunSelectedViews(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.Views = []string{"warehouse_credits"}
	r, pages, plans := newRunner(cfg, zerolog.Nop())

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"warehouse_credits"}, summary.Succeeded)
	assert.Empty(t, plans.names(""))
	assert.Len(t, pages.names(""), 1)
}

func TestRunRejectsUnknownView(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.Views = []string{"nope"}
	r, _, _ := newRunner(cfg, zerolog.Nop())

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown views nope")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.Parallelism = 0
	r, _, _ := newRunner(cfg, zerolog.Nop())

	_, err := r.Run(context.Background())
	require.ErrorIs(t, err, config.ErrInvalid)
}

func TestRunWritesToOutputDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.Views = []string{"execution_history"}
	r := &report.Runner{
		Executor: &fakeExecutor{start: time.Date(2024, 6, 29, 12, 0, 0, 0, time.UTC)},
		Config:   cfg,
		Logger:   zerolog.Nop(),
	}

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"execution_history.html"}, summary.Artifacts)
	assert.FileExists(t, cfg.Render.OutputDir+"/execution_history.html")
}
