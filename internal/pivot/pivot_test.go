package pivot_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/sfreport/internal/executor"
	"github.com/mickamy/sfreport/internal/model"
	"github.com/mickamy/sfreport/internal/pivot"
	"github.com/mickamy/sfreport/internal/query"
)

// scriptedExecutor answers statements in order.
type scriptedExecutor struct {
	dialect    query.Dialect
	results    []*executor.Result
	errs       []error
	statements []query.Statement
}

func (s *scriptedExecutor) Query(_ context.Context, stmt query.Statement) (*executor.Result, error) {
	n := len(s.statements)
	s.statements = append(s.statements, stmt)
	if n < len(s.errs) && s.errs[n] != nil {
		return nil, s.errs[n]
	}
	if n >= len(s.results) {
		return nil, errors.New("unexpected statement")
	}
	return s.results[n], nil
}

func (s *scriptedExecutor) Dialect() query.Dialect { return s.dialect }
func (s *scriptedExecutor) Close() error           { return nil }

func warehouseMetric() pivot.Metric {
	return pivot.Metric{
		Name:          "warehouse_credits",
		Source:        "snowflake.account_usage.warehouse_metering_history",
		TimeColumn:    "start_time",
		Dimension:     "warehouse_name",
		Aggregate:     "sum",
		Value:         "credits_used",
		RankAggregate: "sum",
		RankValue:     "credits_used",
		Limit:         100,
	}
}

func window() query.Window {
	return query.Window{Days: 7, AsOf: time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)}
}

func discovery(values ...any) *executor.Result {
	res := &executor.Result{Columns: []string{"CATEGORY"}}
	for _, v := range values {
		res.Rows = append(res.Rows, []any{v})
	}
	return res
}

func snowflakeFetch() *executor.Result {
	return &executor.Result{
		Columns: []string{"CHART_ROW"},
		Rows: [][]any{
			{"[\n  \"2024-06-28T00:00:00\",\n  1.5,\n  0\n]"},
			{"[\n  \"2024-06-29T00:00:00\",\n  0,\n  2.25\n]"},
		},
	}
}

func TestAssembleHeaderAndZeroDefaults(t *testing.T) {
	exec := &scriptedExecutor{
		dialect: query.Snowflake,
		results: []*executor.Result{discovery("WH_A", "WH_B"), snowflakeFetch()},
	}
	table, err := pivot.NewAssembler(exec, zerolog.Nop()).Assemble(context.Background(), warehouseMetric(), window())
	require.NoError(t, err)

	want := &model.ChartTable{
		Header: []string{"DATE", "WH_A", "WH_B"},
		Rows: []model.ChartRow{
			{Key: "2024-06-28T00:00:00", Values: []float64{1.5, 0}},
			{Key: "2024-06-29T00:00:00", Values: []float64{0, 2.25}},
		},
	}
	if diff := cmp.Diff(want, table); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, exec.statements, 2)
	fetch := exec.statements[1]
	assert.Equal(t, []any{"WH_A", "WH_B"}, fetch.Args[len(fetch.Args)-2:], "IN list is the discovered set")
}

func TestAssembleSharesPredicateAcrossPhases(t *testing.T) {
	exec := &scriptedExecutor{
		dialect: query.Snowflake,
		results: []*executor.Result{discovery("WH_A"), {Rows: [][]any{{`["2024-06-28T00:00:00", 3]`}}}},
	}
	metric := warehouseMetric()
	metric.Filters = []query.Filter{{Expr: "warehouse_id > ?", Args: []any{0}}}
	_, err := pivot.NewAssembler(exec, zerolog.Nop()).Assemble(context.Background(), metric, window())
	require.NoError(t, err)

	disc, fetch := exec.statements[0], exec.statements[1]
	w := window()
	assert.Equal(t, []any{w.From(), w.To(), 0}, disc.Args[:3])
	assert.Equal(t, []any{w.From(), w.To(), 0}, fetch.Args[1:4])
	assert.Contains(t, fetch.SQL, "AND (warehouse_id > ?)")
	assert.Contains(t, disc.SQL, "AND (warehouse_id > ?)")
}

func TestAssemblePostgresScalarRows(t *testing.T) {
	day := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
	exec := &scriptedExecutor{
		dialect: query.Postgres,
		results: []*executor.Result{
			discovery("ETL", nil, "", "ETL", "ADHOC"),
			{
				Columns: []string{"bucket", "c1", "c2"},
				Rows:    [][]any{{day, int64(4), nil}},
			},
		},
	}
	table, err := pivot.NewAssembler(exec, zerolog.Nop()).Assemble(context.Background(), warehouseMetric(), window())
	require.NoError(t, err)
	assert.Equal(t, []string{"DATE", "ETL", "ADHOC"}, table.Header)
	assert.Equal(t, []model.ChartRow{{Key: "2024-06-28T00:00:00", Values: []float64{4, 0}}}, table.Rows)
	assert.True(t, strings.Contains(exec.statements[1].SQL, "$1"))
}

func TestAssembleIsIdempotent(t *testing.T) {
	run := func() *model.ChartTable {
		exec := &scriptedExecutor{
			dialect: query.Snowflake,
			results: []*executor.Result{discovery("WH_A", "WH_B"), snowflakeFetch()},
		}
		table, err := pivot.NewAssembler(exec, zerolog.Nop()).Assemble(context.Background(), warehouseMetric(), window())
		require.NoError(t, err)
		return table
	}
	first, second := run(), run()
	assert.Empty(t, cmp.Diff(first, second))
}

func TestAssembleEmptyDiscoverySkipsFetch(t *testing.T) {
	exec := &scriptedExecutor{dialect: query.Snowflake, results: []*executor.Result{discovery()}}
	table, err := pivot.NewAssembler(exec, zerolog.Nop()).Assemble(context.Background(), warehouseMetric(), window())
	require.NoError(t, err)
	assert.Nil(t, table)
	assert.Len(t, exec.statements, 1)
}

func TestAssembleArityMismatch(t *testing.T) {
	exec := &scriptedExecutor{
		dialect: query.Snowflake,
		results: []*executor.Result{
			discovery("WH_A", "WH_B"),
			{Rows: [][]any{{`["2024-06-28T00:00:00", 1]`}}},
		},
	}
	_, err := pivot.NewAssembler(exec, zerolog.Nop()).Assemble(context.Background(), warehouseMetric(), window())
	require.ErrorIs(t, err, pivot.ErrArity)
}

func TestAssembleQueryFailure(t *testing.T) {
	boom := errors.New("statement timed out")
	exec := &scriptedExecutor{dialect: query.Snowflake, errs: []error{nil, boom}, results: []*executor.Result{discovery("WH_A")}}
	_, err := pivot.NewAssembler(exec, zerolog.Nop()).Assemble(context.Background(), warehouseMetric(), window())
	require.ErrorIs(t, err, boom)
}
