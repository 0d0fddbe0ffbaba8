package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mickamy/sfreport/internal/executor"
	"github.com/mickamy/sfreport/internal/model"
	"github.com/mickamy/sfreport/internal/parser"
	"github.com/mickamy/sfreport/internal/query"
	"github.com/mickamy/sfreport/internal/rows"
)

// Tables names the catalog relations for one dialect.
type Tables struct {
	QueryHistory      string
	OperatorStats     string
	WarehouseMetering string
	MeteringHistory   string
}

// TablesFor returns the relation names used on d. The Postgres mirror keeps
// Snowflake's column names in an account_usage schema.
func TablesFor(d query.Dialect) Tables {
	if d == query.Postgres {
		return Tables{
			QueryHistory:      "account_usage.query_history",
			OperatorStats:     "account_usage.query_operator_stats",
			WarehouseMetering: "account_usage.warehouse_metering_history",
			MeteringHistory:   "account_usage.metering_history",
		}
	}
	return Tables{
		QueryHistory:      "snowflake.account_usage.query_history",
		WarehouseMetering: "snowflake.account_usage.warehouse_metering_history",
		MeteringHistory:   "snowflake.account_usage.metering_history",
	}
}

const executionColumns = "query_id, query_parameterized_hash, start_time, total_elapsed_time, warehouse_name, user_name"

const operatorColumns = "query_id, step_id, operator_id, parent_operators, operator_type, " +
	"operator_statistics, execution_time_breakdown, operator_attributes"

// HashLoad summarises one parameterized query over a window.
type HashLoad struct {
	ParameterizedHash string
	Executions        int64
	TotalElapsedMs    float64
	SampleText        string
}

// Source reads query history and operator statistics.
type Source struct {
	exec   executor.Executor
	tables Tables
	logger zerolog.Logger
}

// New returns a Source over exec.
func New(exec executor.Executor, logger zerolog.Logger) *Source {
	return &Source{
		exec:   exec,
		tables: TablesFor(exec.Dialect()),
		logger: logger.With().Str("component", "catalog").Logger(),
	}
}

// Tables returns the relation names of the source's dialect.
func (s *Source) Tables() Tables {
	return s.tables
}

// Executions returns at most limit executions of paramHash in window, newest first.
func (s *Source) Executions(ctx context.Context, paramHash string, window query.Window, limit int) ([]model.Execution, error) {
	return s.RecentExecutions(ctx, window, []string{paramHash}, limit)
}

// RecentExecutions returns at most limit executions of any of paramHashes in
// window, newest first.
func (s *Source) RecentExecutions(ctx context.Context, window query.Window, paramHashes []string, limit int) ([]model.Execution, error) {
	if len(paramHashes) == 0 {
		return nil, nil
	}
	pred := query.Predicate{TimeColumn: "start_time", Window: window}
	b := query.NewBuilder(s.exec.Dialect())
	b.Write("SELECT ", executionColumns, "\nFROM ", s.tables.QueryHistory, "\nWHERE ")
	pred.Write(b)
	b.Write(" AND query_parameterized_hash IN ").BindList(paramHashes)
	b.Write("\nORDER BY start_time DESC, query_id")
	if limit > 0 {
		b.Write("\nLIMIT ").Bind(limit)
	}

	res, err := s.exec.Query(ctx, b.Statement())
	if err != nil {
		return nil, fmt.Errorf("catalog: query history: %w", err)
	}
	out := make([]model.Execution, 0, res.Len())
	for i, row := range res.Rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("catalog: query history row %d: %d columns", i, len(row))
		}
		start, err := asTime(row[2])
		if err != nil {
			return nil, fmt.Errorf("catalog: query history row %d: %w", i, err)
		}
		elapsed, err := rows.Float(row[3])
		if err != nil {
			return nil, fmt.Errorf("catalog: query history row %d: %w", i, err)
		}
		out = append(out, model.Execution{
			QueryID:           rows.Scalar(row[0]),
			ParameterizedHash: rows.Scalar(row[1]),
			StartTime:         start,
			ElapsedMs:         elapsed,
			WarehouseName:     rows.Scalar(row[4]),
			UserName:          rows.Scalar(row[5]),
		})
	}
	return out, nil
}

// OperatorRecords fetches plan rows for the executions. Executions whose
// telemetry aged out simply contribute nothing.
func (s *Source) OperatorRecords(ctx context.Context, queryIDs []string) ([]model.PlanOperatorRecord, error) {
	if len(queryIDs) == 0 {
		return nil, nil
	}
	if s.exec.Dialect() == query.Postgres {
		b := query.NewBuilder(query.Postgres)
		b.Write("SELECT ", operatorColumns, "\nFROM ", s.tables.OperatorStats, "\nWHERE query_id IN ").BindList(queryIDs)
		b.Write("\nORDER BY query_id, step_id, operator_id")
		return s.operatorRecords(ctx, b.Statement())
	}

	// GET_QUERY_OPERATOR_STATS takes a single query id.
	var out []model.PlanOperatorRecord
	for _, id := range queryIDs {
		b := query.NewBuilder(query.Snowflake)
		b.Write("SELECT ", operatorColumns, "\nFROM TABLE(GET_QUERY_OPERATOR_STATS(").Bind(id).Write("))")
		b.Write("\nORDER BY step_id, operator_id")
		recs, err := s.operatorRecords(ctx, b.Statement())
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (s *Source) operatorRecords(ctx context.Context, stmt query.Statement) ([]model.PlanOperatorRecord, error) {
	res, err := s.exec.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("catalog: operator stats: %w", err)
	}
	recs, err := parser.ParseRows(res)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return recs, nil
}

// TopParameterizedHashes ranks parameterized queries by total elapsed time in window.
func (s *Source) TopParameterizedHashes(ctx context.Context, window query.Window, n int) ([]HashLoad, error) {
	pred := query.Predicate{
		TimeColumn: "start_time",
		Window:     window,
		Filters:    []query.Filter{{Expr: "query_parameterized_hash IS NOT NULL"}},
	}
	b := query.NewBuilder(s.exec.Dialect())
	b.Write("SELECT query_parameterized_hash, COUNT(*), SUM(total_elapsed_time), MAX(query_text)",
		"\nFROM ", s.tables.QueryHistory, "\nWHERE ")
	pred.Write(b)
	b.Write("\nGROUP BY query_parameterized_hash\nORDER BY SUM(total_elapsed_time) DESC, query_parameterized_hash")
	if n > 0 {
		b.Write("\nLIMIT ").Bind(n)
	}

	res, err := s.exec.Query(ctx, b.Statement())
	if err != nil {
		return nil, fmt.Errorf("catalog: top hashes: %w", err)
	}
	out := make([]HashLoad, 0, res.Len())
	for i, row := range res.Rows {
		if len(row) < 4 {
			return nil, fmt.Errorf("catalog: top hashes row %d: %d columns", i, len(row))
		}
		count, err := rows.Float(row[1])
		if err != nil {
			return nil, fmt.Errorf("catalog: top hashes row %d: %w", i, err)
		}
		total, err := rows.Float(row[2])
		if err != nil {
			return nil, fmt.Errorf("catalog: top hashes row %d: %w", i, err)
		}
		out = append(out, HashLoad{
			ParameterizedHash: rows.Scalar(row[0]),
			Executions:        int64(count),
			TotalElapsedMs:    total,
			SampleText:        rows.Scalar(row[3]),
		})
	}
	s.logger.Debug().Int("hashes", len(out)).Str("window", window.String()).Msg("top parameterized hashes")
	return out, nil
}

func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999 -0700", rows.KeyLayout} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", t)
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}
