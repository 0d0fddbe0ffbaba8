package pivot

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mickamy/sfreport/internal/executor"
	"github.com/mickamy/sfreport/internal/model"
	"github.com/mickamy/sfreport/internal/query"
	"github.com/mickamy/sfreport/internal/rows"
)

// ErrArity is returned when a fetched row does not line up with the discovered header.
var ErrArity = errors.New("pivot: row arity does not match header")

// Metric is a measure broken down by a category dimension over time.
type Metric struct {
	Name          string
	Source        string
	TimeColumn    string
	Dimension     string
	Aggregate     string
	Value         string
	RankAggregate string
	RankValue     string
	Filters       []query.Filter
	Limit         int
	Bucket        string
}

func (m Metric) spec() query.PivotSpec {
	return query.PivotSpec{
		Source:        m.Source,
		Dimension:     m.Dimension,
		Aggregate:     m.Aggregate,
		Value:         m.Value,
		RankAggregate: m.RankAggregate,
		RankValue:     m.RankValue,
		Limit:         m.Limit,
		Bucket:        m.Bucket,
	}
}

// Assembler runs the discover/fetch protocol against one executor.
type Assembler struct {
	exec   executor.Executor
	logger zerolog.Logger
}

// NewAssembler returns an assembler issuing statements through exec.
func NewAssembler(exec executor.Executor, logger zerolog.Logger) *Assembler {
	return &Assembler{exec: exec, logger: logger}
}

// Assemble discovers the categories of metric in window and fetches the
// metric pivoted across exactly those categories. It returns nil when
// discovery finds nothing; no fetch is issued in that case.
func (a *Assembler) Assemble(ctx context.Context, metric Metric, window query.Window) (*model.ChartTable, error) {
	spec := metric.spec()
	pred := query.Predicate{TimeColumn: metric.TimeColumn, Window: window, Filters: metric.Filters}
	dialect := a.exec.Dialect()

	columns, err := a.discover(ctx, dialect, spec, pred)
	if err != nil {
		return nil, fmt.Errorf("pivot %s: discover: %w", metric.Name, err)
	}
	if len(columns) == 0 {
		a.logger.Debug().Str("metric", metric.Name).Msg("no categories discovered")
		return nil, nil
	}

	stmt, err := query.Fetch(dialect, spec, pred, columns)
	if err != nil {
		return nil, fmt.Errorf("pivot %s: build fetch: %w", metric.Name, err)
	}
	res, err := a.exec.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("pivot %s: fetch: %w", metric.Name, err)
	}

	table := model.NewChartTable(columns)
	for i, row := range res.Rows {
		key, values, err := rows.Decode(row)
		if err != nil {
			return nil, fmt.Errorf("pivot %s: row %d: %w", metric.Name, i, err)
		}
		if len(values) != table.Width() {
			return nil, fmt.Errorf("%w: %s row %d has %d values, header has %d", ErrArity, metric.Name, i, len(values), table.Width())
		}
		floats, err := rows.Floats(values)
		if err != nil {
			return nil, fmt.Errorf("pivot %s: row %d: %w", metric.Name, i, err)
		}
		table.Rows = append(table.Rows, model.ChartRow{Key: key, Values: floats})
	}

	a.logger.Debug().
		Str("metric", metric.Name).
		Int("columns", table.Width()).
		Int("rows", len(table.Rows)).
		Msg("pivot assembled")
	return table, nil
}

func (a *Assembler) discover(ctx context.Context, d query.Dialect, spec query.PivotSpec, pred query.Predicate) (model.PivotColumnSet, error) {
	stmt, err := query.Discovery(d, spec, pred)
	if err != nil {
		return nil, err
	}
	res, err := a.exec.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, res.Len())
	columns := make(model.PivotColumnSet, 0, res.Len())
	for _, row := range res.Rows {
		if len(row) == 0 || row[0] == nil {
			continue
		}
		v := rows.Scalar(row[0])
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		columns = append(columns, v)
	}
	return columns, nil
}
