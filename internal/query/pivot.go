package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrEmptyColumns is returned when a fetch statement is requested for no categories.
var ErrEmptyColumns = errors.New("query: pivot over empty column set")

// PivotSpec describes a metric broken down by a category dimension.
// Source, TimeColumn, Dimension and the value expressions are trusted SQL
// fragments owned by view definitions; category values are always bound.
type PivotSpec struct {
	Source        string
	Dimension     string
	Aggregate     string
	Value         string
	RankAggregate string
	RankValue     string
	Limit         int
	Bucket        string
}

var aggregates = map[string]struct{}{
	"SUM": {}, "COUNT": {}, "AVG": {}, "MAX": {}, "MIN": {},
}

var buckets = map[string]struct{}{
	"hour": {}, "day": {}, "week": {}, "month": {},
}

// Validate checks the spec's enumerated fields.
func (s PivotSpec) Validate() error {
	if s.Source == "" || s.Dimension == "" || s.Value == "" {
		return fmt.Errorf("query: pivot spec needs source, dimension and value")
	}
	if _, ok := aggregates[strings.ToUpper(s.Aggregate)]; !ok {
		return fmt.Errorf("query: unsupported aggregate %q", s.Aggregate)
	}
	if s.RankAggregate != "" {
		if _, ok := aggregates[strings.ToUpper(s.RankAggregate)]; !ok {
			return fmt.Errorf("query: unsupported rank aggregate %q", s.RankAggregate)
		}
	}
	if _, ok := buckets[s.bucket()]; !ok {
		return fmt.Errorf("query: unsupported bucket %q", s.Bucket)
	}
	return nil
}

func (s PivotSpec) bucket() string {
	if s.Bucket == "" {
		return "day"
	}
	return strings.ToLower(s.Bucket)
}

func (s PivotSpec) bucketExpr(timeColumn string) string {
	return "DATE_TRUNC('" + s.bucket() + "', " + timeColumn + ")"
}

// Discovery builds the phase-one statement: the distinct, ranked, capped categories.
func Discovery(d Dialect, spec PivotSpec, pred Predicate) (Statement, error) {
	if err := spec.Validate(); err != nil {
		return Statement{}, err
	}
	b := NewBuilder(d)
	b.Write("SELECT ", spec.Dimension, " AS category\nFROM ", spec.Source, "\nWHERE ")
	pred.Write(b)
	b.Write("\nGROUP BY ", spec.Dimension, "\nORDER BY ")
	if spec.RankAggregate != "" && spec.RankValue != "" {
		b.Write(strings.ToUpper(spec.RankAggregate), "(", spec.RankValue, ") DESC, ")
	}
	b.Write(spec.Dimension)
	if spec.Limit > 0 {
		b.Write("\nLIMIT ").Bind(spec.Limit)
	}
	return b.Statement(), nil
}

// Fetch builds the phase-two statement: the metric per bucket pivoted across
// exactly columns, in order, with missing cells coalesced to zero. Rows are
// ordered by bucket; callers must keep that order.
func Fetch(d Dialect, spec PivotSpec, pred Predicate, columns []string) (Statement, error) {
	if err := spec.Validate(); err != nil {
		return Statement{}, err
	}
	if len(columns) == 0 {
		return Statement{}, ErrEmptyColumns
	}
	bucket := spec.bucketExpr(pred.TimeColumn)
	agg := strings.ToUpper(spec.Aggregate)

	b := NewBuilder(d)
	b.Write("SELECT ")
	if d == Snowflake {
		b.Write("ARRAY_CONSTRUCT(TO_VARCHAR(", bucket, `, 'YYYY-MM-DD"T"HH24:MI:SS')`)
	} else {
		b.Write(bucket, " AS bucket")
	}
	for i, col := range columns {
		b.Write(", COALESCE(", agg, "(CASE WHEN ", spec.Dimension, " = ").Bind(col)
		b.Write(" THEN ", spec.Value, " END), 0)")
		if d != Snowflake {
			b.Write(" AS c" + strconv.Itoa(i+1))
		}
	}
	if d == Snowflake {
		b.Write(") AS chart_row")
	}
	b.Write("\nFROM ", spec.Source, "\nWHERE ")
	pred.Write(b)
	b.Write(" AND ", spec.Dimension, " IN ").BindList(columns)
	b.Write("\nGROUP BY ", bucket, "\nORDER BY ", bucket)
	return b.Statement(), nil
}
