package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mickamy/sfreport/internal/query"
)

// ErrUnsupportedDriver is returned by Open for unknown driver names.
var ErrUnsupportedDriver = errors.New("executor: unsupported driver")

// Executor runs statements against the analytics store.
type Executor interface {
	Query(ctx context.Context, stmt query.Statement) (*Result, error)
	Dialect() query.Dialect
	Close() error
}

// Result holds rows in the order the store returned them.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Len returns the row count.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Open creates an executor for the driver name ("snowflake" or "postgres").
func Open(ctx context.Context, driver, dsn string) (Executor, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("executor: empty DSN")
	}
	dialect, err := query.ParseDialect(driver)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	switch dialect {
	case query.Snowflake:
		return OpenSnowflake(dsn)
	case query.Postgres:
		return OpenPgx(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

// normalize converts driver values into the small set the rest of the code expects.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
