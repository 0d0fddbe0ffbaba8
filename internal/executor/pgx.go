package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mickamy/sfreport/internal/query"
)

// PgxExecutor runs statements against a Postgres mirror of the catalog tables.
type PgxExecutor struct {
	pool *pgxpool.Pool
}

// OpenPgx connects a small pool to dsn.
func OpenPgx(ctx context.Context, dsn string) (*PgxExecutor, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("executor: parse dsn: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 5 * time.Second
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("executor: connect: %w", err)
	}
	return &PgxExecutor{pool: pool}, nil
}

// Query executes stmt and materialises all rows.
func (e *PgxExecutor) Query(ctx context.Context, stmt query.Statement) (*Result, error) {
	rows, err := e.pool.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("executor: query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &Result{Columns: make([]string, len(fields))}
	for i, f := range fields {
		result.Columns[i] = f.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("executor: values: %w", err)
		}
		for i := range values {
			values[i] = normalizePgx(values[i])
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("executor: rows: %w", err)
	}
	return result, nil
}

// Dialect reports query.Postgres.
func (e *PgxExecutor) Dialect() query.Dialect {
	return query.Postgres
}

// Close releases the pool.
func (e *PgxExecutor) Close() error {
	e.pool.Close()
	return nil
}

func normalizePgx(v any) any {
	if n, ok := v.(pgtype.Numeric); ok {
		f, err := n.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	}
	return normalize(v)
}
