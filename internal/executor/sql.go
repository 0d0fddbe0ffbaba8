package executor

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/snowflakedb/gosnowflake"

	"github.com/mickamy/sfreport/internal/query"
)

// SQLExecutor runs statements through database/sql.
type SQLExecutor struct {
	db      *sql.DB
	dialect query.Dialect
}

// NewSQL wraps an open database handle.
func NewSQL(db *sql.DB, dialect query.Dialect) *SQLExecutor {
	return &SQLExecutor{db: db, dialect: dialect}
}

// OpenSnowflake opens a gosnowflake connection pool for dsn.
func OpenSnowflake(dsn string) (*SQLExecutor, error) {
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("executor: open snowflake: %w", err)
	}
	return NewSQL(db, query.Snowflake), nil
}

// Query executes stmt and materialises all rows.
func (e *SQLExecutor) Query(ctx context.Context, stmt query.Statement) (*Result, error) {
	rows, err := e.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("executor: query: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("executor: columns: %w", err)
	}

	result := &Result{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("executor: scan: %w", err)
		}
		for i := range values {
			values[i] = normalize(values[i])
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("executor: rows: %w", err)
	}
	return result, nil
}

// Dialect reports the SQL dialect of the underlying store.
func (e *SQLExecutor) Dialect() query.Dialect {
	return e.dialect
}

// Close closes the pool.
func (e *SQLExecutor) Close() error {
	return e.db.Close()
}
