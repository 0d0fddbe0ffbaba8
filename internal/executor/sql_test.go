package executor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/sfreport/internal/executor"
	"github.com/mickamy/sfreport/internal/query"
)

func TestSQLExecutorQueryPreservesOrder(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	stmt := query.Statement{SQL: "SELECT category FROM t WHERE x = ?", Args: []any{"a"}}
	mock.ExpectQuery(stmt.SQL).WithArgs("a").WillReturnRows(
		sqlmock.NewRows([]string{"category", "n"}).
			AddRow([]byte("WH_B"), int64(2)).
			AddRow("WH_A", 1.5),
	)

	exec := executor.NewSQL(db, query.Snowflake)
	res, err := exec.Query(context.Background(), stmt)
	require.NoError(t, err)

	assert.Equal(t, []string{"category", "n"}, res.Columns)
	require.Equal(t, 2, res.Len())
	assert.Equal(t, []any{"WH_B", int64(2)}, res.Rows[0])
	assert.Equal(t, []any{"WH_A", 1.5}, res.Rows[1])
	assert.Equal(t, query.Snowflake, exec.Dialect())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLExecutorQueryError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("connection reset")
	mock.ExpectQuery("SELECT 1").WillReturnError(boom)

	_, err = executor.NewSQL(db, query.Postgres).Query(context.Background(), query.Statement{SQL: "SELECT 1"})
	require.ErrorIs(t, err, boom)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := executor.Open(context.Background(), "oracle", "user@host")
	require.ErrorIs(t, err, executor.ErrUnsupportedDriver)

	_, err = executor.Open(context.Background(), "snowflake", " ")
	require.Error(t, err)
}

func TestResultLenNil(t *testing.T) {
	var r *executor.Result
	assert.Equal(t, 0, r.Len())
}
