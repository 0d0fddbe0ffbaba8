package catalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/sfreport/internal/catalog"
	"github.com/mickamy/sfreport/internal/executor"
	"github.com/mickamy/sfreport/internal/query"
)

const operatorSelect = "SELECT query_id, step_id, operator_id, parent_operators, operator_type, " +
	"operator_statistics, execution_time_breakdown, operator_attributes"

var operatorCols = []string{"QUERY_ID", "STEP_ID", "OPERATOR_ID", "PARENT_OPERATORS", "OPERATOR_TYPE",
	"OPERATOR_STATISTICS", "EXECUTION_TIME_BREAKDOWN", "OPERATOR_ATTRIBUTES"}

func newSource(t *testing.T, d query.Dialect) (*catalog.Source, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return catalog.New(executor.NewSQL(db, d), zerolog.Nop()), mock
}

func testWindow() query.Window {
	return query.Window{Days: 13, AsOf: time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)}
}

func TestExecutions(t *testing.T) {
	src, mock := newSource(t, query.Snowflake)
	w := testWindow()
	started := time.Date(2024, 6, 29, 8, 30, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT query_id, query_parameterized_hash, start_time, total_elapsed_time, warehouse_name, user_name\n"+
		"FROM snowflake.account_usage.query_history\n"+
		"WHERE start_time >= ? AND start_time < ? AND query_parameterized_hash IN (?)\n"+
		"ORDER BY start_time DESC, query_id\n"+
		"LIMIT ?").
		WithArgs(w.From(), w.To(), "Q1", 50).
		WillReturnRows(sqlmock.NewRows([]string{"QUERY_ID", "QUERY_PARAMETERIZED_HASH", "START_TIME", "TOTAL_ELAPSED_TIME", "WAREHOUSE_NAME", "USER_NAME"}).
			AddRow("q2", "Q1", started, "1520", "ETL_WH", "LOADER").
			AddRow("q1", "Q1", started.Add(-time.Hour), int64(300), "ETL_WH", nil))

	execs, err := src.Executions(context.Background(), "Q1", w, 50)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, "q2", execs[0].QueryID)
	assert.Equal(t, 1520.0, execs[0].ElapsedMs)
	assert.Equal(t, started, execs[0].StartTime)
	assert.Equal(t, "", execs[1].UserName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOperatorRecordsSnowflakeOnePerQuery(t *testing.T) {
	src, mock := newSource(t, query.Snowflake)
	stmt := operatorSelect + "\nFROM TABLE(GET_QUERY_OPERATOR_STATS(?))\nORDER BY step_id, operator_id"

	mock.ExpectQuery(stmt).WithArgs("q1").WillReturnRows(sqlmock.NewRows(operatorCols).
		AddRow("q1", int64(1), int64(0), nil, "Result", `{"output_rows": 1}`, `{"overall_percentage": 0.1}`, nil).
		AddRow("q1", int64(1), int64(1), "[0]", "TableScan", `{"output_rows": 9}`, `{"overall_percentage": 0.9}`, `{"table_name": "T"}`))
	mock.ExpectQuery(stmt).WithArgs("q-expired").WillReturnRows(sqlmock.NewRows(operatorCols))

	recs, err := src.OperatorRecords(context.Background(), []string{"q1", "q-expired"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []int{0}, recs[1].ParentOperatorIDs)
	assert.Equal(t, "T", recs[1].Attribute("table_name"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOperatorRecordsPostgresMirror(t *testing.T) {
	src, mock := newSource(t, query.Postgres)
	mock.ExpectQuery(operatorSelect+"\nFROM account_usage.query_operator_stats\n"+
		"WHERE query_id IN ($1, $2)\nORDER BY query_id, step_id, operator_id").
		WithArgs("q1", "q2").
		WillReturnRows(sqlmock.NewRows(operatorCols).
			AddRow("q1", int64(1), int64(0), nil, "Result", nil, nil, nil))

	recs, err := src.OperatorRecords(context.Background(), []string{"q1", "q2"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTopParameterizedHashes(t *testing.T) {
	src, mock := newSource(t, query.Snowflake)
	w := testWindow()
	mock.ExpectQuery("SELECT query_parameterized_hash, COUNT(*), SUM(total_elapsed_time), MAX(query_text)\n"+
		"FROM snowflake.account_usage.query_history\n"+
		"WHERE start_time >= ? AND start_time < ? AND (query_parameterized_hash IS NOT NULL)\n"+
		"GROUP BY query_parameterized_hash\n"+
		"ORDER BY SUM(total_elapsed_time) DESC, query_parameterized_hash\n"+
		"LIMIT ?").
		WithArgs(w.From(), w.To(), 3).
		WillReturnRows(sqlmock.NewRows([]string{"H", "N", "T", "Q"}).
			AddRow("Q1", int64(12), "98000.5", "select * from orders where id = ?"))

	loads, err := src.TopParameterizedHashes(context.Background(), w, 3)
	require.NoError(t, err)
	require.Len(t, loads, 1)
	assert.Equal(t, catalog.HashLoad{
		ParameterizedHash: "Q1",
		Executions:        12,
		TotalElapsedMs:    98000.5,
		SampleText:        "select * from orders where id = ?",
	}, loads[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentExecutionsNoHashes(t *testing.T) {
	src, mock := newSource(t, query.Snowflake)
	execs, err := src.RecentExecutions(context.Background(), testWindow(), nil, 10)
	require.NoError(t, err)
	assert.Empty(t, execs)
	require.NoError(t, mock.ExpectationsWereMet())
}
