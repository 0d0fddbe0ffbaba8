package parser_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/sfreport/internal/executor"
	"github.com/mickamy/sfreport/internal/parser"
	"github.com/mickamy/sfreport/test"
)

func TestParseRowsFlattensVariants(t *testing.T) {
	res := &executor.Result{
		Columns: []string{"QUERY_ID", "STEP_ID", "OPERATOR_ID", "PARENT_OPERATORS", "OPERATOR_TYPE",
			"OPERATOR_STATISTICS", "EXECUTION_TIME_BREAKDOWN", "OPERATOR_ATTRIBUTES"},
		Rows: [][]any{
			{"q1", "1", int64(0), nil, "Result", `{"output_rows": 10}`, `{"overall_percentage": 0.1}`, nil},
			{"q1", "1", int64(1), "[\n  0\n]", "TableScan",
				`{"spilling": {"bytes_spilled_local_storage": 2048}, "pruning": {"partitions_scanned": 3}}`,
				`{"overall_percentage": 0.9, "remote_disk_io": 0.4}`,
				`{"table_name": "DB.S.T"}`},
		},
	}

	records, err := parser.ParseRows(res)
	require.NoError(t, err)
	require.Len(t, records, 2)

	root := records[0]
	assert.Equal(t, 1, root.StepID)
	assert.Empty(t, root.ParentOperatorIDs)
	assert.Equal(t, 10.0, root.Stat("output_rows"))

	scan := records[1]
	assert.Equal(t, []int{0}, scan.ParentOperatorIDs)
	assert.Equal(t, 2048.0, scan.Stat("spilling.bytes_spilled_local_storage"))
	assert.Equal(t, 3.0, scan.Stat("pruning.partitions_scanned"))
	assert.Equal(t, 0.9, scan.TimeBreakdown["overall_percentage"])
	assert.Equal(t, "DB.S.T", scan.Attribute("table_name"))
}

func TestParseRowsDecodedJSONValues(t *testing.T) {
	res := &executor.Result{
		Columns: []string{"query_id", "step_id", "operator_id", "parent_operators", "operator_type", "operator_statistics"},
		Rows: [][]any{
			{"q2", int64(2), int64(4), []any{int64(1), int64(3)}, "Join", map[string]any{"output_rows": 5}},
		},
	}
	records, err := parser.ParseRows(res)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []int{1, 3}, records[0].ParentOperatorIDs)
	assert.Equal(t, 5.0, records[0].Stat("output_rows"))
	assert.Nil(t, records[0].TimeBreakdown)
}

func TestParseRowsMissingColumn(t *testing.T) {
	res := &executor.Result{Columns: []string{"query_id"}, Rows: [][]any{{"q"}}}
	_, err := parser.ParseRows(res)
	require.Error(t, err)
}

func TestParseRowsEmpty(t *testing.T) {
	records, err := parser.ParseRows(&executor.Result{Columns: []string{"query_id"}})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestParseJSONSample(t *testing.T) {
	records := test.LoadSampleRecords(t, "operator_stats.json")
	groups, ids := parser.GroupByQuery(records)
	require.Len(t, ids, 3)
	assert.Len(t, groups[ids[0]], 5)
	assert.Len(t, groups[ids[2]], 6)

	join := groups[ids[0]][2]
	assert.Equal(t, "Join", join.OperatorType)
	assert.Equal(t, []int{1}, join.ParentOperatorIDs)
	assert.Greater(t, join.Stat("spilling.bytes_spilled_local_storage"), 0.0)
}

func TestParseJSONInvalid(t *testing.T) {
	_, err := parser.ParseJSON(strings.NewReader(`{"query_id": "x"`))
	require.Error(t, err)

	_, err = parser.ParseJSON(strings.NewReader(`{"query_id": "x"}`))
	require.Error(t, err)
}
