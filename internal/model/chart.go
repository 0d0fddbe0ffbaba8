package model

// KeyColumn names the grouping-key column that heads every ChartTable.
const KeyColumn = "DATE"

// PivotColumnSet is the ordered, de-duplicated list of categories captured by discovery.
type PivotColumnSet []string

// ChartTable is a column-aligned time series ready for a chart.
type ChartTable struct {
	Header []string
	Rows   []ChartRow
}

// ChartRow is one grouping-key bucket; Values align with Header[1:].
type ChartRow struct {
	Key    string
	Values []float64
}

// NewChartTable builds an empty table headed by KeyColumn followed by the columns.
func NewChartTable(columns PivotColumnSet) *ChartTable {
	header := make([]string, 0, len(columns)+1)
	header = append(header, KeyColumn)
	header = append(header, columns...)
	return &ChartTable{Header: header}
}

// Width returns the number of value columns.
func (t *ChartTable) Width() int {
	if t == nil || len(t.Header) == 0 {
		return 0
	}
	return len(t.Header) - 1
}
