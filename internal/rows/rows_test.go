package rows_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/sfreport/internal/model"
	"github.com/mickamy/sfreport/internal/rows"
)

func TestDecodeArrayLiteral(t *testing.T) {
	raw := "[\n  \"2024-01-02T00:00:00\",\n  1.5,\n  0,\n  null\n]"
	key, values, err := rows.Decode([]any{raw})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T00:00:00", key)
	assert.Equal(t, []any{1.5, float64(0), nil}, values)
}

func TestDecodePositional(t *testing.T) {
	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	key, values, err := rows.Decode([]any{ts, 2.0, int64(3)})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T00:00:00", key)
	assert.Equal(t, []any{2.0, int64(3)}, values)
}

func TestDecodeRejectsEmptyAndBroken(t *testing.T) {
	_, _, err := rows.Decode(nil)
	require.Error(t, err)

	_, _, err = rows.Decode([]any{"[1, 2"})
	require.Error(t, err)
}

func TestFloat(t *testing.T) {
	cases := []struct {
		in   any
		want float64
	}{
		{nil, 0},
		{int64(4), 4},
		{"2.25", 2.25},
		{[]byte("7"), 7},
		{"", 0},
	}
	for _, c := range cases {
		got, err := rows.Float(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}

	_, err := rows.Float("abc")
	require.Error(t, err)
	_, err = rows.Float(struct{}{})
	require.Error(t, err)
}

func TestJSArray(t *testing.T) {
	row := model.ChartRow{Key: "2024-01-01T00:00:00", Values: []float64{1.5, 0}}
	assert.Equal(t, `["2024-01-01T00:00:00", 1.5, 0]`, rows.JSArray(row))

	hostile := model.ChartRow{Key: "</script>"}
	assert.NotContains(t, rows.JSArray(hostile), "</script>")
}

func TestCellsEscape(t *testing.T) {
	cells := rows.Cells([]any{"<b>", 1.25, nil, rows.Link{Href: "plans/a&b.html", Label: "plan"}})
	assert.Equal(t, []string{
		"<td>&lt;b&gt;</td>",
		"<td>1.25</td>",
		"<td></td>",
		`<td><a href="plans/a&amp;b.html">plan</a></td>`,
	}, cells)
}
