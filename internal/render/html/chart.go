package html

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/mickamy/sfreport/internal/model"
	"github.com/mickamy/sfreport/internal/rows"
)

// ChartKind selects the chart drawn for a pivot table.
type ChartKind string

const (
	ChartLine ChartKind = "LineChart"
	ChartArea ChartKind = "AreaChart"
	ChartBar  ChartKind = "ColumnChart"
)

// ChartOptions configures a chart page.
type ChartOptions struct {
	Options
	Kind    ChartKind
	Stacked bool
}

type chartData struct {
	Title         string
	IncludeStyles bool
	Kind          string
	Stacked       bool
	Data          template.JS
	Empty         bool
}

var chartTemplate = template.Must(template.New("chart").Parse(chartPage))

// RenderChart writes a time-series chart page for a pivot table. The header
// row and every data row are emitted as one positional JavaScript array.
func RenderChart(w io.Writer, table *model.ChartTable, opts ChartOptions) error {
	if table == nil || len(table.Header) == 0 {
		return fmt.Errorf("html render: empty chart table")
	}
	if opts.Kind == "" {
		opts.Kind = ChartLine
	}

	header, err := json.Marshal(table.Header)
	if err != nil {
		return fmt.Errorf("html render: chart header: %w", err)
	}
	lines := make([]string, 0, len(table.Rows)+1)
	lines = append(lines, string(header))
	for i, row := range table.Rows {
		if len(row.Values) != table.Width() {
			return fmt.Errorf("html render: chart row %d has %d values, header has %d", i, len(row.Values), table.Width())
		}
		lines = append(lines, rows.JSArray(row))
	}

	data := chartData{
		Title:         opts.Title,
		IncludeStyles: opts.IncludeStyles,
		Kind:          string(opts.Kind),
		Stacked:       opts.Stacked,
		Data:          template.JS("[\n" + strings.Join(lines, ",\n") + "\n]"),
		Empty:         len(table.Rows) == 0,
	}
	if err := chartTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("html render: execute chart template: %w", err)
	}
	return nil
}

type tableData struct {
	Title         string
	IncludeStyles bool
	Header        []string
	Rows          []template.HTML
}

var tableTemplate = template.Must(template.New("table").Parse(tablePage))

// RenderTable writes a plain table page. Cells holding a rows.Link render as anchors.
func RenderTable(w io.Writer, header []string, data [][]any, opts Options) error {
	if len(header) == 0 {
		return fmt.Errorf("html render: table without header")
	}
	td := tableData{Title: opts.Title, IncludeStyles: opts.IncludeStyles, Header: header}
	for i, row := range data {
		if len(row) != len(header) {
			return fmt.Errorf("html render: table row %d has %d cells, header has %d", i, len(row), len(header))
		}
		// Cells escapes every value itself.
		td.Rows = append(td.Rows, template.HTML(strings.Join(rows.Cells(row), "")))
	}
	if err := tableTemplate.Execute(w, td); err != nil {
		return fmt.Errorf("html render: execute table template: %w", err)
	}
	return nil
}

const chartPage = `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8">
	<title>{{.Title}}</title>
	{{- if .IncludeStyles }}
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Helvetica, Arial, sans-serif; margin: 0; background: #f5f7fa; color: #1d2733; }
		header { background: #11567f; color: #fff; padding: 20px 24px; }
		header h1 { margin: 0; font-size: 20px; }
		main { padding: 24px; }
		#chart { width: 100%; height: 520px; background: #fff; }
		.empty { color: #5c6f82; }
	</style>
	{{- end }}
	<script src="https://www.gstatic.com/charts/loader.js"></script>
</head>
<body>
	<header><h1>{{.Title}}</h1></header>
	<main>
		{{- if .Empty }}
		<p class="empty">No data in the selected window.</p>
		{{- end }}
		<div id="chart"></div>
	</main>
	<script>
		const rows = {{.Data}};
		google.charts.load("current", {packages: ["corechart"]});
		google.charts.setOnLoadCallback(function () {
			const data = google.visualization.arrayToDataTable(rows);
			const chart = new google.visualization[{{.Kind}}](document.getElementById("chart"));
			chart.draw(data, {isStacked: {{.Stacked}}, legend: {position: "right"}, hAxis: {slantedText: true}});
		});
	</script>
</body>
</html>
`

const tablePage = `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8">
	<title>{{.Title}}</title>
	{{- if .IncludeStyles }}
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Helvetica, Arial, sans-serif; margin: 0; background: #f5f7fa; color: #1d2733; }
		header { background: #11567f; color: #fff; padding: 20px 24px; }
		header h1 { margin: 0; font-size: 20px; }
		main { padding: 24px; }
		table { border-collapse: collapse; width: 100%; background: #fff; font-size: 13px; }
		th, td { text-align: left; padding: 6px 10px; border-bottom: 1px solid #e3e8ee; }
	</style>
	{{- end }}
</head>
<body>
	<header><h1>{{.Title}}</h1></header>
	<main>
		<table>
			<tr>{{range .Header}}<th>{{.}}</th>{{end}}</tr>
			{{- range .Rows }}
			<tr>{{.}}</tr>
			{{- end }}
		</table>
	</main>
</body>
</html>
`
