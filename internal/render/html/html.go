package html

import (
	"fmt"
	"html/template"
	"io"
	"math"
	"strings"

	"github.com/mickamy/sfreport/internal/analyzer"
	"github.com/mickamy/sfreport/internal/diff"
	"github.com/mickamy/sfreport/internal/insight"
	"github.com/mickamy/sfreport/internal/model"
	"github.com/mickamy/sfreport/internal/plan"
	"github.com/mickamy/sfreport/internal/rows"
)

// Options configures the HTML renderer.
type Options struct {
	Title         string
	IncludeStyles bool
}

// PlanDocument is everything a plan page shows.
type PlanDocument struct {
	Analysis *analyzer.PlanAnalysis
	// Executions sharing the plan shape, newest first.
	Executions []model.Execution
	// Diff against the first shape of the same parameterized query, if any.
	Diff *diff.Report
}

var planTemplate = template.Must(template.New("plan").Funcs(template.FuncMap{"join": strings.Join}).Parse(planPage))

// RenderPlan writes a plan page: summary, insights, shape diff and the annotated operator tree.
func RenderPlan(w io.Writer, doc PlanDocument, opts Options) error {
	if doc.Analysis == nil || doc.Analysis.Root == nil {
		return fmt.Errorf("html render: empty analysis")
	}
	if opts.Title == "" {
		opts.Title = "Plan " + string(doc.Analysis.Hash)
	}
	if err := planTemplate.Execute(w, buildPlanData(doc, opts)); err != nil {
		return fmt.Errorf("html render: execute template: %w", err)
	}
	return nil
}

// PlanRenderer renders cache artifacts.
type PlanRenderer struct {
	Options Options
}

// RenderPlan analyzes the artifact's shape, diffs it against the baseline and renders it.
func (r PlanRenderer) RenderPlan(w io.Writer, artifact plan.Artifact) error {
	analysis, err := analyzer.AnalyzeShape(artifact.Shape)
	if err != nil {
		return err
	}
	doc := PlanDocument{Analysis: analysis, Executions: artifact.Shape.Executions}
	if artifact.Baseline != nil && artifact.Baseline.Hash != artifact.Shape.Hash {
		base, err := analyzer.AnalyzeShape(*artifact.Baseline)
		if err != nil {
			return fmt.Errorf("html render: baseline: %w", err)
		}
		report, err := diff.Compare(base, analysis, diff.Options{})
		if err != nil {
			return err
		}
		doc.Diff = report
	}
	opts := r.Options
	opts.Title = fmt.Sprintf("Plan %s of %s", artifact.Shape.Hash, artifact.Shape.ParameterizedHash)
	if r.Options.Title != "" {
		opts.Title = r.Options.Title + ": " + opts.Title
	}
	return RenderPlan(w, doc, opts)
}

type planData struct {
	Title         string
	IncludeStyles bool
	Summary       summaryView
	Root          *nodeView
	HotNodes      []listView
	Insights      []insightView
	Diff          *diffView
	Executions    []executionView
}

type summaryView struct {
	QueryID       string
	Hash          string
	ParamHash     string
	Executions    int
	MeanElapsed   string
	NodeCount     int
	StepCount     int
	Spilled       string
	HotCount      int
	ExplodingJoin int
}

type listView struct {
	Label  string
	Anchor string
	Share  string
	Extra  string
}

type insightView struct {
	Severity string
	Text     string
	Anchor   string
}

type diffView struct {
	Base     string
	Added    []string
	Removed  []string
	Insights []insightView
	Markdown string
}

type executionView struct {
	QueryID   string
	StartTime string
	Elapsed   string
	Warehouse string
	User      string
}

type nodeView struct {
	Label      string
	Anchor     string
	Share      string
	BarWidth   float64
	Heat       float64
	Rows       string
	Attributes string
	Warnings   []string
	Children   []*nodeView
}

func buildPlanData(doc PlanDocument, opts Options) planData {
	a := doc.Analysis
	messages := insight.BuildMessages(a)
	insights := make([]insightView, 0, len(messages))
	for _, msg := range messages {
		insights = append(insights, insightView{Severity: string(msg.Severity), Text: msg.Text, Anchor: msg.Anchor})
	}

	hot := make([]listView, 0, len(a.HotNodes))
	for _, node := range a.HotNodes {
		hot = append(hot, listView{
			Label:  insight.NodeLabel(node),
			Anchor: insight.AnchorID(node),
			Share:  fmt.Sprintf("%.1f%%", node.PercentExclusive*100),
			Extra:  formatRows(node),
		})
	}

	execs := make([]executionView, 0, len(doc.Executions))
	for _, e := range doc.Executions {
		execs = append(execs, executionView{
			QueryID:   e.QueryID,
			StartTime: rows.FormatKey(e.StartTime),
			Elapsed:   fmt.Sprintf("%.0f ms", e.ElapsedMs),
			Warehouse: e.WarehouseName,
			User:      e.UserName,
		})
	}

	data := planData{
		Title:         opts.Title,
		IncludeStyles: opts.IncludeStyles,
		Summary: summaryView{
			QueryID:       a.QueryID,
			Hash:          string(a.Hash),
			ParamHash:     a.ParameterizedHash,
			Executions:    a.ExecutionCount,
			MeanElapsed:   fmt.Sprintf("%.1f ms", a.MeanElapsedMs),
			NodeCount:     a.NodeCount,
			StepCount:     a.StepCount,
			HotCount:      len(a.HotNodes),
			ExplodingJoin: len(a.ExplodingJoins),
		},
		Root:       buildNodeView(a.Root),
		HotNodes:   hot,
		Insights:   insights,
		Executions: execs,
	}
	if a.TotalSpilled > 0 {
		data.Summary.Spilled = analyzer.HumanizeBytes(a.TotalSpilled)
	}
	if doc.Diff != nil {
		dv := &diffView{
			Base:     doc.Diff.Base,
			Added:    doc.Diff.Added,
			Removed:  doc.Diff.Removed,
			Markdown: doc.Diff.Markdown(),
		}
		for _, msg := range doc.Diff.Insights {
			dv.Insights = append(dv.Insights, insightView{Severity: msg.Severity, Text: msg.Message})
		}
		data.Diff = dv
	}
	return data
}

func buildNodeView(node *analyzer.NodeStats) *nodeView {
	view := &nodeView{
		Label:    insight.NodeLabel(node),
		Anchor:   insight.AnchorID(node),
		Share:    fmt.Sprintf("%.1f%%", node.PercentExclusive*100),
		BarWidth: math.Min(100, math.Max(0, node.PercentExclusive*100)),
		Heat:     clamp(node.PercentExclusive*2.5, 0, 1),
		Rows:     formatRows(node),
		Warnings: append([]string(nil), node.Warnings...),
	}
	if node.Synthetic() {
		view.Share = fmt.Sprintf("%.1f%%", node.PercentInclusive*100)
		view.BarWidth = 0
		view.Heat = 0
	} else {
		view.Attributes = formatAttributes(node.Record)
	}
	for _, child := range node.Children {
		view.Children = append(view.Children, buildNodeView(child))
	}
	return view
}

func formatRows(node *analyzer.NodeStats) string {
	if node.InputRows == 0 && node.OutputRows == 0 {
		return ""
	}
	if node.InputRows == 0 {
		return fmt.Sprintf("rows out %.0f", node.OutputRows)
	}
	return fmt.Sprintf("rows %.0f → %.0f (x%.2f)", node.InputRows, node.OutputRows, node.ExplosionFactor)
}

func formatAttributes(rec *model.PlanOperatorRecord) string {
	if rec == nil || len(rec.Attributes) == 0 {
		return ""
	}
	keys := []string{analyzer.AttrTableName, analyzer.AttrEqualityCondition, analyzer.AttrAdditionalCondition, "filter_condition", "grouping_keys"}
	var parts []string
	for _, k := range keys {
		v, ok := rec.Attributes[k]
		if !ok {
			continue
		}
		parts = append(parts, k+"="+insight.NormalizeWhitespace(rows.Scalar(v)))
	}
	return strings.Join(parts, "; ")
}

func clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

const planPage = `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8">
	<title>{{.Title}}</title>
	{{- if .IncludeStyles }}
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Helvetica, Arial, sans-serif; margin: 0; background: #f5f7fa; color: #1d2733; }
		header { background: #11567f; color: #fff; padding: 24px; }
		header h1 { margin: 0 0 6px; font-size: 22px; }
		header p { margin: 2px 0; opacity: 0.85; font-size: 14px; }
		main { max-width: 1040px; margin: 0 auto; padding: 24px; }
		section { margin-top: 28px; }
		h2 { font-size: 18px; margin-bottom: 10px; }
		table { border-collapse: collapse; width: 100%; background: #fff; font-size: 13px; }
		th, td { text-align: left; padding: 6px 10px; border-bottom: 1px solid #e3e8ee; }
		.tiles { display: grid; grid-template-columns: repeat(auto-fit, minmax(160px, 1fr)); gap: 10px; }
		.tile { background: #fff; border-radius: 8px; padding: 12px 14px; box-shadow: 0 2px 8px rgba(17,86,127,0.12); }
		.tile strong { display: block; font-size: 12px; text-transform: uppercase; color: #5c6f82; }
		.tile span { font-size: 17px; font-weight: 600; }
		.insights { list-style: none; padding: 0; margin: 0; }
		.insights li { background: #fff; border-left: 4px solid #c9d3dd; padding: 10px 12px; margin-bottom: 8px; font-size: 14px; }
		.insights li.severity-critical { border-color: #d93f3f; }
		.insights li.severity-warning { border-color: #f0a020; }
		.tree, .tree ul { list-style: none; margin: 0; padding: 0; }
		.tree ul { margin-left: 22px; border-left: 1px dashed #c9d3dd; padding-left: 14px; }
		.node { background: #fff; border-radius: 8px; padding: 10px 12px; margin: 8px 0; box-shadow: 0 2px 8px rgba(17,86,127,0.10); background-image: linear-gradient(90deg, rgba(217,63,63,var(--heat)) 0%, rgba(217,63,63,0) 70%); }
		.node-head { display: flex; justify-content: space-between; gap: 12px; font-size: 14px; }
		.node-head b { font-weight: 600; }
		.bar { margin-top: 6px; height: 6px; background: #e3e8ee; border-radius: 3px; overflow: hidden; }
		.bar span { display: block; height: 100%; background: #d93f3f; width: calc(var(--width) * 1%); }
		.meta { margin-top: 6px; font-size: 12px; color: #41566b; display: flex; flex-wrap: wrap; gap: 4px 14px; }
		.warn { color: #a45a00; font-weight: 600; }
		pre { background: #fff; padding: 12px; overflow-x: auto; font-size: 12px; }
	</style>
	{{- end }}
</head>
<body>
	<header>
		<h1>{{.Title}}</h1>
		<p>Parameterized hash {{.Summary.ParamHash}} · plan {{.Summary.Hash}} · representative query {{.Summary.QueryID}}</p>
		<p>{{.Summary.Executions}} executions · mean {{.Summary.MeanElapsed}}</p>
	</header>
	<main>
		<section>
			<h2>Highlights</h2>
			<div class="tiles">
				<div class="tile"><strong>Operators</strong><span>{{.Summary.NodeCount}}</span></div>
				<div class="tile"><strong>Steps</strong><span>{{.Summary.StepCount}}</span></div>
				<div class="tile"><strong>Hot operators</strong><span>{{.Summary.HotCount}}</span></div>
				<div class="tile"><strong>Exploding joins</strong><span>{{.Summary.ExplodingJoin}}</span></div>
				{{- if .Summary.Spilled }}
				<div class="tile"><strong>Spilled</strong><span>{{.Summary.Spilled}}</span></div>
				{{- end }}
			</div>
		</section>

		{{- if .Insights }}
		<section>
			<h2>Insights</h2>
			<ul class="insights">
				{{- range .Insights }}
				<li class="severity-{{.Severity}}">{{if .Anchor}}<a href="#{{.Anchor}}">{{.Text}}</a>{{else}}{{.Text}}{{end}}</li>
				{{- end }}
			</ul>
		</section>
		{{- end }}

		{{- if .HotNodes }}
		<section>
			<h2>Hot operators</h2>
			<table>
				<tr><th>Operator</th><th>Share</th><th>Rows</th></tr>
				{{- range .HotNodes }}
				<tr><td><a href="#{{.Anchor}}">{{.Label}}</a></td><td>{{.Share}}</td><td>{{.Extra}}</td></tr>
				{{- end }}
			</table>
		</section>
		{{- end }}

		{{- with .Diff }}
		<section>
			<h2>Changes since plan {{.Base}}</h2>
			<ul class="insights">
				{{- range .Insights }}
				<li class="severity-{{.Severity}}">{{.Text}}</li>
				{{- end }}
			</ul>
			<details><summary>Full diff</summary><pre>{{.Markdown}}</pre></details>
		</section>
		{{- end }}

		<section>
			<h2>Operator tree</h2>
			<ul class="tree">
				{{ template "node" .Root }}
			</ul>
		</section>

		{{- if .Executions }}
		<section>
			<h2>Executions with this plan</h2>
			<table>
				<tr><th>Query id</th><th>Start</th><th>Elapsed</th><th>Warehouse</th><th>User</th></tr>
				{{- range .Executions }}
				<tr><td>{{.QueryID}}</td><td>{{.StartTime}}</td><td>{{.Elapsed}}</td><td>{{.Warehouse}}</td><td>{{.User}}</td></tr>
				{{- end }}
			</table>
		</section>
		{{- end }}
	</main>

	{{ define "node" }}
	<li>
		<div class="node" id="{{.Anchor}}" style="--heat: {{printf "%.3f" .Heat}};">
			<div class="node-head"><b>{{.Label}}</b><span>{{.Share}}</span></div>
			{{- if .BarWidth }}
			<div class="bar"><span style="--width: {{printf "%.2f" .BarWidth}};"></span></div>
			{{- end }}
			<div class="meta">
				{{- if .Rows }}<span>{{.Rows}}</span>{{- end }}
				{{- if .Attributes }}<span>{{.Attributes}}</span>{{- end }}
				{{- if .Warnings }}<span class="warn">{{ join .Warnings "; " }}</span>{{- end }}
			</div>
		</div>
		{{- if .Children }}
		<ul>
			{{- range .Children }}
				{{ template "node" . }}
			{{- end }}
		</ul>
		{{- end }}
	</li>
	{{ end }}
</body>
</html>
`
