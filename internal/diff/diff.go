package diff

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mickamy/sfreport/internal/analyzer"
	"github.com/mickamy/sfreport/internal/config"
)

// Options configures the diff sensitivity.
type Options struct {
	MinShareDelta float64
	MaxItems      int
}

// Report summarises how a plan shape differs from a baseline shape of the
// same parameterized query.
type Report struct {
	Base         string           `json:"base"`
	Target       string           `json:"target"`
	Summary      SummaryDiff      `json:"summary"`
	Added        []string         `json:"added"`
	Removed      []string         `json:"removed"`
	Regressions  []Entry          `json:"regressions"`
	Improvements []Entry          `json:"improvements"`
	Insights     []insightMessage `json:"insights"`
	Options      Options          `json:"-"`
}

// SummaryDiff covers execution-level differences.
type SummaryDiff struct {
	BaseElapsedMs    float64 `json:"base_elapsed_ms"`
	TargetElapsedMs  float64 `json:"target_elapsed_ms"`
	DeltaElapsedMs   float64 `json:"delta_elapsed_ms"`
	PercentElapsed   float64 `json:"percent_elapsed"`
	BaseOperators    int     `json:"base_operators"`
	TargetOperators  int     `json:"target_operators"`
	BaseExecutions   int     `json:"base_executions"`
	TargetExecutions int     `json:"target_executions"`
}

// Entry captures the delta for operators sharing a signature.
type Entry struct {
	Signature     string  `json:"signature"`
	BaseCount     int     `json:"base_count"`
	TargetCount   int     `json:"target_count"`
	BaseShare     float64 `json:"base_share"`
	TargetShare   float64 `json:"target_share"`
	DeltaShare    float64 `json:"delta_share"`
	BaseRows      float64 `json:"base_rows"`
	TargetRows    float64 `json:"target_rows"`
	BaseSpilled   float64 `json:"base_spilled"`
	TargetSpilled float64 `json:"target_spilled"`
}

type insightMessage struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Compare builds a diff report between two shapes.
func Compare(base, target *analyzer.PlanAnalysis, opts Options) (*Report, error) {
	if base == nil || base.Root == nil {
		return nil, fmt.Errorf("diff: base analysis missing")
	}
	if target == nil || target.Root == nil {
		return nil, fmt.Errorf("diff: target analysis missing")
	}
	opts = applyDefaults(opts)

	baseAgg := aggregate(base.Root)
	targetAgg := aggregate(target.Root)

	report := &Report{
		Base:   string(base.Hash),
		Target: string(target.Hash),
		Summary: SummaryDiff{
			BaseElapsedMs:    base.MeanElapsedMs,
			TargetElapsedMs:  target.MeanElapsedMs,
			DeltaElapsedMs:   target.MeanElapsedMs - base.MeanElapsedMs,
			PercentElapsed:   percentChange(base.MeanElapsedMs, target.MeanElapsedMs),
			BaseOperators:    base.NodeCount,
			TargetOperators:  target.NodeCount,
			BaseExecutions:   base.ExecutionCount,
			TargetExecutions: target.ExecutionCount,
		},
		Options: opts,
	}

	for _, sig := range unionKeys(baseAgg, targetAgg) {
		b, inBase := baseAgg[sig]
		t, inTarget := targetAgg[sig]
		switch {
		case !inBase:
			report.Added = append(report.Added, sig)
		case !inTarget:
			report.Removed = append(report.Removed, sig)
		}

		entry := buildEntry(sig, b, t)
		if entry.DeltaShare >= opts.MinShareDelta {
			report.Regressions = append(report.Regressions, entry)
		} else if entry.DeltaShare <= -opts.MinShareDelta {
			report.Improvements = append(report.Improvements, entry)
		}
	}

	sort.SliceStable(report.Regressions, func(i, j int) bool {
		return report.Regressions[i].DeltaShare > report.Regressions[j].DeltaShare
	})
	sort.SliceStable(report.Improvements, func(i, j int) bool {
		return report.Improvements[i].DeltaShare < report.Improvements[j].DeltaShare
	})
	if len(report.Regressions) > opts.MaxItems {
		report.Regressions = report.Regressions[:opts.MaxItems]
	}
	if len(report.Improvements) > opts.MaxItems {
		report.Improvements = report.Improvements[:opts.MaxItems]
	}

	report.Insights = synthesizeInsights(report)
	return report, nil
}

// Changed reports whether the shapes differ in operators at all.
func (r *Report) Changed() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0
}

// Markdown renders the report as a Markdown document.
func (r *Report) Markdown() string {
	var b strings.Builder
	_, _ = fmt.Fprintf(&b, "# plan diff %s → %s\n\n", r.Base, r.Target)
	b.WriteString("## Summary\n")
	_, _ = fmt.Fprintf(&b, "- Mean elapsed: %.1f ms → %.1f ms (%+.1f ms, %+.1f%%)\n",
		r.Summary.BaseElapsedMs, r.Summary.TargetElapsedMs,
		r.Summary.DeltaElapsedMs, r.Summary.PercentElapsed)
	_, _ = fmt.Fprintf(&b, "- Operators: %d → %d\n", r.Summary.BaseOperators, r.Summary.TargetOperators)
	_, _ = fmt.Fprintf(&b, "- Executions: %d → %d\n\n", r.Summary.BaseExecutions, r.Summary.TargetExecutions)

	b.WriteString("### Insights\n")
	if len(r.Insights) == 0 {
		b.WriteString("- No notable plan changes detected\n")
	} else {
		for _, insight := range r.Insights {
			_, _ = fmt.Fprintf(&b, "- [%s] %s\n", insight.Severity, insight.Message)
		}
	}

	writeList(&b, "Added operators", r.Added)
	writeList(&b, "Removed operators", r.Removed)
	writeTable(&b, "Regressions", r.Regressions)
	writeTable(&b, "Improvements", r.Improvements)
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	_, _ = fmt.Fprintf(b, "\n### %s\n", title)
	if len(items) == 0 {
		b.WriteString("- None\n")
		return
	}
	for _, item := range items {
		_, _ = fmt.Fprintf(b, "- %s\n", item)
	}
}

func writeTable(b *strings.Builder, title string, entries []Entry) {
	_, _ = fmt.Fprintf(b, "\n### %s\n", title)
	if len(entries) == 0 {
		b.WriteString("- None above threshold\n")
		return
	}
	b.WriteString("| Operator | Base share | Target share | Δ share | Rows | Spilled |\n")
	b.WriteString("|---|---:|---:|---:|---|---|\n")
	for _, e := range entries {
		_, _ = fmt.Fprintf(b, "| %s | %.1f%% | %.1f%% | %+.1f pts | %.0f → %.0f | %s → %s |\n",
			e.Signature,
			e.BaseShare*100,
			e.TargetShare*100,
			e.DeltaShare*100,
			e.BaseRows, e.TargetRows,
			analyzer.HumanizeBytes(e.BaseSpilled), analyzer.HumanizeBytes(e.TargetSpilled))
	}
}

// JSON marshals the diff report into an indented JSON document.
func (r *Report) JSON() ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("nil report")
	}
	type alias Report
	return json.MarshalIndent((*alias)(r), "", "  ")
}

func synthesizeInsights(r *Report) []insightMessage {
	cfg := config.Active().Diff
	var insights []insightMessage
	maxItems := 3

	for _, sig := range r.Added {
		insights = append(insights, insightMessage{Severity: "info", Message: "new operator " + sig})
	}
	for i, entry := range r.Regressions {
		if i >= maxItems {
			break
		}
		text := fmt.Sprintf("%s share %+.1f pts (%.1f%% → %.1f%%)",
			entry.Signature, entry.DeltaShare*100, entry.BaseShare*100, entry.TargetShare*100)
		if entry.BaseSpilled == 0 && entry.TargetSpilled > 0 {
			text += ", began spilling " + analyzer.HumanizeBytes(entry.TargetSpilled)
		}
		level := "info"
		switch {
		case entry.DeltaShare >= cfg.CriticalShareDelta:
			level = "critical"
		case entry.DeltaShare >= cfg.WarningShareDelta:
			level = "warning"
		}
		insights = append(insights, insightMessage{Severity: level, Message: text})
	}
	for i, entry := range r.Improvements {
		if i >= maxItems {
			break
		}
		text := fmt.Sprintf("%s share %+.1f pts", entry.Signature, entry.DeltaShare*100)
		insights = append(insights, insightMessage{Severity: "improvement", Message: text})
	}
	return insights
}

type aggregated struct {
	Count   int
	Share   float64
	Rows    float64
	Spilled float64
}

func aggregate(root *analyzer.NodeStats) map[string]aggregated {
	result := map[string]aggregated{}
	var walk func(*analyzer.NodeStats)
	walk = func(n *analyzer.NodeStats) {
		if !n.Synthetic() {
			sig := signature(n)
			entry := result[sig]
			entry.Count++
			entry.Share += n.PercentExclusive
			entry.Rows += n.OutputRows
			entry.Spilled += n.SpilledBytes
			result[sig] = entry
		}
		for _, child := range n.Children {
			walk(child)
		}
	}
	walk(root)
	return result
}

func signature(node *analyzer.NodeStats) string {
	parts := []string{node.Record.OperatorType}
	if table := node.Record.Attribute(analyzer.AttrTableName); table != "" {
		parts = append(parts, table)
	}
	if join := node.Record.Attribute(analyzer.AttrJoinType); join != "" {
		parts = append(parts, join)
	}
	return strings.Join(parts, " · ")
}

func unionKeys(base, target map[string]aggregated) []string {
	seen := map[string]struct{}{}
	for k := range base {
		seen[k] = struct{}{}
	}
	for k := range target {
		seen[k] = struct{}{}
	}
	all := make([]string, 0, len(seen))
	for k := range seen {
		all = append(all, k)
	}
	sort.Strings(all)
	return all
}

func buildEntry(sig string, base, target aggregated) Entry {
	return Entry{
		Signature:     sig,
		BaseCount:     base.Count,
		TargetCount:   target.Count,
		BaseShare:     base.Share,
		TargetShare:   target.Share,
		DeltaShare:    target.Share - base.Share,
		BaseRows:      base.Rows,
		TargetRows:    target.Rows,
		BaseSpilled:   base.Spilled,
		TargetSpilled: target.Spilled,
	}
}

func percentChange(base, target float64) float64 {
	const eps = 1e-9
	if math.Abs(base) <= eps {
		if math.Abs(target) <= eps {
			return 0
		}
		if target > 0 {
			return 100
		}
		return -100
	}
	return (target - base) / base * 100
}

func applyDefaults(opts Options) Options {
	cfg := config.Active().Diff
	if opts.MinShareDelta <= 0 {
		opts.MinShareDelta = cfg.MinShareDelta
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = cfg.MaxItems
	}
	return opts
}
