package tui

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/mickamy/sfreport/internal/analyzer"
	"github.com/mickamy/sfreport/internal/config"
	"github.com/mickamy/sfreport/internal/insight"
)

// Options controls how the TUI renderer behaves.
type Options struct {
	EnableColor  bool
	MaxDepth     int
	ShowWarnings bool
	BarWidth     int
}

// Render prints an ASCII operator tree that highlights hot operators, row explosion and spilling.
func Render(w io.Writer, analysis *analyzer.PlanAnalysis, opts Options) error {
	if w == nil {
		return errors.New("tui: writer is nil")
	}
	if analysis == nil || analysis.Root == nil {
		return errors.New("tui: empty analysis")
	}

	if opts.BarWidth <= 0 {
		opts.BarWidth = 20
	}

	_, _ = fmt.Fprintf(w, "Plan %s of %s | %d executions | mean %.1f ms\n",
		analysis.Hash, analysis.ParameterizedHash, analysis.ExecutionCount, analysis.MeanElapsedMs)
	_, _ = fmt.Fprintf(w, "Operators %d | Steps %d | Hot operators %d | Exploding joins %d",
		analysis.NodeCount, analysis.StepCount, len(analysis.HotNodes), len(analysis.ExplodingJoins))
	if analysis.TotalSpilled > 0 {
		_, _ = fmt.Fprintf(w, " | Spilled %s", analyzer.HumanizeBytes(analysis.TotalSpilled))
	}
	_, _ = fmt.Fprint(w, "\n\n")

	renderInsights(w, analysis, opts)

	_, _ = fmt.Fprintf(w, "%s\n", renderLine(analysis.Root, opts))
	printChildren(w, analysis.Root, "", opts)

	return nil
}

func printChildren(w io.Writer, parent *analyzer.NodeStats, prefix string, opts Options) {
	for i, child := range parent.Children {
		renderBranch(w, child, prefix, i == len(parent.Children)-1, opts)
	}
}

func renderBranch(w io.Writer, node *analyzer.NodeStats, prefix string, isLast bool, opts Options) {
	connector := "|-- "
	childPrefix := prefix + "|   "
	if isLast {
		connector = "`-- "
		childPrefix = prefix + "    "
	}

	line := renderLine(node, opts)
	_, _ = fmt.Fprintf(w, "%s%s%s\n", prefix, connector, line)

	if opts.MaxDepth > 0 && node.Depth >= opts.MaxDepth {
		if len(node.Children) > 0 {
			_, _ = fmt.Fprintf(w, "%s`-- ... (%d more nodes)\n", childPrefix, countDescendants(node))
		}
		return
	}

	printChildren(w, node, childPrefix, opts)
}

func renderLine(node *analyzer.NodeStats, opts Options) string {
	label := insight.NodeLabel(node)
	if node.Synthetic() {
		return fmt.Sprintf("%s | %5.1f%%", label, node.PercentInclusive*100)
	}

	share := fmt.Sprintf("%5.1f%%", node.PercentExclusive*100)

	bar := drawBar(node.PercentExclusive, opts.BarWidth)
	if opts.EnableColor {
		bar = applyColor(bar, pickColor(node.PercentExclusive))
	}

	rowInfo := ""
	if node.InputRows > 0 || node.OutputRows > 0 {
		rowInfo = fmt.Sprintf("rows %.0f -> %.0f", node.InputRows, node.OutputRows)
		if node.ExplosionFactor > 0 && !math.IsInf(node.ExplosionFactor, 0) {
			rowInfo += fmt.Sprintf(" (x%.2f)", node.ExplosionFactor)
		}
	}

	spillInfo := ""
	if node.SpilledBytes > 0 {
		spillInfo = "spill " + analyzer.HumanizeBytes(node.SpilledBytes)
	}

	pruneInfo := ""
	if node.PartitionsTotal > 0 {
		pruneInfo = fmt.Sprintf("partitions %.0f/%.0f", node.PartitionsScanned, node.PartitionsTotal)
	}

	warningText := ""
	if len(node.Warnings) > 0 {
		warningText = strings.Join(node.Warnings, "; ")
		if opts.ShowWarnings && opts.EnableColor {
			warningText = applyColor(warningText, "yellow")
		}
		warningText = " [" + warningText + "]"
	}

	parts := []string{label, share, bar}
	for _, extra := range []string{rowInfo, spillInfo, pruneInfo} {
		if extra != "" {
			parts = append(parts, extra)
		}
	}

	return strings.Join(parts, " | ") + warningText
}

func renderInsights(w io.Writer, analysis *analyzer.PlanAnalysis, opts Options) {
	messages := insight.BuildMessages(analysis)
	if len(messages) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "Insights:")
	for _, msg := range messages {
		icon := severityIcon(msg.Severity)
		_, _ = fmt.Fprintf(w, "  - %s %s\n", icon, msg.Text)
	}
	_, _ = fmt.Fprintln(w)
}

func drawBar(ratio float64, width int) string {
	if width <= 0 {
		return ""
	}
	clamped := ratio
	if clamped < 0 {
		clamped = 0
	}
	if clamped > 1 {
		clamped = 1
	}
	fill := int(math.Round(clamped * float64(width)))
	if clamped > 0 && fill == 0 {
		fill = 1
	}
	if fill > width {
		fill = width
	}
	return strings.Repeat("#", fill) + strings.Repeat("-", width-fill)
}

func pickColor(ratio float64) string {
	cfg := config.Active().Insights
	switch {
	case ratio >= cfg.HotspotCriticalPercent:
		return "red"
	case ratio >= cfg.HotspotWarningPercent:
		return "yellow"
	case ratio >= cfg.HotspotWarningPercent/2:
		return "cyan"
	default:
		return ""
	}
}

func applyColor(text, color string) string {
	code := ""
	switch color {
	case "red":
		code = "\033[31m"
	case "yellow":
		code = "\033[33m"
	case "cyan":
		code = "\033[36m"
	default:
		return text
	}
	return code + text + "\033[0m"
}

func countDescendants(node *analyzer.NodeStats) int {
	total := 0
	var walk func(*analyzer.NodeStats)
	walk = func(n *analyzer.NodeStats) {
		for _, child := range n.Children {
			total++
			walk(child)
		}
	}
	walk(node)
	return total
}

func severityIcon(sev insight.Severity) string {
	switch sev {
	case insight.SeverityCritical:
		return "🔥"
	case insight.SeverityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}
