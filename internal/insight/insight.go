package insight

import (
	"fmt"
	"strings"

	"github.com/mickamy/sfreport/internal/analyzer"
	"github.com/mickamy/sfreport/internal/config"
)

// Severity expresses the urgency of an insight message.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Message represents an actionable observation about a plan.
type Message struct {
	Severity Severity
	Text     string
	Anchor   string
}

// BuildMessages derives human-readable insight messages for a plan.
func BuildMessages(analysis *analyzer.PlanAnalysis) []Message {
	if analysis == nil {
		return nil
	}
	var out []Message

	if msg := hotspotMessage(analysis); msg != nil {
		out = append(out, *msg)
	}
	out = append(out, explodingJoinMessages(analysis)...)
	out = append(out, spillMessages(analysis)...)
	out = append(out, pruningMessages(analysis)...)
	return out
}

func hotspotMessage(analysis *analyzer.PlanAnalysis) *Message {
	if len(analysis.HotNodes) == 0 {
		return nil
	}
	hot := analysis.HotNodes[0]
	text := fmt.Sprintf("Hot spot: %s takes %.1f%% of query time", CompactLabel(hot), hot.PercentExclusive*100)
	if hot.BytesScanned > 0 {
		text += fmt.Sprintf(", scanned %s", analyzer.HumanizeBytes(hot.BytesScanned))
	}
	if strings.Contains(hot.OperatorType(), "TableScan") && hot.PruningRatio >= config.Active().Insights.PruningWarnRatio {
		text += "; consider a clustering key or a more selective filter"
	}
	return &Message{Severity: severityForHotspot(hot), Text: text, Anchor: AnchorID(hot)}
}

func severityForHotspot(node *analyzer.NodeStats) Severity {
	if node == nil {
		return SeverityInfo
	}
	cfg := config.Active().Insights
	switch {
	case node.PercentExclusive >= cfg.HotspotCriticalPercent:
		return SeverityCritical
	case node.PercentExclusive >= cfg.HotspotWarningPercent:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func explodingJoinMessages(analysis *analyzer.PlanAnalysis) []Message {
	cfg := config.Active().Insights
	var msgs []Message
	for _, node := range analysis.ExplodingJoins {
		if len(msgs) >= 2 {
			break
		}
		if node.ExplosionFactor < cfg.ExplodingJoinFactor {
			continue
		}
		text := fmt.Sprintf("Exploding join: %s returns %.0f rows from %.0f (x%.1f)",
			CompactLabel(node), node.OutputRows, node.InputRows, node.ExplosionFactor)
		if cond := node.Record.Attribute(analyzer.AttrEqualityCondition); cond != "" {
			text += "; check " + NormalizeWhitespace(cond)
		}
		severity := SeverityWarning
		if node.ExplosionFactor >= cfg.ExplodingJoinFactor*10 {
			severity = SeverityCritical
		}
		msgs = append(msgs, Message{Severity: severity, Text: text, Anchor: AnchorID(node)})
	}
	return msgs
}

func spillMessages(analysis *analyzer.PlanAnalysis) []Message {
	cfg := config.Active().Insights
	var msgs []Message
	for _, node := range analysis.Spilling {
		if len(msgs) >= 2 {
			break
		}
		remote := node.Record.Stat(analyzer.StatSpilledRemote)
		where := "local storage"
		if remote > 0 {
			where = "remote storage"
		}
		text := fmt.Sprintf("%s spilled %s to %s; consider a larger warehouse or reducing the rows it processes",
			CompactLabel(node), analyzer.HumanizeBytes(node.SpilledBytes), where)
		severity := SeverityInfo
		switch {
		case node.SpilledBytes >= cfg.SpillCriticalBytes || remote > 0:
			severity = SeverityCritical
		case node.SpilledBytes >= cfg.SpillWarningBytes:
			severity = SeverityWarning
		}
		msgs = append(msgs, Message{Severity: severity, Text: text, Anchor: AnchorID(node)})
	}
	return msgs
}

func pruningMessages(analysis *analyzer.PlanAnalysis) []Message {
	cfg := config.Active().Insights
	var msgs []Message
	for _, node := range analysis.PoorPruning {
		if len(msgs) >= 2 {
			break
		}
		if node.PartitionsTotal < cfg.PruningMinPartitions || node.PruningRatio < cfg.PruningWarnRatio {
			continue
		}
		text := fmt.Sprintf("Weak pruning: %s scanned %.0f of %.0f partitions (%.0f%%)",
			CompactLabel(node), node.PartitionsScanned, node.PartitionsTotal, node.PruningRatio*100)
		msgs = append(msgs, Message{Severity: SeverityWarning, Text: text, Anchor: AnchorID(node)})
	}
	return msgs
}

// NodeLabel builds a descriptive label for a plan node.
func NodeLabel(node *analyzer.NodeStats) string {
	if node == nil {
		return ""
	}
	if node.Synthetic() {
		return node.Label
	}
	label := fmt.Sprintf("[%d] %s", node.Record.OperatorID, node.Record.OperatorType)
	if table := node.Record.Attribute(analyzer.AttrTableName); table != "" {
		label += " " + table
	} else if join := node.Record.Attribute(analyzer.AttrJoinType); join != "" {
		label += " " + join
	}
	return label
}

// CompactLabel shortens long labels for inline summaries.
func CompactLabel(node *analyzer.NodeStats) string {
	label := NodeLabel(node)
	if len(label) > 60 {
		return label[:57] + "..."
	}
	return label
}

// NormalizeWhitespace collapses whitespace for use in HTML or text.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// AnchorID is a stable element id for a node.
func AnchorID(node *analyzer.NodeStats) string {
	if node == nil {
		return ""
	}
	if node.Synthetic() {
		return strings.ToLower(strings.ReplaceAll(node.Label, " ", "-"))
	}
	return fmt.Sprintf("op-%d-%d", node.Record.StepID, node.Record.OperatorID)
}
