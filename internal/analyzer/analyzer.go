package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mickamy/sfreport/internal/model"
)

// Statistic keys of GET_QUERY_OPERATOR_STATS after flattening.
const (
	StatInputRows           = "input_rows"
	StatOutputRows          = "output_rows"
	StatSpilledLocal        = "spilling.bytes_spilled_local_storage"
	StatSpilledRemote       = "spilling.bytes_spilled_remote_storage"
	StatPartitionsScanned   = "pruning.partitions_scanned"
	StatPartitionsTotal     = "pruning.partitions_total"
	StatBytesScanned        = "io.bytes_scanned"
	BreakdownOverallShare   = "overall_percentage"
	AttrTableName           = "table_name"
	AttrJoinType            = "join_type"
	AttrEqualityCondition   = "equality_join_condition"
	AttrAdditionalCondition = "additional_join_condition"
)

// PlanAnalysis contains derived metrics for one execution's plan.
type PlanAnalysis struct {
	ParameterizedHash string
	Hash              model.PlanHash
	QueryID           string
	// Root is synthetic; its children are one synthetic node per step.
	Root           *NodeStats
	NodeCount      int
	StepCount      int
	ExecutionCount int
	MeanElapsedMs  float64
	TotalSpilled   float64
	HotNodes       []*NodeStats
	ExplodingJoins []*NodeStats
	Spilling       []*NodeStats
	PoorPruning    []*NodeStats
}

// NodeStats augments an operator record with computed statistics.
type NodeStats struct {
	Record *model.PlanOperatorRecord
	// Label is set on synthetic nodes.
	Label             string
	Depth             int
	Parent            *NodeStats
	PercentExclusive  float64
	PercentInclusive  float64
	InputRows         float64
	OutputRows        float64
	ExplosionFactor   float64
	SpilledBytes      float64
	BytesScanned      float64
	PartitionsScanned float64
	PartitionsTotal   float64
	// PruningRatio is scanned/total partitions; zero when nothing was scanned.
	PruningRatio float64
	Warnings     []string
	Children     []*NodeStats
}

// Synthetic reports whether the node stands for the query or a step rather than an operator.
func (n *NodeStats) Synthetic() bool {
	return n.Record == nil
}

// OperatorType returns the record's operator type, or the synthetic label.
func (n *NodeStats) OperatorType() string {
	if n.Record == nil {
		return n.Label
	}
	return n.Record.OperatorType
}

// Analyze derives metrics for the records of one execution.
func Analyze(records []model.PlanOperatorRecord) (*PlanAnalysis, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("analyze: no operator records")
	}
	queryID := records[0].QueryID
	for _, r := range records[1:] {
		if r.QueryID != queryID {
			return nil, fmt.Errorf("analyze: records span executions %s and %s", queryID, r.QueryID)
		}
	}

	root := &NodeStats{Label: "Query " + queryID}
	steps := buildSteps(records, root)
	root.Children = steps

	annotateInclusive(root)
	all := flatten(root)
	operators := make([]*NodeStats, 0, len(all))
	var spilled float64
	for _, n := range all {
		if n.Synthetic() {
			continue
		}
		operators = append(operators, n)
		spilled += n.SpilledBytes
	}

	return &PlanAnalysis{
		QueryID:        queryID,
		Root:           root,
		NodeCount:      len(operators),
		StepCount:      len(steps),
		TotalSpilled:   spilled,
		HotNodes:       selectHotNodes(operators),
		ExplodingJoins: selectExplodingJoins(operators),
		Spilling:       selectSpilling(operators),
		PoorPruning:    selectPoorPruning(operators),
	}, nil
}

// AnalyzeShape analyzes the representative execution of a plan shape and
// attaches the shape's execution summary.
func AnalyzeShape(shape model.PlanShape) (*PlanAnalysis, error) {
	analysis, err := Analyze(shape.Records)
	if err != nil {
		return nil, err
	}
	analysis.ParameterizedHash = shape.ParameterizedHash
	analysis.Hash = shape.Hash
	analysis.ExecutionCount = len(shape.Executions)
	if n := len(shape.Executions); n > 0 {
		var total float64
		for _, e := range shape.Executions {
			total += e.ElapsedMs
		}
		analysis.MeanElapsedMs = total / float64(n)
	}
	return analysis, nil
}

func buildSteps(records []model.PlanOperatorRecord, root *NodeStats) []*NodeStats {
	byStep := map[int][]*NodeStats{}
	var stepIDs []int
	for i := range records {
		rec := &records[i]
		if _, ok := byStep[rec.StepID]; !ok {
			stepIDs = append(stepIDs, rec.StepID)
		}
		byStep[rec.StepID] = append(byStep[rec.StepID], buildStats(rec))
	}
	sort.Ints(stepIDs)

	steps := make([]*NodeStats, 0, len(stepIDs))
	for _, id := range stepIDs {
		step := &NodeStats{Label: fmt.Sprintf("Step %d", id), Parent: root, Depth: 1}
		nodes := byStep[id]
		sort.SliceStable(nodes, func(i, j int) bool {
			return nodes[i].Record.OperatorID < nodes[j].Record.OperatorID
		})
		byOperator := make(map[int]*NodeStats, len(nodes))
		for _, n := range nodes {
			byOperator[n.Record.OperatorID] = n
		}
		for _, n := range nodes {
			parent := step
			// operators with several parents hang under the first one
			if ids := n.Record.ParentOperatorIDs; len(ids) > 0 {
				if p, ok := byOperator[ids[0]]; ok && p != n {
					parent = p
				}
			}
			n.Parent = parent
			parent.Children = append(parent.Children, n)
		}
		setDepth(step, 1)
		steps = append(steps, step)
	}
	return steps
}

func buildStats(rec *model.PlanOperatorRecord) *NodeStats {
	share := rec.TimeBreakdown[BreakdownOverallShare]
	if share > 1 {
		// reported as a percentage rather than a fraction
		share /= 100
	}
	stats := &NodeStats{
		Record:            rec,
		PercentExclusive:  share,
		InputRows:         rec.Stat(StatInputRows),
		OutputRows:        rec.Stat(StatOutputRows),
		SpilledBytes:      rec.Stat(StatSpilledLocal) + rec.Stat(StatSpilledRemote),
		BytesScanned:      rec.Stat(StatBytesScanned),
		PartitionsScanned: rec.Stat(StatPartitionsScanned),
		PartitionsTotal:   rec.Stat(StatPartitionsTotal),
	}
	if stats.InputRows > 0 {
		stats.ExplosionFactor = stats.OutputRows / stats.InputRows
	}
	if stats.PartitionsTotal > 0 {
		stats.PruningRatio = stats.PartitionsScanned / stats.PartitionsTotal
	}
	stats.Warnings = deriveWarnings(stats)
	return stats
}

func setDepth(n *NodeStats, depth int) {
	n.Depth = depth
	for _, child := range n.Children {
		setDepth(child, depth+1)
	}
}

func annotateInclusive(node *NodeStats) float64 {
	total := node.PercentExclusive
	for _, child := range node.Children {
		total += annotateInclusive(child)
	}
	node.PercentInclusive = total
	return total
}

func flatten(root *NodeStats) []*NodeStats {
	var out []*NodeStats
	var walk func(*NodeStats)
	walk = func(n *NodeStats) {
		out = append(out, n)
		for _, child := range n.Children {
			walk(child)
		}
	}
	walk(root)
	return out
}

func selectHotNodes(nodes []*NodeStats) []*NodeStats {
	candidates := make([]*NodeStats, 0, len(nodes))
	for _, n := range nodes {
		if n.PercentExclusive > 0 {
			candidates = append(candidates, n)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].PercentExclusive > candidates[j].PercentExclusive
	})

	limit := min(5, len(candidates))
	cutoff := 0.10

	var out []*NodeStats
	for _, candidate := range candidates[:limit] {
		if candidate.PercentExclusive < cutoff {
			break
		}
		out = append(out, candidate)
	}
	if len(out) == 0 && len(candidates) > 0 {
		out = candidates[:limit]
	}
	return out
}

func selectExplodingJoins(nodes []*NodeStats) []*NodeStats {
	var out []*NodeStats
	for _, n := range nodes {
		if isJoin(n.OperatorType()) && n.ExplosionFactor > 1 {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExplosionFactor > out[j].ExplosionFactor
	})
	return out
}

func selectSpilling(nodes []*NodeStats) []*NodeStats {
	var out []*NodeStats
	for _, n := range nodes {
		if n.SpilledBytes > 0 {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SpilledBytes > out[j].SpilledBytes
	})
	return out
}

func selectPoorPruning(nodes []*NodeStats) []*NodeStats {
	var out []*NodeStats
	for _, n := range nodes {
		if n.PartitionsTotal > 0 && n.PruningRatio >= 0.5 {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PartitionsScanned > out[j].PartitionsScanned
	})
	return out
}

func isJoin(operatorType string) bool {
	return strings.Contains(operatorType, "Join")
}

func deriveWarnings(stats *NodeStats) []string {
	var warnings []string
	if stats.PercentExclusive >= 0.20 {
		warnings = append(warnings, fmt.Sprintf("%.1f%% of query time", stats.PercentExclusive*100))
	}
	if isJoin(stats.OperatorType()) && stats.ExplosionFactor >= 2 {
		warnings = append(warnings, fmt.Sprintf("output %.1fx input rows", stats.ExplosionFactor))
	}
	if stats.SpilledBytes > 0 {
		warnings = append(warnings, "spilled "+HumanizeBytes(stats.SpilledBytes))
	}
	if stats.PartitionsTotal > 0 && stats.PruningRatio >= 0.80 {
		warnings = append(warnings, fmt.Sprintf("scanned %.0f of %.0f partitions", stats.PartitionsScanned, stats.PartitionsTotal))
	}
	return warnings
}

// HumanizeBytes renders a byte count with binary units.
func HumanizeBytes(bytes float64) string {
	switch {
	case bytes >= 1<<40:
		return fmt.Sprintf("%.2f TiB", bytes/(1<<40))
	case bytes >= 1<<30:
		return fmt.Sprintf("%.2f GiB", bytes/(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.2f MiB", bytes/(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.2f KiB", bytes/(1<<10))
	default:
		return fmt.Sprintf("%.0f B", bytes)
	}
}
