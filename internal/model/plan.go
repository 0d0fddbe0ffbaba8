package model

import "time"

// PlanOperatorRecord is one operator row of a single execution's plan.
type PlanOperatorRecord struct {
	QueryID           string
	StepID            int
	OperatorID        int
	ParentOperatorIDs []int
	OperatorType      string
	// Statistics holds operator statistics flattened to dotted keys,
	// e.g. "spilling.bytes_spilled_local_storage".
	Statistics    map[string]any
	TimeBreakdown map[string]float64
	// Attributes carries display-only operator attributes (table_name, join condition, ...).
	Attributes map[string]any
}

// PlanHash fingerprints a plan topology. It is 16 lowercase hex digits.
type PlanHash string

// Execution is one concrete run of a parameterized query.
type Execution struct {
	QueryID           string
	ParameterizedHash string
	StartTime         time.Time
	ElapsedMs         float64
	WarehouseName     string
	UserName          string
}

// PlanShape groups the executions of one parameterized query that share a plan topology.
type PlanShape struct {
	ParameterizedHash string
	Hash              PlanHash
	// Records are the operator rows of the representative (most recent) execution.
	Records    []PlanOperatorRecord
	Executions []Execution
}

// Stat returns the numeric value of a flattened statistic, or zero when absent.
func (r PlanOperatorRecord) Stat(key string) float64 {
	switch v := r.Statistics[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

// Attribute returns a string attribute, or empty when absent.
func (r PlanOperatorRecord) Attribute(key string) string {
	if v, ok := r.Attributes[key].(string); ok {
		return v
	}
	return ""
}
