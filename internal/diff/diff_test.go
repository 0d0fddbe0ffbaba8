package diff_test

import (
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/mickamy/sfreport/internal/analyzer"
	"github.com/mickamy/sfreport/internal/diff"
	"github.com/mickamy/sfreport/internal/model"
	"github.com/mickamy/sfreport/test"
)

func analyzeSample(t *testing.T, queryID string, elapsed float64) *analyzer.PlanAnalysis {
	t.Helper()
	shape := model.PlanShape{
		ParameterizedHash: "Q1",
		Hash:              model.PlanHash(queryID[len(queryID)-4:]),
		Records:           test.LoadSampleExecution(t, "operator_stats.json", queryID),
		Executions:        []model.Execution{{QueryID: queryID, ElapsedMs: elapsed}},
	}
	analysis, err := analyzer.AnalyzeShape(shape)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	return analysis
}

func TestCompareSamplesAndJSON(t *testing.T) {
	base := analyzeSample(t, "01b2c3d4-0000-0001", 1200)
	target := analyzeSample(t, "01b2c3d4-0000-0003", 1800)

	report, err := diff.Compare(base, target, diff.Options{MinShareDelta: 0.01})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if !report.Changed() || len(report.Added) != 1 || report.Added[0] != "Filter" {
		t.Fatalf("expected Filter to be added, got %+v", report.Added)
	}
	if len(report.Removed) != 0 {
		t.Fatalf("expected nothing removed, got %+v", report.Removed)
	}
	if len(report.Regressions) != 1 || report.Regressions[0].Signature != "Filter" {
		t.Fatalf("expected Filter share regression, got %+v", report.Regressions)
	}
	if report.Summary.DeltaElapsedMs != 600 || report.Summary.PercentElapsed != 50 {
		t.Fatalf("unexpected summary: %+v", report.Summary)
	}

	md := report.Markdown()
	if !strings.Contains(md, "### Added operators\n- Filter") {
		t.Fatalf("expected added operators in markdown:\n%s", md)
	}

	jsonOut, err := report.JSON()
	if err != nil {
		t.Fatalf("json marshal: %v", err)
	}
	if got := gjson.GetBytes(jsonOut, "summary.target_operators").Int(); got != 6 {
		t.Fatalf("expected 6 target operators in json, got %d", got)
	}
	if got := gjson.GetBytes(jsonOut, "added.0").String(); got != "Filter" {
		t.Fatalf("expected added operator in json, got %q", got)
	}
}

func TestCompareIdenticalShapes(t *testing.T) {
	base := analyzeSample(t, "01b2c3d4-0000-0001", 1000)
	target := analyzeSample(t, "01b2c3d4-0000-0002", 1000)

	report, err := diff.Compare(base, target, diff.Options{})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if report.Changed() || len(report.Regressions) != 0 || len(report.Improvements) != 0 {
		t.Fatalf("expected no differences, got %+v", report)
	}
}

func TestCompareMissingAnalysis(t *testing.T) {
	if _, err := diff.Compare(nil, nil, diff.Options{}); err == nil {
		t.Fatalf("expected error for missing analyses")
	}
}
