package test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mickamy/sfreport/internal/model"
	"github.com/mickamy/sfreport/internal/parser"
)

var (
	rootPath string
	once     sync.Once
)

// RootPath resolves the repository root (where go.mod resides).
func RootPath(t *testing.T) string {
	t.Helper()
	once.Do(func() {
		wd, err := os.Getwd()
		if err != nil {
			t.Fatalf("getwd: %v", err)
		}
		for {
			if _, err := os.Stat(filepath.Join(wd, "go.mod")); err == nil {
				rootPath = wd
				break
			}
			next := filepath.Dir(wd)
			if next == wd {
				t.Fatalf("go.mod not found from %s", wd)
			}
			wd = next
		}
	})
	return rootPath
}

// LoadSampleRecords parses an operator-stats fixture under samples/.
func LoadSampleRecords(t *testing.T, rel string) []model.PlanOperatorRecord {
	t.Helper()
	f, err := os.Open(filepath.Join(RootPath(t), "samples", rel))
	if err != nil {
		t.Fatalf("open sample: %v", err)
	}
	defer func() { _ = f.Close() }()

	records, err := parser.ParseJSON(f)
	if err != nil {
		t.Fatalf("parse sample: %v", err)
	}
	return records
}

// LoadSampleExecution returns the records of one execution from a fixture.
func LoadSampleExecution(t *testing.T, rel, queryID string) []model.PlanOperatorRecord {
	t.Helper()
	var out []model.PlanOperatorRecord
	for _, r := range LoadSampleRecords(t, rel) {
		if r.QueryID == queryID {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		t.Fatalf("no records for %s in %s", queryID, rel)
	}
	return out
}
