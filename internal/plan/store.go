package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mickamy/sfreport/internal/model"
)

// PlansDir is the artifact subdirectory below the report output directory.
const PlansDir = "plans"

// ArtifactStore persists rendered plan artifacts. Writing a name twice overwrites it.
type ArtifactStore interface {
	Put(name string, body []byte) error
}

// DiskStore writes artifacts under <root>/plans/.
type DiskStore struct {
	root string
}

// NewDiskStore returns a store rooted at the report output directory.
func NewDiskStore(root string) *DiskStore {
	return &DiskStore{root: root}
}

// Put writes body to <root>/plans/<name>.
func (s *DiskStore) Put(name string, body []byte) error {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("plan store: invalid artifact name %q", name)
	}
	dir := filepath.Join(s.root, PlansDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("plan store: mkdir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), body, 0o644); err != nil {
		return fmt.Errorf("plan store: write %s: %w", name, err)
	}
	return nil
}

// ArtifactName names the artifact of one (parameterized hash, plan hash) pair.
func ArtifactName(paramHash string, hash model.PlanHash) string {
	return "plan_" + sanitize(paramHash) + "_" + string(hash) + ".html"
}

func sanitize(s string) string {
	if s == "" {
		return "_"
	}
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
