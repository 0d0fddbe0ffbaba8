package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/sfreport/test"
)

func TestShapesFromFixture(t *testing.T) {
	path := filepath.Join(test.RootPath(t), "samples", "operator_stats.json")

	shapes, err := shapesFromFixture("Q1", path)
	require.NoError(t, err)
	require.Len(t, shapes, 2)

	// newest first: the variant plan of -0003, then the shared plan of -0002 and -0001
	assert.Equal(t, "01b2c3d4-0000-0003", shapes[0].Executions[0].QueryID)
	require.Len(t, shapes[1].Executions, 2)
	assert.Equal(t, "01b2c3d4-0000-0002", shapes[1].Records[0].QueryID)

	picked, err := pickShape(shapes, string(shapes[1].Hash), nil)
	require.NoError(t, err)
	assert.Same(t, shapes[1], picked)

	_, err = pickShape(shapes, "ffffffffffffffff", nil)
	assert.Error(t, err)
}

func TestShapesFromFixtureMissingFile(t *testing.T) {
	_, err := shapesFromFixture("Q1", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
