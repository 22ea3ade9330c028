package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadRepoScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join(scenariosDir, name+".yaml"))
	require.NoError(t, err)
	return scenario
}

func TestRunWithGolden_AcceptedGraph(t *testing.T) {
	// Regenerate with: go test ./internal/harness -run TestRunWithGolden -update
	result, err := RunWithGolden(t, loadRepoScenario(t, "matmul_region"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRunWithGolden_RejectedGraph(t *testing.T) {
	result, err := RunWithGolden(t, loadRepoScenario(t, "unclosed_region"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestSnapshot_Header(t *testing.T) {
	result, err := Run(&Scenario{Name: "snap", Description: "d", Source: matmulSource, Expect: &ExpectClause{Status: StatusOK}})
	require.NoError(t, err)

	snap := string(Snapshot("snap", result))
	assert.Contains(t, snap, "scenario: snap\nstatus: ok\ncasts: 2\ngraph mm_graph(")
	assert.Contains(t, snap, "= mm(%")
	assert.NotContains(t, snap, "diagnostic:")
}

func TestSnapshot_RejectedOmitsPositions(t *testing.T) {
	result, err := Run(&Scenario{
		Name: "snap", Description: "d", Source: matmulSource, Graph: "unclosed",
		Expect: &ExpectClause{Status: StatusRejected},
	})
	require.NoError(t, err)

	snap := string(Snapshot("snap", result))
	assert.Contains(t, snap, "status: rejected\ndiagnostic: E204 UnsupportedRegionNesting\n")
	assert.NotContains(t, snap, "snap.cue")
	assert.NotContains(t, snap, "casts:")
}
