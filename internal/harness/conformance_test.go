package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenariosDir holds the repository's conformance scenarios. Tests run from
// the package directory.
const scenariosDir = "../../testdata/scenarios"

// TestConformanceScenarios runs every scenario shipped with the repository.
// These double as the reference examples for the scenario format.
func TestConformanceScenarios(t *testing.T) {
	entries, err := os.ReadDir(scenariosDir)
	require.NoError(t, err)

	var ran int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		ran++
		name := strings.TrimSuffix(entry.Name(), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(filepath.Join(scenariosDir, entry.Name()))
			require.NoError(t, err)
			assert.Equal(t, name, scenario.Name, "scenario name matches its file")

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario %s failed:\n%s", name, strings.Join(result.Errors, "\n"))
		})
	}
	assert.GreaterOrEqual(t, ran, 10)
}
