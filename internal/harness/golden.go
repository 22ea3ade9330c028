package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/ampc/internal/ir"
)

// Snapshot renders the deterministic dump of a run compared against golden
// files: a short header with the outcome, then the printed graph.
//
//	scenario: matmul_region
//	status: ok
//	casts: 3
//	graph matmul_region(...):
//	  ...
//
// A rejected run records the diagnostic code and kind instead of the cast
// count. Positions and messages are left out so dumps do not depend on
// where the program file lives.
func Snapshot(name string, result *Result) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "scenario: %s\n", name)
	fmt.Fprintf(&sb, "status: %s\n", result.Status)
	if result.Diagnostic != nil {
		fmt.Fprintf(&sb, "diagnostic: %s %s\n", result.Diagnostic.Code(), result.Diagnostic.Kind)
	} else {
		fmt.Fprintf(&sb, "casts: %d\n", len(result.Casts))
	}
	if result.Graph != nil {
		ir.Fprint(&sb, result.Graph)
	}
	return []byte(sb.String())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the scenario could not run. A snapshot mismatch fails
// t through goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Snapshot(name, result))
}
