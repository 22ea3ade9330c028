package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeProgram creates a placeholder program file for path validation.
func writeProgram(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("graphs: {}"), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	writeProgram(t, dir, "programs/matmul.cue")
	scenarioPath := filepath.Join(dir, "matmul.yaml")

	content := `
name: matmul
description: "mm runs in float16"
program: programs/matmul.cue
graph: matmul_region
assertions:
  - type: dtype
    value: e
    dtype: float16
  - type: cast
    op: mm
    input: 1
    to: half
`
	require.NoError(t, os.WriteFile(scenarioPath, []byte(content), 0644))

	scenario, err := LoadScenario(scenarioPath)
	require.NoError(t, err)

	assert.Equal(t, "matmul", scenario.Name)
	assert.Equal(t, filepath.Join(dir, "programs/matmul.cue"), scenario.Program, "program resolves against the scenario directory")
	assert.Equal(t, "matmul_region", scenario.Graph)
	assert.Nil(t, scenario.Expect)
	require.Len(t, scenario.Assertions, 2)
	require.NotNil(t, scenario.Assertions[1].Input)
	assert.Equal(t, 1, *scenario.Assertions[1].Input)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
description: "d"
source: "graphs: {}"
assertion:
  - type: cast_count
`), "")
	assert.ErrorContains(t, err, "failed to parse YAML")
}

func TestParseScenario_AbsolutePathsKept(t *testing.T) {
	dir := t.TempDir()
	program := writeProgram(t, dir, "p.cue")
	scenario, err := ParseScenario([]byte(`
name: abs
description: "d"
program: `+program+`
expect: {status: ok}
`), "/somewhere/else")
	require.NoError(t, err)
	assert.Equal(t, program, scenario.Program)
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: `{description: d, source: x, expect: {status: ok}}`,
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: `{name: n, source: x, expect: {status: ok}}`,
			want: "description is required",
		},
		{
			name: "no program",
			yaml: `{name: n, description: d, expect: {status: ok}}`,
			want: "one of program or source is required",
		},
		{
			name: "program and source",
			yaml: `{name: n, description: d, program: p.cue, source: x, expect: {status: ok}}`,
			want: "mutually exclusive",
		},
		{
			name: "program not found",
			yaml: `{name: n, description: d, program: /nonexistent/p.cue, expect: {status: ok}}`,
			want: "program file not found",
		},
		{
			name: "policy not found",
			yaml: `{name: n, description: d, source: x, policy: /nonexistent/t.cue, expect: {status: ok}}`,
			want: "policy file not found",
		},
		{
			name: "nothing to check",
			yaml: `{name: n, description: d, source: x}`,
			want: "expect or assertions is required",
		},
		{
			name: "missing status",
			yaml: `{name: n, description: d, source: x, expect: {diagnostic: E201}}`,
			want: "status is required",
		},
		{
			name: "unknown status",
			yaml: `{name: n, description: d, source: x, expect: {status: maybe}}`,
			want: `unknown status "maybe"`,
		},
		{
			name: "diagnostic on success",
			yaml: `{name: n, description: d, source: x, expect: {status: ok, diagnostic: E201}}`,
			want: "diagnostic is only allowed",
		},
		{
			name: "unknown diagnostic",
			yaml: `{name: n, description: d, source: x, expect: {status: rejected, diagnostic: E999}}`,
			want: `unknown diagnostic kind "E999"`,
		},
		{
			name: "assertion without type",
			yaml: `{name: n, description: d, source: x, assertions: [{count: 1}]}`,
			want: "assertions[0]: type is required",
		},
		{
			name: "unknown assertion",
			yaml: `{name: n, description: d, source: x, assertions: [{type: trace_contains}]}`,
			want: `unknown assertion type "trace_contains"`,
		},
		{
			name: "dtype without value",
			yaml: `{name: n, description: d, source: x, assertions: [{type: dtype, dtype: half}]}`,
			want: "value and dtype are required",
		},
		{
			name: "dtype unknown",
			yaml: `{name: n, description: d, source: x, assertions: [{type: dtype, value: e, dtype: bfloat16}]}`,
			want: `unknown dtype "bfloat16"`,
		},
		{
			name: "negative cast count",
			yaml: `{name: n, description: d, source: x, assertions: [{type: cast_count, count: -1}]}`,
			want: "count must be non-negative",
		},
		{
			name: "empty cast",
			yaml: `{name: n, description: d, source: x, assertions: [{type: cast}]}`,
			want: "cast needs at least one of",
		},
		{
			name: "cast policy unknown",
			yaml: `{name: n, description: d, source: x, assertions: [{type: cast, policy: sideways}]}`,
			want: `unknown policy "sideways"`,
		},
		{
			name: "context without context",
			yaml: `{name: n, description: d, source: x, assertions: [{type: context, value: e}]}`,
			want: "value and context are required",
		},
		{
			name: "warning without kind",
			yaml: `{name: n, description: d, source: x, assertions: [{type: warning}]}`,
			want: "kind is required",
		},
		{
			name: "ledger without expect",
			yaml: `{name: n, description: d, source: x, assertions: [{type: ledger}]}`,
			want: "expect is required for ledger",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_RejectedWithoutDiagnostic(t *testing.T) {
	scenario, err := ParseScenario([]byte(`{name: n, description: d, source: x, expect: {status: rejected}}`), "")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, scenario.Expect.Status)
	assert.Empty(t, scenario.Expect.Diagnostic)
}
