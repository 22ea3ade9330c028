package harness

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ampc/internal/amp"
	"github.com/roach88/ampc/internal/store"
)

const matmulSource = `
graphs: mm_graph: {
	params: {a: "float32", b: "float32"}
	body: [
		{with: true, body: [
			{set: "e", op: "mm", args: ["a", "b"]},
		]},
	]
	results: "e"
}

graphs: unclosed: {
	params: {a: "float32"}
	body: [
		{enter: true},
		{set: "e", op: "mm", args: ["a", "a"]},
	]
	results: "e"
}
`

func TestRun_AcceptedGraph(t *testing.T) {
	scenario := &Scenario{
		Name:        "accepted",
		Description: "mm runs in float16",
		Source:      matmulSource,
		Assertions: []Assertion{
			{Type: AssertDType, Value: "e", DType: "float16"},
			{Type: AssertCastCount, Count: 2},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
	assert.Equal(t, StatusOK, result.Status)
	assert.Nil(t, result.Diagnostic)
	assert.Equal(t, "mm_graph", result.Graph.Name, "the first graph is used by default")

	require.Len(t, result.Casts, 2)
	assert.Equal(t, CastEvent{Op: "mm", NodeID: result.Casts[0].NodeID, Input: 0, From: "float32", To: "float16", Policy: "cast_to_lower"}, result.Casts[0])
	assert.Equal(t, 1, result.Casts[1].Input)

	assert.Equal(t, "run-0001", result.Compilation.ID)
	assert.Equal(t, int64(1), result.Compilation.Seq)
	assert.Equal(t, store.StatusOK, result.Compilation.Status)
	assert.Equal(t, 2, result.Compilation.CastsInserted)
}

func TestRun_RejectedGraph(t *testing.T) {
	scenario := &Scenario{
		Name:        "rejected",
		Description: "unclosed region",
		Source:      matmulSource,
		Graph:       "unclosed",
		Expect:      &ExpectClause{Status: StatusRejected, Diagnostic: "UnsupportedRegionNesting"},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, StatusRejected, result.Status)
	require.NotNil(t, result.Diagnostic)
	assert.Equal(t, amp.UnsupportedRegionNesting, result.Diagnostic.Kind)
	assert.Empty(t, result.Casts)
	assert.Equal(t, "E204", result.Compilation.DiagCode)
	assert.Equal(t, "unclosed", result.Graph.Name)
}

func TestRun_UnexpectedOutcome(t *testing.T) {
	t.Run("rejected when success expected", func(t *testing.T) {
		result, err := Run(&Scenario{
			Name: "s", Description: "d", Source: matmulSource, Graph: "unclosed",
			Assertions: []Assertion{{Type: AssertCastCount, Count: 0}},
		})
		require.NoError(t, err)
		assert.False(t, result.Pass)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "expected status ok, got rejected")
		assert.Contains(t, result.Errors[0], "[E204]")
	})

	t.Run("wrong diagnostic kind", func(t *testing.T) {
		result, err := Run(&Scenario{
			Name: "s", Description: "d", Source: matmulSource, Graph: "unclosed",
			Expect: &ExpectClause{Status: StatusRejected, Diagnostic: "E203"},
		})
		require.NoError(t, err)
		assert.False(t, result.Pass)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "expected diagnostic DivergentValueType, got UnsupportedRegionNesting")
	})

	t.Run("success when rejection expected", func(t *testing.T) {
		result, err := Run(&Scenario{
			Name: "s", Description: "d", Source: matmulSource,
			Expect: &ExpectClause{Status: StatusRejected},
		})
		require.NoError(t, err)
		assert.False(t, result.Pass)
		assert.Contains(t, result.Errors[0], "expected status rejected, got ok")
	})

	t.Run("graph assertions on a rejected graph", func(t *testing.T) {
		result, err := Run(&Scenario{
			Name: "s", Description: "d", Source: matmulSource, Graph: "unclosed",
			Expect:     &ExpectClause{Status: StatusRejected},
			Assertions: []Assertion{{Type: AssertDType, Value: "e", DType: "half"}},
		})
		require.NoError(t, err)
		assert.False(t, result.Pass)
		assert.Contains(t, result.Errors[0], "dtype requires an accepted graph")
	})
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name     string
		scenario *Scenario
		want     string
	}{
		{
			name:     "compile error",
			scenario: &Scenario{Name: "s", Source: `graphs: g: {body: [{set: "x", op: "mm", args: ["nope"]}]}`},
			want:     `undefined name "nope"`,
		},
		{
			name:     "unknown graph",
			scenario: &Scenario{Name: "s", Source: matmulSource, Graph: "missing"},
			want:     `graph "missing" not found in s.cue`,
		},
		{
			name:     "unreadable program",
			scenario: &Scenario{Name: "s", Program: "/nonexistent/p.cue"},
			want:     "failed to read program",
		},
		{
			name:     "bad policy",
			scenario: &Scenario{Name: "s", Source: matmulSource, Policy: "/nonexistent/t.cue"},
			want:     "failed to load policy table",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(tt.scenario)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_PolicyOverride(t *testing.T) {
	dir := t.TempDir()
	tablePath := filepath.Join(dir, "table.cue")
	require.NoError(t, os.WriteFile(tablePath, []byte(`version: "no-mm", higher: ["mm"]`), 0644))

	result, err := Run(&Scenario{
		Name: "override", Description: "mm is range-sensitive here", Source: matmulSource, Policy: tablePath,
		Assertions: []Assertion{
			{Type: AssertDType, Value: "e", DType: "float32"},
			{Type: AssertCastCount, Count: 0},
			{Type: AssertLedger, Expect: map[string]any{"policy_version": "no-mm"}},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestHarness_Logs(t *testing.T) {
	var logs bytes.Buffer
	h := New(slog.New(slog.NewTextHandler(&logs, nil)))

	result, err := h.Run(context.Background(), &Scenario{
		Name: "logged", Description: "d", Source: matmulSource,
		Expect: &ExpectClause{Status: StatusOK},
	})
	require.NoError(t, err)
	assert.True(t, result.Pass)
	assert.Contains(t, logs.String(), "autocast pass complete")
	assert.Contains(t, logs.String(), "scenario=logged")
}

func TestRun_Deterministic(t *testing.T) {
	scenario := &Scenario{Name: "again", Description: "d", Source: matmulSource, Expect: &ExpectClause{Status: StatusOK}}

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, Snapshot("again", first), Snapshot("again", second))
	assert.Equal(t, first.Compilation, second.Compilation)
}
