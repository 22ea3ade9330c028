package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ampc/internal/compiler"
	"github.com/roach88/ampc/internal/policy"
)

// reportFor compiles testdata/programs and runs the pass on one graph.
func reportFor(t *testing.T, graph string) GraphReport {
	t.Helper()
	loaded, err := LoadPrograms(programsDir, policy.Default())
	require.NoError(t, err)
	graphs, err := selectGraphs(loaded.Graphs, graph)
	require.NoError(t, err)

	runner := &passRunner{table: policy.Default(), logger: (&reporter{}).logger()}
	report, err := runner.run(context.Background(), graphs[0])
	require.NoError(t, err)
	return report
}

func TestDiagnosticErrorFromRejectedGraph(t *testing.T) {
	report := reportFor(t, "banned_in_region")
	require.Equal(t, GraphRejected, report.Status)

	d := report.Diagnostic
	require.NotNil(t, d)
	assert.Equal(t, "E205", d.Code)
	assert.Equal(t, "UnsafeAutocastOp", d.Kind)
	assert.Contains(t, d.Pos, "safety.cue:9")
	assert.Contains(t, d.Details["node"], "binary_cross_entropy")
	assert.NotContains(t, d.Details, "kind", "kind has its own field")
	assert.NotContains(t, d.Details, "pos", "pos has its own field")
}

func TestCLIErrorString(t *testing.T) {
	diag := CLIError{Code: "E204", Kind: "UnsupportedRegionNesting", Message: "region h1 never exited"}
	assert.Equal(t, "[E204] UnsupportedRegionNesting: region h1 never exited", diag.String())

	load := CLIError{Code: ErrCodeCast, Message: `unknown dtype "bfloat16"`}
	assert.Equal(t, `[E123] unknown dtype "bfloat16"`, load.String())
}

func TestLoadErrorCarriesPosition(t *testing.T) {
	dir := writeProgramDir(t, map[string]string{"bad.cue": `
package test

graphs: g: {
	params: {a: "float32"}
	body: [{set: "x", cast: "bfloat16", arg: "a"}]
	results: "x"
}
`})
	_, err := LoadPrograms(dir, policy.Default())
	require.Error(t, err)

	e := loadError(asLoadError(err))
	assert.Equal(t, ErrCodeCast, e.Code)
	assert.Contains(t, e.Message, `unknown dtype "bfloat16"`)
	assert.Contains(t, e.Pos, "bad.cue:6:")
	assert.Empty(t, e.Kind)
}

func TestValidationErrorPosition(t *testing.T) {
	e := validationError(compiler.ValidationError{Field: "results", Message: "unknown value", Code: "E104", Line: 3})
	assert.Equal(t, CLIError{Code: "E104", Message: "results: unknown value", Pos: "line 3"}, e)

	e = validationError(compiler.ValidationError{Field: "name", Message: "required", Code: "E101"})
	assert.Empty(t, e.Pos)
}

func TestReporterGraphAccepted(t *testing.T) {
	report := reportFor(t, "matmul_region")
	require.Equal(t, GraphAccepted, report.Status)
	report.Cached = true
	report.Compilation = "run-0001"

	buf := &bytes.Buffer{}
	(&reporter{out: buf}).graph(report, false)
	assert.Contains(t, buf.String(), fmt.Sprintf("✓ matmul_region: %d cast(s) (recorded in run-0001)", report.CastsInserted))
	assert.NotContains(t, buf.String(), "cast mm#", "casts are listed in verbose mode only")
	assert.NotContains(t, buf.String(), "graph matmul_region(")

	buf.Reset()
	(&reporter{out: buf, verbose: true}).graph(report, true)
	assert.Contains(t, buf.String(), "cast mm#")
	assert.Contains(t, buf.String(), "-> float16 (cast_to_lower)")
	assert.Contains(t, buf.String(), report.IR)
}

func TestReporterGraphWarnings(t *testing.T) {
	report := reportFor(t, "scalar_overflow")
	require.Equal(t, GraphAccepted, report.Status)
	require.NotEmpty(t, report.Warnings)

	buf := &bytes.Buffer{}
	(&reporter{out: buf}).graph(report, false)
	assert.Contains(t, buf.String(), "  warning: "+report.Warnings[0])
}

func TestReporterGraphRejected(t *testing.T) {
	report := reportFor(t, "banned_in_region")

	buf := &bytes.Buffer{}
	(&reporter{out: buf}).graph(report, false)
	out := buf.String()
	assert.Contains(t, out, "✗ banned_in_region: [E205] UnsafeAutocastOp: ")
	assert.Contains(t, out, "  at "+report.Diagnostic.Pos)
	assert.NotContains(t, out, "  node=")

	buf.Reset()
	(&reporter{out: buf, verbose: true}).graph(report, false)
	assert.Contains(t, buf.String(), "  node="+report.Diagnostic.Details["node"])
}

func TestReporterGraphInvalid(t *testing.T) {
	report := GraphReport{
		Graph:  "broken",
		Status: GraphInvalid,
		Errors: []compiler.ValidationError{{Field: "results", Message: "unknown value", Code: "E104"}},
	}

	buf := &bytes.Buffer{}
	(&reporter{out: buf}).graph(report, false)
	assert.Contains(t, buf.String(), "✗ broken: invalid graph")
	assert.Contains(t, buf.String(), "  [E104] results: unknown value")
}

func TestReporterFailText(t *testing.T) {
	buf := &bytes.Buffer{}
	r := &reporter{out: buf}

	err := r.fail(ExitCommandError, CLIError{Code: ErrCodeCast, Message: `unknown dtype "bfloat16"`, Pos: "bad.cue:6:9"})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, `E123: unknown dtype "bfloat16"`, err.Error())
	assert.Equal(t, "Error [E123]: unknown dtype \"bfloat16\"\n  at bad.cue:6:9\n", buf.String())
}

func TestReporterFailJSON(t *testing.T) {
	report := reportFor(t, "banned_in_region")

	buf := &bytes.Buffer{}
	err := (&reporter{out: buf, json: true}).fail(ExitFailure, *report.Diagnostic)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Nil(t, resp.Data)
	require.NotNil(t, resp.Error)
	assert.Equal(t, *report.Diagnostic, *resp.Error)
}

func TestReporterEnvelope(t *testing.T) {
	buf := &bytes.Buffer{}
	r := &reporter{out: buf, json: true}
	require.NoError(t, r.envelope(CheckResult{Valid: true}, nil))

	var resp struct {
		CLIResponse
		Data CheckResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
	assert.True(t, resp.Data.Valid)
}

func TestReporterFindings(t *testing.T) {
	buf := &bytes.Buffer{}
	(&reporter{out: buf}).findings([]CLIError{
		{Code: ErrCodeCast, Message: `unknown dtype "bfloat16"`, Pos: "bad.cue:6:9"},
		{Code: ErrCodeBinding, Message: "x already bound"},
	})
	assert.Equal(t, "  E123: unknown dtype \"bfloat16\" (bad.cue:6:9)\n  E122: x already bound\n", buf.String())
}

func TestReporterVerboseStreams(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
	}{
		{"verbose", true},
		{"quiet", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, log := &bytes.Buffer{}, &bytes.Buffer{}
			r := &reporter{out: out, log: log, verbose: tt.verbose}

			r.logf("Found %d CUE file(s)", 3)
			r.logger().Debug("cast inserted", "op", "mm")

			assert.Empty(t, out.String(), "progress never reaches the result stream")
			if tt.verbose {
				assert.Contains(t, log.String(), "Found 3 CUE file(s)")
				assert.Contains(t, log.String(), "level=DEBUG msg=\"cast inserted\" op=mm")
			} else {
				assert.Empty(t, log.String())
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(exitf(ExitCommandError, "bad path")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))

	cause := errors.New("no such file")
	wrapped := fmt.Errorf("outer: %w", exitf(ExitCommandError, "database not found: %w", cause))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "outer: database not found: no such file", wrapped.Error())
}
