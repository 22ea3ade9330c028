package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ampc/internal/policy"
)

func TestCheckAcceptedProgram(t *testing.T) {
	dir := writeProgramDir(t, map[string]string{"mm.cue": mmProgram})

	buf := &bytes.Buffer{}
	cmd := NewCheckCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "mm_graph: 2 cast(s)")
	assert.Contains(t, buf.String(), "All 1 graph(s) accepted")
	assert.NotContains(t, buf.String(), "graph mm_graph(", "check does not print graphs")
}

func TestCheckRejectedProgram(t *testing.T) {
	dir := writeProgramDir(t, map[string]string{"mm.cue": mmProgram, "unclosed.cue": unclosedProgram})

	buf := &bytes.Buffer{}
	cmd := NewCheckCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "Check failed")
	assert.Contains(t, buf.String(), "unclosed: [E204]")
}

func TestCheckRejectedProgramJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewCheckCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{programsDir, "--graph", "runtime_flag"})

	err := cmd.Execute()
	require.Error(t, err)

	var resp struct {
		CLIResponse
		Data CheckResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E201", resp.Error.Code)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Graphs, 1)
	assert.Equal(t, GraphRejected, resp.Data.Graphs[0].Status)
	assert.Empty(t, resp.Data.Graphs[0].IR)
}

func TestCheckAcceptedProgramJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewCheckCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{programsDir, "--graph", "call_in_region"})

	require.NoError(t, cmd.Execute())

	var resp struct {
		CLIResponse
		Data CheckResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	require.Len(t, resp.Data.Graphs, 1)
	assert.Empty(t, resp.Data.Graphs[0].IR, "check leaves graphs out of the report")
}

func TestCheckCompileErrorIsFinding(t *testing.T) {
	dir := writeProgramDir(t, map[string]string{"bad.cue": `
package test

graphs: g: {
	params: {a: "float32"}
	body: [{set: "x", cast: "bfloat16", arg: "a"}]
	results: "x"
}
`})

	buf := &bytes.Buffer{}
	cmd := NewCheckCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err), "a program that does not compile fails the check")
	assert.Contains(t, buf.String(), ErrCodeCast)
	assert.Contains(t, buf.String(), `unknown dtype "bfloat16"`)
}

func TestCheckMissingDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewCheckCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/programs"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error ["+ErrCodeNotFound+"]")
}

func TestCheckProgramDir(t *testing.T) {
	reports, err := CheckProgramDir(programsDir, policy.Default())
	require.NoError(t, err)
	require.Len(t, reports, 11)

	statuses := map[string]string{}
	for _, r := range reports {
		statuses[r.Graph] = r.Status
	}
	assert.Equal(t, GraphAccepted, statuses["matmul_region"])
	assert.Equal(t, GraphAccepted, statuses["scalar_overflow"])
	assert.Equal(t, GraphRejected, statuses["banned_in_region"])
	assert.Equal(t, GraphRejected, statuses["divergent_value_type"])
}

func TestIsCommandError(t *testing.T) {
	assert.True(t, isCommandError(ErrCodeNotFound))
	assert.True(t, isCommandError(ErrCodeNoFiles))
	assert.False(t, isCommandError(ErrCodeBuildFailed))
	assert.False(t, isCommandError(ErrCodeBinding))
}
