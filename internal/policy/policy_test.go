package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable(t *testing.T) {
	table := Default()
	assert.Same(t, table, Default(), "the default table is built once")
	assert.Equal(t, "2024.10", table.Version())
	assert.Len(t, table.Hash(), 64)

	tests := map[string]Policy{
		"mm":                   CastToLower,
		"conv2d":               CastToLower,
		"matrix-multiply":      CastToLower,
		"log":                  CastToHigher,
		"natural-log":          CastToHigher,
		"addcmul":              PromoteToWidest,
		"cat":                  PromoteToWidest,
		"binary_cross_entropy": Banned,
		"relu":                 Unchanged,
		"":                     Unchanged,
	}
	for op, want := range tests {
		assert.Equal(t, want, table.Lookup(op), "policy of %q", op)
	}

	assert.True(t, table.ResultIsBool("gt"))
	assert.True(t, table.ResultIsBool("equal"))
	assert.Equal(t, Entry{Policy: PromoteToWidest, BoolResult: true}, table.Entry("equal"))
	assert.False(t, table.ResultIsBool("mm"))
}

func TestOps(t *testing.T) {
	table := Default()
	assert.Equal(t, []string{"binary_cross_entropy"}, table.Ops(Banned))
	assert.Contains(t, table.Ops(Unchanged), "gt", "bool-result ops without a policy are listed as unchanged")
	assert.NotContains(t, table.Ops(Unchanged), "equal")

	lower := table.Ops(CastToLower)
	assert.IsIncreasing(t, lower)
	assert.Contains(t, lower, "mm")
}

func TestParsePolicy(t *testing.T) {
	for _, p := range []Policy{Unchanged, CastToLower, CastToHigher, PromoteToWidest, Banned} {
		got, err := ParsePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParsePolicy("cast_sideways")
	assert.ErrorContains(t, err, "unknown policy")
	assert.Equal(t, "policy(9)", Policy(9).String())
}

func TestParse(t *testing.T) {
	table, err := Parse("custom.cue", []byte(`
		version: "test-1"
		lower: ["mm"]
		higher: ["log"]
		bool_result: ["gt"]
	`))
	require.NoError(t, err)
	assert.Equal(t, "test-1", table.Version())
	assert.Equal(t, 3, table.Len())
	assert.Equal(t, CastToLower, table.Lookup("mm"))
	assert.Equal(t, Unchanged, table.Lookup("addcmul"))
	assert.True(t, table.ResultIsBool("gt"))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"missing version", `lower: ["mm"]`, "version is required"},
		{"duplicate op", "version: \"v\"\nlower: [\"mm\"]\nhigher: [\"mm\"]", `op "mm" already listed under cast_to_lower`},
		{"not a list", `version: "v", lower: "mm"`, "must be a list of op names"},
		{"non-string op", `version: "v", banned: [1]`, "op names must be strings"},
		{"syntax", `version: "v`, "custom.cue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("custom.cue", []byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseErrorPosition(t *testing.T) {
	_, err := Parse("custom.cue", []byte("version: \"v\"\nlower: [\"mm\"]\nhigher: [\"mm\"]\n"))
	var te *TableError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "higher", te.Field)
	assert.Equal(t, 3, te.Pos.Line())
}

func TestHashDependsOnContent(t *testing.T) {
	a := NewTable("v", map[string]Entry{"mm": {Policy: CastToLower}})
	b := NewTable("v", map[string]Entry{"mm": {Policy: CastToLower}})
	c := NewTable("v", map[string]Entry{"mm": {Policy: CastToHigher}})
	d := NewTable("w", map[string]Entry{"mm": {Policy: CastToLower}})

	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
	assert.NotEqual(t, a.Hash(), d.Hash())
}

func TestNewTableCopiesEntries(t *testing.T) {
	entries := map[string]Entry{"mm": {Policy: CastToLower}}
	table := NewTable("v", entries)
	entries["mm"] = Entry{Policy: Banned}
	assert.Equal(t, CastToLower, table.Lookup("mm"))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.cue")
	require.NoError(t, os.WriteFile(path, []byte(`version: "file", promote: ["stack"]`), 0o644))

	table, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, PromoteToWidest, table.Lookup("stack"))

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.cue"))
	assert.ErrorContains(t, err, "reading policy table")
}
