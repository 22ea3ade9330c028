package policy

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/ampc/internal/ir"
)

//go:embed table.cue
var defaultTableSource []byte

// policyLists maps each list label of a table source to its policy.
var policyLists = []struct {
	label  string
	policy Policy
}{
	{"lower", CastToLower},
	{"higher", CastToHigher},
	{"promote", PromoteToWidest},
	{"banned", Banned},
}

// Default returns the table shipped with the pass, compiled once per process.
var Default = sync.OnceValue(func() *Table {
	t, err := Parse("table.cue", defaultTableSource)
	if err != nil {
		panic(fmt.Sprintf("policy: embedded table is invalid: %v", err))
	}
	return t
})

// TableError is a problem in a table source, with its position when known.
type TableError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *TableError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadFile reads and parses a table source from disk.
func LoadFile(path string) (*Table, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy table: %w", err)
	}
	return Parse(path, src)
}

// Parse compiles a CUE table source. The source declares a version string
// and one list of op names per policy (lower, higher, promote, banned),
// plus an optional bool_result list.
func Parse(filename string, src []byte) (*Table, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	versionVal := v.LookupPath(cue.ParsePath("version"))
	if !versionVal.Exists() {
		return nil, &TableError{Field: "version", Message: "version is required", Pos: v.Pos()}
	}
	version, err := versionVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}

	entries := make(map[string]Entry)
	for _, list := range policyLists {
		names, err := parseNames(v, list.label)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			if prev, dup := entries[n.name]; dup {
				return nil, &TableError{
					Field:   list.label,
					Message: fmt.Sprintf("op %q already listed under %s", n.name, prev.Policy),
					Pos:     n.pos,
				}
			}
			entries[n.name] = Entry{Policy: list.policy}
		}
	}

	boolOps, err := parseNames(v, "bool_result")
	if err != nil {
		return nil, err
	}
	for _, n := range boolOps {
		e := entries[n.name]
		e.BoolResult = true
		entries[n.name] = e
	}

	return NewTable(version, entries), nil
}

// NewTable builds a table from explicit entries, computing its hash.
func NewTable(version string, entries map[string]Entry) *Table {
	copied := make(map[string]Entry, len(entries))
	rows := make(map[string]any, len(entries))
	for name, e := range entries {
		copied[name] = e
		rows[name] = map[string]any{"policy": e.Policy.String(), "bool_result": e.BoolResult}
	}
	canonical, err := ir.MarshalCanonical(map[string]any{"version": version, "ops": rows})
	if err != nil {
		// Only strings and bools are marshaled.
		panic(fmt.Sprintf("policy: canonical table encoding: %v", err))
	}
	return &Table{
		version: version,
		hash:    ir.HashWithDomain(ir.DomainPolicy, canonical),
		entries: copied,
	}
}

type namedPos struct {
	name string
	pos  token.Pos
}

// parseNames reads an optional list of strings.
func parseNames(v cue.Value, label string) ([]namedPos, error) {
	listVal := v.LookupPath(cue.ParsePath(label))
	if !listVal.Exists() {
		return nil, nil
	}
	iter, err := listVal.List()
	if err != nil {
		return nil, &TableError{Field: label, Message: "must be a list of op names", Pos: listVal.Pos()}
	}
	var out []namedPos
	for iter.Next() {
		name, err := iter.Value().String()
		if err != nil {
			return nil, &TableError{Field: label, Message: "op names must be strings", Pos: iter.Value().Pos()}
		}
		out = append(out, namedPos{name: name, pos: iter.Value().Pos()})
	}
	return out, nil
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &TableError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
