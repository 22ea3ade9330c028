package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/ampc/internal/ir"
	"github.com/roach88/ampc/internal/policy"
)

// Options configures program compilation.
type Options struct {
	// Table decides which ops produce bool flags. Nil means policy.Default().
	Table *policy.Table
}

func (o Options) table() *policy.Table {
	if o.Table != nil {
		return o.Table
	}
	return policy.Default()
}

// CompileSource compiles a CUE program held in memory.
func CompileSource(filename string, src []byte, opts Options) ([]*ir.Graph, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	return CompileProgram(v, opts)
}

// CompileProgram compiles every graph of a CUE program value:
//
//	functions: <name>: {params: {...}, body: [...], results: [...]}
//	graphs:    <name>: {params: {...}, body: [...], results: [...]}
//
// Each graph receives its own copy of every function, compiled callees
// first. Graphs are returned in declaration order.
func CompileProgram(v cue.Value, opts Options) ([]*ir.Graph, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	graphsVal := v.LookupPath(cue.ParsePath("graphs"))
	if !graphsVal.Exists() {
		return nil, errorf("graphs", v.Pos(), "at least one graph is required")
	}

	funcs, err := collectFunctions(v)
	if err != nil {
		return nil, err
	}

	iter, err := graphsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var graphs []*ir.Graph
	for iter.Next() {
		g, err := compileGraph(iter.Label(), iter.Value(), funcs, opts.table())
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, g)
	}
	if len(graphs) == 0 {
		return nil, errorf("graphs", graphsVal.Pos(), "at least one graph is required")
	}
	return graphs, nil
}

// CompileGraph compiles the named graph of a program.
func CompileGraph(v cue.Value, name string, opts Options) (*ir.Graph, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	gv := v.LookupPath(cue.MakePath(cue.Str("graphs"), cue.Str(name)))
	if !gv.Exists() {
		return nil, errorf("graphs", v.Pos(), "graph %q not found", name)
	}
	funcs, err := collectFunctions(v)
	if err != nil {
		return nil, err
	}
	return compileGraph(name, gv, funcs, opts.table())
}

// functionSet holds function sources in the order they must be compiled.
type functionSet struct {
	order  []string
	values map[string]cue.Value
}

// collectFunctions reads function sources and rejects recursion.
func collectFunctions(v cue.Value) (*functionSet, error) {
	set := &functionSet{values: make(map[string]cue.Value)}
	fv := v.LookupPath(cue.ParsePath("functions"))
	if !fv.Exists() {
		return set, nil
	}
	iter, err := fv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	calls := make(map[string][]string)
	for iter.Next() {
		name := iter.Label()
		set.values[name] = iter.Value()
		callees, err := scanCalls(iter.Value().LookupPath(cue.ParsePath("body")))
		if err != nil {
			return nil, err
		}
		calls[name] = callees
	}

	order, cycles := AnalyzeCalls(calls)
	if len(cycles) > 0 {
		first := cycles[0]
		return nil, errorf("call", set.values[first.Path[0]].Pos(), "%s", first.Message)
	}
	set.order = order
	return set, nil
}

func compileGraph(name string, v cue.Value, funcs *functionSet, table *policy.Table) (*ir.Graph, error) {
	g := ir.NewGraph(name)
	g.Pos = v.Pos()
	for _, fn := range funcs.order {
		fv := funcs.values[fn]
		f, b := g.NewFunction(fn)
		f.Pos = fv.Pos()
		c := &bodyCompiler{g: g, table: table, where: "functions." + fn}
		if err := c.compile(b, fv); err != nil {
			return nil, err
		}
	}
	c := &bodyCompiler{g: g, table: table, where: "graphs." + name}
	if err := c.compile(g.Builder().At(v.Pos()), v); err != nil {
		return nil, err
	}
	return g, nil
}

// scanCalls lists the callees named anywhere in a statement list.
func scanCalls(list cue.Value) ([]string, error) {
	var out []string
	err := walkStatements(list, func(st cue.Value) error {
		if cv := st.LookupPath(cue.ParsePath("call")); cv.Exists() {
			name, err := cv.String()
			if err != nil {
				return errorf("call", cv.Pos(), "callee must be a function name")
			}
			out = append(out, name)
		}
		return nil
	})
	return out, err
}

// scanAssigned lists the names bound anywhere in a statement list.
func scanAssigned(list cue.Value) ([]string, error) {
	var out []string
	err := walkStatements(list, func(st cue.Value) error {
		names, err := setNames(st)
		if err != nil {
			return err
		}
		out = append(out, names...)
		return nil
	})
	return out, err
}

// nestedLists are the statement fields holding nested statement lists.
var nestedLists = []string{"body", "then", "otherwise"}

func walkStatements(list cue.Value, fn func(cue.Value) error) error {
	if !list.Exists() {
		return nil
	}
	iter, err := list.List()
	if err != nil {
		return errorf("body", list.Pos(), "must be a list of statements")
	}
	for iter.Next() {
		st := iter.Value()
		if err := fn(st); err != nil {
			return err
		}
		for _, field := range nestedLists {
			if err := walkStatements(st.LookupPath(cue.ParsePath(field)), fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func describe(where string, err error) error {
	if ce, ok := err.(*CompileError); ok && ce.Pos.IsValid() {
		return ce
	}
	return fmt.Errorf("%s: %w", where, err)
}
