package amp

import (
	"fmt"
	"slices"

	"github.com/roach88/ampc/internal/ir"
)

// staticFlag is the compile-time value of a bool flag.
type staticFlag struct {
	known  bool
	value  bool
	reason string // why the flag is not static

	// join is set when the flag is not static only because paths reaching
	// join carry different constants.
	join *ir.Node
}

// staticHandle is the compile-time identity of a handle value.
type staticHandle struct {
	id     ir.HandleID
	reason string // why the identity is not static
	node   *ir.Node

	// divergent marks a selection between handles whose static enabled
	// flags differ.
	divergent bool
}

func (h staticHandle) ok() bool {
	return h.reason == ""
}

// resolver folds flags and handle identities without executing the program.
// Results are memoized per value; in-progress entries break cycles through
// loop-carried values.
type resolver struct {
	g       *ir.Graph
	flags   map[*ir.Value]staticFlag
	handles map[*ir.Value]staticHandle
	active  map[*ir.Value]bool
}

func newResolver(g *ir.Graph) *resolver {
	return &resolver{
		g:       g,
		flags:   make(map[*ir.Value]staticFlag),
		handles: make(map[*ir.Value]staticHandle),
		active:  make(map[*ir.Value]bool),
	}
}

func known(b bool) staticFlag {
	return staticFlag{known: true, value: b}
}

func unknown(format string, args ...any) staticFlag {
	return staticFlag{reason: fmt.Sprintf(format, args...)}
}

// flag resolves a bool value to a constant when provable.
func (r *resolver) flag(v *ir.Value) staticFlag {
	if f, ok := r.flags[v]; ok {
		return f
	}
	if r.active[v] {
		return unknown("flag %s depends on its own loop-carried value", v)
	}
	r.active[v] = true
	f := r.foldFlag(v)
	delete(r.active, v)
	r.flags[v] = f
	return f
}

func (r *resolver) foldFlag(v *ir.Value) staticFlag {
	if v.Kind != ir.KindBool {
		return unknown("%s is a %s, not a bool flag", v, v.Kind)
	}
	if v.Producer == nil {
		if v.Owner != nil && v.Owner.Owner != nil {
			return r.loopFlag(v.Owner.Owner, slices.Index(v.Owner.Params, v))
		}
		return unknown("flag %s is a runtime input", v)
	}

	n := v.Producer
	switch n.Kind {
	case ir.NodeConst:
		if b, ok := n.BoolAttr("value"); ok {
			return known(b)
		}
		return unknown("constant %s is not a bool", v)

	case ir.NodeOp:
		return r.foldFlagOp(n)

	case ir.NodeIf:
		i := slices.Index(n.Outputs, v)
		cond := r.flag(n.Inputs[0])
		if cond.known {
			if cond.value {
				return r.flag(n.Blocks[0].Yields[i])
			}
			return r.flag(n.Blocks[1].Yields[i])
		}
		a, b := r.flag(n.Blocks[0].Yields[i]), r.flag(n.Blocks[1].Yields[i])
		if a.known && b.known {
			if a.value == b.value {
				return a
			}
			f := unknown("flag %s is %s on one path and %s on the other of runtime condition %s",
				v, onOff(a.value), onOff(b.value), n.Inputs[0])
			f.join = n
			return f
		}
		return unknown("flag %s is selected by runtime condition %s", v, n.Inputs[0])

	case ir.NodeLoop:
		return r.loopFlag(n, slices.Index(n.Outputs, v))
	}
	return unknown("flag %s is produced by %s", v, n.Label())
}

// loopFlag resolves carried value i of a loop: constant only when the
// entry value and the back-edge value agree.
func (r *resolver) loopFlag(loop *ir.Node, i int) staticFlag {
	body := loop.Blocks[0]
	init := r.flag(loop.Inputs[i])
	if !init.known {
		return init
	}
	if body.Yields[i] == body.Params[i] {
		return init
	}
	next := r.flag(body.Yields[i])
	if next.known && next.value == init.value {
		return init
	}
	f := unknown("flag %s changes across loop iterations", body.Params[i])
	if next.known {
		f.join = loop
	}
	return f
}

func (r *resolver) foldFlagOp(n *ir.Node) staticFlag {
	switch n.Op {
	case "not":
		a := r.flag(n.Inputs[0])
		if a.known {
			return known(!a.value)
		}
		return a
	case "and", "or":
		// The absorbing element decides the result even when the other
		// operand is a runtime value.
		absorb := n.Op == "or"
		a, b := r.flag(n.Inputs[0]), r.flag(n.Inputs[1])
		if (a.known && a.value == absorb) || (b.known && b.value == absorb) {
			return known(absorb)
		}
		if a.known && b.known {
			return known(!absorb)
		}
		if !a.known {
			return a
		}
		return b
	}
	return unknown("flag is the data-dependent result of %s", n.Label())
}

// handle resolves a handle value to the identity of the node that created it.
func (r *resolver) handle(v *ir.Value) staticHandle {
	if h, ok := r.handles[v]; ok {
		return h
	}
	if r.active[v] {
		return staticHandle{reason: fmt.Sprintf("handle %s depends on its own loop-carried value", v)}
	}
	r.active[v] = true
	h := r.foldHandle(v)
	delete(r.active, v)
	r.handles[v] = h
	return h
}

func (r *resolver) foldHandle(v *ir.Value) staticHandle {
	if v.Kind != ir.KindHandle {
		return staticHandle{reason: fmt.Sprintf("%s is a %s, not an autocast handle", v, v.Kind)}
	}
	if v.Producer == nil {
		if v.Owner != nil && v.Owner.Owner != nil {
			return r.loopHandle(v.Owner.Owner, slices.Index(v.Owner.Params, v))
		}
		return staticHandle{reason: fmt.Sprintf("handle %s is a runtime input", v)}
	}

	n := v.Producer
	switch n.Kind {
	case ir.NodeHandle:
		h := r.g.HandleOf(n)
		if h == nil {
			return staticHandle{reason: fmt.Sprintf("%s is missing from the handle table", n.Label()), node: n}
		}
		return staticHandle{id: h.ID, node: n}

	case ir.NodeIf:
		i := slices.Index(n.Outputs, v)
		cond := r.flag(n.Inputs[0])
		if cond.known {
			if cond.value {
				return r.handle(n.Blocks[0].Yields[i])
			}
			return r.handle(n.Blocks[1].Yields[i])
		}
		a, b := r.handle(n.Blocks[0].Yields[i]), r.handle(n.Blocks[1].Yields[i])
		if !a.ok() {
			return a
		}
		if !b.ok() {
			return b
		}
		if a.id == b.id {
			return a
		}
		ea, _ := r.handleEnabled(a.id)
		eb, _ := r.handleEnabled(b.id)
		return staticHandle{
			id:        a.id,
			node:      n,
			reason:    fmt.Sprintf("handle %s is selected between h%d and h%d by runtime condition %s", v, a.id, b.id, n.Inputs[0]),
			divergent: ea.known && eb.known && ea.value != eb.value,
		}

	case ir.NodeLoop:
		return r.loopHandle(n, slices.Index(n.Outputs, v))
	}
	return staticHandle{reason: fmt.Sprintf("handle %s is produced by %s", v, n.Label()), node: n}
}

func (r *resolver) loopHandle(loop *ir.Node, i int) staticHandle {
	body := loop.Blocks[0]
	init := r.handle(loop.Inputs[i])
	if !init.ok() || body.Yields[i] == body.Params[i] {
		return init
	}
	next := r.handle(body.Yields[i])
	if next.ok() && next.id == init.id {
		return init
	}
	return staticHandle{
		id:     init.id,
		node:   loop,
		reason: fmt.Sprintf("handle %s changes across loop iterations", body.Params[i]),
	}
}

// handleEnabled resolves the enabled flag a handle was created with.
func (r *resolver) handleEnabled(id ir.HandleID) (staticFlag, *ir.Node) {
	h := r.g.Handles[id-1]
	return r.flag(h.Node.Inputs[0]), h.Node
}
