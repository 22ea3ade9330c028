package ir

import (
	"fmt"

	"cuelang.org/go/cue/token"
)

// Builder appends nodes to one block of a graph. Nested builders are handed
// to the callbacks of If, Loop and With.
//
// Example:
//
//	g := ir.NewGraph("fn")
//	b := g.Builder()
//	a := b.Param("a", ir.Float)
//	on := b.Const(true)
//	var e *ir.Value
//	b.With(on, func(b *ir.Builder) { e = b.Op("mm", a, a) })
//	b.Return(e)
type Builder struct {
	g      *Graph
	block  *Block
	params *[]*Value
	pos    token.Pos
}

// Builder returns a builder appending to the graph body.
func (g *Graph) Builder() *Builder {
	return &Builder{g: g, block: g.Body, params: &g.Params}
}

// NewFunction registers an empty function and returns a builder for its body.
func (g *Graph) NewFunction(name string) (*Function, *Builder) {
	f := &Function{Name: name, Body: &Block{}}
	g.Funcs[name] = f
	return f, &Builder{g: g, block: f.Body, params: &f.Params}
}

// Graph returns the graph being built.
func (b *Builder) Graph() *Graph {
	return b.g
}

// Block returns the block being appended to.
func (b *Builder) Block() *Block {
	return b.block
}

// At sets the source position stamped on subsequently created nodes.
func (b *Builder) At(pos token.Pos) *Builder {
	b.pos = pos
	return b
}

func (b *Builder) nested(block *Block) *Builder {
	return &Builder{g: b.g, block: block, pos: b.pos}
}

func (b *Builder) emit(kind NodeKind, op string, inputs ...*Value) *Node {
	n := b.g.NewNode(kind, op, inputs...)
	n.Pos = b.pos
	b.block.Append(n)
	return n
}

// Param declares a tensor parameter of the graph or function.
func (b *Builder) Param(name string, dt DType) *Value {
	return b.param(name, KindTensor, dt)
}

// FlagParam declares a runtime bool parameter.
func (b *Builder) FlagParam(name string) *Value {
	return b.param(name, KindBool, Unresolved)
}

// HandleParam declares an autocast handle parameter.
func (b *Builder) HandleParam(name string) *Value {
	return b.param(name, KindHandle, Unresolved)
}

// ScalarParam declares a runtime number parameter.
func (b *Builder) ScalarParam(name string) *Value {
	return b.param(name, KindScalar, Unresolved)
}

func (b *Builder) param(name string, kind ValueKind, dt DType) *Value {
	if b.params == nil {
		panic("ir: parameters can only be declared on graph or function bodies")
	}
	v := b.g.NewValue(kind, dt, name)
	*b.params = append(*b.params, v)
	return v
}

// Op emits a kernel call with one tensor output. The output dtype stays
// Unresolved until the pass infers it.
func (b *Builder) Op(op string, inputs ...*Value) *Value {
	n := b.emit(NodeOp, op, inputs...)
	return b.g.AddOutput(n, KindTensor, Unresolved, "")
}

// OpN emits a kernel call with n tensor outputs.
func (b *Builder) OpN(op string, n int, inputs ...*Value) []*Value {
	node := b.emit(NodeOp, op, inputs...)
	for range n {
		b.g.AddOutput(node, KindTensor, Unresolved, "")
	}
	return node.Outputs
}

// FlagOp emits an op producing a bool flag (comparisons, not/and/or).
func (b *Builder) FlagOp(op string, inputs ...*Value) *Value {
	n := b.emit(NodeOp, op, inputs...)
	return b.g.AddOutput(n, KindBool, Unresolved, "")
}

// Const emits a bool literal.
func (b *Builder) Const(v bool) *Value {
	n := b.emit(NodeConst, "")
	n.Attrs = IRObject{"value": IRBool(v)}
	return b.g.AddOutput(n, KindBool, Unresolved, "")
}

// Scalar emits a number literal, kept as its source text.
func (b *Builder) Scalar(text string) *Value {
	n := b.emit(NodeConst, "")
	n.Attrs = IRObject{"value": IRString(text)}
	return b.g.AddOutput(n, KindScalar, Unresolved, "")
}

// Cast emits an explicit, user-written cast.
func (b *Builder) Cast(v *Value, dt DType) *Value {
	n := b.emit(NodeCast, "", v)
	n.Attrs = IRObject{"dtype": IRString(dt.String())}
	return b.g.AddOutput(n, KindTensor, dt, "")
}

// Autocast creates a reusable autocast handle from an enabled flag.
func (b *Builder) Autocast(enabled *Value) *Value {
	n := b.emit(NodeHandle, "", enabled)
	b.g.AddHandle(n)
	return b.g.AddOutput(n, KindHandle, Unresolved, "")
}

// Enter opens a region from a bool flag or a handle.
func (b *Builder) Enter(v *Value) *Node {
	return b.emit(NodeEnter, "", v)
}

// Exit closes the innermost region. v may be nil; when it is a handle it
// must match the handle that opened the region.
func (b *Builder) Exit(v *Value) *Node {
	if v == nil {
		return b.emit(NodeExit, "")
	}
	return b.emit(NodeExit, "", v)
}

// With brackets body between Enter(v) and an exit. A region opened through a
// handle is closed through the same handle.
func (b *Builder) With(v *Value, body func(*Builder)) {
	b.Enter(v)
	body(b)
	if v.Kind == KindHandle {
		b.Exit(v)
		return
	}
	b.Exit(nil)
}

// If emits a branch on cond. Both callbacks must return the same number of
// values; the returned join values take their kind from the then branch.
func (b *Builder) If(cond *Value, then, els func(*Builder) []*Value) []*Value {
	n, tb, eb := b.Branch(cond)
	ty := then(tb)
	ey := els(eb)
	return b.Join(n, ty, ey)
}

// Branch emits an if node on cond and returns builders for its two arms.
// The node has no outputs until Join is called.
func (b *Builder) Branch(cond *Value) (*Node, *Builder, *Builder) {
	n := b.emit(NodeIf, "", cond)
	tb := &Block{Owner: n}
	eb := &Block{Owner: n}
	n.Blocks = []*Block{tb, eb}
	return n, b.nested(tb), b.nested(eb)
}

// Join sets the yields of both arms of n and creates one join value per pair.
func (b *Builder) Join(n *Node, then, els []*Value) []*Value {
	if len(then) != len(els) {
		panic(fmt.Sprintf("ir: if branches yield %d and %d values", len(then), len(els)))
	}
	n.Blocks[0].SetYields(then...)
	n.Blocks[1].SetYields(els...)
	for _, v := range then {
		b.g.AddOutput(n, v.Kind, Unresolved, v.Name)
	}
	return n.Outputs
}

// Loop emits a loop carrying the given values. body receives the block
// params standing for the carried values and returns their next values.
func (b *Builder) Loop(carried []*Value, body func(b *Builder, params []*Value) []*Value) []*Value {
	n, lb := b.OpenLoop(carried)
	return b.CloseLoop(n, body(lb, n.Blocks[0].Params))
}

// OpenLoop emits a loop node carrying the given values and returns a builder
// for its body, whose params stand for the carried values.
func (b *Builder) OpenLoop(carried []*Value) (*Node, *Builder) {
	n := b.emit(NodeLoop, "", carried...)
	lb := &Block{Owner: n}
	n.Blocks = []*Block{lb}
	for _, v := range carried {
		b.g.AddBlockParam(lb, v.Kind, Unresolved, v.Name)
	}
	return n, b.nested(lb)
}

// CloseLoop sets the back-edge values of n and creates its outputs.
func (b *Builder) CloseLoop(n *Node, next []*Value) []*Value {
	if len(next) != len(n.Inputs) {
		panic(fmt.Sprintf("ir: loop body yields %d values for %d carried", len(next), len(n.Inputs)))
	}
	n.Blocks[0].SetYields(next...)
	for _, v := range n.Inputs {
		b.g.AddOutput(n, v.Kind, Unresolved, v.Name)
	}
	return n.Outputs
}

// Call emits a call to a registered function; outputs mirror its returns.
func (b *Builder) Call(name string, args ...*Value) []*Value {
	f, ok := b.g.Funcs[name]
	if !ok {
		panic(fmt.Sprintf("ir: unknown function %q", name))
	}
	n := b.emit(NodeCall, name, args...)
	for _, r := range f.Body.Yields {
		b.g.AddOutput(n, r.Kind, Unresolved, "")
	}
	return n.Outputs
}

// Name sets the debug name of v and returns it.
func (b *Builder) Name(v *Value, name string) *Value {
	v.Name = name
	return v
}

// Return sets the values yielded by the current body.
func (b *Builder) Return(vals ...*Value) {
	b.block.SetYields(vals...)
}
