package ir

import (
	"fmt"
	"maps"
	"slices"

	"cuelang.org/go/cue/token"
)

// ValueKind distinguishes tensors from the scalar and handle values that
// steer control flow and autocast regions.
type ValueKind uint8

const (
	KindTensor ValueKind = iota
	KindBool             // scalar flag: branch conditions, region enable flags
	KindScalar           // number literal; never promotes a tensor operand
	KindHandle           // autocast handle
)

func (k ValueKind) String() string {
	switch k {
	case KindTensor:
		return "tensor"
	case KindBool:
		return "bool"
	case KindScalar:
		return "scalar"
	case KindHandle:
		return "handle"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseValueKind maps a parameter type spelling to a kind and, for tensors, a dtype.
func ParseValueKind(s string) (ValueKind, DType, error) {
	switch s {
	case "flag":
		return KindBool, Unresolved, nil
	case "scalar":
		return KindScalar, Unresolved, nil
	case "handle":
		return KindHandle, Unresolved, nil
	}
	d, err := ParseDType(s)
	if err != nil {
		return 0, Unresolved, err
	}
	return KindTensor, d, nil
}

// NodeKind identifies what a node does.
type NodeKind uint8

const (
	NodeOp       NodeKind = iota // named kernel call
	NodeConst                    // bool or scalar literal
	NodeCast                     // user-written cast; never rewritten by the pass
	NodeAutoCast                 // cast inserted by the pass
	NodeHandle                   // creates an autocast handle from an enabled flag
	NodeEnter                    // opens an autocast region
	NodeExit                     // closes the innermost autocast region
	NodeIf                       // two-way branch; outputs are join values
	NodeLoop                     // loop; body params are back-edge join values
	NodeCall                     // call to a Function, inlined per call site
)

var nodeKindNames = [...]string{
	NodeOp:       "op",
	NodeConst:    "const",
	NodeCast:     "cast",
	NodeAutoCast: "autocast",
	NodeHandle:   "handle",
	NodeEnter:    "enter",
	NodeExit:     "exit",
	NodeIf:       "if",
	NodeLoop:     "loop",
	NodeCall:     "call",
}

func (k NodeKind) String() string {
	if int(k) < len(nodeKindNames) {
		return nodeKindNames[k]
	}
	return fmt.Sprintf("node(%d)", uint8(k))
}

// Use is one consumer slot of a value: either input Index of Node, or
// yield Index of Block when Node is nil.
type Use struct {
	Node  *Node
	Block *Block
	Index int
}

// Value is an edge of the program graph.
type Value struct {
	ID       int
	Name     string
	Kind     ValueKind
	DType    DType
	Producer *Node  // nil for graph, function and block parameters
	Owner    *Block // set for block parameters
	Uses     []Use
}

// IsParam reports whether v is a parameter rather than a node output.
func (v *Value) IsParam() bool {
	return v.Producer == nil
}

func (v *Value) String() string {
	if v.Name != "" {
		return fmt.Sprintf("%%%s.%d", v.Name, v.ID)
	}
	return fmt.Sprintf("%%%d", v.ID)
}

func (v *Value) removeUse(u Use) {
	for i, have := range v.Uses {
		if have == u {
			v.Uses = slices.Delete(v.Uses, i, i+1)
			return
		}
	}
}

// Node is an operation of the program graph.
type Node struct {
	ID      int
	Kind    NodeKind
	Op      string // kernel name for NodeOp, callee for NodeCall
	Inputs  []*Value
	Outputs []*Value
	Blocks  []*Block
	Attrs   IRObject
	Pos     token.Pos
	Block   *Block   // owning block
	Context *Context // static autocast context, set by the region tracker
}

// SetInput rewires input i to v, keeping use lists consistent.
func (n *Node) SetInput(i int, v *Value) {
	if old := n.Inputs[i]; old != nil {
		old.removeUse(Use{Node: n, Index: i})
	}
	n.Inputs[i] = v
	v.Uses = append(v.Uses, Use{Node: n, Index: i})
}

// Attr returns a named attribute or nil.
func (n *Node) Attr(key string) IRValue {
	if n.Attrs == nil {
		return nil
	}
	return n.Attrs[key]
}

// StringAttr returns a string attribute, "" when absent.
func (n *Node) StringAttr(key string) string {
	if s, ok := n.Attr(key).(IRString); ok {
		return string(s)
	}
	return ""
}

// BoolAttr returns a bool attribute and whether it was present.
func (n *Node) BoolAttr(key string) (bool, bool) {
	b, ok := n.Attr(key).(IRBool)
	return bool(b), ok
}

// TargetDType returns the dtype attribute of a cast node.
func (n *Node) TargetDType() DType {
	d, _ := ParseDType(n.StringAttr("dtype"))
	return d
}

// Label is a short human-readable identity used in diagnostics.
func (n *Node) Label() string {
	if n.Op != "" {
		return fmt.Sprintf("%s#%d", n.Op, n.ID)
	}
	return fmt.Sprintf("%s#%d", n.Kind, n.ID)
}

// Block is a straight-line sequence of nodes. Params are loop-carried
// values, Yields are handed to the owning node (or returned from the graph).
type Block struct {
	Nodes  []*Node
	Params []*Value
	Yields []*Value
	Owner  *Node // nil for graph and function bodies
}

// Append adds n at the end of b.
func (b *Block) Append(n *Node) {
	n.Block = b
	b.Nodes = append(b.Nodes, n)
}

// InsertBefore places n immediately before anchor, which must be in b.
func (b *Block) InsertBefore(anchor, n *Node) {
	i := slices.Index(b.Nodes, anchor)
	if i < 0 {
		panic(fmt.Sprintf("ir: %s is not in block", anchor.Label()))
	}
	n.Block = b
	b.Nodes = slices.Insert(b.Nodes, i, n)
}

// SetYields replaces the yields of b.
func (b *Block) SetYields(vals ...*Value) {
	for i, v := range b.Yields {
		v.removeUse(Use{Block: b, Index: i})
	}
	b.Yields = vals
	for i, v := range vals {
		v.Uses = append(v.Uses, Use{Block: b, Index: i})
	}
}

// HandleID is the identity of an autocast handle: its index in Graph.Handles plus one.
type HandleID int

// NoHandle marks a region entered with an inline flag.
const NoHandle HandleID = 0

// Handle is one entry of the handle table.
type Handle struct {
	ID   HandleID
	Node *Node // the NodeHandle that creates it
}

// Function is a subroutine reachable through NodeCall.
type Function struct {
	Name   string
	Params []*Value
	Body   *Block
	Pos    token.Pos
}

// Graph is a compiled program: parameters, a body whose yields are the
// returned values, callable functions and the autocast handle table.
type Graph struct {
	Name    string
	Params  []*Value
	Body    *Block
	Funcs   map[string]*Function
	Handles []*Handle
	Pos     token.Pos

	nextValue int
	nextNode  int
}

// NewGraph returns an empty graph.
func NewGraph(name string) *Graph {
	return &Graph{
		Name:  name,
		Body:  &Block{},
		Funcs: make(map[string]*Function),
	}
}

// FuncNames lists the function names in sorted order.
func (g *Graph) FuncNames() []string {
	return slices.Sorted(maps.Keys(g.Funcs))
}

// Returns are the values yielded by the graph body.
func (g *Graph) Returns() []*Value {
	return g.Body.Yields
}

// NewValue allocates a value with a fresh ID.
func (g *Graph) NewValue(kind ValueKind, dt DType, name string) *Value {
	g.nextValue++
	return &Value{ID: g.nextValue, Kind: kind, DType: dt, Name: name}
}

// NewNode allocates a node with a fresh ID and registers its input uses.
// The node is not placed in any block.
func (g *Graph) NewNode(kind NodeKind, op string, inputs ...*Value) *Node {
	g.nextNode++
	n := &Node{ID: g.nextNode, Kind: kind, Op: op, Inputs: make([]*Value, len(inputs))}
	for i, v := range inputs {
		n.Inputs[i] = v
		v.Uses = append(v.Uses, Use{Node: n, Index: i})
	}
	return n
}

// AddOutput appends a fresh output value to n.
func (g *Graph) AddOutput(n *Node, kind ValueKind, dt DType, name string) *Value {
	v := g.NewValue(kind, dt, name)
	v.Producer = n
	n.Outputs = append(n.Outputs, v)
	return v
}

// AddBlockParam appends a fresh parameter to b.
func (g *Graph) AddBlockParam(b *Block, kind ValueKind, dt DType, name string) *Value {
	v := g.NewValue(kind, dt, name)
	v.Owner = b
	b.Params = append(b.Params, v)
	return v
}

// AddHandle registers the handle created by n and returns its identity.
func (g *Graph) AddHandle(n *Node) HandleID {
	id := HandleID(len(g.Handles) + 1)
	g.Handles = append(g.Handles, &Handle{ID: id, Node: n})
	if n.Attrs == nil {
		n.Attrs = IRObject{}
	}
	n.Attrs["handle"] = IRInt(id)
	return id
}

// HandleOf returns the handle created by a NodeHandle.
func (g *Graph) HandleOf(n *Node) *Handle {
	id, ok := n.Attr("handle").(IRInt)
	if !ok || id < 1 || int(id) > len(g.Handles) {
		return nil
	}
	return g.Handles[id-1]
}

// Walk visits every node of b and its nested blocks in program order.
// Returning false from fn stops the walk.
func Walk(b *Block, fn func(*Node) bool) bool {
	for _, n := range b.Nodes {
		if !fn(n) {
			return false
		}
		for _, sub := range n.Blocks {
			if !Walk(sub, fn) {
				return false
			}
		}
	}
	return true
}

// Nodes returns every node of the graph body in program order.
func (g *Graph) Nodes() []*Node {
	var out []*Node
	Walk(g.Body, func(n *Node) bool {
		out = append(out, n)
		return true
	})
	return out
}

// FindValue returns the last value carrying the given debug name, so a name
// reassigned in branches resolves to its join value. Outputs of a node with
// nested blocks count as defined after those blocks.
func (g *Graph) FindValue(name string) *Value {
	var found *Value
	for _, p := range g.Params {
		if p.Name == name {
			found = p
		}
	}
	var visit func(b *Block)
	visit = func(b *Block) {
		for _, p := range b.Params {
			if p.Name == name {
				found = p
			}
		}
		for _, n := range b.Nodes {
			for _, sub := range n.Blocks {
				visit(sub)
			}
			for _, v := range n.Outputs {
				if v.Name == name {
					found = v
				}
			}
		}
	}
	visit(g.Body)
	return found
}

// CountNodes returns how many nodes of the given kind the body contains.
func (g *Graph) CountNodes(kind NodeKind) int {
	count := 0
	Walk(g.Body, func(n *Node) bool {
		if n.Kind == kind {
			count++
		}
		return true
	})
	return count
}

// Detach drops the uses n holds on its inputs and its nested blocks' yields.
// It is called when n is removed from the graph.
func (n *Node) Detach() {
	for i, v := range n.Inputs {
		v.removeUse(Use{Node: n, Index: i})
	}
	for _, sub := range n.Blocks {
		sub.SetYields()
	}
}

// ReplaceAllUsesWith points every consumer of v at nv.
func (v *Value) ReplaceAllUsesWith(nv *Value) {
	uses := slices.Clone(v.Uses)
	for _, u := range uses {
		if u.Node != nil {
			u.Node.SetInput(u.Index, nv)
			continue
		}
		u.Block.SetYield(u.Index, nv)
	}
}

// SetYield replaces yield i of b.
func (b *Block) SetYield(i int, v *Value) {
	b.Yields[i].removeUse(Use{Block: b, Index: i})
	b.Yields[i] = v
	v.Uses = append(v.Uses, Use{Block: b, Index: i})
}

// Splice replaces n, which must be in b, by nodes.
func (b *Block) Splice(n *Node, nodes []*Node) {
	i := slices.Index(b.Nodes, n)
	if i < 0 {
		panic(fmt.Sprintf("ir: %s is not in block", n.Label()))
	}
	for _, nn := range nodes {
		nn.Block = b
	}
	b.Nodes = slices.Replace(b.Nodes, i, i+1, nodes...)
}
