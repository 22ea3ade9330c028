package ir

import "maps"

// cloner copies blocks. With fresh set, every copied value and node gets a
// new ID from dst; otherwise IDs are preserved.
type cloner struct {
	dst   *Graph
	fresh bool
	vmap  map[*Value]*Value
}

func (c *cloner) value(v *Value) *Value {
	if nv, ok := c.vmap[v]; ok {
		return nv
	}
	// Values defined outside the cloned region map to themselves.
	return v
}

func (c *cloner) newValue(v *Value) *Value {
	var nv *Value
	if c.fresh {
		nv = c.dst.NewValue(v.Kind, v.DType, v.Name)
	} else {
		nv = &Value{ID: v.ID, Kind: v.Kind, DType: v.DType, Name: v.Name}
	}
	c.vmap[v] = nv
	return nv
}

func (c *cloner) block(b *Block, owner *Node) *Block {
	nb := &Block{Owner: owner}
	for _, p := range b.Params {
		np := c.newValue(p)
		np.Owner = nb
		nb.Params = append(nb.Params, np)
	}
	for _, n := range b.Nodes {
		nb.Append(c.node(n))
	}
	yields := make([]*Value, len(b.Yields))
	for i, y := range b.Yields {
		yields[i] = c.value(y)
	}
	nb.SetYields(yields...)
	return nb
}

func (c *cloner) node(n *Node) *Node {
	inputs := make([]*Value, len(n.Inputs))
	for i, v := range n.Inputs {
		inputs[i] = c.value(v)
	}
	var nn *Node
	if c.fresh {
		nn = c.dst.NewNode(n.Kind, n.Op, inputs...)
	} else {
		nn = &Node{ID: n.ID, Kind: n.Kind, Op: n.Op, Inputs: make([]*Value, len(inputs))}
		for i, v := range inputs {
			nn.Inputs[i] = v
			v.Uses = append(v.Uses, Use{Node: nn, Index: i})
		}
	}
	nn.Pos = n.Pos
	nn.Context = n.Context
	if n.Attrs != nil {
		nn.Attrs = maps.Clone(n.Attrs)
	}
	for _, sub := range n.Blocks {
		nn.Blocks = append(nn.Blocks, c.block(sub, nn))
	}
	for _, o := range n.Outputs {
		no := c.newValue(o)
		no.Producer = nn
		nn.Outputs = append(nn.Outputs, no)
	}
	if n.Kind == NodeHandle && c.fresh {
		c.dst.AddHandle(nn)
	}
	return nn
}

// Clone returns a deep copy of g with identical value and node IDs.
func (g *Graph) Clone() *Graph {
	ng := &Graph{
		Name:      g.Name,
		Pos:       g.Pos,
		Funcs:     make(map[string]*Function, len(g.Funcs)),
		nextValue: g.nextValue,
		nextNode:  g.nextNode,
	}
	c := &cloner{dst: ng, vmap: make(map[*Value]*Value)}
	for _, p := range g.Params {
		ng.Params = append(ng.Params, c.newValue(p))
	}
	ng.Body = c.block(g.Body, nil)
	for name, f := range g.Funcs {
		nf := &Function{Name: f.Name, Pos: f.Pos}
		for _, p := range f.Params {
			nf.Params = append(nf.Params, c.newValue(p))
		}
		nf.Body = c.block(f.Body, nil)
		ng.Funcs[name] = nf
	}
	// Handle identities are preserved: rebuild the table from the copied nodes.
	ng.Handles = make([]*Handle, len(g.Handles))
	for _, body := range ng.bodies() {
		Walk(body, func(n *Node) bool {
			if n.Kind == NodeHandle {
				if h := g.HandleOf(n); h != nil {
					ng.Handles[h.ID-1] = &Handle{ID: h.ID, Node: n}
				}
			}
			return true
		})
	}
	return ng
}

// bodies lists the graph body followed by every function body.
func (g *Graph) bodies() []*Block {
	out := []*Block{g.Body}
	for _, f := range g.Funcs {
		out = append(out, f.Body)
	}
	return out
}

// CloneBlock copies b with fresh IDs, substituting args for the values in
// params. The copy is not attached to any node; handles created inside it
// are registered as new handles of g.
func (g *Graph) CloneBlock(b *Block, params, args []*Value) *Block {
	c := &cloner{dst: g, fresh: true, vmap: make(map[*Value]*Value, len(params))}
	for i, p := range params {
		c.vmap[p] = args[i]
	}
	return c.block(b, nil)
}
