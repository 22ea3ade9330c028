package amp

import (
	"slices"
	"strings"

	"github.com/roach88/ampc/internal/ir"
)

// inliner replaces every call with a fresh copy of the callee body, so each
// call site is annotated in its own autocast context.
type inliner struct {
	g     *ir.Graph
	stack []string
	count int
}

// inlineCalls expands all calls of g and drops its functions.
func inlineCalls(g *ir.Graph) (int, error) {
	in := &inliner{g: g}
	if err := in.block(g.Body); err != nil {
		return 0, err
	}
	g.Funcs = make(map[string]*ir.Function)
	return in.count, nil
}

func (in *inliner) block(b *ir.Block) error {
	// Iterate over a snapshot: splicing changes b.Nodes.
	for _, n := range slices.Clone(b.Nodes) {
		for _, sub := range n.Blocks {
			if err := in.block(sub); err != nil {
				return err
			}
		}
		if n.Kind == ir.NodeCall {
			if err := in.call(b, n); err != nil {
				return err
			}
		}
	}
	return nil
}

func (in *inliner) call(b *ir.Block, n *ir.Node) error {
	f, ok := in.g.Funcs[n.Op]
	if !ok {
		return newDiag(UnsupportedCall, n, "unknown function %q", n.Op)
	}
	if slices.Contains(in.stack, f.Name) {
		return newDiag(UnsupportedCall, n, "recursive call %s -> %s cannot be inlined",
			strings.Join(in.stack, " -> "), f.Name)
	}
	if len(n.Inputs) != len(f.Params) {
		return newDiag(UnsupportedCall, n, "%s takes %d arguments, got %d", f.Name, len(f.Params), len(n.Inputs))
	}
	if len(n.Outputs) != len(f.Body.Yields) {
		return newDiag(UnsupportedCall, n, "%s returns %d values, call expects %d", f.Name, len(f.Body.Yields), len(n.Outputs))
	}

	body := in.g.CloneBlock(f.Body, f.Params, n.Inputs)
	in.stack = append(in.stack, f.Name)
	err := in.block(body)
	in.stack = in.stack[:len(in.stack)-1]
	if err != nil {
		return err
	}

	for _, cn := range body.Nodes {
		if cn.Pos.IsValid() || !n.Pos.IsValid() {
			continue
		}
		cn.Pos = n.Pos
	}
	b.Splice(n, body.Nodes)
	for i, out := range n.Outputs {
		y := body.Yields[i]
		if out.Name != "" && !slices.Contains(n.Inputs, y) && y.Producer != nil {
			y.Name = out.Name
		}
		out.ReplaceAllUsesWith(y)
	}
	body.SetYields()
	n.Detach()
	in.count++
	return nil
}
