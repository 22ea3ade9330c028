package amp

import (
	"slices"

	"github.com/roach88/ampc/internal/ir"
)

// frame is one open autocast region.
type frame struct {
	enabled bool
	handles []ir.HandleID // identities that opened the region; empty for an inline flag
	enter   *ir.Node
}

// regionStack is the stack of open regions at a program point. It is
// treated as immutable: push and pop return new stacks.
type regionStack []frame

func (s regionStack) push(f frame) regionStack {
	return append(slices.Clip(s), f)
}

func (s regionStack) pop() regionStack {
	return slices.Clip(s[:len(s)-1])
}

func (s regionStack) top() frame {
	return s[len(s)-1]
}

// context is the annotation for a node at this point.
func (s regionStack) context() *ir.Context {
	if len(s) == 0 {
		return &ir.Context{State: ir.StateOff}
	}
	f := s.top()
	state := ir.StateOff
	if f.enabled {
		state = ir.StateOn
	}
	return &ir.Context{State: state, Handles: slices.Clone(f.handles), Depth: len(s)}
}

// tracker is the region tracker: it walks blocks in program order and
// attaches the innermost region's context to every node.
type tracker struct {
	res     *resolver
	regions int
}

// track annotates the whole graph body. Regions must all be closed by the
// end of the program.
func (t *tracker) track(g *ir.Graph) error {
	end, err := t.block(g.Body, nil, 0)
	if err != nil {
		return err
	}
	if len(end) > 0 {
		open := end.top()
		return newDiag(UnsupportedRegionNesting, open.enter,
			"region opened by %s is never closed", open.enter.Label())
	}
	return nil
}

// block walks b starting from the stack in. floor is the depth below which
// regions belong to an enclosing block and must not be closed from b.
func (t *tracker) block(b *ir.Block, in regionStack, floor int) (regionStack, error) {
	s := in
	for _, n := range b.Nodes {
		n.Context = s.context()
		var err error
		switch n.Kind {
		case ir.NodeEnter:
			s, err = t.enter(n, s)
		case ir.NodeExit:
			s, err = t.exit(n, s, floor)
		case ir.NodeIf:
			err = t.branch(n, s)
		case ir.NodeLoop:
			err = t.loop(n, s)
		case ir.NodeCall:
			err = newDiag(UnsupportedCall, n, "call to %q was not inlined", n.Op)
		}
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (t *tracker) enter(n *ir.Node, s regionStack) (regionStack, error) {
	v := n.Inputs[0]
	switch v.Kind {
	case ir.KindHandle:
		h := t.res.handle(v)
		if h.divergent {
			return nil, newDiag(DivergentAutocastState, h.node,
				"handles with different enabled flags reach the join feeding %s: %s", n.Label(), h.reason).
				withValue(v).withHandle(h.id)
		}
		if !h.ok() {
			return nil, newDiag(NonStaticAutocastState, n, "region entered through %s", h.reason).
				withValue(v).withHandle(h.id)
		}
		enabled, creator := t.res.handleEnabled(h.id)
		if !enabled.known {
			return nil, newDiag(NonStaticAutocastState, n,
				"enabled flag of handle h%d created by %s is not static: %s", h.id, creator.Label(), enabled.reason).
				withValue(creator.Inputs[0]).withHandle(h.id)
		}
		t.regions++
		return s.push(frame{enabled: enabled.value, handles: []ir.HandleID{h.id}, enter: n}), nil

	case ir.KindBool:
		enabled := t.res.flag(v)
		if enabled.join != nil {
			return nil, newDiag(DivergentAutocastState, enabled.join,
				"autocast state of the region entered by %s differs across paths: %s", n.Label(), enabled.reason).
				withValue(v)
		}
		if !enabled.known {
			return nil, newDiag(NonStaticAutocastState, n,
				"region enabled flag is not static: %s", enabled.reason).withValue(v)
		}
		t.regions++
		return s.push(frame{enabled: enabled.value, enter: n}), nil
	}
	return nil, newDiag(NonStaticAutocastState, n,
		"region must be entered with a bool flag or an autocast handle, got %s", v.Kind).withValue(v)
}

func (t *tracker) exit(n *ir.Node, s regionStack, floor int) (regionStack, error) {
	if len(s) == 0 {
		return nil, newDiag(UnsupportedRegionNesting, n, "exit without a matching enter")
	}
	if len(s) <= floor {
		return nil, newDiag(UnsupportedRegionNesting, n,
			"exit closes region opened by %s outside the enclosing block", s.top().enter.Label())
	}
	if len(n.Inputs) == 1 && n.Inputs[0].Kind == ir.KindHandle {
		h := t.res.handle(n.Inputs[0])
		if !h.ok() {
			return nil, newDiag(NonStaticAutocastState, n, "region exited through %s", h.reason).
				withValue(n.Inputs[0]).withHandle(h.id)
		}
		if top := s.top(); !slices.Contains(top.handles, h.id) {
			return nil, newDiag(UnsupportedRegionNesting, n,
				"exit of handle h%d does not match innermost region opened by %s", h.id, top.enter.Label()).
				withHandle(h.id)
		}
	}
	return s.pop(), nil
}

// branch tracks both arms of an if. Each arm is a block of its own, so
// the stack after either arm is the stack before the branch.
func (t *tracker) branch(n *ir.Node, s regionStack) error {
	for _, arm := range n.Blocks {
		end, err := t.block(arm, s, len(s))
		if err != nil {
			return err
		}
		if err := closedIn(end, s, "an if arm", "the join"); err != nil {
			return err
		}
	}
	return nil
}

// loop tracks the body once. Regions opened in the body must close in the
// body, so the back-edge state equals the entry state and one pass is a
// fixpoint.
func (t *tracker) loop(n *ir.Node, s regionStack) error {
	end, err := t.block(n.Blocks[0], s, len(s))
	if err != nil {
		return err
	}
	return closedIn(end, s, "a loop body", "the back-edge")
}

// closedIn checks that a nested block left the stack as it found it.
func closedIn(end, in regionStack, where, edge string) error {
	if len(end) > len(in) {
		open := end.top()
		return newDiag(UnsupportedRegionNesting, open.enter,
			"region opened by %s in %s stays open across %s", open.enter.Label(), where, edge)
	}
	return nil
}
