package amp

import (
	"fmt"
	"math"
	"strconv"

	"github.com/x448/float16"

	"github.com/roach88/ampc/internal/ir"
	"github.com/roach88/ampc/internal/policy"
)

// castSite is one cast decision: input Input of Node receives a cast to To.
type castSite struct {
	node   *ir.Node
	input  int
	from   ir.DTypeSet
	to     ir.DType
	policy policy.Policy
}

// Warning is a non-fatal finding of the pass.
type Warning struct {
	Kind    string
	Message string
	Node    *ir.Node
}

func (w Warning) String() string {
	if w.Node != nil && w.Node.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", w.Node.Pos.Filename(), w.Node.Pos.Line(), w.Node.Pos.Column(), w.Kind, w.Message)
	}
	return w.Kind + ": " + w.Message
}

// ScalarOverflowsHalf: a number literal feeding a cast_to_lower op is not
// representable as a finite float16.
const ScalarOverflowsHalf = "ScalarOverflowsHalf"

// planner computes candidate dtypes for every value and the casts each use
// site needs. It does not modify the graph.
type planner struct {
	table *policy.Table
	infer KernelInference

	dtypes   map[*ir.Value]ir.DTypeSet
	casts    []castSite
	warnings []Warning
	visited  int // enabled-region ops with a table entry
}

func newPlanner(table *policy.Table, infer KernelInference) *planner {
	return &planner{
		table:  table,
		infer:  infer,
		dtypes: make(map[*ir.Value]ir.DTypeSet),
	}
}

// set returns the candidate dtypes of a tensor value.
func (p *planner) set(v *ir.Value) ir.DTypeSet {
	if s, ok := p.dtypes[v]; ok {
		return s
	}
	return ir.SetOf(v.DType)
}

func (p *planner) plan(g *ir.Graph) error {
	if err := p.block(g.Body); err != nil {
		return err
	}
	for _, v := range g.Returns() {
		if v.Kind != ir.KindTensor {
			continue
		}
		if s := p.set(v); s.Len() > 1 {
			d := newDiag(DivergentValueType, v.Producer,
				"%s is returned with dtype %s; paths disagree and nothing normalizes it", v, s).withValue(v)
			return d
		}
	}
	return nil
}

func (p *planner) block(b *ir.Block) error {
	for _, n := range b.Nodes {
		if err := p.node(n); err != nil {
			return err
		}
	}
	return nil
}

func (p *planner) node(n *ir.Node) error {
	switch n.Kind {
	case ir.NodeCast, ir.NodeAutoCast:
		p.dtypes[n.Outputs[0]] = ir.SetOf(n.TargetDType())
	case ir.NodeOp:
		return p.op(n)
	case ir.NodeIf:
		if err := p.block(n.Blocks[0]); err != nil {
			return err
		}
		if err := p.block(n.Blocks[1]); err != nil {
			return err
		}
		for i, out := range n.Outputs {
			if out.Kind == ir.KindTensor {
				p.dtypes[out] = joinDTypes(p.set(n.Blocks[0].Yields[i]), p.set(n.Blocks[1].Yields[i]))
			}
		}
	case ir.NodeLoop:
		return p.loop(n)
	}
	return nil
}

// loop joins the entry dtypes with the back-edge dtypes until the body
// params stop changing. Candidate sets only grow, so this terminates.
// Decisions from earlier iterations are discarded.
func (p *planner) loop(n *ir.Node) error {
	body := n.Blocks[0]
	for i, param := range body.Params {
		if param.Kind == ir.KindTensor {
			p.dtypes[param] = p.set(n.Inputs[i])
		}
	}
	casts, warnings, visited := len(p.casts), len(p.warnings), p.visited
	for {
		p.casts, p.warnings, p.visited = p.casts[:casts], p.warnings[:warnings], visited
		if err := p.block(body); err != nil {
			return err
		}
		changed := false
		for i, param := range body.Params {
			if param.Kind != ir.KindTensor {
				continue
			}
			next := joinDTypes(p.dtypes[param], p.set(body.Yields[i]))
			if next != p.dtypes[param] {
				p.dtypes[param] = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	for i, out := range n.Outputs {
		if out.Kind == ir.KindTensor {
			p.dtypes[out] = p.dtypes[body.Params[i]]
		}
	}
	return nil
}

// op decides the casts for one kernel call and infers its output dtype.
func (p *planner) op(n *ir.Node) error {
	pol := policy.Unchanged
	if n.Context.Enabled() {
		pol = p.table.Lookup(n.Op)
		if pol != policy.Unchanged {
			p.visited++
		}
	}
	if pol == policy.Banned {
		return newDiag(UnsafeAutocastOp, n, "%s is not safe to run in an enabled autocast region", n.Op)
	}

	var targets func(d ir.DType) ir.DType
	switch pol {
	case policy.CastToLower:
		targets = func(d ir.DType) ir.DType {
			if d.IsFloating() {
				return ir.Half
			}
			return d
		}
		p.checkScalars(n)
	case policy.CastToHigher:
		targets = func(d ir.DType) ir.DType {
			if d == ir.Half {
				return ir.Float
			}
			return d
		}
	case policy.PromoteToWidest:
		widest, err := p.widest(n)
		if err != nil {
			return err
		}
		targets = func(d ir.DType) ir.DType {
			if d.IsFloating() && d.Width() < widest.Width() {
				return widest
			}
			return d
		}
	}

	var in []ir.DType
	for i, v := range n.Inputs {
		if v.Kind != ir.KindTensor {
			continue
		}
		s := p.set(v)
		if targets == nil {
			if s.Len() > 1 {
				return unresolvedUse(n, v, s, "runs unchanged and does not normalize dtypes")
			}
			in = append(in, s.DType())
			continue
		}
		if isExplicitCast(v) {
			in = append(in, s.DType())
			continue
		}
		var mapped ir.DTypeSet
		for _, d := range s.Members() {
			mapped = mapped.Union(ir.SetOf(targets(d)))
		}
		if mapped.Len() > 1 {
			return unresolvedUse(n, v, s, fmt.Sprintf("maps it to %s under %s", mapped, pol))
		}
		to := mapped.DType()
		if s.Len() > 1 || (to != ir.Unresolved && s.DType() != to) {
			p.casts = append(p.casts, castSite{node: n, input: i, from: s, to: to, policy: pol})
		}
		in = append(in, to)
	}

	for _, out := range n.Outputs {
		if out.Kind == ir.KindTensor {
			p.dtypes[out] = ir.SetOf(p.infer.OutputDType(n.Op, in))
		}
	}
	return nil
}

// widest is the promotion width of a promote_to_widest op. It must be the
// same for every candidate dtype of every unresolved input.
func (p *planner) widest(n *ir.Node) (ir.DType, error) {
	fixed := ir.Unresolved
	for _, v := range n.Inputs {
		if v.Kind != ir.KindTensor {
			continue
		}
		if d, ok := p.set(v).Resolved(); ok && d.IsFloating() {
			fixed = ir.Wider(fixed, d)
		}
	}
	var possible ir.DTypeSet
	for _, v := range n.Inputs {
		s := p.set(v)
		if v.Kind != ir.KindTensor || s.Len() <= 1 {
			continue
		}
		for _, d := range s.Members() {
			if d.IsFloating() {
				possible = possible.Union(ir.SetOf(ir.Wider(fixed, d)))
			}
		}
		if possible.Len() > 1 {
			return ir.Unresolved, unresolvedUse(n, v, s,
				fmt.Sprintf("would promote to %s depending on the path taken", possible))
		}
	}
	if d, ok := possible.Resolved(); ok {
		return d, nil
	}
	return fixed, nil
}

// checkScalars warns about number literals that overflow float16.
func (p *planner) checkScalars(n *ir.Node) {
	for _, v := range n.Inputs {
		if v.Kind != ir.KindScalar || v.Producer == nil || v.Producer.Kind != ir.NodeConst {
			continue
		}
		text := v.Producer.StringAttr("value")
		f, err := strconv.ParseFloat(text, 64)
		if math.IsNaN(f) || (err != nil && !math.IsInf(f, 0)) {
			continue
		}
		if h := float16.Fromfloat32(float32(f)); h.IsInf(0) {
			p.warnings = append(p.warnings, Warning{
				Kind:    ScalarOverflowsHalf,
				Message: fmt.Sprintf("literal %s feeding %s overflows float16", text, n.Label()),
				Node:    n,
			})
		}
	}
}

// isExplicitCast reports whether v comes straight from a user-written cast.
// Such inputs keep their dtype at every use site.
func isExplicitCast(v *ir.Value) bool {
	return v.Producer != nil && v.Producer.Kind == ir.NodeCast
}
