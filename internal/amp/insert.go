package amp

import (
	"log/slog"

	"github.com/roach88/ampc/internal/ir"
	"github.com/roach88/ampc/internal/policy"
)

// CastRecord describes one inserted cast.
type CastRecord struct {
	Cast   *ir.Node // the inserted NodeAutoCast
	Node   *ir.Node // consumer
	Input  int      // consumer input index
	Value  *ir.Value
	From   ir.DTypeSet
	To     ir.DType
	Policy policy.Policy
}

type castKey struct {
	node  *ir.Node
	value *ir.Value
	to    ir.DType
}

// apply rewrites g with the planned casts and commits every planned dtype.
// A value feeding the same consumer twice shares one cast.
func (p *planner) apply(g *ir.Graph, logger *slog.Logger) []CastRecord {
	records := make([]CastRecord, 0, len(p.casts))
	inserted := make(map[castKey]*ir.Node)
	for _, c := range p.casts {
		v := c.node.Inputs[c.input]
		key := castKey{node: c.node, value: v, to: c.to}
		cast, ok := inserted[key]
		if !ok {
			cast = g.NewNode(ir.NodeAutoCast, "", v)
			cast.Attrs = ir.IRObject{"dtype": ir.IRString(c.to.String())}
			cast.Pos = c.node.Pos
			cast.Context = c.node.Context
			g.AddOutput(cast, ir.KindTensor, c.to, "")
			c.node.Block.InsertBefore(c.node, cast)
			inserted[key] = cast
			records = append(records, CastRecord{
				Cast: cast, Node: c.node, Input: c.input, Value: v,
				From: c.from, To: c.to, Policy: c.policy,
			})
			logger.Debug("inserted autocast",
				"op", c.node.Label(),
				"input", c.input,
				"from", c.from.String(),
				"to", c.to.String(),
				"policy", c.policy.String())
		}
		c.node.SetInput(c.input, cast.Outputs[0])
	}
	for v, s := range p.dtypes {
		v.DType = s.DType()
	}
	return records
}
