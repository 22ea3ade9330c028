package amp

import "github.com/roach88/ampc/internal/ir"

// onOff names a static autocast state in messages.
func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

// joinDTypes merges the candidate sets reaching a join value. The result is
// resolved when every path agrees and keeps all candidates otherwise; whether
// the unresolved value is tolerable is decided at its consumers.
func joinDTypes(sets ...ir.DTypeSet) ir.DTypeSet {
	var out ir.DTypeSet
	for _, s := range sets {
		out = out.Union(s)
	}
	return out
}

// unresolvedUse reports an unresolved value reaching a consumer that does
// not normalize it.
func unresolvedUse(n *ir.Node, v *ir.Value, s ir.DTypeSet, why string) *Diagnostic {
	d := newDiag(DivergentValueType, n,
		"%s has dtype %s after a join and reaches %s, which %s", v, s, n.Label(), why).withValue(v)
	if v.Producer != nil && (v.Producer.Kind == ir.NodeIf || v.Producer.Kind == ir.NodeLoop) && !d.Pos.IsValid() {
		d.Pos = v.Producer.Pos
	}
	return d
}
