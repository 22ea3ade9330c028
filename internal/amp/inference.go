package amp

import (
	"github.com/roach88/ampc/internal/ir"
	"github.com/roach88/ampc/internal/policy"
)

// KernelInference determines the output dtype of an op from the dtypes its
// tensor inputs have after casting. It stands in for the kernel library and
// must not depend on autocast state.
type KernelInference interface {
	OutputDType(op string, inputs []ir.DType) ir.DType
}

// PromotionInference is ordinary kernel promotion: the widest floating
// input wins, then the widest input of any dtype. Ops declared with a bool
// result in the table produce bool tensors. An op with no resolved tensor
// inputs produces float32.
type PromotionInference struct {
	Table *policy.Table
}

// OutputDType implements KernelInference.
func (p PromotionInference) OutputDType(op string, inputs []ir.DType) ir.DType {
	if p.Table != nil && p.Table.ResultIsBool(op) {
		return ir.Bool
	}
	widest, widestFloat := ir.Unresolved, ir.Unresolved
	for _, d := range inputs {
		widest = ir.Wider(widest, d)
		if d.IsFloating() {
			widestFloat = ir.Wider(widestFloat, d)
		}
	}
	switch {
	case widestFloat != ir.Unresolved:
		return widestFloat
	case widest != ir.Unresolved:
		return widest
	}
	return ir.Float
}
