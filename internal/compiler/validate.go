package compiler

import (
	"fmt"

	"github.com/roach88/ampc/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrNilGraph = "E100" // nothing to validate

	// Declarations (E101-E104)
	ErrDuplicateParam  = "E101" // two parameters share a name
	ErrUnresolvedParam = "E102" // tensor parameter without a dtype
	ErrUnknownFunction = "E103" // call to a function the graph does not carry
	ErrCallArity       = "E104" // argument or result count differs from the function

	// Nodes (E110-E119)
	ErrOpNoName      = "E110" // op without a kernel name
	ErrInvalidCast   = "E111" // cast without a known target dtype or of a non-tensor
	ErrRegionOperand = "E112" // enter/exit/autocast operand has the wrong kind
	ErrBranchShape   = "E113" // if arms disagree with the join values
	ErrLoopShape     = "E114" // loop body disagrees with the carried values
	ErrUndefinedUse  = "E115" // input not defined before its use
)

// ValidationError represents a structural error in a compiled graph.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks the structure of a compiled graph.
// Returns all errors found (does not fail-fast).
func Validate(g *ir.Graph) []ValidationError {
	if g == nil {
		return []ValidationError{{Field: "graph", Message: "graph is nil", Code: ErrNilGraph}}
	}
	v := &validator{g: g}
	v.params("params", g.Params)
	v.block(g.Body, visibleSet(nil, g.Params), "body")
	for _, name := range g.FuncNames() {
		f := g.Funcs[name]
		field := "functions." + name
		v.params(field+".params", f.Params)
		v.block(f.Body, visibleSet(nil, f.Params), field)
	}
	return v.errs
}

type validator struct {
	g    *ir.Graph
	errs []ValidationError
}

func (v *validator) add(field, code string, n *ir.Node, format string, args ...any) {
	line := 0
	if n != nil && n.Pos.IsValid() {
		line = n.Pos.Line()
	}
	v.errs = append(v.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
		Line:    line,
	})
}

func (v *validator) params(field string, params []*ir.Value) {
	seen := make(map[string]bool)
	for _, p := range params {
		if seen[p.Name] {
			v.add(field, ErrDuplicateParam, nil, "duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true
		if p.Kind == ir.KindTensor && p.DType == ir.Unresolved {
			v.add(field, ErrUnresolvedParam, nil, "tensor parameter %q needs a dtype", p.Name)
		}
	}
}

func visibleSet(outer map[*ir.Value]bool, vals []*ir.Value) map[*ir.Value]bool {
	s := make(map[*ir.Value]bool, len(outer)+len(vals))
	for k := range outer {
		s[k] = true
	}
	for _, val := range vals {
		s[val] = true
	}
	return s
}

// block checks every node of b. visible holds the values defined before b's
// first node; it is extended in place as nodes define outputs.
func (v *validator) block(b *ir.Block, visible map[*ir.Value]bool, field string) {
	for _, n := range b.Nodes {
		for i, in := range n.Inputs {
			if !visible[in] {
				v.add(field, ErrUndefinedUse, n, "%s input %d uses %s before it is defined", n.Label(), i, in)
			}
		}
		v.node(n, field)
		for _, sub := range n.Blocks {
			v.block(sub, visibleSet(visible, sub.Params), field)
		}
		for _, out := range n.Outputs {
			visible[out] = true
		}
	}
	for i, y := range b.Yields {
		if !visible[y] {
			v.add(field, ErrUndefinedUse, nil, "yield %d uses %s outside its scope", i, y)
		}
	}
}

func (v *validator) node(n *ir.Node, field string) {
	switch n.Kind {
	case ir.NodeOp:
		if n.Op == "" {
			v.add(field, ErrOpNoName, n, "%s has no kernel name", n.Label())
		}
	case ir.NodeCast:
		if n.TargetDType() == ir.Unresolved {
			v.add(field, ErrInvalidCast, n, "%s has no valid target dtype", n.Label())
		}
		if len(n.Inputs) != 1 || n.Inputs[0].Kind != ir.KindTensor {
			v.add(field, ErrInvalidCast, n, "%s must cast exactly one tensor", n.Label())
		}
	case ir.NodeHandle:
		if len(n.Inputs) != 1 || n.Inputs[0].Kind != ir.KindBool {
			v.add(field, ErrRegionOperand, n, "%s needs one flag operand", n.Label())
		}
	case ir.NodeEnter:
		if len(n.Inputs) != 1 || (n.Inputs[0].Kind != ir.KindBool && n.Inputs[0].Kind != ir.KindHandle) {
			v.add(field, ErrRegionOperand, n, "%s needs a flag or a handle", n.Label())
		}
	case ir.NodeExit:
		if len(n.Inputs) > 1 || (len(n.Inputs) == 1 && n.Inputs[0].Kind != ir.KindHandle) {
			v.add(field, ErrRegionOperand, n, "%s takes at most one handle", n.Label())
		}
	case ir.NodeIf:
		v.branch(n, field)
	case ir.NodeLoop:
		v.loop(n, field)
	case ir.NodeCall:
		f, ok := v.g.Funcs[n.Op]
		if !ok {
			v.add(field, ErrUnknownFunction, n, "unknown function %q", n.Op)
			return
		}
		if len(n.Inputs) != len(f.Params) || len(n.Outputs) != len(f.Body.Yields) {
			v.add(field, ErrCallArity, n, "%s: %s takes %d arguments and returns %d values",
				n.Label(), f.Name, len(f.Params), len(f.Body.Yields))
		}
	}
}

func (v *validator) branch(n *ir.Node, field string) {
	if len(n.Inputs) != 1 || n.Inputs[0].Kind != ir.KindBool {
		v.add(field, ErrBranchShape, n, "%s needs one flag condition", n.Label())
	}
	if len(n.Blocks) != 2 {
		v.add(field, ErrBranchShape, n, "%s needs two arms", n.Label())
		return
	}
	for arm, b := range n.Blocks {
		if len(b.Yields) != len(n.Outputs) {
			v.add(field, ErrBranchShape, n, "%s arm %d yields %d values for %d joins",
				n.Label(), arm, len(b.Yields), len(n.Outputs))
			continue
		}
		for i, y := range b.Yields {
			if y.Kind != n.Outputs[i].Kind {
				v.add(field, ErrBranchShape, n, "%s arm %d yield %d is a %s, join is a %s",
					n.Label(), arm, i, y.Kind, n.Outputs[i].Kind)
			}
		}
	}
}

func (v *validator) loop(n *ir.Node, field string) {
	if len(n.Blocks) != 1 {
		v.add(field, ErrLoopShape, n, "%s needs one body", n.Label())
		return
	}
	body := n.Blocks[0]
	if len(body.Params) != len(n.Inputs) || len(body.Yields) != len(n.Inputs) || len(n.Outputs) != len(n.Inputs) {
		v.add(field, ErrLoopShape, n, "%s carries %d values but has %d params, %d yields and %d outputs",
			n.Label(), len(n.Inputs), len(body.Params), len(body.Yields), len(n.Outputs))
		return
	}
	for i, in := range n.Inputs {
		if body.Yields[i].Kind != in.Kind || body.Params[i].Kind != in.Kind {
			v.add(field, ErrLoopShape, n, "%s carried value %d changes kind", n.Label(), i)
		}
	}
}
