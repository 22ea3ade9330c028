package ir

import (
	"fmt"
	"io"
	"strings"
)

// Print renders g in a line-oriented text form, one node per line:
//
//	graph fn(%a.1 : float32, %b.2 : float32):
//	  %3 : bool = const[value=true]()
//	  enter(%3)
//	  %6 : float16 = autocast[dtype=float16](%a.1)
//	  %e.5 : float16 = mm(%6, %6)  # on/1
//	  exit()
//	  return(%e.5)
//
// Functions are printed after the graph in name order.
func Print(g *Graph) string {
	var sb strings.Builder
	Fprint(&sb, g)
	return sb.String()
}

// Fprint writes the text form of g to w.
func Fprint(w io.Writer, g *Graph) {
	p := &printer{w: w}
	p.header("graph", g.Name, g.Params)
	p.block(g.Body, 1)
	p.line(1, "return(%s)", valueList(g.Body.Yields))

	for _, name := range g.FuncNames() {
		f := g.Funcs[name]
		p.header("func", f.Name, f.Params)
		p.block(f.Body, 1)
		p.line(1, "return(%s)", valueList(f.Body.Yields))
	}
}

type printer struct {
	w io.Writer
}

func (p *printer) line(depth int, format string, args ...any) {
	fmt.Fprintf(p.w, "%s%s\n", strings.Repeat("  ", depth), fmt.Sprintf(format, args...))
}

func (p *printer) header(kind, name string, params []*Value) {
	fmt.Fprintf(p.w, "%s %s(%s):\n", kind, name, typedList(params))
}

func (p *printer) block(b *Block, depth int) {
	for _, n := range b.Nodes {
		p.node(n, depth)
	}
}

func (p *printer) node(n *Node, depth int) {
	var sb strings.Builder
	if len(n.Outputs) > 0 {
		sb.WriteString(typedList(n.Outputs))
		sb.WriteString(" = ")
	}
	if n.Kind == NodeOp {
		sb.WriteString(n.Op)
	} else {
		sb.WriteString(n.Kind.String())
	}
	if attrs := attrList(n); attrs != "" {
		sb.WriteString("[" + attrs + "]")
	}
	sb.WriteString("(" + valueList(n.Inputs) + ")")
	if n.Kind == NodeOp && n.Context != nil {
		sb.WriteString("  # " + n.Context.String())
	}
	p.line(depth, "%s", sb.String())

	for i, sub := range n.Blocks {
		p.line(depth+1, "block%d(%s):", i, typedList(sub.Params))
		p.block(sub, depth+2)
		p.line(depth+2, "-> (%s)", valueList(sub.Yields))
	}
}

func attrList(n *Node) string {
	var parts []string
	if n.Kind == NodeCall {
		parts = append(parts, "fn="+n.Op)
	}
	for _, k := range n.Attrs.SortedKeys() {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatAttr(n.Attrs[k])))
	}
	return strings.Join(parts, ", ")
}

func formatAttr(v IRValue) string {
	switch val := v.(type) {
	case IRString:
		return string(val)
	case IRInt:
		return fmt.Sprintf("%d", val)
	case IRBool:
		return fmt.Sprintf("%t", bool(val))
	}
	return fmt.Sprintf("%v", v)
}

func typeName(v *Value) string {
	if v.Kind == KindTensor {
		return v.DType.String()
	}
	return v.Kind.String()
}

func typedList(vals []*Value) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%s : %s", v, typeName(v))
	}
	return strings.Join(parts, ", ")
}

func valueList(vals []*Value) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}
