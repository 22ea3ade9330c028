package compiler

import (
	"slices"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"

	"github.com/roach88/ampc/internal/ir"
	"github.com/roach88/ampc/internal/policy"
)

// scope binds source names to their current SSA value.
type scope struct {
	vars  map[string]*ir.Value
	order []string // first-binding order
}

func newScope() *scope {
	return &scope{vars: make(map[string]*ir.Value)}
}

func (s *scope) clone() *scope {
	c := &scope{vars: make(map[string]*ir.Value, len(s.vars)), order: slices.Clone(s.order)}
	for k, v := range s.vars {
		c.vars[k] = v
	}
	return c
}

func (s *scope) bind(name string, v *ir.Value) {
	if _, ok := s.vars[name]; !ok {
		s.order = append(s.order, name)
	}
	v.Name = name
	s.vars[name] = v
}

func (s *scope) lookup(name string) (*ir.Value, bool) {
	v, ok := s.vars[name]
	return v, ok
}

// bodyCompiler lowers the statements of one graph or function body.
type bodyCompiler struct {
	g     *ir.Graph
	table *policy.Table
	where string // "graphs.<name>" or "functions.<name>"
}

func (c *bodyCompiler) compile(b *ir.Builder, v cue.Value) error {
	sc := newScope()
	if err := c.params(b, sc, v.LookupPath(cue.ParsePath("params"))); err != nil {
		return describe(c.where, err)
	}

	body := v.LookupPath(cue.ParsePath("body"))
	if !body.Exists() {
		return errorf("body", v.Pos(), "%s: body is required", c.where)
	}
	if err := c.stmts(b, sc, body); err != nil {
		return describe(c.where, err)
	}

	results, err := c.results(sc, v.LookupPath(cue.ParsePath("results")))
	if err != nil {
		return describe(c.where, err)
	}
	b.Return(results...)
	return nil
}

func (c *bodyCompiler) params(b *ir.Builder, sc *scope, v cue.Value) error {
	if !v.Exists() {
		return nil
	}
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		name := iter.Label()
		typ, err := iter.Value().String()
		if err != nil {
			return errorf("params", iter.Value().Pos(), "type of %q must be a string", name)
		}
		kind, dt, err := ir.ParseValueKind(typ)
		if err != nil {
			return errorf("params", iter.Value().Pos(), "%s: %v", name, err)
		}
		var p *ir.Value
		switch kind {
		case ir.KindTensor:
			p = b.Param(name, dt)
		case ir.KindBool:
			p = b.FlagParam(name)
		case ir.KindHandle:
			p = b.HandleParam(name)
		case ir.KindScalar:
			p = b.ScalarParam(name)
		}
		sc.bind(name, p)
	}
	return nil
}

func (c *bodyCompiler) results(sc *scope, v cue.Value) ([]*ir.Value, error) {
	if !v.Exists() {
		return nil, nil
	}
	names, err := nameList(v, "results")
	if err != nil {
		return nil, err
	}
	out := make([]*ir.Value, len(names))
	for i, name := range names {
		val, err := c.lookup(sc, name, v.Pos())
		if err != nil {
			return nil, err
		}
		out[i] = val
	}
	return out, nil
}

func (c *bodyCompiler) stmts(b *ir.Builder, sc *scope, list cue.Value) error {
	iter, err := list.List()
	if err != nil {
		return errorf("body", list.Pos(), "must be a list of statements")
	}
	for iter.Next() {
		if err := c.stmt(b, sc, iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func has(st cue.Value, field string) bool {
	return st.LookupPath(cue.ParsePath(field)).Exists()
}

func (c *bodyCompiler) stmt(b *ir.Builder, sc *scope, st cue.Value) error {
	switch {
	case has(st, "op"):
		return c.op(b, sc, st)
	case has(st, "cast"):
		return c.cast(b, sc, st)
	case has(st, "flag"):
		return c.flag(b, sc, st)
	case has(st, "scalar"):
		return c.scalar(b, sc, st)
	case has(st, "autocast"):
		return c.autocast(b, sc, st)
	case has(st, "call"):
		return c.call(b, sc, st)
	case has(st, "with"):
		return c.with(b, sc, st)
	case has(st, "enter"):
		target, err := c.regionTarget(b, sc, st.LookupPath(cue.ParsePath("enter")), "enter")
		if err != nil {
			return err
		}
		b.At(st.Pos()).Enter(target)
		return nil
	case has(st, "exit"):
		return c.exit(b, sc, st)
	case has(st, "branch"):
		return c.branch(b, sc, st)
	case has(st, "while"):
		return c.loop(b, sc, st)
	}
	return errorf("statement", st.Pos(),
		"unknown statement: expected one of op, cast, flag, scalar, autocast, call, with, enter, exit, branch, while")
}

func (c *bodyCompiler) op(b *ir.Builder, sc *scope, st cue.Value) error {
	name, err := stringField(st, "op")
	if err != nil {
		return err
	}
	args, err := c.args(b.At(st.Pos()), sc, st.LookupPath(cue.ParsePath("args")))
	if err != nil {
		return err
	}
	names, err := setNames(st)
	if err != nil {
		return err
	}
	b.At(st.Pos())
	switch {
	case c.table.ResultIsBool(name):
		if len(names) > 1 {
			return errorf("set", st.Pos(), "%s produces a single flag, got %d names", name, len(names))
		}
		return bindAll(sc, names, []*ir.Value{b.FlagOp(name, args...)})
	case len(names) <= 1:
		return bindAll(sc, names, []*ir.Value{b.Op(name, args...)})
	default:
		return bindAll(sc, names, b.OpN(name, len(names), args...))
	}
}

func (c *bodyCompiler) cast(b *ir.Builder, sc *scope, st cue.Value) error {
	target, err := stringField(st, "cast")
	if err != nil {
		return err
	}
	dt, err := ir.ParseDType(target)
	if err != nil {
		return errorf("cast", st.LookupPath(cue.ParsePath("cast")).Pos(), "unknown dtype %q", target)
	}
	argName, err := stringField(st, "arg")
	if err != nil {
		return err
	}
	src, err := c.lookup(sc, argName, st.Pos())
	if err != nil {
		return err
	}
	if src.Kind != ir.KindTensor {
		return errorf("cast", st.Pos(), "%q is a %s; only tensors can be cast", argName, src.Kind)
	}
	names, err := setNames(st)
	if err != nil {
		return err
	}
	return bindAll(sc, names, []*ir.Value{b.At(st.Pos()).Cast(src, dt)})
}

func (c *bodyCompiler) flag(b *ir.Builder, sc *scope, st cue.Value) error {
	fv := st.LookupPath(cue.ParsePath("flag"))
	val, err := fv.Bool()
	if err != nil {
		return errorf("flag", fv.Pos(), "flag must be true or false")
	}
	names, err := setNames(st)
	if err != nil {
		return err
	}
	return bindAll(sc, names, []*ir.Value{b.At(st.Pos()).Const(val)})
}

func (c *bodyCompiler) scalar(b *ir.Builder, sc *scope, st cue.Value) error {
	sv := st.LookupPath(cue.ParsePath("scalar"))
	text, err := numberText(sv)
	if err != nil {
		return err
	}
	names, err := setNames(st)
	if err != nil {
		return err
	}
	return bindAll(sc, names, []*ir.Value{b.At(st.Pos()).Scalar(text)})
}

func (c *bodyCompiler) autocast(b *ir.Builder, sc *scope, st cue.Value) error {
	av := st.LookupPath(cue.ParsePath("autocast"))
	enabled, err := c.flagOperand(b.At(st.Pos()), sc, av, "autocast")
	if err != nil {
		return err
	}
	names, err := setNames(st)
	if err != nil {
		return err
	}
	return bindAll(sc, names, []*ir.Value{b.At(st.Pos()).Autocast(enabled)})
}

func (c *bodyCompiler) call(b *ir.Builder, sc *scope, st cue.Value) error {
	callee, err := stringField(st, "call")
	if err != nil {
		return err
	}
	f, ok := c.g.Funcs[callee]
	if !ok {
		return errorf("call", st.Pos(), "unknown function %q", callee)
	}
	args, err := c.args(b.At(st.Pos()), sc, st.LookupPath(cue.ParsePath("args")))
	if err != nil {
		return err
	}
	if len(args) != len(f.Params) {
		return errorf("call", st.Pos(), "%s takes %d arguments, got %d", callee, len(f.Params), len(args))
	}
	names, err := setNames(st)
	if err != nil {
		return err
	}
	if len(names) > 0 && len(names) != len(f.Body.Yields) {
		return errorf("set", st.Pos(), "%s returns %d values, got %d names", callee, len(f.Body.Yields), len(names))
	}
	outs := b.At(st.Pos()).Call(callee, args...)
	return bindAll(sc, names, outs)
}

// with lowers a region block to enter, body, exit. A region opened through
// a handle is closed through the same handle.
func (c *bodyCompiler) with(b *ir.Builder, sc *scope, st cue.Value) error {
	target, err := c.regionTarget(b.At(st.Pos()), sc, st.LookupPath(cue.ParsePath("with")), "with")
	if err != nil {
		return err
	}
	b.At(st.Pos()).Enter(target)
	body := st.LookupPath(cue.ParsePath("body"))
	if !body.Exists() {
		return errorf("with", st.Pos(), "body is required")
	}
	if err := c.stmts(b, sc, body); err != nil {
		return err
	}
	b.At(st.Pos())
	if target.Kind == ir.KindHandle {
		b.Exit(target)
	} else {
		b.Exit(nil)
	}
	return nil
}

func (c *bodyCompiler) exit(b *ir.Builder, sc *scope, st cue.Value) error {
	ev := st.LookupPath(cue.ParsePath("exit"))
	if ev.IncompleteKind() == cue.BoolKind {
		b.At(st.Pos()).Exit(nil)
		return nil
	}
	name, err := ev.String()
	if err != nil {
		return errorf("exit", ev.Pos(), "exit takes a handle name or true")
	}
	h, err := c.lookup(sc, name, ev.Pos())
	if err != nil {
		return err
	}
	if h.Kind != ir.KindHandle {
		return errorf("exit", ev.Pos(), "%q is a %s, not an autocast handle", name, h.Kind)
	}
	b.At(st.Pos()).Exit(h)
	return nil
}

// branch lowers to an if node. A name bound on both arms, and rebound on at
// least one of them, gets a join value; names bound on one arm only stay
// local to it.
func (c *bodyCompiler) branch(b *ir.Builder, sc *scope, st cue.Value) error {
	cond, err := c.flagOperand(b.At(st.Pos()), sc, st.LookupPath(cue.ParsePath("branch")), "branch")
	if err != nil {
		return err
	}
	n, tb, eb := b.At(st.Pos()).Branch(cond)

	thenSc := sc.clone()
	if tv := st.LookupPath(cue.ParsePath("then")); tv.Exists() {
		if err := c.stmts(tb, thenSc, tv); err != nil {
			return err
		}
	}
	elseSc := sc.clone()
	if ov := st.LookupPath(cue.ParsePath("otherwise")); ov.Exists() {
		if err := c.stmts(eb, elseSc, ov); err != nil {
			return err
		}
	}

	var names []string
	var ty, ey []*ir.Value
	seen := make(map[string]bool)
	for _, name := range append(slices.Clone(thenSc.order), elseSc.order...) {
		if seen[name] {
			continue
		}
		seen[name] = true
		tv, tok := thenSc.lookup(name)
		ev, eok := elseSc.lookup(name)
		if !tok || !eok {
			continue
		}
		if pv, ok := sc.lookup(name); ok && tv == pv && ev == pv {
			continue
		}
		if tv.Kind != ev.Kind {
			return errorf("branch", st.Pos(), "%q is a %s on one path and a %s on the other", name, tv.Kind, ev.Kind)
		}
		names = append(names, name)
		ty = append(ty, tv)
		ey = append(ey, ev)
	}
	return bindAll(sc, names, b.Join(n, ty, ey))
}

// loop lowers to a loop node. The condition flag and every outer name the
// body rebinds are carried.
func (c *bodyCompiler) loop(b *ir.Builder, sc *scope, st cue.Value) error {
	wv := st.LookupPath(cue.ParsePath("while"))
	condName, err := wv.String()
	if err != nil {
		return errorf("while", wv.Pos(), "while takes the name of a flag")
	}
	cond, err := c.lookup(sc, condName, wv.Pos())
	if err != nil {
		return err
	}
	if cond.Kind != ir.KindBool {
		return errorf("while", wv.Pos(), "%q is a %s, not a flag", condName, cond.Kind)
	}
	body := st.LookupPath(cue.ParsePath("body"))
	if !body.Exists() {
		return errorf("while", st.Pos(), "body is required")
	}
	assigned, err := scanAssigned(body)
	if err != nil {
		return err
	}

	names := []string{condName}
	carried := []*ir.Value{cond}
	for _, name := range assigned {
		v, ok := sc.lookup(name)
		if !ok || slices.Contains(names, name) {
			continue
		}
		names = append(names, name)
		carried = append(carried, v)
	}

	n, lb := b.At(st.Pos()).OpenLoop(carried)
	bodySc := sc.clone()
	for i, name := range names {
		bodySc.bind(name, n.Blocks[0].Params[i])
	}
	if err := c.stmts(lb, bodySc, body); err != nil {
		return err
	}
	next := make([]*ir.Value, len(names))
	for i, name := range names {
		next[i], _ = bodySc.lookup(name)
		if next[i].Kind != carried[i].Kind {
			return errorf("while", st.Pos(), "%q changes from %s to %s in the loop body", name, carried[i].Kind, next[i].Kind)
		}
	}
	return bindAll(sc, names, b.CloseLoop(n, next))
}

// args compiles an operand list: names, or number and bool literals.
func (c *bodyCompiler) args(b *ir.Builder, sc *scope, v cue.Value) ([]*ir.Value, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, errorf("args", v.Pos(), "must be a list")
	}
	var out []*ir.Value
	for iter.Next() {
		a := iter.Value()
		switch a.IncompleteKind() {
		case cue.StringKind:
			name, _ := a.String()
			val, err := c.lookup(sc, name, a.Pos())
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		case cue.BoolKind:
			bv, _ := a.Bool()
			out = append(out, b.Const(bv))
		case cue.IntKind, cue.FloatKind, cue.NumberKind:
			text, err := numberText(a)
			if err != nil {
				return nil, err
			}
			out = append(out, b.Scalar(text))
		default:
			return nil, errorf("args", a.Pos(), "operand must be a name or a literal")
		}
	}
	return out, nil
}

// flagOperand accepts a bool literal or the name of a flag.
func (c *bodyCompiler) flagOperand(b *ir.Builder, sc *scope, v cue.Value, field string) (*ir.Value, error) {
	if v.IncompleteKind() == cue.BoolKind {
		bv, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return b.Const(bv), nil
	}
	name, err := v.String()
	if err != nil {
		return nil, errorf(field, v.Pos(), "expected true, false or the name of a flag")
	}
	val, err := c.lookup(sc, name, v.Pos())
	if err != nil {
		return nil, err
	}
	if val.Kind != ir.KindBool {
		return nil, errorf(field, v.Pos(), "%q is a %s, not a flag", name, val.Kind)
	}
	return val, nil
}

// regionTarget accepts a bool literal, a flag or an autocast handle.
func (c *bodyCompiler) regionTarget(b *ir.Builder, sc *scope, v cue.Value, field string) (*ir.Value, error) {
	if v.IncompleteKind() == cue.StringKind {
		name, _ := v.String()
		val, err := c.lookup(sc, name, v.Pos())
		if err != nil {
			return nil, err
		}
		if val.Kind == ir.KindHandle {
			return val, nil
		}
	}
	return c.flagOperand(b, sc, v, field)
}

func (c *bodyCompiler) lookup(sc *scope, name string, pos token.Pos) (*ir.Value, error) {
	v, ok := sc.lookup(name)
	if !ok {
		return nil, errorf("name", pos, "undefined name %q", name)
	}
	return v, nil
}

func bindAll(sc *scope, names []string, vals []*ir.Value) error {
	for i, name := range names {
		sc.bind(name, vals[i])
	}
	return nil
}

func stringField(st cue.Value, field string) (string, error) {
	v := st.LookupPath(cue.ParsePath(field))
	if !v.Exists() {
		return "", errorf(field, st.Pos(), "%s is required", field)
	}
	s, err := v.String()
	if err != nil {
		return "", errorf(field, v.Pos(), "%s must be a string", field)
	}
	return s, nil
}

// setNames reads the optional set field: one name or a list of names.
func setNames(st cue.Value) ([]string, error) {
	v := st.LookupPath(cue.ParsePath("set"))
	if !v.Exists() {
		return nil, nil
	}
	return nameList(v, "set")
}

func nameList(v cue.Value, field string) ([]string, error) {
	if s, err := v.String(); err == nil {
		return []string{s}, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, errorf(field, v.Pos(), "must be a name or a list of names")
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, errorf(field, iter.Value().Pos(), "names must be strings")
		}
		out = append(out, s)
	}
	return out, nil
}

// numberText keeps a literal as text: strings as written, numbers in
// shortest form.
func numberText(v cue.Value) (string, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		s, _ := v.String()
		if _, err := strconv.ParseFloat(s, 64); err != nil && !isRangeError(err) {
			return "", errorf("scalar", v.Pos(), "%q is not a number", s)
		}
		return s, nil
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return "", formatCUEError(err)
		}
		return strconv.FormatInt(i, 10), nil
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return "", formatCUEError(err)
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	}
	return "", errorf("scalar", v.Pos(), "expected a number")
}

func isRangeError(err error) bool {
	ne, ok := err.(*strconv.NumError)
	return ok && ne.Err == strconv.ErrRange
}
