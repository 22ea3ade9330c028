package testutil

import "github.com/roach88/ampc/internal/ir"

// Graph fixtures for the autocast scenarios. Every fixture returns a fresh
// graph; results are named so tests can look them up with FindValue.

// MatmulInRegion: e = mm(a, b) inside a region with a literal flag.
//
//	a, b : float32
//	with autocast(enabled): e = mm(a, b)
func MatmulInRegion(enabled bool) *ir.Graph {
	g := ir.NewGraph("matmul_in_region")
	b := g.Builder()
	x := b.Param("a", ir.Float)
	y := b.Param("b", ir.Float)
	flag := b.Const(enabled)
	var e *ir.Value
	b.With(flag, func(b *ir.Builder) {
		e = b.Name(b.Op("mm", x, y), "e")
	})
	b.Return(e)
	return g
}

// HigherInRegion: l = log(a) on a float16 input inside an enabled region.
func HigherInRegion() *ir.Graph {
	g := ir.NewGraph("higher_in_region")
	b := g.Builder()
	a := b.Param("a", ir.Half)
	d := b.Param("d", ir.Double)
	on := b.Const(true)
	var l, m *ir.Value
	b.With(on, func(b *ir.Builder) {
		l = b.Name(b.Op("log", a), "l")
		m = b.Name(b.Op("exp", d), "m")
	})
	b.Return(l, m)
	return g
}

// MatmulThenPromote: the half/single mix. e = mm(a, b) is float16, then
// f = addcmul(e, c, d) promotes back to float32.
func MatmulThenPromote() *ir.Graph {
	g := ir.NewGraph("matmul_then_promote")
	b := g.Builder()
	a := b.Param("a", ir.Float)
	bb := b.Param("b", ir.Float)
	c := b.Param("c", ir.Float)
	d := b.Param("d", ir.Float)
	on := b.Const(true)
	var e, f *ir.Value
	b.With(on, func(b *ir.Builder) {
		e = b.Name(b.Op("mm", a, bb), "e")
		f = b.Name(b.Op("addcmul", e, c, d), "f")
	})
	b.Return(e, f)
	return g
}

// PromoteAllHalf: addcmul over three float16 inputs stays float16.
func PromoteAllHalf() *ir.Graph {
	g := ir.NewGraph("promote_all_half")
	b := g.Builder()
	a := b.Param("a", ir.Half)
	c := b.Param("c", ir.Half)
	d := b.Param("d", ir.Half)
	on := b.Const(true)
	var f *ir.Value
	b.With(on, func(b *ir.Builder) {
		f = b.Name(b.Op("addcmul", a, c, d), "f")
	})
	b.Return(f)
	return g
}

// ExplicitEscape: both matmul operands are explicitly cast to float64
// inside an enabled region.
func ExplicitEscape() *ir.Graph {
	g := ir.NewGraph("explicit_escape")
	b := g.Builder()
	a := b.Param("a", ir.Float)
	bb := b.Param("b", ir.Float)
	on := b.Const(true)
	var e *ir.Value
	b.With(on, func(b *ir.Builder) {
		x := b.Cast(a, ir.Double)
		y := b.Cast(bb, ir.Double)
		e = b.Name(b.Op("mm", x, y), "e")
	})
	b.Return(e)
	return g
}

// DuplicateInputs: e = mm(a, a).
func DuplicateInputs() *ir.Graph {
	g := ir.NewGraph("duplicate_inputs")
	b := g.Builder()
	a := b.Param("a", ir.Float)
	on := b.Const(true)
	var e *ir.Value
	b.With(on, func(b *ir.Builder) {
		e = b.Name(b.Op("mm", a, a), "e")
	})
	b.Return(e)
	return g
}

// HandleReuse enters one handle as both outer and inner region around two
// sequential matmuls.
func HandleReuse() *ir.Graph {
	g := ir.NewGraph("handle_reuse")
	b := g.Builder()
	a := b.Param("a", ir.Float)
	bb := b.Param("b", ir.Float)
	h := b.Name(b.Autocast(b.Const(true)), "h")
	var e, f *ir.Value
	b.With(h, func(b *ir.Builder) {
		b.With(h, func(b *ir.Builder) {
			e = b.Name(b.Op("mm", a, bb), "e")
		})
		f = b.Name(b.Op("mm", a, bb), "f")
	})
	b.Return(e, f)
	return g
}

// NestedToggle: off, then on, then off again, one matmul at each level.
func NestedToggle() *ir.Graph {
	g := ir.NewGraph("nested_toggle")
	b := g.Builder()
	a := b.Param("a", ir.Float)
	bb := b.Param("b", ir.Float)
	off := b.Const(false)
	on := b.Const(true)
	var e, f, h *ir.Value
	b.With(off, func(b *ir.Builder) {
		e = b.Name(b.Op("mm", a, bb), "e")
		b.With(on, func(b *ir.Builder) {
			f = b.Name(b.Op("mm", a, bb), "f")
			b.With(off, func(b *ir.Builder) {
				h = b.Name(b.Op("mm", a, bb), "g")
			})
		})
	})
	b.Return(e, f, h)
	return g
}

// HandleSelectedAtRuntime chooses between two enabled handles with a runtime
// flag and enters the result.
func HandleSelectedAtRuntime() *ir.Graph {
	g := ir.NewGraph("handle_selected_at_runtime")
	b := g.Builder()
	a := b.Param("a", ir.Float)
	bb := b.Param("b", ir.Float)
	c := b.FlagParam("c")
	h1 := b.Name(b.Autocast(b.Const(true)), "h1")
	h2 := b.Name(b.Autocast(b.Const(true)), "h2")
	h := b.If(c,
		func(*ir.Builder) []*ir.Value { return []*ir.Value{h1} },
		func(*ir.Builder) []*ir.Value { return []*ir.Value{h2} },
	)[0]
	b.Name(h, "h")
	var e *ir.Value
	b.With(h, func(b *ir.Builder) {
		e = b.Name(b.Op("mm", a, bb), "e")
	})
	b.Return(e)
	return g
}

// RuntimeFlag enters a region with a graph parameter as its flag.
func RuntimeFlag() *ir.Graph {
	g := ir.NewGraph("runtime_flag")
	b := g.Builder()
	a := b.Param("a", ir.Float)
	flag := b.FlagParam("enabled")
	var e *ir.Value
	b.With(flag, func(b *ir.Builder) {
		e = b.Name(b.Op("mm", a, a), "e")
	})
	b.Return(e)
	return g
}

// RuntimeHandleFlag creates a handle from a data-dependent comparison.
func RuntimeHandleFlag() *ir.Graph {
	g := ir.NewGraph("runtime_handle_flag")
	b := g.Builder()
	a := b.Param("a", ir.Float)
	bb := b.Param("b", ir.Float)
	h := b.Name(b.Autocast(b.FlagOp("gt", a, bb)), "h")
	var e *ir.Value
	b.With(h, func(b *ir.Builder) {
		e = b.Name(b.Op("mm", a, bb), "e")
	})
	b.Return(e)
	return g
}

// DivergentBranchStates picks the region flag on a runtime branch: true on
// one arm, false on the other. The joined flag opens the region around mm.
func DivergentBranchStates() *ir.Graph {
	g := ir.NewGraph("divergent_branch_states")
	b := g.Builder()
	a := b.Param("a", ir.Float)
	c := b.FlagParam("c")
	f := b.If(c,
		func(b *ir.Builder) []*ir.Value { return []*ir.Value{b.Const(true)} },
		func(b *ir.Builder) []*ir.Value { return []*ir.Value{b.Const(false)} },
	)[0]
	b.Name(f, "f")
	var e *ir.Value
	b.With(f, func(b *ir.Builder) {
		e = b.Name(b.Op("mm", a, a), "e")
	})
	b.Return(e)
	return g
}

// DivergentBranchHandles selects between an enabled and a disabled handle
// on a runtime branch and enters the result.
func DivergentBranchHandles() *ir.Graph {
	g := ir.NewGraph("divergent_branch_handles")
	b := g.Builder()
	a := b.Param("a", ir.Float)
	c := b.FlagParam("c")
	on := b.Name(b.Autocast(b.Const(true)), "on")
	off := b.Name(b.Autocast(b.Const(false)), "off")
	h := b.If(c,
		func(*ir.Builder) []*ir.Value { return []*ir.Value{on} },
		func(*ir.Builder) []*ir.Value { return []*ir.Value{off} },
	)[0]
	b.Name(h, "h")
	var e *ir.Value
	b.With(h, func(b *ir.Builder) {
		e = b.Name(b.Op("mm", a, a), "e")
	})
	b.Return(e)
	return g
}

// RegionOpenedInArms enters an enabled region on both arms of a branch and
// closes it after the join.
func RegionOpenedInArms() *ir.Graph {
	g := ir.NewGraph("region_opened_in_arms")
	b := g.Builder()
	a := b.Param("a", ir.Float)
	c := b.FlagParam("c")
	b.If(c,
		func(b *ir.Builder) []*ir.Value { b.Enter(b.Const(true)); return nil },
		func(b *ir.Builder) []*ir.Value { b.Enter(b.Const(true)); return nil },
	)
	e := b.Name(b.Op("mm", a, a), "e")
	b.Exit(nil)
	b.Return(e)
	return g
}

// RegionClosedInArms enters a region before a branch and exits it on both
// arms.
func RegionClosedInArms() *ir.Graph {
	g := ir.NewGraph("region_closed_in_arms")
	b := g.Builder()
	a := b.Param("a", ir.Float)
	c := b.FlagParam("c")
	b.Enter(b.Const(true))
	b.If(c,
		func(b *ir.Builder) []*ir.Value { b.Exit(nil); return nil },
		func(b *ir.Builder) []*ir.Value { b.Exit(nil); return nil },
	)
	e := b.Name(b.Op("mm", a, a), "e")
	b.Return(e)
	return g
}

// DivergentValueType assigns x a float16 matmul result on one arm and a
// float32 input on the other, then feeds x to an op that runs unchanged.
func DivergentValueType() *ir.Graph {
	g := ir.NewGraph("divergent_value_type")
	b := g.Builder()
	a := b.Param("a", ir.Float)
	bb := b.Param("b", ir.Float)
	c := b.FlagParam("c")
	on := b.Const(true)
	var y *ir.Value
	b.With(on, func(b *ir.Builder) {
		x := b.If(c,
			func(b *ir.Builder) []*ir.Value { return []*ir.Value{b.Op("mm", a, bb)} },
			func(*ir.Builder) []*ir.Value { return []*ir.Value{a} },
		)[0]
		b.Name(x, "x")
		y = b.Name(b.Op("add", x, bb), "y")
	})
	b.Return(y)
	return g
}

// PromoteNormalizesJoin is DivergentValueType with the join feeding
// addcmul next to float32 operands, which fixes the promotion width.
func PromoteNormalizesJoin() *ir.Graph {
	g := ir.NewGraph("promote_normalizes_join")
	b := g.Builder()
	a := b.Param("a", ir.Float)
	bb := b.Param("b", ir.Float)
	c := b.FlagParam("c")
	on := b.Const(true)
	var y *ir.Value
	b.With(on, func(b *ir.Builder) {
		x := b.If(c,
			func(b *ir.Builder) []*ir.Value { return []*ir.Value{b.Op("mm", a, bb)} },
			func(*ir.Builder) []*ir.Value { return []*ir.Value{a} },
		)[0]
		b.Name(x, "x")
		y = b.Name(b.Op("addcmul", x, a, bb), "y")
	})
	b.Return(y)
	return g
}

// RegionAcrossLoop opens a region in a loop body and never closes it there.
func RegionAcrossLoop() *ir.Graph {
	g := ir.NewGraph("region_across_loop")
	b := g.Builder()
	a := b.Param("a", ir.Float)
	out := b.Loop([]*ir.Value{a}, func(b *ir.Builder, params []*ir.Value) []*ir.Value {
		b.Enter(b.Const(true))
		return []*ir.Value{b.Op("mm", params[0], params[0])}
	})
	b.Exit(nil)
	b.Return(out...)
	return g
}

// LoopInRegion accumulates a matmul inside a loop that lies wholly within
// an enabled region. The carried value starts float32 and comes back
// float16 from the body.
func LoopInRegion() *ir.Graph {
	g := ir.NewGraph("loop_in_region")
	b := g.Builder()
	a := b.Param("a", ir.Float)
	w := b.Param("w", ir.Float)
	on := b.Const(true)
	var acc *ir.Value
	b.With(on, func(b *ir.Builder) {
		acc = b.Loop([]*ir.Value{a}, func(b *ir.Builder, params []*ir.Value) []*ir.Value {
			return []*ir.Value{b.Op("mm", params[0], w)}
		})[0]
		b.Name(acc, "acc")
		acc = b.Name(b.Op("mm", acc, w), "out")
	})
	b.Return(acc)
	return g
}

// LoopBackEdgeDivergence carries a float32 value into a loop whose body
// feeds it to relu (unchanged policy) and yields a float16 matmul back.
func LoopBackEdgeDivergence() *ir.Graph {
	g := ir.NewGraph("loop_back_edge_divergence")
	b := g.Builder()
	a := b.Param("a", ir.Float)
	on := b.Const(true)
	out := b.Loop([]*ir.Value{a}, func(b *ir.Builder, params []*ir.Value) []*ir.Value {
		r := b.Name(b.Op("relu", params[0]), "r")
		var next *ir.Value
		b.With(on, func(b *ir.Builder) {
			next = b.Op("mm", r, r)
		})
		return []*ir.Value{next}
	})
	b.Name(out[0], "out")
	b.Return(out...)
	return g
}

// CallInRegion calls a function whose body is a matmul from inside an
// enabled region and once more outside it.
func CallInRegion() *ir.Graph {
	g := ir.NewGraph("call_in_region")
	_, fb := g.NewFunction("project")
	x := fb.Param("x", ir.Float)
	y := fb.Param("y", ir.Float)
	fb.Return(fb.Op("mm", x, y))

	b := g.Builder()
	a := b.Param("a", ir.Float)
	bb := b.Param("b", ir.Float)
	on := b.Const(true)
	var inside *ir.Value
	b.With(on, func(b *ir.Builder) {
		inside = b.Name(b.Call("project", a, bb)[0], "inside")
	})
	outside := b.Name(b.Call("project", a, bb)[0], "outside")
	b.Return(inside, outside)
	return g
}

// RecursiveCall calls a function that calls itself.
func RecursiveCall() *ir.Graph {
	g := ir.NewGraph("recursive_call")
	_, fb := g.NewFunction("loop_forever")
	x := fb.Param("x", ir.Float)
	fb.Call("loop_forever", x)
	fb.Return(fb.Op("relu", x))

	b := g.Builder()
	a := b.Param("a", ir.Float)
	b.Return(b.Call("loop_forever", a)...)
	return g
}

// BannedInRegion runs binary_cross_entropy inside an enabled region.
func BannedInRegion() *ir.Graph {
	g := ir.NewGraph("banned_in_region")
	b := g.Builder()
	a := b.Param("a", ir.Float)
	t := b.Param("t", ir.Float)
	on := b.Const(true)
	var l *ir.Value
	b.With(on, func(b *ir.Builder) {
		l = b.Name(b.Op("binary_cross_entropy", a, t), "loss")
	})
	b.Return(l)
	return g
}

// PerUseSite feeds one float32 value to a cast_to_lower op and to a
// promote_to_widest op next to float64 operands, and one float64 value to
// a cast_to_higher op.
func PerUseSite() *ir.Graph {
	g := ir.NewGraph("per_use_site")
	b := g.Builder()
	f := b.Param("f", ir.Float)
	d := b.Param("d", ir.Double)
	on := b.Const(true)
	var e, s, l *ir.Value
	b.With(on, func(b *ir.Builder) {
		e = b.Name(b.Op("mm", f, f), "e")
		s = b.Name(b.Op("addcmul", f, d, d), "s")
		l = b.Name(b.Op("log", d), "l")
	})
	b.Return(e, s, l)
	return g
}
