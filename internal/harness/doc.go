// Package harness runs conformance scenarios for the autocast pass.
//
// A scenario names a CUE program, the graph to compile from it, and what the
// pass must do with that graph: accept it and insert casts, or reject it with
// a particular diagnostic. Scenarios are YAML files:
//
//	name: matmul_region
//	description: "mm inside an enabled region runs in float16"
//	program: programs/matmul.cue     # relative to the scenario file
//	graph: matmul_region             # optional, defaults to the first graph
//	policy: tables/custom.cue        # optional policy table override
//	expect:
//	  status: ok                     # ok | rejected
//	  diagnostic: DivergentValueType # kind or code, when rejected
//	assertions:
//	  - type: dtype
//	    value: e
//	    dtype: float16
//	  - type: cast_count
//	    count: 3
//	  - type: cast
//	    op: log
//	    from: float16
//	    to: float32
//	  - type: context
//	    value: e
//	    context: on/1
//	  - type: warning
//	    kind: ScalarOverflowsHalf
//	  - type: ledger
//	    expect: { status: ok, casts_inserted: 3 }
//
// A program may be given inline with source instead of program.
//
// # Assertion Types
//
//   - dtype: the named value has the given dtype after the pass
//   - cast_count: exactly count casts were inserted
//   - cast: an inserted cast matches every field given (op, input, from, to, policy)
//   - context: the op producing the named value ran under the given context
//   - warning: the pass emitted a warning of the given kind
//   - ledger: the recorded compilation row matches expect (subset match)
//
// # Deterministic Runs
//
// Each scenario records its run in a fresh in-memory ledger with sequential
// run IDs, so results and golden dumps are identical across runs. Golden
// dumps hold the printed graph (the rewritten graph on success, the
// untouched input on rejection).
package harness
