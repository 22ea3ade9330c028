// Package amp implements the static mixed-precision autocast pass.
//
// Run takes a program graph with autocast region markers and rewrites it
// with the casts the policy table requires, or rejects it with a Diagnostic.
//
// PIPELINE:
//
//  1. Inline: every call is replaced by a fresh copy of the callee body, so
//     a callee reached from inside a region is annotated in that region.
//  2. Track: regions are walked in program order with a stack; every node
//     gets the innermost region's Context. Region flags and handles must be
//     resolvable without running the program.
//  3. Plan: candidate dtypes flow through the graph. Branch joins and loop
//     back-edges union the candidates; a value with more than one candidate
//     is tolerated only by consumers that normalize it.
//  4. Apply: AutoCast nodes are inserted before each consumer that needs
//     one, and planned dtypes are committed.
//
// The pass works on a clone of the input. Nothing is written to the caller's
// graph unless every stage succeeds.
//
// Handle identity:
// Handles are compared by HandleID, never by their enabled flag. Selecting
// between two handles with a runtime condition fails even when both flags
// agree (NonStaticAutocastState); when the flags differ the join itself is
// divergent (DivergentAutocastState).
//
// Region nesting:
// Every structured block closes the regions it opens. An if arm or a loop
// body starts and ends with the stack of the enclosing block, so autocast
// state only diverges at a join through the flag or handle values flowing
// into it.
//
// Explicit casts:
// An input produced directly by a user-written cast keeps its dtype at
// every use site, which is how a cast inside a region escapes the policy.
package amp
