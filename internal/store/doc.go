// Package store provides the SQLite-backed compilation ledger.
//
// Every pass run is recorded with the content hash of its input program and
// of the policy table it ran under:
//   - compilations: one row per run, ok or rejected with its diagnostic
//   - casts: the casts an ok run inserted, in insertion order
//
// # Critical Patterns
//
// Logical ordering:
//   - seq INTEGER is assigned by the store inside the write transaction
//   - queries order by seq ASC, id ASC COLLATE BINARY, never by time
//
// Lookup by content:
//   - LookupSuccess(programHash, policyHash) finds a prior ok run, so a
//     caller can tell an unchanged program from a new one
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: casts reference their compilation
//
// Diagnostic details are stored as canonical JSON (ir.MarshalCanonical).
package store
