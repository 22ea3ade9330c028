package policy

import (
	"fmt"
	"slices"
)

// Policy is the casting rule applied to an op inside an enabled autocast region.
type Policy uint8

const (
	// Unchanged runs the op on its inputs exactly as given.
	Unchanged Policy = iota
	// CastToLower casts floating inputs wider than float16 down to float16.
	CastToLower
	// CastToHigher casts floating inputs narrower than float32 up to float32.
	CastToHigher
	// PromoteToWidest casts floating inputs up to the widest floating input.
	PromoteToWidest
	// Banned ops are unsafe to autocast and rejected inside an enabled region.
	Banned
)

var policyNames = [...]string{
	Unchanged:       "unchanged",
	CastToLower:     "cast_to_lower",
	CastToHigher:    "cast_to_higher",
	PromoteToWidest: "promote_to_widest",
	Banned:          "banned",
}

func (p Policy) String() string {
	if int(p) < len(policyNames) {
		return policyNames[p]
	}
	return fmt.Sprintf("policy(%d)", uint8(p))
}

// ParsePolicy maps a policy name back to its value.
func ParsePolicy(s string) (Policy, error) {
	if i := slices.Index(policyNames[:], s); i >= 0 {
		return Policy(i), nil
	}
	return Unchanged, fmt.Errorf("unknown policy %q", s)
}

// Entry is the table row for one op.
type Entry struct {
	Policy     Policy
	BoolResult bool // the op yields a bool flag
}

// Table maps op names to entries. A Table is immutable once built and safe
// for concurrent use by any number of compilations.
type Table struct {
	version string
	hash    string
	entries map[string]Entry
}

// Version is the version string declared by the table source.
func (t *Table) Version() string {
	return t.version
}

// Hash is the content hash of the table (see ir.DomainPolicy).
func (t *Table) Hash() string {
	return t.hash
}

// Len is the number of ops with an entry.
func (t *Table) Len() int {
	return len(t.entries)
}

// Lookup returns the policy for op. Lookup is total: ops without an entry
// resolve to Unchanged.
func (t *Table) Lookup(op string) Policy {
	return t.entries[op].Policy
}

// Entry returns the full row for op, the zero Entry if absent.
func (t *Table) Entry(op string) Entry {
	return t.entries[op]
}

// ResultIsBool reports whether op yields a bool flag.
func (t *Table) ResultIsBool(op string) bool {
	return t.entries[op].BoolResult
}

// Ops lists the ops governed by p in name order.
func (t *Table) Ops(p Policy) []string {
	var ops []string
	for name, e := range t.entries {
		if e.Policy == p && (p != Unchanged || e.BoolResult) {
			ops = append(ops, name)
		}
	}
	slices.Sort(ops)
	return ops
}
