package amp

import (
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/ampc/internal/ir"
)

// Kind categorizes a static-analysis failure.
type Kind string

const (
	// NonStaticAutocastState: a region's enabled flag cannot be proven
	// constant, or a region is entered through a handle chosen at runtime.
	NonStaticAutocastState Kind = "NonStaticAutocastState"

	// DivergentAutocastState: control-flow paths reach a join with
	// different static autocast states, and a region is entered with the
	// joined flag or handle.
	DivergentAutocastState Kind = "DivergentAutocastState"

	// DivergentValueType: a value's dtype differs across a join and reaches a
	// consumer that does not normalize it.
	DivergentValueType Kind = "DivergentValueType"

	// UnsupportedRegionNesting: region markers are not matched within one
	// structured block (exit without enter, a region left open at the end
	// of an if arm, a loop body or the program).
	UnsupportedRegionNesting Kind = "UnsupportedRegionNesting"

	// UnsafeAutocastOp: an op banned from autocasting runs in an enabled region.
	UnsafeAutocastOp Kind = "UnsafeAutocastOp"

	// UnsupportedCall: a call cannot be inlined (unknown callee, arity
	// mismatch, recursion).
	UnsupportedCall Kind = "UnsupportedCall"
)

// Diagnostic codes (E200-E299).
var kindCodes = map[Kind]string{
	NonStaticAutocastState:   "E201",
	DivergentAutocastState:   "E202",
	DivergentValueType:       "E203",
	UnsupportedRegionNesting: "E204",
	UnsafeAutocastOp:         "E205",
	UnsupportedCall:          "E206",
}

// Diagnostic is a compile-time failure of the pass. The pass stops at the
// first diagnostic and leaves the input graph untouched.
type Diagnostic struct {
	Kind    Kind
	Message string

	// Node is the offending op, region marker or join node, when known.
	Node *ir.Node

	// Value is the offending value (join value, flag or handle), when known.
	Value *ir.Value

	// Handle is the handle involved, NoHandle otherwise.
	Handle ir.HandleID

	Pos token.Pos
}

// Code returns the stable diagnostic code.
func (d *Diagnostic) Code() string {
	return kindCodes[d.Kind]
}

// Error implements the error interface.
func (d *Diagnostic) Error() string {
	var sb strings.Builder
	if d.Pos.IsValid() {
		fmt.Fprintf(&sb, "%s:%d:%d: ", d.Pos.Filename(), d.Pos.Line(), d.Pos.Column())
	}
	fmt.Fprintf(&sb, "[%s] %s: %s", d.Code(), d.Kind, d.Message)
	var at []string
	if d.Node != nil {
		at = append(at, "node="+d.Node.Label())
	}
	if d.Value != nil {
		at = append(at, "value="+d.Value.String())
	}
	if d.Handle != ir.NoHandle {
		at = append(at, fmt.Sprintf("handle=h%d", d.Handle))
	}
	if len(at) > 0 {
		sb.WriteString(" (" + strings.Join(at, ", ") + ")")
	}
	return sb.String()
}

// Details returns the structured fields for machine-readable output.
func (d *Diagnostic) Details() map[string]string {
	details := map[string]string{"kind": string(d.Kind)}
	if d.Node != nil {
		details["node"] = d.Node.Label()
	}
	if d.Value != nil {
		details["value"] = d.Value.String()
	}
	if d.Handle != ir.NoHandle {
		details["handle"] = fmt.Sprintf("h%d", d.Handle)
	}
	if d.Pos.IsValid() {
		details["pos"] = fmt.Sprintf("%s:%d:%d", d.Pos.Filename(), d.Pos.Line(), d.Pos.Column())
	}
	return details
}

// newDiag builds a diagnostic positioned at n when n is known.
func newDiag(kind Kind, n *ir.Node, format string, args ...any) *Diagnostic {
	d := &Diagnostic{Kind: kind, Node: n, Message: fmt.Sprintf(format, args...)}
	if n != nil {
		d.Pos = n.Pos
	}
	return d
}

func (d *Diagnostic) withValue(v *ir.Value) *Diagnostic {
	d.Value = v
	return d
}

func (d *Diagnostic) withHandle(h ir.HandleID) *Diagnostic {
	d.Handle = h
	return d
}

// AsDiagnostic unwraps err to a Diagnostic.
func AsDiagnostic(err error) (*Diagnostic, bool) {
	var d *Diagnostic
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// IsKind reports whether err is a Diagnostic of the given kind.
// Uses errors.As to handle wrapped errors.
func IsKind(err error, kind Kind) bool {
	d, ok := AsDiagnostic(err)
	return ok && d.Kind == kind
}

// ParseKind maps a kind name (or its code) back to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, code := range kindCodes {
		if s == string(k) || s == code {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown diagnostic kind %q", s)
}
