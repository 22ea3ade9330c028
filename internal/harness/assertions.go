package harness

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/ampc/internal/ir"
	"github.com/roach88/ampc/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes the inserted casts to help debug the failure.
type AssertionError struct {
	Type     string      // Assertion type for categorization
	Expected string      // Human-readable expected outcome
	Actual   string      // Human-readable actual outcome
	Casts    []CastEvent // Inserted casts for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Casts) > 0 {
		fmt.Fprintf(&buf, "\nInserted casts:\n")
		for i, c := range e.Casts {
			fmt.Fprintf(&buf, "  [%d] %s#%d input %d: %s -> %s (%s)\n",
				i+1, c.Op, c.NodeID, c.Input, c.From, c.To, c.Policy)
		}
	}
	return buf.String()
}

// findValue looks a named value up in the result graph.
func findValue(result *Result, name string) (*ir.Value, error) {
	if result.Graph == nil {
		return nil, fmt.Errorf("no graph to inspect")
	}
	v := result.Graph.FindValue(name)
	if v == nil {
		return nil, fmt.Errorf("value %q not found in graph %s", name, result.Graph.Name)
	}
	return v, nil
}

// assertDType checks the dtype of a named value after the pass.
func assertDType(result *Result, a Assertion) error {
	v, err := findValue(result, a.Value)
	if err != nil {
		return &AssertionError{Type: AssertDType, Expected: fmt.Sprintf("%s : %s", a.Value, a.DType), Actual: err.Error()}
	}
	want, _ := ir.ParseDType(a.DType)
	if v.DType != want {
		return &AssertionError{
			Type:     AssertDType,
			Expected: fmt.Sprintf("%s : %s", a.Value, want),
			Actual:   fmt.Sprintf("%s : %s", a.Value, v.DType),
			Casts:    result.Casts,
		}
	}
	return nil
}

// assertCastCount checks the number of inserted casts.
func assertCastCount(result *Result, a Assertion) error {
	if len(result.Casts) != a.Count {
		return &AssertionError{
			Type:     AssertCastCount,
			Expected: fmt.Sprintf("%d casts", a.Count),
			Actual:   fmt.Sprintf("%d casts", len(result.Casts)),
			Casts:    result.Casts,
		}
	}
	return nil
}

// assertCast checks that some inserted cast matches every given field.
func assertCast(result *Result, a Assertion) error {
	for _, c := range result.Casts {
		if matchCast(c, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertCast,
		Expected: describeCast(a),
		Actual:   "no matching cast",
		Casts:    result.Casts,
	}
}

func matchCast(c CastEvent, a Assertion) bool {
	if a.Op != "" && c.Op != a.Op {
		return false
	}
	if a.Input != nil && c.Input != *a.Input {
		return false
	}
	if a.From != "" && c.From != a.From {
		return false
	}
	if a.To != "" {
		if to, err := ir.ParseDType(a.To); err != nil || c.To != to.String() {
			return false
		}
	}
	return a.Policy == "" || c.Policy == a.Policy
}

func describeCast(a Assertion) string {
	var parts []string
	if a.Op != "" {
		parts = append(parts, "op="+a.Op)
	}
	if a.Input != nil {
		parts = append(parts, fmt.Sprintf("input=%d", *a.Input))
	}
	if a.From != "" {
		parts = append(parts, "from="+a.From)
	}
	if a.To != "" {
		parts = append(parts, "to="+a.To)
	}
	if a.Policy != "" {
		parts = append(parts, "policy="+a.Policy)
	}
	return "cast with " + strings.Join(parts, " ")
}

// assertContext checks the autocast context of the op producing a value.
func assertContext(result *Result, a Assertion) error {
	v, err := findValue(result, a.Value)
	if err != nil {
		return &AssertionError{Type: AssertContext, Expected: a.Context, Actual: err.Error()}
	}
	if v.Producer == nil {
		return &AssertionError{Type: AssertContext, Expected: a.Context, Actual: fmt.Sprintf("%s is a parameter", a.Value)}
	}
	if got := v.Producer.Context.String(); got != a.Context {
		return &AssertionError{
			Type:     AssertContext,
			Expected: fmt.Sprintf("%s under %s", v.Producer.Label(), a.Context),
			Actual:   fmt.Sprintf("%s under %s", v.Producer.Label(), got),
		}
	}
	return nil
}

// assertWarning checks that a warning of the given kind was emitted.
func assertWarning(result *Result, a Assertion) error {
	if slices.Contains(result.warningKinds, a.Kind) {
		return nil
	}
	return &AssertionError{
		Type:     AssertWarning,
		Expected: "warning " + a.Kind,
		Actual:   fmt.Sprintf("warnings %v", result.Warnings),
	}
}

// assertLedger reads the recorded compilation back and compares columns
// using subset semantics.
func assertLedger(ctx context.Context, st *store.Store, result *Result, a Assertion) error {
	c, err := st.ReadCompilation(ctx, result.Compilation.ID)
	if err != nil {
		return &AssertionError{Type: AssertLedger, Expected: "recorded compilation", Actual: err.Error()}
	}
	row := ledgerRow(c)

	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		actual, ok := row[key]
		if !ok {
			return &AssertionError{
				Type:     AssertLedger,
				Expected: fmt.Sprintf("column %q to exist", key),
				Actual:   fmt.Sprintf("column %q not present", key),
			}
		}
		if !valuesEqual(a.Expect[key], actual) {
			return &AssertionError{
				Type:     AssertLedger,
				Expected: fmt.Sprintf("column %q = %v (type %T)", key, a.Expect[key], a.Expect[key]),
				Actual:   fmt.Sprintf("column %q = %v (type %T)", key, actual, actual),
			}
		}
	}
	return nil
}

// ledgerRow exposes a compilation under its column names.
func ledgerRow(c store.Compilation) map[string]any {
	return map[string]any{
		"id":             c.ID,
		"seq":            c.Seq,
		"graph_name":     c.GraphName,
		"program_hash":   c.ProgramHash,
		"policy_version": c.PolicyVersion,
		"policy_hash":    c.PolicyHash,
		"status":         c.Status,
		"diag_code":      c.DiagCode,
		"diag_message":   c.DiagMessage,
		"casts_inserted": int64(c.CastsInserted),
		"ir_version":     c.IRVersion,
	}
}

// valuesEqual compares an expected YAML value with a ledger column.
// YAML decodes integers as int; ledger integers are int64.
func valuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	switch exp := expected.(type) {
	case int:
		act, ok := actual.(int64)
		return ok && int64(exp) == act
	case string:
		act, ok := actual.(string)
		return ok && exp == act
	}
	return reflect.DeepEqual(expected, actual)
}

// AssertionContext provides ledger access for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a message per failed assertion. Graph assertions (dtype, cast,
// context) are skipped with a failure when the pass rejected the graph.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertDType, AssertCast, AssertContext:
			if result.Status != StatusOK {
				err = fmt.Errorf("assertion[%d]: %s requires an accepted graph", i, assertion.Type)
				break
			}
			switch assertion.Type {
			case AssertDType:
				err = assertDType(result, assertion)
			case AssertCast:
				err = assertCast(result, assertion)
			default:
				err = assertContext(result, assertion)
			}
		case AssertCastCount:
			err = assertCastCount(result, assertion)
		case AssertWarning:
			err = assertWarning(result, assertion)
		case AssertLedger:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: ledger requires database context", i)
			} else {
				err = assertLedger(actx.Ctx, actx.Store, result, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
