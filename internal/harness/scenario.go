package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ampc/internal/amp"
	"github.com/roach88/ampc/internal/ir"
	"github.com/roach88/ampc/internal/policy"
)

// Scenario defines a conformance scenario: one graph of a CUE program and
// the expected outcome of running the pass on it.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Program is the path of the CUE program. Relative paths are resolved
	// against the scenario file's directory.
	Program string `yaml:"program,omitempty"`

	// Source is an inline CUE program, used when Program is empty.
	Source string `yaml:"source,omitempty"`

	// Graph selects a graph of the program. Empty means the first one.
	Graph string `yaml:"graph,omitempty"`

	// Policy is an optional policy table file replacing the default table.
	Policy string `yaml:"policy,omitempty"`

	// Expect is the expected outcome. Nil means the pass must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`

	// Assertions inspect the rewritten graph, the casts and the ledger.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ExpectClause specifies the outcome of the pass.
type ExpectClause struct {
	// Status is "ok" or "rejected".
	Status string `yaml:"status"`

	// Diagnostic is the expected diagnostic kind (or its code) when rejected.
	Diagnostic string `yaml:"diagnostic,omitempty"`
}

// Assertion validates one aspect of a run.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Value names a program value (dtype, context).
	Value string `yaml:"value,omitempty"`

	// DType is the expected dtype (dtype).
	DType string `yaml:"dtype,omitempty"`

	// Count is the expected number of inserted casts (cast_count).
	Count int `yaml:"count,omitempty"`

	// Op, Input, From, To and Policy describe a cast (cast). Unset fields
	// match anything.
	Op     string `yaml:"op,omitempty"`
	Input  *int   `yaml:"input,omitempty"`
	From   string `yaml:"from,omitempty"`
	To     string `yaml:"to,omitempty"`
	Policy string `yaml:"policy,omitempty"`

	// Context is the expected context in its printed form, e.g. "on@h1/1" (context).
	Context string `yaml:"context,omitempty"`

	// Kind is the expected warning kind (warning).
	Kind string `yaml:"kind,omitempty"`

	// Expect holds expected ledger columns (ledger).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertDType     = "dtype"
	AssertCastCount = "cast_count"
	AssertCast      = "cast"
	AssertContext   = "context"
	AssertWarning   = "warning"
	AssertLedger    = "ledger"
)

// Outcome values of ExpectClause.Status.
const (
	StatusOK       = "ok"
	StatusRejected = "rejected"
)

// LoadScenario reads and parses a scenario YAML file. Program and policy
// paths are resolved against the file's directory. Unknown fields are
// rejected so typos surface as load errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario parses scenario YAML, resolving relative paths against
// baseDir when it is not empty.
func ParseScenario(data []byte, baseDir string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if baseDir != "" {
		scenario.Program = resolve(baseDir, scenario.Program)
		scenario.Policy = resolve(baseDir, scenario.Policy)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Program == "" && s.Source == "":
		return fmt.Errorf("one of program or source is required")
	case s.Program != "" && s.Source != "":
		return fmt.Errorf("program and source are mutually exclusive")
	case s.Program != "":
		if _, err := os.Stat(s.Program); os.IsNotExist(err) {
			return fmt.Errorf("program file not found: %s", s.Program)
		}
	}
	if s.Policy != "" {
		if _, err := os.Stat(s.Policy); os.IsNotExist(err) {
			return fmt.Errorf("policy file not found: %s", s.Policy)
		}
	}

	if s.Expect == nil && len(s.Assertions) == 0 {
		return fmt.Errorf("expect or assertions is required")
	}
	if s.Expect != nil {
		if err := validateExpect(s.Expect); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateExpect(e *ExpectClause) error {
	switch e.Status {
	case StatusOK:
		if e.Diagnostic != "" {
			return fmt.Errorf("expect: diagnostic is only allowed with status %q", StatusRejected)
		}
	case StatusRejected:
		if e.Diagnostic == "" {
			return nil
		}
		if _, err := amp.ParseKind(e.Diagnostic); err != nil {
			return fmt.Errorf("expect: %w", err)
		}
	case "":
		return fmt.Errorf("expect: status is required")
	default:
		return fmt.Errorf("expect: unknown status %q", e.Status)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	checkDType := func(field, s string) error {
		if s == "" {
			return nil
		}
		if _, err := ir.ParseDType(s); err != nil {
			return fmt.Errorf("assertions[%d]: %s: %w", index, field, err)
		}
		return nil
	}

	switch a.Type {
	case AssertDType:
		if a.Value == "" || a.DType == "" {
			return fmt.Errorf("assertions[%d]: value and dtype are required for dtype", index)
		}
		return checkDType("dtype", a.DType)
	case AssertCastCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for cast_count", index)
		}
	case AssertCast:
		if a.Op == "" && a.Input == nil && a.From == "" && a.To == "" && a.Policy == "" {
			return fmt.Errorf("assertions[%d]: cast needs at least one of op, input, from, to, policy", index)
		}
		if err := checkDType("to", a.To); err != nil {
			return err
		}
		if a.Policy != "" {
			if _, err := policy.ParsePolicy(a.Policy); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertContext:
		if a.Value == "" || a.Context == "" {
			return fmt.Errorf("assertions[%d]: value and context are required for context", index)
		}
	case AssertWarning:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for warning", index)
		}
	case AssertLedger:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for ledger", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
