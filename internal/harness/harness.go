package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/ampc/internal/amp"
	"github.com/roach88/ampc/internal/compiler"
	"github.com/roach88/ampc/internal/ir"
	"github.com/roach88/ampc/internal/policy"
	"github.com/roach88/ampc/internal/store"
	"github.com/roach88/ampc/internal/testutil"
)

// Harness runs scenarios. The zero value logs nothing.
type Harness struct {
	logger *slog.Logger
}

// New creates a harness that hands logger to every pass run. A nil logger
// discards.
func New(logger *slog.Logger) *Harness {
	return &Harness{logger: logger}
}

// Run executes a scenario with a discarding logger.
func Run(scenario *Scenario) (*Result, error) {
	return New(nil).Run(context.Background(), scenario)
}

// Run executes a scenario and evaluates its expectations.
//
// Each scenario runs against a fresh in-memory ledger for isolation.
// Execution flow:
// 1. Load the policy table and compile the program
// 2. Hash the selected graph and run the pass on it
// 3. Record the outcome in the ledger
// 4. Check the expected outcome and evaluate assertions
//
// An error return means the scenario could not be run at all (unreadable
// program, compile error, bad policy table); a pass diagnostic is an
// outcome, not an error.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	table := policy.Default()
	if scenario.Policy != "" {
		t, err := policy.LoadFile(scenario.Policy)
		if err != nil {
			return nil, fmt.Errorf("failed to load policy table: %w", err)
		}
		table = t
	}

	g, err := compileScenario(scenario, table)
	if err != nil {
		return nil, err
	}

	programHash, err := ir.GraphHash(g)
	if err != nil {
		return nil, fmt.Errorf("failed to hash graph %s: %w", g.Name, err)
	}

	st, err := store.Open(":memory:", store.WithIDGenerator(testutil.NewSequentialIDGenerator("run")))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := h.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	result := NewResult()
	result.Graph = g
	res, runErr := amp.Run(g, amp.Options{Table: table, Logger: logger.With("scenario", scenario.Name)})
	rec, err := store.NewCompilation(g.Name, programHash, table, res, runErr)
	if err != nil {
		return nil, fmt.Errorf("failed to run pass on %s: %w", g.Name, err)
	}
	if runErr != nil {
		result.Status = StatusRejected
		result.Diagnostic, _ = amp.AsDiagnostic(runErr)
	} else {
		result.addRun(res)
	}

	if result.Compilation, err = st.WriteCompilation(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to record compilation: %w", err)
	}

	checkOutcome(result, scenario.Expect)

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// compileScenario compiles the scenario program and selects its graph.
func compileScenario(s *Scenario, table *policy.Table) (*ir.Graph, error) {
	filename := s.Name + ".cue"
	src := []byte(s.Source)
	if s.Program != "" {
		data, err := os.ReadFile(s.Program)
		if err != nil {
			return nil, fmt.Errorf("failed to read program: %w", err)
		}
		filename, src = s.Program, data
	}

	graphs, err := compiler.CompileSource(filename, src, compiler.Options{Table: table})
	if err != nil {
		return nil, fmt.Errorf("failed to compile program: %w", err)
	}
	if s.Graph == "" {
		return graphs[0], nil
	}
	for _, g := range graphs {
		if g.Name == s.Graph {
			return g, nil
		}
	}
	return nil, fmt.Errorf("graph %q not found in %s", s.Graph, filename)
}

// checkOutcome compares the run status and diagnostic with the expectation.
// A nil expectation requires success.
func checkOutcome(result *Result, expect *ExpectClause) {
	want := &ExpectClause{Status: StatusOK}
	if expect != nil {
		want = expect
	}

	if result.Status != want.Status {
		msg := fmt.Sprintf("expected status %s, got %s", want.Status, result.Status)
		if result.Diagnostic != nil {
			msg += ": " + result.Diagnostic.Error()
		}
		result.AddError(msg)
		return
	}
	if want.Diagnostic == "" || result.Diagnostic == nil {
		return
	}
	kind, err := amp.ParseKind(want.Diagnostic)
	if err != nil {
		result.AddError(err.Error())
		return
	}
	if result.Diagnostic.Kind != kind {
		result.AddError(fmt.Sprintf("expected diagnostic %s, got %s: %s",
			kind, result.Diagnostic.Kind, result.Diagnostic.Error()))
	}
}
