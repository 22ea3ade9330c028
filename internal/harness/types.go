package harness

import (
	"github.com/roach88/ampc/internal/amp"
	"github.com/roach88/ampc/internal/ir"
	"github.com/roach88/ampc/internal/store"
)

// CastEvent is one inserted cast, flattened for assertions and output.
type CastEvent struct {
	Op     string `json:"op"`
	NodeID int    `json:"node_id"`
	Input  int    `json:"input"`
	From   string `json:"from"`
	To     string `json:"to"`
	Policy string `json:"policy"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when the outcome and every assertion matched.
	Pass bool `json:"pass"`

	// Status is "ok" when the pass accepted the graph, "rejected" otherwise.
	Status string `json:"status"`

	// Errors holds a message per failed expectation or assertion.
	Errors []string `json:"errors,omitempty"`

	Casts    []CastEvent `json:"casts,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`

	// Graph is the rewritten graph on success, the input graph otherwise.
	Graph *ir.Graph `json:"-"`

	// Diagnostic is the pass diagnostic on rejection.
	Diagnostic *amp.Diagnostic `json:"-"`

	// Compilation is the row recorded in the scenario's ledger.
	Compilation store.Compilation `json:"-"`

	warningKinds []string
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addRun copies the pass outcome into the result.
func (r *Result) addRun(res *amp.Result) {
	r.Status = StatusOK
	for _, rec := range res.Casts {
		r.Casts = append(r.Casts, CastEvent{
			Op:     rec.Node.Op,
			NodeID: rec.Node.ID,
			Input:  rec.Input,
			From:   rec.From.String(),
			To:     rec.To.String(),
			Policy: rec.Policy.String(),
		})
	}
	for _, w := range res.Warnings {
		r.Warnings = append(r.Warnings, w.String())
		r.warningKinds = append(r.warningKinds, w.Kind)
	}
}
