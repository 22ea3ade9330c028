package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/ampc/internal/amp"
	"github.com/roach88/ampc/internal/compiler"
	"github.com/roach88/ampc/internal/ir"
	"github.com/roach88/ampc/internal/policy"
	"github.com/roach88/ampc/internal/store"
)

// Graph statuses reported by compile and check. Accepted and rejected match
// the ledger; invalid graphs never reach the pass.
const (
	GraphAccepted = store.StatusOK
	GraphRejected = store.StatusRejected
	GraphInvalid  = "invalid"
)

// GraphReport is the outcome of running the pass on one graph.
type GraphReport struct {
	Graph         string                     `json:"graph"`
	Status        string                     `json:"status"`
	CastsInserted int                        `json:"casts_inserted"`
	Casts         []CastReport               `json:"casts,omitempty"`
	Warnings      []string                   `json:"warnings,omitempty"`
	Diagnostic    *CLIError                  `json:"diagnostic,omitempty"`
	Errors        []compiler.ValidationError `json:"errors,omitempty"`
	Compilation   string                     `json:"compilation_id,omitempty"`
	Cached        bool                       `json:"cached,omitempty"`
	IR            string                     `json:"ir,omitempty"`
}

// CastReport describes one inserted cast.
type CastReport struct {
	Node   int    `json:"node"`
	Op     string `json:"op"`
	Input  int    `json:"input"`
	From   string `json:"from"`
	To     string `json:"to"`
	Policy string `json:"policy"`
}

// passRunner runs the pass over compiled graphs and, when it has a ledger,
// records every outcome.
type passRunner struct {
	table  *policy.Table
	logger *slog.Logger
	ledger *store.Store // optional
}

// run validates g, runs the pass and records the result. The returned error
// is reserved for ledger failures; validation problems and pass diagnostics
// are part of the report.
func (r *passRunner) run(ctx context.Context, g *ir.Graph) (GraphReport, error) {
	report := GraphReport{Graph: g.Name}
	if errs := compiler.Validate(g); len(errs) > 0 {
		report.Status = GraphInvalid
		report.Errors = errs
		return report, nil
	}

	programHash, err := ir.GraphHash(g)
	if err != nil {
		return report, fmt.Errorf("hashing graph %s: %w", g.Name, err)
	}

	res, runErr := amp.Run(g, amp.Options{Table: r.table, Logger: r.logger})
	rec, err := store.NewCompilation(g.Name, programHash, r.table, res, runErr)
	if err != nil {
		return report, err
	}

	report.Status = rec.Status
	report.CastsInserted = rec.CastsInserted
	for _, c := range rec.Casts {
		report.Casts = append(report.Casts, CastReport{
			Node: c.NodeID, Op: c.Op, Input: c.InputIndex, From: c.From, To: c.To, Policy: c.Policy,
		})
	}
	if runErr != nil {
		report.Diagnostic = diagnosticError(rec)
	} else {
		report.IR = ir.Print(res.Graph)
		for _, w := range res.Warnings {
			report.Warnings = append(report.Warnings, w.String())
		}
	}

	if r.ledger == nil {
		return report, nil
	}
	if rec.Status == store.StatusOK {
		prev, found, err := r.ledger.LookupSuccess(ctx, programHash, r.table.Hash())
		if err != nil {
			return report, err
		}
		if found {
			r.logger.Debug("ledger hit", "graph", g.Name, "compilation", prev.ID)
			report.Compilation = prev.ID
			report.Cached = true
			return report, nil
		}
	}
	written, err := r.ledger.WriteCompilation(ctx, rec)
	if err != nil {
		return report, err
	}
	r.logger.Debug("compilation recorded", "graph", g.Name, "compilation", written.ID, "seq", written.Seq)
	report.Compilation = written.ID
	return report, nil
}
