package amp

import (
	"log/slog"

	"github.com/roach88/ampc/internal/ir"
	"github.com/roach88/ampc/internal/policy"
)

// Options configures a pass run. The zero value uses the default policy
// table, ordinary promotion and a discarding logger.
type Options struct {
	Table     *policy.Table
	Inference KernelInference
	Logger    *slog.Logger
}

// Result reports what a successful run did.
type Result struct {
	Graph         *ir.Graph
	CastsInserted int
	Casts         []CastRecord
	Warnings      []Warning

	Inlined int // call sites expanded
	Regions int // regions entered
	Visited int // enabled-region ops with a table entry
}

// Run annotates g with autocast contexts, checks every join and inserts the
// casts the policy table asks for. Run works on a copy: on failure it
// returns a *Diagnostic and g is left exactly as it was; on success g is
// replaced by the rewritten graph.
//
// Run does not retain g or opts. Concurrent runs on different graphs may
// share one Table.
func Run(g *ir.Graph, opts Options) (*Result, error) {
	table := opts.Table
	if table == nil {
		table = policy.Default()
	}
	infer := opts.Inference
	if infer == nil {
		infer = PromotionInference{Table: table}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("graph", g.Name, "policy_version", table.Version())

	work := g.Clone()
	inlined, err := inlineCalls(work)
	if err != nil {
		return nil, fail(logger, err)
	}

	t := &tracker{res: newResolver(work)}
	if err := t.track(work); err != nil {
		return nil, fail(logger, err)
	}

	p := newPlanner(table, infer)
	if err := p.plan(work); err != nil {
		return nil, fail(logger, err)
	}
	records := p.apply(work, logger)

	*g = *work
	res := &Result{
		Graph:         g,
		CastsInserted: len(records),
		Casts:         records,
		Warnings:      p.warnings,
		Inlined:       inlined,
		Regions:       t.regions,
		Visited:       p.visited,
	}
	for _, w := range res.Warnings {
		logger.Warn("autocast warning", "kind", w.Kind, "message", w.Message)
	}
	logger.Info("autocast pass complete",
		"casts", res.CastsInserted,
		"inlined", res.Inlined,
		"regions", res.Regions,
		"visited", res.Visited)
	return res, nil
}

func fail(logger *slog.Logger, err error) error {
	if d, ok := AsDiagnostic(err); ok {
		logger.Info("autocast pass rejected graph", "code", d.Code(), "kind", string(d.Kind), "error", d.Message)
	}
	return err
}
