package store

import (
	"fmt"

	"github.com/roach88/ampc/internal/amp"
	"github.com/roach88/ampc/internal/policy"
)

// NewCompilation converts the outcome of amp.Run into a ledger row.
// programHash is the hash of the graph before the pass ran. A nil runErr
// with a non-nil res records a success; a Diagnostic records a rejection.
// Any other error is not a pass outcome and is returned unchanged.
func NewCompilation(graphName, programHash string, table *policy.Table, res *amp.Result, runErr error) (Compilation, error) {
	c := Compilation{
		GraphName:     graphName,
		ProgramHash:   programHash,
		PolicyVersion: table.Version(),
		PolicyHash:    table.Hash(),
	}

	if runErr != nil {
		d, ok := amp.AsDiagnostic(runErr)
		if !ok {
			return Compilation{}, runErr
		}
		c.Status = StatusRejected
		c.DiagCode = d.Code()
		c.DiagMessage = d.Message
		c.DiagDetails = d.Details()
		return c, nil
	}
	if res == nil {
		return Compilation{}, fmt.Errorf("new compilation: no result for %s", graphName)
	}

	c.Status = StatusOK
	c.CastsInserted = res.CastsInserted
	for _, rec := range res.Casts {
		c.Casts = append(c.Casts, Cast{
			NodeID:     rec.Node.ID,
			Op:         rec.Node.Op,
			InputIndex: rec.Input,
			From:       rec.From.String(),
			To:         rec.To.String(),
			Policy:     rec.Policy.String(),
		})
	}
	return c, nil
}
