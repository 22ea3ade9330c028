package store

import (
	"context"
	"fmt"

	"github.com/roach88/ampc/internal/ir"
)

// WriteCompilation records a pass run and its casts in one transaction.
// The store assigns the ID (when empty) and the next seq; the stored record
// is returned.
func (s *Store) WriteCompilation(ctx context.Context, c Compilation) (Compilation, error) {
	if c.Status != StatusOK && c.Status != StatusRejected {
		return Compilation{}, fmt.Errorf("write compilation: invalid status %q", c.Status)
	}
	if c.ID == "" {
		c.ID = s.ids.Generate()
	}
	if c.IRVersion == "" {
		c.IRVersion = ir.IRVersion
	}
	details, err := marshalDetails(c.DiagDetails)
	if err != nil {
		return Compilation{}, fmt.Errorf("write compilation: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Compilation{}, fmt.Errorf("write compilation: begin: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM compilations").Scan(&c.Seq); err != nil {
		return Compilation{}, fmt.Errorf("write compilation: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO compilations
		(id, seq, graph_name, program_hash, policy_version, policy_hash, status,
		 diag_code, diag_message, diag_details, casts_inserted, ir_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID,
		c.Seq,
		c.GraphName,
		c.ProgramHash,
		c.PolicyVersion,
		c.PolicyHash,
		c.Status,
		c.DiagCode,
		c.DiagMessage,
		details,
		c.CastsInserted,
		c.IRVersion,
	)
	if err != nil {
		return Compilation{}, fmt.Errorf("write compilation: %w", err)
	}

	for i := range c.Casts {
		cast := &c.Casts[i]
		cast.Ordinal = i + 1
		_, err := tx.ExecContext(ctx, `
			INSERT INTO casts
			(compilation_id, ordinal, node_id, op, input_index, from_dtype, to_dtype, policy)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ID, cast.Ordinal, cast.NodeID, cast.Op, cast.InputIndex, cast.From, cast.To, cast.Policy)
		if err != nil {
			return Compilation{}, fmt.Errorf("write cast %d: %w", cast.Ordinal, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Compilation{}, fmt.Errorf("write compilation: commit: %w", err)
	}
	return c, nil
}

// marshalDetails stores diagnostic details as canonical JSON.
func marshalDetails(details map[string]string) (string, error) {
	obj := make(map[string]any, len(details))
	for k, v := range details {
		obj[k] = v
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal details: %w", err)
	}
	return string(data), nil
}
