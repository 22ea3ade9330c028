package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const compilationColumns = `id, seq, graph_name, program_hash, policy_version, policy_hash, status,
	diag_code, diag_message, diag_details, casts_inserted, ir_version`

// ReadCompilations lists recorded runs ordered by seq. An empty graphName
// lists every graph. Returns an empty slice (not nil) when nothing matches.
func (s *Store) ReadCompilations(ctx context.Context, graphName string) ([]Compilation, error) {
	query := `SELECT ` + compilationColumns + ` FROM compilations`
	var args []any
	if graphName != "" {
		query += ` WHERE graph_name = ?`
		args = append(args, graphName)
	}
	query += ` ORDER BY seq ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query compilations: %w", err)
	}
	defer rows.Close()

	comps := []Compilation{}
	for rows.Next() {
		c, err := scanCompilation(rows)
		if err != nil {
			return nil, err
		}
		comps = append(comps, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate compilations: %w", err)
	}
	return comps, nil
}

// ReadCompilation retrieves one run with its casts.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadCompilation(ctx context.Context, id string) (Compilation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+compilationColumns+` FROM compilations WHERE id = ?`, id)
	c, err := scanCompilation(row)
	if err != nil {
		return Compilation{}, err
	}
	c.Casts, err = s.ReadCasts(ctx, id)
	if err != nil {
		return Compilation{}, err
	}
	return c, nil
}

// ReadCasts returns the casts of a run in insertion order.
func (s *Store) ReadCasts(ctx context.Context, compilationID string) ([]Cast, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ordinal, node_id, op, input_index, from_dtype, to_dtype, policy
		FROM casts
		WHERE compilation_id = ?
		ORDER BY ordinal ASC
	`, compilationID)
	if err != nil {
		return nil, fmt.Errorf("query casts: %w", err)
	}
	defer rows.Close()

	casts := []Cast{}
	for rows.Next() {
		var c Cast
		if err := rows.Scan(&c.Ordinal, &c.NodeID, &c.Op, &c.InputIndex, &c.From, &c.To, &c.Policy); err != nil {
			return nil, fmt.Errorf("scan cast: %w", err)
		}
		casts = append(casts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate casts: %w", err)
	}
	return casts, nil
}

// LookupSuccess finds the latest successful run of a program under a policy
// table. The boolean is false when there is none.
func (s *Store) LookupSuccess(ctx context.Context, programHash, policyHash string) (Compilation, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+compilationColumns+`
		FROM compilations
		WHERE program_hash = ? AND policy_hash = ? AND status = ?
		ORDER BY seq DESC
		LIMIT 1
	`, programHash, policyHash, StatusOK)
	c, err := scanCompilation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Compilation{}, false, nil
	}
	if err != nil {
		return Compilation{}, false, err
	}
	c.Casts, err = s.ReadCasts(ctx, c.ID)
	if err != nil {
		return Compilation{}, false, err
	}
	return c, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCompilation(row scanner) (Compilation, error) {
	var c Compilation
	var details string
	err := row.Scan(
		&c.ID, &c.Seq, &c.GraphName, &c.ProgramHash, &c.PolicyVersion, &c.PolicyHash, &c.Status,
		&c.DiagCode, &c.DiagMessage, &details, &c.CastsInserted, &c.IRVersion,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Compilation{}, err
	}
	if err != nil {
		return Compilation{}, fmt.Errorf("scan compilation: %w", err)
	}
	if err := json.Unmarshal([]byte(details), &c.DiagDetails); err != nil {
		return Compilation{}, fmt.Errorf("unmarshal diag details: %w", err)
	}
	if len(c.DiagDetails) == 0 {
		c.DiagDetails = nil
	}
	return c, nil
}
