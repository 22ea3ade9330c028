package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/ampc/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Graph    string // optional - filter to one graph
	ID       string // optional - show one compilation with its casts
}

// HistoryEntry is one ledger row.
type HistoryEntry struct {
	Seq           int64             `json:"seq"`
	ID            string            `json:"id"`
	Graph         string            `json:"graph"`
	Status        string            `json:"status"`
	ProgramHash   string            `json:"program_hash"`
	PolicyVersion string            `json:"policy_version"`
	PolicyHash    string            `json:"policy_hash"`
	CastsInserted int               `json:"casts_inserted"`
	DiagCode      string            `json:"diag_code,omitempty"`
	DiagMessage   string            `json:"diag_message,omitempty"`
	DiagDetails   map[string]string `json:"diag_details,omitempty"`
	IRVersion     string            `json:"ir_version"`
	Casts         []CastReport      `json:"casts,omitempty"`
}

// HistoryResult holds the history output.
type HistoryResult struct {
	Entries []HistoryEntry `json:"entries"`
	Stats   HistoryStats   `json:"stats"`
}

// HistoryStats holds summary statistics for the listed entries.
type HistoryStats struct {
	Total    int `json:"total"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Casts    int `json:"casts"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded compilations",
		Long: `List the compilations recorded in a ledger by "ampc compile --db".

Entries are shown in ledger order. Each entry names the graph, the
policy table version it ran under and either the number of casts
inserted or the diagnostic that rejected it.

Examples:
  ampc history --db ./ampc.db
  ampc history --db ./ampc.db --graph matmul_region
  ampc history --db ./ampc.db --id 01926f1e-... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite ledger (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Graph, "graph", "", "filter to one graph")
	cmd.Flags().StringVar(&opts.ID, "id", "", "show one compilation with its casts")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	// Opening would create an empty ledger; a missing file is a usage error.
	if _, err := os.Stat(opts.Database); err != nil {
		return exitf(ExitCommandError, "database not found: %w", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return exitf(ExitCommandError, "failed to open database: %w", err)
	}
	defer st.Close()

	var comps []store.Compilation
	if opts.ID != "" {
		c, err := st.ReadCompilation(ctx, opts.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return exitf(ExitCommandError, "compilation not found: %s", opts.ID)
		}
		if err != nil {
			return exitf(ExitCommandError, "failed to read compilation: %w", err)
		}
		comps = []store.Compilation{c}
	} else {
		comps, err = st.ReadCompilations(ctx, opts.Graph)
		if err != nil {
			return exitf(ExitCommandError, "failed to read compilations: %w", err)
		}
	}

	result := buildHistory(comps)
	if opts.Format == "json" {
		return newReporter(opts.RootOptions, cmd).envelope(result, nil)
	}
	return outputHistoryText(cmd, result, opts.Verbose || opts.ID != "")
}

// buildHistory converts ledger rows to history entries and tallies them.
func buildHistory(comps []store.Compilation) HistoryResult {
	result := HistoryResult{Entries: make([]HistoryEntry, 0, len(comps))}
	for _, c := range comps {
		entry := HistoryEntry{
			Seq:           c.Seq,
			ID:            c.ID,
			Graph:         c.GraphName,
			Status:        c.Status,
			ProgramHash:   c.ProgramHash,
			PolicyVersion: c.PolicyVersion,
			PolicyHash:    c.PolicyHash,
			CastsInserted: c.CastsInserted,
			DiagCode:      c.DiagCode,
			DiagMessage:   c.DiagMessage,
			DiagDetails:   c.DiagDetails,
			IRVersion:     c.IRVersion,
		}
		for _, cast := range c.Casts {
			entry.Casts = append(entry.Casts, CastReport{
				Node: cast.NodeID, Op: cast.Op, Input: cast.InputIndex,
				From: cast.From, To: cast.To, Policy: cast.Policy,
			})
		}
		result.Entries = append(result.Entries, entry)

		result.Stats.Total++
		result.Stats.Casts += c.CastsInserted
		if c.Status == store.StatusOK {
			result.Stats.Accepted++
		} else {
			result.Stats.Rejected++
		}
	}
	return result
}

// outputHistoryText outputs the history as text. Detailed output adds
// hashes and casts to every entry.
func outputHistoryText(cmd *cobra.Command, result HistoryResult, detailed bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "=== Compilations ===")
	if len(result.Entries) == 0 {
		fmt.Fprintln(w, "  (no compilations)")
	}
	for _, e := range result.Entries {
		if e.Status == store.StatusOK {
			fmt.Fprintf(w, "  [%d] %s %s ok, %d cast(s), policy %s\n",
				e.Seq, truncateID(e.ID), e.Graph, e.CastsInserted, e.PolicyVersion)
		} else {
			fmt.Fprintf(w, "  [%d] %s %s rejected [%s] %s, policy %s\n",
				e.Seq, truncateID(e.ID), e.Graph, e.DiagCode, e.DiagMessage, e.PolicyVersion)
		}
		if !detailed {
			continue
		}
		fmt.Fprintf(w, "       ID: %s\n", e.ID)
		fmt.Fprintf(w, "       Program: %s\n", truncateID(e.ProgramHash))
		fmt.Fprintf(w, "       Policy:  %s\n", truncateID(e.PolicyHash))
		for _, c := range e.Casts {
			fmt.Fprintf(w, "       cast %s#%d input %d: %s -> %s (%s)\n", c.Op, c.Node, c.Input, c.From, c.To, c.Policy)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total:    %d\n", result.Stats.Total)
	fmt.Fprintf(w, "  Accepted: %d\n", result.Stats.Accepted)
	fmt.Fprintf(w, "  Rejected: %d\n", result.Stats.Rejected)
	fmt.Fprintf(w, "  Casts:    %d\n", result.Stats.Casts)

	return nil
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
