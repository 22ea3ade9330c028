package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ampc/internal/store"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Graph    string // compile only this graph
	Policy   string // policy table override
	Database string // ledger to record runs in
	Output   string // write the rewritten graphs here
}

// CompileResult holds the outcome of a compile run.
type CompileResult struct {
	Graphs   []GraphReport `json:"graphs"`
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Invalid  int           `json:"invalid"`
}

func (r *CompileResult) add(report GraphReport) {
	r.Graphs = append(r.Graphs, report)
	switch report.Status {
	case GraphAccepted:
		r.Accepted++
	case GraphRejected:
		r.Rejected++
	default:
		r.Invalid++
	}
}

func (r *CompileResult) failed() int {
	return r.Rejected + r.Invalid
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <program-dir>",
		Short: "Run the autocast pass and print the rewritten graphs",
		Long: `Compile the CUE programs in a directory and run the static autocast
pass on every graph.

Accepted graphs are printed with their inserted casts. A graph the pass
rejects is reported with its diagnostic and leaves the other graphs
unaffected.

Exit codes:
  0 - Every graph was accepted
  1 - One or more graphs were rejected or invalid
  2 - Command error (unreadable directory, compile error, etc.)

Examples:
  ampc compile ./programs
  ampc compile ./programs --graph matmul_region
  ampc compile ./programs --policy ./table.cue --db ./ampc.db
  ampc compile ./programs -o rewritten.txt --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Graph, "graph", "", "compile only the named graph")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "policy table override (CUE file)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record compilations in this SQLite ledger")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write rewritten graphs to file")

	return cmd
}

func runCompile(opts *CompileOptions, programDir string, cmd *cobra.Command) error {
	r := newReporter(opts.RootOptions, cmd)
	ctx := context.Background()

	table, err := loadTable(opts.Policy)
	if err != nil {
		return r.fail(ExitCommandError, loadError(asLoadError(err)))
	}

	loaded, err := LoadPrograms(programDir, table)
	if err != nil {
		return r.fail(ExitCommandError, loadError(asLoadError(err)))
	}
	r.logf("Found %d CUE file(s) in %s", loaded.FileCount, programDir)
	r.logf("Policy table %s (%s)", table.Version(), table.Hash()[:12])

	graphs, err := selectGraphs(loaded.Graphs, opts.Graph)
	if err != nil {
		return r.fail(ExitCommandError, loadError(asLoadError(err)))
	}

	runner := &passRunner{table: table, logger: r.logger()}
	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return r.fail(ExitCommandError, CLIError{Code: ErrCodeDatabase, Message: fmt.Sprintf("opening ledger: %v", err)})
		}
		defer st.Close()
		runner.ledger = st
	}

	result := &CompileResult{Graphs: []GraphReport{}}
	for _, g := range graphs {
		r.logf("Running pass on graph: %s", g.Name)
		report, err := runner.run(ctx, g)
		if err != nil {
			return r.fail(ExitCommandError, CLIError{Code: ErrCodeDatabase, Message: fmt.Sprintf("recording %s: %v", g.Name, err)})
		}
		result.add(report)
	}

	if opts.Output != "" {
		if err := writeIRToFile(result, opts.Output); err != nil {
			return r.fail(ExitCommandError, CLIError{Code: ErrCodeWriteFailed, Message: fmt.Sprintf("writing output file: %v", err)})
		}
	}

	return outputCompileResult(r, result, opts.Output)
}

// writeIRToFile writes the printed form of every accepted graph to a file.
func writeIRToFile(result *CompileResult, path string) error {
	var sb strings.Builder
	for _, report := range result.Graphs {
		if report.Status != GraphAccepted {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(report.IR)
	}
	return os.WriteFile(path, []byte(sb.String()), 0644)
}

// outputCompileResult prints every graph report. Any rejected or invalid
// graph makes the command exit 1.
func outputCompileResult(r *reporter, result *CompileResult, outputFile string) error {
	var failure *CLIError
	if n := result.failed(); n > 0 {
		failure = &CLIError{Code: "E_REJECTED", Message: fmt.Sprintf("%d graph(s) rejected or invalid", n)}
	}

	if r.json {
		if err := r.envelope(result, failure); err != nil {
			return err
		}
	} else {
		for _, report := range result.Graphs {
			r.graph(report, true)
		}
		fmt.Fprintf(r.out, "Compiled %d graph(s): %d accepted, %d rejected, %d invalid\n",
			len(result.Graphs), result.Accepted, result.Rejected, result.Invalid)
		if outputFile != "" {
			fmt.Fprintf(r.out, "Wrote rewritten graphs to %s\n", outputFile)
		}
	}

	if failure != nil {
		return exitf(ExitFailure, "%s", failure.Message)
	}
	return nil
}
