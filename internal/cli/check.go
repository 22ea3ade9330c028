package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/ampc/internal/policy"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Graph  string
	Policy string
}

// CheckResult holds check results.
type CheckResult struct {
	Valid  bool          `json:"valid"`
	Graphs []GraphReport `json:"graphs,omitempty"`
	Errors []CLIError    `json:"errors,omitempty"` // programs that did not compile
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <program-dir>",
		Short: "Report autocast diagnostics without printing graphs",
		Long: `Compile the CUE programs in a directory, run the autocast pass on
every graph and report only what would stop a compile: syntax and
structure errors, and pass diagnostics. Nothing is written.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Graph, "graph", "", "check only the named graph")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "policy table override (CUE file)")

	return cmd
}

func runCheck(opts *CheckOptions, programDir string, cmd *cobra.Command) error {
	r := newReporter(opts.RootOptions, cmd)

	table, err := loadTable(opts.Policy)
	if err != nil {
		return r.fail(ExitCommandError, loadError(asLoadError(err)))
	}

	loaded, err := LoadPrograms(programDir, table)
	if err != nil {
		loadErr := asLoadError(err)
		if isCommandError(loadErr.Code) {
			return r.fail(ExitCommandError, loadError(loadErr))
		}
		// A program that does not compile is a finding, not a command error.
		return outputCheckFailure(r, &CheckResult{Errors: []CLIError{loadError(loadErr)}})
	}
	r.logf("Found %d CUE file(s) in %s", loaded.FileCount, programDir)

	graphs, err := selectGraphs(loaded.Graphs, opts.Graph)
	if err != nil {
		return r.fail(ExitCommandError, loadError(asLoadError(err)))
	}

	runner := &passRunner{table: table, logger: r.logger()}
	result := &CheckResult{Valid: true}
	for _, g := range graphs {
		r.logf("Checking graph: %s", g.Name)
		report, err := runner.run(context.Background(), g)
		if err != nil {
			return r.fail(ExitCommandError, CLIError{Code: ErrCodeGeneric, Message: err.Error()})
		}
		report.IR = ""
		if report.Status != GraphAccepted {
			result.Valid = false
		}
		result.Graphs = append(result.Graphs, report)
	}

	if !result.Valid {
		return outputCheckFailure(r, result)
	}
	if r.json {
		return r.envelope(result, nil)
	}
	for _, report := range result.Graphs {
		r.graph(report, false)
	}
	fmt.Fprintf(r.out, "✓ All %d graph(s) accepted\n", len(result.Graphs))
	return nil
}

// isCommandError reports whether a load error code means the command could
// not run at all, as opposed to a program that failed to compile.
func isCommandError(code string) bool {
	switch code {
	case ErrCodeNotFound, ErrCodeScanError, ErrCodeNoFiles, ErrCodeLoadFailed:
		return true
	}
	return false
}

// outputCheckFailure reports compile errors or failed graphs and exits 1.
// The first finding becomes the envelope error.
func outputCheckFailure(r *reporter, result *CheckResult) error {
	findings := slices.Clone(result.Errors)
	for _, report := range result.Graphs {
		if report.Status != GraphAccepted {
			findings = append(findings, graphFinding(report))
		}
	}
	exit := exitf(ExitFailure, "check failed with %d error(s)", len(findings))

	if r.json {
		if err := r.envelope(result, &findings[0]); err != nil {
			return err
		}
		return exit
	}

	fmt.Fprintln(r.out, "✗ Check failed")
	r.findings(result.Errors)
	for _, report := range result.Graphs {
		r.graph(report, false)
	}
	return exit
}

// graphFinding is the CLIError that best describes a failed graph.
func graphFinding(report GraphReport) CLIError {
	if report.Diagnostic != nil {
		return *report.Diagnostic
	}
	if len(report.Errors) > 0 {
		return validationError(report.Errors[0])
	}
	return CLIError{Code: ErrCodeGeneric, Message: report.Graph + ": " + report.Status}
}

// CheckProgramDir runs the pass on every graph of a directory without
// output. This is a helper function for external callers.
func CheckProgramDir(programDir string, table *policy.Table) ([]GraphReport, error) {
	loaded, err := LoadPrograms(programDir, table)
	if err != nil {
		return nil, err
	}

	runner := &passRunner{table: table, logger: slog.New(slog.DiscardHandler)}
	reports := make([]GraphReport, 0, len(loaded.Graphs))
	for _, g := range loaded.Graphs {
		report, err := runner.run(context.Background(), g)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}
