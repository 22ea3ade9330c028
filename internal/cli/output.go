package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"

	"github.com/roach88/ampc/internal/compiler"
	"github.com/roach88/ampc/internal/store"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a graph was rejected or invalid, a check or scenario failed
	ExitCommandError = 2 // the command could not run
)

// ExitError ends a command with a process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// exitf formats like fmt.Errorf, so %w keeps the cause.
func exitf(code int, format string, args ...any) *ExitError {
	return &ExitError{Code: code, Err: fmt.Errorf(format, args...)}
}

// GetExitCode returns the code carried by err, or ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// CLIResponse is the JSON envelope every command writes with --format json.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is one coded failure: a load or compile error (E0xx, E12x), a
// structural error (E1xx) or a pass diagnostic (E2xx). Kind is set for pass
// diagnostics only.
type CLIError struct {
	Code    string            `json:"code"`
	Kind    string            `json:"kind,omitempty"`
	Message string            `json:"message"`
	Pos     string            `json:"pos,omitempty"` // file:line:col
	Details map[string]string `json:"details,omitempty"`
}

// String renders e as "[CODE] Kind: message".
func (e *CLIError) String() string {
	if e.Kind == "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Kind, e.Message)
}

// diagnosticError lifts the diagnostic of a rejected ledger row. Kind and
// position move to their own fields; the rest stays in Details.
func diagnosticError(c store.Compilation) *CLIError {
	e := &CLIError{
		Code:    c.DiagCode,
		Kind:    c.DiagDetails["kind"],
		Message: c.DiagMessage,
		Pos:     c.DiagDetails["pos"],
	}
	rest := maps.Clone(c.DiagDetails)
	delete(rest, "kind")
	delete(rest, "pos")
	if len(rest) > 0 {
		e.Details = rest
	}
	return e
}

func loadError(e *LoadError) CLIError {
	return CLIError{Code: e.Code, Message: e.Message, Pos: formatPos(e.Pos)}
}

func validationError(e compiler.ValidationError) CLIError {
	ce := CLIError{Code: e.Code, Message: e.Field + ": " + e.Message}
	if e.Line > 0 {
		ce.Pos = fmt.Sprintf("line %d", e.Line)
	}
	return ce
}

func formatPos(pos token.Pos) string {
	if !pos.IsValid() {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", pos.Filename(), pos.Line(), pos.Column())
}

// reporter writes command results as text or as the JSON envelope. Progress
// lines and pass logs go to log, so JSON on out stays parseable.
type reporter struct {
	json    bool
	verbose bool
	out     io.Writer
	log     io.Writer
}

func newReporter(opts *RootOptions, cmd *cobra.Command) *reporter {
	return &reporter{
		json:    opts.Format == "json",
		verbose: opts.Verbose,
		out:     cmd.OutOrStdout(),
		log:     cmd.ErrOrStderr(),
	}
}

// logf prints a progress line in verbose mode.
func (r *reporter) logf(format string, args ...any) {
	if r.verbose {
		fmt.Fprintf(r.log, format+"\n", args...)
	}
}

// logger is a debug-level text logger on the log stream in verbose mode and
// a discarding logger otherwise.
func (r *reporter) logger() *slog.Logger {
	if !r.verbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(r.log, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// envelope writes data in the JSON envelope. A non-nil failure sets status
// "error".
func (r *reporter) envelope(data any, failure *CLIError) error {
	resp := CLIResponse{Status: "ok", Data: data}
	if failure != nil {
		resp.Status = "error"
		resp.Error = failure
	}
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// fail reports a failure that stops the command and returns the exit error
// for code.
func (r *reporter) fail(code int, e CLIError) error {
	if r.json {
		if err := r.envelope(nil, &e); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(r.out, "Error [%s]: %s\n", e.Code, e.Message)
		if e.Pos != "" {
			fmt.Fprintf(r.out, "  at %s\n", e.Pos)
		}
	}
	return exitf(code, "%s: %s", e.Code, e.Message)
}

// graph prints one graph report. withIR adds the rewritten graph of an
// accepted report; verbose mode adds every cast and diagnostic detail.
func (r *reporter) graph(report GraphReport, withIR bool) {
	w := r.out
	switch report.Status {
	case GraphAccepted:
		suffix := ""
		if report.Cached {
			suffix = " (recorded in " + report.Compilation + ")"
		}
		fmt.Fprintf(w, "✓ %s: %d cast(s)%s\n", report.Graph, report.CastsInserted, suffix)
		if r.verbose {
			for _, c := range report.Casts {
				fmt.Fprintf(w, "  cast %s#%d input %d: %s -> %s (%s)\n", c.Op, c.Node, c.Input, c.From, c.To, c.Policy)
			}
		}
		for _, warning := range report.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", warning)
		}
		if withIR {
			fmt.Fprintln(w, report.IR)
		}

	case GraphRejected:
		d := report.Diagnostic
		fmt.Fprintf(w, "✗ %s: %s\n", report.Graph, d)
		if d.Pos != "" {
			fmt.Fprintf(w, "  at %s\n", d.Pos)
		}
		if r.verbose {
			for _, k := range slices.Sorted(maps.Keys(d.Details)) {
				fmt.Fprintf(w, "  %s=%s\n", k, d.Details[k])
			}
		}

	default:
		fmt.Fprintf(w, "✗ %s: invalid graph\n", report.Graph)
		for _, e := range report.Errors {
			fmt.Fprintf(w, "  %s\n", e.Error())
		}
	}
}

// findings prints coded errors one per line, "  CODE: message (pos)".
func (r *reporter) findings(errs []CLIError) {
	for _, e := range errs {
		var sb strings.Builder
		fmt.Fprintf(&sb, "  %s: %s", e.Code, e.Message)
		if e.Pos != "" {
			fmt.Fprintf(&sb, " (%s)", e.Pos)
		}
		fmt.Fprintln(r.out, sb.String())
	}
}
