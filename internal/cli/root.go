package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/ampc/internal/ir"
	"github.com/roach88/ampc/internal/policy"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the ampc CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "ampc",
		Short:   "ampc - static mixed-precision autocast",
		Version: versionString(),
		Long: `Compile tensor programs written in CUE and insert the dtype casts
their autocast regions call for, before the graph ever runs.

Every graph is either rewritten in full or rejected with one coded
diagnostic (E201-E206) naming the node, value or region at fault.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return exitf(ExitCommandError, "invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log pass decisions to stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(
		NewCompileCommand(opts),
		NewCheckCommand(opts),
		NewTestCommand(opts),
		NewHistoryCommand(opts),
	)

	return cmd
}

// versionString names the pass, the IR format and the built-in policy table.
func versionString() string {
	return fmt.Sprintf("%s (ir %s, policy %s)", ir.PassVersion, ir.IRVersion, policy.Default().Version())
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
