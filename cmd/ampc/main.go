// Command ampc runs the static autocast pass over CUE tensor programs.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/ampc/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ampc:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
