// Command ironloop runs the supervised agent harness: it repeatedly spawns
// a coding-agent CLI against a prompt file, classifies each session's
// outcome, and applies retry/backoff policy until a productive-iteration
// limit or shutdown request stops it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tgerrity/ironloop/harnesserr"
)

// version is set at build time via -ldflags. It defaults to "dev" for
// local builds.
var version = "dev"

// Exit codes: 1 for internal/config errors, 2 specifically for
// consecutive rate-limit exhaustion so callers can tell the two apart.
const (
	exitError       = 1
	exitRateLimited = 2
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ironloop:", err)
		if harnesserr.Is(err, harnesserr.RateLimited) {
			os.Exit(exitRateLimited)
		}
		os.Exit(exitError)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ironloop",
		Short:         "supervised control loop for a coding-agent CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	return root
}
