package main

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tgerrity/ironloop/record"
)

func newStatusCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "print the harness's last published status document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStatus(configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the harness configuration file (used only to locate the run directory)")
	return cmd
}

func printStatus(configPath string) error {
	resolvedPath, err := resolveConfigPath(configPath)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	dir := filepath.Dir(resolvedPath)
	statusPath := filepath.Join(dir, ".ironloop", "status.json")

	doc, err := record.ReadStatus(statusPath)
	if err != nil {
		return fmt.Errorf("reading status document %q: %w", statusPath, err)
	}

	fmt.Printf("pid:                   %d\n", doc.PID)
	fmt.Printf("state:                 %s\n", doc.State)
	fmt.Printf("productive iteration:  %d / %d\n", doc.ProductiveIteration, doc.ProductiveMax)
	fmt.Printf("global iteration:      %d\n", doc.GlobalIteration)
	fmt.Printf("consecutive rate limits: %d\n", doc.ConsecutiveRateLimits)
	if doc.CurrentOutputFile != "" {
		fmt.Printf("current output file:  %s (%d bytes)\n", doc.CurrentOutputFile, doc.CurrentOutputBytes)
	}
	fmt.Printf("last committed:        %t\n", doc.LastCommitted)
	fmt.Printf("last update:           %s\n", doc.LastUpdateTime.Format("2006-01-02T15:04:05Z07:00"))

	if !pidRunning(doc.PID) {
		fmt.Printf("process:               not running (stale status)\n")
		return fmt.Errorf("status document is stale: pid %d is not running", doc.PID)
	}
	fmt.Printf("process:               running\n")

	return nil
}

// pidRunning reports whether pid identifies a live process. On Unix,
// os.FindProcess always succeeds, so liveness is checked with signal 0.
func pidRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
