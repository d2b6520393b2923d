// Package preflight implements the Preflight Checker (C11): before the
// Iteration Driver's first pass, it confirms the harness's runtime
// dependencies resolve on PATH.
package preflight

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/tgerrity/ironloop/harnesserr"
)

// Binary represents one required external executable.
type Binary struct {
	Name        string
	Description string
}

// Requirements returns the harness's two runtime dependencies: the
// configured agent command, and sh (used to run hooks and prepend
// commands).
func Requirements(agentCommand string) []Binary {
	return []Binary{
		{Name: agentCommand, Description: "coding agent CLI"},
		{Name: "sh", Description: "POSIX shell (hooks and prepend commands)"},
	}
}

// Result is the outcome of checking one binary.
type Result struct {
	Binary Binary
	Found  bool
	Path   string
}

// Check verifies a single binary resolves via exec.LookPath.
func Check(bin Binary) Result {
	result := Result{Binary: bin}
	path, err := exec.LookPath(bin.Name)
	if err != nil {
		return result
	}
	result.Found = true
	result.Path = path
	return result
}

// CheckAll checks every binary in bins.
func CheckAll(bins []Binary) []Result {
	results := make([]Result, len(bins))
	for i, bin := range bins {
		results[i] = Check(bin)
	}
	return results
}

// Validate checks all required binaries and returns a ConfigInvalid error
// naming everything missing, or nil if all are resolvable.
func Validate(agentCommand string) error {
	results := CheckAll(Requirements(agentCommand))

	var missing []string
	for _, r := range results {
		if !r.Found {
			missing = append(missing, fmt.Sprintf("  - %s (%s)", r.Binary.Name, r.Binary.Description))
		}
	}

	if len(missing) > 0 {
		return harnesserr.New(harnesserr.ConfigInvalid,
			fmt.Sprintf("missing required executables on PATH:\n%s", strings.Join(missing, "\n")))
	}
	return nil
}

// FormatResults renders check results for human-readable startup output.
func FormatResults(results []Result) string {
	var sb strings.Builder
	sb.WriteString("Preflight checks:\n")
	for _, r := range results {
		status := "✓"
		if !r.Found {
			status = "✗"
		}
		sb.WriteString(fmt.Sprintf("  %s %s", status, r.Binary.Name))
		if r.Found {
			sb.WriteString(fmt.Sprintf(" (%s)", r.Path))
		} else {
			sb.WriteString(" [MISSING]")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
