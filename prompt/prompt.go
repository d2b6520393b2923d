// Package prompt implements the Prompt Assembler (C1): it builds the final
// prompt text handed to the Session Runner from a base file plus the
// stdout of zero or more prepend commands.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tgerrity/ironloop/exec"
	"github.com/tgerrity/ironloop/harnesserr"
)

// Assembler builds prompt text per iteration. It is stateless across
// iterations: Assemble is called once per iteration and the result is
// consumed immediately by the Session Runner, never retained.
type Assembler struct {
	PromptFilePath  string
	PrependCommands []string
	Separator       string
	WorkDir         string
	Executor        exec.CommandExecutor
	Logger          *slog.Logger
}

// Assemble runs each prepend command in a subshell, capturing and
// accumulating non-empty trimmed stdout, then concatenates the
// accumulated chunks (separated by Separator) followed by the separator
// and the raw prompt file contents.
//
// A prepend command that exits non-zero may still contribute its stdout;
// only an unreadable prompt file fails the iteration.
func (a *Assembler) Assemble(ctx context.Context) (string, error) {
	var chunks []string

	for _, cmd := range a.PrependCommands {
		stdout, stderr, err := a.Executor.Run(ctx, a.WorkDir, "sh", "-c", cmd)
		if err != nil && a.Logger != nil {
			a.Logger.Debug("prepend command exited non-zero", "command", cmd, "error", err)
		}
		if len(stderr) > 0 && a.Logger != nil {
			a.Logger.Debug("prepend command stderr", "command", cmd, "stderr", string(stderr))
		}

		trimmed := strings.TrimSpace(string(stdout))
		if trimmed != "" {
			chunks = append(chunks, trimmed)
		}
	}

	promptData, err := os.ReadFile(a.PromptFilePath)
	if err != nil {
		return "", harnesserr.Wrap(harnesserr.PromptMissing,
			fmt.Sprintf("reading prompt file %q", a.PromptFilePath), err)
	}

	var sb strings.Builder
	for _, chunk := range chunks {
		sb.WriteString(chunk)
		sb.WriteString(a.Separator)
	}
	sb.WriteString(string(promptData))

	return sb.String(), nil
}
