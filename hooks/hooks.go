// Package hooks implements the Hook Invoker (C6): ordered shell commands
// run serially before and after each session, with the environment
// contract documented in the external interfaces section.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/tgerrity/ironloop/exec"
	"github.com/tgerrity/ironloop/harnesserr"
)

// EnvContext carries the values surfaced to hooks as HARNESS_* environment
// variables.
type EnvContext struct {
	ProductiveIteration    int64
	GlobalIteration        int64
	PromptFilePath         string
	OutputFilePath         string
	ExitCode               int
	OutputBytes            int64
	SessionDurationSeconds int64
	Committed              bool
}

// preEnv returns the variables pre-hooks receive.
func (c EnvContext) preEnv() []string {
	return []string{
		fmt.Sprintf("HARNESS_ITERATION=%d", c.ProductiveIteration),
		fmt.Sprintf("HARNESS_GLOBAL_ITERATION=%d", c.GlobalIteration),
		fmt.Sprintf("HARNESS_PROMPT_FILE=%s", c.PromptFilePath),
	}
}

// postEnv returns the variables post-hooks receive, which is the pre-hook
// set plus the session outcome details.
func (c EnvContext) postEnv() []string {
	return append(c.preEnv(),
		fmt.Sprintf("HARNESS_OUTPUT_FILE=%s", c.OutputFilePath),
		fmt.Sprintf("HARNESS_EXIT_CODE=%d", c.ExitCode),
		fmt.Sprintf("HARNESS_OUTPUT_BYTES=%d", c.OutputBytes),
		fmt.Sprintf("HARNESS_SESSION_DURATION=%d", c.SessionDurationSeconds),
		fmt.Sprintf("HARNESS_COMMITTED=%s", strconv.FormatBool(c.Committed)),
	)
}

// Invoker runs pre/post session hooks in a subshell inheriting the process
// environment plus the HARNESS_* contract above.
type Invoker struct {
	WorkDir  string
	Executor exec.CommandExecutor
	Logger   *slog.Logger
}

// RunPreHooks executes each pre-hook command serially. A non-zero exit from
// any pre-hook aborts the sequence and returns a HookFailed error; commands
// after the failing one do not run.
func (inv *Invoker) RunPreHooks(ctx context.Context, commands []string, env EnvContext) error {
	envPairs := env.preEnv()
	for _, cmd := range commands {
		if cmd == "" {
			continue
		}
		_, stderr, err := inv.runWithEnv(ctx, cmd, envPairs)
		if err != nil {
			return harnesserr.Wrap(harnesserr.HookFailed,
				fmt.Sprintf("pre-hook %q failed: %s", cmd, stderr), err)
		}
		if inv.Logger != nil {
			inv.Logger.Debug("pre-hook completed", "command", cmd)
		}
	}
	return nil
}

// Failure records a post-hook command that exited non-zero.
type Failure struct {
	Command string
	Err     error
}

// RunPostHooks executes each post-hook command serially. Failures are
// logged and returned but never reclassify the session's outcome, and a
// failing post-hook does not prevent later ones from running.
func (inv *Invoker) RunPostHooks(ctx context.Context, commands []string, env EnvContext) []Failure {
	envPairs := env.postEnv()
	var failures []Failure
	for _, cmd := range commands {
		if cmd == "" {
			continue
		}
		_, stderr, err := inv.runWithEnv(ctx, cmd, envPairs)
		if err != nil {
			if inv.Logger != nil {
				inv.Logger.Warn("post-hook failed", "command", cmd, "error", err, "stderr", string(stderr))
			}
			failures = append(failures, Failure{Command: cmd, Err: err})
			continue
		}
		if inv.Logger != nil {
			inv.Logger.Debug("post-hook completed", "command", cmd)
		}
	}
	return failures
}

// runWithEnv shells out via the configured executor. The HARNESS_* pairs
// are appended to the hook's own environment by wrapping the command in a
// small export prelude, since CommandExecutor does not expose an env knob
// directly.
func (inv *Invoker) runWithEnv(ctx context.Context, cmd string, env []string) (stdout, stderr []byte, err error) {
	script := buildEnvScript(env, cmd)
	return inv.Executor.Run(ctx, inv.WorkDir, "sh", "-c", script)
}

// buildEnvScript prefixes cmd with shell-quoted export statements for each
// KEY=VALUE pair.
func buildEnvScript(env []string, cmd string) string {
	script := ""
	for _, kv := range env {
		script += "export " + shellQuoteAssignment(kv) + "; "
	}
	return script + cmd
}

// shellQuoteAssignment quotes the value half of a KEY=VALUE pair for safe
// inclusion in a generated shell script, leaving the key bare.
func shellQuoteAssignment(kv string) string {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			key := kv[:i]
			value := kv[i+1:]
			return key + "=" + shellQuote(value)
		}
	}
	return kv
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	out := "'"
	for _, r := range s {
		if r == '\'' {
			out += `'"'"'`
		} else {
			out += string(r)
		}
	}
	return out + "'"
}
