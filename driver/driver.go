// Package driver implements the Iteration Driver (C9): the top-level state
// machine that binds the prompt assembler, session runner, watchdog,
// outcome classifier, retry/backoff policy, hook invoker, shutdown
// coordinator, and recorder into one control loop.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/tgerrity/ironloop/config"
	"github.com/tgerrity/ironloop/harnesserr"
	"github.com/tgerrity/ironloop/hooks"
	"github.com/tgerrity/ironloop/logger"
	"github.com/tgerrity/ironloop/policy"
	"github.com/tgerrity/ironloop/prompt"
	"github.com/tgerrity/ironloop/record"
	"github.com/tgerrity/ironloop/runner"
	"github.com/tgerrity/ironloop/session"
	"github.com/tgerrity/ironloop/shutdown"

	execpkg "github.com/tgerrity/ironloop/exec"
)

// statusFileName is fixed relative to the working directory; it is not
// independently configurable.
const statusFileName = ".ironloop/status.json"

// Driver owns one harness run from Starting through Terminated.
type Driver struct {
	Config      *config.Config
	WorkDir     string
	Coordinator *shutdown.Coordinator
	Recorder    *record.Recorder
	Classifier  *session.Classifier
	Policy      *policy.Engine
	Assembler   *prompt.Assembler
	Hooks       *hooks.Invoker
	Log         *slog.Logger

	// Version is stamped into the terminated event's details. Set by the
	// CLI entrypoint; defaults to empty for library use.
	Version string

	productiveIteration int64
	globalIteration     int64
	consecutiveRateLim  int

	sessionStart        time.Time
	currentOutputBytes  int64
	lastCompletedGlobal int64
	lastCommitted       bool
	forcedRecorded      bool
}

// termination describes why the loop reached a terminal state. err is
// non-nil only when the terminal state maps to a non-zero process exit
// (rate-limit exhaustion); shutdown paths terminate with err == nil.
type termination struct {
	reason string
	err    error
}

// ProductiveIteration returns the number of productive iterations completed
// so far, resumed from the last published status document at construction.
func (d *Driver) ProductiveIteration() int64 {
	return d.productiveIteration
}

// New wires a Driver from cfg. workDir is the directory hooks, prepend
// commands, and the agent subprocess run in (normally the current
// working directory).
func New(cfg *config.Config, workDir string, coordinator *shutdown.Coordinator) (*Driver, error) {
	statusPath := filepath.Join(workDir, statusFileName)
	eventLogPath := cfg.Output.EventLogPath
	if eventLogPath != "" && !filepath.IsAbs(eventLogPath) {
		eventLogPath = filepath.Join(workDir, eventLogPath)
	}

	rec, err := record.New(statusPath, eventLogPath)
	if err != nil {
		return nil, harnesserr.Wrap(harnesserr.InternalError, "initializing recorder", err)
	}

	commitPatterns := make([]*regexp.Regexp, 0, len(cfg.CommitDetection.Patterns))
	for _, p := range cfg.CommitDetection.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, harnesserr.Wrap(harnesserr.ConfigInvalid, fmt.Sprintf("compiling commit_detection pattern %q", p), err)
		}
		commitPatterns = append(commitPatterns, re)
	}

	executor := execpkg.NewRealExecutor()

	d := &Driver{
		Config:      cfg,
		WorkDir:     workDir,
		Coordinator: coordinator,
		Recorder:    rec,
		Classifier:  session.NewClassifier(cfg.Watchdog.MinProductiveBytes, cfg.CommitDetection.RateLimitPhrases, commitPatterns),
		Policy: &policy.Engine{
			MaxEmptyRetries:          cfg.Retry.MaxEmptyRetries,
			RetryDelay:               cfg.Retry.RetryDelay.Duration,
			InitialBackoffDelay:      cfg.Backoff.InitialDelay.Duration,
			MaxBackoffDelay:          cfg.Backoff.MaxDelay.Duration,
			MaxConsecutiveRateLimits: cfg.Backoff.MaxConsecutiveRateLimits,
		},
		Assembler: &prompt.Assembler{
			PromptFilePath:  filepath.Join(workDir, cfg.Session.PromptFilePath),
			PrependCommands: cfg.Prompt.PrependCommands,
			Separator:       cfg.Prompt.Separator,
			WorkDir:         workDir,
			Executor:        executor,
			Logger:          logger.WithComponent("prompt"),
		},
		Hooks: &hooks.Invoker{
			WorkDir:  workDir,
			Executor: executor,
			Logger:   logger.WithComponent("hooks"),
		},
		Log: logger.WithComponent("driver"),
	}

	if err := d.resumeCounters(); err != nil {
		return nil, err
	}

	return d, nil
}

// resumeCounters restores the global iteration counter from disk (and the
// productive counter from the last published status document, if any), so
// restarting the process after a crash or graceful exit resumes numbering
// rather than starting over.
func (d *Driver) resumeCounters() error {
	counterPath := filepath.Join(d.WorkDir, d.Config.Session.GlobalCounterFilePath)
	global, err := readGlobalCounter(counterPath)
	if err != nil {
		return harnesserr.Wrap(harnesserr.InternalError, "resuming global counter", err)
	}
	d.globalIteration = global

	statusPath := filepath.Join(d.WorkDir, statusFileName)
	if doc, err := record.ReadStatus(statusPath); err == nil {
		d.productiveIteration = doc.ProductiveIteration
	}

	return nil
}

// Run drives iterations until the loop terminates, either because the
// productive iteration limit was reached, shutdown was requested, or an
// unretryable condition occurred. It returns nil on a clean terminal state,
// a RateLimited-kind error on consecutive rate-limit exhaustion, and any
// other non-nil error only for fatal conditions (e.g. PromptMissing).
func (d *Driver) Run(ctx context.Context) error {
	defer d.Recorder.Close()

	for {
		if mode := d.Coordinator.Mode(); mode != shutdown.Running {
			d.recordEvent(record.EventShutdownRequested, record.Event{Details: map[string]any{"source": "signal", "mode": mode.String()}})
			return d.terminate(termination{reason: "shutdown requested"})
		}

		detected, err := d.Coordinator.PollStopSentinel(filepath.Join(d.WorkDir, d.Config.Shutdown.StopSentinelPath))
		if err != nil {
			d.Log.Warn("failed polling STOP sentinel", "error", err)
		}
		if detected {
			d.recordEvent(record.EventShutdownRequested, record.Event{Details: map[string]any{"source": "stop_sentinel"}})
			return d.terminate(termination{reason: "STOP sentinel"})
		}

		if d.productiveIteration >= int64(d.Config.Session.MaxProductiveIterations) {
			return d.terminate(termination{reason: "productive iteration limit reached"})
		}

		term, err := d.runIteration(ctx)
		if err != nil {
			d.fatal(err)
			return err
		}
		if term != nil {
			d.terminate(*term)
			return term.err
		}
	}
}

// runIteration runs one full productive-iteration slot: pre-hooks, prompt
// assembly, then repeated spawn attempts until the policy engine yields a
// decision other than RetrySlot. A non-nil termination stops the outer
// loop; a non-nil error is fatal.
func (d *Driver) runIteration(ctx context.Context) (*termination, error) {
	d.globalIteration++
	d.persistCounters()
	d.writeStatus(record.StateStarting, "")
	d.recordEvent(record.EventIterationStart, record.Event{})

	env := hooks.EnvContext{
		ProductiveIteration: d.productiveIteration,
		GlobalIteration:     d.globalIteration,
		PromptFilePath:      filepath.Join(d.WorkDir, d.Config.Session.PromptFilePath),
	}

	d.writeStatus(record.StatePreHooks, "")
	d.recordEvent(record.EventPreHookRun, record.Event{})
	if err := d.Hooks.RunPreHooks(ctx, d.Config.Hooks.PreSessionCommands, env); err != nil {
		d.recordEvent(record.EventPreHookFailed, record.Event{Details: map[string]any{"error": err.Error()}})
		// A failing pre-hook consumes this global iteration slot (already
		// persisted above) with no retry, but never advances the
		// productive counter.
		return nil, nil
	}

	promptText, err := d.Assembler.Assemble(ctx)
	if err != nil {
		return nil, err
	}
	d.recordEvent(record.EventPromptAssembled, record.Event{Details: map[string]any{"bytes": len(promptText)}})

	retryIndex := 0
	for {
		if d.Coordinator.Mode() == shutdown.ImmediateRequested {
			d.recordForced()
			return &termination{reason: "interrupted before spawn"}, nil
		}

		sess, err := d.spawnOne(ctx, promptText, retryIndex)
		if err != nil {
			return nil, err
		}

		decision := d.Policy.Decide(sess.Outcome, retryIndex, d.consecutiveRateLim)
		d.consecutiveRateLim = decision.NextConsecutiveRateLimits

		postEnv := env
		postEnv.OutputFilePath = sess.FilePath
		postEnv.ExitCode = sess.ExitStatus
		postEnv.OutputBytes = sess.SizeBytes
		postEnv.SessionDurationSeconds = int64(sess.Duration().Seconds())
		postEnv.Committed = sess.Committed

		switch decision.Decision {
		case policy.AdvanceProductive:
			d.writeStatus(record.StatePostHooks, sess.FilePath)
			d.recordEvent(record.EventPostHookRun, record.Event{})
			for _, failure := range d.Hooks.RunPostHooks(ctx, d.Config.Hooks.PostSessionCommands, postEnv) {
				d.recordEvent(record.EventPostHookFailed, record.Event{
					Details: map[string]any{"command": failure.Command, "error": failure.Err.Error()},
				})
			}
			d.productiveIteration++
			d.recordEvent(record.EventIterationEnd, record.Event{Outcome: string(sess.Outcome)})
			d.writeStatus(record.StateIdle, "")
			return nil, nil

		case policy.RetrySlot:
			d.recordEvent(record.EventRetryScheduled, record.Event{
				Outcome:      string(sess.Outcome),
				RetryAttempt: intPtr(retryIndex + 1),
			})
			d.writeStatus(record.StateRetrying, sess.FilePath)
			if !d.sleep(ctx, decision.Delay) {
				d.recordForced()
				return &termination{reason: "interrupted during retry delay"}, nil
			}
			retryIndex++
			d.globalIteration++
			d.persistCounters()
			continue

		case policy.BackoffRateLimited:
			d.writeStatus(record.StateRateLimitedBackoff, sess.FilePath)
			d.recordEvent(record.EventRateLimitBackoff, record.Event{
				Outcome: string(sess.Outcome),
				Details: map[string]any{"consecutive_rate_limits": d.consecutiveRateLim, "delay_seconds": decision.Delay.Seconds()},
			})
			if !d.sleep(ctx, decision.Delay) {
				d.recordForced()
				return &termination{reason: "interrupted during backoff"}, nil
			}
			d.recordEvent(record.EventIterationEnd, record.Event{Outcome: string(sess.Outcome)})
			d.writeStatus(record.StateIdle, "")
			return nil, nil

		case policy.AdvanceNonProductive:
			d.recordEvent(record.EventIterationEnd, record.Event{Outcome: string(sess.Outcome)})
			d.writeStatus(record.StateIdle, "")
			return nil, nil

		case policy.TerminateLoop:
			if sess.Outcome == session.RateLimited {
				return &termination{
					reason: "consecutive rate limit ceiling reached",
					err: harnesserr.New(harnesserr.RateLimited,
						fmt.Sprintf("%d consecutive rate-limited sessions", d.consecutiveRateLim)),
				}, nil
			}
			if sess.Outcome == session.Interrupted {
				d.recordForced()
			}
			return &termination{reason: fmt.Sprintf("terminal outcome %s", sess.Outcome)}, nil

		default:
			return nil, harnesserr.New(harnesserr.InternalError, fmt.Sprintf("unhandled policy decision %q", decision.Decision))
		}
	}
}

// spawnOne runs one agent session: argv assembly, spawn, watchdog
// supervision, and classification.
func (d *Driver) spawnOne(ctx context.Context, promptText string, retryIndex int) (*session.Session, error) {
	argv := make([]string, len(d.Config.Agent.ArgvTemplate))
	for i, tok := range d.Config.Agent.ArgvTemplate {
		if tok == config.PromptToken {
			argv[i] = promptText
		} else {
			argv[i] = tok
		}
	}

	sessionFile := filepath.Join(
		d.Config.Session.SessionOutputDirectory,
		fmt.Sprintf("%s-%d.jsonl", d.Config.Session.SessionFilePrefix, d.globalIteration),
	)
	if !filepath.IsAbs(sessionFile) {
		sessionFile = filepath.Join(d.WorkDir, sessionFile)
	}

	sess := &session.Session{
		GlobalIteration: d.globalIteration,
		StartTime:       time.Now(),
		FilePath:        sessionFile,
		RetryIndex:      retryIndex,
	}

	d.sessionStart = sess.StartTime
	d.currentOutputBytes = 0
	d.writeStatus(record.StateSessionRunning, sessionFile)
	d.recordEvent(record.EventSessionSpawn, record.Event{Details: map[string]any{"session_file": sessionFile}})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	staleFired := make(chan struct{}, 1)
	watchdog := &runner.Watchdog{
		SessionFilePath: sessionFile,
		CheckInterval:   d.Config.Watchdog.CheckInterval.Duration,
		StaleTimeout:    d.Config.Watchdog.StaleTimeout.Duration,
		Logger:          logger.WithComponent("watchdog"),
		OnStale: func() {
			staleFired <- struct{}{}
			d.recordEvent(record.EventWatchdogStale, record.Event{Details: map[string]any{"session_file": sessionFile}})
		},
	}
	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		watchdog.Watch(runCtx, cancel, d.Coordinator.Immediate())
	}()

	result, err := runner.Run(runCtx, runner.Spec{
		Command:         d.Config.Agent.Command,
		Argv:            argv,
		WorkDir:         d.WorkDir,
		SessionFilePath: sessionFile,
	})

	cancel()
	<-watchdogDone

	sess.EndTime = time.Now()

	if err != nil {
		// SpawnFailed is counted as AgentError for policy purposes: the
		// attempt consumed a slot even though the process never ran.
		sess.ExitStatus = 1
		sess.Outcome = session.AgentError
		d.lastCompletedGlobal = d.globalIteration
		d.recordEvent(record.EventSessionExit, record.Event{
			Details: map[string]any{"spawn_error": err.Error()},
		})
		return sess, nil
	}

	sess.ExitStatus = result.ExitStatus
	sess.SizeBytes = result.SizeBytes
	d.currentOutputBytes = result.SizeBytes

	staleKilled := false
	select {
	case <-staleFired:
		staleKilled = true
	default:
	}
	if staleKilled && result.Cancelled {
		d.writeStatus(record.StateWatchdogKill, sessionFile)
		d.recordEvent(record.EventWatchdogKill, record.Event{
			SizeBytes:  &sess.SizeBytes,
			ExitStatus: &sess.ExitStatus,
		})
	}

	d.recordEvent(record.EventSessionExit, record.Event{
		SizeBytes:       &sess.SizeBytes,
		ExitStatus:      &sess.ExitStatus,
		DurationSeconds: durationPtr(sess.Duration()),
	})

	immediate := d.Coordinator.Mode() == shutdown.ImmediateRequested
	if err := d.Classifier.Classify(sess, immediate); err != nil {
		return nil, err
	}

	d.lastCompletedGlobal = d.globalIteration
	d.lastCommitted = sess.Committed

	d.recordEvent(record.EventOutcomeClassified, record.Event{
		Outcome:   string(sess.Outcome),
		Committed: &sess.Committed,
	})

	return sess, nil
}

// sleep waits for delay, returning false if the shutdown coordinator
// requests immediate cancellation before it elapses.
func (d *Driver) sleep(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-d.Coordinator.Immediate():
		return false
	case <-ctx.Done():
		return false
	}
}

// persistCounters atomically writes the global iteration counter to disk.
// Called immediately after every global-iteration increment, before the
// spawn that number names, so a crash mid-session can never cause a
// restart to reuse a global iteration value (and truncate its file).
func (d *Driver) persistCounters() {
	counterPath := filepath.Join(d.WorkDir, d.Config.Session.GlobalCounterFilePath)
	if err := writeGlobalCounter(counterPath, d.globalIteration); err != nil {
		d.Log.Warn("failed persisting global counter", "error", err)
	}
}

func (d *Driver) writeStatus(state record.State, currentFile string) {
	doc := &record.StatusDocument{
		PID:                   os.Getpid(),
		State:                 state,
		ProductiveIteration:   d.productiveIteration,
		ProductiveMax:         d.Config.Session.MaxProductiveIterations,
		GlobalIteration:       d.globalIteration,
		CurrentOutputFile:     currentFile,
		CurrentOutputBytes:    d.currentOutputBytes,
		SessionStartTime:      d.sessionStart,
		LastUpdateTime:        time.Now(),
		LastCompletedGlobal:   d.lastCompletedGlobal,
		LastCommitted:         d.lastCommitted,
		ConsecutiveRateLimits: d.consecutiveRateLim,
	}
	if err := d.Recorder.WriteStatus(doc); err != nil {
		d.Log.Warn("failed writing status document", "error", err)
	}
}

func (d *Driver) recordEvent(kind record.EventKind, ev record.Event) {
	ev.Kind = kind
	ev.ProductiveIteration = d.productiveIteration
	ev.GlobalIteration = d.globalIteration
	if err := d.Recorder.Append(ev); err != nil {
		d.Log.Warn("failed appending event", "kind", kind, "error", err)
	}
}

// recordForced appends the shutdown_forced event exactly once per run, the
// first time an ImmediateRequested mode is acted upon.
func (d *Driver) recordForced() {
	if d.forcedRecorded {
		return
	}
	d.forcedRecorded = true
	d.recordEvent(record.EventShutdownForced, record.Event{})
}

// terminate finalizes a clean terminal state: status transitions to
// shutting_down, a terminated event is appended, and counters persist.
func (d *Driver) terminate(term termination) error {
	d.Log.Info("terminating", "reason", term.reason)
	d.writeStatus(record.StateShuttingDown, "")
	details := map[string]any{"reason": term.reason}
	if d.Version != "" {
		details["ironloop_version"] = d.Version
	}
	d.recordEvent(record.EventTerminated, record.Event{Details: details})
	d.persistCounters()
	return nil
}

// fatal finalizes an internal failure per the error-handling contract: a
// terminal status, a terminated event with reason=internal, and persisted
// counters. The caller returns the error so the process exits non-zero.
func (d *Driver) fatal(err error) {
	d.Log.Error("fatal error", "error", err)
	d.writeStatus(record.StateShuttingDown, "")
	details := map[string]any{"reason": "internal", "error": err.Error()}
	if harnesserr.Is(err, harnesserr.PromptMissing) {
		details["reason"] = "prompt_missing"
	}
	if d.Version != "" {
		details["ironloop_version"] = d.Version
	}
	d.recordEvent(record.EventTerminated, record.Event{Details: details})
	d.persistCounters()
}

func intPtr(v int) *int { return &v }

func durationPtr(d time.Duration) *float64 {
	v := d.Seconds()
	return &v
}
