// Package runner implements the Session Runner (C2) and the Watchdog (C3).
// The runner spawns the agent as its own process group, tees its output to
// the session file, and supports cancellation from either the watchdog or
// the shutdown coordinator; the watchdog observes the session file's size
// growth and requests cancellation when it goes stale.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/tgerrity/ironloop/harnesserr"
)

// WatchdogExitStatus is the sentinel exit status returned when the session
// was cancelled rather than exiting naturally.
const WatchdogExitStatus = 124

// GracePeriod is the fixed interval between a terminate signal and a kill
// signal when cancelling a session.
const GracePeriod = 5 * time.Second

// Result describes how a spawned session terminated.
type Result struct {
	ExitStatus int
	SizeBytes  int64
	Cancelled  bool
}

// Spec describes one session spawn.
type Spec struct {
	Command         string
	Argv            []string
	WorkDir         string
	SessionFilePath string
}

// Run spawns the agent described by spec in its own process group, with
// stdin connected to /dev/null and stdout+stderr both redirected to the
// session file, and waits for it to exit naturally or for ctx to be
// cancelled.
//
// On cancellation, Run sends SIGTERM to the process group, waits up to
// GracePeriod, then sends SIGKILL, and reaps the process before returning.
// The session file is always fsynced and closed before Run returns, on
// every exit path.
func Run(ctx context.Context, spec Spec) (*Result, error) {
	f, err := os.OpenFile(spec.SessionFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, harnesserr.Wrap(harnesserr.InternalError,
			fmt.Sprintf("creating session file %q", spec.SessionFilePath), err)
	}
	defer f.Close()

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return nil, harnesserr.Wrap(harnesserr.InternalError, "opening /dev/null for session stdin", err)
	}
	defer devNull.Close()

	cmd := exec.Command(spec.Command, spec.Argv...)
	cmd.Dir = spec.WorkDir
	cmd.Stdin = devNull
	cmd.Stdout = f
	cmd.Stderr = f
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, harnesserr.Wrap(harnesserr.SpawnFailed,
			fmt.Sprintf("starting agent %q", spec.Command), err)
	}

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	result := &Result{}

	select {
	case waitErr := <-waitCh:
		result.ExitStatus = exitStatusFromError(waitErr)
	case <-ctx.Done():
		result.Cancelled = true
		result.ExitStatus = WatchdogExitStatus
		cancel(cmd, waitCh)
	}

	if size, statErr := fileSize(spec.SessionFilePath); statErr == nil {
		result.SizeBytes = size
	}

	_ = f.Sync()

	return result, nil
}

// cancel runs the two-stage terminate-then-kill sequence against the
// process group and blocks until the child has been reaped.
func cancel(cmd *exec.Cmd, waitCh <-chan error) {
	_ = killProcessGroup(cmd, syscall.SIGTERM)

	select {
	case <-waitCh:
		return
	case <-time.After(GracePeriod):
	}

	_ = killProcessGroup(cmd, syscall.SIGKILL)
	<-waitCh
}

// killProcessGroup signals the entire process group so no descendant
// survives. ESRCH (already gone) is not an error.
func killProcessGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return err
	}
	if err := syscall.Kill(-pgid, sig); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}

func exitStatusFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
