package runner

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Watchdog observes a session file's size on a fixed interval and requests
// cancellation of the runner when it has gone stale for too long. It holds
// no reference to the runner itself, only a cancellation function and the
// path it polls.
type Watchdog struct {
	SessionFilePath string
	CheckInterval   time.Duration
	StaleTimeout    time.Duration
	Logger          *slog.Logger

	// OnStale, if non-nil, is invoked once when the stale timeout is
	// reached, immediately before the runner is cancelled.
	OnStale func()

	lastSize     int64
	staleElapsed time.Duration
}

// Watch polls the session file's size every CheckInterval. Growth (or any
// change, including a decrease from truncation) resets the stale timer; no
// change accumulates stale time, and once it reaches StaleTimeout, cancel
// is invoked and Watch returns. Watch also returns promptly if ctx is
// cancelled (the runner already finished) or immediate fires (an
// ImmediateRequested shutdown).
func (w *Watchdog) Watch(ctx context.Context, cancel context.CancelFunc, immediate <-chan struct{}) {
	ticker := time.NewTicker(w.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-immediate:
			cancel()
			return
		case <-ticker.C:
			if w.tick() {
				if w.Logger != nil {
					w.Logger.Warn("session stale, cancelling", "path", w.SessionFilePath, "stale_for", w.staleElapsed)
				}
				if w.OnStale != nil {
					w.OnStale()
				}
				cancel()
				return
			}
		}
	}
}

// tick reads the current file size and returns true if the stale timeout
// has just been reached.
func (w *Watchdog) tick() bool {
	size := w.currentSize()

	if size != w.lastSize {
		w.lastSize = size
		w.staleElapsed = 0
		return false
	}

	w.staleElapsed += w.CheckInterval
	if w.staleElapsed >= w.StaleTimeout {
		if w.Logger != nil {
			w.Logger.Debug("watchdog stale check", "path", w.SessionFilePath, "elapsed", w.staleElapsed)
		}
		return true
	}
	return false
}

// currentSize treats a not-yet-existing file as size 0 rather than faulting.
func (w *Watchdog) currentSize() int64 {
	info, err := os.Stat(w.SessionFilePath)
	if err != nil {
		return 0
	}
	return info.Size()
}
