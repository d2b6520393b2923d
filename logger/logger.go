// Package logger provides a component-scoped structured logger for ironloop's
// operational output. It is distinct from the event log (package record),
// which is the machine-readable, append-only transition record.
package logger

import (
	"log/slog"
	"os"
	"sync"
)

var (
	root     *slog.Logger
	levelVar = new(slog.LevelVar)
	mu       sync.Mutex
	initDone bool
)

// SetDebug enables or disables debug level logging.
func SetDebug(enabled bool) {
	if enabled {
		levelVar.Set(slog.LevelDebug)
	} else {
		levelVar.Set(slog.LevelInfo)
	}
}

// ensureInit lazily creates the root logger writing to stderr.
// Caller must hold mu.
func ensureInit() {
	if initDone {
		return
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})
	root = slog.New(handler)
	initDone = true
}

// Get returns the root logger instance.
func Get() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	ensureInit()
	return root
}

// WithComponent returns a logger with the component name attached.
//
// Example:
//
//	log := logger.WithComponent("watchdog")
//	log.Warn("session stale", "bytes", size)
//	// time=... level=WARN msg="session stale" component=watchdog bytes=512
func WithComponent(component string) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	ensureInit()
	return root.With("component", component)
}

// WithIteration returns a logger with the global iteration number attached.
func WithIteration(global int64) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	ensureInit()
	return root.With("global_iteration", global)
}

// Reset resets the logger state, allowing reinitialization. For tests only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()

	initDone = false
	root = nil
	levelVar = new(slog.LevelVar)
}
