package shutdown

import (
	"os"
	"os/signal"
	"syscall"
)

// Listener installs OS signal handlers and forwards them to a Coordinator.
// Construct with NewListener, call Start once at process startup, and Stop
// when shutting down the listener itself (not the harness loop).
type Listener struct {
	coordinator *Coordinator
	sigCh       chan os.Signal
}

// NewListener returns a Listener bound to coordinator.
func NewListener(coordinator *Coordinator) *Listener {
	return &Listener{
		coordinator: coordinator,
		sigCh:       make(chan os.Signal, 4),
	}
}

// Start installs handlers for SIGINT and SIGTERM and begins forwarding
// them to the coordinator in a background goroutine.
func (l *Listener) Start() {
	signal.Notify(l.sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range l.sigCh {
			switch sig {
			case os.Interrupt:
				l.coordinator.HandleInterrupt()
			case syscall.SIGTERM:
				l.coordinator.HandleTerminate()
			}
		}
	}()
}

// Stop removes the signal handlers and releases the underlying channel.
func (l *Listener) Stop() {
	signal.Stop(l.sigCh)
	close(l.sigCh)
}
