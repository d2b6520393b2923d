package shutdown

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHandleInterruptFirstIsGraceful(t *testing.T) {
	c := New()
	c.HandleInterrupt()
	if c.Mode() != GracefulRequested {
		t.Errorf("Mode = %v, want %v", c.Mode(), GracefulRequested)
	}
	select {
	case <-c.Immediate():
		t.Error("Immediate channel should not be closed after a single interrupt")
	default:
	}
}

func TestHandleInterruptSecondWithinWindowEscalates(t *testing.T) {
	c := New()
	c.HandleInterrupt()
	c.HandleInterrupt()
	if c.Mode() != ImmediateRequested {
		t.Errorf("Mode = %v, want %v", c.Mode(), ImmediateRequested)
	}
	select {
	case <-c.Immediate():
	default:
		t.Error("Immediate channel should be closed after double interrupt")
	}
}

func TestHandleInterruptSecondOutsideWindowStaysGraceful(t *testing.T) {
	c := New()
	c.HandleInterrupt()
	c.firstSignalAt = time.Now().Add(-10 * time.Second)
	c.HandleInterrupt()
	if c.Mode() != GracefulRequested {
		t.Errorf("Mode = %v, want %v (outside the double-interrupt window)", c.Mode(), GracefulRequested)
	}
}

func TestHandleTerminateIsGraceful(t *testing.T) {
	c := New()
	c.HandleTerminate()
	if c.Mode() != GracefulRequested {
		t.Errorf("Mode = %v, want %v", c.Mode(), GracefulRequested)
	}
}

func TestModeNeverReturnsToRunning(t *testing.T) {
	c := New()
	c.HandleInterrupt()
	c.HandleInterrupt()
	if c.Mode() != ImmediateRequested {
		t.Fatalf("expected ImmediateRequested, got %v", c.Mode())
	}
	// Further signals must not regress the mode.
	c.HandleTerminate()
	if c.Mode() != ImmediateRequested {
		t.Errorf("Mode regressed to %v after terminate following immediate shutdown", c.Mode())
	}
}

func TestPollStopSentinelIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "STOP")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	c := New()
	detected, err := c.PollStopSentinel(path)
	if err != nil {
		t.Fatalf("PollStopSentinel: %v", err)
	}
	if !detected {
		t.Error("expected sentinel to be detected")
	}
	if c.Mode() != GracefulRequested {
		t.Errorf("Mode = %v, want %v", c.Mode(), GracefulRequested)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected sentinel file to be deleted after detection")
	}

	// A second poll after deletion sees nothing — creating it twice is
	// equivalent to creating it once, from the coordinator's perspective.
	detected2, err := c.PollStopSentinel(path)
	if err != nil {
		t.Fatalf("PollStopSentinel (second call): %v", err)
	}
	if detected2 {
		t.Error("expected second poll to find no sentinel")
	}
}

func TestPollStopSentinelAbsentIsNotAnError(t *testing.T) {
	c := New()
	detected, err := c.PollStopSentinel(filepath.Join(t.TempDir(), "STOP"))
	if err != nil {
		t.Fatalf("PollStopSentinel: %v", err)
	}
	if detected {
		t.Error("expected no sentinel to be detected")
	}
}

func TestRequestImmediateEscalatesDirectly(t *testing.T) {
	c := New()
	c.RequestImmediate()
	if c.Mode() != ImmediateRequested {
		t.Errorf("Mode = %v, want %v", c.Mode(), ImmediateRequested)
	}
	select {
	case <-c.Immediate():
	default:
		t.Error("Immediate channel should be closed")
	}
}
