// Package record implements the Status & Event Recorder: an atomically
// published status document and an append-only JSONL event log. All writes
// are serialized through a single Recorder instance (single-writer
// discipline, not safe for concurrent use from multiple recorders).
package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State is the coarse state surfaced in the status document.
type State string

const (
	StateStarting           State = "starting"
	StatePreHooks           State = "pre_hooks"
	StateSessionRunning     State = "session_running"
	StateWatchdogKill       State = "watchdog_kill"
	StateRetrying           State = "retrying"
	StatePostHooks          State = "post_hooks"
	StateRateLimitedBackoff State = "rate_limited_backoff"
	StateIdle               State = "idle"
	StateShuttingDown       State = "shutting_down"
)

// StatusDocument reflects the harness's latest observable state.
type StatusDocument struct {
	PID                   int       `json:"pid"`
	State                 State     `json:"state"`
	ProductiveIteration   int64     `json:"productive_iteration"`
	ProductiveMax         int       `json:"productive_max"`
	GlobalIteration       int64     `json:"global_iteration"`
	CurrentOutputFile     string    `json:"current_output_file,omitempty"`
	CurrentOutputBytes    int64     `json:"current_output_bytes"`
	SessionStartTime      time.Time `json:"session_start_time,omitempty"`
	LastUpdateTime        time.Time `json:"last_update_time"`
	LastCompletedGlobal   int64     `json:"last_completed_global_iteration"`
	LastCommitted         bool      `json:"last_committed"`
	ConsecutiveRateLimits int       `json:"consecutive_rate_limits"`
}

// WriteStatus serializes doc to JSON and atomically publishes it at path:
// write to a temp file in the same directory, fsync, then rename over the
// destination. A reader can never observe a partially written document.
func WriteStatus(path string, doc *StatusDocument) error {
	doc.LastUpdateTime = doc.LastUpdateTime.UTC()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling status document: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating status directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".status-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp status file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp status file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsyncing temp status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp status file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming status file into place: %w", err)
	}
	return nil
}

// ReadStatus reads and parses the status document at path.
func ReadStatus(path string) (*StatusDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc StatusDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing status document %q: %w", path, err)
	}
	return &doc, nil
}
