package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder is the single writer for both the status document and the
// event log. All of its methods serialize through one mutex: the harness
// never runs two recorders against the same paths concurrently, but the
// mutex keeps a buggy caller from corrupting either file.
type Recorder struct {
	mu           sync.Mutex
	statusPath   string
	eventLogPath string
	eventLog     *os.File
}

// New opens (creating if necessary) the event log for appending, if
// eventLogPath is non-empty, and returns a Recorder bound to both paths.
func New(statusPath, eventLogPath string) (*Recorder, error) {
	r := &Recorder{statusPath: statusPath, eventLogPath: eventLogPath}

	if eventLogPath == "" {
		return r, nil
	}

	if dir := filepath.Dir(eventLogPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating event log directory %q: %w", dir, err)
		}
	}

	f, err := os.OpenFile(eventLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening event log %q: %w", eventLogPath, err)
	}
	r.eventLog = f
	return r, nil
}

// Close closes the event log file handle, if one is open.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.eventLog == nil {
		return nil
	}
	return r.eventLog.Close()
}

// WriteStatus atomically publishes doc at the recorder's status path.
func (r *Recorder) WriteStatus(doc *StatusDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return WriteStatus(r.statusPath, doc)
}

// Append writes one event as a single JSON line to the event log. If no
// event log is configured, Append is a no-op. ID and Timestamp are filled
// in by the recorder if the caller left them zero.
func (r *Recorder) Append(ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	} else {
		ev.Timestamp = ev.Timestamp.UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.eventLog == nil {
		return nil
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event %s: %w", ev.Kind, err)
	}
	line = append(line, '\n')

	if _, err := r.eventLog.Write(line); err != nil {
		return fmt.Errorf("appending event %s: %w", ev.Kind, err)
	}
	return nil
}
