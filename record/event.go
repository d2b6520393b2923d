package record

import (
	"time"
)

// EventKind is one entry in the fixed event-kind taxonomy. One event is
// appended per state transition.
type EventKind string

const (
	EventIterationStart    EventKind = "iteration_start"
	EventPreHookRun        EventKind = "pre_hook_run"
	EventPreHookFailed     EventKind = "pre_hook_failed"
	EventPromptAssembled   EventKind = "prompt_assembled"
	EventSessionSpawn      EventKind = "session_spawn"
	EventWatchdogStale     EventKind = "watchdog_stale"
	EventWatchdogKill      EventKind = "watchdog_kill"
	EventSessionExit       EventKind = "session_exit"
	EventOutcomeClassified EventKind = "outcome_classified"
	EventRetryScheduled    EventKind = "retry_scheduled"
	EventRateLimitBackoff  EventKind = "rate_limit_backoff"
	EventPostHookRun       EventKind = "post_hook_run"
	EventPostHookFailed    EventKind = "post_hook_failed"
	EventIterationEnd      EventKind = "iteration_end"
	EventShutdownRequested EventKind = "shutdown_requested"
	EventShutdownForced    EventKind = "shutdown_forced"
	EventTerminated        EventKind = "terminated"
)

// Event is one append-only record of a state transition. Events are never
// mutated and are ordered strictly by file offset.
type Event struct {
	Timestamp           time.Time      `json:"timestamp"`
	ID                  string         `json:"id"`
	Kind                EventKind      `json:"kind"`
	ProductiveIteration int64          `json:"productive_iteration"`
	GlobalIteration     int64          `json:"global_iteration"`
	Outcome             string         `json:"outcome,omitempty"`
	SizeBytes           *int64         `json:"size_bytes,omitempty"`
	ExitStatus          *int           `json:"exit_status,omitempty"`
	DurationSeconds     *float64       `json:"duration_seconds,omitempty"`
	Committed           *bool          `json:"committed,omitempty"`
	RetryAttempt        *int           `json:"retry_attempt,omitempty"`
	Details             map[string]any `json:"details,omitempty"`
}
