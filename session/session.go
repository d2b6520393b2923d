// Package session defines the Session entity produced by one agent spawn
// attempt, and the Outcome Classifier that inspects a terminated session and
// assigns it exactly one outcome tag.
package session

import (
	"time"
)

// WatchdogExitStatus is the sentinel exit status the Session Runner reports
// when a session was cancelled (watchdog kill or shutdown).
const WatchdogExitStatus = 124

// Outcome is the classifier's discrete verdict on a completed session.
type Outcome string

const (
	Productive     Outcome = "productive"
	Empty          Outcome = "empty"
	WatchdogKilled Outcome = "watchdog_killed"
	RateLimited    Outcome = "rate_limited"
	AgentError     Outcome = "agent_error"
	Interrupted    Outcome = "interrupted"
)

// Session is a per-attempt entity identified by a monotonic global
// iteration number. It is created by the driver before spawn, owned
// exclusively by the driver for its duration, and handed read-only to the
// policy engine, hook invoker, and recorder after termination.
type Session struct {
	GlobalIteration int64
	StartTime       time.Time
	EndTime         time.Time
	FilePath        string
	ExitStatus      int
	SizeBytes       int64
	Outcome         Outcome
	Committed       bool
	RateLimitedFlag bool
	RetryIndex      int
}

// Duration returns the wall-clock time the session ran for.
func (s *Session) Duration() time.Duration {
	if s.EndTime.Before(s.StartTime) {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// WasWatchdogKilled reports whether the runner returned the watchdog
// cancellation sentinel.
func (s *Session) WasWatchdogKilled() bool {
	return s.ExitStatus == WatchdogExitStatus
}
