// Package policy implements the Retry/Backoff Policy engine (C5): given an
// outcome and the current retry/rate-limit history, it decides whether the
// iteration counts as productive, retries within its slot, backs off, or
// terminates the loop.
package policy

import (
	"time"

	"github.com/tgerrity/ironloop/session"
)

// Decision is the policy engine's verdict for one terminated session.
type Decision string

const (
	AdvanceProductive    Decision = "advance_productive"
	RetrySlot            Decision = "retry_slot"
	BackoffRateLimited   Decision = "backoff_rate_limited"
	TerminateLoop        Decision = "terminate_loop"
	AdvanceNonProductive Decision = "advance_non_productive"
)

// Result bundles the decision with the delay to apply before the next
// action and the updated consecutive-rate-limit count.
type Result struct {
	Decision                  Decision
	Delay                     time.Duration
	NextConsecutiveRateLimits int
}

// Engine holds the configuration the policy decisions are computed from.
type Engine struct {
	MaxEmptyRetries          int
	RetryDelay               time.Duration
	InitialBackoffDelay      time.Duration
	MaxBackoffDelay          time.Duration
	MaxConsecutiveRateLimits int
}

// Decide evaluates the fixed rule order from the outcome, the retry index
// within the current slot, and the consecutive rate-limit count observed so
// far (before this session).
func (e *Engine) Decide(outcome session.Outcome, retryIndex int, consecutiveRateLimits int) Result {
	switch outcome {
	case session.Productive:
		return Result{Decision: AdvanceProductive, NextConsecutiveRateLimits: 0}

	case session.Empty, session.AgentError, session.WatchdogKilled:
		if retryIndex < e.MaxEmptyRetries {
			return Result{Decision: RetrySlot, Delay: e.RetryDelay, NextConsecutiveRateLimits: consecutiveRateLimits}
		}
		return Result{Decision: AdvanceNonProductive, NextConsecutiveRateLimits: consecutiveRateLimits}

	case session.RateLimited:
		next := consecutiveRateLimits + 1
		delay := backoffDelay(e.InitialBackoffDelay, e.MaxBackoffDelay, consecutiveRateLimits)
		if next >= e.MaxConsecutiveRateLimits {
			// The backoff delay is still reported on the terminating
			// attempt; the driver does not sleep before terminating.
			return Result{Decision: TerminateLoop, Delay: delay, NextConsecutiveRateLimits: next}
		}
		return Result{Decision: BackoffRateLimited, Delay: delay, NextConsecutiveRateLimits: next}

	case session.Interrupted:
		return Result{Decision: TerminateLoop, NextConsecutiveRateLimits: consecutiveRateLimits}

	default:
		return Result{Decision: TerminateLoop, NextConsecutiveRateLimits: consecutiveRateLimits}
	}
}

// backoffDelay computes min(initial * 2^n, max). n is the consecutive
// rate-limit count observed before the current session (so the first
// rate-limited session, n=0, delays by exactly initial).
func backoffDelay(initial, max time.Duration, n int) time.Duration {
	delay := initial
	for i := 0; i < n; i++ {
		delay *= 2
		if delay > max || delay <= 0 {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
