package harnesserr

import (
	"errors"
	"testing"
)

func TestNewHasNoCause(t *testing.T) {
	err := New(ConfigInvalid, "bad value")
	if err.Unwrap() != nil {
		t.Error("expected New to produce an error with no wrapped cause")
	}
	if err.Error() != "config_invalid: bad value" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestWrapPreservesCauseViaUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(SpawnFailed, "starting agent", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestWrapNilCauseReturnsNil(t *testing.T) {
	if Wrap(InternalError, "msg", nil) != nil {
		t.Error("expected Wrap with a nil cause to return nil")
	}
}

func TestIsMatchesKind(t *testing.T) {
	err := New(RateLimited, "slow down")
	if !Is(err, RateLimited) {
		t.Error("expected Is to match the error's own kind")
	}
	if Is(err, AgentError) {
		t.Error("expected Is to reject a different kind")
	}
}

func TestIsFalseForPlainError(t *testing.T) {
	if Is(errors.New("plain"), InternalError) {
		t.Error("expected Is to reject a non-harness error")
	}
}

func TestIsMatchesOutermostKindWhenNested(t *testing.T) {
	inner := New(HookFailed, "pre-hook failed")
	outer := Wrap(InternalError, "running iteration", inner)
	if !Is(outer, InternalError) {
		t.Error("expected Is to match the outer wrapper's own kind")
	}
	if Is(outer, HookFailed) {
		t.Error("Is matches the first *Error in the chain, not a nested one's kind")
	}
}
