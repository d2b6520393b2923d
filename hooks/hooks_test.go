package hooks

import (
	"context"
	"testing"

	"github.com/tgerrity/ironloop/exec"
	"github.com/tgerrity/ironloop/harnesserr"
)

type errWithExitCode struct{}

func (errWithExitCode) Error() string { return "exit status 1" }

func TestRunPreHooksAbortsOnFirstFailure(t *testing.T) {
	mock := exec.NewMockExecutor(nil)
	mock.AddRule(func(dir, name string, args []string) bool {
		return name == "sh" && len(args) == 2 && args[0] == "-c"
	}, exec.MockResponse{Err: errWithExitCode{}, Stderr: []byte("boom")})

	inv := &Invoker{WorkDir: t.TempDir(), Executor: mock}
	err := inv.RunPreHooks(context.Background(), []string{"false", "echo never runs"}, EnvContext{})
	if err == nil {
		t.Fatal("expected error from failing pre-hook")
	}
	if !harnesserr.Is(err, harnesserr.HookFailed) {
		t.Errorf("expected HookFailed, got %v", err)
	}

	calls := mock.GetCalls()
	if len(calls) != 1 {
		t.Errorf("expected exactly 1 call (second hook should not run), got %d", len(calls))
	}
}

func TestRunPreHooksSucceedsWhenAllPass(t *testing.T) {
	mock := exec.NewMockExecutor(nil)
	inv := &Invoker{WorkDir: t.TempDir(), Executor: mock}
	err := inv.RunPreHooks(context.Background(), []string{"echo one", "echo two"}, EnvContext{
		ProductiveIteration: 3,
		GlobalIteration:     5,
		PromptFilePath:      "PROMPT.md",
	})
	if err != nil {
		t.Fatalf("RunPreHooks: %v", err)
	}

	calls := mock.GetCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	for _, call := range calls {
		script := call.Args[1]
		if !contains(script, "HARNESS_ITERATION='3'") {
			t.Errorf("script missing HARNESS_ITERATION export: %q", script)
		}
		if !contains(script, "HARNESS_GLOBAL_ITERATION='5'") {
			t.Errorf("script missing HARNESS_GLOBAL_ITERATION export: %q", script)
		}
	}
}

func TestRunPostHooksContinuesAfterFailure(t *testing.T) {
	mock := exec.NewMockExecutor(nil)
	mock.AddExactMatch("sh", []string{"-c", buildEnvScript(EnvContext{}.postEnv(), "false")}, exec.MockResponse{Err: errWithExitCode{}})

	inv := &Invoker{WorkDir: t.TempDir(), Executor: mock}
	failures := inv.RunPostHooks(context.Background(), []string{"false", "echo two"}, EnvContext{})

	calls := mock.GetCalls()
	if len(calls) != 2 {
		t.Fatalf("expected both post-hooks to run despite the first failing, got %d calls", len(calls))
	}
	if len(failures) != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", len(failures))
	}
	if failures[0].Command != "false" {
		t.Errorf("failure command = %q, want %q", failures[0].Command, "false")
	}
}

func TestPostEnvIncludesSessionDetails(t *testing.T) {
	env := EnvContext{
		ProductiveIteration:    1,
		GlobalIteration:        2,
		PromptFilePath:         "PROMPT.md",
		OutputFilePath:         "out.jsonl",
		ExitCode:               0,
		OutputBytes:            512,
		SessionDurationSeconds: 30,
		Committed:              true,
	}
	pairs := env.postEnv()
	want := []string{
		"HARNESS_ITERATION=1",
		"HARNESS_GLOBAL_ITERATION=2",
		"HARNESS_PROMPT_FILE=PROMPT.md",
		"HARNESS_OUTPUT_FILE=out.jsonl",
		"HARNESS_EXIT_CODE=0",
		"HARNESS_OUTPUT_BYTES=512",
		"HARNESS_SESSION_DURATION=30",
		"HARNESS_COMMITTED=true",
	}
	if len(pairs) != len(want) {
		t.Fatalf("got %d env pairs, want %d", len(pairs), len(want))
	}
	for i, w := range want {
		if pairs[i] != w {
			t.Errorf("pairs[%d] = %q, want %q", i, pairs[i], w)
		}
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
