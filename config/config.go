// Package config loads, defaults, and validates the harness's YAML
// configuration file (ironloop.yaml). Read-once and immutable for the
// life of a run.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tgerrity/ironloop/harnesserr"
	"gopkg.in/yaml.v3"
)

// PromptToken is the literal substitution token in agent.argv_template.
const PromptToken = "{prompt}"

// Config is the top-level harness configuration.
type Config struct {
	Session         SessionConfig         `yaml:"session"`
	Agent           AgentConfig           `yaml:"agent"`
	Watchdog        WatchdogConfig        `yaml:"watchdog"`
	Retry           RetryConfig           `yaml:"retry"`
	Backoff         BackoffConfig         `yaml:"backoff"`
	Shutdown        ShutdownConfig        `yaml:"shutdown"`
	Hooks           HooksConfig           `yaml:"hooks"`
	Prompt          PromptConfig          `yaml:"prompt"`
	Output          OutputConfig          `yaml:"output"`
	CommitDetection CommitDetectionConfig `yaml:"commit_detection"`
}

// SessionConfig controls iteration bounds and filesystem layout.
type SessionConfig struct {
	MaxProductiveIterations int    `yaml:"max_productive_iterations"`
	PromptFilePath          string `yaml:"prompt_file_path"`
	SessionOutputDirectory  string `yaml:"session_output_directory"`
	SessionFilePrefix       string `yaml:"session_file_prefix"`
	GlobalCounterFilePath   string `yaml:"global_counter_file_path"`
}

// AgentConfig describes how to invoke the agent subprocess.
type AgentConfig struct {
	Command      string   `yaml:"command"`
	ArgvTemplate []string `yaml:"argv_template"`
}

// WatchdogConfig controls the stale-output watchdog.
type WatchdogConfig struct {
	CheckInterval      Duration `yaml:"check_interval"`
	StaleTimeout       Duration `yaml:"stale_timeout"`
	MinProductiveBytes int64    `yaml:"min_productive_bytes"`
}

// RetryConfig controls the non-rate-limit retry slot.
type RetryConfig struct {
	MaxEmptyRetries int      `yaml:"max_empty_retries"`
	RetryDelay      Duration `yaml:"retry_delay"`
}

// BackoffConfig controls rate-limit exponential backoff.
type BackoffConfig struct {
	InitialDelay             Duration `yaml:"initial_delay"`
	MaxDelay                 Duration `yaml:"max_delay"`
	MaxConsecutiveRateLimits int      `yaml:"max_consecutive_rate_limits"`
}

// ShutdownConfig controls the STOP sentinel.
type ShutdownConfig struct {
	StopSentinelPath string `yaml:"stop_sentinel_path"`
}

// HooksConfig lists pre/post session shell hooks.
type HooksConfig struct {
	PreSessionCommands  []string `yaml:"pre_session_commands"`
	PostSessionCommands []string `yaml:"post_session_commands"`
}

// PromptConfig controls prompt assembly.
type PromptConfig struct {
	PrependCommands []string `yaml:"prepend_commands"`
	Separator       string   `yaml:"separator"`
}

// OutputConfig controls the optional event log.
type OutputConfig struct {
	EventLogPath string `yaml:"event_log_path"`
}

// CommitDetectionConfig lists the regexes used to detect a committed
// session, and the phrases used by the classifier to detect rate limiting
// on the agent's final result line.
type CommitDetectionConfig struct {
	Patterns         []string `yaml:"patterns"`
	RateLimitPhrases []string `yaml:"rate_limit_phrases"`
}

// Default returns the compiled-in default configuration.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			MaxProductiveIterations: 25,
			PromptFilePath:          "PROMPT.md",
			SessionOutputDirectory:  ".",
			SessionFilePrefix:       "ironloop-iteration",
			GlobalCounterFilePath:   ".ironloop/counter",
		},
		Agent: AgentConfig{
			Command: "claude",
			ArgvTemplate: []string{
				"-p", PromptToken,
				"--dangerously-skip-permissions",
				"--verbose",
				"--output-format", "stream-json",
			},
		},
		Watchdog: WatchdogConfig{
			CheckInterval:      Duration{60 * time.Second},
			StaleTimeout:       Duration{20 * time.Minute},
			MinProductiveBytes: 100,
		},
		Retry: RetryConfig{
			MaxEmptyRetries: 2,
			RetryDelay:      Duration{5 * time.Second},
		},
		Backoff: BackoffConfig{
			InitialDelay:             Duration{2 * time.Second},
			MaxDelay:                 Duration{600 * time.Second},
			MaxConsecutiveRateLimits: 5,
		},
		Shutdown: ShutdownConfig{
			StopSentinelPath: "STOP",
		},
		Hooks: HooksConfig{},
		Prompt: PromptConfig{
			Separator: "\n\n---\n\n",
		},
		Output: OutputConfig{},
		CommitDetection: CommitDetectionConfig{
			Patterns: []string{
				`(?i)\bcommitted\b`,
				"`git commit`",
				`(?i)\bpushed to\b`,
				`(?i)\bpull request\b`,
				`(?i)\bopened pr\b`,
			},
			RateLimitPhrases: []string{
				"rate limit",
				"rate_limit",
				"usage limit",
				"hit your limit",
			},
		},
	}
}

// Load reads path, yaml-unmarshals it over the compiled-in defaults, and
// validates the result. A missing file is not an error: the defaults are
// returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if verr := cfg.Validate(); verr != nil {
				return nil, verr
			}
			return cfg, nil
		}
		return nil, harnesserr.Wrap(harnesserr.ConfigInvalid, fmt.Sprintf("reading config file %q", path), err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, harnesserr.Wrap(harnesserr.ConfigInvalid, fmt.Sprintf("parsing config file %q", path), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate enforces the invariants the Config Loader is responsible for.
// Argv-token policy is closed in favor of strictness: an argv_template
// with zero or more than one {prompt} token is rejected rather than
// falling back silently.
func (c *Config) Validate() error {
	if c.Session.MaxProductiveIterations <= 0 {
		return harnesserr.New(harnesserr.ConfigInvalid, "session.max_productive_iterations must be positive")
	}
	if c.Backoff.MaxConsecutiveRateLimits <= 0 {
		return harnesserr.New(harnesserr.ConfigInvalid, "backoff.max_consecutive_rate_limits must be positive")
	}
	if c.Watchdog.CheckInterval.Duration <= 0 {
		return harnesserr.New(harnesserr.ConfigInvalid, "watchdog.check_interval must be positive")
	}
	if c.Watchdog.StaleTimeout.Duration < c.Watchdog.CheckInterval.Duration {
		return harnesserr.New(harnesserr.ConfigInvalid, "watchdog.stale_timeout must be >= watchdog.check_interval")
	}
	if c.Watchdog.MinProductiveBytes < 0 {
		return harnesserr.New(harnesserr.ConfigInvalid, "watchdog.min_productive_bytes must be non-negative")
	}
	if c.Retry.MaxEmptyRetries < 0 {
		return harnesserr.New(harnesserr.ConfigInvalid, "retry.max_empty_retries must be non-negative")
	}
	if c.Agent.Command == "" {
		return harnesserr.New(harnesserr.ConfigInvalid, "agent.command must not be empty")
	}

	count := 0
	for _, tok := range c.Agent.ArgvTemplate {
		if tok == PromptToken {
			count++
		}
	}
	if count != 1 {
		return harnesserr.New(harnesserr.ConfigInvalid,
			fmt.Sprintf("agent.argv_template must contain exactly one %q token, found %d", PromptToken, count))
	}

	if c.Prompt.Separator == "" {
		return harnesserr.New(harnesserr.ConfigInvalid, "prompt.separator must not be empty")
	}

	for _, pattern := range c.CommitDetection.Patterns {
		if strings.TrimSpace(pattern) == "" {
			return harnesserr.New(harnesserr.ConfigInvalid, "commit_detection.patterns entries must not be blank")
		}
	}

	return nil
}
