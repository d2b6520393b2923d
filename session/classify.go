package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"regexp"
	"strings"

	"github.com/tgerrity/ironloop/harnesserr"
)

// resultLine is the subset of the agent's stream-json payload the
// classifier cares about. Only the last line bearing type/kind "result" is
// inspected for rate-limit indicators.
type resultLine struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Subtype string `json:"subtype"`
	IsError bool   `json:"is_error"`
}

func (r resultLine) isResult() bool {
	return r.Type == "result" || r.Kind == "result"
}

// Classifier inspects a terminated session and produces a total mapping to
// exactly one Outcome, following the fixed precedence:
// WatchdogKilled > Interrupted > RateLimited > Empty > AgentError > Productive.
type Classifier struct {
	MinProductiveBytes int64
	RateLimitPhrases   []string
	CommitPatterns     []*regexp.Regexp
}

// NewClassifier builds a Classifier from the configured phrase and pattern
// lists, lower-casing rate-limit phrases once so Classify doesn't repeat the
// work per session.
func NewClassifier(minProductiveBytes int64, rateLimitPhrases []string, commitPatterns []*regexp.Regexp) *Classifier {
	lowered := make([]string, len(rateLimitPhrases))
	for i, p := range rateLimitPhrases {
		lowered[i] = strings.ToLower(p)
	}
	return &Classifier{
		MinProductiveBytes: minProductiveBytes,
		RateLimitPhrases:   lowered,
		CommitPatterns:     commitPatterns,
	}
}

// Classify assigns an outcome to sess and records the commit_detection scan
// result on sess.Committed. immediateShutdown reflects whether the shutdown
// coordinator was in ImmediateRequested mode when the session terminated.
func (c *Classifier) Classify(sess *Session, immediateShutdown bool) error {
	if sess.WasWatchdogKilled() {
		sess.Outcome = WatchdogKilled
		return nil
	}

	if immediateShutdown {
		sess.Outcome = Interrupted
		return nil
	}

	data, err := os.ReadFile(sess.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			data = nil
		} else {
			return harnesserr.Wrap(harnesserr.InternalError, "reading session file for classification", err)
		}
	}

	sess.Committed = c.scanCommitted(data)

	if c.rateLimitedOnFinalResult(data) {
		sess.Outcome = RateLimited
		sess.RateLimitedFlag = true
		return nil
	}

	if sess.SizeBytes < c.MinProductiveBytes {
		sess.Outcome = Empty
		return nil
	}

	if sess.ExitStatus != 0 {
		sess.Outcome = AgentError
		return nil
	}

	sess.Outcome = Productive
	return nil
}

// rateLimitedOnFinalResult finds the last JSONL line whose payload has
// kind/type "result" and tests it alone for rate-limit indicators. Earlier
// transcript content is never inspected: the agent may legitimately discuss
// rate limiting (e.g. reading source that mentions it) without the session
// itself having been rate-limited.
func (c *Classifier) rateLimitedOnFinalResult(data []byte) bool {
	var lastResultLine []byte

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rl resultLine
		if err := json.Unmarshal(line, &rl); err != nil {
			continue
		}
		if rl.isResult() {
			lastResultLine = append([]byte(nil), line...)
		}
	}

	if lastResultLine == nil {
		return false
	}

	var rl resultLine
	if err := json.Unmarshal(lastResultLine, &rl); err != nil {
		return false
	}

	// The phrase scan covers the whole result line's JSON text, not just
	// the error field, so a phrase in a non-error field of that line also
	// matches. This is intentionally loose: the is_error/subtype gate
	// below keeps a successful result mentioning rate limits from
	// classifying as RateLimited.
	lower := strings.ToLower(string(lastResultLine))
	hasPhrase := false
	for _, phrase := range c.RateLimitPhrases {
		if strings.Contains(lower, phrase) {
			hasPhrase = true
			break
		}
	}
	if !hasPhrase {
		return false
	}

	return rl.IsError || rl.Subtype == "error"
}

// scanCommitted scans the whole session file for any configured
// commit_detection pattern. Independent of outcome, purely informational.
func (c *Classifier) scanCommitted(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	for _, pattern := range c.CommitPatterns {
		if pattern.Match(data) {
			return true
		}
	}
	return false
}
