// Package match selects jobs of a job tree by glob pattern.
//
// Jobs are matched by their tree path "<region>/<job>", so "europe/**"
// selects every job of one region and "*/ndvi*" one job family across
// regions.
package match

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates include and exclude patterns against job paths.
//
// A job matches if it matches at least one include pattern (or there are
// none) and no exclude pattern. The Matcher is safe for concurrent use
// after creation.
type Matcher struct {
	includes []string
	excludes []string
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns a job must match (at least one).
	// Empty means every job is included.
	Includes []string

	// Excludes are glob patterns a job must not match (any).
	Excludes []string
}

// ErrInvalidPattern is returned when a pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New creates a Matcher. Backslashes are treated as path separators.
func New(cfg Config) (*Matcher, error) {
	includes, err := compile(cfg.Includes)
	if err != nil {
		return nil, err
	}
	excludes, err := compile(cfg.Excludes)
	if err != nil {
		return nil, err
	}
	return &Matcher{includes: includes, excludes: excludes}, nil
}

func compile(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		normalized := strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
		if normalized == "" {
			continue
		}
		if !doublestar.ValidatePattern(normalized) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
		out = append(out, normalized)
	}
	return out, nil
}

// Empty reports whether the matcher selects every job.
func (m *Matcher) Empty() bool {
	return m == nil || (len(m.includes) == 0 && len(m.excludes) == 0)
}

// Match reports whether the job at region/job is selected. A nil Matcher
// selects everything.
func (m *Matcher) Match(region, job string) bool {
	if m.Empty() {
		return true
	}
	path := region + "/" + job

	if len(m.includes) > 0 && !matchAny(m.includes, path) {
		return false
	}
	return !matchAny(m.excludes, path)
}

// IncludePatterns returns the normalized include patterns.
func (m *Matcher) IncludePatterns() []string {
	return append([]string(nil), m.includes...)
}

// ExcludePatterns returns the normalized exclude patterns.
func (m *Matcher) ExcludePatterns() []string {
	return append([]string(nil), m.excludes...)
}

func matchAny(patterns []string, path string) bool {
	for _, p := range patterns {
		// Patterns are validated in New.
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}
