package provider

import (
	"fmt"
	"strings"
)

// ExecutionMode is the execution protocol a backend supports.
//
// The mode is resolved once when the provider manifest is loaded; the runner
// dispatches on it without re-inspecting backend names.
type ExecutionMode string

const (
	// ModeLocal reads a pre-existing file instead of calling a remote API.
	ModeLocal ExecutionMode = "local"

	// ModeSynchronous submits the graph and receives the result in one call.
	ModeSynchronous ExecutionMode = "synchronous"

	// ModeAsyncPollable submits a batch job and polls for its result.
	ModeAsyncPollable ExecutionMode = "async"
)

// String returns the string representation of the mode.
func (m ExecutionMode) String() string {
	return string(m)
}

// Remote reports whether the mode requires a backend session.
func (m ExecutionMode) Remote() bool {
	return m == ModeSynchronous || m == ModeAsyncPollable
}

// ParseExecutionMode parses a configured mode name.
// Accepts "sync" and "asynchronous" as aliases.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local":
		return ModeLocal, nil
	case "synchronous", "sync":
		return ModeSynchronous, nil
	case "async", "asynchronous":
		return ModeAsyncPollable, nil
	default:
		return "", fmt.Errorf("unsupported execution mode: %q", s)
	}
}
