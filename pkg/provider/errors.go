package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for backend operations.
var (
	// ErrConnectionAborted indicates a transient failure while fetching a
	// result: the connection was aborted or the result is not ready yet.
	// Callers retry after a fixed delay.
	ErrConnectionAborted = errors.New("connection aborted")

	// ErrUnauthorized indicates the backend rejected the credentials or the
	// principal may not run the request. Never retried.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates the job or result does not exist.
	ErrNotFound = errors.New("not found")

	// ErrThrottled indicates the request was rate limited by the backend.
	ErrThrottled = errors.New("request throttled")

	// ErrProviderUnavailable indicates the backend service is unavailable.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrJobFailed indicates the backend reported the job as failed or canceled.
	ErrJobFailed = errors.New("job failed")

	// ErrInvalidProcessGraph indicates the process graph could not be read or parsed.
	ErrInvalidProcessGraph = errors.New("invalid process graph")
)

// ProviderError wraps backend errors with context.
type ProviderError struct {
	// Op is the operation that failed (e.g., "Connect", "CreateJob").
	Op string

	// Backend is the configured backend name.
	Backend string

	// JobID is the backend job identifier, if one was assigned.
	JobID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("%s %s: job %s: %v", e.Backend, e.Op, e.JobID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsConnectionAborted returns true if the error is the transient
// "connection aborted" condition.
func IsConnectionAborted(err error) bool {
	return errors.Is(err, ErrConnectionAborted)
}

// IsUnauthorized returns true if the error indicates an authorization failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsNotFound returns true if the error indicates a missing job or result.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsThrottled returns true if the error indicates the request was rate limited.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsProviderUnavailable returns true if the error indicates the backend is unavailable.
func IsProviderUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// IsJobFailed returns true if the backend reported the job as failed.
func IsJobFailed(err error) bool {
	return errors.Is(err, ErrJobFailed)
}

// IsInvalidProcessGraph returns true if the process graph could not be loaded.
func IsInvalidProcessGraph(err error) bool {
	return errors.Is(err, ErrInvalidProcessGraph)
}
