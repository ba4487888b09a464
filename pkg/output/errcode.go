package output

import (
	"context"
	"errors"

	"github.com/3leaps/rasterbench/pkg/provider"
)

// ClassifyError maps an execution error to an output error code.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case provider.IsUnauthorized(err):
		return ErrCodeAccessDenied
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case provider.IsInvalidProcessGraph(err):
		return ErrCodeInvalidProcessGraph
	case provider.IsConnectionAborted(err):
		// Still transient when we stopped asking.
		return ErrCodeTransientExhausted
	case provider.IsNotFound(err):
		return ErrCodeNotFound
	case provider.IsThrottled(err):
		return ErrCodeThrottled
	case provider.IsProviderUnavailable(err):
		return ErrCodeProviderUnavailable
	case provider.IsJobFailed(err):
		return ErrCodeJobFailed
	default:
		return ErrCodeInternal
	}
}
