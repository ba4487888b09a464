package openeo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"syscall"

	"github.com/3leaps/rasterbench/pkg/provider"
)

// apiError is the error document returned by openEO backends.
type apiError struct {
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Error codes with special handling.
const (
	codeJobNotFinished = "JobNotFinished"
	codeJobNotStarted  = "JobNotStarted"
	codeJobFailed      = "JobFailed"
)

// wrapError converts a failed response or transport error into a provider
// error with the appropriate sentinel.
func (s *Session) wrapError(op, jobID string, err error) error {
	wrapped := &provider.ProviderError{
		Op:      op,
		Backend: s.name,
		JobID:   jobID,
		Err:     err,
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wrapped
	}
	if isConnectionAborted(err) {
		wrapped.Err = fmt.Errorf("%w: %w", provider.ErrConnectionAborted, err)
	}
	return wrapped
}

// responseError decodes an error response into a provider error.
func (s *Session) responseError(op, jobID string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	apiErr := &apiError{}
	if err := json.Unmarshal(body, apiErr); err != nil || (apiErr.Code == "" && apiErr.Message == "") {
		apiErr = &apiError{Message: strings.TrimSpace(string(body))}
		if apiErr.Message == "" {
			apiErr.Message = resp.Status
		}
	}

	return &provider.ProviderError{
		Op:      op,
		Backend: s.name,
		JobID:   jobID,
		Err:     fmt.Errorf("%w: %w", classifyStatus(resp.StatusCode, apiErr.Code), apiErr),
	}
}

// classifyStatus maps an HTTP status and openEO error code to a sentinel.
func classifyStatus(status int, code string) error {
	switch code {
	case codeJobNotFinished, codeJobNotStarted:
		return provider.ErrConnectionAborted
	case codeJobFailed:
		return provider.ErrJobFailed
	}

	switch {
	case status == http.StatusFailedDependency:
		return provider.ErrJobFailed
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return provider.ErrUnauthorized
	case status == http.StatusNotFound:
		return provider.ErrNotFound
	case status == http.StatusTooManyRequests:
		return provider.ErrThrottled
	case status >= 500:
		return provider.ErrProviderUnavailable
	default:
		return errors.New(http.StatusText(status))
	}
}

// isConnectionAborted reports whether a transport error is a dropped
// connection rather than a protocol failure.
func isConnectionAborted(err error) bool {
	switch {
	case errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	return false
}
