// Package errors defines the HTTP error envelope used by the status server.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
)

// Error codes returned in HTTP error envelopes.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// Sentinel errors that RespondWithError maps to specific statuses.
var (
	ErrNotFound    = stderrors.New("not found")
	ErrBadRequest  = stderrors.New("bad request")
	ErrUnavailable = stderrors.New("service unavailable")
)

// HTTPError is the body of an error response.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse is the envelope written for every error response.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// WriteHTTPError writes an error envelope with the given status.
func WriteHTTPError(w http.ResponseWriter, status int, body HTTPError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: body})
}

// RespondWithError maps err to a status and error code and writes it.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, CodeInternal
	switch {
	case stderrors.Is(err, ErrNotFound):
		status, code = http.StatusNotFound, CodeNotFound
	case stderrors.Is(err, ErrBadRequest):
		status, code = http.StatusBadRequest, CodeBadRequest
	case stderrors.Is(err, ErrUnavailable):
		status, code = http.StatusServiceUnavailable, CodeServiceUnavailable
	}

	WriteHTTPError(w, status, HTTPError{
		Code:      code,
		Message:   err.Error(),
		RequestID: r.Header.Get("X-Request-ID"),
	})
}
