// Package output provides JSONL output for run results.
//
// Output is structured as typed record envelopes containing execution
// outcomes, skips, errors and progress updates. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/3leaps/rasterbench/pkg/provider"
	"github.com/3leaps/rasterbench/pkg/results"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: rasterbench.<type>.v<version>
const (
	// TypeOutcome identifies execution outcome records.
	TypeOutcome = "rasterbench.outcome.v1"

	// TypeSkip identifies (job, backend) tuples that were not attempted.
	TypeSkip = "rasterbench.skip.v1"

	// TypeError identifies error records.
	TypeError = "rasterbench.error.v1"

	// TypeProgress identifies progress update records.
	TypeProgress = "rasterbench.progress.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "rasterbench.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "rasterbench.outcome.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID is the correlation ID for this run.
	RunID string `json:"run_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// OutcomeRecord is the data payload for one (job, backend) attempt.
//
// TimeToResultSeconds is null when the attempt failed; JSON has no
// representation for infinity.
type OutcomeRecord struct {
	Backend             string   `json:"backend"`
	Job                 string   `json:"job"`
	File                string   `json:"file"`
	ValidationRulesPath string   `json:"validationRulesPath"`
	ProviderJobID       string   `json:"providerJobId"`
	TimeToResultSeconds *float64 `json:"timeToResultSeconds"`
	DownloadSuccessful  bool     `json:"downloadSuccessful"`
	Mode                string   `json:"mode,omitempty"`
	ErrorCode           string   `json:"errorCode,omitempty"`
	Error               string   `json:"error,omitempty"`
	PollAttempts        int      `json:"pollAttempts,omitempty"`
}

// NewOutcomeRecord converts an outcome to its wire form.
func NewOutcomeRecord(o results.Outcome) *OutcomeRecord {
	rec := &OutcomeRecord{
		Backend:             o.Backend,
		Job:                 o.Job,
		File:                o.File,
		ValidationRulesPath: o.ValidationRulesPath,
		ProviderJobID:       o.ProviderJobID,
		DownloadSuccessful:  o.DownloadSuccessful,
		Mode:                string(o.Mode),
		ErrorCode:           o.ErrorCode,
		Error:               o.Error,
		PollAttempts:        o.PollAttempts,
	}
	if !math.IsInf(o.TimeToResultSeconds, 0) && !math.IsNaN(o.TimeToResultSeconds) {
		secs := o.TimeToResultSeconds
		rec.TimeToResultSeconds = &secs
	}
	return rec
}

// Outcome converts the record back. A null time becomes +Inf.
func (r *OutcomeRecord) Outcome() results.Outcome {
	o := results.Outcome{
		Backend:             r.Backend,
		Job:                 r.Job,
		File:                r.File,
		ValidationRulesPath: r.ValidationRulesPath,
		ProviderJobID:       r.ProviderJobID,
		DownloadSuccessful:  r.DownloadSuccessful,
		ErrorCode:           r.ErrorCode,
		Error:               r.Error,
		PollAttempts:        r.PollAttempts,
		TimeToResultSeconds: results.Infinite,
	}
	o.Mode = provider.ExecutionMode(r.Mode)
	if r.TimeToResultSeconds != nil {
		o.TimeToResultSeconds = *r.TimeToResultSeconds
	}
	return o
}

// SkipRecord is the data payload for tuples that were not attempted.
type SkipRecord struct {
	Job     string `json:"job"`
	Backend string `json:"backend"`
	Reason  string `json:"reason"`
	Path    string `json:"path,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than failing the entire run.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	Job     string `json:"job,omitempty"`
	Backend string `json:"backend,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord and OutcomeRecord.
const (
	// ErrCodeAccessDenied indicates the backend rejected the credentials.
	ErrCodeAccessDenied = "ACCESS_DENIED"

	// ErrCodeConnectionFailed indicates the session could not be established.
	ErrCodeConnectionFailed = "CONNECTION_FAILED"

	// ErrCodeTransientExhausted indicates polling gave up while the backend
	// was still reporting the transient condition.
	ErrCodeTransientExhausted = "TRANSIENT_EXHAUSTED"

	// ErrCodeNotFound indicates the job or artifact was not found.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeThrottled indicates rate limiting.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeProviderUnavailable indicates the backend returned 5xx.
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"

	// ErrCodeTimeout indicates an operation timed out.
	ErrCodeTimeout = "TIMEOUT"

	ErrCodeInvalidProcessGraph = "INVALID_PROCESS_GRAPH"
	ErrCodeJobFailed           = "JOB_FAILED"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// ProgressRecord is the data payload for progress updates.
type ProgressRecord struct {
	// Phase indicates the current run phase.
	Phase string `json:"phase"`

	Planned   int64 `json:"planned"`
	Completed int64 `json:"completed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// Progress phase constants.
const (
	// PhaseStarting indicates the run is initializing.
	PhaseStarting = "starting"

	// PhaseExecuting indicates tuples are being executed.
	PhaseExecuting = "executing"

	// PhaseComplete indicates the run has finished.
	PhaseComplete = "complete"
)

// SummaryRecord is the data payload for final summaries.
type SummaryRecord struct {
	Jobs      int   `json:"jobs"`
	Attempted int64 `json:"attempted"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
	Cancelled int64 `json:"cancelled"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
