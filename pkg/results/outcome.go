// Package results records execution outcomes and exposes them grouped by
// job identifier.
//
// A Log is appended to concurrently while a run executes. Once the run is
// over it is finalized into an immutable Set, which is what downstream
// consumers (the validation step, the results command, the status server)
// iterate over.
package results

import (
	"math"

	"github.com/3leaps/rasterbench/pkg/provider"
)

// Outcome is the recorded result of attempting one (job, backend) execution.
//
// Outcomes are created once and never modified. When DownloadSuccessful is
// false, TimeToResultSeconds is +Inf.
type Outcome struct {
	Backend             string  `json:"backend"`
	Job                 string  `json:"job"`
	File                string  `json:"file"`
	ValidationRulesPath string  `json:"validationRulesPath"`
	ProviderJobID       string  `json:"providerJobId"`
	TimeToResultSeconds float64 `json:"-"`
	DownloadSuccessful  bool    `json:"downloadSuccessful"`

	// Diagnostics.
	Mode         provider.ExecutionMode `json:"mode,omitempty"`
	ErrorCode    string                 `json:"errorCode,omitempty"`
	Error        string                 `json:"error,omitempty"`
	PollAttempts int                    `json:"pollAttempts,omitempty"`
}

// Failed reports whether the outcome represents a failed attempt.
func (o Outcome) Failed() bool {
	return !o.DownloadSuccessful
}

// Infinite is the time-to-result recorded for failed attempts.
var Infinite = math.Inf(1)

// Succeeded builds a successful outcome.
func Succeeded(o Outcome, seconds float64) Outcome {
	o.DownloadSuccessful = true
	o.TimeToResultSeconds = seconds
	o.ErrorCode = ""
	o.Error = ""
	return o
}

// Failure builds a failed outcome. Elapsed time is never reported for a
// failed attempt.
func Failure(o Outcome, code string, err error) Outcome {
	o.DownloadSuccessful = false
	o.TimeToResultSeconds = Infinite
	o.ErrorCode = code
	if err != nil {
		o.Error = err.Error()
	}
	return o
}
