package runregistry

import "time"

// RunState is the lifecycle state of a benchmark run.
//
// NOTE: These values are persisted in run.json and are part of the stable
// on-disk contract.
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateSuccess   RunState = "success"
	RunStatePartial   RunState = "partial"
	RunStateFailed    RunState = "failed"
	RunStateCancelled RunState = "cancelled"
	RunStateUnknown   RunState = "unknown"
)

// Counts are the task tallies of a run.
type Counts struct {
	Planned   int `json:"planned"`
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Cancelled int `json:"cancelled"`
}

// RunRecord is the persistent record written to run.json.
type RunRecord struct {
	RunID         string   `json:"run_id"`
	State         RunState `json:"state"`
	JobRoot       string   `json:"job_root"`
	ProvidersPath string   `json:"providers_path"`
	ReportsRoot   string   `json:"reports_root"`
	SelectedJob   string   `json:"selected_job,omitempty"`
	ResultsPath   string   `json:"results_path,omitempty"`
	Offline       bool     `json:"offline,omitempty"`
	PID           int      `json:"pid,omitempty"`
	Counts        Counts   `json:"counts"`
	Error         string   `json:"error,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

// Terminal reports whether the run has finished.
func (r RunRecord) Terminal() bool {
	switch r.State {
	case RunStateSuccess, RunStatePartial, RunStateFailed, RunStateCancelled:
		return true
	}
	return false
}
