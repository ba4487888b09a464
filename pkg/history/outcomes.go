package history

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/rasterbench/pkg/provider"
	"github.com/3leaps/rasterbench/pkg/results"
)

// RecordOutcome stores one outcome of a run. Recording the same
// (run, job, backend) twice replaces the earlier row.
func (s *Store) RecordOutcome(ctx context.Context, runID string, o results.Outcome) error {
	var ttr sql.NullFloat64
	if o.DownloadSuccessful && !math.IsInf(o.TimeToResultSeconds, 0) {
		ttr = sql.NullFloat64{Float64: o.TimeToResultSeconds, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes
		 (run_id, job, backend, mode, file, validation_rules_path, provider_job_id,
		  download_successful, time_to_result_seconds, error_code, error, poll_attempts, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, job, backend) DO UPDATE SET
		  mode = excluded.mode,
		  file = excluded.file,
		  validation_rules_path = excluded.validation_rules_path,
		  provider_job_id = excluded.provider_job_id,
		  download_successful = excluded.download_successful,
		  time_to_result_seconds = excluded.time_to_result_seconds,
		  error_code = excluded.error_code,
		  error = excluded.error,
		  poll_attempts = excluded.poll_attempts,
		  recorded_at = excluded.recorded_at`,
		runID, o.Job, o.Backend, nullString(string(o.Mode)), o.File,
		nullString(o.ValidationRulesPath), nullString(o.ProviderJobID),
		o.DownloadSuccessful, ttr, nullString(o.ErrorCode), nullString(o.Error),
		o.PollAttempts, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert outcome %s/%s: %w", o.Job, o.Backend, err)
	}
	return nil
}

// QueryParams filters stored outcomes.
type QueryParams struct {
	// RunID limits results to one run. Optional.
	RunID string

	// JobPattern is a doublestar glob matched against job identifiers,
	// e.g. "europe-*". Optional.
	JobPattern string

	// Backend limits results to one backend. Optional.
	Backend string

	// FailedOnly returns only failed outcomes.
	FailedOnly bool

	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// StoredOutcome is an outcome together with the run that produced it.
type StoredOutcome struct {
	RunID      string
	RecordedAt time.Time
	Outcome    results.Outcome
}

// QueryOutcomes returns matching outcomes ordered by job, backend and
// recording time.
func (s *Store) QueryOutcomes(ctx context.Context, params QueryParams) ([]StoredOutcome, error) {
	if params.JobPattern != "" && !doublestar.ValidatePattern(params.JobPattern) {
		return nil, fmt.Errorf("invalid job pattern: %s", params.JobPattern)
	}

	query := `SELECT run_id, job, backend, mode, file, validation_rules_path, provider_job_id,
	                 download_successful, time_to_result_seconds, error_code, error,
	                 poll_attempts, recorded_at
	          FROM outcomes WHERE 1=1`
	var args []any
	if params.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, params.RunID)
	}
	if params.Backend != "" {
		query += ` AND backend = ?`
		args = append(args, params.Backend)
	}
	if params.FailedOnly {
		query += ` AND download_successful = 0`
	}
	query += ` ORDER BY job, backend, recorded_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []StoredOutcome
	for rows.Next() {
		so, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		// Glob matching runs in Go; SQLite GLOB does not share doublestar's
		// brace and class semantics.
		if params.JobPattern != "" {
			if ok, _ := doublestar.Match(params.JobPattern, so.Outcome.Job); !ok {
				continue
			}
		}
		out = append(out, so)
		if params.Limit > 0 && len(out) >= params.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return out, nil
}

func scanOutcome(sc scanner) (StoredOutcome, error) {
	var (
		so                             StoredOutcome
		mode, rules, jobID, code, errm sql.NullString
		ttr                            sql.NullFloat64
		recordedAt                     string
	)
	o := &so.Outcome
	if err := sc.Scan(&so.RunID, &o.Job, &o.Backend, &mode, &o.File, &rules, &jobID,
		&o.DownloadSuccessful, &ttr, &code, &errm, &o.PollAttempts, &recordedAt); err != nil {
		return so, fmt.Errorf("scan outcome: %w", err)
	}
	o.Mode = provider.ExecutionMode(mode.String)
	o.ValidationRulesPath = rules.String
	o.ProviderJobID = jobID.String
	o.ErrorCode = code.String
	o.Error = errm.String
	o.TimeToResultSeconds = results.Infinite
	if ttr.Valid {
		o.TimeToResultSeconds = ttr.Float64
	}

	t, err := parseTime(recordedAt)
	if err != nil {
		return so, err
	}
	so.RecordedAt = t
	return so, nil
}

// Recorder stores every outcome of one run as it is recorded. It satisfies
// the runner's outcome observer.
type Recorder struct {
	store *Store
	runID string
	onErr func(error)
}

// NewRecorder returns a Recorder for runID. onErr, if set, receives write
// failures; recording never interrupts the run.
func (s *Store) NewRecorder(runID string, onErr func(error)) *Recorder {
	return &Recorder{store: s, runID: runID, onErr: onErr}
}

// ObserveOutcome stores o.
func (r *Recorder) ObserveOutcome(ctx context.Context, o results.Outcome) {
	if err := r.store.RecordOutcome(context.WithoutCancel(ctx), r.runID, o); err != nil && r.onErr != nil {
		r.onErr(err)
	}
}
