package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a recorded run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusPartial   RunStatus = "partial"
	RunStatusCancelled RunStatus = "cancelled"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded benchmark run.
type Run struct {
	RunID       string
	JobRoot     string
	SelectedJob string
	StartedAt   time.Time
	EndedAt     *time.Time
	Status      RunStatus
	Attempted   int
	Succeeded   int
	Failed      int
	Skipped     int
}

// RunTotals are the counts written when a run finishes.
type RunTotals struct {
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
}

// StartRun records a run in running status.
func (s *Store) StartRun(ctx context.Context, runID, jobRoot, selectedJob string, startedAt time.Time) error {
	if runID == "" {
		return errors.New("run id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, job_root, selected_job, started_at, status)
		 VALUES (?, ?, ?, ?, ?)`,
		runID, jobRoot, nullString(selectedJob), formatTime(startedAt), string(RunStatusRunning))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stores final counts and status.
func (s *Store) FinishRun(ctx context.Context, runID string, status RunStatus, totals RunTotals, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs
		 SET status = ?, ended_at = ?, attempted = ?, succeeded = ?, failed = ?, skipped = ?
		 WHERE run_id = ?`,
		string(status), formatTime(endedAt),
		totals.Attempted, totals.Succeeded, totals.Failed, totals.Skipped, runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, job_root, selected_job, started_at, ended_at, status,
		        attempted, succeeded, failed, skipped
		 FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

// ListRuns returns runs newest first. Limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT run_id, job_root, selected_job, started_at, ended_at, status,
	                 attempted, succeeded, failed, skipped
	          FROM runs ORDER BY started_at DESC, run_id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r         Run
		selected  sql.NullString
		startedAt string
		endedAt   sql.NullString
		status    string
	)
	if err := sc.Scan(&r.RunID, &r.JobRoot, &selected, &startedAt, &endedAt, &status,
		&r.Attempted, &r.Succeeded, &r.Failed, &r.Skipped); err != nil {
		return nil, err
	}
	r.SelectedJob = selected.String
	r.Status = RunStatus(status)

	t, err := parseTime(startedAt)
	if err != nil {
		return nil, err
	}
	r.StartedAt = t
	if endedAt.Valid {
		t, err := parseTime(endedAt.String)
		if err != nil {
			return nil, err
		}
		r.EndedAt = &t
	}
	return &r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
