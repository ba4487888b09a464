package history

import (
	"context"
	"database/sql"
	"fmt"
	"math"
)

// BackendStats aggregates outcomes for one backend across runs.
type BackendStats struct {
	Backend   string
	Attempts  int
	Successes int
	Failures  int

	// MeanTimeToResult is the mean over successful outcomes, in seconds.
	// +Inf when the backend never succeeded.
	MeanTimeToResult float64

	// MinTimeToResult and MaxTimeToResult bound successful outcomes.
	MinTimeToResult float64
	MaxTimeToResult float64
}

// SuccessRate is Successes / Attempts, or 0 with no attempts.
func (b BackendStats) SuccessRate() float64 {
	if b.Attempts == 0 {
		return 0
	}
	return float64(b.Successes) / float64(b.Attempts)
}

// BackendStats returns per-backend statistics ordered by backend name.
// A non-empty job restricts the statistics to that job.
func (s *Store) BackendStats(ctx context.Context, job string) ([]BackendStats, error) {
	query := `SELECT backend,
	                 COUNT(*),
	                 SUM(CASE WHEN download_successful = 1 THEN 1 ELSE 0 END),
	                 AVG(time_to_result_seconds),
	                 MIN(time_to_result_seconds),
	                 MAX(time_to_result_seconds)
	          FROM outcomes`
	var args []any
	if job != "" {
		query += ` WHERE job = ?`
		args = append(args, job)
	}
	query += ` GROUP BY backend ORDER BY backend`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query backend stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []BackendStats
	for rows.Next() {
		var (
			st           BackendStats
			mean, lo, hi sql.NullFloat64
		)
		if err := rows.Scan(&st.Backend, &st.Attempts, &st.Successes, &mean, &lo, &hi); err != nil {
			return nil, fmt.Errorf("scan backend stats: %w", err)
		}
		st.Failures = st.Attempts - st.Successes
		st.MeanTimeToResult = orInf(mean)
		st.MinTimeToResult = orInf(lo)
		st.MaxTimeToResult = orInf(hi)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backend stats: %w", err)
	}
	return out, nil
}

func orInf(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.Inf(1)
	}
	return v.Float64
}
