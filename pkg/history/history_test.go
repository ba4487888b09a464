package history

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/rasterbench/pkg/provider"
	"github.com/3leaps/rasterbench/pkg/results"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func outcome(job, backend string, ok bool, secs float64) results.Outcome {
	o := results.Outcome{
		Job:     job,
		Backend: backend,
		File:    filepath.Join("reports", job, backend, job+".png"),
		Mode:    provider.ModeAsyncPollable,
	}
	if ok {
		return results.Succeeded(o, secs)
	}
	return results.Failure(o, "TRANSIENT_EXHAUSTED", errors.New("gave up"))
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
}

func TestOpen_FileCreatesDirAndIsReopenable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	s, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.StartRun(ctx, "run-1", "jobs", "", time.Now()))
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, run.Status)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := openMemory(t)
	require.NoError(t, Migrate(context.Background(), s.DB()))

	var v int
	require.NoError(t, s.DB().QueryRow(`SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&v))
	assert.Equal(t, SchemaVersion, v)
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.StartRun(ctx, "run-a", "jobs", "europe-ndvi", start))
	require.NoError(t, s.StartRun(ctx, "run-b", "jobs", "", start.Add(time.Hour)))

	totals := RunTotals{Attempted: 3, Succeeded: 2, Failed: 1, Skipped: 1}
	require.NoError(t, s.FinishRun(ctx, "run-a", RunStatusPartial, totals, start.Add(10*time.Minute)))

	run, err := s.GetRun(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, "europe-ndvi", run.SelectedJob)
	assert.Equal(t, RunStatusPartial, run.Status)
	assert.Equal(t, 3, run.Attempted)
	assert.Equal(t, 1, run.Skipped)
	require.NotNil(t, run.EndedAt)
	assert.True(t, run.EndedAt.Equal(start.Add(10*time.Minute)))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].RunID, "newest first")

	runs, err = s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, s.FinishRun(ctx, "missing", RunStatusSuccess, RunTotals{}, start), ErrRunNotFound)
}

func TestRecordAndQueryOutcomes(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	require.NoError(t, s.StartRun(ctx, "run-1", "jobs", "", time.Now()))
	require.NoError(t, s.RecordOutcome(ctx, "run-1", outcome("europe-ndvi", "VITO", true, 12.5)))
	require.NoError(t, s.RecordOutcome(ctx, "run-1", outcome("europe-ndvi", "EODC", false, 0)))
	require.NoError(t, s.RecordOutcome(ctx, "run-1", outcome("alpine-snow", "VITO", true, 4)))

	t.Run("all", func(t *testing.T) {
		got, err := s.QueryOutcomes(ctx, QueryParams{RunID: "run-1"})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "alpine-snow", got[0].Outcome.Job)
		assert.Equal(t, provider.ModeAsyncPollable, got[0].Outcome.Mode)
	})

	t.Run("failed keeps infinite time", func(t *testing.T) {
		got, err := s.QueryOutcomes(ctx, QueryParams{FailedOnly: true})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "EODC", got[0].Outcome.Backend)
		assert.True(t, math.IsInf(got[0].Outcome.TimeToResultSeconds, 1))
		assert.Equal(t, "TRANSIENT_EXHAUSTED", got[0].Outcome.ErrorCode)
		assert.Equal(t, "gave up", got[0].Outcome.Error)
	})

	t.Run("job pattern", func(t *testing.T) {
		got, err := s.QueryOutcomes(ctx, QueryParams{JobPattern: "europe-*", Backend: "VITO"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.InDelta(t, 12.5, got[0].Outcome.TimeToResultSeconds, 1e-9)
	})

	t.Run("limit", func(t *testing.T) {
		got, err := s.QueryOutcomes(ctx, QueryParams{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("invalid pattern", func(t *testing.T) {
		_, err := s.QueryOutcomes(ctx, QueryParams{JobPattern: "[oops"})
		require.Error(t, err)
	})
}

func TestRecordOutcome_ReplacesSameTuple(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	require.NoError(t, s.RecordOutcome(ctx, "run-1", outcome("europe-ndvi", "VITO", false, 0)))
	require.NoError(t, s.RecordOutcome(ctx, "run-1", outcome("europe-ndvi", "VITO", true, 3)))

	got, err := s.QueryOutcomes(ctx, QueryParams{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Outcome.DownloadSuccessful)
}

func TestBackendStats(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	require.NoError(t, s.RecordOutcome(ctx, "run-1", outcome("europe-ndvi", "VITO", true, 10)))
	require.NoError(t, s.RecordOutcome(ctx, "run-2", outcome("europe-ndvi", "VITO", true, 20)))
	require.NoError(t, s.RecordOutcome(ctx, "run-2", outcome("alpine-snow", "VITO", false, 0)))
	require.NoError(t, s.RecordOutcome(ctx, "run-1", outcome("europe-ndvi", "EODC", false, 0)))

	stats, err := s.BackendStats(ctx, "")
	require.NoError(t, err)
	require.Len(t, stats, 2)

	eodc, vito := stats[0], stats[1]
	assert.Equal(t, "EODC", eodc.Backend)
	assert.Equal(t, 1, eodc.Attempts)
	assert.Equal(t, 0, eodc.Successes)
	assert.True(t, math.IsInf(eodc.MeanTimeToResult, 1))
	assert.Equal(t, 0.0, eodc.SuccessRate())

	assert.Equal(t, "VITO", vito.Backend)
	assert.Equal(t, 3, vito.Attempts)
	assert.Equal(t, 2, vito.Successes)
	assert.Equal(t, 1, vito.Failures)
	assert.InDelta(t, 15.0, vito.MeanTimeToResult, 1e-9)
	assert.InDelta(t, 10.0, vito.MinTimeToResult, 1e-9)
	assert.InDelta(t, 20.0, vito.MaxTimeToResult, 1e-9)

	stats, err = s.BackendStats(ctx, "alpine-snow")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 0, stats[0].Successes)
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	var errs []error
	rec := s.NewRecorder("run-9", func(err error) { errs = append(errs, err) })
	rec.ObserveOutcome(ctx, outcome("europe-ndvi", "VITO", true, 1))

	got, err := s.QueryOutcomes(ctx, QueryParams{RunID: "run-9"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Empty(t, errs)

	require.NoError(t, s.Close())
	rec.ObserveOutcome(ctx, outcome("alpine-snow", "VITO", true, 1))
	assert.Len(t, errs, 1)
}
