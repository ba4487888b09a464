// Package runner executes a discovery plan against compute backends.
//
// Every task is one (job, backend) tuple. A bounded pool of workers takes
// tasks from the plan; each worker runs the task's execution strategy,
// including any polling, to completion before taking the next one. Every
// attempted task produces exactly one outcome, appended to a shared log and
// written as a JSONL record.
package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/rasterbench/pkg/discover"
	"github.com/3leaps/rasterbench/pkg/output"
	"github.com/3leaps/rasterbench/pkg/provider"
	"github.com/3leaps/rasterbench/pkg/results"
)

// Config configures runner behavior.
type Config struct {
	// Concurrency is the number of tasks executed in parallel.
	// Default: 4
	Concurrency int

	// PollInterval is the wait between download attempts of an
	// asynchronous job.
	// Default: 10s
	PollInterval time.Duration

	// MaxPollAttempts caps download attempts per job. Zero means no cap.
	MaxPollAttempts int

	// PollTimeout bounds the remote execution of a single task.
	// Zero means no deadline.
	// Default: 2h
	PollTimeout time.Duration

	// RateLimit is the maximum number of tasks started per second.
	// Zero means unlimited.
	RateLimit float64

	// OutputFormat is requested from remote backends.
	// Default: "PNG"
	OutputFormat string

	// Offline treats every remote task as an immediate success without
	// any network interaction.
	Offline bool

	// ProgressEvery controls how often progress records are emitted.
	// A progress record is written every N completed tasks.
	// Default: 10
	ProgressEvery int

	// Logger receives diagnostics. Default: no-op.
	Logger *zap.Logger
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:   4,
		PollInterval:  10 * time.Second,
		PollTimeout:   2 * time.Hour,
		OutputFormat:  "PNG",
		ProgressEvery: 10,
	}
}

// Observer is notified of every recorded outcome.
type Observer interface {
	ObserveOutcome(ctx context.Context, o results.Outcome)
}

// RetryObserver is optionally implemented by observers that count poll
// retries.
type RetryObserver interface {
	ObserveRetry(backend string)
}

// Summary contains aggregate statistics from a completed run.
type Summary struct {
	// Results is the finalized outcome set.
	Results *results.Set

	// Attempted counts tasks that produced an outcome.
	Attempted int64
	Succeeded int64
	Failed    int64

	// Skipped counts plan skips (no outcome recorded).
	Skipped int64

	// Cancelled counts tasks interrupted or never started because the run
	// was cancelled (no outcome recorded).
	Cancelled int64

	// Duration is the total time spent running.
	Duration time.Duration
}

// Runner executes a plan.
//
// Runner is safe for single use only. Create a new Runner for each run.
type Runner struct {
	connector provider.Connector
	writer    output.Writer
	runID     string
	config    Config
	logger    *zap.Logger

	log       *results.Log
	observers []Observer

	// Rate limiter (nil if unlimited)
	limiter *rate.Limiter

	planned   atomic.Int64
	completed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	cancelled atomic.Int64

	writeErrMu sync.Mutex
	writeErr   error
}

// New creates a runner.
//
// conn is used for remote backends only and may be nil when the plan only
// contains local backends or Offline is set.
func New(conn provider.Connector, w output.Writer, runID string, cfg Config) *Runner {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = def.OutputFormat
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = def.ProgressEvery
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Runner{
		connector: conn,
		writer:    w,
		runID:     runID,
		config:    cfg,
		logger:    logger.With(zap.String("run_id", runID)),
		log:       results.NewLog(),
	}
	if cfg.RateLimit > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return r
}

// WithObserver adds outcome observers. Returns the runner for chaining.
func (r *Runner) WithObserver(obs ...Observer) *Runner {
	r.observers = append(r.observers, obs...)
	return r
}

// Outcomes returns the outcomes recorded so far. Safe to call while Run is
// in progress.
func (r *Runner) Outcomes() []results.Outcome {
	return r.log.Snapshot()
}

// Run executes every task in the plan and returns summary statistics.
//
// Individual task failures are recorded as outcomes and never abort the
// run. When ctx is cancelled, in-flight tasks stop without recording an
// outcome, queued tasks are not started, and Run returns the partial
// summary together with the context error.
func (r *Runner) Run(ctx context.Context, plan *discover.Plan) (*Summary, error) {
	start := time.Now()
	r.planned.Store(int64(len(plan.Tasks)))

	if err := r.writeProgress(ctx, output.PhaseStarting); err != nil {
		return nil, err
	}

	for _, s := range plan.Skips {
		r.recordSkip(ctx, s)
	}

	tasks := make(chan discover.Task)
	var wg sync.WaitGroup

	workers := r.config.Concurrency
	if workers > len(plan.Tasks) {
		workers = len(plan.Tasks)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.worker(ctx, tasks)
		}()
	}

	queued := 0
feed:
	for _, t := range plan.Tasks {
		select {
		case <-ctx.Done():
			break feed
		case tasks <- t:
			queued++
		}
	}
	close(tasks)
	wg.Wait()

	r.cancelled.Add(int64(len(plan.Tasks) - queued))

	summary := r.buildSummary(time.Since(start))

	// The summary is written even when the run was cancelled.
	wctx := context.WithoutCancel(ctx)
	if err := r.writeProgress(wctx, output.PhaseComplete); err != nil {
		r.noteWriteErr(err)
	}
	if err := r.writeSummary(wctx, summary); err != nil {
		r.noteWriteErr(err)
	}

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, r.firstWriteErr()
}

// worker executes tasks until the channel is closed. Sessions are cached
// per backend for the lifetime of the worker.
func (r *Runner) worker(ctx context.Context, tasks <-chan discover.Task) {
	sessions := newSessionCache(r.connector)
	defer sessions.closeAll(r.logger)

	for task := range tasks {
		if ctx.Err() != nil {
			r.cancelled.Add(1)
			continue
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				r.cancelled.Add(1)
				continue
			}
		}

		o, ok := r.execute(ctx, task, sessions)
		if !ok {
			r.cancelled.Add(1)
			r.logger.Info("task cancelled",
				zap.String("job", task.JobID),
				zap.String("backend", task.Backend.Name),
			)
			continue
		}
		r.record(ctx, o)
	}
}

// record appends an outcome, writes it, and notifies observers.
func (r *Runner) record(ctx context.Context, o results.Outcome) {
	r.log.Append(o)
	if o.DownloadSuccessful {
		r.succeeded.Add(1)
	} else {
		r.failed.Add(1)
	}

	wctx := context.WithoutCancel(ctx)
	if err := r.writer.WriteOutcome(wctx, o); err != nil {
		r.noteWriteErr(err)
		r.logger.Error("write outcome", zap.String("job", o.Job), zap.String("backend", o.Backend), zap.Error(err))
	}
	for _, obs := range r.observers {
		obs.ObserveOutcome(wctx, o)
	}

	if n := r.completed.Add(1); n%int64(r.config.ProgressEvery) == 0 {
		if err := r.writeProgress(wctx, output.PhaseExecuting); err != nil {
			r.noteWriteErr(err)
		}
	}
}

func (r *Runner) recordSkip(ctx context.Context, s discover.Skip) {
	r.skipped.Add(1)

	fields := []zap.Field{
		zap.String("job", s.JobID),
		zap.String("backend", s.Backend),
		zap.String("reason", s.Reason),
	}
	if s.Reason == discover.ReasonNoProcessGraph {
		r.logger.Warn("no process graph found", append(fields, zap.String("path", s.Path))...)
	} else {
		r.logger.Debug("skipping task", fields...)
	}

	if err := r.writer.WriteSkip(ctx, &output.SkipRecord{
		Job:     s.JobID,
		Backend: s.Backend,
		Reason:  s.Reason,
		Path:    s.Path,
	}); err != nil {
		r.noteWriteErr(err)
	}
}

func (r *Runner) notifyRetry(backend string) {
	for _, obs := range r.observers {
		if ro, ok := obs.(RetryObserver); ok {
			ro.ObserveRetry(backend)
		}
	}
}

func (r *Runner) buildSummary(d time.Duration) *Summary {
	set := r.log.Finalize()
	return &Summary{
		Results:   set,
		Attempted: int64(set.Len()),
		Succeeded: r.succeeded.Load(),
		Failed:    r.failed.Load(),
		Skipped:   r.skipped.Load(),
		Cancelled: r.cancelled.Load(),
		Duration:  d,
	}
}

func (r *Runner) writeProgress(ctx context.Context, phase string) error {
	return r.writer.WriteProgress(ctx, &output.ProgressRecord{
		Phase:     phase,
		Planned:   r.planned.Load(),
		Completed: r.completed.Load(),
		Succeeded: r.succeeded.Load(),
		Failed:    r.failed.Load(),
	})
}

func (r *Runner) writeSummary(ctx context.Context, s *Summary) error {
	return r.writer.WriteSummary(ctx, &output.SummaryRecord{
		Jobs:          len(s.Results.JobIDs()),
		Attempted:     s.Attempted,
		Succeeded:     s.Succeeded,
		Failed:        s.Failed,
		Skipped:       s.Skipped,
		Cancelled:     s.Cancelled,
		Duration:      s.Duration,
		DurationHuman: s.Duration.Round(time.Millisecond).String(),
	})
}

func (r *Runner) writeError(ctx context.Context, code string, task discover.Task, err error) {
	rec := &output.ErrorRecord{
		Code:    code,
		Message: err.Error(),
		Job:     task.JobID,
		Backend: task.Backend.Name,
	}
	if werr := r.writer.WriteError(context.WithoutCancel(ctx), rec); werr != nil {
		r.noteWriteErr(werr)
	}
}

func (r *Runner) noteWriteErr(err error) {
	r.writeErrMu.Lock()
	defer r.writeErrMu.Unlock()
	if r.writeErr == nil {
		r.writeErr = err
	}
}

func (r *Runner) firstWriteErr() error {
	r.writeErrMu.Lock()
	defer r.writeErrMu.Unlock()
	return r.writeErr
}

// sessionCache holds one session per backend for a single worker.
type sessionCache struct {
	conn     provider.Connector
	sessions map[string]provider.Session
}

func newSessionCache(conn provider.Connector) *sessionCache {
	return &sessionCache{conn: conn, sessions: make(map[string]provider.Session)}
}

// get returns the cached session for the endpoint or connects a new one.
// Failed connections are not cached.
func (c *sessionCache) get(ctx context.Context, ep provider.Endpoint) (provider.Session, error) {
	if s, ok := c.sessions[ep.Name]; ok {
		return s, nil
	}
	if c.conn == nil {
		return nil, errors.New("no connector configured for remote backends")
	}
	s, err := c.conn.Connect(ctx, ep)
	if err != nil {
		return nil, err
	}
	c.sessions[ep.Name] = s
	return s, nil
}

// evict drops and closes the session for a backend so the next task
// reconnects.
func (c *sessionCache) evict(name string) {
	if s, ok := c.sessions[name]; ok {
		_ = s.Close()
		delete(c.sessions, name)
	}
}

func (c *sessionCache) closeAll(logger *zap.Logger) {
	for name, s := range c.sessions {
		if err := s.Close(); err != nil {
			logger.Debug("close session", zap.String("backend", name), zap.Error(err))
		}
	}
	c.sessions = nil
}
