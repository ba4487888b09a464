package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/rasterbench/pkg/discover"
	"github.com/3leaps/rasterbench/pkg/output"
	"github.com/3leaps/rasterbench/pkg/provider"
	"github.com/3leaps/rasterbench/pkg/results"
)

// cleanupTimeout bounds best-effort job deletion.
const cleanupTimeout = 30 * time.Second

// ErrNoDeclaredFile indicates a local process graph has no "file" field.
var ErrNoDeclaredFile = fmt.Errorf("%w: local process graph declares no file", provider.ErrInvalidProcessGraph)

// execute runs one task and returns its outcome. ok is false when the run
// was cancelled before the task concluded; no outcome is recorded then.
func (r *Runner) execute(ctx context.Context, task discover.Task, sessions *sessionCache) (results.Outcome, bool) {
	base := results.Outcome{
		Backend:             task.Backend.Name,
		Job:                 task.JobID,
		ValidationRulesPath: task.ValidationRulesPath,
		Mode:                task.Backend.ExecutionMode,
	}
	logger := r.logger.With(
		zap.String("job", task.JobID),
		zap.String("backend", task.Backend.Name),
		zap.String("mode", task.Backend.ExecutionMode.String()),
	)

	graph, err := provider.LoadProcessGraph(task.ProcessGraphPath)
	if err != nil {
		logger.Warn("process graph unusable", zap.String("path", task.ProcessGraphPath), zap.Error(err))
		r.writeError(ctx, output.ErrCodeInvalidProcessGraph, task, err)
		return results.Failure(base, output.ErrCodeInvalidProcessGraph, err), true
	}

	if task.Backend.ExecutionMode == provider.ModeLocal {
		return r.runLocal(base, graph, logger), true
	}

	base.File = filepath.Join(task.ReportDir, task.JobID+"."+strings.ToLower(r.config.OutputFormat))
	if err := os.MkdirAll(task.ReportDir, 0o755); err != nil {
		logger.Error("create report dir", zap.String("dir", task.ReportDir), zap.Error(err))
		return results.Failure(base, output.ErrCodeInternal, err), true
	}

	if r.config.Offline {
		logger.Debug("offline: treating task as downloaded")
		return results.Succeeded(base, 0), true
	}

	start := time.Now()

	sess, err := sessions.get(ctx, task.Backend.Endpoint())
	if err != nil {
		if ctx.Err() != nil {
			return results.Outcome{}, false
		}
		code := output.ErrCodeConnectionFailed
		if provider.IsUnauthorized(err) {
			code = output.ErrCodeAccessDenied
		}
		logger.Warn("could not connect to backend", zap.Error(err))
		r.writeError(ctx, code, task, err)
		return results.Failure(base, code, err), true
	}

	tctx := ctx
	if r.config.PollTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, r.config.PollTimeout)
		defer cancel()
	}

	switch task.Backend.ExecutionMode {
	case provider.ModeSynchronous:
		err = sess.Execute(tctx, graph, base.File, r.config.OutputFormat)
	default:
		err = r.runAsync(tctx, sess, task, graph, &base, logger)
	}
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return results.Outcome{}, false
		}
		if provider.IsUnauthorized(err) {
			sessions.evict(task.Backend.Name)
		}
		code := output.ClassifyError(err)
		logger.Warn("no download",
			zap.String("provider_job_id", base.ProviderJobID),
			zap.String("code", code),
			zap.Error(err),
		)
		return results.Failure(base, code, err), true
	}

	logger.Info("downloaded",
		zap.String("provider_job_id", base.ProviderJobID),
		zap.String("file", base.File),
		zap.Duration("elapsed", elapsed),
	)
	return results.Succeeded(base, elapsed.Seconds()), true
}

// runLocal uses the file declared in the process graph. Local execution
// never calls out and never fails once the graph names its file.
func (r *Runner) runLocal(base results.Outcome, graph provider.ProcessGraph, logger *zap.Logger) results.Outcome {
	start := time.Now()
	file, ok := graph.DeclaredFile()
	if !ok {
		logger.Warn("local process graph declares no file")
		return results.Failure(base, output.ErrCodeInvalidProcessGraph, ErrNoDeclaredFile)
	}
	base.File = file
	return results.Succeeded(base, time.Since(start).Seconds())
}

// runAsync submits the graph as a batch job and polls for its result.
// o.ProviderJobID and o.PollAttempts are filled in as they become known.
func (r *Runner) runAsync(ctx context.Context, sess provider.Session, task discover.Task, graph provider.ProcessGraph, o *results.Outcome, logger *zap.Logger) error {
	job, err := sess.CreateJob(ctx, graph, provider.JobOptions{
		Title:  task.JobID,
		Format: r.config.OutputFormat,
	})
	if err != nil {
		return err
	}
	o.ProviderJobID = job.ID()

	fail := func(err error) error {
		if task.Backend.DeleteFailedJobs {
			r.deleteJob(ctx, job, logger)
		}
		return err
	}

	if err := job.Start(ctx); err != nil {
		return fail(err)
	}

	desc, err := job.Describe(ctx)
	if err != nil {
		return fail(err)
	}
	if desc.ID != "" {
		o.ProviderJobID = desc.ID
	}

	poller := &Poller{
		Interval:    r.config.PollInterval,
		MaxAttempts: r.config.MaxPollAttempts,
		OnRetry: func(ctx context.Context, attempt int, err error) {
			r.notifyRetry(task.Backend.Name)
			fields := []zap.Field{
				zap.String("provider_job_id", o.ProviderJobID),
				zap.Int("attempt", attempt),
				zap.Duration("wait", r.config.PollInterval),
			}
			if d, derr := job.Describe(ctx); derr == nil {
				fields = append(fields, zap.String("status", string(d.Status)))
				if d.Progress > 0 {
					fields = append(fields, zap.Float64("progress", d.Progress))
				}
			}
			logger.Info("result not ready, retrying", append(fields, zap.Error(err))...)
		},
	}

	res, err := poller.Poll(ctx, job, o.File)
	o.PollAttempts = res.Attempts
	if err != nil {
		if errors.Is(err, ErrPollExhausted) {
			logger.Warn("giving up on job", zap.String("provider_job_id", o.ProviderJobID), zap.Int("attempts", res.Attempts))
		}
		return fail(err)
	}

	r.deleteJob(ctx, job, logger)
	return nil
}

// deleteJob removes a remote job. Failures are logged and ignored.
func (r *Runner) deleteJob(ctx context.Context, job provider.Job, logger *zap.Logger) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := job.Delete(dctx); err != nil {
		logger.Debug("delete job", zap.String("provider_job_id", job.ID()), zap.Error(err))
	}
}
