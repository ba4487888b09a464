package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/3leaps/rasterbench/pkg/provider"
)

// ErrPollExhausted indicates the poll loop reached its attempt cap while
// the backend was still reporting the transient condition.
var ErrPollExhausted = errors.New("poll attempts exhausted")

// PollState is the state of an asynchronous job in the poll loop.
type PollState string

// Poll states. Downloaded and Failed are terminal.
const (
	StateSubmitted  PollState = "submitted"
	StatePolling    PollState = "polling"
	StateDownloaded PollState = "downloaded"
	StateFailed     PollState = "failed"
)

// PollResult reports how a poll loop ended.
type PollResult struct {
	State    PollState
	Attempts int
	Waits    int
}

// Poller drives the download of an asynchronous job's result.
//
// Each attempt calls Job.DownloadResults. A connection-aborted error means
// the result is not available yet: the poller waits Interval and tries
// again. Any other error is terminal. There is no backoff growth.
type Poller struct {
	// Interval is the wait between attempts.
	Interval time.Duration

	// MaxAttempts caps download attempts. Zero means no cap.
	MaxAttempts int

	// Sleep waits for d or until ctx is done. Default: a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called after a transient failure, before the wait.
	OnRetry func(ctx context.Context, attempt int, err error)
}

// Poll runs the loop until the artifact is written to dest, a terminal
// error occurs, or ctx is done.
func (p *Poller) Poll(ctx context.Context, job provider.Job, dest string) (PollResult, error) {
	res := PollResult{State: StateSubmitted}

	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for {
		if err := ctx.Err(); err != nil {
			res.State = StateFailed
			return res, err
		}

		res.State = StatePolling
		res.Attempts++

		err := job.DownloadResults(ctx, dest)
		if err == nil {
			res.State = StateDownloaded
			return res, nil
		}
		if !provider.IsConnectionAborted(err) {
			res.State = StateFailed
			return res, err
		}
		if p.MaxAttempts > 0 && res.Attempts >= p.MaxAttempts {
			res.State = StateFailed
			return res, fmt.Errorf("%w after %d attempts: %w", ErrPollExhausted, res.Attempts, err)
		}

		if p.OnRetry != nil {
			p.OnRetry(ctx, res.Attempts, err)
		}
		if err := sleep(ctx, p.Interval); err != nil {
			res.State = StateFailed
			return res, err
		}
		res.Waits++
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
