package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mushimuro/agent-company/internal/db"
)

// pollInterval is the fallback between queue sweeps when no wake signal
// arrives.
const pollInterval = 2 * time.Second

// Pool pulls jobs from the durable queue and executes their attempts with
// bounded concurrency. Jobs interrupted by a crash are requeued on Start.
type Pool struct {
	db     *db.DB
	runner *Runner
	sem    *semaphore.Weighted
	logger *slog.Logger

	wake chan struct{}
	wg   sync.WaitGroup
}

// NewPool creates a pool running at most maxConcurrent attempts at once.
// Values below 1 are raised to 1; the coordinator's slot accounting is what
// enforces a per-project cap of zero.
func NewPool(d *db.DB, r *Runner, maxConcurrent int, logger *slog.Logger) *Pool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		db:     d,
		runner: r,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Start launches the dispatch loop. It returns immediately; the loop stops
// when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	if n, err := p.db.RequeueStaleJobs(ctx); err != nil {
		p.logger.Error("requeue stale jobs", "error", err)
	} else if n > 0 {
		p.logger.Info("requeued interrupted jobs", "count", n)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(ctx)
	}()
}

// Notify signals that a new job was enqueued. Non-blocking.
func (p *Pool) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until the dispatch loop and all in-flight attempts finish.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.db.ClaimJob(ctx)
		if err != nil {
			p.logger.Error("claim job", "error", err)
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-p.wake:
			case <-time.After(pollInterval):
			}
			continue
		}

		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}

		p.wg.Add(1)
		go func(jobID int64, attemptID string) {
			defer p.wg.Done()
			defer p.sem.Release(1)

			if err := p.runner.Execute(ctx, attemptID); err != nil {
				p.logger.Error("execute attempt", "attempt_id", attemptID, "error", err)
			}
			if err := p.db.FinishJob(ctx, jobID); err != nil {
				p.logger.Error("finish job", "job_id", jobID, "error", err)
			}
		}(job.ID, job.AttemptID)
	}
}
