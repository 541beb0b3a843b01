package review

import (
	"context"
	"log/slog"
	"time"

	"github.com/mushimuro/agent-company/internal/db"
	"github.com/mushimuro/agent-company/internal/worker"
)

const (
	defaultSweepInterval = 10 * time.Minute
	defaultSweepAge      = 24 * time.Hour
)

// Sweeper periodically removes worktrees left behind by reviewed or
// abandoned attempts. Worktrees of SUCCESS attempts are kept until the
// review decision.
type Sweeper struct {
	db       *db.DB
	worker   worker.Client
	interval time.Duration
	age      time.Duration
	logger   *slog.Logger
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often the sweep runs.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.interval = d }
}

// WithSweepAge sets how old a completed attempt must be before its
// worktree is removed.
func WithSweepAge(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.age = d }
}

// NewSweeper creates a worktree sweeper.
func NewSweeper(d *db.DB, w worker.Client, logger *slog.Logger, opts ...SweeperOption) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		db:       d,
		worker:   w,
		interval: defaultSweepInterval,
		age:      defaultSweepAge,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Sweep removes worktrees of attempts completed more than age ago.
// Per-attempt failures are logged and retried on the next pass.
func (s *Sweeper) Sweep(ctx context.Context) int {
	attempts, err := s.db.ListSweepableAttempts(ctx, time.Now().Add(-s.age))
	if err != nil {
		s.logger.Error("list sweepable attempts", "error", err)
		return 0
	}

	swept := 0
	for _, a := range attempts {
		tk, err := s.db.GetTask(ctx, a.TaskID)
		if err != nil {
			s.logger.Warn("sweep: load task", "attempt_id", a.ID, "error", err)
			continue
		}
		project, err := s.db.GetProject(ctx, tk.ProjectID)
		if err != nil {
			s.logger.Warn("sweep: load project", "attempt_id", a.ID, "error", err)
			continue
		}
		if _, err := s.worker.Cleanup(ctx, &worker.CleanupRequest{
			AttemptID:  a.ID,
			ProjectID:  project.ID,
			BranchName: a.BranchName,
			RepoPath:   project.RepoPath,
		}); err != nil {
			s.logger.Warn("sweep: worker cleanup", "attempt_id", a.ID, "error", err)
			continue
		}
		if err := s.db.ClearWorktree(ctx, a.ID); err != nil {
			s.logger.Warn("sweep: clear worktree", "attempt_id", a.ID, "error", err)
			continue
		}
		swept++
	}

	if swept > 0 {
		s.logger.Info("swept stale worktrees", "count", swept)
	}
	return swept
}
