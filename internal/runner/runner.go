// Package runner executes task attempts: it drives one attempt from QUEUED
// through the worker RPC to a terminal state, persisting events and gate
// results along the way.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mushimuro/agent-company/internal/db"
	coreerrors "github.com/mushimuro/agent-company/internal/errors"
	"github.com/mushimuro/agent-company/internal/events"
	"github.com/mushimuro/agent-company/internal/metrics"
	"github.com/mushimuro/agent-company/internal/task"
	"github.com/mushimuro/agent-company/internal/worker"
)

// Runner executes attempts against the worker daemon.
type Runner struct {
	db        *db.DB
	worker    worker.Client
	broadcast *events.Broadcaster
	model     string
	logger    *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithModel sets the model name sent with every run_agent request. A
// project config "model" entry overrides it per project.
func WithModel(model string) Option {
	return func(r *Runner) { r.model = model }
}

// New creates a runner.
func New(d *db.DB, w worker.Client, b *events.Broadcaster, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{db: d, worker: w, broadcast: b, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute drives one attempt to a terminal state. The attempt must be
// QUEUED; anything else (typically a cancellation that won the race) makes
// Execute a no-op. The worker's result is committed only if the attempt is
// still RUNNING when it arrives: a late reply after cancellation is
// discarded.
func (r *Runner) Execute(ctx context.Context, attemptID string) error {
	attempt, err := r.db.GetAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	tk, err := r.db.GetTask(ctx, attempt.TaskID)
	if err != nil {
		return err
	}
	project, err := r.db.GetProject(ctx, tk.ProjectID)
	if err != nil {
		return err
	}
	roots, err := r.db.WritableRoots(ctx, project.ID)
	if err != nil {
		return err
	}

	// The attempt carries the role frozen at creation; a task edit after
	// dispatch must not redirect a running attempt.
	role := attempt.AgentRole
	if role == "" {
		role = tk.AgentRole
	}

	if _, err := r.db.TransitionAttempt(ctx, attemptID, task.AttemptRunning, nil); err != nil {
		if errors.Is(err, &coreerrors.CoreError{Code: coreerrors.CodeIllegalTransition}) {
			r.logger.Info("skipping attempt no longer queued",
				"attempt_id", attemptID, "status", attempt.Status)
			return nil
		}
		return err
	}
	r.event(ctx, project.ID, tk.ID, attemptID, task.EventStatus,
		fmt.Sprintf("starting %s execution", role))

	model := r.model
	if m, ok := project.Config["model"]; ok && m != "" {
		model = m
	}

	req := &worker.RunAgentRequest{
		AttemptID: attemptID,
		Task: worker.TaskSpec{
			ID:                 tk.ID,
			Title:              tk.Title,
			Description:        tk.Description,
			AgentRole:          role,
			AcceptanceCriteria: tk.AcceptanceCriteria,
		},
		Project: worker.ProjectSpec{
			ID:          project.ID,
			Name:        project.Name,
			Description: project.Description,
			RepoPath:    project.RepoPath,
			Config:      project.Config,
		},
		WritableRoots: roots,
		Model:         model,
		BranchName:    attempt.BranchName,
	}

	// Each failed delivery to the worker gets its own ERROR event.
	callCtx := worker.WithTransportErrorHook(ctx, func(sendErr error) {
		metrics.WorkerRetries.Inc()
		r.event(ctx, project.ID, tk.ID, attemptID, task.EventError,
			"worker unreachable: "+sendErr.Error())
	})

	resp, err := r.worker.RunAgent(callCtx, req)
	if err != nil {
		// Transport failures were already recorded per delivery by the
		// hook; other errors get a single ERROR event here.
		if !errors.Is(err, &coreerrors.CoreError{Code: coreerrors.CodeWorkerUnreachable}) {
			r.event(ctx, project.ID, tk.ID, attemptID, task.EventError, err.Error())
		}
		return r.finalizeFailure(ctx, project.ID, tk.ID, attemptID, err.Error())
	}
	if !resp.Success {
		r.event(ctx, project.ID, tk.ID, attemptID, task.EventError, resp.Error)
		return r.finalizeFailure(ctx, project.ID, tk.ID, attemptID, resp.Error)
	}
	return r.finalizeSuccess(ctx, project.ID, tk.ID, attemptID, resp)
}

func (r *Runner) finalizeSuccess(ctx context.Context, projectID, taskID, attemptID string, resp *worker.RunAgentResponse) error {
	_, err := r.db.TransitionAttempt(ctx, attemptID, task.AttemptSuccess, func(a *db.Attempt) {
		if resp.GitBranch != "" {
			a.BranchName = resp.GitBranch
		}
		a.WorktreePath = resp.WorktreePath
		a.Diff = resp.Diff
		a.FilesChanged = resp.FilesChanged
		a.Result = resp.Output
	})
	if err != nil {
		return r.discardOrFail(attemptID, "success", err)
	}

	for _, g := range resp.GateResults {
		if err := r.db.SaveGateResult(ctx, &db.GateResult{
			AttemptID: attemptID,
			GateKind:  g.Kind,
			Status:    g.Status,
			Detail:    g.Detail,
			Duration:  g.Duration,
		}); err != nil {
			r.logger.Error("persist gate result", "attempt_id", attemptID, "error", err)
		}
	}

	if err := r.db.UpdateTaskStatus(ctx, taskID, task.StatusInReview); err != nil {
		return err
	}
	r.event(ctx, projectID, taskID, attemptID, task.EventStatus, "agent execution succeeded, awaiting review")
	r.broadcast.TaskStatus(projectID, taskID, string(task.StatusInReview), attemptID)

	metrics.AttemptsFinished.WithLabelValues(string(task.AttemptSuccess)).Inc()
	r.logger.Info("attempt succeeded", "attempt_id", attemptID, "task_id", taskID)
	return nil
}

func (r *Runner) finalizeFailure(ctx context.Context, projectID, taskID, attemptID, message string) error {
	_, err := r.db.TransitionAttempt(ctx, attemptID, task.AttemptFailed, func(a *db.Attempt) {
		a.ErrorMessage = message
	})
	if err != nil {
		return r.discardOrFail(attemptID, "failure", err)
	}

	// Back to TODO so the task can be retried or rescheduled.
	if err := r.db.UpdateTaskStatus(ctx, taskID, task.StatusTodo); err != nil {
		return err
	}
	r.broadcast.TaskStatus(projectID, taskID, string(task.StatusTodo), attemptID)

	metrics.AttemptsFinished.WithLabelValues(string(task.AttemptFailed)).Inc()
	r.logger.Warn("attempt failed", "attempt_id", attemptID, "task_id", taskID, "error", message)
	return nil
}

// discardOrFail swallows the illegal-transition error that marks a lost
// race with cancellation; any other error propagates.
func (r *Runner) discardOrFail(attemptID, outcome string, err error) error {
	if errors.Is(err, &coreerrors.CoreError{Code: coreerrors.CodeIllegalTransition}) {
		r.logger.Info("discarding late worker result",
			"attempt_id", attemptID, "outcome", outcome)
		return nil
	}
	return err
}

// event persists an attempt event and broadcasts it.
func (r *Runner) event(ctx context.Context, projectID, taskID, attemptID string, kind task.EventKind, message string) {
	if _, err := r.db.AppendAttemptEvent(ctx, attemptID, kind, message, nil); err != nil {
		r.logger.Error("persist attempt event", "attempt_id", attemptID, "error", err)
	}
	r.broadcast.AttemptEvent(projectID, taskID, attemptID, string(kind), message)
}
