// Package review implements the human review gate: approving, rejecting,
// and cancelling attempts. Approval is the single point where completed
// work cascades into new scheduling.
package review

import (
	"context"
	"log/slog"

	"github.com/mushimuro/agent-company/internal/coordinator"
	"github.com/mushimuro/agent-company/internal/db"
	coreerrors "github.com/mushimuro/agent-company/internal/errors"
	"github.com/mushimuro/agent-company/internal/events"
	"github.com/mushimuro/agent-company/internal/task"
	"github.com/mushimuro/agent-company/internal/worker"
)

// targetBranch is where approved attempt branches are merged.
const targetBranch = "main"

// Gate decides what happens to finished attempts.
type Gate struct {
	db        *db.DB
	worker    worker.Client
	coord     *coordinator.Coordinator
	broadcast *events.Broadcaster
	logger    *slog.Logger
}

// New creates a review gate.
func New(d *db.DB, w worker.Client, c *coordinator.Coordinator, b *events.Broadcaster, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{db: d, worker: w, coord: c, broadcast: b, logger: logger}
}

// Approve merges a SUCCESS attempt's branch, marks the task DONE, and runs
// a scheduling pass for newly unblocked tasks. A merge conflict aborts with
// a Conflict error and leaves the attempt reviewable.
func (g *Gate) Approve(ctx context.Context, attemptID string) (*coordinator.ScheduleResult, error) {
	a, err := g.db.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Status != task.AttemptSuccess {
		return nil, coreerrors.ErrIllegalTransition(attemptID, string(a.Status), string(task.AttemptApproved))
	}

	tk, err := g.db.GetTask(ctx, a.TaskID)
	if err != nil {
		return nil, err
	}
	project, err := g.db.GetProject(ctx, tk.ProjectID)
	if err != nil {
		return nil, err
	}

	resp, err := g.worker.MergeBranch(ctx, &worker.MergeBranchRequest{
		AttemptID:    attemptID,
		ProjectID:    project.ID,
		BranchName:   a.BranchName,
		TargetBranch: targetBranch,
		RepoPath:     project.RepoPath,
	})
	if err != nil {
		return nil, err
	}
	if resp.Conflict {
		return nil, coreerrors.ErrMergeConflict(a.BranchName, resp.Detail)
	}
	if !resp.Merged {
		return nil, coreerrors.ErrWorkerReported("merge did not complete: " + resp.Detail)
	}

	if _, err := g.db.TransitionAttempt(ctx, attemptID, task.AttemptApproved, nil); err != nil {
		return nil, err
	}
	if err := g.db.UpdateTaskStatus(ctx, tk.ID, task.StatusDone); err != nil {
		return nil, err
	}
	g.record(ctx, project.ID, tk.ID, attemptID, "attempt approved, branch merged")
	g.broadcast.TaskStatus(project.ID, tk.ID, string(task.StatusDone), attemptID)

	g.cleanup(ctx, project, a)

	g.logger.Info("attempt approved", "attempt_id", attemptID, "task_id", tk.ID)
	return g.coord.ScheduleProjectTasks(ctx, project.ID)
}

// Reject archives a reviewable attempt (SUCCESS or FAILED) and resets the
// task to TODO. Optional feedback is stored on the attempt.
func (g *Gate) Reject(ctx context.Context, attemptID, feedback string) error {
	a, err := g.db.GetAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	tk, err := g.db.GetTask(ctx, a.TaskID)
	if err != nil {
		return err
	}
	project, err := g.db.GetProject(ctx, tk.ProjectID)
	if err != nil {
		return err
	}

	if _, err := g.db.TransitionAttempt(ctx, attemptID, task.AttemptRejected, func(at *db.Attempt) {
		if feedback != "" {
			at.Result = feedback
		}
	}); err != nil {
		return err
	}
	if err := g.db.UpdateTaskStatus(ctx, tk.ID, task.StatusTodo); err != nil {
		return err
	}
	g.record(ctx, project.ID, tk.ID, attemptID, "attempt rejected")
	g.broadcast.TaskStatus(project.ID, tk.ID, string(task.StatusTodo), attemptID)

	g.cleanup(ctx, project, a)

	g.logger.Info("attempt rejected", "attempt_id", attemptID, "task_id", tk.ID)
	return nil
}

// Cancel aborts an active attempt and resets the task to TODO. The worker
// job, if running, is left to finish; its result will be discarded.
func (g *Gate) Cancel(ctx context.Context, attemptID string) error {
	a, err := g.db.GetAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	tk, err := g.db.GetTask(ctx, a.TaskID)
	if err != nil {
		return err
	}
	project, err := g.db.GetProject(ctx, tk.ProjectID)
	if err != nil {
		return err
	}

	if _, err := g.db.TransitionAttempt(ctx, attemptID, task.AttemptCancelled, nil); err != nil {
		return err
	}
	if err := g.db.UpdateTaskStatus(ctx, tk.ID, task.StatusTodo); err != nil {
		return err
	}
	g.record(ctx, project.ID, tk.ID, attemptID, "attempt cancelled")
	g.broadcast.TaskStatus(project.ID, tk.ID, string(task.StatusTodo), attemptID)

	g.cleanup(ctx, project, a)

	g.logger.Info("attempt cancelled", "attempt_id", attemptID, "task_id", tk.ID)
	return nil
}

// cleanup asks the worker to remove the attempt's worktree and branch.
// Best-effort: failures are logged, never surfaced.
func (g *Gate) cleanup(ctx context.Context, project *db.Project, a *db.Attempt) {
	if a.BranchName == "" {
		return
	}
	if _, err := g.worker.Cleanup(ctx, &worker.CleanupRequest{
		AttemptID:  a.ID,
		ProjectID:  project.ID,
		BranchName: a.BranchName,
		RepoPath:   project.RepoPath,
	}); err != nil {
		g.logger.Warn("worktree cleanup failed", "attempt_id", a.ID, "error", err)
	}
}

func (g *Gate) record(ctx context.Context, projectID, taskID, attemptID, message string) {
	if _, err := g.db.AppendAttemptEvent(ctx, attemptID, task.EventStatus, message, nil); err != nil {
		g.logger.Error("persist review event", "attempt_id", attemptID, "error", err)
	}
	g.broadcast.AttemptEvent(projectID, taskID, attemptID, string(task.EventStatus), message)
}
