// Package coordinator schedules task execution over the dependency graph:
// it dispatches ready tasks up to the concurrency cap, reports execution
// status, and handles bulk cancel and retry.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mushimuro/agent-company/internal/db"
	coreerrors "github.com/mushimuro/agent-company/internal/errors"
	"github.com/mushimuro/agent-company/internal/events"
	"github.com/mushimuro/agent-company/internal/graph"
	"github.com/mushimuro/agent-company/internal/metrics"
	"github.com/mushimuro/agent-company/internal/task"
	"github.com/mushimuro/agent-company/internal/worker"
)

// Notifier wakes the runner pool after jobs are enqueued.
type Notifier interface {
	Notify()
}

// Coordinator owns project-level scheduling decisions.
type Coordinator struct {
	db            *db.DB
	pool          Notifier
	broadcast     *events.Broadcaster
	maxConcurrent int
	logger        *slog.Logger

	// Serializes scheduling passes so two concurrent triggers cannot
	// both fill the same slots.
	mu sync.Mutex
}

// New creates a coordinator. maxConcurrent caps simultaneously active
// attempts per project; zero disables dispatch entirely.
func New(d *db.DB, pool Notifier, b *events.Broadcaster, maxConcurrent int, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		db:            d,
		pool:          pool,
		broadcast:     b,
		maxConcurrent: maxConcurrent,
		logger:        logger,
	}
}

// ScheduleResult reports one scheduling pass.
type ScheduleResult struct {
	Scheduled []string `json:"scheduled"`
	Waiting   int      `json:"waiting"`
	Errors    []string `json:"errors"`
}

// ScheduleProjectTasks dispatches ready TODO tasks into the free concurrency
// slots, by priority. Per-task failures are accumulated in Errors so a
// partial pass still succeeds. A cyclic graph fails the whole call.
func (c *Coordinator) ScheduleProjectTasks(ctx context.Context, projectID string) (*ScheduleResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	metrics.SchedulingPasses.Inc()

	if _, err := c.db.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	snapshot, err := c.db.ProjectSnapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	g := graph.New(snapshot)
	if g.HasCycles() {
		return nil, coreerrors.ErrCycleDetected(g.Cycles())
	}

	active, err := c.db.ListProjectAttempts(ctx, projectID, task.ActiveAttemptStatuses()...)
	if err != nil {
		return nil, err
	}
	slots := c.maxConcurrent - len(active)

	var todo int
	var candidates []graph.Node
	for _, n := range g.ReadyTasks(nil) {
		if n.Status == task.StatusTodo {
			candidates = append(candidates, n)
		}
	}
	for _, n := range snapshot {
		if n.Status == task.StatusTodo {
			todo++
		}
	}

	result := &ScheduleResult{Scheduled: []string{}, Errors: []string{}}
	for _, n := range candidates {
		if slots <= 0 {
			break
		}
		if err := c.dispatch(ctx, projectID, n.ID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", n.ID, err))
			continue
		}
		result.Scheduled = append(result.Scheduled, n.ID)
		slots--
	}
	result.Waiting = todo - len(result.Scheduled)

	if len(result.Scheduled) > 0 && c.pool != nil {
		c.pool.Notify()
	}

	c.logger.Info("scheduling pass",
		"project_id", projectID,
		"scheduled", len(result.Scheduled),
		"waiting", result.Waiting,
		"errors", len(result.Errors))
	return result, nil
}

// StartTask dispatches a single task regardless of free slots, provided its
// dependencies are all DONE. Blocked tasks fail with DEPENDENCY_UNMET.
func (c *Coordinator) StartTask(ctx context.Context, taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tk, err := c.db.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	snapshot, err := c.db.ProjectSnapshot(ctx, tk.ProjectID)
	if err != nil {
		return err
	}
	check := graph.New(snapshot).CanStart(taskID, nil)
	if !check.CanStart {
		return coreerrors.ErrDependencyUnmet(taskID, check.BlockedBy)
	}

	if err := c.dispatch(ctx, tk.ProjectID, taskID); err != nil {
		return err
	}
	if c.pool != nil {
		c.pool.Notify()
	}
	return nil
}

// dispatch atomically creates a QUEUED attempt for a task, flips the task
// to IN_PROGRESS, and enqueues the runner job. The attempt store's
// single-flight check makes a double dispatch impossible.
func (c *Coordinator) dispatch(ctx context.Context, projectID, taskID string) error {
	tk, err := c.db.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	attempt := &db.Attempt{
		TaskID:     taskID,
		AgentRole:  tk.AgentRole,
		BranchName: worker.BranchName(tk.AgentRole, taskID),
	}
	if err := c.db.CreateAttempt(ctx, attempt); err != nil {
		return err
	}
	if _, err := c.db.TransitionAttempt(ctx, attempt.ID, task.AttemptQueued, nil); err != nil {
		return err
	}
	if err := c.db.UpdateTaskStatus(ctx, taskID, task.StatusInProgress); err != nil {
		return err
	}
	if _, err := c.db.EnqueueJob(ctx, attempt.ID); err != nil {
		return err
	}

	c.broadcast.TaskStatus(projectID, taskID, string(task.StatusInProgress), attempt.ID)
	metrics.TasksDispatched.Inc()
	c.logger.Info("task dispatched", "task_id", taskID, "attempt_id", attempt.ID)
	return nil
}

// OnAttemptComplete is invoked by the runner after finalization. The success
// path parks the task at IN_REVIEW, so nothing is scheduled here: approval
// through the review gate is the only automatic cascade point.
func (c *Coordinator) OnAttemptComplete(ctx context.Context, attemptID string, success bool) {
	c.logger.Debug("attempt complete", "attempt_id", attemptID, "success", success)
}

// ExecutionStatus is the project execution report.
type ExecutionStatus struct {
	TaskCounts      map[task.Status]int `json:"task_counts"`
	ProgressPercent float64             `json:"progress_percent"`
	MaxConcurrent   int                 `json:"max_concurrent"`
	RunningTasks    []string            `json:"running_tasks"`
	ReadyTasks      []string            `json:"ready_tasks"`
	BlockedTasks    []graph.Blocked     `json:"blocked_tasks"`
	ExecutionLevels int                 `json:"execution_levels"`
	HasCycles       bool                `json:"has_cycles"`
	IsComplete      bool                `json:"is_complete"`
}

// maxBlockedReported caps the blocked list in status reports.
const maxBlockedReported = 10

// GetExecutionStatus reports per-status counts, progress, and graph-derived
// sets. On a cyclic graph HasCycles is set and ExecutionLevels is zero
// rather than failing.
func (c *Coordinator) GetExecutionStatus(ctx context.Context, projectID string) (*ExecutionStatus, error) {
	if _, err := c.db.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	snapshot, err := c.db.ProjectSnapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	g := graph.New(snapshot)

	status := &ExecutionStatus{
		TaskCounts:    make(map[task.Status]int),
		MaxConcurrent: c.maxConcurrent,
		RunningTasks:  []string{},
		ReadyTasks:    []string{},
		HasCycles:     g.HasCycles(),
	}

	for _, n := range snapshot {
		status.TaskCounts[n.Status]++
		if n.Status == task.StatusInProgress {
			status.RunningTasks = append(status.RunningTasks, n.ID)
		}
	}
	if len(snapshot) > 0 {
		status.ProgressPercent = float64(status.TaskCounts[task.StatusDone]) / float64(len(snapshot)) * 100
	}

	for _, n := range g.ReadyTasks(nil) {
		if n.Status == task.StatusTodo {
			status.ReadyTasks = append(status.ReadyTasks, n.ID)
		}
	}

	status.BlockedTasks = g.BlockedTasks(nil)
	if len(status.BlockedTasks) > maxBlockedReported {
		status.BlockedTasks = status.BlockedTasks[:maxBlockedReported]
	}

	if !status.HasCycles {
		levels, err := g.ExecutionLevels()
		if err == nil {
			status.ExecutionLevels = len(levels)
		}
	}

	status.IsComplete = status.TaskCounts[task.StatusTodo] == 0 &&
		status.TaskCounts[task.StatusInProgress] == 0

	return status, nil
}

// CancelAllRunning cancels every active attempt of a project and resets the
// parent tasks to TODO. In-flight worker jobs are not killed; their late
// results are discarded because the attempts have left RUNNING.
func (c *Coordinator) CancelAllRunning(ctx context.Context, projectID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.GetProject(ctx, projectID); err != nil {
		return 0, err
	}

	active, err := c.db.ListProjectAttempts(ctx, projectID, task.ActiveAttemptStatuses()...)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, a := range active {
		if _, err := c.db.TransitionAttempt(ctx, a.ID, task.AttemptCancelled, nil); err != nil {
			c.logger.Warn("cancel attempt", "attempt_id", a.ID, "error", err)
			continue
		}
		if err := c.db.UpdateTaskStatus(ctx, a.TaskID, task.StatusTodo); err != nil {
			c.logger.Warn("reset task after cancel", "task_id", a.TaskID, "error", err)
		}
		if _, err := c.db.AppendAttemptEvent(ctx, a.ID, task.EventStatus, "attempt cancelled", nil); err != nil {
			c.logger.Warn("record cancel event", "attempt_id", a.ID, "error", err)
		}
		c.broadcast.AttemptEvent(projectID, a.TaskID, a.ID, string(task.EventStatus), "attempt cancelled")
		c.broadcast.TaskStatus(projectID, a.TaskID, string(task.StatusTodo), a.ID)
		cancelled++
	}

	c.logger.Info("cancelled running attempts", "project_id", projectID, "count", cancelled)
	return cancelled, nil
}

// RetryFailedTasks flips every FAILED task back to TODO and runs a
// scheduling pass.
func (c *Coordinator) RetryFailedTasks(ctx context.Context, projectID string) (*ScheduleResult, error) {
	tasks, err := c.db.ListProjectTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, tk := range tasks {
		if tk.Status != task.StatusFailed {
			continue
		}
		if err := c.db.UpdateTaskStatus(ctx, tk.ID, task.StatusTodo); err != nil {
			return nil, err
		}
		c.broadcast.TaskStatus(projectID, tk.ID, string(task.StatusTodo), "")
	}
	return c.ScheduleProjectTasks(ctx, projectID)
}
