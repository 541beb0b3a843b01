package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/mushimuro/agent-company/internal/errors"
	"github.com/mushimuro/agent-company/internal/task"
)

func seedAttempt(t *testing.T, d *DB, taskID string) *Attempt {
	t.Helper()
	a := &Attempt{TaskID: taskID, BranchName: "agent-backend-12345678"}
	require.NoError(t, d.CreateAttempt(context.Background(), a))
	return a
}

func advance(t *testing.T, d *DB, id string, statuses ...task.AttemptStatus) *Attempt {
	t.Helper()
	var a *Attempt
	var err error
	for _, s := range statuses {
		a, err = d.TransitionAttempt(context.Background(), id, s, nil)
		require.NoError(t, err)
	}
	return a
}

func TestCreateAttemptSingleFlight(t *testing.T) {
	t.Parallel()

	d := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, d)
	tk := seedTask(t, d, p.ID, nil)

	a := seedAttempt(t, d, tk.ID)
	assert.Equal(t, task.AttemptPending, a.Status)

	// Second active attempt for the same task is rejected.
	err := d.CreateAttempt(ctx, &Attempt{TaskID: tk.ID})
	ce := coreerrors.AsCoreError(err)
	require.NotNil(t, ce)
	assert.Equal(t, coreerrors.CodeAttemptActive, ce.Code)

	// Once the first attempt reaches a terminal state, a new one is allowed.
	advance(t, d, a.ID, task.AttemptCancelled)
	require.NoError(t, d.CreateAttempt(ctx, &Attempt{TaskID: tk.ID}))
}

func TestCreateAttemptUnknownTask(t *testing.T) {
	t.Parallel()

	d := NewTestDB(t)
	err := d.CreateAttempt(context.Background(), &Attempt{TaskID: "missing"})
	assert.ErrorIs(t, err, coreerrors.ErrTaskNotFound("missing"))
}

func TestTransitionStampsTimes(t *testing.T) {
	t.Parallel()

	d := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, d)
	tk := seedTask(t, d, p.ID, nil)
	a := seedAttempt(t, d, tk.ID)

	running := advance(t, d, a.ID, task.AttemptQueued, task.AttemptRunning)
	require.NotNil(t, running.StartedAt)
	assert.Nil(t, running.CompletedAt)

	done, err := d.TransitionAttempt(ctx, a.ID, task.AttemptSuccess, func(at *Attempt) {
		at.Result = "all gates passed"
	})
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, "all gates passed", done.Result)

	got, err := d.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, task.AttemptSuccess, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, "all gates passed", got.Result)
}

func TestIllegalTransitionRejected(t *testing.T) {
	t.Parallel()

	d := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, d)
	tk := seedTask(t, d, p.ID, nil)
	a := seedAttempt(t, d, tk.ID)

	_, err := d.TransitionAttempt(ctx, a.ID, task.AttemptSuccess, nil)
	ce := coreerrors.AsCoreError(err)
	require.NotNil(t, ce)
	assert.Equal(t, coreerrors.CodeIllegalTransition, ce.Code)

	_, err = d.TransitionAttempt(ctx, "missing", task.AttemptQueued, nil)
	assert.ErrorIs(t, err, coreerrors.ErrAttemptNotFound("missing"))
}

func TestCancellationBeatsLateCompletion(t *testing.T) {
	t.Parallel()

	d := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, d)
	tk := seedTask(t, d, p.ID, nil)
	a := seedAttempt(t, d, tk.ID)

	advance(t, d, a.ID, task.AttemptQueued, task.AttemptRunning, task.AttemptCancelled)

	// A worker result arriving after cancellation must not flip the state.
	_, err := d.TransitionAttempt(ctx, a.ID, task.AttemptSuccess, nil)
	assert.Error(t, err)

	got, err := d.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, task.AttemptCancelled, got.Status)
}

func TestHasActiveAttempt(t *testing.T) {
	t.Parallel()

	d := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, d)
	tk := seedTask(t, d, p.ID, nil)

	active, err := d.HasActiveAttempt(ctx, tk.ID)
	require.NoError(t, err)
	assert.False(t, active)

	a := seedAttempt(t, d, tk.ID)
	active, err = d.HasActiveAttempt(ctx, tk.ID)
	require.NoError(t, err)
	assert.True(t, active)

	advance(t, d, a.ID, task.AttemptQueued, task.AttemptRunning, task.AttemptFailed)
	active, err = d.HasActiveAttempt(ctx, tk.ID)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestAttemptKeepsRoleCopy(t *testing.T) {
	t.Parallel()

	d := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, d)
	tk := seedTask(t, d, p.ID, nil)

	a := &Attempt{TaskID: tk.ID, AgentRole: tk.AgentRole}
	require.NoError(t, d.CreateAttempt(ctx, a))

	// Reassigning the task does not touch the attempt's copy.
	tk.AgentRole = task.RoleFrontend
	require.NoError(t, d.UpdateTask(ctx, tk))

	got := advance(t, d, a.ID, task.AttemptQueued, task.AttemptRunning)
	assert.Equal(t, task.RoleBackend, got.AgentRole)

	listed, err := d.ListProjectAttempts(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, task.RoleBackend, listed[0].AgentRole)
}

func TestListProjectAttemptsByStatus(t *testing.T) {
	t.Parallel()

	d := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, d)
	t1 := seedTask(t, d, p.ID, nil)
	t2 := seedTask(t, d, p.ID, nil)

	a1 := seedAttempt(t, d, t1.ID)
	a2 := seedAttempt(t, d, t2.ID)
	advance(t, d, a1.ID, task.AttemptQueued, task.AttemptRunning)
	advance(t, d, a2.ID, task.AttemptQueued)

	running, err := d.ListProjectAttempts(ctx, p.ID, task.AttemptRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, a1.ID, running[0].ID)

	active, err := d.ListProjectAttempts(ctx, p.ID, task.ActiveAttemptStatuses()...)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	all, err := d.ListProjectAttempts(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAttemptEventsOrdered(t *testing.T) {
	t.Parallel()

	d := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, d)
	tk := seedTask(t, d, p.ID, nil)
	a := seedAttempt(t, d, tk.ID)

	for _, msg := range []string{"queued", "started", "compiling"} {
		_, err := d.AppendAttemptEvent(ctx, a.ID, task.EventLog, msg, nil)
		require.NoError(t, err)
	}

	events, err := d.ListAttemptEvents(ctx, a.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "queued", events[0].Message)
	assert.Equal(t, "compiling", events[2].Message)
	assert.Less(t, events[0].Sequence, events[1].Sequence)

	limited, err := d.ListAttemptEvents(ctx, a.ID, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestAttemptEventIdentityAndMetadata(t *testing.T) {
	t.Parallel()

	d := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, d)
	tk := seedTask(t, d, p.ID, nil)
	a := seedAttempt(t, d, tk.ID)

	ev, err := d.AppendAttemptEvent(ctx, a.ID, task.EventStatus, "starting BACKEND execution",
		map[string]string{"role": "BACKEND"})
	require.NoError(t, err)
	require.NotEmpty(t, ev.ID)

	plain, err := d.AppendAttemptEvent(ctx, a.ID, task.EventLog, "compiling", nil)
	require.NoError(t, err)
	assert.NotEqual(t, ev.ID, plain.ID)

	events, err := d.ListAttemptEvents(ctx, a.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ev.ID, events[0].ID)
	assert.Equal(t, map[string]string{"role": "BACKEND"}, events[0].Metadata)
	assert.Empty(t, events[1].Metadata)
}

func TestGateResultsUpsert(t *testing.T) {
	t.Parallel()

	d := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, d)
	tk := seedTask(t, d, p.ID, nil)
	a := seedAttempt(t, d, tk.ID)

	require.NoError(t, d.SaveGateResult(ctx, &GateResult{
		AttemptID: a.ID, GateKind: task.GateTest, Status: task.GateFailed, Detail: "2 failing",
	}))
	require.NoError(t, d.SaveGateResult(ctx, &GateResult{
		AttemptID: a.ID, GateKind: task.GateLint, Status: task.GatePassed, Duration: 1.5,
	}))
	// Re-running the test gate replaces the earlier row.
	require.NoError(t, d.SaveGateResult(ctx, &GateResult{
		AttemptID: a.ID, GateKind: task.GateTest, Status: task.GatePassed, Duration: 42.7,
	}))

	results, err := d.ListGateResults(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	durations := make(map[task.GateKind]float64)
	for _, g := range results {
		assert.Equal(t, task.GatePassed, g.Status)
		durations[g.GateKind] = g.Duration
	}
	assert.Equal(t, 42.7, durations[task.GateTest])
	assert.Equal(t, 1.5, durations[task.GateLint])
}

func TestJobQueue(t *testing.T) {
	t.Parallel()

	d := NewTestDB(t)
	ctx := context.Background()
	p := seedProject(t, d)
	t1 := seedTask(t, d, p.ID, nil)
	t2 := seedTask(t, d, p.ID, nil)
	a1 := seedAttempt(t, d, t1.ID)
	a2 := seedAttempt(t, d, t2.ID)

	_, err := d.EnqueueJob(ctx, a1.ID)
	require.NoError(t, err)
	_, err = d.EnqueueJob(ctx, a2.ID)
	require.NoError(t, err)

	n, err := d.PendingJobCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// FIFO claim order.
	first, err := d.ClaimJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, a1.ID, first.AttemptID)
	assert.Equal(t, JobRunning, first.State)

	// Crash recovery: running jobs return to pending.
	requeued, err := d.RequeueStaleJobs(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, requeued)

	again, err := d.ClaimJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, a1.ID, again.AttemptID)

	require.NoError(t, d.FinishJob(ctx, again.ID))
	second, err := d.ClaimJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, a2.ID, second.AttemptID)

	empty, err := d.ClaimJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)
}
