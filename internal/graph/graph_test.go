package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/mushimuro/agent-company/internal/errors"
	"github.com/mushimuro/agent-company/internal/task"
)

func node(id string, status task.Status, priority int, deps ...string) Node {
	return Node{
		ID:           id,
		Title:        "task " + id,
		Status:       status,
		AgentRole:    task.RoleBackend,
		Priority:     priority,
		Dependencies: deps,
	}
}

func TestEmptyGraph(t *testing.T) {
	t.Parallel()

	g := New(nil)
	assert.Equal(t, 0, g.Len())
	assert.False(t, g.HasCycles())
	assert.Nil(t, g.Cycles())
	assert.Empty(t, g.ReadyTasks(nil))
	assert.Empty(t, g.BlockedTasks(nil))

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Empty(t, order)

	levels, err := g.ExecutionLevels()
	require.NoError(t, err)
	assert.Empty(t, levels)

	assert.Nil(t, g.CriticalPath())
}

func TestTopologicalOrderRespectsEdges(t *testing.T) {
	t.Parallel()

	g := New([]Node{
		node("a", task.StatusTodo, 3),
		node("b", task.StatusTodo, 3, "a"),
		node("c", task.StatusTodo, 3, "a"),
		node("d", task.StatusTodo, 3, "b", "c"),
	})

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	// Every edge must point forward in the order.
	assert.Less(t, pos["a"], pos["b"])
	assert.Less(t, pos["a"], pos["c"])
	assert.Less(t, pos["b"], pos["d"])
	assert.Less(t, pos["c"], pos["d"])
}

func TestCycleDetection(t *testing.T) {
	t.Parallel()

	g := New([]Node{
		node("a", task.StatusTodo, 3, "b"),
		node("b", task.StatusTodo, 3, "a"),
	})

	assert.True(t, g.HasCycles())

	cycles := g.Cycles()
	require.Len(t, cycles, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, cycles[0])

	_, err := g.TopologicalOrder()
	require.Error(t, err)
	ce := coreerrors.AsCoreError(err)
	require.NotNil(t, ce)
	assert.Equal(t, coreerrors.CodeCycleDetected, ce.Code)

	_, err = g.ExecutionLevels()
	require.Error(t, err)

	assert.Nil(t, g.CriticalPath())
}

func TestSelfEdgeIsACycle(t *testing.T) {
	t.Parallel()

	g := New([]Node{node("a", task.StatusTodo, 3, "a")})
	assert.True(t, g.HasCycles())

	cycles := g.Cycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"a"}, cycles[0])
}

func TestExecutionLevels(t *testing.T) {
	t.Parallel()

	g := New([]Node{
		node("setup", task.StatusTodo, 3),
		node("api", task.StatusTodo, 2, "setup"),
		node("ui", task.StatusTodo, 1, "setup"),
		node("e2e", task.StatusTodo, 3, "api", "ui"),
	})

	levels, err := g.ExecutionLevels()
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"setup"}, levels[0])
	// Within a level: priority ascending, ties by id.
	assert.Equal(t, []string{"ui", "api"}, levels[1])
	assert.Equal(t, []string{"e2e"}, levels[2])
}

func TestExecutionLevelsTieBreakByID(t *testing.T) {
	t.Parallel()

	g := New([]Node{
		node("zeta", task.StatusTodo, 2),
		node("alpha", task.StatusTodo, 2),
	})

	levels, err := g.ExecutionLevels()
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, []string{"alpha", "zeta"}, levels[0])
}

func TestReadyTasks(t *testing.T) {
	t.Parallel()

	g := New([]Node{
		node("a", task.StatusDone, 1),
		node("b", task.StatusTodo, 2, "a"),
		node("c", task.StatusTodo, 1, "a"),
		node("d", task.StatusTodo, 3, "b"),
		node("e", task.StatusInProgress, 1),
	})

	ready := g.ReadyTasks(nil)
	require.Len(t, ready, 2)
	// Priority ascending: c (1) before b (2). d blocked, a done, e running.
	assert.Equal(t, "c", ready[0].ID)
	assert.Equal(t, "b", ready[1].ID)
}

func TestReadyTasksTieBreakInsertionOrder(t *testing.T) {
	t.Parallel()

	g := New([]Node{
		node("second", task.StatusTodo, 2),
		node("first", task.StatusTodo, 2),
	})

	ready := g.ReadyTasks(nil)
	require.Len(t, ready, 2)
	assert.Equal(t, "second", ready[0].ID)
	assert.Equal(t, "first", ready[1].ID)
}

func TestBlockedTasks(t *testing.T) {
	t.Parallel()

	g := New([]Node{
		node("a", task.StatusTodo, 3),
		node("b", task.StatusTodo, 3, "a"),
		node("c", task.StatusTodo, 3, "a", "b"),
	})

	blocked := g.BlockedTasks(nil)
	require.Len(t, blocked, 2)
	assert.Equal(t, "b", blocked[0].ID)
	require.Len(t, blocked[0].BlockedBy, 1)
	assert.Equal(t, "a", blocked[0].BlockedBy[0].ID)
	assert.Equal(t, "c", blocked[1].ID)
	assert.Len(t, blocked[1].BlockedBy, 2)

	// With an explicit completed set, b unblocks and c shrinks to one blocker.
	blocked = g.BlockedTasks(map[string]bool{"a": true})
	require.Len(t, blocked, 1)
	assert.Equal(t, "c", blocked[0].ID)
	require.Len(t, blocked[0].BlockedBy, 1)
	assert.Equal(t, "b", blocked[0].BlockedBy[0].ID)
}

func TestCanStart(t *testing.T) {
	t.Parallel()

	g := New([]Node{
		node("a", task.StatusDone, 3),
		node("b", task.StatusInProgress, 3),
		node("c", task.StatusTodo, 3, "a"),
		node("d", task.StatusTodo, 3, "b", "c"),
	})

	check := g.CanStart("missing", nil)
	assert.False(t, check.CanStart)
	assert.Contains(t, check.Reason, "not found")

	check = g.CanStart("a", nil)
	assert.False(t, check.CanStart)
	assert.Equal(t, "task is already completed", check.Reason)

	check = g.CanStart("b", nil)
	assert.False(t, check.CanStart)
	assert.Equal(t, "task is already in progress", check.Reason)

	check = g.CanStart("c", nil)
	assert.True(t, check.CanStart)
	assert.Equal(t, "all dependencies satisfied", check.Reason)

	check = g.CanStart("d", nil)
	assert.False(t, check.CanStart)
	assert.Len(t, check.BlockedBy, 2)
	assert.Contains(t, check.Reason, "waiting for 2 dependencies")
}

func TestDependents(t *testing.T) {
	t.Parallel()

	g := New([]Node{
		node("a", task.StatusTodo, 3),
		node("b", task.StatusTodo, 3, "a"),
		node("c", task.StatusTodo, 3, "a"),
	})

	deps := g.Dependents("a")
	require.Len(t, deps, 2)
	assert.Equal(t, "b", deps[0].ID)
	assert.Equal(t, "c", deps[1].ID)
	assert.Empty(t, g.Dependents("b"))
	assert.Empty(t, g.Dependents("missing"))
}

func TestCriticalPath(t *testing.T) {
	t.Parallel()

	// a -> b -> d and c -> d; longest is a, b, d.
	g := New([]Node{
		node("a", task.StatusTodo, 3),
		node("b", task.StatusTodo, 3, "a"),
		node("c", task.StatusTodo, 3),
		node("d", task.StatusTodo, 3, "b", "c"),
	})

	path := g.CriticalPath()
	require.Len(t, path, 3)
	assert.Equal(t, "a", path[0].ID)
	assert.Equal(t, "b", path[1].ID)
	assert.Equal(t, "d", path[2].ID)
}

func TestCriticalPathDeterministicTieBreak(t *testing.T) {
	t.Parallel()

	// Two disjoint chains of equal length; the path through the smaller
	// end id wins.
	g := New([]Node{
		node("x1", task.StatusTodo, 3),
		node("x2", task.StatusTodo, 3, "x1"),
		node("a1", task.StatusTodo, 3),
		node("a2", task.StatusTodo, 3, "a1"),
	})

	path := g.CriticalPath()
	require.Len(t, path, 2)
	assert.Equal(t, "a1", path[0].ID)
	assert.Equal(t, "a2", path[1].ID)
}

func TestUnknownDependenciesAreIgnored(t *testing.T) {
	t.Parallel()

	g := New([]Node{node("a", task.StatusTodo, 3, "ghost")})
	assert.False(t, g.HasCycles())

	ready := g.ReadyTasks(nil)
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].ID)
}

func TestExport(t *testing.T) {
	t.Parallel()

	g := New([]Node{
		node("a", task.StatusTodo, 3),
		node("b", task.StatusTodo, 3, "a"),
	})

	nodes, edges := g.Export()
	require.Len(t, nodes, 2)
	require.Len(t, edges, 1)
	assert.Equal(t, Edge{Source: "a", Target: "b"}, edges[0])
}
