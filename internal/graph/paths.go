package graph

import (
	"sort"

	coreerrors "github.com/mushimuro/agent-company/internal/errors"
)

// TopologicalOrder returns every task id with each dependency preceding its
// dependents. Fails with a CYCLE_DETECTED error on a cyclic graph.
func (g *Graph) TopologicalOrder() ([]string, error) {
	indeg := make(map[string]int, len(g.order))
	for _, id := range g.order {
		indeg[id] = len(g.pred[id])
	}

	// Seed in insertion order for a deterministic result.
	var queue []string
	for _, id := range g.order {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}

	out := make([]string, 0, len(g.order))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		out = append(out, id)
		for _, next := range g.succ[id] {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(out) != len(g.order) {
		return nil, coreerrors.ErrCycleDetected(g.Cycles())
	}
	return out, nil
}

// ExecutionLevels groups tasks by DAG depth: level 0 holds tasks with no
// dependencies, level k tasks whose dependencies all sit in earlier levels.
// Within a level, ids are ordered by priority ascending, then by id.
// Fails with a CYCLE_DETECTED error on a cyclic graph.
func (g *Graph) ExecutionLevels() ([][]string, error) {
	if g.HasCycles() {
		return nil, coreerrors.ErrCycleDetected(g.Cycles())
	}

	remaining := make(map[string]bool, len(g.order))
	for _, id := range g.order {
		remaining[id] = true
	}
	completed := make(map[string]bool, len(g.order))

	var levels [][]string
	for len(remaining) > 0 {
		var level []string
		for _, id := range g.order {
			if !remaining[id] {
				continue
			}
			eligible := true
			for _, dep := range g.pred[id] {
				if !completed[dep] {
					eligible = false
					break
				}
			}
			if eligible {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			// Unreachable for an acyclic graph.
			break
		}

		sort.SliceStable(level, func(i, j int) bool {
			pi, pj := g.nodes[level[i]].Priority, g.nodes[level[j]].Priority
			if pi != pj {
				return pi < pj
			}
			return level[i] < level[j]
		})

		levels = append(levels, level)
		for _, id := range level {
			completed[id] = true
			delete(remaining, id)
		}
	}
	return levels, nil
}

// CriticalPath returns a longest path through the DAG by node count, with
// ties broken deterministically by lexicographic id. Returns nil if the
// graph is cyclic or empty.
func (g *Graph) CriticalPath() []Node {
	if len(g.order) == 0 || g.HasCycles() {
		return nil
	}

	topo, err := g.TopologicalOrder()
	if err != nil {
		return nil
	}

	// Longest path DP over topological order. Predecessors are scanned in
	// sorted id order so parent choice, and therefore the reported path,
	// is stable across runs.
	dist := make(map[string]int, len(topo))
	parent := make(map[string]string, len(topo))
	for _, id := range topo {
		dist[id] = 1
		preds := append([]string(nil), g.pred[id]...)
		sort.Strings(preds)
		for _, p := range preds {
			if dist[p]+1 > dist[id] {
				dist[id] = dist[p] + 1
				parent[id] = p
			}
		}
	}

	end := ""
	for _, id := range g.sortedIDs() {
		if end == "" || dist[id] > dist[end] {
			end = id
		}
	}

	var rev []string
	for id := end; id != ""; id = parent[id] {
		rev = append(rev, id)
	}

	path := make([]Node, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		path = append(path, g.nodes[rev[i]])
	}
	return path
}
