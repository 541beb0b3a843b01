package graph

import "sort"

// HasCycles reports whether the dependency graph contains a cycle.
// Self-edges count as cycles.
func (g *Graph) HasCycles() bool {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(g.order))

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		for _, next := range g.succ[id] {
			switch color[next] {
			case grey:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for _, id := range g.order {
		if color[id] == white && visit(id) {
			return true
		}
	}
	return false
}

// Cycles enumerates the simple cycles of the graph. Each cycle is reported
// once, rooted at its lexicographically smallest node, with nodes in edge
// order. Returns nil for an acyclic graph.
func (g *Graph) Cycles() [][]string {
	if !g.HasCycles() {
		return nil
	}

	ids := g.sortedIDs()
	rank := make(map[string]int, len(ids))
	for i, id := range ids {
		rank[id] = i
	}

	var cycles [][]string
	onPath := make(map[string]bool)
	var path []string

	// DFS restricted to nodes with rank >= rank[root]; a cycle is emitted
	// exactly when the walk returns to its root, which guarantees each
	// simple cycle is found once, at its smallest node.
	var search func(root, cur string)
	search = func(root, cur string) {
		onPath[cur] = true
		path = append(path, cur)

		next := append([]string(nil), g.succ[cur]...)
		sort.Slice(next, func(i, j int) bool { return rank[next[i]] < rank[next[j]] })

		for _, n := range next {
			if n == root {
				cycle := make([]string, len(path))
				copy(cycle, path)
				cycles = append(cycles, cycle)
				continue
			}
			if rank[n] > rank[root] && !onPath[n] {
				search(root, n)
			}
		}

		onPath[cur] = false
		path = path[:len(path)-1]
	}

	for _, root := range ids {
		search(root, root)
	}
	return cycles
}
