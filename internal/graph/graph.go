// Package graph provides pure dependency-graph queries over a task snapshot.
//
// A Graph is built from a point-in-time snapshot of a project's tasks and
// discarded after use; it holds no reference to the store and no query
// mutates it. Edges run from a dependency to its dependent.
package graph

import (
	"fmt"
	"sort"

	"github.com/mushimuro/agent-company/internal/task"
)

// Node is one task in the snapshot.
type Node struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Status       task.Status    `json:"status"`
	AgentRole    task.AgentRole `json:"agent_role"`
	Priority     int            `json:"priority"`
	Dependencies []string       `json:"dependencies"`
}

// Ref is a lightweight reference to a node, used in blocked/dependent lists.
type Ref struct {
	ID     string      `json:"id"`
	Title  string      `json:"title"`
	Status task.Status `json:"status"`
}

// Graph is a directed dependency graph over a task snapshot.
type Graph struct {
	nodes map[string]Node
	order []string            // snapshot insertion order
	seq   map[string]int      // id -> insertion index
	succ  map[string][]string // dependency -> dependents
	pred  map[string][]string // dependent -> dependencies (in-project only)
}

// New builds a graph from a snapshot. Dependencies referencing ids outside
// the snapshot are dropped rather than rejected; creation-time validation
// is the store's job.
func New(snapshot []Node) *Graph {
	g := &Graph{
		nodes: make(map[string]Node, len(snapshot)),
		order: make([]string, 0, len(snapshot)),
		seq:   make(map[string]int, len(snapshot)),
		succ:  make(map[string][]string),
		pred:  make(map[string][]string),
	}

	for _, n := range snapshot {
		if n.ID == "" {
			continue
		}
		if _, dup := g.nodes[n.ID]; dup {
			continue
		}
		g.nodes[n.ID] = n
		g.seq[n.ID] = len(g.order)
		g.order = append(g.order, n.ID)
	}

	for _, id := range g.order {
		for _, dep := range g.nodes[id].Dependencies {
			if _, ok := g.nodes[dep]; !ok {
				continue
			}
			g.succ[dep] = append(g.succ[dep], id)
			g.pred[id] = append(g.pred[id], dep)
		}
	}

	return g
}

// Len returns the number of nodes in the snapshot.
func (g *Graph) Len() int {
	return len(g.order)
}

// Node returns the node for an id, if present.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// CompletedSet derives the default completed set: ids of DONE tasks.
func (g *Graph) CompletedSet() map[string]bool {
	done := make(map[string]bool)
	for _, id := range g.order {
		if g.nodes[id].Status == task.StatusDone {
			done[id] = true
		}
	}
	return done
}

// Blocked describes a task held back by incomplete dependencies.
type Blocked struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Status    task.Status `json:"status"`
	BlockedBy []Ref       `json:"blocked_by"`
}

// BlockedTasks returns every non-completed task whose dependency set is not a
// subset of completed. Pass nil to derive completed from DONE statuses.
func (g *Graph) BlockedTasks(completed map[string]bool) []Blocked {
	if completed == nil {
		completed = g.CompletedSet()
	}

	var blocked []Blocked
	for _, id := range g.order {
		if completed[id] {
			continue
		}
		var missing []Ref
		for _, dep := range g.pred[id] {
			if !completed[dep] {
				missing = append(missing, g.ref(dep))
			}
		}
		if len(missing) > 0 {
			n := g.nodes[id]
			blocked = append(blocked, Blocked{
				ID:        id,
				Title:     n.Title,
				Status:    n.Status,
				BlockedBy: missing,
			})
		}
	}
	return blocked
}

// StartCheck is the result of a can-start query.
type StartCheck struct {
	CanStart  bool   `json:"can_start"`
	BlockedBy []Ref  `json:"blocked_by"`
	Reason    string `json:"reason"`
}

// CanStart reports whether a task may begin execution right now.
// Pass nil to derive completed from DONE statuses.
func (g *Graph) CanStart(id string, completed map[string]bool) StartCheck {
	n, ok := g.nodes[id]
	if !ok {
		return StartCheck{Reason: fmt.Sprintf("task %s not found", id)}
	}
	if n.Status == task.StatusDone {
		return StartCheck{Reason: "task is already completed"}
	}
	if n.Status == task.StatusInProgress {
		return StartCheck{Reason: "task is already in progress"}
	}

	if completed == nil {
		completed = g.CompletedSet()
	}

	var missing []Ref
	for _, dep := range g.pred[id] {
		if !completed[dep] {
			missing = append(missing, g.ref(dep))
		}
	}
	if len(missing) > 0 {
		return StartCheck{
			BlockedBy: missing,
			Reason:    fmt.Sprintf("waiting for %d dependencies to complete", len(missing)),
		}
	}
	return StartCheck{CanStart: true, BlockedBy: []Ref{}, Reason: "all dependencies satisfied"}
}

// ReadyTasks returns tasks that are neither DONE nor IN_PROGRESS and whose
// dependencies all lie in completed, sorted by priority ascending with ties
// broken by snapshot insertion order. Pass nil to derive completed from
// DONE statuses.
func (g *Graph) ReadyTasks(completed map[string]bool) []Node {
	if completed == nil {
		completed = g.CompletedSet()
	}

	var ready []Node
	for _, id := range g.order {
		n := g.nodes[id]
		if n.Status == task.StatusDone || n.Status == task.StatusInProgress {
			continue
		}
		satisfied := true
		for _, dep := range g.pred[id] {
			if !completed[dep] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, n)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].Priority < ready[j].Priority
	})
	return ready
}

// Dependents returns the direct successors of a task.
func (g *Graph) Dependents(id string) []Ref {
	deps := g.succ[id]
	out := make([]Ref, 0, len(deps))
	for _, d := range deps {
		out = append(out, g.ref(d))
	}
	return out
}

// Edge is one dependency -> dependent pair, for visualization exports.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Export returns the node and edge lists for visualization.
func (g *Graph) Export() ([]Node, []Edge) {
	nodes := make([]Node, 0, len(g.order))
	var edges []Edge
	for _, id := range g.order {
		nodes = append(nodes, g.nodes[id])
		for _, dep := range g.pred[id] {
			edges = append(edges, Edge{Source: dep, Target: id})
		}
	}
	return nodes, edges
}

func (g *Graph) ref(id string) Ref {
	n := g.nodes[id]
	return Ref{ID: id, Title: n.Title, Status: n.Status}
}

// sortedIDs returns all node ids in lexicographic order.
func (g *Graph) sortedIDs() []string {
	ids := make([]string, len(g.order))
	copy(ids, g.order)
	sort.Strings(ids)
	return ids
}
