// Package graph maintains the directed dependency graph between tasks:
// cycle-guarded edge insertion, topological ordering for the scheduler's
// forward pass, and transitive successor lookup for minimal recomputation.
package graph

import (
	"fmt"
	"sort"

	"github.com/antigravity-dev/taskflow/internal/model"
)

// DepGraph is an in-memory directed dependency graph built from a
// workspace's tasks and links. Edges point source -> target: the target
// depends on the source.
type DepGraph struct {
	nodes map[string]*model.Task
	// succ[id] holds links whose source is id; pred[id] links whose target is id.
	succ map[string][]model.Link
	pred map[string][]model.Link
}

// Build initializes a graph from tasks and links. Links referencing tasks
// missing from the slice are kept in the adjacency lists for ordering, but
// readiness checks and date propagation skip predecessors with no loaded
// task — a dangling edge never blocks or moves its target.
func Build(tasks []model.Task, links []model.Link) *DepGraph {
	g := &DepGraph{
		nodes: make(map[string]*model.Task, len(tasks)),
		succ:  make(map[string][]model.Link, len(tasks)),
		pred:  make(map[string][]model.Link, len(tasks)),
	}

	owned := make([]model.Task, len(tasks))
	for i := range tasks {
		owned[i] = tasks[i].Clone()
		g.nodes[owned[i].ID] = &owned[i]
	}

	seen := make(map[[2]string]struct{}, len(links))
	for _, l := range links {
		if l.SourceID == "" || l.TargetID == "" || l.SourceID == l.TargetID {
			continue
		}
		key := [2]string{l.SourceID, l.TargetID}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		g.succ[l.SourceID] = append(g.succ[l.SourceID], l)
		g.pred[l.TargetID] = append(g.pred[l.TargetID], l)
	}

	return g
}

// Node returns the task for id, or false if the graph does not contain it.
func (g *DepGraph) Node(id string) (model.Task, bool) {
	t, ok := g.nodes[id]
	if !ok {
		return model.Task{}, false
	}
	return t.Clone(), true
}

// Predecessors returns the links pointing at id (tasks id depends on).
func (g *DepGraph) Predecessors(id string) []model.Link {
	return cloneLinks(g.pred[id])
}

// Successors returns the links originating at id (tasks depending on id).
func (g *DepGraph) Successors(id string) []model.Link {
	return cloneLinks(g.succ[id])
}

// PredecessorTasks resolves id's predecessor links to tasks. Links whose
// source is missing from the graph are skipped.
func (g *DepGraph) PredecessorTasks(id string) []model.Task {
	preds := g.pred[id]
	out := make([]model.Task, 0, len(preds))
	for _, l := range preds {
		if t, ok := g.nodes[l.SourceID]; ok {
			out = append(out, t.Clone())
		}
	}
	return out
}

// ValidateAdd checks whether a source -> target edge may be inserted:
// self-dependencies are rejected outright, and an edge is rejected when
// target already reaches source, which would close a cycle. All link types
// are uniform directed edges for cycle purposes.
func (g *DepGraph) ValidateAdd(sourceID, targetID string) error {
	if sourceID == targetID {
		return fmt.Errorf("link %s -> %s: %w", sourceID, targetID, model.ErrSelfDependency)
	}
	if g.reaches(targetID, sourceID) {
		return fmt.Errorf("link %s -> %s: %w", sourceID, targetID, model.ErrCycleDetected)
	}
	return nil
}

// reaches reports whether to is reachable from from over existing edges.
// Iterative DFS, O(V+E).
func (g *DepGraph) reaches(from, to string) bool {
	if from == to {
		return true
	}
	visited := make(map[string]struct{})
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, done := visited[cur]; done {
			continue
		}
		visited[cur] = struct{}{}
		for _, l := range g.succ[cur] {
			if l.TargetID == to {
				return true
			}
			stack = append(stack, l.TargetID)
		}
	}
	return false
}

// TransitiveSuccessors returns every task id reachable from id, excluding
// id itself, sorted for determinism.
func (g *DepGraph) TransitiveSuccessors(id string) []string {
	visited := make(map[string]struct{})
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, l := range g.succ[cur] {
			if _, done := visited[l.TargetID]; done {
				continue
			}
			visited[l.TargetID] = struct{}{}
			stack = append(stack, l.TargetID)
		}
	}
	delete(visited, id)

	out := make([]string, 0, len(visited))
	for tid := range visited {
		out = append(out, tid)
	}
	sort.Strings(out)
	return out
}

// TopologicalOrder returns every node id in dependency order (sources
// before targets) via Kahn's algorithm. Ties break by id ascending for
// determinism. Fails with ErrCycleDetected when the graph is cyclic —
// which the insertion guard should make impossible, so any occurrence is a
// data-integrity fault, not a recoverable condition.
func (g *DepGraph) TopologicalOrder() ([]string, error) {
	return g.kahn(nil)
}

// SubgraphOrder returns the seed plus its transitive successors in
// dependency order. The scheduler visits exactly this set on recompute.
func (g *DepGraph) SubgraphOrder(seedID string) ([]string, error) {
	affected := map[string]struct{}{seedID: {}}
	for _, id := range g.TransitiveSuccessors(seedID) {
		affected[id] = struct{}{}
	}
	return g.kahn(affected)
}

// kahn runs Kahn's algorithm over the whole graph, or over the induced
// subgraph when restrict is non-nil.
func (g *DepGraph) kahn(restrict map[string]struct{}) ([]string, error) {
	include := func(id string) bool {
		if restrict == nil {
			_, ok := g.nodes[id]
			return ok
		}
		_, ok := restrict[id]
		return ok
	}

	indegree := make(map[string]int)
	for id := range g.nodes {
		if include(id) {
			indegree[id] = 0
		}
	}
	if restrict != nil {
		for id := range restrict {
			indegree[id] = 0
		}
	}
	for id := range indegree {
		for _, l := range g.pred[id] {
			if include(l.SourceID) {
				indegree[id]++
			}
		}
	}

	ready := make([]string, 0, len(indegree))
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(indegree))
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)

		var freed []string
		for _, l := range g.succ[cur] {
			if !include(l.TargetID) {
				continue
			}
			indegree[l.TargetID]--
			if indegree[l.TargetID] == 0 {
				freed = append(freed, l.TargetID)
			}
		}
		if len(freed) > 0 {
			ready = append(ready, freed...)
			sort.Strings(ready)
		}
	}

	if len(order) != len(indegree) {
		return nil, fmt.Errorf("topological order: %d of %d nodes unreachable: %w",
			len(indegree)-len(order), len(indegree), model.ErrCycleDetected)
	}
	return order, nil
}

func cloneLinks(links []model.Link) []model.Link {
	if len(links) == 0 {
		return nil
	}
	cp := make([]model.Link, len(links))
	copy(cp, links)
	return cp
}
