// Package graph orders decomposed sub-tasks by their dependencies.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ShayCichocki/orca/pkg/models"
)

// ErrCycleDetected indicates a circular dependency between sub-tasks.
var ErrCycleDetected = errors.New("circular dependency detected")

// DependencyGraph is a directed graph of sub-tasks. Edges point from a
// sub-task to the sub-tasks it depends on.
type DependencyGraph struct {
	mu sync.RWMutex
	// order is the order sub-tasks were listed in; traversal follows it so
	// results are deterministic.
	order []string
	nodes map[string]models.SubTaskDefinition
	edges map[string][]string
}

// New creates an empty graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[string]models.SubTaskDefinition),
		edges: make(map[string][]string),
	}
}

// Build adds the sub-tasks. Duplicate IDs and dependencies on sub-tasks not
// in the slice are errors. Cycles are allowed here; see HasCycle.
func (g *DependencyGraph) Build(subs []models.SubTaskDefinition) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, st := range subs {
		if _, dup := g.nodes[st.ID]; dup {
			return fmt.Errorf("duplicate sub-task %s", st.ID)
		}
		g.nodes[st.ID] = st
		g.order = append(g.order, st.ID)
	}
	for _, st := range subs {
		for _, dep := range st.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return fmt.Errorf("sub-task %s depends on unknown sub-task %s", st.ID, dep)
			}
			g.edges[st.ID] = append(g.edges[st.ID], dep)
		}
	}
	return nil
}

// HasCycle reports whether the graph contains a circular dependency.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// 0 unvisited, 1 in progress, 2 done.
	colors := make(map[string]int, len(g.nodes))
	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, dep := range g.edges[id] {
			switch colors[dep] {
			case 1:
				return true
			case 0:
				if visit(dep) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// TopologicalSort returns every sub-task ID exactly once, dependencies
// before dependents, visiting sub-tasks depth-first in listed order. A node
// is marked visited before its dependencies are explored, so a cycle is cut
// at the edge that closes it rather than failing the sort.
func (g *DependencyGraph) TopologicalSort() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sortLocked()
}

func (g *DependencyGraph) sortLocked() []string {
	visited := make(map[string]bool, len(g.nodes))
	result := make([]string, 0, len(g.nodes))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range g.edges[id] {
			visit(dep)
		}
		result = append(result, id)
	}
	for _, id := range g.order {
		visit(id)
	}
	return result
}

// Levels groups the topological order into batches. Every sub-task sits one
// level after the deepest of its dependencies that precede it in the order,
// so the members of a level never depend on each other.
func (g *DependencyGraph) Levels() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	order := g.sortLocked()
	level := make(map[string]int, len(order))
	var levels [][]string
	for _, id := range order {
		l := 0
		for _, dep := range g.edges[id] {
			if dl, placed := level[dep]; placed && dl+1 > l {
				l = dl + 1
			}
		}
		level[id] = l
		if l == len(levels) {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], id)
	}
	return levels
}

// Get returns the sub-task with the given ID.
func (g *DependencyGraph) Get(id string) (models.SubTaskDefinition, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	st, ok := g.nodes[id]
	return st, ok
}

// Dependencies returns the IDs id depends on.
func (g *DependencyGraph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[id]...)
}

// Dependents returns the IDs of sub-tasks that depend on id, in listed order.
func (g *DependencyGraph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	for _, other := range g.order {
		for _, dep := range g.edges[other] {
			if dep == id {
				out = append(out, other)
				break
			}
		}
	}
	return out
}

// Size returns the number of sub-tasks.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}
