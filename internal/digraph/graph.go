// Package digraph validates pipeline definitions and computes execution
// order over their node/edge structure.
package digraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/loomcloud/loom/internal/core"
)

// Graph holds the adjacency of a pipeline definition. Precedence is
// kept both ways: from maps a node to its successors, to maps a node to
// its predecessors.
type Graph struct {
	ids  []string
	from map[string][]string
	to   map[string][]string
}

// NewGraph builds the adjacency for the given nodes and edges. Edges
// referencing unknown nodes are ignored here; Validate reports them.
func NewGraph(nodes []core.Node, edges []core.Edge) *Graph {
	g := &Graph{
		ids:  make([]string, 0, len(nodes)),
		from: make(map[string][]string),
		to:   make(map[string][]string),
	}
	known := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		g.ids = append(g.ids, n.ID)
		known[n.ID] = struct{}{}
	}
	for _, e := range edges {
		if _, ok := known[e.From]; !ok {
			continue
		}
		if _, ok := known[e.To]; !ok {
			continue
		}
		g.from[e.From] = append(g.from[e.From], e.To)
		g.to[e.To] = append(g.to[e.To], e.From)
	}
	return g
}

// Predecessors returns the ids of nodes with an edge into id.
func (g *Graph) Predecessors(id string) []string {
	return g.to[id]
}

// Successors returns the ids of nodes id has an edge into.
func (g *Graph) Successors(id string) []string {
	return g.from[id]
}

// TopologicalOrder returns all node ids in a linear extension of the
// precedence relation. Ties are broken by lexicographic node id so the
// output is reproducible.
func (g *Graph) TopologicalOrder() ([]string, error) {
	inDegrees := make(map[string]int, len(g.ids))
	for _, id := range g.ids {
		inDegrees[id] = len(g.to[id])
	}

	var ready []string
	for _, id := range g.ids {
		if inDegrees[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.ids))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, succ := range g.from[id] {
			inDegrees[succ]--
			if inDegrees[succ] == 0 {
				ready = append(ready, succ)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(g.ids) {
		return nil, fmt.Errorf("%w: %s", core.ErrCycleDetected, g.cyclePath(inDegrees))
	}
	return order, nil
}

// Batches returns successive frontiers of nodes whose predecessors are
// all in earlier batches. It is the iterative counterpart of
// TopologicalOrder, reserved for parallel execution of independent
// nodes.
func (g *Graph) Batches() ([][]string, error) {
	inDegrees := make(map[string]int, len(g.ids))
	for _, id := range g.ids {
		inDegrees[id] = len(g.to[id])
	}

	var frontier []string
	for _, id := range g.ids {
		if inDegrees[id] == 0 {
			frontier = append(frontier, id)
		}
	}
	sort.Strings(frontier)

	var batches [][]string
	seen := 0
	for len(frontier) > 0 {
		batches = append(batches, frontier)
		seen += len(frontier)

		var next []string
		for _, id := range frontier {
			for _, succ := range g.from[id] {
				inDegrees[succ]--
				if inDegrees[succ] == 0 {
					next = append(next, succ)
				}
			}
		}
		sort.Strings(next)
		frontier = next
	}

	if seen != len(g.ids) {
		return nil, fmt.Errorf("%w: %s", core.ErrCycleDetected, g.cyclePath(inDegrees))
	}
	return batches, nil
}

// cyclePath walks the nodes left with positive in-degree after Kahn
// peeling and extracts one concrete cycle for the error message.
func (g *Graph) cyclePath(inDegrees map[string]int) string {
	remaining := make(map[string]bool)
	var start string
	for _, id := range g.ids {
		if inDegrees[id] > 0 {
			remaining[id] = true
			if start == "" || id < start {
				start = id
			}
		}
	}
	if start == "" {
		return ""
	}

	// Follow successors within the remaining set until a node repeats.
	visited := make(map[string]int)
	var path []string
	cur := start
	for {
		if at, ok := visited[cur]; ok {
			cycle := append(path[at:], cur)
			return strings.Join(cycle, " -> ")
		}
		visited[cur] = len(path)
		path = append(path, cur)

		next := ""
		for _, succ := range g.from[cur] {
			if remaining[succ] && (next == "" || succ < next) {
				next = succ
			}
		}
		if next == "" {
			return cur
		}
		cur = next
	}
}
