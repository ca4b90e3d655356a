package transform

import (
	"slices"

	"github.com/matzehuels/stackpack/pkg/dag"
)

// Waves groups the nodes of g by install wave, dependencies first. Each
// wave is sorted by id. Nodes on a cycle never become ready and are left
// out; callers are expected to have rejected cyclic graphs already.
//
// Waves uses Kahn's algorithm over reversed edges: a node is ready once
// every dependency has been placed, and lands one wave after the deepest
// of them.
func Waves(g *dag.DAG) [][]string {
	nodes := g.Nodes()
	pending := make(map[string]int, len(nodes))
	wave := make(map[string]int, len(nodes))
	queue := make([]string, 0, len(nodes))

	for _, n := range nodes {
		degree := g.OutDegree(n.ID)
		pending[n.ID] = degree
		if degree == 0 {
			queue = append(queue, n.ID)
		}
	}

	var waves [][]string
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]

		w := wave[curr]
		for len(waves) <= w {
			waves = append(waves, nil)
		}
		waves[w] = append(waves[w], curr)

		for _, parent := range g.Parents(curr) {
			if next := w + 1; next > wave[parent] {
				wave[parent] = next
			}
			pending[parent]--
			if pending[parent] == 0 {
				queue = append(queue, parent)
			}
		}
	}

	for _, ids := range waves {
		slices.Sort(ids)
	}
	return waves
}

// WaveOf returns a map from node id to its wave index.
func WaveOf(waves [][]string) map[string]int {
	m := make(map[string]int)
	for i, ids := range waves {
		for _, id := range ids {
			m[id] = i
		}
	}
	return m
}
