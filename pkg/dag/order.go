package dag

import (
	"container/heap"
	"slices"

	perrors "github.com/matzehuels/stackpack/pkg/errors"
)

const (
	white = iota // unvisited
	gray         // on the current DFS stack
	black        // fully explored
)

// FindCycle returns the ids of a dependency cycle with the repeated id at
// both ends, e.g. [a b c a], or nil when the graph is acyclic. A self-edge
// yields [a a].
//
// Nodes and their dependencies are visited in ascending id order, so the
// same graph always reports the same cycle.
func (d *DAG) FindCycle() []string {
	state := make(map[string]int, len(d.nodes))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = gray
		stack = append(stack, id)
		deps := slices.Sorted(slices.Values(d.outgoing[id]))
		for _, dep := range deps {
			switch state[dep] {
			case gray:
				start := slices.Index(stack, dep)
				path := slices.Clone(stack[start:])
				return append(path, dep)
			case white:
				if path := visit(dep); path != nil {
					return path
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = black
		return nil
	}

	for _, id := range d.IDs() {
		if state[id] == white {
			if path := visit(id); path != nil {
				return path
			}
		}
	}
	return nil
}

// TopoSort returns every node id ordered so that each dependency precedes
// the nodes depending on it. When several nodes are ready at once they are
// emitted in ascending id order, making the result deterministic.
//
// A cyclic graph returns a [perrors.CycleError]. Runs in O((V+E) log V).
func (d *DAG) TopoSort() ([]string, error) {
	pending := make(map[string]int, len(d.nodes))
	ready := &idHeap{}
	for id := range d.nodes {
		pending[id] = len(d.outgoing[id])
		if pending[id] == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]string, 0, len(d.nodes))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		order = append(order, id)
		for _, parent := range d.incoming[id] {
			pending[parent]--
			if pending[parent] == 0 {
				heap.Push(ready, parent)
			}
		}
	}

	if len(order) != len(d.nodes) {
		path := d.FindCycle()
		return nil, &perrors.CycleError{Path: path}
	}
	return order, nil
}

// idHeap is a min-heap of node ids.
type idHeap []string

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
