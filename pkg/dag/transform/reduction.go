package transform

import "github.com/matzehuels/stackpack/pkg/dag"

// TransitiveReduction removes every edge (u, v) for which another path
// from u to v exists through at least one intermediate node, and returns
// the number of edges removed. Metadata on the surviving edges is kept.
//
// Reachability is computed once by DFS from every node, so the cost is
// O(V·E) time and O(V²) space. g must be acyclic.
func TransitiveReduction(g *dag.DAG) int {
	ids := g.IDs()
	if len(ids) == 0 {
		return 0
	}

	index := dag.PosMap(ids)
	adjacency := make([][]int, len(ids))
	for _, e := range g.Edges() {
		src, ok1 := index[e.From]
		dst, ok2 := index[e.To]
		if ok1 && ok2 {
			adjacency[src] = append(adjacency[src], dst)
		}
	}
	reachable := computeReachability(adjacency)

	removed := 0
	for _, e := range g.Edges() {
		src, dst := index[e.From], index[e.To]
		for _, mid := range adjacency[src] {
			if mid != dst && reachable[mid][dst] {
				g.RemoveEdge(e.From, e.To)
				removed++
				break
			}
		}
	}
	return removed
}

func computeReachability(adjacency [][]int) [][]bool {
	n := len(adjacency)
	reachable := make([][]bool, n)
	for i := range reachable {
		reachable[i] = make([]bool, n)
	}

	var dfs func(source, current int)
	dfs = func(source, current int) {
		if reachable[source][current] {
			return
		}
		reachable[source][current] = true
		for _, next := range adjacency[current] {
			dfs(source, next)
		}
	}

	for i := range reachable {
		dfs(i, i)
	}
	return reachable
}
