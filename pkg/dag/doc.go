// Package dag provides the resource dependency graph used by the resolver
// and the batch installer.
//
// # Overview
//
// Nodes are keyed by resource id in a flat adjacency map and an edge
// From→To means "From depends on To". Nodes never point at each other
// directly, so a graph built from bad catalog data can still be held in
// memory and diagnosed: [DAG.FindCycle] reports the exact cycle and
// [DAG.TopoSort] refuses to order it.
//
// # Basic Usage
//
//	g := dag.New(nil)
//	g.AddNode(dag.Node{ID: "reviewer"})
//	g.AddNode(dag.Node{ID: "lint"})
//	g.AddEdge(dag.Edge{From: "reviewer", To: "lint"})
//
//	order, err := g.TopoSort() // [lint reviewer]
//
// # Ordering
//
// [DAG.TopoSort] is Kahn's algorithm with a min-heap ready set. Nodes
// whose dependencies are all placed come out in ascending id order, so the
// same catalog always yields the same install order regardless of map
// iteration or insertion order.
//
// # Cycles
//
// [DAG.FindCycle] runs a three-color depth-first search over ids in sorted
// order. The returned path repeats the entry id at both ends ([a b c a]);
// a self-dependency is [a a]. [DAG.Validate] and [DAG.TopoSort] wrap the
// path in a [perrors.CycleError].
//
// Package [github.com/matzehuels/stackpack/pkg/dag/transform] derives install
// waves and transitive reductions from a DAG.
//
// # Concurrency
//
// DAG instances are not safe for concurrent use. The installer only reads
// the graph after resolution, which is safe across goroutines.
package dag
