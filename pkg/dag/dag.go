package dag

import (
	"errors"
	"maps"
	"slices"

	perrors "github.com/matzehuels/stackpack/pkg/errors"
)

var (
	// ErrInvalidNodeID is returned by [DAG.AddNode] when the node ID is empty.
	// All nodes must have non-empty identifiers.
	ErrInvalidNodeID = errors.New("node ID must not be empty")

	// ErrDuplicateNodeID is returned by [DAG.AddNode] when a node with the
	// same ID already exists in the graph. Node IDs must be unique.
	ErrDuplicateNodeID = errors.New("duplicate node ID")

	// ErrUnknownSourceNode is returned by [DAG.AddEdge] when the From node
	// does not exist.
	ErrUnknownSourceNode = errors.New("unknown source node")

	// ErrUnknownTargetNode is returned by [DAG.AddEdge] when the To node
	// does not exist in the graph.
	ErrUnknownTargetNode = errors.New("unknown target node")

	// ErrInvalidEdgeEndpoint is returned by [DAG.Validate] when an edge
	// references a node that doesn't exist. This indicates graph corruption.
	ErrInvalidEdgeEndpoint = errors.New("invalid edge endpoint")
)

// Metadata stores arbitrary key-value pairs attached to nodes or the graph.
// It is commonly used to store resource metadata (type, version, size).
// Metadata maps are never nil - they are automatically initialized to empty
// maps when needed.
type Metadata map[string]any

// Node represents a vertex in the dependency graph.
// The zero value is not usable - ID must be set before adding to a DAG.
type Node struct {
	ID   string   // Unique identifier (resource id)
	Meta Metadata // Arbitrary key-value metadata (never nil after AddNode)
}

// Edge represents a directed "depends on" connection: From depends on To.
type Edge struct {
	From string   // Dependent node ID
	To   string   // Dependency node ID
	Meta Metadata // Arbitrary key-value metadata (never nil after AddEdge)
}

// DAG is a directed graph of resources keyed by id in a flat adjacency map.
// Nodes never hold references to each other; edges are stored as id pairs,
// so cyclic input can be represented and diagnosed before ordering.
//
// The zero value is not usable - use New to create a valid DAG instance.
// DAG is not safe for concurrent use without external synchronization.
type DAG struct {
	nodes    map[string]*Node
	edges    []Edge
	outgoing map[string][]string // nodeID -> dependency IDs
	incoming map[string][]string // nodeID -> dependent IDs
	meta     Metadata
}

// New creates an empty DAG with optional graph-level metadata.
// The metadata parameter can be nil, in which case an empty map is created.
func New(meta Metadata) *DAG {
	if meta == nil {
		meta = Metadata{}
	}
	return &DAG{
		nodes:    make(map[string]*Node),
		outgoing: make(map[string][]string),
		incoming: make(map[string][]string),
		meta:     meta,
	}
}

// Meta returns the graph-level metadata map.
// The returned map is never nil and can be safely modified.
func (d *DAG) Meta() Metadata { return d.meta }

// AddNode adds a node to the graph.
// Returns ErrInvalidNodeID if the node ID is empty, or ErrDuplicateNodeID
// if a node with the same ID already exists. The node's Meta field is
// automatically initialized to an empty map if nil.
func (d *DAG) AddNode(n Node) error {
	if n.ID == "" {
		return ErrInvalidNodeID
	}
	if _, exists := d.nodes[n.ID]; exists {
		return ErrDuplicateNodeID
	}
	if n.Meta == nil {
		n.Meta = Metadata{}
	}
	node := &n
	d.nodes[node.ID] = node
	return nil
}

// AddEdge adds a directed edge between two existing nodes.
// Returns ErrUnknownSourceNode if the From node doesn't exist, or
// ErrUnknownTargetNode if the To node doesn't exist. Adding an edge that
// already exists is a no-op. Self-edges are accepted and reported as a
// cycle of length one by [DAG.FindCycle].
func (d *DAG) AddEdge(e Edge) error {
	if _, ok := d.nodes[e.From]; !ok {
		return ErrUnknownSourceNode
	}
	if _, ok := d.nodes[e.To]; !ok {
		return ErrUnknownTargetNode
	}
	if d.HasEdge(e.From, e.To) {
		return nil
	}
	if e.Meta == nil {
		e.Meta = Metadata{}
	}
	d.edges = append(d.edges, e)
	d.outgoing[e.From] = append(d.outgoing[e.From], e.To)
	d.incoming[e.To] = append(d.incoming[e.To], e.From)
	return nil
}

// HasEdge reports whether the edge from→to exists.
func (d *DAG) HasEdge(from, to string) bool {
	return slices.Contains(d.outgoing[from], to)
}

// RemoveEdge removes the edge from→to if it exists.
// No error is returned if the edge does not exist.
func (d *DAG) RemoveEdge(from, to string) {
	d.edges = slices.DeleteFunc(d.edges, func(e Edge) bool { return e.From == from && e.To == to })
	d.outgoing[from] = slices.DeleteFunc(d.outgoing[from], func(s string) bool { return s == to })
	d.incoming[to] = slices.DeleteFunc(d.incoming[to], func(s string) bool { return s == from })
}

// Nodes returns all nodes in the graph sorted by ID.
// The returned slice contains pointers to the actual node structs, so
// modifications affect the graph.
func (d *DAG) Nodes() []*Node {
	nodes := make([]*Node, 0, len(d.nodes))
	for _, id := range d.IDs() {
		nodes = append(nodes, d.nodes[id])
	}
	return nodes
}

// IDs returns all node IDs in ascending order.
func (d *DAG) IDs() []string {
	return slices.Sorted(maps.Keys(d.nodes))
}

// Edges returns a copy of all edges in the graph.
// The order matches insertion order. Modifications to the returned
// slice or its edge structs do not affect the graph.
func (d *DAG) Edges() []Edge { return slices.Clone(d.edges) }

// NodeCount returns the number of nodes in the graph.
func (d *DAG) NodeCount() int { return len(d.nodes) }

// EdgeCount returns the number of edges in the graph.
func (d *DAG) EdgeCount() int { return len(d.edges) }

// Children returns the IDs of nodes that this node depends on.
// Returns nil if the node has no dependencies or doesn't exist. The returned
// slice should not be modified - use it as a read-only view.
func (d *DAG) Children(id string) []string { return d.outgoing[id] }

// Parents returns the IDs of nodes that depend on this node.
// Returns nil if the node has no dependents or doesn't exist. The returned
// slice should not be modified - use it as a read-only view.
func (d *DAG) Parents(id string) []string { return d.incoming[id] }

// OutDegree returns the number of dependencies of the node.
// Returns 0 if the node doesn't exist.
func (d *DAG) OutDegree(id string) int { return len(d.outgoing[id]) }

// InDegree returns the number of dependents of the node.
// Returns 0 if the node doesn't exist.
func (d *DAG) InDegree(id string) int { return len(d.incoming[id]) }

// Node returns the node with the given ID and true, or nil and false if not found.
func (d *DAG) Node(id string) (*Node, bool) {
	n, ok := d.nodes[id]
	return n, ok
}

// Sources returns nodes with no dependents (requested roots), sorted by ID.
// Returns nil for an empty graph.
func (d *DAG) Sources() []*Node {
	var sources []*Node
	for _, n := range d.Nodes() {
		if len(d.incoming[n.ID]) == 0 {
			sources = append(sources, n)
		}
	}
	return sources
}

// Sinks returns nodes with no dependencies (leaves), sorted by ID.
// Returns nil for an empty graph.
func (d *DAG) Sinks() []*Node {
	var sinks []*Node
	for _, n := range d.Nodes() {
		if len(d.outgoing[n.ID]) == 0 {
			sinks = append(sinks, n)
		}
	}
	return sinks
}

// Dependents returns every node that transitively depends on id, sorted.
// The node itself is not included unless it sits on a cycle.
func (d *DAG) Dependents(id string) []string {
	seen := make(map[string]bool)
	stack := slices.Clone(d.incoming[id])
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, d.incoming[n]...)
	}
	return slices.Sorted(maps.Keys(seen))
}

// Validate checks graph integrity and returns nil if valid.
// It verifies that all edges connect existing nodes and that the graph is
// acyclic. A cycle is reported as a [perrors.CycleError] carrying the path.
//
// Cycle detection runs in O(N+E) time using depth-first search.
func (d *DAG) Validate() error {
	for _, e := range d.edges {
		_, okS := d.nodes[e.From]
		_, okD := d.nodes[e.To]
		if !okS || !okD {
			return ErrInvalidEdgeEndpoint
		}
	}
	if path := d.FindCycle(); path != nil {
		return &perrors.CycleError{Path: path}
	}
	return nil
}

// PosMap creates a position lookup map from a slice of node IDs.
// The returned map maps each ID to its index in the slice.
// This is commonly used to check ordering constraints on an install order.
func PosMap(ids []string) map[string]int {
	m := make(map[string]int, len(ids))
	for i, id := range ids {
		m[id] = i
	}
	return m
}

// NodeIDs extracts the ID from each node in a slice.
// Returns a new slice containing the IDs in the same order as the input.
func NodeIDs(nodes []*Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}
