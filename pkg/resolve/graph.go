package resolve

import (
	stderrors "errors"
	"fmt"
	"io"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/stackpack/pkg/dag"
	"github.com/matzehuels/stackpack/pkg/errors"
	"github.com/matzehuels/stackpack/pkg/resource"
)

// Edge kinds stored under [MetaKind] on every graph edge.
const (
	MetaKind        = "kind"
	KindRequired    = "required"
	KindRecommended = "recommended"
)

// Node metadata keys.
const (
	MetaType    = "type"
	MetaVersion = "version"
	MetaSize    = "size"
)

// Missing records a recommended dependency absent from the catalog.
type Missing struct {
	ID       string // Recommended id that was not found
	WantedBy string // Resource that recommended it
}

// Graph is the resolved dependency closure of a set of roots.
type Graph struct {
	DAG         *dag.DAG
	Roots       []string
	Descriptors map[string]*resource.Descriptor
	Missing     []Missing
}

// Descriptor returns the descriptor for id, or nil.
func (g *Graph) Descriptor(id string) *resource.Descriptor {
	return g.Descriptors[id]
}

// Builder walks the catalog from a set of roots and builds the dependency
// graph, rejecting cycles and unsafe descriptors before any I/O happens.
type Builder struct {
	Catalog resource.Catalog

	// IncludeRecommended also follows recommended dependencies. Recommended
	// ids missing from the catalog become warnings instead of errors.
	IncludeRecommended bool

	Logger *log.Logger
}

const (
	unvisited = iota
	onStack
	done
)

// Build resolves roots into a graph. Roots are visited in the given order
// and duplicates are ignored.
//
// Errors:
//   - [*errors.NotFoundError] when a root or required dependency is missing
//   - [*errors.CycleError] when the closure contains a cycle
//   - SECURITY or INVALID_INPUT coded errors for unsafe descriptors
//
// No partial graph is returned on error.
func (b *Builder) Build(roots []string) (*Graph, error) {
	if b.Catalog == nil {
		return nil, errors.New(errors.ErrCodeInternal, "builder has no catalog")
	}
	logger := b.Logger
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}

	g := &Graph{
		DAG:         dag.New(nil),
		Descriptors: make(map[string]*resource.Descriptor),
	}
	state := make(map[string]int)
	var stack []string

	var visit func(id, requiredBy string) error
	visit = func(id, requiredBy string) error {
		switch state[id] {
		case onStack:
			start := slices.Index(stack, id)
			path := append(slices.Clone(stack[start:]), id)
			return &errors.CycleError{Path: path}
		case done:
			return nil
		}

		d, err := b.Catalog.Get(id)
		if err != nil {
			var nf *errors.NotFoundError
			if stderrors.As(err, &nf) {
				return &errors.NotFoundError{ID: id, RequiredBy: requiredBy}
			}
			return fmt.Errorf("lookup %q: %w", id, err)
		}
		if err := d.Validate(); err != nil {
			return err
		}
		if d.ID != id {
			return errors.New(errors.ErrCodeInvalidInput, "catalog returned %q for id %q", d.ID, id)
		}

		state[id] = onStack
		stack = append(stack, id)
		if err := g.DAG.AddNode(dag.Node{ID: id, Meta: dag.Metadata{
			MetaType:    string(d.Type),
			MetaVersion: d.Version,
			MetaSize:    d.Source.Size,
		}}); err != nil {
			return err
		}
		g.Descriptors[id] = d

		for _, dep := range d.Dependencies.Required {
			if err := visit(dep, id); err != nil {
				return err
			}
			if err := g.DAG.AddEdge(dag.Edge{From: id, To: dep, Meta: dag.Metadata{MetaKind: KindRequired}}); err != nil {
				return err
			}
		}

		if !b.IncludeRecommended {
			for _, dep := range d.Dependencies.Recommended {
				_, err := b.Catalog.Get(dep)
				var nf *errors.NotFoundError
				switch {
				case stderrors.As(err, &nf):
					logger.Warn("recommended resource not in catalog", "id", dep, "wanted_by", id)
					g.Missing = append(g.Missing, Missing{ID: dep, WantedBy: id})
				case err != nil:
					return fmt.Errorf("lookup %q: %w", dep, err)
				}
			}
		} else {
			for _, dep := range d.Dependencies.Recommended {
				if g.DAG.HasEdge(id, dep) {
					continue
				}
				if err := visit(dep, id); err != nil {
					var nf *errors.NotFoundError
					if stderrors.As(err, &nf) && nf.ID == dep && nf.RequiredBy == id {
						logger.Warn("recommended resource not in catalog", "id", dep, "wanted_by", id)
						g.Missing = append(g.Missing, Missing{ID: dep, WantedBy: id})
						continue
					}
					return err
				}
				if err := g.DAG.AddEdge(dag.Edge{From: id, To: dep, Meta: dag.Metadata{MetaKind: KindRecommended}}); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, root := range roots {
		if slices.Contains(g.Roots, root) {
			continue
		}
		if err := errors.ValidateResourceID(root); err != nil {
			return nil, err
		}
		if err := visit(root, ""); err != nil {
			return nil, err
		}
		g.Roots = append(g.Roots, root)
	}

	logger.Debug("built dependency graph",
		"roots", len(g.Roots),
		"nodes", g.DAG.NodeCount(),
		"edges", g.DAG.EdgeCount())
	return g, nil
}

// RequiredBy reports whether dep is a required (not merely recommended)
// dependency of id.
func (g *Graph) RequiredBy(id, dep string) bool {
	d := g.Descriptors[id]
	return d != nil && slices.Contains(d.Dependencies.Required, dep)
}
