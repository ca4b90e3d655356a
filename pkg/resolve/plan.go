package resolve

import (
	"fmt"
	"io"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/stackpack/pkg/resource"
)

// InstalledSet reports which resources are already present.
type InstalledSet interface {
	Has(id string) bool
}

// Set is a map-backed InstalledSet.
type Set map[string]struct{}

// NewSet returns a Set holding ids.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has implements InstalledSet.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Plan is an ordered, deduplicated install plan.
type Plan struct {
	// Order lists every resource in the closure, dependencies first.
	Order []string

	// Install is the subsequence of Order that still needs installing.
	Install []string

	// Installed is the subsequence of Order already present.
	Installed []string

	// Missing lists recommended dependencies absent from the catalog.
	Missing []Missing

	// TotalBytes sums Source.Size over Install.
	TotalBytes int64

	Graph *Graph
}

// Descriptor returns the descriptor for id, or nil.
func (p *Plan) Descriptor(id string) *resource.Descriptor {
	return p.Graph.Descriptor(id)
}

// IsInstalled reports whether id was found already installed at plan time.
func (p *Plan) IsInstalled(id string) bool {
	return slices.Contains(p.Installed, id)
}

// NewPlan orders g and partitions it against installed. With force set
// every resource is scheduled for installation.
func NewPlan(g *Graph, installed InstalledSet, force bool) (*Plan, error) {
	order, err := g.DAG.TopoSort()
	if err != nil {
		return nil, err
	}

	p := &Plan{
		Order:   order,
		Missing: slices.Clone(g.Missing),
		Graph:   g,
	}
	for _, id := range order {
		if !force && installed != nil && installed.Has(id) {
			p.Installed = append(p.Installed, id)
			continue
		}
		p.Install = append(p.Install, id)
		p.TotalBytes += g.Descriptors[id].Source.Size
	}
	return p, nil
}

// Resolver turns root ids into an install plan.
type Resolver struct {
	Catalog            resource.Catalog
	IncludeRecommended bool
	Force              bool
	Logger             *log.Logger
}

// Resolve builds the dependency graph for roots, orders it and partitions
// it against installed. Resolution is pure: errors are returned before any
// network or filesystem access.
func (r *Resolver) Resolve(roots []string, installed InstalledSet) (*Plan, error) {
	logger := r.Logger
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}

	b := &Builder{
		Catalog:            r.Catalog,
		IncludeRecommended: r.IncludeRecommended,
		Logger:             logger,
	}
	g, err := b.Build(roots)
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}
	p, err := NewPlan(g, installed, r.Force)
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}

	logger.Info("resolved install plan",
		"resources", len(p.Order),
		"to_install", len(p.Install),
		"installed", len(p.Installed),
		"bytes", p.TotalBytes)
	return p, nil
}
