package install

import (
	"maps"
	"slices"
	"sync"
)

// Registry tracks which resources are installed and where.
// Implementations must be safe for concurrent use.
type Registry interface {
	Has(id string) bool
	Record(id, path string)
	Forget(id string)
}

// MemoryRegistry is an in-memory Registry.
type MemoryRegistry struct {
	mu    sync.RWMutex
	paths map[string]string
}

// NewMemoryRegistry returns a registry that already holds ids, with no
// known paths.
func NewMemoryRegistry(ids ...string) *MemoryRegistry {
	r := &MemoryRegistry{paths: make(map[string]string, len(ids))}
	for _, id := range ids {
		r.paths[id] = ""
	}
	return r
}

// Has reports whether id is installed.
func (r *MemoryRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.paths[id]
	return ok
}

// Record marks id as installed at path.
func (r *MemoryRegistry) Record(id, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths[id] = path
}

// Forget removes id.
func (r *MemoryRegistry) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.paths, id)
}

// Path returns where id was installed, if known.
func (r *MemoryRegistry) Path(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.paths[id]
	return p, ok
}

// IDs returns the installed ids in sorted order.
func (r *MemoryRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.paths))
}
