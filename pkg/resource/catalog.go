package resource

import (
	"slices"
	"strings"
	"sync"

	"github.com/matzehuels/stackpack/pkg/errors"
)

// Catalog supplies descriptors by id. Get returns an
// [*errors.NotFoundError] when the id is unknown.
type Catalog interface {
	Get(id string) (*Descriptor, error)
}

// MemoryCatalog is a Catalog backed by a map. It is safe for concurrent use.
type MemoryCatalog struct {
	mu    sync.RWMutex
	items map[string]*Descriptor
}

// NewMemoryCatalog returns a catalog holding descs. Duplicate ids are an
// input error.
func NewMemoryCatalog(descs ...*Descriptor) (*MemoryCatalog, error) {
	c := &MemoryCatalog{items: make(map[string]*Descriptor, len(descs))}
	for _, d := range descs {
		if err := c.Add(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add registers d. Descriptors are stored by pointer and must not be
// modified afterwards.
func (c *MemoryCatalog) Add(d *Descriptor) error {
	if d == nil || d.ID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "descriptor must have an id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[d.ID]; ok {
		return errors.New(errors.ErrCodeInvalidInput, "duplicate resource id %q", d.ID)
	}
	c.items[d.ID] = d
	return nil
}

// Get implements Catalog.
func (c *MemoryCatalog) Get(id string) (*Descriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.items[id]
	if !ok {
		return nil, &errors.NotFoundError{ID: id}
	}
	return d, nil
}

// IDs returns all ids in ascending order.
func (c *MemoryCatalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of descriptors.
func (c *MemoryCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Filter returns descriptors of type t sorted by id. An empty t matches all.
func (c *MemoryCatalog) Filter(t Type) []*Descriptor {
	var out []*Descriptor
	for _, id := range c.IDs() {
		d, _ := c.Get(id)
		if t == "" || strings.EqualFold(string(d.Type), string(t)) {
			out = append(out, d)
		}
	}
	return out
}
