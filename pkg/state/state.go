// Package state persists which resources are installed under a base
// directory.
//
// The state lives in a TOML file at <base>/.stackpack/installed.toml and is
// rewritten atomically on every [State.Save]:
//
//	[[resources]]
//	id = "reviewer"
//	type = "agent"
//	version = "1.2.0"
//	path = "agents/reviewer.md"
//	sha256 = "9f86d08..."
//	installed_at = 2026-01-02T15:04:05Z
//
// The install engine itself keeps no state; the CLI loads the file before a
// batch and applies the batch summary afterwards.
package state

import (
	"bytes"
	"maps"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/stackpack/pkg/errors"
	"github.com/matzehuels/stackpack/pkg/fsutil"
	"github.com/matzehuels/stackpack/pkg/install"
	"github.com/matzehuels/stackpack/pkg/resolve"
	"github.com/matzehuels/stackpack/pkg/resource"
)

// File is the state file location relative to the base directory.
const File = ".stackpack/installed.toml"

// Entry describes one installed resource.
type Entry struct {
	ID          string        `toml:"id"`
	Type        resource.Type `toml:"type"`
	Version     string        `toml:"version,omitempty"`
	Path        string        `toml:"path"` // relative to the base directory, slash separated
	SHA256      string        `toml:"sha256,omitempty"`
	InstalledAt time.Time     `toml:"installed_at"`
}

type document struct {
	Resources []Entry `toml:"resources"`
}

// State is the set of installed resources. It is safe for concurrent use.
type State struct {
	w       *fsutil.AtomicWriter
	file    string
	mu      sync.RWMutex
	entries map[string]Entry
}

// Load reads the default state file under w.Base. A missing file yields
// an empty state.
func Load(w *fsutil.AtomicWriter) (*State, error) {
	return LoadFile(w, File)
}

// LoadFile is Load with a state file location relative to w.Base.
func LoadFile(w *fsutil.AtomicWriter, file string) (*State, error) {
	s := &State{w: w, file: file, entries: make(map[string]Entry)}
	data, ok, err := w.Read(file)
	if err != nil {
		return nil, err
	}
	if !ok || len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}

	var doc document
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "parse %s", file)
	}
	for _, e := range doc.Resources {
		if e.ID == "" {
			continue
		}
		s.entries[e.ID] = e
	}
	return s, nil
}

// Save writes the state file atomically.
func (s *State) Save() error {
	doc := document{Resources: s.Entries()}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "encode state")
	}
	_, err := s.w.Write(s.file, buf.Bytes())
	return err
}

// Put records or replaces an entry.
func (s *State) Put(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = e
}

// Forget removes id.
func (s *State) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Get returns the entry for id.
func (s *State) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// Entries returns all entries sorted by id.
func (s *State) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, id := range slices.Sorted(maps.Keys(s.entries)) {
		out = append(out, s.entries[id])
	}
	return out
}

// Len returns the number of entries.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// InstalledSet returns the ids whose recorded file is still on disk.
// Entries whose file was deleted by hand are treated as not installed.
func (s *State) InstalledSet() resolve.Set {
	set := resolve.NewSet()
	for _, e := range s.Entries() {
		if s.w.Exists(e.Path) {
			set[e.ID] = struct{}{}
		}
	}
	return set
}

// Apply records every resource the batch installed. Rolled-back and
// failed resources leave existing entries untouched.
func (s *State) Apply(plan *resolve.Plan, sum *install.Summary) {
	now := time.Now().UTC().Truncate(time.Second)
	for _, r := range sum.Results {
		if r.Status != install.StatusInstalled {
			continue
		}
		e := Entry{ID: r.ID, Path: s.rel(r.Path), SHA256: r.SHA256, InstalledAt: now}
		if d := plan.Descriptor(r.ID); d != nil {
			e.Type = d.Type
			e.Version = d.Version
			if e.Path == "" {
				e.Path = d.Path()
			}
		}
		s.Put(e)
	}
}

func (s *State) rel(abs string) string {
	if abs == "" {
		return ""
	}
	r, err := filepath.Rel(s.w.Base, abs)
	if err != nil {
		return ""
	}
	return filepath.ToSlash(r)
}
