// Package resource defines installable resources and the catalog that
// supplies them.
//
// A [Descriptor] is immutable once loaded. The catalog owns descriptors and
// every other package refers to them by id or by pointer.
package resource

import (
	"fmt"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/matzehuels/stackpack/pkg/errors"
)

// Type is the kind of resource being installed.
type Type string

const (
	TypeAgent    Type = "agent"
	TypeCommand  Type = "command"
	TypeHook     Type = "hook"
	TypeTemplate Type = "template"
	TypeMCP      Type = "mcp"
)

// Types lists every supported resource type.
var Types = []Type{TypeAgent, TypeCommand, TypeHook, TypeTemplate, TypeMCP}

// Valid reports whether t is a known type.
func (t Type) Valid() bool { return slices.Contains(Types, t) }

// Dir returns the directory resources of this type install into.
func (t Type) Dir() string { return string(t) + "s" }

// defaultExt returns the file extension used when the source URL has none.
func (t Type) defaultExt() string {
	switch t {
	case TypeHook, TypeMCP:
		return ".json"
	default:
		return ".md"
	}
}

// Source locates a resource's content.
type Source struct {
	URL    string `yaml:"url" toml:"url" json:"url"`
	SHA256 string `yaml:"sha256,omitempty" toml:"sha256,omitempty" json:"sha256,omitempty"`
	Size   int64  `yaml:"size,omitempty" toml:"size,omitempty" json:"size,omitempty"`
}

// Dependencies lists other resources by id. Required entries must exist and
// install first; recommended entries are optional.
type Dependencies struct {
	Required    []string `yaml:"required,omitempty" toml:"required,omitempty" json:"required,omitempty"`
	Recommended []string `yaml:"recommended,omitempty" toml:"recommended,omitempty" json:"recommended,omitempty"`
}

// Descriptor describes one installable resource.
type Descriptor struct {
	ID           string       `yaml:"id" toml:"id" json:"id"`
	Type         Type         `yaml:"type" toml:"type" json:"type"`
	Version      string       `yaml:"version,omitempty" toml:"version,omitempty" json:"version,omitempty"`
	Description  string       `yaml:"description,omitempty" toml:"description,omitempty" json:"description,omitempty"`
	Source       Source       `yaml:"source" toml:"source" json:"source"`
	InstallPath  string       `yaml:"install_path,omitempty" toml:"install_path,omitempty" json:"install_path,omitempty"`
	Dependencies Dependencies `yaml:"dependencies,omitempty" toml:"dependencies,omitempty" json:"dependencies,omitempty"`
}

// Path returns the install path relative to the base directory. When
// InstallPath is empty it is <type>s/<id><ext>, with ext taken from the
// source URL path or defaulted by type.
func (d *Descriptor) Path() string {
	if d.InstallPath != "" {
		return d.InstallPath
	}
	return path.Join(d.Type.Dir(), d.ID+d.ext())
}

func (d *Descriptor) ext() string {
	if u, err := url.Parse(d.Source.URL); err == nil {
		if ext := path.Ext(u.Path); ext != "" && ext != "." {
			return ext
		}
	}
	return d.Type.defaultExt()
}

// Validate checks the descriptor before anything is downloaded or written.
// Source URLs that are not https and install paths that could escape the
// base directory are security errors; everything else malformed is an
// input error.
func (d *Descriptor) Validate() error {
	if err := errors.ValidateResourceID(d.ID); err != nil {
		return err
	}
	if !d.Type.Valid() {
		return errors.New(errors.ErrCodeInvalidInput, "resource %q: unknown type %q", d.ID, d.Type)
	}
	if d.Version != "" {
		if _, err := semver.NewVersion(strings.TrimPrefix(d.Version, "v")); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidInput, err, "resource %q: invalid version %q", d.ID, d.Version)
		}
	}
	if err := errors.ValidateURL(d.Source.URL); err != nil {
		return fmt.Errorf("resource %q: %w", d.ID, err)
	}
	if err := errors.ValidateSHA256(d.Source.SHA256); err != nil {
		return fmt.Errorf("resource %q: %w", d.ID, err)
	}
	if d.Source.Size < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "resource %q: negative size", d.ID)
	}
	if err := errors.ValidatePath(d.Path()); err != nil {
		return fmt.Errorf("resource %q: %w", d.ID, err)
	}
	for _, dep := range slices.Concat(d.Dependencies.Required, d.Dependencies.Recommended) {
		if err := errors.ValidateResourceID(dep); err != nil {
			return fmt.Errorf("resource %q: dependency: %w", d.ID, err)
		}
	}
	return nil
}
