package resource

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/matzehuels/stackpack/pkg/errors"
)

// Format is a catalog file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// catalogFile is the on-disk catalog layout:
//
//	resources:
//	  - id: reviewer
//	    type: agent
//	    source: {url: https://..., sha256: ...}
//	    dependencies: {required: [lint]}
type catalogFile struct {
	Resources []*Descriptor `yaml:"resources" toml:"resources"`
}

// FormatFromPath infers the encoding from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", errors.New(errors.ErrCodeInvalidInput, "unsupported catalog format: %s", path)
	}
}

// LoadFile reads a YAML or TOML catalog from path.
func LoadFile(path string) (*MemoryCatalog, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeIO, err, "read catalog %s", path)
	}
	c, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a catalog. Descriptors are validated as they are loaded
// so a bad entry is reported against the file, not at install time.
func Parse(data []byte, format Format) (*MemoryCatalog, error) {
	var f catalogFile
	if len(bytes.TrimSpace(data)) == 0 {
		return NewMemoryCatalog()
	}
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "decode yaml")
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "decode toml")
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, errors.New(errors.ErrCodeInvalidInput, "unknown key %q", undecoded[0].String())
		}
	default:
		return nil, errors.New(errors.ErrCodeInvalidInput, "unsupported catalog format %q", format)
	}

	descs := make([]*Descriptor, 0, len(f.Resources))
	for _, d := range f.Resources {
		if d == nil {
			continue
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return NewMemoryCatalog(descs...)
}
