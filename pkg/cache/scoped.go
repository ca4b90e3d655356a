package cache

import "strings"

// Keyer produces cache keys.
type Keyer interface {
	// BlobKey addresses verified content by its SHA-256 checksum.
	BlobKey(sha256 string) string

	// URLKey addresses content by source URL, for resources published
	// without a checksum.
	URLKey(url string) string
}

// DefaultKeyer is the standard Keyer.
type DefaultKeyer struct{}

// NewDefaultKeyer returns a DefaultKeyer.
func NewDefaultKeyer() Keyer { return DefaultKeyer{} }

// BlobKey implements Keyer. Checksums are case-normalized.
func (DefaultKeyer) BlobKey(sha256 string) string {
	return "blob:" + strings.ToLower(sha256)
}

// URLKey implements Keyer.
func (DefaultKeyer) URLKey(url string) string {
	return hashKey("url", url)
}

// ScopedKeyer wraps a Keyer with a prefix so several installations can
// share one backend without colliding, e.g. one Redis for many projects.
//
//	keyer := NewScopedKeyer(NewDefaultKeyer(), "stackpack:")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// BlobKey implements Keyer.
func (k *ScopedKeyer) BlobKey(sha256 string) string {
	return k.prefix + k.inner.BlobKey(sha256)
}

// URLKey implements Keyer.
func (k *ScopedKeyer) URLKey(url string) string {
	return k.prefix + k.inner.URLKey(url)
}
