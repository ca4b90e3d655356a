// Package cache provides byte caches for downloaded resource content.
//
// # Overview
//
// The downloader stores verified resource bytes under a content key so a
// repeated install of the same checksum skips the network. Three backends
// implement [Cache]:
//
//   - [FileCache]: entries as files under a directory, for the CLI
//   - [RedisCache]: a shared Redis instance, for teams and CI runners
//   - [NullCache]: caching disabled
//
// Keys are produced by a [Keyer] so callers never build them by hand.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque byte values with an optional TTL.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the value for key. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// Default TTLs.
const (
	// TTLBlob applies to content addressed by checksum. Content under a
	// checksum key never changes, so the TTL only bounds disk usage.
	TTLBlob = 30 * 24 * time.Hour
)
