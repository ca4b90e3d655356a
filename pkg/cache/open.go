package cache

import (
	"context"
	"fmt"
)

// Backend names accepted by [Open].
const (
	BackendFile  = "file"
	BackendRedis = "redis"
	BackendNone  = "none"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	Dir     string
	Redis   RedisConfig
}

// Open returns the cache described by opts. An empty backend means none.
func Open(ctx context.Context, opts Options) (Cache, error) {
	switch opts.Backend {
	case "", BackendNone:
		return NewNullCache(), nil
	case BackendFile:
		c, err := NewFileCache(opts.Dir)
		if err != nil {
			return nil, err
		}
		return c, nil
	case BackendRedis:
		c, err := NewRedisCache(ctx, opts.Redis)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
