// Package observability provides hooks for metrics, tracing, and logging.
//
// This package enables optional instrumentation without adding hard dependencies
// on specific observability backends. Consumers can register hooks at startup
// to receive events about install batches, cache operations, and downloads.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Allow registration of custom implementations at startup
//
// Hooks are registered by main, not by libraries, so library packages
// never import a metrics or tracing framework.
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.SetInstallHooks(&myInstallHooks{})
//	    observability.SetCacheHooks(&myCacheHooks{})
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Install().OnBatchStart(ctx, batchID, total)
//	// ... install ...
//	observability.Install().OnBatchComplete(ctx, batchID, succeeded, failed, skipped, duration)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Install Hooks
// =============================================================================

// InstallHooks receives events from the batch installer.
type InstallHooks interface {
	// OnBatchStart is called once before any resource is scheduled.
	OnBatchStart(ctx context.Context, batchID string, total int)

	// OnResourceComplete is called when a resource reaches a terminal status.
	OnResourceComplete(ctx context.Context, batchID, id, status string, duration time.Duration, err error)

	// OnRollback is called after a batch rollback with the number of files
	// removed or restored.
	OnRollback(ctx context.Context, batchID string, files int)

	// OnBatchComplete is called once after every resource is terminal.
	OnBatchComplete(ctx context.Context, batchID string, succeeded, failed, skipped int, duration time.Duration)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from cache operations.
type CacheHooks interface {
	// OnCacheHit records a cache hit.
	OnCacheHit(ctx context.Context, keyType string)

	// OnCacheMiss records a cache miss.
	OnCacheMiss(ctx context.Context, keyType string)

	// OnCacheSet records a cache write.
	OnCacheSet(ctx context.Context, keyType string, size int)
}

// =============================================================================
// HTTP Hooks
// =============================================================================

// HTTPHooks receives events from HTTP client operations.
type HTTPHooks interface {
	// OnRequest records an outgoing HTTP request.
	OnRequest(ctx context.Context, method, host, path string)

	// OnResponse records an HTTP response.
	OnResponse(ctx context.Context, method, host, path string, statusCode int, duration time.Duration)

	// OnError records an HTTP error (network failure, timeout).
	OnError(ctx context.Context, method, host, path string, err error)

	// OnRetry records a scheduled retry.
	OnRetry(ctx context.Context, host, path string, attempt int, wait time.Duration)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopInstallHooks is a no-op implementation of InstallHooks.
type NoopInstallHooks struct{}

func (NoopInstallHooks) OnBatchStart(context.Context, string, int) {}
func (NoopInstallHooks) OnResourceComplete(context.Context, string, string, string, time.Duration, error) {
}
func (NoopInstallHooks) OnRollback(context.Context, string, int) {}
func (NoopInstallHooks) OnBatchComplete(context.Context, string, int, int, int, time.Duration) {
}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}

// NoopHTTPHooks is a no-op implementation of HTTPHooks.
type NoopHTTPHooks struct{}

func (NoopHTTPHooks) OnRequest(context.Context, string, string, string)                      {}
func (NoopHTTPHooks) OnResponse(context.Context, string, string, string, int, time.Duration) {}
func (NoopHTTPHooks) OnError(context.Context, string, string, string, error)                 {}
func (NoopHTTPHooks) OnRetry(context.Context, string, string, int, time.Duration)            {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	installHooks InstallHooks = NoopInstallHooks{}
	cacheHooks   CacheHooks   = NoopCacheHooks{}
	httpHooks    HTTPHooks    = NoopHTTPHooks{}
	hooksMu      sync.RWMutex
)

// SetInstallHooks registers custom install hooks.
// This should be called once at application startup before any install.
func SetInstallHooks(h InstallHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		installHooks = h
	}
}

// SetCacheHooks registers custom cache hooks.
// This should be called once at application startup before any cache operations.
func SetCacheHooks(h CacheHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		cacheHooks = h
	}
}

// SetHTTPHooks registers custom HTTP hooks.
// This should be called once at application startup before any HTTP operations.
func SetHTTPHooks(h HTTPHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		httpHooks = h
	}
}

// Install returns the registered install hooks.
func Install() InstallHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return installHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// HTTP returns the registered HTTP hooks.
func HTTP() HTTPHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return httpHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	installHooks = NoopInstallHooks{}
	cacheHooks = NoopCacheHooks{}
	httpHooks = NoopHTTPHooks{}
}
