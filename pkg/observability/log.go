package observability

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// LogHooks implements every hook interface by writing debug-level
// structured log lines. The CLI registers it when --verbose is set.
type LogHooks struct {
	Logger *log.Logger
}

// NewLogHooks returns hooks writing to logger, or to log.Default() if nil.
func NewLogHooks(logger *log.Logger) *LogHooks {
	if logger == nil {
		logger = log.Default()
	}
	return &LogHooks{Logger: logger}
}

// Register installs h as the install, cache and HTTP hooks.
func (h *LogHooks) Register() {
	SetInstallHooks(h)
	SetCacheHooks(h)
	SetHTTPHooks(h)
}

func (h *LogHooks) OnBatchStart(_ context.Context, batchID string, total int) {
	h.Logger.Debug("batch started", "batch", batchID, "total", total)
}

func (h *LogHooks) OnResourceComplete(_ context.Context, batchID, id, status string, d time.Duration, err error) {
	if err != nil {
		h.Logger.Debug("resource finished", "batch", batchID, "id", id, "status", status, "duration", d, "err", err)
		return
	}
	h.Logger.Debug("resource finished", "batch", batchID, "id", id, "status", status, "duration", d)
}

func (h *LogHooks) OnRollback(_ context.Context, batchID string, files int) {
	h.Logger.Debug("batch rolled back", "batch", batchID, "files", files)
}

func (h *LogHooks) OnBatchComplete(_ context.Context, batchID string, succeeded, failed, skipped int, d time.Duration) {
	h.Logger.Debug("batch complete", "batch", batchID,
		"succeeded", succeeded, "failed", failed, "skipped", skipped, "duration", d)
}

func (h *LogHooks) OnCacheHit(_ context.Context, keyType string) {
	h.Logger.Debug("cache hit", "type", keyType)
}

func (h *LogHooks) OnCacheMiss(_ context.Context, keyType string) {
	h.Logger.Debug("cache miss", "type", keyType)
}

func (h *LogHooks) OnCacheSet(_ context.Context, keyType string, size int) {
	h.Logger.Debug("cache set", "type", keyType, "bytes", size)
}

func (h *LogHooks) OnRequest(_ context.Context, method, host, path string) {
	h.Logger.Debug("http request", "method", method, "host", host, "path", path)
}

func (h *LogHooks) OnResponse(_ context.Context, method, host, path string, status int, d time.Duration) {
	h.Logger.Debug("http response", "method", method, "host", host, "path", path, "status", status, "duration", d)
}

func (h *LogHooks) OnError(_ context.Context, method, host, path string, err error) {
	h.Logger.Debug("http error", "method", method, "host", host, "path", path, "err", err)
}

func (h *LogHooks) OnRetry(_ context.Context, host, path string, attempt int, wait time.Duration) {
	h.Logger.Debug("http retry", "host", host, "path", path, "attempt", attempt, "wait", wait)
}

var (
	_ InstallHooks = (*LogHooks)(nil)
	_ CacheHooks   = (*LogHooks)(nil)
	_ HTTPHooks    = (*LogHooks)(nil)
)
