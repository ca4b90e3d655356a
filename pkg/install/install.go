package install

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/matzehuels/stackpack/pkg/fetch"
	"github.com/matzehuels/stackpack/pkg/observability"
	"github.com/matzehuels/stackpack/pkg/resolve"
)

// DefaultConcurrency is the pool size used when Options.Concurrency is unset.
const DefaultConcurrency = 5

// Status is the terminal state of one resource in a batch.
type Status string

const (
	StatusInstalled        Status = "installed"
	StatusAlreadyInstalled Status = "already-installed"
	StatusFailed           Status = "failed"
	StatusDependencyFailed Status = "dependency-failed"
	StatusCanceled         Status = "canceled"
	StatusRolledBack       Status = "rolled-back"
)

// Succeeded reports whether s leaves the resource in place.
func (s Status) Succeeded() bool {
	return s == StatusInstalled || s == StatusAlreadyInstalled
}

// Fetcher downloads resource content. *fetch.Downloader implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) ([]byte, error)
}

// Writer places content under the install base directory.
// *fsutil.AtomicWriter implements it.
type Writer interface {
	Write(rel string, data []byte) (string, error)
	Read(rel string) ([]byte, bool, error)
	Remove(path string) error
	// NewDirs lists the directories a write to rel would create.
	NewDirs(rel string) ([]string, error)
	// RemoveDir removes an empty directory; non-empty ones are kept.
	RemoveDir(path string) error
}

// Result is the outcome for one resource.
type Result struct {
	ID       string
	Status   Status
	Success  bool
	Skipped  bool
	Path     string // absolute path written, empty unless installed
	SHA256   string // digest of the written content
	Size     int
	Err      error
	Duration time.Duration
}

// DependencyError is the error of a dependency-failed result.
type DependencyError struct {
	ID         string
	Dependency string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s not attempted: dependency %s failed", e.ID, e.Dependency)
}

// Options controls one call to Install.
type Options struct {
	// Concurrency bounds how many resources are fetched and written at
	// once. Zero means DefaultConcurrency; 1 installs sequentially.
	Concurrency int

	// RollbackOnError reverts every file written by the batch if any
	// resource ends in a non-success status.
	RollbackOnError bool

	// SkipInstalled skips resources the Registry already holds.
	SkipInstalled bool

	// Deadline bounds the whole batch. Zero means no limit.
	Deadline time.Duration

	// Progress, when set, observes each terminal status.
	Progress ProgressFunc

	// Registry records successful installs. Defaults to a MemoryRegistry
	// seeded with the plan's already-installed ids.
	Registry Registry

	// BatchID names the batch. Defaults to a random UUID.
	BatchID string

	Logger *log.Logger
}

// Summary describes a finished batch. Total equals
// Succeeded + Skipped + Failed + RolledBack.
type Summary struct {
	BatchID    string
	Total      int
	Succeeded  int // newly installed and kept
	Skipped    int // already installed
	Failed     int // failed, dependency-failed or canceled
	RolledBack int
	Canceled   bool
	Started    time.Time
	Duration   time.Duration

	// Results holds one entry per resource in plan order.
	Results []Result
}

// OK reports whether every resource is in place.
func (s *Summary) OK() bool {
	return s.Failed == 0 && s.RolledBack == 0 && !s.Canceled
}

// Result returns the result for id.
func (s *Summary) Result(id string) (Result, bool) {
	for _, r := range s.Results {
		if r.ID == id {
			return r, true
		}
	}
	return Result{}, false
}

// Count returns how many results have status.
func (s *Summary) Count(status Status) int {
	n := 0
	for _, r := range s.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Err returns the first error among results whose status is failed, or
// the first error of any kind if none failed outright.
func (s *Summary) Err() error {
	var first error
	for _, r := range s.Results {
		if r.Err == nil {
			continue
		}
		if r.Status == StatusFailed {
			return r.Err
		}
		if first == nil {
			first = r.Err
		}
	}
	return first
}

// Installer runs install plans. It holds no per-batch state and may run
// several batches concurrently.
type Installer struct {
	Fetcher Fetcher
	Writer  Writer
	Logger  *log.Logger
}

// New returns an Installer. A nil logger discards output.
func New(f Fetcher, w Writer, logger *log.Logger) *Installer {
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Installer{Fetcher: f, Writer: w, Logger: logger}
}

// Install executes plan and returns the summary. It does not return an
// error: every failure is recorded in the result of the resource it
// belongs to.
func (inst *Installer) Install(ctx context.Context, plan *resolve.Plan, opts Options) *Summary {
	start := time.Now()
	opts = inst.withDefaults(plan, opts)
	logger := opts.Logger.With("batch", opts.BatchID)

	b := newBatch(ctx, inst, plan, opts, logger)
	hooks := observability.Install()
	hooks.OnBatchStart(ctx, opts.BatchID, len(b.order))
	logger.Info("starting install batch", "resources", len(b.order), "concurrency", opts.Concurrency)

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if opts.Deadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Deadline)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	b.run(runCtx)
	canceled := runCtx.Err() != nil && b.anyCanceled()
	cancel()

	rolledBack := false
	if opts.RollbackOnError && b.anyFailed() {
		files := b.rollback()
		rolledBack = true
		hooks.OnRollback(ctx, opts.BatchID, files)
	}
	b.progress.close()

	s := b.summary(start, rolledBack, canceled)
	hooks.OnBatchComplete(ctx, s.BatchID, s.Succeeded, s.Failed, s.Skipped, s.Duration)
	logger.Info("install batch finished",
		"succeeded", s.Succeeded,
		"skipped", s.Skipped,
		"failed", s.Failed,
		"rolled_back", s.RolledBack,
		"duration", s.Duration.Round(time.Millisecond))
	return s
}

func (inst *Installer) withDefaults(plan *resolve.Plan, opts Options) Options {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Registry == nil {
		var ids []string
		if plan != nil {
			ids = plan.Installed
		}
		opts.Registry = NewMemoryRegistry(ids...)
	}
	if opts.BatchID == "" {
		opts.BatchID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = inst.Logger
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return opts
}
