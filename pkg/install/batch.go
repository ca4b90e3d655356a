package install

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/stackpack/pkg/cache"
	"github.com/matzehuels/stackpack/pkg/errors"
	"github.com/matzehuels/stackpack/pkg/fetch"
	"github.com/matzehuels/stackpack/pkg/observability"
	"github.com/matzehuels/stackpack/pkg/resolve"
)

// batch is the state of one Install call. The maps and the ready queue
// belong to the scheduling goroutine; workers only touch fields guarded by
// mu.
type batch struct {
	ctx    context.Context // parent context, for hooks
	inst   *Installer
	plan   *resolve.Plan
	opts   Options
	logger *log.Logger

	order   []string
	index   map[string]int
	pending map[string]int
	status  map[string]Status
	started map[string]bool
	ready   []string

	mu        sync.Mutex
	results   []Result
	written   []written
	dirs      []string // directories missing before a write
	completed int

	progress *dispatcher
}

// written records one file the batch wrote, with what it replaced.
type written struct {
	id         string
	rel        string
	path       string
	prev       []byte
	existed    bool
	registered bool
}

func newBatch(ctx context.Context, inst *Installer, plan *resolve.Plan, opts Options, logger *log.Logger) *batch {
	b := &batch{
		ctx:     ctx,
		inst:    inst,
		plan:    plan,
		opts:    opts,
		logger:  logger,
		index:   make(map[string]int),
		pending: make(map[string]int),
		status:  make(map[string]Status),
		started: make(map[string]bool),
	}
	if plan != nil {
		for _, id := range plan.Order {
			if _, dup := b.index[id]; dup {
				continue
			}
			b.index[id] = len(b.order)
			b.order = append(b.order, id)
		}
	}
	for _, id := range b.order {
		n := 0
		for _, dep := range b.plan.Graph.DAG.Children(id) {
			if _, ok := b.index[dep]; ok {
				n++
			}
		}
		b.pending[id] = n
	}
	b.progress = newDispatcher(opts.Progress, len(b.order), len(b.order), logger)
	return b
}

// run schedules every resource and returns once each has a terminal status.
func (b *batch) run(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(b.opts.Concurrency)
	done := make(chan Result, len(b.order))
	inflight := 0

	for _, id := range b.order {
		if b.pending[id] == 0 {
			b.ready = append(b.ready, id)
		}
	}

	for {
		for len(b.ready) > 0 && ctx.Err() == nil {
			id := b.ready[0]
			b.ready = b.ready[1:]
			if b.terminal(id) || b.started[id] {
				continue
			}
			if dep := b.failedDependency(id); dep != "" {
				b.finish(Result{ID: id, Status: StatusDependencyFailed, Err: &DependencyError{ID: id, Dependency: dep}})
				continue
			}
			if b.opts.SkipInstalled && b.opts.Registry.Has(id) {
				b.finish(Result{ID: id, Status: StatusAlreadyInstalled, Success: true, Skipped: true})
				continue
			}
			b.started[id] = true
			inflight++
			g.Go(func() error {
				done <- b.installOne(ctx, id)
				return nil
			})
		}
		if inflight == 0 {
			break
		}
		r := <-done
		inflight--
		b.finish(r)
	}
	_ = g.Wait()

	for _, id := range b.order {
		if !b.terminal(id) {
			b.finish(Result{ID: id, Status: StatusCanceled, Err: errors.Wrap(errors.ErrCodeCanceled, ctx.Err(), "%s not started", id)})
		}
	}
}

func (b *batch) terminal(id string) bool {
	_, ok := b.status[id]
	return ok
}

// failedDependency returns a required dependency of id that did not end
// in a success status.
func (b *batch) failedDependency(id string) string {
	for _, dep := range b.plan.Graph.DAG.Children(id) {
		st, ok := b.status[dep]
		if ok && !st.Succeeded() && b.plan.Graph.RequiredBy(id, dep) {
			return dep
		}
	}
	return ""
}

// finish records a terminal result, releases dependents whose last
// dependency this was, and cascades failures along required edges.
func (b *batch) finish(r Result) {
	r.Success = r.Status.Succeeded()
	b.status[r.ID] = r.Status

	b.mu.Lock()
	b.results = append(b.results, r)
	b.completed++
	n := b.completed
	b.mu.Unlock()

	b.progress.send(r.ID, n, r.Status)
	observability.Install().OnResourceComplete(b.ctx, b.opts.BatchID, r.ID, string(r.Status), r.Duration, r.Err)
	b.log(r)

	for _, p := range b.plan.Graph.DAG.Parents(r.ID) {
		if _, ok := b.pending[p]; !ok {
			continue
		}
		b.pending[p]--
		if b.pending[p] == 0 && !b.terminal(p) {
			b.ready = append(b.ready, p)
		}
	}

	if r.Status == StatusFailed || r.Status == StatusDependencyFailed {
		for _, p := range b.plan.Graph.DAG.Parents(r.ID) {
			if _, ok := b.index[p]; !ok || b.terminal(p) || b.started[p] {
				continue
			}
			if b.plan.Graph.RequiredBy(p, r.ID) {
				b.finish(Result{ID: p, Status: StatusDependencyFailed, Err: &DependencyError{ID: p, Dependency: r.ID}})
			}
		}
	}
}

func (b *batch) log(r Result) {
	switch r.Status {
	case StatusInstalled:
		b.logger.Debug("installed", "id", r.ID, "path", r.Path, "duration", r.Duration)
	case StatusAlreadyInstalled:
		b.logger.Debug("already installed", "id", r.ID)
	case StatusFailed:
		b.logger.Error("install failed", "id", r.ID, "err", r.Err)
	case StatusDependencyFailed:
		b.logger.Warn("skipping dependent of failed resource", "id", r.ID, "err", r.Err)
	case StatusCanceled:
		b.logger.Warn("canceled", "id", r.ID)
	}
}

// installOne fetches and writes a single resource. It runs on the pool.
func (b *batch) installOne(ctx context.Context, id string) Result {
	start := time.Now()
	fail := func(err error) Result {
		st := StatusFailed
		if ctx.Err() != nil && errors.Is(err, errors.ErrCodeCanceled) {
			st = StatusCanceled
		}
		return Result{ID: id, Status: st, Err: err, Duration: time.Since(start)}
	}

	d := b.plan.Descriptor(id)
	if d == nil {
		return fail(errors.New(errors.ErrCodeInternal, "no descriptor for %s", id))
	}

	data, err := b.inst.Fetcher.Fetch(ctx, fetch.Request{URL: d.Source.URL, SHA256: d.Source.SHA256})
	if err != nil {
		return fail(fmt.Errorf("install %s: %w", id, err))
	}
	if err := ctx.Err(); err != nil {
		return fail(errors.Wrap(errors.ErrCodeCanceled, err, "install %s", id))
	}

	w := written{id: id, rel: d.Path(), registered: b.opts.Registry.Has(id)}
	if b.opts.RollbackOnError {
		if w.prev, w.existed, err = b.inst.Writer.Read(w.rel); err != nil {
			return fail(fmt.Errorf("install %s: snapshot: %w", id, err))
		}
		dirs, err := b.inst.Writer.NewDirs(w.rel)
		if err != nil {
			return fail(fmt.Errorf("install %s: snapshot: %w", id, err))
		}
		b.mu.Lock()
		b.dirs = append(b.dirs, dirs...)
		b.mu.Unlock()
	}
	if w.path, err = b.inst.Writer.Write(w.rel, data); err != nil {
		return fail(fmt.Errorf("install %s: %w", id, err))
	}

	b.mu.Lock()
	b.written = append(b.written, w)
	b.mu.Unlock()
	b.opts.Registry.Record(id, w.path)

	return Result{
		ID:       id,
		Status:   StatusInstalled,
		Path:     w.path,
		SHA256:   cache.Hash(data),
		Size:     len(data),
		Duration: time.Since(start),
	}
}

func (b *batch) anyFailed() bool {
	for _, st := range b.status {
		if !st.Succeeded() {
			return true
		}
	}
	return false
}

func (b *batch) anyCanceled() bool {
	for _, st := range b.status {
		if st == StatusCanceled {
			return true
		}
	}
	return false
}

// rollback reverts every file written by the batch, newest first, then
// removes the directories its writes created, deepest first. It returns
// how many files were reverted. Errors are logged and skipped.
func (b *batch) rollback() int {
	b.mu.Lock()
	files := slices.Clone(b.written)
	dirs := slices.Clone(b.dirs)
	b.mu.Unlock()

	b.logger.Warn("rolling back install batch", "files", len(files))
	reverted := 0
	for i := len(files) - 1; i >= 0; i-- {
		w := files[i]
		var err error
		if w.existed {
			_, err = b.inst.Writer.Write(w.rel, w.prev)
		} else {
			err = b.inst.Writer.Remove(w.path)
		}
		if err != nil {
			b.logger.Error("rollback failed", "id", w.id, "path", w.path, "err", err)
			continue
		}
		if !w.registered {
			b.opts.Registry.Forget(w.id)
		}
		reverted++
	}

	slices.SortFunc(dirs, func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	for _, dir := range slices.Compact(dirs) {
		if err := b.inst.Writer.RemoveDir(dir); err != nil {
			b.logger.Error("rollback failed", "dir", dir, "err", err)
		}
	}
	return reverted
}

// summary assembles results in plan order. Rolled-back installs are
// reported as rolled-back copies; the recorded results stay untouched.
func (b *batch) summary(start time.Time, rolledBack, canceled bool) *Summary {
	b.mu.Lock()
	results := slices.Clone(b.results)
	b.mu.Unlock()

	slices.SortFunc(results, func(x, y Result) int { return b.index[x.ID] - b.index[y.ID] })

	s := &Summary{
		BatchID:  b.opts.BatchID,
		Total:    len(results),
		Canceled: canceled,
		Started:  start,
		Duration: time.Since(start),
		Results:  results,
	}
	for i := range s.Results {
		r := &s.Results[i]
		if rolledBack && r.Status == StatusInstalled {
			r.Status = StatusRolledBack
			r.Success = false
		}
		switch r.Status {
		case StatusInstalled:
			s.Succeeded++
		case StatusAlreadyInstalled:
			s.Skipped++
		case StatusRolledBack:
			s.RolledBack++
		default:
			s.Failed++
		}
	}
	return s
}
