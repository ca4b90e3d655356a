package install

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matzehuels/stackpack/pkg/errors"
	"github.com/matzehuels/stackpack/pkg/fetch"
	"github.com/matzehuels/stackpack/pkg/fsutil"
	"github.com/matzehuels/stackpack/pkg/observability"
	"github.com/matzehuels/stackpack/pkg/resolve"
	"github.com/matzehuels/stackpack/pkg/resource"
)

func urlOf(id string) string { return "https://example.com/" + id + ".md" }

func idOf(url string) string {
	return strings.TrimSuffix(strings.TrimPrefix(url, "https://example.com/"), ".md")
}

func desc(id string, required ...string) *resource.Descriptor {
	return &resource.Descriptor{
		ID:           id,
		Type:         resource.TypeAgent,
		Source:       resource.Source{URL: urlOf(id)},
		Dependencies: resource.Dependencies{Required: required},
	}
}

// fakeFetcher serves "content of <id>" for every URL unless told to fail.
type fakeFetcher struct {
	delay   time.Duration
	fail    map[string]error // by id
	onFetch func(id string)

	mu    sync.Mutex
	calls map[string]int

	active atomic.Int32
	peak   atomic.Int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{fail: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req fetch.Request) ([]byte, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	id := idOf(req.URL)
	f.mu.Lock()
	f.calls[id]++
	f.mu.Unlock()
	if f.onFetch != nil {
		f.onFetch(id)
	}

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(errors.ErrCodeCanceled, ctx.Err(), "fetch %s", id)
		case <-time.After(f.delay):
		}
	}
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	return []byte("content of " + id), nil
}

func (f *fakeFetcher) Calls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type fixture struct {
	fetcher *fakeFetcher
	writer  *fsutil.AtomicWriter
	inst    *Installer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	w, err := fsutil.NewAtomicWriter(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	f := newFakeFetcher()
	return &fixture{fetcher: f, writer: w, inst: New(f, w, nil)}
}

func (fx *fixture) file(id string) string {
	return filepath.Join(fx.writer.Base, "agents", id+".md")
}

func plan(t *testing.T, roots []string, installed resolve.InstalledSet, descs ...*resource.Descriptor) *resolve.Plan {
	t.Helper()
	c, err := resource.NewMemoryCatalog(descs...)
	if err != nil {
		t.Fatal(err)
	}
	r := &resolve.Resolver{Catalog: c, IncludeRecommended: true}
	p, err := r.Resolve(roots, installed)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func statuses(s *Summary) map[string]Status {
	m := make(map[string]Status, len(s.Results))
	for _, r := range s.Results {
		m[r.ID] = r.Status
	}
	return m
}

func TestInstall_Diamond(t *testing.T) {
	fx := newFixture(t)
	p := plan(t, []string{"D"}, nil, desc("A"), desc("B", "A"), desc("C", "A"), desc("D", "B", "C"))

	var mu sync.Mutex
	var done []string
	s := fx.inst.Install(context.Background(), p, Options{
		Progress: func(id string, _, _ int, _ Status) {
			mu.Lock()
			done = append(done, id)
			mu.Unlock()
		},
	})

	if !s.OK() || s.Succeeded != 4 || s.Total != 4 {
		t.Fatalf("summary = %+v", s)
	}
	if fx.fetcher.Calls("A") != 1 {
		t.Errorf("A fetched %d times, want 1", fx.fetcher.Calls("A"))
	}
	if done[0] != "A" || done[3] != "D" {
		t.Errorf("completion order = %v, want A first and D last", done)
	}
	for _, id := range []string{"A", "B", "C", "D"} {
		data, err := os.ReadFile(fx.file(id))
		if err != nil || string(data) != "content of "+id {
			t.Errorf("%s: %q, %v", id, data, err)
		}
	}
	if ids := []string{s.Results[0].ID, s.Results[3].ID}; ids[0] != "A" || ids[1] != "D" {
		t.Errorf("results not in plan order: %v", ids)
	}
}

func TestInstall_DependenciesFinishFirst(t *testing.T) {
	descs := []*resource.Descriptor{
		desc("app", "api", "ui"),
		desc("api", "db", "log"),
		desc("db", "cfg"),
		desc("ui", "log"),
		desc("log", "cfg"),
		desc("cfg"),
	}
	deps := map[string][]string{}
	for _, d := range descs {
		deps[d.ID] = d.Dependencies.Required
	}

	fx := newFixture(t)
	fx.fetcher.delay = 5 * time.Millisecond
	var violations atomic.Int32
	fx.fetcher.onFetch = func(id string) {
		for _, dep := range deps[id] {
			if !fx.writer.Exists("agents/" + dep + ".md") {
				violations.Add(1)
			}
		}
	}

	p := plan(t, []string{"app"}, nil, descs...)
	s := fx.inst.Install(context.Background(), p, Options{Concurrency: 4})
	if !s.OK() {
		t.Fatalf("summary = %+v", s)
	}
	if v := violations.Load(); v != 0 {
		t.Errorf("%d resources started before a dependency finished", v)
	}
}

func TestInstall_FailureCascades(t *testing.T) {
	fx := newFixture(t)
	fx.fetcher.fail["A"] = errors.New(errors.ErrCodeNetwork, "connection refused")
	p := plan(t, []string{"D", "C"}, nil, desc("A"), desc("B", "A"), desc("C"), desc("D", "B"))

	s := fx.inst.Install(context.Background(), p, Options{})

	want := map[string]Status{
		"A": StatusFailed,
		"B": StatusDependencyFailed,
		"C": StatusInstalled,
		"D": StatusDependencyFailed,
	}
	got := statuses(s)
	for id, st := range want {
		if got[id] != st {
			t.Errorf("%s = %s, want %s", id, got[id], st)
		}
	}
	for _, id := range []string{"B", "D"} {
		if n := fx.fetcher.Calls(id); n != 0 {
			t.Errorf("%s fetched %d times, want 0", id, n)
		}
	}
	if s.Failed != 3 || s.Succeeded != 1 || s.OK() {
		t.Errorf("summary = %+v", s)
	}
	if !errors.Is(s.Err(), errors.ErrCodeNetwork) {
		t.Errorf("Err() = %v", s.Err())
	}
	r, _ := s.Result("D")
	if _, ok := r.Err.(*DependencyError); !ok {
		t.Errorf("D err = %T", r.Err)
	}
}

func TestInstall_RecommendedFailureDoesNotCascade(t *testing.T) {
	fx := newFixture(t)
	fx.fetcher.fail["extra"] = errors.New(errors.ErrCodeNotFound, "gone")
	app := desc("app")
	app.Dependencies.Recommended = []string{"extra"}
	p := plan(t, []string{"app"}, nil, app, desc("extra"))

	s := fx.inst.Install(context.Background(), p, Options{})
	got := statuses(s)
	if got["extra"] != StatusFailed || got["app"] != StatusInstalled {
		t.Errorf("statuses = %v", got)
	}
}

func TestInstall_RollbackRestoresFilesystem(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.writer.Write("agents/B.md", []byte("old B")); err != nil {
		t.Fatal(err)
	}
	fx.fetcher.fail["C"] = errors.New(errors.ErrCodeChecksum, "mismatch")
	p := plan(t, []string{"A", "B", "C"}, nil, desc("A"), desc("B"), desc("C"))
	reg := NewMemoryRegistry()

	s := fx.inst.Install(context.Background(), p, Options{RollbackOnError: true, Registry: reg})

	if s.RolledBack != 2 || s.Failed != 1 || s.Succeeded != 0 {
		t.Errorf("summary = %+v", s)
	}
	got := statuses(s)
	if got["A"] != StatusRolledBack || got["B"] != StatusRolledBack || got["C"] != StatusFailed {
		t.Errorf("statuses = %v", got)
	}
	if _, err := os.Stat(fx.file("A")); !os.IsNotExist(err) {
		t.Error("A.md not removed")
	}
	if data, _ := os.ReadFile(fx.file("B")); string(data) != "old B" {
		t.Errorf("B.md = %q, want restored content", data)
	}
	if reg.Has("A") || reg.Has("B") {
		t.Errorf("registry still holds %v", reg.IDs())
	}
}

func TestInstall_RollbackRemovesCreatedDirs(t *testing.T) {
	tests := []struct {
		name     string
		existing []string // directories present before the batch
	}{
		{name: "empty base"},
		{name: "existing empty dir kept", existing: []string{"agents"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			for _, d := range tt.existing {
				if err := os.MkdirAll(filepath.Join(fx.writer.Base, d), 0o755); err != nil {
					t.Fatal(err)
				}
			}
			before := dirNames(t, fx.writer.Base)
			fx.fetcher.fail["C"] = errors.New(errors.ErrCodeChecksum, "mismatch")
			nested := desc("B")
			nested.InstallPath = "agents/team/review/B.md"
			p := plan(t, []string{"A", "B", "C"}, nil, desc("A"), nested, desc("C"))

			s := fx.inst.Install(context.Background(), p, Options{RollbackOnError: true, Concurrency: 3})
			if s.RolledBack != 2 {
				t.Fatalf("summary = %+v", s)
			}
			if after := dirNames(t, fx.writer.Base); !slices.Equal(before, after) {
				t.Errorf("base after rollback = %v, want %v", after, before)
			}
			for _, d := range tt.existing {
				if _, err := os.Stat(filepath.Join(fx.writer.Base, d)); err != nil {
					t.Errorf("pre-existing %s removed", d)
				}
			}
		})
	}
}

// dirNames lists every entry beneath base, relative to it.
func dirNames(t *testing.T, base string) []string {
	t.Helper()
	var names []string
	err := filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != base {
			rel, _ := filepath.Rel(base, path)
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return names
}

func TestInstall_NoRollbackKeepsCompleted(t *testing.T) {
	fx := newFixture(t)
	fx.fetcher.fail["C"] = errors.New(errors.ErrCodeChecksum, "mismatch")
	p := plan(t, []string{"A", "C"}, nil, desc("A"), desc("C"))

	s := fx.inst.Install(context.Background(), p, Options{})
	if s.Succeeded != 1 || s.Failed != 1 {
		t.Errorf("summary = %+v", s)
	}
	if _, err := os.Stat(fx.file("A")); err != nil {
		t.Errorf("A.md missing: %v", err)
	}
}

type failingWriter struct {
	Writer
	fail string
}

func (w failingWriter) Write(rel string, data []byte) (string, error) {
	if rel == w.fail {
		return "", errors.New(errors.ErrCodeDiskFull, "no space left on device")
	}
	return w.Writer.Write(rel, data)
}

func TestInstall_WriteFailure(t *testing.T) {
	fx := newFixture(t)
	inst := New(fx.fetcher, failingWriter{Writer: fx.writer, fail: "agents/B.md"}, nil)
	p := plan(t, []string{"B"}, nil, desc("A"), desc("B", "A"))

	s := inst.Install(context.Background(), p, Options{})
	r, _ := s.Result("B")
	if r.Status != StatusFailed || !errors.Is(r.Err, errors.ErrCodeDiskFull) {
		t.Errorf("B = %+v", r)
	}
}

func TestInstall_SkipInstalled(t *testing.T) {
	fx := newFixture(t)
	reg := NewMemoryRegistry("A")
	p := plan(t, []string{"B"}, reg, desc("A"), desc("B", "A"))

	s := fx.inst.Install(context.Background(), p, Options{SkipInstalled: true, Registry: reg})
	r, _ := s.Result("A")
	if !r.Success || !r.Skipped || r.Status != StatusAlreadyInstalled {
		t.Errorf("A = %+v", r)
	}
	if n := fx.fetcher.Calls("A"); n != 0 {
		t.Errorf("A fetched %d times, want 0", n)
	}
	if s.Skipped != 1 || s.Succeeded != 1 {
		t.Errorf("summary = %+v", s)
	}

	s = fx.inst.Install(context.Background(), p, Options{Registry: reg})
	if n := fx.fetcher.Calls("A"); n != 1 || s.Skipped != 0 {
		t.Errorf("without SkipInstalled: calls=%d skipped=%d", n, s.Skipped)
	}
}

func TestInstall_ConcurrencyBound(t *testing.T) {
	var descs []*resource.Descriptor
	var roots []string
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		descs = append(descs, desc(id))
		roots = append(roots, id)
	}

	for _, limit := range []int{1, 2, 5} {
		fx := newFixture(t)
		fx.fetcher.delay = 10 * time.Millisecond
		s := fx.inst.Install(context.Background(), plan(t, roots, nil, descs...), Options{Concurrency: limit})
		if !s.OK() || s.Succeeded != 6 {
			t.Errorf("limit %d: summary = %+v", limit, s)
		}
		if peak := fx.fetcher.peak.Load(); int(peak) > limit {
			t.Errorf("limit %d: peak concurrency %d", limit, peak)
		}
	}
}

func TestInstall_SameCountsAtAnyConcurrency(t *testing.T) {
	descs := []*resource.Descriptor{desc("x"), desc("y"), desc("z")}
	counts := func(limit int) [4]int {
		fx := newFixture(t)
		s := fx.inst.Install(context.Background(), plan(t, []string{"x", "y", "z"}, nil, descs...), Options{Concurrency: limit})
		return [4]int{s.Total, s.Succeeded, s.Failed, s.Skipped}
	}
	if a, b := counts(1), counts(5); a != b {
		t.Errorf("concurrency 1 = %v, concurrency 5 = %v", a, b)
	}
}

func TestInstall_Cancel(t *testing.T) {
	fx := newFixture(t)
	fx.fetcher.delay = 5 * time.Second
	p := plan(t, []string{"C"}, nil, desc("A"), desc("B", "A"), desc("C", "B"))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	s := fx.inst.Install(ctx, p, Options{})
	if time.Since(start) > 2*time.Second {
		t.Fatal("cancel did not stop the batch")
	}
	if !s.Canceled {
		t.Error("Canceled = false")
	}
	for id, st := range statuses(s) {
		if st != StatusCanceled {
			t.Errorf("%s = %s, want canceled", id, st)
		}
	}
	if n := fx.fetcher.Calls("B"); n != 0 {
		t.Errorf("B fetched %d times after cancel", n)
	}
	if s.Failed != 3 {
		t.Errorf("Failed = %d, want 3", s.Failed)
	}
}

func TestInstall_Deadline(t *testing.T) {
	fx := newFixture(t)
	fx.fetcher.delay = 5 * time.Second
	p := plan(t, []string{"A"}, nil, desc("A"))

	s := fx.inst.Install(context.Background(), p, Options{Deadline: 20 * time.Millisecond})
	r, _ := s.Result("A")
	if r.Status != StatusCanceled || !s.Canceled {
		t.Errorf("A = %+v, canceled=%v", r, s.Canceled)
	}
	if !errors.Is(r.Err, errors.ErrCodeCanceled) {
		t.Errorf("err = %v", r.Err)
	}
}

func TestInstall_DeduplicatesOrder(t *testing.T) {
	fx := newFixture(t)
	p := plan(t, []string{"B"}, nil, desc("A"), desc("B", "A"))
	p.Order = append([]string{"A"}, p.Order...)

	s := fx.inst.Install(context.Background(), p, Options{})
	if s.Total != 2 || fx.fetcher.Calls("A") != 1 {
		t.Errorf("total=%d calls(A)=%d", s.Total, fx.fetcher.Calls("A"))
	}
}

func TestInstall_ProgressSerialized(t *testing.T) {
	var descs []*resource.Descriptor
	var roots []string
	for i := range 20 {
		id := string(rune('a' + i))
		descs = append(descs, desc(id))
		roots = append(roots, id)
	}
	fx := newFixture(t)
	fx.fetcher.delay = time.Millisecond

	var inside atomic.Int32
	var overlaps atomic.Int32
	var seen []int
	s := fx.inst.Install(context.Background(), plan(t, roots, nil, descs...), Options{
		Concurrency: 8,
		Progress: func(id string, completed, total int, _ Status) {
			if inside.Add(1) > 1 {
				overlaps.Add(1)
			}
			defer inside.Add(-1)
			if total != 20 {
				t.Errorf("total = %d", total)
			}
			seen = append(seen, completed)
			time.Sleep(100 * time.Microsecond)
		},
	})

	if overlaps.Load() != 0 {
		t.Errorf("progress callback ran concurrently %d times", overlaps.Load())
	}
	if len(seen) != 20 || !slices.IsSorted(seen) || seen[19] != 20 {
		t.Errorf("completed sequence = %v", seen)
	}
	if !s.OK() {
		t.Errorf("summary = %+v", s)
	}
}

func TestInstall_ProgressPanicRecovered(t *testing.T) {
	fx := newFixture(t)
	p := plan(t, []string{"A", "B"}, nil, desc("A"), desc("B"))

	var calls atomic.Int32
	s := fx.inst.Install(context.Background(), p, Options{
		Progress: func(string, int, int, Status) {
			if calls.Add(1) == 1 {
				panic("boom")
			}
		},
	})
	if !s.OK() || calls.Load() != 2 {
		t.Errorf("ok=%v calls=%d", s.OK(), calls.Load())
	}
}

func TestInstall_EmptyPlan(t *testing.T) {
	fx := newFixture(t)
	s := fx.inst.Install(context.Background(), &resolve.Plan{Graph: &resolve.Graph{}}, Options{})
	if s.Total != 0 || !s.OK() || s.BatchID == "" {
		t.Errorf("summary = %+v", s)
	}
}

type recordingHooks struct {
	observability.NoopInstallHooks
	mu        sync.Mutex
	started   int
	completed []string
	rollbacks int
	succeeded int
	failed    int
}

func (h *recordingHooks) OnBatchStart(_ context.Context, _ string, total int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = total
}

func (h *recordingHooks) OnResourceComplete(_ context.Context, _, id, _ string, _ time.Duration, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.completed = append(h.completed, id)
}

func (h *recordingHooks) OnRollback(_ context.Context, _ string, files int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rollbacks = files
}

func (h *recordingHooks) OnBatchComplete(_ context.Context, _ string, succeeded, failed, _ int, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.succeeded, h.failed = succeeded, failed
}

func TestInstall_Hooks(t *testing.T) {
	h := &recordingHooks{}
	observability.SetInstallHooks(h)
	t.Cleanup(observability.Reset)

	fx := newFixture(t)
	fx.fetcher.fail["B"] = errors.New(errors.ErrCodeNetwork, "reset")
	p := plan(t, []string{"A", "B"}, nil, desc("A"), desc("B"))

	fx.inst.Install(context.Background(), p, Options{RollbackOnError: true, BatchID: "batch-1"})

	if h.started != 2 || len(h.completed) != 2 {
		t.Errorf("started=%d completed=%v", h.started, h.completed)
	}
	if h.rollbacks != 1 || h.succeeded != 0 || h.failed != 1 {
		t.Errorf("rollbacks=%d succeeded=%d failed=%d", h.rollbacks, h.succeeded, h.failed)
	}
}
