package cli

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matzehuels/stackpack/pkg/config"
	"github.com/matzehuels/stackpack/pkg/errors"
	"github.com/matzehuels/stackpack/pkg/install"
)

const testCatalog = `resources:
  - id: lint
    type: command
    version: 1.0.0
    source:
      url: https://example.com/lint.md
      size: 2048
  - id: reviewer
    type: agent
    version: 2.1.0
    source:
      url: https://example.com/reviewer.md
    dependencies:
      required: [lint]
      recommended: [ghost]
  - id: loop-a
    type: hook
    source:
      url: https://example.com/loop-a.json
    dependencies:
      required: [loop-b]
  - id: loop-b
    type: hook
    source:
      url: https://example.com/loop-b.json
    dependencies:
      required: [loop-a]
`

// testEnv isolates a command run: its own catalog, base dir, config file
// and history database, with the download cache disabled.
type testEnv struct {
	dir     string
	catalog string
	baseDir string
	config  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	e := &testEnv{
		dir:     dir,
		catalog: filepath.Join(dir, "catalog.yaml"),
		baseDir: filepath.Join(dir, "base"),
		config:  filepath.Join(dir, "config.yaml"),
	}
	if err := os.WriteFile(e.catalog, []byte(testCatalog), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STACKPACK_HISTORY_PATH", filepath.Join(dir, "history.db"))
	t.Setenv("STACKPACK_CACHE_BACKEND", "none")
	return e
}

func (e *testEnv) run(t *testing.T, args ...string) error {
	t.Helper()
	c := New(io.Discard, LogInfo)
	root := c.RootCommand()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--config", e.config, "--catalog", e.catalog, "--base-dir", e.baseDir}, args...))
	return root.ExecuteContext(context.Background())
}

func TestPlanCommand(t *testing.T) {
	e := newTestEnv(t)
	if err := e.run(t, "plan", "reviewer", "--recommended"); err != nil {
		t.Fatalf("plan: %v", err)
	}
}

func TestPlanCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code errors.Code
	}{
		{"cycle", []string{"plan", "loop-a"}, errors.ErrCodeCycle},
		{"unknown root", []string{"plan", "nope"}, errors.ErrCodeNotFound},
		{"invalid root", []string{"plan", "../etc"}, errors.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			err := e.run(t, tt.args...)
			if !errors.Is(err, tt.code) {
				t.Errorf("error = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestInstallCommand_DryRun(t *testing.T) {
	e := newTestEnv(t)
	if err := e.run(t, "install", "reviewer", "--dry-run"); err != nil {
		t.Fatalf("install --dry-run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(e.baseDir, "agents", "reviewer.md")); !os.IsNotExist(err) {
		t.Errorf("dry run wrote a resource file: %v", err)
	}
}

func TestInstallCommand_RequiresArgs(t *testing.T) {
	e := newTestEnv(t)
	if err := e.run(t, "install"); err == nil {
		t.Error("install without ids should fail")
	}
}

func TestGraphCommand_SVG(t *testing.T) {
	e := newTestEnv(t)
	out := filepath.Join(e.dir, "graph.svg")
	if err := e.run(t, "graph", "reviewer", "--recommended", "--detailed", "--svg", out); err != nil {
		t.Fatalf("graph: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "<svg") {
		t.Errorf("graph output is not SVG: %.100s", data)
	}
}

func TestConfigSet(t *testing.T) {
	e := newTestEnv(t)
	if err := e.run(t, "config", "set", "concurrency", "8"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	cfg, err := config.Load(e.config)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Concurrency != 8 {
		t.Errorf("concurrency = %d, want 8", cfg.Concurrency)
	}

	if err := e.run(t, "config", "set", "no.such.key", "1"); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("unknown key error = %v", err)
	}
	if err := e.run(t, "config", "set", "concurrency", "0"); err == nil {
		t.Error("invalid concurrency accepted")
	}
}

func TestConfigShow(t *testing.T) {
	e := newTestEnv(t)
	if err := e.run(t, "config", "show"); err != nil {
		t.Fatalf("config show: %v", err)
	}
}

func TestHistoryCommand(t *testing.T) {
	e := newTestEnv(t)
	if err := e.run(t, "history"); err != nil {
		t.Fatalf("history: %v", err)
	}
	if err := e.run(t, "history", "missing-batch"); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("unknown batch error = %v", err)
	}
}

func TestSummaryErr(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	failure := errors.New(errors.ErrCodeChecksum, "checksum mismatch")

	tests := []struct {
		name    string
		ctx     context.Context
		summary *install.Summary
		wantNil bool
		want    error
	}{
		{
			name:    "ok",
			ctx:     context.Background(),
			summary: &install.Summary{Total: 2, Succeeded: 2},
			wantNil: true,
		},
		{
			name:    "interrupted",
			ctx:     canceled,
			summary: &install.Summary{Total: 2, Failed: 2, Canceled: true},
			want:    context.Canceled,
		},
		{
			name: "failed",
			ctx:  context.Background(),
			summary: &install.Summary{Total: 2, Succeeded: 1, Failed: 1, Results: []install.Result{
				{ID: "a", Status: install.StatusInstalled},
				{ID: "b", Status: install.StatusFailed, Err: failure},
			}},
			want: failure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := summaryErr(tt.ctx, tt.summary)
			if tt.wantNil {
				if err != nil {
					t.Errorf("summaryErr() = %v, want nil", err)
				}
				return
			}
			if !stderrors.Is(err, tt.want) {
				t.Errorf("summaryErr() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{10 << 20, "10.0 MiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestRetries(t *testing.T) {
	if retries(0) != -1 || retries(3) != 3 {
		t.Errorf("retries mapping wrong: 0->%d 3->%d", retries(0), retries(3))
	}
}
