package history

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matzehuels/stackpack/pkg/errors"
	"github.com/matzehuels/stackpack/pkg/install"
)

func openDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "sub", "history.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func summary(id string, started time.Time) *install.Summary {
	return &install.Summary{
		BatchID:   id,
		Total:     3,
		Succeeded: 1,
		Failed:    1,
		Skipped:   1,
		Started:   started,
		Duration:  1500 * time.Millisecond,
		Results: []install.Result{
			{ID: "a", Status: install.StatusAlreadyInstalled, Success: true, Skipped: true},
			{ID: "b", Status: install.StatusInstalled, Success: true, Path: "/tmp/b.md", SHA256: "abc", Size: 12, Duration: 40 * time.Millisecond},
			{ID: "c", Status: install.StatusFailed, Err: stderrors.New("connection reset")},
		},
	}
}

func TestRecordAndRead(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	t0 := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	if err := db.Record(ctx, []string{"b", "c"}, summary("batch-1", t0)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := db.Record(ctx, []string{"x"}, summary("batch-2", t0.Add(time.Hour))); err != nil {
		t.Fatalf("record: %v", err)
	}

	batches, err := db.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 2 || batches[0].ID != "batch-2" {
		t.Fatalf("Recent() = %+v", batches)
	}
	b := batches[1]
	if !b.StartedAt.Equal(t0) || b.Duration != 1500*time.Millisecond || len(b.Roots) != 2 || b.Failed != 1 || b.Canceled {
		t.Errorf("batch-1 = %+v", b)
	}

	if got, _ := db.Recent(ctx, 1); len(got) != 1 {
		t.Errorf("Recent(1) returned %d", len(got))
	}

	results, err := db.Results(ctx, "batch-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 || results[0].ResourceID != "a" || results[2].Status != install.StatusFailed {
		t.Fatalf("Results() = %+v", results)
	}
	if results[2].Error != "connection reset" || results[1].SHA256 != "abc" || results[1].Duration != 40*time.Millisecond {
		t.Errorf("results = %+v", results)
	}
}

func TestResults_UnknownBatch(t *testing.T) {
	db := openDB(t)
	if _, err := db.Results(context.Background(), "nope"); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("Results() = %v, want NOT_FOUND", err)
	}
}

func TestRecord_DuplicateBatch(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	s := summary("dup", time.Now())
	if err := db.Record(ctx, nil, s); err != nil {
		t.Fatal(err)
	}
	if err := db.Record(ctx, nil, s); err == nil {
		t.Error("second Record of the same batch succeeded")
	}
	results, _ := db.Results(ctx, "dup")
	if len(results) != 3 {
		t.Errorf("duplicate insert left %d results", len(results))
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), ""); !errors.Is(err, errors.ErrCodeInvalidPath) {
		t.Errorf("Open(\"\") = %v", err)
	}
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Record(ctx, []string{"a"}, summary("keep", time.Now())); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	db, err = Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	got, _ := db.Recent(ctx, 0)
	if len(got) != 1 || got[0].ID != "keep" {
		t.Errorf("after reopen: %+v", got)
	}
}
