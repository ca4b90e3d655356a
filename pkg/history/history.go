package history

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/matzehuels/stackpack/pkg/errors"
	"github.com/matzehuels/stackpack/pkg/install"
)

// Batch is one recorded install batch.
type Batch struct {
	ID         string
	Roots      []string
	StartedAt  time.Time
	Duration   time.Duration
	Total      int
	Succeeded  int
	Failed     int
	Skipped    int
	RolledBack int
	Canceled   bool
}

// Result is one recorded resource outcome.
type Result struct {
	ResourceID string
	Status     install.Status
	Path       string
	SHA256     string
	Size       int
	Error      string
	Duration   time.Duration
}

// Record stores a finished batch and its results in one transaction.
func (db *DB) Record(ctx context.Context, roots []string, s *install.Summary) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO batches (id, roots, started_at, duration_ms, total, succeeded, failed, skipped, rolled_back, canceled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.BatchID, strings.Join(roots, ","), s.Started.UnixNano(), s.Duration.Milliseconds(),
		s.Total, s.Succeeded, s.Failed, s.Skipped, s.RolledBack, s.Canceled)
	if err != nil {
		return classify(err, "insert batch %s", s.BatchID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO batch_results (batch_id, seq, resource_id, status, path, sha256, size, error, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return classify(err, "prepare result insert")
	}
	defer stmt.Close()

	for i, r := range s.Results {
		msg := ""
		if r.Err != nil {
			msg = r.Err.Error()
		}
		if _, err := stmt.ExecContext(ctx, s.BatchID, i, r.ID, string(r.Status), r.Path, r.SHA256, r.Size, msg, r.Duration.Milliseconds()); err != nil {
			return classify(err, "insert result %s", r.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(err, "commit batch %s", s.BatchID)
	}
	return nil
}

// Recent returns up to limit batches, newest first.
func (db *DB) Recent(ctx context.Context, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.sql.QueryContext(ctx,
		`SELECT id, roots, started_at, duration_ms, total, succeeded, failed, skipped, rolled_back, canceled
		 FROM batches ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, classify(err, "query batches")
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		var (
			b       Batch
			roots   string
			started int64
			ms      int64
		)
		if err := rows.Scan(&b.ID, &roots, &started, &ms, &b.Total, &b.Succeeded, &b.Failed, &b.Skipped, &b.RolledBack, &b.Canceled); err != nil {
			return nil, classify(err, "scan batch")
		}
		if roots != "" {
			b.Roots = strings.Split(roots, ",")
		}
		b.StartedAt = time.Unix(0, started).UTC()
		b.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate batches")
	}
	return out, nil
}

// Results returns the outcomes recorded for batchID in plan order. An
// unknown batch is a NOT_FOUND error.
func (db *DB) Results(ctx context.Context, batchID string) ([]Result, error) {
	var exists int
	err := db.sql.QueryRowContext(ctx, `SELECT 1 FROM batches WHERE id = ?`, batchID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrCodeNotFound, "batch %s not found", batchID)
	}
	if err != nil {
		return nil, classify(err, "lookup batch %s", batchID)
	}

	rows, err := db.sql.QueryContext(ctx,
		`SELECT resource_id, status, path, sha256, size, error, duration_ms
		 FROM batch_results WHERE batch_id = ? ORDER BY seq`, batchID)
	if err != nil {
		return nil, classify(err, "query results")
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var (
			r      Result
			status string
			ms     int64
		)
		if err := rows.Scan(&r.ResourceID, &status, &r.Path, &r.SHA256, &r.Size, &r.Error, &ms); err != nil {
			return nil, classify(err, "scan result")
		}
		r.Status = install.Status(status)
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate results")
	}
	return out, nil
}
