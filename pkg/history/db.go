// Package history keeps a SQLite log of install batches.
//
// Each batch is one row in batches with one row per resource outcome in
// batch_results. The CLI records every batch after it finishes; the
// `history` command reads them back.
package history

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/matzehuels/stackpack/pkg/errors"
)

const (
	sqliteDriverName   = "sqlite"
	defaultBusyTimeout = 5 * time.Second
)

var migrations = [...]string{
	`CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		roots TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		total INTEGER NOT NULL,
		succeeded INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		rolled_back INTEGER NOT NULL,
		canceled INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_batches_started ON batches(started_at);`,
	`CREATE TABLE IF NOT EXISTS batch_results (
		batch_id TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		resource_id TEXT NOT NULL,
		status TEXT NOT NULL,
		path TEXT NOT NULL,
		sha256 TEXT NOT NULL,
		size INTEGER NOT NULL,
		error TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		PRIMARY KEY (batch_id, seq)
	);`,
}

// DB is an open history database.
type DB struct {
	sql  *sql.DB
	path string
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, errors.New(errors.ErrCodeInvalidPath, "history path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(errors.ErrCodeIO, err, "ensure history dir")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", filepath.ToSlash(path), int(defaultBusyTimeout/time.Millisecond))
	conn, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeIO, err, "open sqlite")
	}
	conn.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA foreign_keys=ON;"} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			_ = conn.Close()
			return nil, classify(err, "execute pragma %q", stmt)
		}
	}
	for _, stmt := range migrations {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			_ = conn.Close()
			return nil, classify(err, "apply migration")
		}
	}
	return &DB{sql: conn, path: path}, nil
}

// Close closes the database.
func (db *DB) Close() error {
	if db == nil || db.sql == nil {
		return nil
	}
	return db.sql.Close()
}

// Path returns the database file location.
func (db *DB) Path() string { return db.path }

// codeError matches modernc.org/sqlite error types exposed by the driver.
type codeError interface {
	Code() int
}

func classify(err error, format string, args ...any) error {
	var coder codeError
	if stderrors.As(err, &coder) && coder.Code() == int(sqlite3.SQLITE_FULL) {
		return errors.Wrap(errors.ErrCodeDiskFull, err, format, args...)
	}
	return errors.Wrap(errors.ErrCodeIO, err, format, args...)
}
