// Package archive keeps summaries of finished tasks in a local sqlite
// database after they leave the in-memory store.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tasuku43/gitpush/internal/infra/retry"
)

var ErrNotFound = errors.New("archived task not found")

type Record struct {
	TaskID           string
	RepoKey          string
	Branch           string
	Status           string
	Error            string
	Copied           int
	Skipped          int
	Renamed          int
	SkippedIdentical int
	EmptyDirs        int
	TotalBytes       int64
	TotalFiles       int
	CreatedAt        time.Time
	StartedAt        time.Time
	FinishedAt       time.Time
}

type Archive struct {
	db     *sql.DB
	policy retry.Policy
}

const schema = `CREATE TABLE IF NOT EXISTS tasks(
	task_id TEXT PRIMARY KEY,
	repo_key TEXT NOT NULL,
	branch TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	copied INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	renamed INTEGER NOT NULL DEFAULT 0,
	skipped_identical INTEGER NOT NULL DEFAULT 0,
	empty_dirs INTEGER NOT NULL DEFAULT 0,
	total_bytes INTEGER NOT NULL DEFAULT 0,
	total_files INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_finished ON tasks(finished_at);`

// Open creates or opens the archive at path.
func Open(ctx context.Context, path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	db.SetMaxOpenConns(1)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}
	if _, err := db.ExecContext(pingCtx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init archive schema: %w", err)
	}
	return &Archive{db: db, policy: retry.DefaultPolicy()}, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// Save upserts records in one transaction, retrying transient failures.
func (a *Archive) Save(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	return retry.Do(ctx, a.policy, func(ctx context.Context) error {
		return a.save(ctx, records)
	})
}

func (a *Archive) save(ctx context.Context, records []Record) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO tasks(
		task_id, repo_key, branch, status, error,
		copied, skipped, renamed, skipped_identical, empty_dirs, total_bytes, total_files,
		created_at, started_at, finished_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare archive insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.TaskID, r.RepoKey, r.Branch, r.Status, r.Error,
			r.Copied, r.Skipped, r.Renamed, r.SkippedIdentical, r.EmptyDirs, r.TotalBytes, r.TotalFiles,
			unixMilli(r.CreatedAt), unixMilli(r.StartedAt), unixMilli(r.FinishedAt)); err != nil {
			return fmt.Errorf("archive task %s: %w", r.TaskID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}
	return nil
}

const selectColumns = `SELECT task_id, repo_key, branch, status, error,
	copied, skipped, renamed, skipped_identical, empty_dirs, total_bytes, total_files,
	created_at, started_at, finished_at FROM tasks`

func (a *Archive) Get(ctx context.Context, taskID string) (Record, error) {
	row := a.db.QueryRowContext(ctx, selectColumns+` WHERE task_id=?`, taskID)
	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

// Recent returns up to limit records, most recently finished first.
func (a *Archive) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx, selectColumns+` ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes records that finished before cutoff.
func (a *Archive) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, `DELETE FROM tasks WHERE finished_at < ?`, unixMilli(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune archive: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (Record, error) {
	var r Record
	var created, started, finished int64
	if err := s.Scan(&r.TaskID, &r.RepoKey, &r.Branch, &r.Status, &r.Error,
		&r.Copied, &r.Skipped, &r.Renamed, &r.SkippedIdentical, &r.EmptyDirs, &r.TotalBytes, &r.TotalFiles,
		&created, &started, &finished); err != nil {
		return Record{}, err
	}
	r.CreatedAt = fromUnixMilli(created)
	r.StartedAt = fromUnixMilli(started)
	r.FinishedAt = fromUnixMilli(finished)
	return r, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
