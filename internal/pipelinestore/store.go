// Package pipelinestore is a small SQLite-backed audit log of executed
// pipeline runs, queryable via `neuralsearchctl pipeline history`.
package pipelinestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, matches the teacher's BM25 store
)

// Run is one recorded pipeline execution.
type Run struct {
	ID               int64
	RanAt            time.Time
	Normalization    string
	Combination      string
	ShardCount       int
	HitCount         int
	DurationMS       int64
	ExplainRequested bool
}

// Store is a WAL-mode SQLite audit log, single-writer like the teacher's
// SQLiteBM25Index.
type Store struct {
	db *sql.DB
}

// Open creates or opens the audit log at path. An empty path opens an
// in-memory store, useful for tests.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for pipeline store: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open pipeline store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS pipeline_runs (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		ran_at            TIMESTAMP NOT NULL,
		normalization     TEXT NOT NULL,
		combination       TEXT NOT NULL,
		shard_count       INTEGER NOT NULL,
		hit_count         INTEGER NOT NULL,
		duration_ms       INTEGER NOT NULL,
		explain_requested INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pipeline_runs_ran_at ON pipeline_runs(ran_at DESC);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline store schema: %w", err)
	}
	return nil
}

// RecordRun appends one pipeline execution to the audit log.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs
			(ran_at, normalization, combination, shard_count, hit_count, duration_ms, explain_requested)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.RanAt, run.Normalization, run.Combination, run.ShardCount, run.HitCount, run.DurationMS, run.ExplainRequested)
	if err != nil {
		return fmt.Errorf("failed to record pipeline run: %w", err)
	}
	return nil
}

// History returns the most recent limit runs, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ran_at, normalization, combination, shard_count, hit_count, duration_ms, explain_requested
		FROM pipeline_runs
		ORDER BY ran_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pipeline history: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.RanAt, &r.Normalization, &r.Combination, &r.ShardCount, &r.HitCount, &r.DurationMS, &r.ExplainRequested); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
