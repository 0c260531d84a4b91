// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package history journals pipeline runs to a local SQLite database so
// "what happened last time" survives the terminal scrollback.
package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	statusRunning = "running"
	statusOK      = "ok"
	statusFailed  = "failed"
)

// Journal records runs and their steps. A nil Journal is a valid no-op
// so callers can thread it unconditionally.
type Journal struct {
	db   *sql.DB
	path string
}

// Run is one recorded pipeline run.
type Run struct {
	ID            int64
	CorrelationID string
	AVDName       string
	Profile       string
	APILevel      int
	Status        string
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Step is one recorded pipeline step.
type Step struct {
	RunID      int64
	Name       string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Open opens (and if needed creates) the journal database. An empty
// path disables the journal and returns nil.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, pkgerrors.Wrap(err, "history: create journal dir")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "history: open journal database")
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, path: path}, nil
}

func configure(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return pkgerrors.Wrapf(err, "history: execute %s", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			correlation_id TEXT NOT NULL,
			avd_name TEXT NOT NULL,
			profile TEXT NOT NULL,
			api_level INTEGER NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL REFERENCES runs(id),
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_steps_run ON steps(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return pkgerrors.Wrap(err, "history: init journal schema")
		}
	}
	return nil
}

// StartRun inserts a running row and returns its ID.
func (j *Journal) StartRun(ctx context.Context, correlationID, avdName, profile string, apiLevel int) (int64, error) {
	if j == nil {
		return 0, nil
	}
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (correlation_id, avd_name, profile, api_level, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		correlationID, avdName, profile, apiLevel, statusRunning, time.Now().UnixMilli())
	if err != nil {
		return 0, pkgerrors.Wrap(err, "history: insert run")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, pkgerrors.Wrap(err, "history: run id")
	}
	return id, nil
}

// FinishRun marks the run done. A non-nil runErr records a failure.
func (j *Journal) FinishRun(ctx context.Context, runID int64, runErr error) error {
	if j == nil {
		return nil
	}
	status, detail := statusOK, ""
	if runErr != nil {
		status, detail = statusFailed, runErr.Error()
	}
	_, err := j.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, detail, time.Now().UnixMilli(), runID)
	return pkgerrors.Wrap(err, "history: finish run")
}

// RecordStep journals one completed step of a run.
func (j *Journal) RecordStep(ctx context.Context, runID int64, name string, startedAt time.Time, stepErr error) error {
	if j == nil {
		return nil
	}
	status, detail := statusOK, ""
	if stepErr != nil {
		status, detail = statusFailed, stepErr.Error()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO steps (run_id, name, status, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, name, status, detail, startedAt.UnixMilli(), time.Now().UnixMilli())
	return pkgerrors.Wrap(err, "history: insert step")
}

// Recent returns the latest runs, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Run, error) {
	if j == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, correlation_id, avd_name, profile, api_level, status, error, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "history: query runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.CorrelationID, &r.AVDName, &r.Profile, &r.APILevel,
			&r.Status, &r.Error, &started, &finished); err != nil {
			return nil, pkgerrors.Wrap(err, "history: scan run")
		}
		r.StartedAt = time.UnixMilli(started)
		if finished > 0 {
			r.FinishedAt = time.UnixMilli(finished)
		}
		runs = append(runs, r)
	}
	return runs, pkgerrors.Wrap(rows.Err(), "history: iterate runs")
}

// Steps returns the recorded steps of one run in execution order.
func (j *Journal) Steps(ctx context.Context, runID int64) ([]Step, error) {
	if j == nil {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, name, status, error, started_at, finished_at
		 FROM steps WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "history: query steps")
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var s Step
		var started, finished int64
		if err := rows.Scan(&s.RunID, &s.Name, &s.Status, &s.Error, &started, &finished); err != nil {
			return nil, pkgerrors.Wrap(err, "history: scan step")
		}
		s.StartedAt = time.UnixMilli(started)
		s.FinishedAt = time.UnixMilli(finished)
		steps = append(steps, s)
	}
	return steps, pkgerrors.Wrap(rows.Err(), "history: iterate steps")
}

// Close closes the journal database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
