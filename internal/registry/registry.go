// Package registry provides a SQLite-backed auxiliary index alongside the
// WAL/snapshot event store: known projects, the runbook-hash cache used to
// detect stale definitions on replay, and orphaned-job reconciliation
// records (spec §4.10, §8). None of this is authoritative state — it can be
// rebuilt from the event log and oplog breadcrumbs — so schema mistakes
// here are recoverable, unlike WAL corruption.
//
// Grounded on the teacher's internal/task/repository/sqlite package: a
// thin *sqlx.DB wrapper with an idempotent CREATE TABLE IF NOT EXISTS
// schema and one small file per concern.
package registry

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Registry is the auxiliary SQLite index.
type Registry struct {
	db *sqlx.DB
}

// Open connects to (creating if absent) the sqlite file at path and applies
// the schema.
func Open(path string) (*Registry, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("registry: connect: %w", err)
	}
	r := &Registry{db: db}
	if err := r.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registry: init schema: %w", err)
	}
	return r, nil
}

func (r *Registry) Close() error { return r.db.Close() }

func (r *Registry) initSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS projects (
		name TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		last_seen_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runbook_hashes (
		project TEXT NOT NULL,
		hash TEXT NOT NULL,
		loaded_at TIMESTAMP NOT NULL,
		PRIMARY KEY (project, hash)
	);

	CREATE TABLE IF NOT EXISTS orphans (
		job_id TEXT PRIMARY KEY,
		step TEXT NOT NULL,
		status TEXT NOT NULL,
		workspace TEXT DEFAULT '',
		runbook_hash TEXT DEFAULT '',
		cwd TEXT DEFAULT '',
		detected_at TIMESTAMP NOT NULL,
		dismissed INTEGER NOT NULL DEFAULT 0
	);
	`)
	return err
}

// UpsertProject records a project's path was observed at t (spec §6.2
// ListProjects).
func (r *Registry) UpsertProject(name, path string, t time.Time) error {
	_, err := r.db.Exec(
		`INSERT INTO projects (name, path, last_seen_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET path = excluded.path, last_seen_at = excluded.last_seen_at`,
		name, path, t)
	return err
}

// Project is a row from the projects table.
type Project struct {
	Name       string    `db:"name"`
	Path       string    `db:"path"`
	LastSeenAt time.Time `db:"last_seen_at"`
}

func (r *Registry) ListProjects() ([]Project, error) {
	var out []Project
	err := r.db.Select(&out, `SELECT name, path, last_seen_at FROM projects ORDER BY name`)
	return out, err
}

// RecordRunbookHash notes that a project's runbook was loaded with this
// content-addressed hash, so replays can compare against what a job or
// crew was created with (spec §6.5).
func (r *Registry) RecordRunbookHash(project, hash string, t time.Time) error {
	_, err := r.db.Exec(
		`INSERT OR IGNORE INTO runbook_hashes (project, hash, loaded_at) VALUES (?, ?, ?)`,
		project, hash, t)
	return err
}

// OrphanRow is a persisted orphan record (spec §4.10 breadcrumb orphans).
type OrphanRow struct {
	JobID       string    `db:"job_id"`
	Step        string    `db:"step"`
	Status      string    `db:"status"`
	Workspace   string    `db:"workspace"`
	RunbookHash string    `db:"runbook_hash"`
	Cwd         string    `db:"cwd"`
	DetectedAt  time.Time `db:"detected_at"`
	Dismissed   bool      `db:"dismissed"`
}

// RecordOrphan persists an orphan detected from a surviving breadcrumb
// whose job did not reappear in the recovered MaterializedState.
func (r *Registry) RecordOrphan(o OrphanRow) error {
	_, err := r.db.Exec(
		`INSERT INTO orphans (job_id, step, status, workspace, runbook_hash, cwd, detected_at, dismissed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		 ON CONFLICT(job_id) DO UPDATE SET step = excluded.step, status = excluded.status,
			workspace = excluded.workspace, runbook_hash = excluded.runbook_hash,
			cwd = excluded.cwd, detected_at = excluded.detected_at`,
		o.JobID, o.Step, o.Status, o.Workspace, o.RunbookHash, o.Cwd, o.DetectedAt)
	return err
}

// ListOrphans returns undismissed orphans (spec §6.2 ListOrphans).
func (r *Registry) ListOrphans() ([]OrphanRow, error) {
	var out []OrphanRow
	err := r.db.Select(&out, `SELECT job_id, step, status, workspace, runbook_hash, cwd, detected_at, dismissed
		FROM orphans WHERE dismissed = 0 ORDER BY detected_at`)
	return out, err
}

// DismissOrphan marks an orphan as resolved (dismissed or resumed by the
// user) so it no longer surfaces in ListOrphans.
func (r *Registry) DismissOrphan(jobID string) error {
	_, err := r.db.Exec(`UPDATE orphans SET dismissed = 1 WHERE job_id = ?`, jobID)
	return err
}
