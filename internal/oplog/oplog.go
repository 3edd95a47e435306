// Package oplog writes the append-only, best-effort operational logs and
// breadcrumbs described in spec §4.10: per-entity activity logs, terminal
// captures, session transcripts, and job breadcrumbs used for orphan
// detection on startup. None of these writes are part of the event-sourced
// state; a failure here is logged and swallowed, never propagated, mirroring
// the teacher's own best-effort file logging (zap is the source of truth
// for operational failures, not an error return the caller must check).
package oplog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/logger"
)

// Store roots every log write under {state_dir}/logs/ (spec §6.3).
type Store struct {
	root string
	log  *logger.Logger

	mu    sync.Mutex
	files map[string]*os.File
}

func New(stateDir string, log *logger.Logger) *Store {
	return &Store{
		root:  filepath.Join(stateDir, "logs"),
		log:   log,
		files: make(map[string]*os.File),
	}
}

func (s *Store) appendLine(relPath, line string) {
	full := filepath.Join(s.root, relPath)
	s.mu.Lock()
	f, ok := s.files[full]
	if !ok {
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			s.mu.Unlock()
			s.log.WithError(err).Warn("oplog: mkdir failed", zap.String("path", full))
			return
		}
		var err error
		f, err = os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			s.mu.Unlock()
			s.log.WithError(err).Warn("oplog: open failed", zap.String("path", full))
			return
		}
		s.files[full] = f
	}
	s.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := f.WriteString(line + "\n"); err != nil {
		s.log.WithError(err).Warn("oplog: write failed", zap.String("path", full))
	}
}

// JobLogPath, AgentLogPath, WorkerLogPath, CronLogPath, QueueLogPath return
// the path (relative to the logs root) ReadLines expects, mirroring the
// paths the *Line appenders write to.
func JobLogPath(jobID ids.JobID) string      { return filepath.Join("job", string(jobID)+".log") }
func AgentLogPath(agentID ids.AgentID) string { return filepath.Join("agent", string(agentID)+".log") }
func WorkerLogPath(scoped string) string     { return filepath.Join("worker", scoped+".log") }
func CronLogPath(scoped string) string       { return filepath.Join("cron", scoped+".log") }
func QueueLogPath(scoped string) string      { return filepath.Join("queue", scoped+".log") }

func timestamp(atMS int64) string {
	return time.UnixMilli(atMS).UTC().Format(time.RFC3339Nano)
}

// JobLine appends a timestamped line to job/<job_id>.log.
func (s *Store) JobLine(jobID ids.JobID, atMS int64, msg string) {
	s.appendLine(filepath.Join("job", string(jobID)+".log"), fmt.Sprintf("%s %s", timestamp(atMS), msg))
}

// AgentLine appends a timestamped line to agent/<agent_id>.log.
func (s *Store) AgentLine(agentID ids.AgentID, atMS int64, msg string) {
	s.appendLine(filepath.Join("agent", string(agentID)+".log"), fmt.Sprintf("%s %s", timestamp(atMS), msg))
}

// WorkerLine, CronLine, QueueLine append to their respective scoped logs.
func (s *Store) WorkerLine(scoped string, atMS int64, msg string) {
	s.appendLine(filepath.Join("worker", scoped+".log"), fmt.Sprintf("%s %s", timestamp(atMS), msg))
}
func (s *Store) CronLine(scoped string, atMS int64, msg string) {
	s.appendLine(filepath.Join("cron", scoped+".log"), fmt.Sprintf("%s %s", timestamp(atMS), msg))
}
func (s *Store) QueueLine(scoped string, atMS int64, msg string) {
	s.appendLine(filepath.Join("queue", scoped+".log"), fmt.Sprintf("%s %s", timestamp(atMS), msg))
}

// WriteCapture overwrites agent/<agent_id>/capture.latest.txt with the most
// recent terminal snapshot.
func (s *Store) WriteCapture(agentID ids.AgentID, text string) {
	full := filepath.Join(s.root, "agent", string(agentID), "capture.latest.txt")
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		s.log.WithError(err).Warn("oplog: mkdir failed", zap.String("path", full))
		return
	}
	if err := os.WriteFile(full, []byte(text), 0o644); err != nil {
		s.log.WithError(err).Warn("oplog: write capture failed", zap.String("path", full))
	}
}

// AppendSessionEntry appends one JSON line to agent/<agent_id>/session.jsonl,
// the archival transcript (spec §4.10).
func (s *Store) AppendSessionEntry(agentID ids.AgentID, entry any) {
	data, err := json.Marshal(entry)
	if err != nil {
		s.log.WithError(err).Warn("oplog: marshal session entry failed")
		return
	}
	s.appendLine(filepath.Join("agent", string(agentID), "session.jsonl"), string(data))
}

// Breadcrumb is the minimal snapshot written on job creation and every step
// transition (spec §4.10): enough fields to recognize an orphaned job on
// startup, before WAL replay has reconstructed MaterializedState.
type Breadcrumb struct {
	JobID       ids.JobID `json:"jobId"`
	Step        string    `json:"step"`
	Status      string    `json:"status"`
	Workspace   string    `json:"workspace"`
	RunbookHash string    `json:"runbookHash"`
	Cwd         string    `json:"cwd"`
	AtMS        int64     `json:"atMs"`
}

// WriteBreadcrumb overwrites <job_id>.crumb.json with the latest snapshot.
func (s *Store) WriteBreadcrumb(b Breadcrumb) {
	full := filepath.Join(s.root, string(b.JobID)+".crumb.json")
	data, err := json.Marshal(b)
	if err != nil {
		s.log.WithError(err).Warn("oplog: marshal breadcrumb failed")
		return
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		s.log.WithError(err).Warn("oplog: mkdir failed", zap.String("path", s.root))
		return
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		s.log.WithError(err).Warn("oplog: write breadcrumb failed", zap.String("job_id", string(b.JobID)))
	}
}

// ReadBreadcrumbs loads every *.crumb.json under logs/, used on startup
// (before WAL replay) to detect jobs whose breadcrumb survived but whose
// event history did not make it into the recovered MaterializedState.
func (s *Store) ReadBreadcrumbs() ([]Breadcrumb, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("oplog: reading logs dir: %w", err)
	}
	var out []Breadcrumb
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, e.Name()))
		if err != nil {
			s.log.WithError(err).Warn("oplog: read breadcrumb failed", zap.String("file", e.Name()))
			continue
		}
		var b Breadcrumb
		if err := json.Unmarshal(data, &b); err != nil {
			s.log.WithError(err).Warn("oplog: unmarshal breadcrumb failed", zap.String("file", e.Name()))
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// ReadLines returns up to limit lines from relPath starting at offset
// (0-indexed), used by the listener's GetJobLogs/GetAgentLogs/GetWorkerLogs/
// GetCronLogs/GetQueueLogs query handlers (spec §4.7). limit <= 0 means "no
// limit": return everything from offset on.
func (s *Store) ReadLines(relPath string, offset, limit int) ([]string, error) {
	full := filepath.Join(s.root, relPath)
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("oplog: reading %s: %w", relPath, err)
	}
	lines := splitNonEmptyLines(string(data))
	if offset < 0 {
		offset = 0
	}
	if offset >= len(lines) {
		return nil, nil
	}
	lines = lines[offset:]
	if limit > 0 && limit < len(lines) {
		lines = lines[:limit]
	}
	return lines, nil
}

func splitNonEmptyLines(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			if line := text[start:i]; line != "" {
				out = append(out, line)
			}
			start = i + 1
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// DetectOrphans returns the breadcrumbs whose job id is absent from
// knownJobIDs: a breadcrumb survived on disk but WAL replay produced no
// matching Job, meaning the job's tail events were lost or truncated
// (spec §4.10, §8 recovery).
func DetectOrphans(breadcrumbs []Breadcrumb, knownJobIDs map[ids.JobID]bool) []Breadcrumb {
	var orphans []Breadcrumb
	for _, b := range breadcrumbs {
		if !knownJobIDs[b.JobID] {
			orphans = append(orphans, b)
		}
	}
	return orphans
}

// Close flushes and closes every open log file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for path, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing %s: %w", path, err)
		}
	}
	return firstErr
}
