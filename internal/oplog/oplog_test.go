package oplog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/logger"
)

func newTestStore(t *testing.T) *Store {
	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	require.NoError(t, err)
	return New(t.TempDir(), log)
}

func TestJobLineAppendsAndReadsBack(t *testing.T) {
	s := newTestStore(t)
	jobID := ids.JobID("job-1")

	s.JobLine(jobID, 1000, "started")
	s.JobLine(jobID, 2000, "advanced to implement")
	require.NoError(t, s.Close())

	lines, err := s.ReadLines(JobLogPath(jobID), 0, 0)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "started")
	assert.Contains(t, lines[1], "advanced to implement")
}

func TestReadLinesRespectsOffsetAndLimit(t *testing.T) {
	s := newTestStore(t)
	agentID := ids.AgentID("agt-1")
	for i := 0; i < 5; i++ {
		s.AgentLine(agentID, int64(i), "line")
	}
	require.NoError(t, s.Close())

	lines, err := s.ReadLines(AgentLogPath(agentID), 2, 2)
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func TestReadLinesMissingFileReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	lines, err := s.ReadLines(JobLogPath(ids.JobID("job-ghost")), 0, 0)
	require.NoError(t, err)
	assert.Nil(t, lines)
}

func TestWriteAndReadBreadcrumb(t *testing.T) {
	s := newTestStore(t)
	b := Breadcrumb{JobID: ids.JobID("job-1"), Step: "implement", Status: "running", AtMS: 42}
	s.WriteBreadcrumb(b)

	got, err := s.ReadBreadcrumbs()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.JobID, got[0].JobID)
	assert.Equal(t, "implement", got[0].Step)
}

func TestDetectOrphansFindsOnlyUnknownJobs(t *testing.T) {
	breadcrumbs := []Breadcrumb{
		{JobID: ids.JobID("job-known")},
		{JobID: ids.JobID("job-orphan")},
	}
	known := map[ids.JobID]bool{ids.JobID("job-known"): true}

	orphans := DetectOrphans(breadcrumbs, known)
	require.Len(t, orphans, 1)
	assert.Equal(t, ids.JobID("job-orphan"), orphans[0].JobID)
}
