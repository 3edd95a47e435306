package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	r, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestUpsertProjectThenList(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, r.UpsertProject("oj", "/srv/oj", now))
	require.NoError(t, r.UpsertProject("oj", "/srv/oj-v2", now.Add(time.Minute)))

	projects, err := r.ListProjects()
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "/srv/oj-v2", projects[0].Path)
}

func TestRecordRunbookHashIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Now().UTC()

	require.NoError(t, r.RecordRunbookHash("oj", "abc123", now))
	require.NoError(t, r.RecordRunbookHash("oj", "abc123", now))
}

func TestOrphanLifecycle(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, r.RecordOrphan(OrphanRow{
		JobID: "job-1", Step: "implement", Status: "orphaned", DetectedAt: now,
	}))

	orphans, err := r.ListOrphans()
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "job-1", orphans[0].JobID)
	assert.False(t, orphans[0].Dismissed)

	require.NoError(t, r.DismissOrphan("job-1"))

	orphans, err = r.ListOrphans()
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestRecordOrphanUpsertsOnConflict(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, r.RecordOrphan(OrphanRow{JobID: "job-1", Step: "plan", Status: "orphaned", DetectedAt: now}))
	require.NoError(t, r.RecordOrphan(OrphanRow{JobID: "job-1", Step: "implement", Status: "orphaned", DetectedAt: now}))

	orphans, err := r.ListOrphans()
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "implement", orphans[0].Step)
}
