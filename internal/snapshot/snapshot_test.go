package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/state"
)

func newStateWithOneJob() *state.MaterializedState {
	s := state.New()
	state.Apply(s, 1, event.JobCreated{ID: ids.JobID("job-1"), Name: "a", CreatedAtMS: 1})
	return s
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	err := Save(dir, Snapshot{Seq: 5, State: newStateWithOneJob(), CreatedAtMS: 100})
	require.NoError(t, err)

	snap, found, err := Load(dir)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint32(CurrentVersion), snap.Version)
	assert.Equal(t, uint64(5), snap.Seq)
	assert.Contains(t, snap.State.Jobs, ids.JobID("job-1"))
}

func TestLoadMissingIsNotError(t *testing.T) {
	dir := t.TempDir()
	snap, found, err := Load(dir)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, snap)
}

func TestSaveRotatesBackups(t *testing.T) {
	dir := t.TempDir()

	for i := 1; i <= 5; i++ {
		err := Save(dir, Snapshot{Seq: uint64(i), State: newStateWithOneJob(), CreatedAtMS: int64(i)})
		require.NoError(t, err)
	}

	target := filepath.Join(dir, "snapshot.json")
	latest, found, err := Load(dir)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(5), latest.Seq)

	for _, suffix := range []string{".bak", ".bak.2", ".bak.3"} {
		_, err := os.Stat(target + suffix)
		assert.NoError(t, err, "expected backup %s to exist", suffix)
	}
	_, err = os.Stat(target + ".bak.4")
	assert.True(t, os.IsNotExist(err), "only 3 backups should be retained")
}
