package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ids"
)

func TestAppendAndReopenReplays(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, entries, err := Open(path)
	require.NoError(t, err)
	require.Empty(t, entries)

	seq1, err := w.Append(event.JobCreated{ID: ids.JobID("job-1"), Name: "a", CreatedAtMS: 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq1)

	seq2, err := w.Append(event.JobAdvanced{JobID: ids.JobID("job-1"), Step: "run", AtMS: 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq2)

	require.NoError(t, w.Close())

	w2, replayed, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()

	require.Len(t, replayed, 2)
	assert.Equal(t, uint64(1), replayed[0].Seq)
	assert.IsType(t, event.JobCreated{}, replayed[0].Event)
	assert.Equal(t, uint64(2), replayed[1].Seq)

	seq3, err := w2.Append(event.JobDeleted{JobID: ids.JobID("job-1"), AtMS: 3})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq3)
}

func TestOpenTruncatesCorruptTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, _, err := Open(path)
	require.NoError(t, err)
	_, err = w.Append(event.JobCreated{ID: ids.JobID("job-1"), Name: "a", CreatedAtMS: 1})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	good, err := os.Stat(path)
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x00, 0x00, 0x00, 0x10, 0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w2, entries, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()

	require.Len(t, entries, 1)

	stat, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, good.Size(), stat.Size())

	seq, err := w2.Append(event.JobDeleted{JobID: ids.JobID("job-1"), AtMS: 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
}

func TestSinceFiltersBySeq(t *testing.T) {
	all := []event.Sequenced{
		{Seq: 1, Event: event.Shutdown{}},
		{Seq: 2, Event: event.Shutdown{}},
		{Seq: 3, Event: event.Shutdown{}},
	}
	tail := Since(all, 1)
	require.Len(t, tail, 2)
	assert.Equal(t, uint64(2), tail[0].Seq)
}
