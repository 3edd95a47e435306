package bus

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/state"
	"github.com/oddjobs/oj/internal/wal"
)

// recordingHandler captures every (seq, event) pair it's asked to handle
// and always returns a fixed effect, so tests can assert Send both applies
// state and forwards to the Handler in the same call.
type recordingHandler struct {
	seen []uint64
	effs []effect.Effect
}

func (h *recordingHandler) Handle(s *state.MaterializedState, seq uint64, ev event.Event) []effect.Effect {
	h.seen = append(h.seen, seq)
	return h.effs
}

func newTestBus(t *testing.T, h Handler) *EventBus {
	w, _, err := wal.Open(filepath.Join(t.TempDir(), "oj.wal"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return New(w, state.New(), h)
}

func TestSendAppliesStateAndForwardsToHandler(t *testing.T) {
	h := &recordingHandler{}
	b := newTestBus(t, h)

	seq, _, err := b.Send(event.JobCreated{ID: ids.JobID("job-1"), Kind: "build", Step: "plan", CreatedAtMS: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 1, seq)
	assert.Equal(t, []uint64{1}, h.seen)

	b.View(func(s *state.MaterializedState) {
		_, ok := s.Jobs[ids.JobID("job-1")]
		assert.True(t, ok)
	})
	assert.EqualValues(t, 1, b.Seq())
}

func TestSendReturnsHandlerEffects(t *testing.T) {
	want := []effect.Effect{effect.Notify{Message: "job created"}}
	h := &recordingHandler{effs: want}
	b := newTestBus(t, h)

	_, effs, err := b.Send(event.JobCreated{ID: ids.JobID("job-1"), Kind: "build", Step: "plan", CreatedAtMS: 1})
	require.NoError(t, err)
	assert.Equal(t, want, effs)
}

func TestSequenceNumbersIncreaseAcrossEvents(t *testing.T) {
	b := newTestBus(t, nil)

	seq1, _, err := b.Send(event.JobCreated{ID: ids.JobID("job-1"), Kind: "build", Step: "plan", CreatedAtMS: 1})
	require.NoError(t, err)
	seq2, _, err := b.Send(event.JobAdvanced{JobID: ids.JobID("job-1"), Step: "plan", AtMS: 2})
	require.NoError(t, err)

	assert.Less(t, seq1, seq2)
	assert.EqualValues(t, seq2, b.Seq())
}

func TestViewSeesAppliedState(t *testing.T) {
	b := newTestBus(t, nil)
	_, _, err := b.Send(event.JobCreated{ID: ids.JobID("job-1"), Kind: "build", Step: "plan", CreatedAtMS: 1})
	require.NoError(t, err)

	var jobCount int
	b.View(func(s *state.MaterializedState) { jobCount = len(s.Jobs) })
	assert.Equal(t, 1, jobCount)
}
