package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddjobs/oj/internal/ids"
)

func TestSchedulerFiresInDeadlineOrder(t *testing.T) {
	s := NewScheduler()
	s.Set(ids.TimerID("a"), 300)
	s.Set(ids.TimerID("b"), 100)
	s.Set(ids.TimerID("c"), 200)

	deadline, ok := s.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, int64(100), deadline)

	fired := s.Fired(250)
	assert.ElementsMatch(t, []ids.TimerID{"b", "c"}, fired)
	assert.True(t, s.Pending(ids.TimerID("a")))
	assert.Equal(t, 1, s.Len())
}

func TestSchedulerCancelIsNoOpWhenUnset(t *testing.T) {
	s := NewScheduler()
	s.Cancel(ids.TimerID("missing"))
	assert.Equal(t, 0, s.Len())
}

func TestSchedulerSetReArms(t *testing.T) {
	s := NewScheduler()
	s.Set(ids.TimerID("a"), 100)
	s.Set(ids.TimerID("a"), 500)

	assert.Empty(t, s.Fired(100))
	fired := s.Fired(500)
	assert.Equal(t, []ids.TimerID{"a"}, fired)
}

func TestFakeClockAdvance(t *testing.T) {
	fc := NewFake(1000)
	assert.Equal(t, int64(1000), fc.NowMS())
	fc.Advance(time.Second)
	assert.Equal(t, int64(2000), fc.NowMS())
}
