package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimerKindRoundTrip(t *testing.T) {
	owner := OwnerFromJob(JobID("job-abc123"))
	cases := []TimerID{
		TimerLivenessID(owner),
		TimerExitDeferredID(owner),
		TimerCooldownID(owner, "on_fail", 2),
		TimerQueueRetryID("proj/bugs", "01ARZ3"),
		TimerCronID("proj/nightly"),
		TimerQueuePollID("proj/worker1"),
	}
	for _, id := range cases {
		kind, ok := ParseTimerKind(id)
		if assert.True(t, ok, "parse %q", id) {
			assert.Equal(t, id, kind.ToTimerID())
		}
	}
}

func TestTimerKindParseRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "bogus", "liveness:", "cooldown:job-abc123:no-trigger", "cron"} {
		_, ok := ParseTimerKind(TimerID(s))
		assert.False(t, ok, "expected parse failure for %q", s)
	}
}

func TestOwnerIDRoundTrip(t *testing.T) {
	job := OwnerFromJob(JobID("job-1"))
	crew := OwnerFromCrew(CrewID("crw-2"))
	for _, o := range []OwnerID{job, crew} {
		parsed, err := ParseOwnerID(o.String())
		if assert.NoError(t, err) {
			assert.True(t, o.Equal(parsed))
		}
	}
}

func TestOwnerIDLegacyBareJob(t *testing.T) {
	parsed, err := ParseOwnerID("job-legacy")
	assert.NoError(t, err)
	id, ok := parsed.AsJob()
	assert.True(t, ok)
	assert.Equal(t, JobID("job-legacy"), id)
}

func TestResolvePrefix(t *testing.T) {
	all := []string{"job-abc111", "job-abc222", "job-xyz999"}
	id, err := Resolve(all, "job-xyz")
	assert.NoError(t, err)
	assert.Equal(t, "job-xyz999", id)

	_, err = Resolve(all, "job-abc")
	assert.ErrorIs(t, err, ErrAmbiguous)

	_, err = Resolve(all, "job-nope")
	assert.ErrorIs(t, err, ErrNotFound)

	// exact match wins even when it is also a prefix of another id
	id, err = Resolve(all, "job-abc111")
	assert.NoError(t, err)
	assert.Equal(t, "job-abc111", id)
}

func TestScopedName(t *testing.T) {
	assert.Equal(t, "bugs", ScopedName("", "bugs"))
	assert.Equal(t, "acme/bugs", ScopedName("acme", "bugs"))
}
