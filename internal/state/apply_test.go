package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/model"
)

func TestApplyJobLifecycle(t *testing.T) {
	s := New()
	jobID := ids.JobID("job-1")
	agentID := ids.AgentID("agt-1")

	Apply(s, 1, event.JobCreated{ID: jobID, Name: "build", Step: "plan", CreatedAtMS: 100})
	require.Contains(t, s.Jobs, jobID)
	assert.Equal(t, model.StepPending, s.Jobs[jobID].StepStatus)

	Apply(s, 2, event.StepStarted{JobID: jobID, Step: "plan", AgentID: agentID, AtMS: 200})
	assert.Equal(t, model.StepRunning, s.Jobs[jobID].StepStatus)
	require.Len(t, s.Jobs[jobID].StepHistory, 1)
	assert.False(t, s.Jobs[jobID].StepHistory[0].Finished())

	Apply(s, 3, event.StepCompleted{JobID: jobID, Step: "plan", AtMS: 300})
	assert.Equal(t, model.StepCompleted, s.Jobs[jobID].StepStatus)
	assert.True(t, s.Jobs[jobID].StepHistory[0].Finished())
	assert.Equal(t, model.OutcomeCompleted, s.Jobs[jobID].StepHistory[0].Outcome)

	Apply(s, 4, event.JobDeleted{JobID: jobID, AtMS: 400})
	assert.NotContains(t, s.Jobs, jobID)
	assert.Equal(t, uint64(4), s.LastSeq)
}

func TestApplyUnknownIDIsNoOp(t *testing.T) {
	s := New()
	assert.NotPanics(t, func() {
		Apply(s, 1, event.StepCompleted{JobID: ids.JobID("job-missing"), AtMS: 1})
		Apply(s, 2, event.AgentWorking{AgentID: ids.AgentID("agt-missing"), AtMS: 1})
	})
}

func TestApplyQueueDedup(t *testing.T) {
	s := New()
	owner := ids.OwnerFromJob(ids.JobID("job-1"))
	_ = owner

	item := model.QueueItem{ID: "q1", Queue: "tickets", Data: map[string]any{"id": 42}, Status: model.QueueItemPending}
	Apply(s, 1, event.QueuePushed{Queue: "tickets", Item: item})

	dk := model.DedupKey("tickets", map[string]any{"id": "42"})
	assert.Equal(t, "q1", s.DedupIndex[dk])

	Apply(s, 2, event.QueueCompleted{Queue: "tickets", ItemID: "q1", AtMS: 2})
	assert.Equal(t, model.QueueItemCompleted, s.QueueItems["q1"].Status)
	assert.NotContains(t, s.DedupIndex, dk)
}

func TestApplyDecisionSupersession(t *testing.T) {
	s := New()
	agentID := ids.AgentID("agt-1")
	d1 := ids.DecisionID("dcn-1")
	d2 := ids.DecisionID("dcn-2")
	owner := ids.OwnerFromJob(ids.JobID("job-1"))

	Apply(s, 1, event.DecisionCreated{ID: d1, AgentID: agentID, Owner: owner, Source: model.SourceIdle, AtMS: 1})
	assert.Equal(t, d1, s.ActiveDecisionByAgent[agentID])

	Apply(s, 2, event.DecisionCreated{ID: d2, AgentID: agentID, Owner: owner, Source: model.SourceQuestion, AtMS: 2})
	Apply(s, 3, event.DecisionSuperseded{ID: d1, SupersededBy: d2, AtMS: 2})
	assert.Equal(t, d2, s.ActiveDecisionByAgent[agentID])
	assert.True(t, s.Decisions[d1].Superseded())
}

func TestApplyQueuePushedIsIdempotent(t *testing.T) {
	s := New()
	item := model.QueueItem{ID: "q1", Queue: "tickets", Data: map[string]any{"id": 42}, Status: model.QueueItemPending}

	Apply(s, 1, event.QueuePushed{Queue: "tickets", Item: item})
	Apply(s, 1, event.QueuePushed{Queue: "tickets", Item: item})

	assert.Len(t, s.QueueItemsByQueue["tickets"], 1, "re-applying a QueuePushed for an existing item id must not duplicate it")
}

func TestApplyQueueFailedOnlyIncrementsOnTransition(t *testing.T) {
	s := New()
	item := model.QueueItem{ID: "q1", Queue: "tickets", Status: model.QueueItemActive}
	Apply(s, 1, event.QueuePushed{Queue: "tickets", Item: item})

	Apply(s, 2, event.QueueFailed{Queue: "tickets", ItemID: "q1", AtMS: 2})
	Apply(s, 2, event.QueueFailed{Queue: "tickets", ItemID: "q1", AtMS: 2})

	assert.Equal(t, 1, s.QueueItems["q1"].Failures, "re-applying QueueFailed once already Failed must not double-count")
}

func TestApplyAgentSpawnedIsIdempotent(t *testing.T) {
	s := New()
	owner := ids.OwnerFromJob(ids.JobID("job-1"))
	agentID := ids.AgentID("agt-1")

	Apply(s, 1, event.AgentSpawned{AgentID: agentID, Owner: owner, AtMS: 1})
	Apply(s, 1, event.AgentSpawned{AgentID: agentID, Owner: owner, AtMS: 1})

	assert.Len(t, s.AgentsByOwner[owner.String()], 1, "re-applying AgentSpawned for an existing agent id must not duplicate AgentsByOwner")
}

func TestCloneIsIndependent(t *testing.T) {
	s := New()
	Apply(s, 1, event.JobCreated{ID: ids.JobID("job-1"), Name: "a", CreatedAtMS: 1})

	clone := s.Clone()
	clone.Jobs[ids.JobID("job-1")].Name = "mutated"

	assert.Equal(t, "a", s.Jobs[ids.JobID("job-1")].Name)
	assert.Equal(t, "mutated", clone.Jobs[ids.JobID("job-1")].Name)
}
