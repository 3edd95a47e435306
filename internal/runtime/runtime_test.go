package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddjobs/oj/internal/clock"
	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/logger"
	"github.com/oddjobs/oj/internal/model"
	"github.com/oddjobs/oj/internal/runbook"
	"github.com/oddjobs/oj/internal/state"
)

func newTestRuntime() (*Runtime, *runbook.Memory) {
	rb := runbook.NewMemory()
	log, _ := logger.New(logger.Config{Level: "error", Format: "console"})
	return New(rb, clock.NewFake(1000), log), rb
}

func TestJobAdvancesToNextStepOnComplete(t *testing.T) {
	rt, rb := newTestRuntime()
	rb.Jobs["build"] = runbook.JobDef{
		Kind:      "build",
		FirstStep: "plan",
		Steps: map[string]runbook.StepDef{
			"plan": {Name: "plan", AgentName: "planner", OnDone: runbook.StepTo("implement")},
			"implement": {Name: "implement", AgentName: "coder"},
		},
	}

	s := state.New()
	jobID := ids.JobID("job-1")
	state.Apply(s, 1, event.JobCreated{ID: jobID, Kind: "build", Step: "plan", CreatedAtMS: 1})

	effects := rt.Handle(s, 2, event.StepCompleted{JobID: jobID, Step: "plan", AtMS: 2})
	require.NotEmpty(t, effects)

	var sawAdvance, sawSpawn bool
	for _, eff := range effects {
		switch v := eff.(type) {
		case effect.Emit:
			if adv, ok := v.Event.(event.JobAdvanced); ok {
				assert.Equal(t, "implement", adv.Step)
				sawAdvance = true
			}
		case effect.SpawnAgent:
			assert.Equal(t, "coder", v.AgentName)
			sawSpawn = true
		}
	}
	assert.True(t, sawAdvance)
	assert.True(t, sawSpawn)
}

func TestJobTerminatesWhenNoNextStep(t *testing.T) {
	rt, rb := newTestRuntime()
	rb.Jobs["build"] = runbook.JobDef{
		Kind:      "build",
		FirstStep: "plan",
		Steps: map[string]runbook.StepDef{
			"plan": {Name: "plan", Terminal: true},
		},
	}
	s := state.New()
	jobID := ids.JobID("job-1")
	state.Apply(s, 1, event.JobCreated{ID: jobID, Kind: "build", Step: "plan", CreatedAtMS: 1})

	effects := rt.Handle(s, 2, event.StepCompleted{JobID: jobID, Step: "plan", AtMS: 2})
	require.Len(t, effects, 1)
	emit, ok := effects[0].(effect.Emit)
	require.True(t, ok)
	adv, ok := emit.Event.(event.JobAdvanced)
	require.True(t, ok)
	assert.Equal(t, model.StepCompleted, adv.StepStatus)
}

func TestDecisionSupersessionBlocksApprovalOverQuestion(t *testing.T) {
	rt, _ := newTestRuntime()
	s := state.New()
	agentID := ids.AgentID("agt-1")
	owner := ids.OwnerFromJob(ids.JobID("job-1"))

	existing := ids.NewDecisionID()
	state.Apply(s, 1, event.DecisionCreated{ID: existing, AgentID: agentID, Owner: owner, Source: model.SourceQuestion, AtMS: 1})

	incoming := ids.NewDecisionID()
	state.Apply(s, 2, event.DecisionCreated{ID: incoming, AgentID: agentID, Owner: owner, Source: model.SourceApproval, AtMS: 2})
	effects := rt.Handle(s, 2, event.DecisionCreated{ID: incoming, AgentID: agentID, Owner: owner, Source: model.SourceApproval, AtMS: 2})

	require.Len(t, effects, 1)
	emit := effects[0].(effect.Emit)
	superseded := emit.Event.(event.DecisionSuperseded)
	assert.Equal(t, incoming, superseded.ID, "approval must yield to an open question, not the other way around")
	assert.Equal(t, existing, superseded.SupersededBy)
}

func TestQueuePushedDispatchesToAvailableWorker(t *testing.T) {
	rt, _ := newTestRuntime()
	s := state.New()
	state.Apply(s, 1, event.WorkerStarted{Name: "w1", Queue: "tickets", Concurrency: 2, AtMS: 1})

	item := model.QueueItem{ID: "q1", Queue: "tickets", Data: map[string]any{"id": 1}}
	effects := rt.Handle(s, 2, event.QueuePushed{Queue: "tickets", Item: item, AtMS: 2})

	require.Len(t, effects, 1)
	emit := effects[0].(effect.Emit)
	dispatched := emit.Event.(event.WorkerDispatched)
	assert.Equal(t, "w1", dispatched.Worker)
	assert.Equal(t, "q1", dispatched.ItemID)
}
