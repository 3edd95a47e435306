package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/model"
	"github.com/oddjobs/oj/internal/runbook"
	"github.com/oddjobs/oj/internal/state"
)

func newDecisionFixture(t *testing.T, rt *Runtime, rb *runbook.Memory, jobID ids.JobID, source model.DecisionSource) (*state.MaterializedState, ids.DecisionID) {
	t.Helper()
	rb.Jobs["build"] = runbook.JobDef{
		Kind:      "build",
		FirstStep: "review",
		Steps:     map[string]runbook.StepDef{"review": {Name: "review", AgentName: "reviewer"}},
	}
	s := state.New()
	state.Apply(s, 1, event.JobCreated{ID: jobID, Kind: "build", Step: "review", CreatedAtMS: 1})
	state.Apply(s, 2, event.StepStarted{JobID: jobID, Step: "review", AgentID: "agt-1", AgentName: "reviewer", AtMS: 1})

	decisionID := ids.NewDecisionID()
	owner := ids.OwnerFromJob(jobID)
	state.Apply(s, 3, event.DecisionCreated{ID: decisionID, AgentID: "agt-1", Owner: owner, Source: source, AtMS: 3})
	return s, decisionID
}

func TestDecisionRetryRespawnsCurrentStep(t *testing.T) {
	rt, rb := newTestRuntime()
	jobID := ids.JobID("job-1")
	s, decisionID := newDecisionFixture(t, rt, rb, jobID, model.SourceError)

	state.Apply(s, 4, event.DecisionResolved{ID: decisionID, Chosen: "retry", AtMS: 4})
	effects := rt.Handle(s, 4, event.DecisionResolved{ID: decisionID, Chosen: "retry", AtMS: 4})

	var sawSpawn bool
	for _, eff := range effects {
		if spawn, ok := eff.(effect.SpawnAgent); ok {
			assert.Equal(t, "reviewer", spawn.AgentName)
			sawSpawn = true
		}
	}
	assert.True(t, sawSpawn)
}

func TestDecisionSkipAdvancesToSuccessTerminal(t *testing.T) {
	rt, rb := newTestRuntime()
	jobID := ids.JobID("job-1")
	s, decisionID := newDecisionFixture(t, rt, rb, jobID, model.SourceError)

	state.Apply(s, 4, event.DecisionResolved{ID: decisionID, Chosen: "skip", AtMS: 4})
	effects := rt.Handle(s, 4, event.DecisionResolved{ID: decisionID, Chosen: "skip", AtMS: 4})

	require.NotEmpty(t, effects)
	emit, ok := effects[0].(effect.Emit)
	require.True(t, ok)
	adv, ok := emit.Event.(event.JobAdvanced)
	require.True(t, ok)
	assert.Equal(t, model.StepCompleted, adv.StepStatus)

	var sawKill bool
	for _, eff := range effects {
		if _, ok := eff.(effect.KillAgent); ok {
			sawKill = true
		}
	}
	assert.True(t, sawKill)
}

func TestDecisionKillAdvancesToFailureTerminal(t *testing.T) {
	rt, rb := newTestRuntime()
	jobID := ids.JobID("job-1")
	s, decisionID := newDecisionFixture(t, rt, rb, jobID, model.SourceError)

	state.Apply(s, 4, event.DecisionResolved{ID: decisionID, Chosen: "kill", Message: "giving up", AtMS: 4})
	effects := rt.Handle(s, 4, event.DecisionResolved{ID: decisionID, Chosen: "kill", Message: "giving up", AtMS: 4})

	require.NotEmpty(t, effects)
	send, ok := effects[0].(effect.SendAgent)
	require.True(t, ok, "a non-empty message is delivered via nudge before the job advances")
	assert.Equal(t, "giving up", send.Message)

	var sawFail bool
	for _, eff := range effects {
		if emit, ok := eff.(effect.Emit); ok {
			if adv, ok := emit.Event.(event.JobAdvanced); ok && adv.StepStatus == model.StepFailed {
				sawFail = true
			}
		}
	}
	assert.True(t, sawFail)
}

func TestDecisionIdleDismissIsNoop(t *testing.T) {
	rt, rb := newTestRuntime()
	jobID := ids.JobID("job-1")
	s, decisionID := newDecisionFixture(t, rt, rb, jobID, model.SourceIdle)

	state.Apply(s, 4, event.DecisionResolved{ID: decisionID, Chosen: "dismiss", AtMS: 4})
	effects := rt.Handle(s, 4, event.DecisionResolved{ID: decisionID, Chosen: "dismiss", AtMS: 4})
	assert.Empty(t, effects)
}

func TestDecisionAcceptRelaysToAgent(t *testing.T) {
	rt, rb := newTestRuntime()
	jobID := ids.JobID("job-1")
	s, decisionID := newDecisionFixture(t, rt, rb, jobID, model.SourcePlan)

	state.Apply(s, 4, event.DecisionResolved{ID: decisionID, Chosen: "accept", AtMS: 4})
	effects := rt.Handle(s, 4, event.DecisionResolved{ID: decisionID, Chosen: "accept", AtMS: 4})

	require.Len(t, effects, 1)
	respond, ok := effects[0].(effect.RespondToAgent)
	require.True(t, ok)
	assert.Equal(t, "accept", respond.Chosen)
	assert.Equal(t, ids.AgentID("agt-1"), respond.AgentID)
}
