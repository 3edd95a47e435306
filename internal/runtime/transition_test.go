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

func newJobFixture(t *testing.T, rb *runbook.Memory, jobID ids.JobID, stepDef runbook.StepDef) *state.MaterializedState {
	t.Helper()
	rb.Jobs["build"] = runbook.JobDef{
		Kind:      "build",
		FirstStep: "review",
		Steps:     map[string]runbook.StepDef{"review": stepDef},
	}
	s := state.New()
	state.Apply(s, 1, event.JobCreated{ID: jobID, Kind: "build", Step: "review", CreatedAtMS: 1})
	state.Apply(s, 2, event.StepStarted{JobID: jobID, Step: "review", AgentID: "agt-1", AgentName: "reviewer", AtMS: 1})
	state.Apply(s, 3, event.AgentSpawned{AgentID: "agt-1", AgentName: "reviewer", Owner: ids.OwnerFromJob(jobID), AtMS: 1})
	return s
}

func TestOnFailGateRunsShellAndLeavesAttemptAccounted(t *testing.T) {
	rt, rb := newTestRuntime()
	jobID := ids.JobID("job-1")
	s := newJobFixture(t, rb, jobID, runbook.StepDef{
		Name: "review", AgentName: "reviewer",
		OnFail: runbook.Gate("./check.sh"),
	})

	effects := rt.Handle(s, 3, event.StepFailed{JobID: jobID, Step: "review", AtMS: 3})
	require.Len(t, effects, 2)

	_, isEmit := effects[0].(effect.Emit)
	assert.True(t, isEmit, "gate hook ticks attempt tracking before running the shell")

	shell, ok := effects[1].(effect.Shell)
	require.True(t, ok)
	assert.Equal(t, "./check.sh", shell.Command)

	ev := shell.OnDone(1, "", "boom")
	decision, ok := ev.(event.DecisionCreated)
	require.True(t, ok)
	assert.Equal(t, model.SourceGate, decision.Source)
	assert.Contains(t, decision.Context, "boom")

	ok2 := shell.OnDone(0, "", "")
	done, isDone := ok2.(event.StepCompleted)
	require.True(t, isDone)
	assert.Equal(t, "review", done.Step)
}

func TestOnIdleNudgeSendsMessageAndStaysOnStep(t *testing.T) {
	rt, rb := newTestRuntime()
	jobID := ids.JobID("job-1")
	s := newJobFixture(t, rb, jobID, runbook.StepDef{
		Name: "review", AgentName: "reviewer",
		OnIdle: runbook.Nudge("keep going"),
	})

	effects := rt.Handle(s, 3, event.AgentWaiting{AgentID: "agt-1", AtMS: 3})
	require.Len(t, effects, 2)

	emit, ok := effects[0].(effect.Emit)
	require.True(t, ok)
	adv, ok := emit.Event.(event.JobAdvanced)
	require.True(t, ok)
	assert.Equal(t, "review", adv.Step)
	assert.Equal(t, "on_idle", adv.Trigger)

	send, ok := effects[1].(effect.SendAgent)
	require.True(t, ok)
	assert.Equal(t, "keep going", send.Message)
	assert.Equal(t, ids.AgentID("agt-1"), send.AgentID)
}

func TestOnDeadResumeAppendsResumeFlag(t *testing.T) {
	rt, rb := newTestRuntime()
	rb.Agents["reviewer"] = runbook.AgentDef{Name: "reviewer", Command: []string{"claude"}}
	jobID := ids.JobID("job-1")
	s := newJobFixture(t, rb, jobID, runbook.StepDef{
		Name: "review", AgentName: "reviewer",
		OnDead: runbook.Resume(),
	})

	effects := rt.Handle(s, 3, event.AgentGone{AgentID: "agt-1", AtMS: 3})
	require.Len(t, effects, 2)

	spawn, ok := effects[1].(effect.SpawnAgent)
	require.True(t, ok)
	assert.Equal(t, []string{"claude", "--resume"}, spawn.Command)
}

func TestUndeclaredHookFallsBackToEscalate(t *testing.T) {
	rt, rb := newTestRuntime()
	jobID := ids.JobID("job-1")
	s := newJobFixture(t, rb, jobID, runbook.StepDef{
		Name: "review", AgentName: "reviewer",
		// no OnError declared
	})

	effects := rt.Handle(s, 3, event.AgentFailed{AgentID: "agt-1", Message: "crashed", AtMS: 3})
	require.Len(t, effects, 3) // cancel liveness timer + advance + decision

	var sawDecision bool
	for _, eff := range effects {
		if emit, ok := eff.(effect.Emit); ok {
			if d, ok := emit.Event.(event.DecisionCreated); ok {
				assert.Equal(t, model.SourceError, d.Source)
				sawDecision = true
			}
		}
	}
	assert.True(t, sawDecision)
}

func TestAttemptCapForcesEscalateRegardlessOfHook(t *testing.T) {
	rt, rb := newTestRuntime()
	jobID := ids.JobID("job-1")
	s := newJobFixture(t, rb, jobID, runbook.StepDef{
		Name: "review", AgentName: "reviewer",
		OnFail:     runbook.StepTo("review"), // would normally just retry the same step
		AttemptCap: 2,
	})

	// Exhaust the cap by firing on_fail twice via direct tracker bump (as
	// apply.go would durably record them).
	s.Jobs[jobID].ActionTracker[model.ActionTrackerKey("on_fail", 0)] = 2

	effects := rt.Handle(s, 3, event.StepFailed{JobID: jobID, Step: "review", AtMS: 3})
	require.Len(t, effects, 2)

	emit, ok := effects[0].(effect.Emit)
	require.True(t, ok)
	adv, ok := emit.Event.(event.JobAdvanced)
	require.True(t, ok)
	assert.Equal(t, model.StepWaiting, adv.StepStatus)

	emit2, ok := effects[1].(effect.Emit)
	require.True(t, ok)
	decision, ok := emit2.Event.(event.DecisionCreated)
	require.True(t, ok)
	assert.Contains(t, decision.Context, "attempt cap")
}

func TestCooldownDefersRespawnThenExpiryDoesNotRearm(t *testing.T) {
	rt, rb := newTestRuntime()
	jobID := ids.JobID("job-1")
	s := newJobFixture(t, rb, jobID, runbook.StepDef{
		Name: "review", AgentName: "reviewer",
		OnFail:            runbook.StepTo("review"),
		AttemptCooldownMS: 5_000,
	})

	effects := rt.Handle(s, 3, event.StepFailed{JobID: jobID, Step: "review", AtMS: 3})
	require.Len(t, effects, 2)
	_, isEmit := effects[0].(effect.Emit)
	assert.True(t, isEmit)
	timer, ok := effects[1].(effect.SetTimer)
	require.True(t, ok, "same-step retry with a cooldown defers behind a timer instead of spawning immediately")

	kind, ok := ids.ParseTimerKind(timer.ID)
	require.True(t, ok)
	assert.Equal(t, ids.TimerCooldown, kind.Kind)

	// Expiry must unconditionally respawn, not re-arm another cooldown.
	expiry := rt.onCooldownExpired(s, kind.Owner, kind.Trigger, kind.ChainPos)
	var sawSpawn bool
	for _, eff := range expiry {
		if _, ok := eff.(effect.SetTimer); ok {
			t.Fatal("cooldown expiry must not rearm another cooldown timer")
		}
		if _, ok := eff.(effect.SpawnAgent); ok {
			sawSpawn = true
		}
	}
	assert.True(t, sawSpawn)
}

func TestOnDoneTerminatesAndKillsAgentAndSession(t *testing.T) {
	rt, rb := newTestRuntime()
	jobID := ids.JobID("job-1")
	s := newJobFixture(t, rb, jobID, runbook.StepDef{
		Name: "review", AgentName: "reviewer",
		Terminal: true,
	})
	s.Jobs[jobID].SessionID = "sess-1"

	effects := rt.Handle(s, 3, event.StepCompleted{JobID: jobID, Step: "review", AtMS: 3})
	require.Len(t, effects, 3)

	_, isEmit := effects[0].(effect.Emit)
	assert.True(t, isEmit)
	kill, ok := effects[1].(effect.KillAgent)
	require.True(t, ok)
	assert.Equal(t, ids.AgentID("agt-1"), kill.AgentID)
	killSess, ok := effects[2].(effect.KillSession)
	require.True(t, ok)
	assert.Equal(t, "sess-1", killSess.SessionID)
}
