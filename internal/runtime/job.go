package runtime

import (
	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/model"
	"github.com/oddjobs/oj/internal/runbook"
	"github.com/oddjobs/oj/internal/state"
)

// onStepStarted arms the liveness timer for the agent driving the new
// step and cancels any cooldown left over from a prior attempt at the
// same step (spec §4.4, §4.5).
func (rt *Runtime) onStepStarted(s *state.MaterializedState, e event.StepStarted) []effect.Effect {
	j, ok := s.Jobs[e.JobID]
	if !ok {
		return nil
	}
	owner := ids.OwnerFromJob(e.JobID)
	effects := []effect.Effect{
		effect.SetTimer{ID: ids.TimerLivenessID(owner), AtMS: rt.now() + LivenessTimeout},
		// on_fail is the only hook that re-enters the same step, so it's the
		// only cooldown a fresh StepStarted could be clearing.
		effect.CancelTimer{ID: ids.TimerCooldownID(owner, "on_fail", j.ChainPos)},
	}
	return effects
}

// onStepCompleted runs the current step's on_done hook (spec §4.5).
func (rt *Runtime) onStepCompleted(s *state.MaterializedState, e event.StepCompleted) []effect.Effect {
	j, ok := s.Jobs[e.JobID]
	if !ok {
		return nil
	}
	return rt.runHook(j, e.Step, "on_done", true)
}

// onStepFailed runs the current step's on_fail hook (spec §4.5).
func (rt *Runtime) onStepFailed(s *state.MaterializedState, e event.StepFailed) []effect.Effect {
	j, ok := s.Jobs[e.JobID]
	if !ok {
		return nil
	}
	return rt.runHook(j, e.Step, "on_fail", false)
}

// runHook resolves the named hook on step's runbook definition and
// evaluates its Transition, defaulting to the matching terminal outcome
// when the hook isn't declared (spec §4.5 "Terminal steps are those with
// no transitions declared").
func (rt *Runtime) runHook(j *model.Job, step, trigger string, completed bool) []effect.Effect {
	def, ok := rt.runbook.GetJob(j.Project, j.Kind)
	if !ok {
		return nil
	}
	stepDef, ok := def.Steps[step]
	if !ok {
		return nil
	}

	tr := stepDef.OnDone
	if !completed {
		tr = stepDef.OnFail
	}
	if tr == nil {
		if completed {
			tr = runbook.Done()
		} else {
			tr = runbook.Fail()
		}
	}

	var agentID ids.AgentID
	if rec := j.CurrentStepRecord(); rec != nil {
		agentID = rec.AgentID
	}
	return rt.evalTransition(j, stepDef, trigger, tr, agentID, "")
}

// spawnStep advances a job onto a new step: if this is a same-step retry
// with a declared cooldown, the respawn is deferred behind a timer instead
// of happening immediately (spec §4.5 "Attempt tracking", cooldown). A
// cooldown's own expiry calls doSpawnStep directly, bypassing this check.
func (rt *Runtime) spawnStep(j *model.Job, next, trigger string) []effect.Effect {
	def, ok := rt.runbook.GetJob(j.Project, j.Kind)
	if !ok {
		return nil
	}
	nextDef, ok := def.Steps[next]
	if !ok {
		return nil
	}

	if next == j.Step && nextDef.AttemptCooldownMS > 0 {
		owner := ids.OwnerFromJob(j.ID)
		return []effect.Effect{
			effect.Emit{Event: event.JobAdvanced{
				JobID: j.ID, Step: next, StepStatus: model.StepRunning, Trigger: trigger, AtMS: rt.now(),
			}},
			effect.SetTimer{ID: ids.TimerCooldownID(owner, trigger, j.ChainPos), AtMS: rt.now() + nextDef.AttemptCooldownMS},
		}
	}
	return rt.doSpawnStep(j, next, nextDef, trigger)
}

// doSpawnStep unconditionally emits the (step, step_status) advance and
// spawns the step's agent, with no cooldown deferral.
func (rt *Runtime) doSpawnStep(j *model.Job, next string, nextDef runbook.StepDef, trigger string) []effect.Effect {
	agentID := ids.NewAgentID()
	owner := ids.OwnerFromJob(j.ID)
	effects := []effect.Effect{
		effect.Emit{Event: event.JobAdvanced{
			JobID: j.ID, Step: next, StepStatus: model.StepRunning,
			Trigger: trigger, ResetTracker: next != j.Step, AtMS: rt.now(),
		}},
		effect.Emit{Event: event.StepStarted{
			JobID: j.ID, Step: next, AgentID: agentID, AgentName: nextDef.AgentName, AtMS: rt.now(),
		}},
	}
	if nextDef.AgentName != "" {
		effects = append(effects, effect.SpawnAgent{
			AgentID: agentID, AgentName: nextDef.AgentName, Owner: owner, WorkspacePath: j.WorkspacePath,
		})
	}
	return effects
}

// retryStep re-spawns the current step's agent from scratch, used by the
// Decision protocol's "retry" resolution (spec §4.5 Decision protocol).
func (rt *Runtime) retryStep(j *model.Job, trigger string) []effect.Effect {
	def, ok := rt.runbook.GetJob(j.Project, j.Kind)
	if !ok {
		return nil
	}
	stepDef, ok := def.Steps[j.Step]
	if !ok {
		return nil
	}
	agentID := ids.NewAgentID()
	owner := ids.OwnerFromJob(j.ID)
	effects := []effect.Effect{
		effect.Emit{Event: event.JobAdvanced{
			JobID: j.ID, Step: j.Step, StepStatus: model.StepRunning, Trigger: trigger, AtMS: rt.now(),
		}},
		effect.Emit{Event: event.StepStarted{
			JobID: j.ID, Step: j.Step, AgentID: agentID, AgentName: stepDef.AgentName, AtMS: rt.now(),
		}},
	}
	if stepDef.AgentName != "" {
		effects = append(effects, effect.SpawnAgent{
			AgentID: agentID, AgentName: stepDef.AgentName, Owner: owner, WorkspacePath: j.WorkspacePath,
		})
	}
	return effects
}

// terminate advances a job onto a terminal (step, step_status) and tears
// down its current agent/session so a later SessionDeleted can follow
// (spec §4.5, §4.9).
func (rt *Runtime) terminate(j *model.Job, agentID ids.AgentID, status model.StepStatus, trigger string) []effect.Effect {
	effects := []effect.Effect{
		effect.Emit{Event: event.JobAdvanced{JobID: j.ID, Step: j.Step, StepStatus: status, Trigger: trigger, AtMS: rt.now()}},
	}
	if agentID != "" {
		effects = append(effects, effect.KillAgent{AgentID: agentID, Reason: "job reached terminal step"})
	}
	if j.SessionID != "" {
		effects = append(effects, effect.KillSession{SessionID: j.SessionID, Reason: "job reached terminal step"})
	}
	return effects
}
