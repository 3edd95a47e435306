package runtime

import (
	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/runbook"
	"github.com/oddjobs/oj/internal/state"
)

// onAgentFailed applies the owning job's current step's on_error hook
// (spec §4.9 AgentErrorKind).
func (rt *Runtime) onAgentFailed(s *state.MaterializedState, e event.AgentFailed) []effect.Effect {
	a, ok := s.Agents[e.AgentID]
	if !ok {
		return nil
	}
	effects := []effect.Effect{effect.CancelTimer{ID: ids.TimerLivenessID(a.Owner)}}
	return append(effects, rt.runAgentHook(s, e.AgentID, "on_error", e.Message)...)
}

// onAgentExited cancels the liveness timer and, if the exit was unexpected,
// applies the owning job's current step's on_dead hook (spec §4.9).
func (rt *Runtime) onAgentExited(s *state.MaterializedState, e event.AgentExited) []effect.Effect {
	a, ok := s.Agents[e.AgentID]
	if !ok {
		return nil
	}
	effects := []effect.Effect{effect.CancelTimer{ID: ids.TimerLivenessID(a.Owner)}}
	if e.ExitCode == 0 {
		return effects
	}
	return append(effects, rt.runAgentHook(s, e.AgentID, "on_dead", "agent exited with non-zero status")...)
}

// onAgentGone fires when the liveness timer expires before any exit/signal
// arrived: the supervisor lost contact entirely (spec §4.9 liveness).
func (rt *Runtime) onAgentGone(s *state.MaterializedState, e event.AgentGone) []effect.Effect {
	return rt.runAgentHook(s, e.AgentID, "on_dead", "agent liveness timeout")
}

// onAgentWaiting applies the current step's on_idle hook: most runbooks
// either advance, nudge the agent back to work, or escalate to a human
// (spec §4.5 "on_idle", §4.9).
func (rt *Runtime) onAgentWaiting(s *state.MaterializedState, e event.AgentWaiting) []effect.Effect {
	return rt.runAgentHook(s, e.AgentID, "on_idle", "")
}

// onAgentSignal dispatches a structured agent signal: complete mirrors
// StepCompleted, escalate forces the on_idle path, continue is a pure
// heartbeat (spec §4.3 AgentSignal).
func (rt *Runtime) onAgentSignal(s *state.MaterializedState, e event.AgentSignal) []effect.Effect {
	switch e.Kind {
	case event.SignalComplete:
		a, ok := s.Agents[e.AgentID]
		if !ok {
			return nil
		}
		jobID, isJob := a.Owner.AsJob()
		if !isJob {
			return nil
		}
		j, ok := s.Jobs[jobID]
		if !ok {
			return nil
		}
		return []effect.Effect{effect.Emit{Event: event.StepCompleted{JobID: j.ID, Step: j.Step, AtMS: rt.now()}}}
	case event.SignalEscalate:
		return rt.runAgentHook(s, e.AgentID, "on_idle", e.Message)
	default: // event.SignalContinue
		return nil
	}
}

// onAgentStopBlocked decides whether a blocked stop attempt should let the
// agent go: on_idle = done/fail advances the job, otherwise it nudges or
// escalates the same as an idle agent (spec §4.9 "Stop-hook semantics").
func (rt *Runtime) onAgentStopBlocked(s *state.MaterializedState, e event.AgentStopBlocked) []effect.Effect {
	return rt.runAgentHook(s, e.AgentID, "on_idle", "agent attempted to stop")
}

// runAgentHook resolves trigger against the step the agent's owning job is
// currently on. Crew-owned agents and jobs missing a runbook entry fall
// back to opening a Decision directly, since the hook vocabulary modeled
// here is keyed to job steps.
func (rt *Runtime) runAgentHook(s *state.MaterializedState, agentID ids.AgentID, trigger, context string) []effect.Effect {
	a, ok := s.Agents[agentID]
	if !ok {
		return nil
	}
	if jobID, isJob := a.Owner.AsJob(); isJob {
		if j, ok := s.Jobs[jobID]; ok {
			if def, ok := rt.runbook.GetJob(j.Project, j.Kind); ok {
				if stepDef, ok := def.Steps[j.Step]; ok {
					tr := hookFor(stepDef, trigger)
					if tr == nil {
						tr = runbook.Escalate()
					}
					return rt.evalTransition(j, stepDef, trigger, tr, agentID, context)
				}
			}
		}
	}
	return []effect.Effect{effect.Emit{Event: event.DecisionCreated{
		ID:      ids.NewDecisionID(),
		AgentID: agentID,
		Owner:   a.Owner,
		Project: a.Project,
		Source:  sourceForTrigger(trigger),
		Context: context,
		AtMS:    rt.now(),
	}}}
}

func hookFor(stepDef runbook.StepDef, trigger string) *runbook.Transition {
	switch trigger {
	case "on_idle":
		return stepDef.OnIdle
	case "on_dead":
		return stepDef.OnDead
	case "on_error":
		return stepDef.OnError
	default:
		return nil
	}
}
