package runtime

import (
	"fmt"
	"strings"

	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/model"
	"github.com/oddjobs/oj/internal/runbook"
)

// evalTransition resolves a runbook Transition into Effects. It enforces
// the hook's attempt cap first: once trigger has fired AttemptCap times at
// the job's current chain position, it is forced to escalate regardless of
// what it's declared to do (spec §4.5 "Attempt tracking").
func (rt *Runtime) evalTransition(j *model.Job, stepDef runbook.StepDef, trigger string, tr *runbook.Transition, agentID ids.AgentID, escalateContext string) []effect.Effect {
	owner := ids.OwnerFromJob(j.ID)

	if stepDef.AttemptCap > 0 && j.ActionTracker[model.ActionTrackerKey(trigger, j.ChainPos)] >= stepDef.AttemptCap {
		tr = runbook.Escalate()
		escalateContext = fmt.Sprintf("%s: attempt cap (%d) exceeded at step %q", trigger, stepDef.AttemptCap, j.Step)
	}

	switch tr.Action {
	case runbook.ActionStep:
		return rt.spawnStep(j, tr.Step, trigger)
	case runbook.ActionDone:
		return rt.terminate(j, agentID, model.StepCompleted, trigger)
	case runbook.ActionFail:
		return rt.terminate(j, agentID, model.StepFailed, trigger)
	case runbook.ActionGate:
		return rt.runGate(j, tr, trigger, agentID, owner)
	case runbook.ActionNudge:
		return []effect.Effect{rt.tick(j, trigger), effect.SendAgent{AgentID: agentID, Message: tr.Message}}
	case runbook.ActionResume:
		return rt.resumeStep(j, stepDef, trigger, owner)
	case runbook.ActionEscalate:
		return []effect.Effect{
			effect.Emit{Event: event.JobAdvanced{
				JobID: j.ID, Step: j.Step, StepStatus: model.StepWaiting,
				Reason: escalateContext, Trigger: trigger, AtMS: rt.now(),
			}},
			effect.Emit{Event: event.DecisionCreated{
				ID:      ids.NewDecisionID(),
				AgentID: agentID,
				Owner:   owner,
				Project: j.Project,
				Source:  sourceForTrigger(trigger),
				Context: escalateContext,
				AtMS:    rt.now(),
			}},
		}
	default:
		return nil
	}
}

// tick records a hook firing that doesn't otherwise change step/status
// (Nudge, Gate while its shell runs), so attempt tracking still advances.
func (rt *Runtime) tick(j *model.Job, trigger string) effect.Effect {
	return effect.Emit{Event: event.JobAdvanced{
		JobID: j.ID, Step: j.Step, StepStatus: j.StepStatus, Trigger: trigger, AtMS: rt.now(),
	}}
}

func (rt *Runtime) runGate(j *model.Job, tr *runbook.Transition, trigger string, agentID ids.AgentID, owner ids.OwnerID) []effect.Effect {
	return []effect.Effect{
		rt.tick(j, trigger),
		effect.Shell{
			Command: tr.Run,
			Cwd:     j.Cwd,
			OnDone: func(exitCode int, _, stderr string) event.Event {
				if exitCode == 0 {
					return event.StepCompleted{JobID: j.ID, Step: j.Step, AtMS: rt.now()}
				}
				return event.DecisionCreated{
					ID:      ids.NewDecisionID(),
					AgentID: agentID,
					Owner:   owner,
					Project: j.Project,
					Source:  model.SourceGate,
					Context: fmt.Sprintf("gate %q exited %d: %s", tr.Run, exitCode, strings.TrimSpace(stderr)),
					AtMS:    rt.now(),
				}
			},
		},
	}
}

// resumeStep re-spawns the step's agent with --resume appended so the
// supervisor continues the prior conversation instead of starting fresh
// (spec §4.5 "resume").
func (rt *Runtime) resumeStep(j *model.Job, stepDef runbook.StepDef, trigger string, owner ids.OwnerID) []effect.Effect {
	agentDef, _ := rt.runbook.GetAgent(j.Project, stepDef.AgentName)
	agentID := ids.NewAgentID()
	var cmd []string
	if len(agentDef.Command) > 0 {
		cmd = append(append([]string{}, agentDef.Command...), "--resume")
	}
	return []effect.Effect{
		rt.tick(j, trigger),
		effect.SpawnAgent{
			AgentID:       agentID,
			AgentName:     stepDef.AgentName,
			Owner:         owner,
			WorkspacePath: j.WorkspacePath,
			Runtime:       agentDef.Runtime,
			Command:       cmd,
			Env:           agentDef.Env,
		},
	}
}

// sourceForTrigger maps a hook name to the Decision source it escalates
// under, since the model has no generic "escalate" source of its own.
func sourceForTrigger(trigger string) model.DecisionSource {
	switch trigger {
	case "on_idle":
		return model.SourceIdle
	case "on_dead":
		return model.SourceDead
	default:
		return model.SourceError
	}
}
