package runtime

import (
	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/model"
	"github.com/oddjobs/oj/internal/state"
)

// onDecisionCreated enforces the supersession priority table: of every
// other unresolved, unsuperseded decision open on the same agent, each
// either yields to the new one or causes the new one to yield to it,
// per DecisionSource.ShouldSupersede (spec §4.5 "Supersession rule").
// MaterializedState already recorded the new decision as the agent's
// active one by the time Handle runs (Apply commits before Handle is
// invoked), so a loss here is expressed by superseding the new decision
// right back, not by refusing to create it.
func (rt *Runtime) onDecisionCreated(s *state.MaterializedState, e event.DecisionCreated) []effect.Effect {
	var effects []effect.Effect
	for id, d := range s.Decisions {
		if id == e.ID || d.AgentID != e.AgentID || d.Resolved() || d.Superseded() {
			continue
		}
		if e.Source.ShouldSupersede(d.Source) {
			effects = append(effects, effect.Emit{Event: event.DecisionSuperseded{
				ID:           id,
				SupersededBy: e.ID,
				AtMS:         rt.now(),
			}})
		} else {
			effects = append(effects, effect.Emit{Event: event.DecisionSuperseded{
				ID:           e.ID,
				SupersededBy: id,
				AtMS:         rt.now(),
			}})
		}
	}
	return effects
}

// onDecisionResolved dispatches the resolved choice (spec §4.5 Decision
// protocol): an idle "dismiss" is a no-op, retry/skip/kill advance the
// owning job instead of relaying anything to the agent, and everything
// else (accept/revise/a numeric option) is handed back to the agent's
// input channel exactly as chosen.
func (rt *Runtime) onDecisionResolved(s *state.MaterializedState, e event.DecisionResolved) []effect.Effect {
	d, ok := s.Decisions[e.ID]
	if !ok {
		return nil
	}
	if d.Source == model.SourceIdle && e.Chosen == "dismiss" {
		return nil
	}
	if e.Chosen == "retry" || e.Chosen == "skip" || e.Chosen == "kill" {
		return rt.resolveJobDecision(s, d, e)
	}
	return []effect.Effect{effect.RespondToAgent{
		AgentID: d.AgentID,
		Chosen:  e.Chosen,
		Choices: e.Choices,
		Message: e.Message,
	}}
}

// resolveJobDecision implements the Gate/Error/Dead/Escalate half of the
// dispatch: retry re-spawns the current step with attempts preserved, skip
// advances to the success terminal, kill advances to the failure terminal
// (spec §4.5). A Message present on any of these is still delivered to the
// agent via nudge before the job advances.
func (rt *Runtime) resolveJobDecision(s *state.MaterializedState, d *model.Decision, e event.DecisionResolved) []effect.Effect {
	trigger := "decision:" + d.Source.String()
	jobID, isJob := d.Owner.AsJob()
	j, hasJob := s.Jobs[jobID]
	if !isJob || !hasJob {
		if e.Chosen == "kill" {
			return []effect.Effect{effect.KillAgent{AgentID: d.AgentID, Reason: "decision: kill"}}
		}
		return nil
	}

	var effects []effect.Effect
	if e.Message != "" {
		effects = append(effects, effect.SendAgent{AgentID: d.AgentID, Message: e.Message})
	}
	switch e.Chosen {
	case "retry":
		effects = append(effects, rt.retryStep(j, trigger)...)
	case "skip":
		effects = append(effects, rt.terminate(j, d.AgentID, model.StepCompleted, trigger)...)
	case "kill":
		effects = append(effects, rt.terminate(j, d.AgentID, model.StepFailed, trigger)...)
	}
	return effects
}
