package runtime

import (
	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/state"
)

// onTimerFired dispatches on the fired id's parsed kind: a liveness
// timeout that still finds no heartbeat declares the agent gone, a
// cooldown timeout retries the owning job's current step, and a
// queue-retry timeout moves the item back to pending (spec §4.4).
func (rt *Runtime) onTimerFired(s *state.MaterializedState, e event.TimerFired) []effect.Effect {
	kind, ok := ids.ParseTimerKind(e.TimerID)
	if !ok {
		return nil
	}

	switch kind.Kind {
	case ids.TimerLiveness:
		return rt.onLivenessExpired(s, kind.Owner)
	case ids.TimerExitDeferred:
		return rt.onExitDeferredExpired(s, kind.Owner)
	case ids.TimerCooldown:
		return rt.onCooldownExpired(s, kind.Owner, kind.Trigger, kind.ChainPos)
	case ids.TimerQueueRetry:
		return []effect.Effect{effect.Emit{Event: event.QueueRetry{Queue: kind.ScopedQueue, ItemID: kind.ItemID, AtMS: rt.now()}}}
	case ids.TimerCron:
		return nil // cron re-arm happens in onCronFired; a bare cron:<name> fire without a prior CronFired means the cron was just started (see onCronStarted wiring in the executor).
	case ids.TimerQueuePoll:
		return nil // external queue polling is a collaborator concern (spec §6.5), not implemented by the core.
	default:
		return nil
	}
}

func (rt *Runtime) onLivenessExpired(s *state.MaterializedState, owner ids.OwnerID) []effect.Effect {
	agentID, ok := agentForOwner(s, owner)
	if !ok {
		return nil
	}
	return []effect.Effect{effect.Emit{Event: event.AgentGone{AgentID: agentID, AtMS: rt.now()}}}
}

func (rt *Runtime) onExitDeferredExpired(s *state.MaterializedState, owner ids.OwnerID) []effect.Effect {
	agentID, ok := agentForOwner(s, owner)
	if !ok {
		return nil
	}
	return []effect.Effect{effect.KillAgent{AgentID: agentID, Reason: "exit-deferred timeout"}}
}

func (rt *Runtime) onCooldownExpired(s *state.MaterializedState, owner ids.OwnerID, trigger string, chainPos int) []effect.Effect {
	jobID, ok := owner.AsJob()
	if !ok {
		return nil
	}
	j, ok := s.Jobs[jobID]
	if !ok {
		return nil
	}
	def, ok := rt.runbook.GetJob(j.Project, j.Kind)
	if !ok {
		return nil
	}
	stepDef, ok := def.Steps[j.Step]
	if !ok {
		return nil
	}
	return rt.doSpawnStep(j, j.Step, stepDef, trigger)
}

func agentForOwner(s *state.MaterializedState, owner ids.OwnerID) (ids.AgentID, bool) {
	agents := s.AgentsByOwner[owner.String()]
	if len(agents) == 0 {
		return "", false
	}
	return agents[len(agents)-1], true
}
