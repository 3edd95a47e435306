// Package runtime implements the daemon's business logic: the Job and
// Crew state machines, the Decision protocol, and the queue/worker/cron
// dispatch rules (spec §4.5, §4.8). A Runtime is a bus.Handler — it never
// touches the WAL, never performs I/O, and always responds to an event
// with a plain slice of Effects for the Executor to carry out.
package runtime

import (
	"github.com/oddjobs/oj/internal/clock"
	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/logger"
	"github.com/oddjobs/oj/internal/model"
	"github.com/oddjobs/oj/internal/runbook"
	"github.com/oddjobs/oj/internal/state"
)

// LivenessTimeout is how long an agent may go without a heartbeat before
// it is declared gone (spec §4.4 liveness timers, §4.9).
const LivenessTimeout = 90_000 // ms

// Runtime dispatches committed events to per-kind handlers. All fields are
// read-only collaborators, and no handler mutates the MaterializedState
// passed into Handle: decision supersession, like every other change, is
// returned as an Emit effect.
type Runtime struct {
	runbook runbook.Provider
	clock   clock.Clock
	log     *logger.Logger
}

func New(rb runbook.Provider, c clock.Clock, log *logger.Logger) *Runtime {
	return &Runtime{runbook: rb, clock: c, log: log}
}

// Handle implements bus.Handler (spec §4.3 EventBus forwarding, §4.5).
func (rt *Runtime) Handle(s *state.MaterializedState, seq uint64, ev event.Event) []effect.Effect {
	switch e := ev.(type) {
	case event.StepStarted:
		return rt.onStepStarted(s, e)
	case event.StepCompleted:
		return rt.onStepCompleted(s, e)
	case event.StepFailed:
		return rt.onStepFailed(s, e)
	case event.AgentFailed:
		return rt.onAgentFailed(s, e)
	case event.AgentExited:
		return rt.onAgentExited(s, e)
	case event.AgentGone:
		return rt.onAgentGone(s, e)
	case event.AgentWorking:
		return rt.onAgentWorking(s, e)
	case event.AgentWaiting:
		return rt.onAgentWaiting(s, e)
	case event.AgentSignal:
		return rt.onAgentSignal(s, e)
	case event.AgentStopBlocked:
		return rt.onAgentStopBlocked(s, e)
	case event.DecisionCreated:
		return rt.onDecisionCreated(s, e)
	case event.DecisionResolved:
		return rt.onDecisionResolved(s, e)
	case event.CommandRun:
		return rt.onCommandRun(s, e)
	case event.QueuePushed:
		return rt.onQueuePushed(s, e)
	case event.QueueFailed:
		return rt.onQueueFailed(s, e)
	case event.CronFired:
		return rt.onCronFired(s, e)
	case event.TimerFired:
		return rt.onTimerFired(s, e)
	default:
		return nil
	}
}

func (rt *Runtime) now() int64 { return rt.clock.NowMS() }

// scopedKey mirrors state.scopedKey without exporting it across packages;
// both sides must agree on the "project/name" convention (spec §3 "Scoped
// names").
func scopedKey(project, name string) string {
	if project == "" {
		return name
	}
	return project + "/" + name
}

func (rt *Runtime) onAgentWorking(s *state.MaterializedState, e event.AgentWorking) []effect.Effect {
	return []effect.Effect{
		effect.SetTimer{ID: ids.TimerLivenessID(agentOwner(s, e.AgentID)), AtMS: rt.now() + LivenessTimeout},
	}
}

// agentOwner looks up the OwnerID for an agent, falling back to a job-typed
// owner over the bare agent id if the agent record is missing (defensive
// only: Handle is called with the agent already present in s since
// AgentSpawned is applied before any later event referencing it).
func agentOwner(s *state.MaterializedState, agentID ids.AgentID) ids.OwnerID {
	if a, ok := s.Agents[agentID]; ok {
		return a.Owner
	}
	return ids.OwnerFromJob(ids.JobID(agentID))
}
