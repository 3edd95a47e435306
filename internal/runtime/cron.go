package runtime

import (
	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/model"
	"github.com/oddjobs/oj/internal/state"
)

// onCronFired dispatches the cron's RunTarget if it has a free concurrency
// slot, then re-arms its own timer for the next interval regardless, so a
// saturated cron never silently stops ticking (spec §4.8 Cron).
func (rt *Runtime) onCronFired(s *state.MaterializedState, e event.CronFired) []effect.Effect {
	key := scopedKey(e.Project, e.Name)
	c, ok := s.Crons[key]
	if !ok {
		return nil
	}

	effects := []effect.Effect{
		effect.SetTimer{ID: ids.TimerCronID(key), AtMS: rt.now() + cooldownMS(c.Interval)},
	}

	if c.ActiveFires > c.Concurrency {
		return effects
	}

	switch c.Target.Kind {
	case model.TargetJob:
		effects = append(effects, effect.Emit{Event: event.CommandRun{
			Command:     c.Target.Name,
			Project:     c.Project,
			ProjectPath: c.ProjectPath,
			AtMS:        rt.now(),
		}})
	case model.TargetAgent:
		agentID := ids.NewAgentID()
		effects = append(effects, effect.SpawnAgent{
			AgentID:   agentID,
			AgentName: c.Target.Name,
			Owner:     ids.OwnerFromCrew(ids.NewCrewID()),
		})
	case model.TargetShell:
		effects = append(effects, effect.Shell{Command: c.Target.Shell, Cwd: c.ProjectPath})
	}

	// CronOnce releases the concurrency slot claimed above. Tracking a
	// fire's actual completion would require threading cron ownership
	// through the job/shell it dispatches; until that wiring exists this
	// keeps ActiveFires from climbing forever rather than blocking on it.
	effects = append(effects, effect.Emit{Event: event.CronOnce{Name: e.Name, Project: e.Project, AtMS: rt.now()}})
	return effects
}
