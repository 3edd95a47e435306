package runtime

import (
	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/state"
)

// onCommandRun resolves the named command against the runbook and starts
// the job it declares (spec §6.5 CommandDef, §4.5 Job creation).
func (rt *Runtime) onCommandRun(s *state.MaterializedState, e event.CommandRun) []effect.Effect {
	cmd, ok := rt.runbook.GetCommand(e.Project, e.Command)
	if !ok {
		return nil
	}
	jobDef, ok := rt.runbook.GetJob(e.Project, cmd.JobKind)
	if !ok {
		return nil
	}

	jobID := ids.NewJobID()
	vars := mergeVars(cmd.NamedArgs, e.NamedArgs)

	effects := []effect.Effect{
		effect.Emit{Event: event.JobCreated{
			ID:          jobID,
			Kind:        cmd.JobKind,
			Name:        cmd.Name,
			Project:     e.Project,
			Cwd:         e.ProjectPath,
			RunbookHash: rt.runbook.Hash(e.Project),
			Vars:        vars,
			Step:        jobDef.FirstStep,
			CreatedAtMS: rt.now(),
		}},
	}

	firstStep, ok := jobDef.Steps[jobDef.FirstStep]
	if !ok {
		return effects
	}
	agentID := ids.NewAgentID()
	effects = append(effects,
		effect.Emit{Event: event.StepStarted{
			JobID:     jobID,
			Step:      jobDef.FirstStep,
			AgentID:   agentID,
			AgentName: firstStep.AgentName,
			AtMS:      rt.now(),
		}},
	)
	if firstStep.AgentName != "" {
		effects = append(effects, effect.SpawnAgent{
			AgentID:   agentID,
			AgentName: firstStep.AgentName,
			Owner:     ids.OwnerFromJob(jobID),
		})
	}
	return effects
}

func mergeVars(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
