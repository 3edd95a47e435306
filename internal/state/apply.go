package state

import (
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/model"
)

// Apply folds ev into s in place. It is total (every Event variant has a
// case) and must never panic or return an error for a well-formed event,
// even one that references an id no longer present — projections that
// outlive their subject (a StepCompleted after the job was deleted by a
// racing CommandRun, say) are silently dropped rather than treated as
// corruption, because the WAL is the source of truth and Apply must
// replay it byte-for-byte the same way every time (spec §4.3, §8
// "Deterministic replay").
func Apply(s *MaterializedState, seq uint64, ev event.Event) {
	switch e := ev.(type) {

	case event.JobCreated:
		s.Jobs[e.ID] = &model.Job{
			ID:          e.ID,
			Kind:        e.Kind,
			Name:        e.Name,
			Project:     e.Project,
			Cwd:         e.Cwd,
			RunbookHash: e.RunbookHash,
			Vars:        e.Vars,
			Step:        e.Step,
			StepStatus:  model.StepPending,
			ActionTracker: make(map[string]int),
			CreatedAtMS: e.CreatedAtMS,
			UpdatedAtMS: e.CreatedAtMS,
		}

	case event.StepStarted:
		if j, ok := s.Jobs[e.JobID]; ok {
			j.Step = e.Step
			j.StepStatus = model.StepRunning
			j.StepHistory = append(j.StepHistory, model.StepRecord{
				Name:        e.Step,
				AgentID:     e.AgentID,
				AgentName:   e.AgentName,
				StartedAtMS: e.AtMS,
				Outcome:     model.OutcomeRunning,
			})
			j.UpdatedAtMS = e.AtMS
		}

	case event.StepCompleted:
		if j, ok := s.Jobs[e.JobID]; ok {
			j.StepStatus = model.StepCompleted
			finishCurrentStep(j, e.AtMS, model.OutcomeCompleted, "")
			j.UpdatedAtMS = e.AtMS
		}

	case event.StepFailed:
		if j, ok := s.Jobs[e.JobID]; ok {
			j.StepStatus = model.StepFailed
			j.Error = e.Error
			finishCurrentStep(j, e.AtMS, model.OutcomeFailed, e.Error)
			j.UpdatedAtMS = e.AtMS
		}

	case event.JobAdvanced:
		if j, ok := s.Jobs[e.JobID]; ok {
			j.Step = e.Step
			j.StepStatus = e.StepStatus
			j.WaitingReason = e.Reason
			j.UpdatedAtMS = e.AtMS
			if e.Trigger != "" {
				// Record this hook firing under the chain position it fired at,
				// then (if the job is leaving this chain for good) reset the
				// tracker and move to a fresh one (spec §4.5 "Attempts ...
				// preserved across on_fail; ... reset across on_done").
				j.ActionTracker[model.ActionTrackerKey(e.Trigger, j.ChainPos)]++
				if e.ResetTracker {
					j.ActionTracker = make(map[string]int)
					j.ChainPos++
				}
			}
		}

	case event.JobDeleted:
		delete(s.Jobs, e.JobID)

	case event.CrewCreated:
		s.Crews[e.ID] = &model.Crew{
			ID:          e.ID,
			AgentName:   e.AgentName,
			CommandName: e.CommandName,
			Project:     e.Project,
			Cwd:         e.Cwd,
			RunbookHash: e.RunbookHash,
			Vars:        e.Vars,
			Status:      model.CrewStarting,
			CreatedAtMS: e.CreatedAtMS,
			UpdatedAtMS: e.CreatedAtMS,
		}

	case event.CrewAdvanced:
		if c, ok := s.Crews[e.CrewID]; ok {
			c.Status = e.Status
			c.Error = e.Error
			c.UpdatedAtMS = e.AtMS
		}

	case event.AgentSpawned:
		if _, exists := s.Agents[e.AgentID]; exists {
			break // already applied; replaying must not duplicate AgentsByOwner (spec §8 "Idempotent apply")
		}
		s.Agents[e.AgentID] = &model.AgentRecord{
			AgentID:       e.AgentID,
			AgentName:     e.AgentName,
			Owner:         e.Owner,
			Project:       e.Project,
			WorkspacePath: e.WorkspacePath,
			Runtime:       e.Runtime,
			AuthToken:     e.AuthToken,
			Status:        model.AgentStatusStarting,
			CreatedAtMS:   e.AtMS,
			UpdatedAtMS:   e.AtMS,
		}
		ownerKey := e.Owner.String()
		s.AgentsByOwner[ownerKey] = append(s.AgentsByOwner[ownerKey], e.AgentID)

	case event.AgentWorking:
		if a, ok := s.Agents[e.AgentID]; ok {
			a.Status = model.AgentStatusRunning
			a.UpdatedAtMS = e.AtMS
		}

	case event.AgentWaiting:
		if a, ok := s.Agents[e.AgentID]; ok {
			a.Status = model.AgentStatusIdle
			a.UpdatedAtMS = e.AtMS
		}

	case event.AgentFailed:
		if a, ok := s.Agents[e.AgentID]; ok {
			a.Status = model.AgentStatusExited
			a.ErrorKind = e.ErrKind
			a.ErrorMessage = e.Message
			a.UpdatedAtMS = e.AtMS
		}

	case event.AgentExited:
		if a, ok := s.Agents[e.AgentID]; ok {
			a.Status = model.AgentStatusExited
			a.ExitCode = e.ExitCode
			a.UpdatedAtMS = e.AtMS
		}

	case event.AgentGone:
		if a, ok := s.Agents[e.AgentID]; ok {
			a.Status = model.AgentStatusGone
			a.UpdatedAtMS = e.AtMS
		}

	case event.AgentSignal:
		if a, ok := s.Agents[e.AgentID]; ok {
			a.UpdatedAtMS = e.AtMS
		}

	case event.AgentStopBlocked:
		// Observability only; no projection state changes (spec §4.9).

	case event.DecisionCreated:
		s.Decisions[e.ID] = &model.Decision{
			ID:          e.ID,
			AgentID:     e.AgentID,
			Owner:       e.Owner,
			Project:     e.Project,
			Source:      e.Source,
			Context:     e.Context,
			Options:     e.Options,
			Questions:   e.Questions,
			CreatedAtMS: e.AtMS,
		}
		s.ActiveDecisionByAgent[e.AgentID] = e.ID

	case event.DecisionResolved:
		if d, ok := s.Decisions[e.ID]; ok {
			d.Chosen = e.Chosen
			d.Choices = e.Choices
			d.Message = e.Message
			d.ResolvedAtMS = e.AtMS
			if s.ActiveDecisionByAgent[d.AgentID] == e.ID {
				delete(s.ActiveDecisionByAgent, d.AgentID)
			}
		}

	case event.DecisionSuperseded:
		if d, ok := s.Decisions[e.ID]; ok {
			d.SupersededBy = e.SupersededBy
			d.ResolvedAtMS = e.AtMS
			if s.ActiveDecisionByAgent[d.AgentID] == e.ID {
				delete(s.ActiveDecisionByAgent, d.AgentID)
			}
		}

	case event.WorkspaceCreated:
		s.Workspaces[e.ID] = &model.Workspace{
			ID:          e.ID,
			Path:        e.Path,
			Owner:       e.Owner,
			Type:        e.Type,
			Branch:      e.Branch,
			Status:      model.WorkspaceCreating,
			CreatedAtMS: e.AtMS,
		}

	case event.WorkspaceReady:
		if w, ok := s.Workspaces[e.ID]; ok {
			w.Status = model.WorkspaceReady
		}

	case event.WorkspaceFailed:
		if w, ok := s.Workspaces[e.ID]; ok {
			w.Status = model.WorkspaceFailed
			w.FailureReason = e.Reason
		}

	case event.WorkspaceDeleted:
		delete(s.Workspaces, e.ID)

	case event.WorkerStarted:
		key := scopedKey(e.Project, e.Name)
		s.Workers[key] = &model.Worker{
			Name:        e.Name,
			Project:     e.Project,
			ProjectPath: e.ProjectPath,
			RunbookHash: e.RunbookHash,
			Status:      model.WorkerRunning,
			Queue:       e.Queue,
			Concurrency: e.Concurrency,
			Active:      make(map[string]bool),
			Owners:      make(map[string]string),
		}

	case event.WorkerDispatched:
		if w, ok := s.Workers[e.Worker]; ok {
			ownerKey := e.Owner.String()
			w.Active[ownerKey] = true
			w.Owners[ownerKey] = e.ItemID
		}

	case event.WorkerStopped:
		if w, ok := s.Workers[e.Name]; ok {
			w.Status = model.WorkerStopped
		}

	case event.WorkerResized:
		if w, ok := s.Workers[e.Name]; ok {
			w.Concurrency = e.Concurrency
		}

	case event.WorkerDeleted:
		delete(s.Workers, e.Name)

	case event.CronStarted:
		key := scopedKey(e.Project, e.Name)
		s.Crons[key] = &model.Cron{
			Name:        e.Name,
			Project:     e.Project,
			ProjectPath: e.ProjectPath,
			RunbookHash: e.RunbookHash,
			Status:      model.CronRunning,
			Interval:    e.Interval,
			Target:      e.Target,
			Concurrency: e.Concurrency,
			StartedAtMS: e.AtMS,
		}

	case event.CronStopped:
		if c, ok := s.Crons[scopedKey(e.Project, e.Name)]; ok {
			c.Status = model.CronStopped
		}

	case event.CronFired:
		if c, ok := s.Crons[scopedKey(e.Project, e.Name)]; ok {
			c.LastFiredAtMS = e.AtMS
			c.ActiveFires++
		}

	case event.CronOnce:
		if c, ok := s.Crons[scopedKey(e.Project, e.Name)]; ok {
			if c.ActiveFires > 0 {
				c.ActiveFires--
			}
		}

	case event.CronDeleted:
		delete(s.Crons, scopedKey(e.Project, e.Name))

	case event.QueuePushed:
		if _, exists := s.QueueItems[e.Item.ID]; exists {
			break // spec §4.3: QueuePushed skips if the item id is already present
		}
		item := e.Item
		s.QueueItems[item.ID] = &item
		s.QueueItemsByQueue[e.Queue] = append(s.QueueItemsByQueue[e.Queue], item.ID)
		dk := model.DedupKey(e.Queue, item.Data)
		s.DedupIndex[dk] = item.ID

	case event.QueueTaken:
		if it, ok := s.QueueItems[e.ItemID]; ok {
			it.Status = model.QueueItemActive
			it.Worker = e.Worker
		}

	case event.QueueCompleted:
		if it, ok := s.QueueItems[e.ItemID]; ok {
			it.Status = model.QueueItemCompleted
			removeDedupEntry(s, it)
		}

	case event.QueueFailed:
		if it, ok := s.QueueItems[e.ItemID]; ok && it.Status != model.QueueItemFailed {
			it.Status = model.QueueItemFailed
			it.Failures++ // only on the Active/Pending -> Failed transition (spec §4.3, §8 "Idempotent apply")
		}

	case event.QueueDropped:
		if it, ok := s.QueueItems[e.ItemID]; ok {
			removeDedupEntry(s, it)
			delete(s.QueueItems, e.ItemID)
		}

	case event.QueueRetry:
		if it, ok := s.QueueItems[e.ItemID]; ok {
			it.Status = model.QueueItemPending
		}

	case event.QueueDead:
		if it, ok := s.QueueItems[e.ItemID]; ok {
			it.Status = model.QueueItemDead
			removeDedupEntry(s, it)
		}

	case event.TimerStart:
		// Recorded by the Scheduler directly via the executor, not folded
		// into MaterializedState; present in the union for WAL completeness
		// (spec §4.4, §4.6).

	case event.TimerFired:
		// Dispatched by Runtime into concrete follow-up events; carries no
		// projection state of its own (spec §4.4).

	case event.SessionCreated:
		s.Sessions[e.SessionID] = &model.Session{
			ID:          e.SessionID,
			Owner:       e.Owner.String(),
			CreatedAtMS: e.AtMS,
		}

	case event.SessionDeleted:
		delete(s.Sessions, e.SessionID)

	case event.RunbookLoaded:
		s.RunbookHash = e.Hash

	case event.CommandRun:
		// CommandRun is an audit record of an invocation that in turn
		// produced JobCreated/other events; it carries no projection
		// state of its own (spec §4.3).

	case event.Shutdown:
		// Terminal marker; no state to fold.

	case event.Custom:
		// Application-defined payloads are opaque to the core projection
		// by design (spec §4.3 Event list, Custom).

	default:
		_ = e
	}

	s.LastSeq = seq
}

func scopedKey(project, name string) string {
	if project == "" {
		return name
	}
	return project + "/" + name
}

func finishCurrentStep(j *model.Job, atMS int64, outcome model.StepOutcome, failureErr string) {
	if len(j.StepHistory) == 0 {
		return
	}
	last := &j.StepHistory[len(j.StepHistory)-1]
	if last.Finished() {
		return
	}
	last.FinishedAtMS = atMS
	last.Outcome = outcome
	last.FailureError = failureErr
}

func removeDedupEntry(s *MaterializedState, it *model.QueueItem) {
	dk := model.DedupKey(it.Queue, it.Data)
	if s.DedupIndex[dk] == it.ID {
		delete(s.DedupIndex, dk)
	}
}
