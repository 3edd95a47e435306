// Package state holds MaterializedState, the single in-memory projection
// of every event ever applied (spec §4.3). It is intentionally "dumb": no
// I/O, no goroutines, just maps and the pure Apply function in apply.go.
// Rebuilding it from scratch by replaying the WAL must always produce the
// same result (spec §8 "Deterministic replay").
package state

import (
	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/model"
)

// MaterializedState is the full queryable view of the daemon's world.
// Every field is keyed by the entity's primary id except where noted.
type MaterializedState struct {
	Jobs       map[ids.JobID]*model.Job
	Crews      map[ids.CrewID]*model.Crew
	Agents     map[ids.AgentID]*model.AgentRecord
	Workspaces map[ids.WorkspaceID]*model.Workspace
	Decisions  map[ids.DecisionID]*model.Decision
	Workers    map[string]*model.Worker // keyed by ScopedName
	Crons      map[string]*model.Cron   // keyed by ScopedName
	QueueItems map[string]*model.QueueItem // keyed by item id
	Sessions   map[string]*model.Session

	// Indices, derived but kept in sync by Apply so lookups stay O(1)
	// instead of scanning every entity on each handler invocation.
	ActiveDecisionByAgent map[ids.AgentID]ids.DecisionID
	AgentsByOwner         map[string][]ids.AgentID // OwnerID.String() -> agents
	QueueItemsByQueue     map[string][]string      // queue name -> item ids, push order
	DedupIndex            map[string]string        // DedupKey -> item id, live items only

	RunbookHash string
	LastSeq     uint64
}

func New() *MaterializedState {
	return &MaterializedState{
		Jobs:                  make(map[ids.JobID]*model.Job),
		Crews:                 make(map[ids.CrewID]*model.Crew),
		Agents:                make(map[ids.AgentID]*model.AgentRecord),
		Workspaces:            make(map[ids.WorkspaceID]*model.Workspace),
		Decisions:             make(map[ids.DecisionID]*model.Decision),
		Workers:               make(map[string]*model.Worker),
		Crons:                 make(map[string]*model.Cron),
		QueueItems:            make(map[string]*model.QueueItem),
		Sessions:              make(map[string]*model.Session),
		ActiveDecisionByAgent: make(map[ids.AgentID]ids.DecisionID),
		AgentsByOwner:         make(map[string][]ids.AgentID),
		QueueItemsByQueue:     make(map[string][]string),
		DedupIndex:            make(map[string]string),
	}
}

// Clone copies the top-level maps and the indices, and copies every
// pointed-to entity by value, so assigning a field of a cloned entity does
// not show in the original. Maps and slices nested inside an entity
// (Job.ActionTracker, Job.StepHistory, Job.Vars, Worker.Active,
// Worker.Owners and the like) are not copied: the clone and the original
// share them.
func (s *MaterializedState) Clone() *MaterializedState {
	out := New()
	out.RunbookHash = s.RunbookHash
	out.LastSeq = s.LastSeq

	for k, v := range s.Jobs {
		j := *v
		out.Jobs[k] = &j
	}
	for k, v := range s.Crews {
		c := *v
		out.Crews[k] = &c
	}
	for k, v := range s.Agents {
		a := *v
		out.Agents[k] = &a
	}
	for k, v := range s.Workspaces {
		w := *v
		out.Workspaces[k] = &w
	}
	for k, v := range s.Decisions {
		d := *v
		out.Decisions[k] = &d
	}
	for k, v := range s.Workers {
		w := *v
		out.Workers[k] = &w
	}
	for k, v := range s.Crons {
		c := *v
		out.Crons[k] = &c
	}
	for k, v := range s.QueueItems {
		q := *v
		out.QueueItems[k] = &q
	}
	for k, v := range s.Sessions {
		sess := *v
		out.Sessions[k] = &sess
	}
	for k, v := range s.ActiveDecisionByAgent {
		out.ActiveDecisionByAgent[k] = v
	}
	for k, v := range s.AgentsByOwner {
		out.AgentsByOwner[k] = append([]ids.AgentID(nil), v...)
	}
	for k, v := range s.QueueItemsByQueue {
		out.QueueItemsByQueue[k] = append([]string(nil), v...)
	}
	for k, v := range s.DedupIndex {
		out.DedupIndex[k] = v
	}
	return out
}
