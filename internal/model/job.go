// Package model defines the entities MaterializedState projects from the
// event log (spec §3 Data model).
package model

import (
	"strconv"

	"github.com/oddjobs/oj/internal/ids"
)

// StepStatus is the Job's step-outcome state (spec §3 Job.step_status).
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepWaiting
	StepCompleted
	StepFailed
	StepSuspended
	StepOrphaned
)

func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepRunning:
		return "running"
	case StepWaiting:
		return "waiting"
	case StepCompleted:
		return "completed"
	case StepFailed:
		return "failed"
	case StepSuspended:
		return "suspended"
	case StepOrphaned:
		return "orphaned"
	default:
		return "unknown"
	}
}

// StepOutcome is the outcome recorded on a closed StepRecord.
type StepOutcome int

const (
	OutcomeRunning StepOutcome = iota
	OutcomeCompleted
	OutcomeFailed
	OutcomeWaiting
)

// StepRecord is one entry in a Job's step history (spec §3 StepRecord).
type StepRecord struct {
	Name          string
	AgentID       ids.AgentID
	AgentName     string
	StartedAtMS   int64
	FinishedAtMS  int64 // 0 means not yet finished
	Outcome       StepOutcome
	FailureError  string
	WaitingReason string
}

func (r *StepRecord) Finished() bool { return r.FinishedAtMS != 0 }

// Job is a durable multi-step workflow instance (spec §3 Job).
type Job struct {
	ID            ids.JobID
	Kind          string
	Name          string
	Project       string
	Cwd           string
	RunbookHash   string
	Vars          map[string]string
	Step          string
	StepStatus    StepStatus
	WaitingReason string
	StepHistory   []StepRecord
	// ActionTracker maps "trigger:chain_pos" to attempt counts (spec §4.5,
	// expanded in SPEC_FULL.md §C.4).
	ActionTracker map[string]int
	// ChainPos identifies the current run of same-step attempts: it holds
	// steady across on_fail same-step retries (so ActionTracker keeps
	// accumulating) and advances whenever the job crosses to a genuinely
	// different step, which also resets ActionTracker (spec §4.5 "Attempts
	// ... preserved across on_fail; ... reset across on_done").
	ChainPos      int
	WorkspaceID   ids.WorkspaceID
	WorkspacePath string
	SessionID     string
	Error         string
	CreatedAtMS   int64
	UpdatedAtMS   int64
}

// CurrentStepRecord returns a pointer to the last step history entry, or nil.
func (j *Job) CurrentStepRecord() *StepRecord {
	if len(j.StepHistory) == 0 {
		return nil
	}
	return &j.StepHistory[len(j.StepHistory)-1]
}

// IsTerminal reports whether the job has reached a terminal step (spec §3:
// "terminal iff step_status in {Completed, Failed} AND step is a terminal
// step in the runbook"). terminalSteps is the set of step names the
// runbook declares no transitions for.
func (j *Job) IsTerminal(terminalSteps map[string]bool) bool {
	if j.StepStatus != StepCompleted && j.StepStatus != StepFailed {
		return false
	}
	return terminalSteps[j.Step]
}

// ActionTrackerKey builds the "<trigger>:<chain_pos>" key used by
// ActionTracker (SPEC_FULL.md §C.4).
func ActionTrackerKey(trigger string, chainPos int) string {
	return trigger + ":" + strconv.Itoa(chainPos)
}
