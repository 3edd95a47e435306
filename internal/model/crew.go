package model

import "github.com/oddjobs/oj/internal/ids"

// CrewStatus is a Crew's lifecycle state (spec §3 Crew, §4.5 Crew state
// machine).
type CrewStatus int

const (
	CrewStarting CrewStatus = iota
	CrewRunning
	CrewWaiting
	CrewCompleted
	CrewFailed
	CrewEscalated
)

func (s CrewStatus) String() string {
	switch s {
	case CrewStarting:
		return "starting"
	case CrewRunning:
		return "running"
	case CrewWaiting:
		return "waiting"
	case CrewCompleted:
		return "completed"
	case CrewFailed:
		return "failed"
	case CrewEscalated:
		return "escalated"
	default:
		return "unknown"
	}
}

func (s CrewStatus) Terminal() bool {
	return s == CrewCompleted || s == CrewFailed
}

// Crew is a standalone agent invocation independent of any job (spec §3
// Crew, aka AgentRun).
type Crew struct {
	ID            ids.CrewID
	AgentName     string
	CommandName   string
	Project       string
	Cwd           string
	RunbookHash   string
	Status        CrewStatus
	AgentID       ids.AgentID
	Error         string
	CreatedAtMS   int64
	UpdatedAtMS   int64
	ActionTracker map[string]int
	Vars          map[string]string
	LastNudgeAtMS int64
}
