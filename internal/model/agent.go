package model

import "github.com/oddjobs/oj/internal/ids"

// AgentState is the supervised agent's observed state (spec §4.9).
type AgentState int

const (
	AgentStarting AgentState = iota
	AgentWorking
	AgentWaitingForInput
	AgentFailedState
	AgentExitedState
	AgentGoneState
)

// AgentErrorKind classifies a persistent agent failure (spec §4.9).
type AgentErrorKind int

const (
	AgentErrNone AgentErrorKind = iota
	AgentErrUnauthorized
	AgentErrOutOfCredits
	AgentErrNoInternet
	AgentErrRateLimited
	AgentErrOther
)

// AgentRuntimeKind identifies which AgentSupervisor runtime owns the
// process (spec §3 AgentRecord.runtime).
type AgentRuntimeKind int

const (
	RuntimeLocal AgentRuntimeKind = iota
	RuntimeDocker
	RuntimeKubernetes
)

// AgentStatus is the coarse status MaterializedState tracks per agent
// (spec §3 AgentRecord.status).
type AgentStatus int

const (
	AgentStatusStarting AgentStatus = iota
	AgentStatusRunning
	AgentStatusIdle
	AgentStatusExited
	AgentStatusGone
)

func (s AgentStatus) String() string {
	switch s {
	case AgentStatusStarting:
		return "starting"
	case AgentStatusRunning:
		return "running"
	case AgentStatusIdle:
		return "idle"
	case AgentStatusExited:
		return "exited"
	case AgentStatusGone:
		return "gone"
	default:
		return "unknown"
	}
}

// AgentRecord is the unified view of every agent ever spawned (spec §3
// AgentRecord).
type AgentRecord struct {
	AgentID       ids.AgentID
	AgentName     string
	Owner         ids.OwnerID
	Project       string
	WorkspacePath string
	Status        AgentStatus
	Runtime       AgentRuntimeKind
	AuthToken     string
	ErrorKind     AgentErrorKind
	ErrorMessage  string
	ExitCode      int
	CreatedAtMS   int64
	UpdatedAtMS   int64
}
