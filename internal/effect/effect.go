// Package effect defines Effect, the tagged union of side-effecting
// instructions a Runtime handler returns instead of performing I/O itself
// (spec §4.6). The Executor interprets these; the Runtime never touches a
// socket, process, or filesystem directly.
package effect

import (
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/model"
)

// Effect is implemented by every concrete effect type.
type Effect interface {
	effectMarker()
}

// Emit appends an event to the bus as if it had arrived externally, used
// by handlers that want a follow-up event applied only after the current
// one commits (spec §4.6).
type Emit struct {
	Event event.Event
}

func (Emit) effectMarker() {}

// SetTimer arms (or re-arms) a named timer to fire at AtMS (spec §4.4, §4.6).
type SetTimer struct {
	ID   ids.TimerID
	AtMS int64
}

func (SetTimer) effectMarker() {}

// CancelTimer disarms a previously set timer. Canceling an unset or
// already-fired timer is a no-op (spec §4.4).
type CancelTimer struct {
	ID ids.TimerID
}

func (CancelTimer) effectMarker() {}

// Shell runs a command to completion out of line and reports back via a
// CommandRun-shaped completion event (spec §4.6, §6.5).
type Shell struct {
	Command string
	Args    []string
	Cwd     string
	Env     map[string]string
	OnDone  func(exitCode int, stdout, stderr string) event.Event
}

func (Shell) effectMarker() {}

// SpawnAgent asks the configured AgentSupervisor to start a new agent
// process or container (spec §4.9).
type SpawnAgent struct {
	AgentID       ids.AgentID
	AgentName     string
	Owner         ids.OwnerID
	WorkspacePath string
	Runtime       model.AgentRuntimeKind
	Command       []string
	Env           map[string]string
}

func (SpawnAgent) effectMarker() {}

// SendAgent delivers a message into a running agent's input channel
// (spec §4.9).
type SendAgent struct {
	AgentID ids.AgentID
	Message string
}

func (SendAgent) effectMarker() {}

// RespondToAgent answers an agent's outstanding decision/question with a
// structured choice (spec §4.5 Decision protocol, §4.9).
type RespondToAgent struct {
	AgentID ids.AgentID
	Chosen  string
	Choices []int
	Message string
}

func (RespondToAgent) effectMarker() {}

// KillAgent terminates an agent's underlying process or container
// (spec §4.9).
type KillAgent struct {
	AgentID ids.AgentID
	Reason  string
}

func (KillAgent) effectMarker() {}

// KillSession terminates every agent attached to a session id in one
// call, for session teardown (spec §4.9, §4.10).
type KillSession struct {
	SessionID string
	Reason    string
}

func (KillSession) effectMarker() {}

// CreateWorkspace provisions a folder or git worktree for an owner
// (spec §4.9 workspace lifecycle).
type CreateWorkspace struct {
	ID      ids.WorkspaceID
	Owner   ids.OwnerID
	Type    model.WorkspaceType
	Root    string
	Branch  string
}

func (CreateWorkspace) effectMarker() {}

// DeleteWorkspace tears down a workspace's files (spec §4.9).
type DeleteWorkspace struct {
	ID   ids.WorkspaceID
	Path string
}

func (DeleteWorkspace) effectMarker() {}

// CaptureAgent requests a point-in-time transcript/state capture from a
// running agent, used for breadcrumbing and orphan reconciliation
// (spec §4.9, §4.10, SPEC_FULL.md §C.5).
type CaptureAgent struct {
	AgentID ids.AgentID
}

func (CaptureAgent) effectMarker() {}

// Notify surfaces a message to whatever out-of-band channel the daemon is
// configured with (spec §4.6 effect list).
type Notify struct {
	Level   string
	Message string
}

func (Notify) effectMarker() {}
