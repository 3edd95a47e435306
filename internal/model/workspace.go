package model

import "github.com/oddjobs/oj/internal/ids"

// WorkspaceType distinguishes a plain folder from a git worktree (spec §3
// Workspace).
type WorkspaceType int

const (
	WorkspaceFolder WorkspaceType = iota
	WorkspaceWorktree
)

// WorkspaceStatus is the workspace's lifecycle state (spec §3 Workspace).
type WorkspaceStatus int

const (
	WorkspaceCreating WorkspaceStatus = iota
	WorkspaceReady
	WorkspaceInUse
	WorkspaceCleaning
	WorkspaceFailed
)

func (s WorkspaceStatus) String() string {
	switch s {
	case WorkspaceCreating:
		return "creating"
	case WorkspaceReady:
		return "ready"
	case WorkspaceInUse:
		return "in_use"
	case WorkspaceCleaning:
		return "cleaning"
	case WorkspaceFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Workspace is a managed directory: a plain folder or a git worktree
// (spec §3 Workspace). This struct only records the workspace; creating and
// removing the directory on disk is outside the daemon core (spec §6.5/§1
// scope).
type Workspace struct {
	ID            ids.WorkspaceID
	Path          string
	Branch        string
	Owner         ids.OwnerID
	Status        WorkspaceStatus
	InUseBy       string
	Type          WorkspaceType
	FailureReason string
	CreatedAtMS   int64
}
