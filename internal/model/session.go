package model

// Session groups the agents spawned for one attach-able interactive run,
// so an AgentAttach IPC connection and a KillSession effect both have a
// single handle to address (spec §4.10, §6.1 AgentAttach).
type Session struct {
	ID          string
	Owner       string // OwnerID.String()
	AgentIDs    []string
	CreatedAtMS int64
}
