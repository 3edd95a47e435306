package listener

import (
	"sort"

	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/oplog"
	"github.com/oddjobs/oj/internal/state"
)

// --- request shapes ---

type getJobRequest struct {
	ID string `json:"id"`
}

type getJobLogsRequest struct {
	ID     string `json:"id"`
	Lines  int    `json:"lines"`
	Offset int    `json:"offset"`
}

type getAgentRequest struct {
	ID string `json:"id"`
}

type listAgentsRequest struct {
	Job    string `json:"job"`
	Status string `json:"status"`
}

type listQueuesRequest struct {
	Project string `json:"project"`
}

type listQueueItemsRequest struct {
	Queue string `json:"queue"`
}

type listDecisionsRequest struct {
	Project string `json:"project"`
}

type getDecisionRequest struct {
	ID string `json:"id"`
}

type scopedLogRequest struct {
	Scoped string `json:"scoped"`
	Lines  int    `json:"lines"`
	Offset int    `json:"offset"`
}

type getAgentLogsRequest struct {
	ID     string `json:"id"`
	Lines  int    `json:"lines"`
	Offset int    `json:"offset"`
}

// --- response shapes ---

type jobsResponse struct {
	Type string    `json:"type"`
	Jobs []jobView `json:"jobs"`
}

type jobResponse struct {
	Type string  `json:"type"`
	Job  jobView `json:"job"`
}

type logLinesResponse struct {
	Type  string   `json:"type"`
	Lines []string `json:"lines"`
}

type agentResponse struct {
	Type  string    `json:"type"`
	Agent agentView `json:"agent"`
}

type agentsResponse struct {
	Type   string      `json:"type"`
	Agents []agentView `json:"agents"`
}

type workersResponse struct {
	Type    string       `json:"type"`
	Workers []workerView `json:"workers"`
}

type cronsResponse struct {
	Type  string     `json:"type"`
	Crons []cronView `json:"crons"`
}

type queueItemsResponse struct {
	Type  string          `json:"type"`
	Items []queueItemView `json:"items"`
}

type decisionsResponse struct {
	Type      string         `json:"type"`
	Decisions []decisionView `json:"decisions"`
}

type decisionResponse struct {
	Type     string       `json:"type"`
	Decision decisionView `json:"decision"`
}

type projectsResponse struct {
	Type     string        `json:"type"`
	Projects []projectView `json:"projects"`
}

type orphansResponse struct {
	Type    string       `json:"type"`
	Orphans []orphanView `json:"orphans"`
}

type statusOverviewResponse struct {
	Type          string `json:"type"`
	JobCount      int    `json:"jobCount"`
	CrewCount     int    `json:"crewCount"`
	AgentCount    int    `json:"agentCount"`
	RunningAgents int    `json:"runningAgents"`
	PendingDecs   int    `json:"pendingDecisions"`
	WorkerCount   int    `json:"workerCount"`
	CronCount     int    `json:"cronCount"`
	LastSeq       uint64 `json:"lastSeq"`
}

// --- handlers ---
// Every handler here is a pure read of MaterializedState, called under
// EventBus.View's read lock (spec §4.7 "Queries complete without emitting
// events").

func (l *Listener) handleListJobs(s *state.MaterializedState) any {
	out := make([]jobView, 0, len(s.Jobs))
	for _, j := range s.Jobs {
		out = append(out, toJobView(j))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtMS < out[j].CreatedAtMS })
	return jobsResponse{Type: "Jobs", Jobs: out}
}

func (l *Listener) handleGetJob(s *state.MaterializedState, req getJobRequest) any {
	full, err := ids.Resolve(jobIDStrings(s), req.ID)
	if err != nil {
		return errResp("job not found: %s", req.ID)
	}
	j := s.Jobs[ids.JobID(full)]
	return jobResponse{Type: "Job", Job: toJobView(j)}
}

func jobIDStrings(s *state.MaterializedState) []string {
	out := make([]string, 0, len(s.Jobs))
	for id := range s.Jobs {
		out = append(out, string(id))
	}
	return out
}

func (l *Listener) handleGetJobLogs(req getJobLogsRequest) any {
	full, err := ids.Resolve(l.knownJobIDs(), req.ID)
	if err != nil {
		return errResp("job not found: %s", req.ID)
	}
	lines, err := l.oplog.ReadLines(oplog.JobLogPath(ids.JobID(full)), req.Offset, req.Lines)
	if err != nil {
		return errResp("reading job logs: %v", err)
	}
	return logLinesResponse{Type: "LogLines", Lines: lines}
}

func (l *Listener) knownJobIDs() []string {
	var out []string
	l.bus.View(func(s *state.MaterializedState) { out = jobIDStrings(s) })
	return out
}

func (l *Listener) handleGetAgent(s *state.MaterializedState, req getAgentRequest) any {
	full, err := ids.Resolve(agentIDStrings(s), req.ID)
	if err != nil {
		return errResp("agent not found: %s", req.ID)
	}
	a := s.Agents[ids.AgentID(full)]
	return agentResponse{Type: "Agent", Agent: toAgentView(a)}
}

func agentIDStrings(s *state.MaterializedState) []string {
	out := make([]string, 0, len(s.Agents))
	for id := range s.Agents {
		out = append(out, string(id))
	}
	return out
}

func (l *Listener) handleListAgents(s *state.MaterializedState, req listAgentsRequest) any {
	out := make([]agentView, 0, len(s.Agents))
	for _, a := range s.Agents {
		if req.Status != "" && a.Status.String() != req.Status {
			continue
		}
		out = append(out, toAgentView(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtMS < out[j].CreatedAtMS })
	return agentsResponse{Type: "Agents", Agents: out}
}

func (l *Listener) handleListQueues(s *state.MaterializedState, req listQueuesRequest) any {
	seen := map[string]bool{}
	var names []string
	for scoped := range s.QueueItemsByQueue {
		if seen[scoped] {
			continue
		}
		seen[scoped] = true
		names = append(names, scoped)
	}
	sort.Strings(names)
	type queueSummary struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	out := make([]queueSummary, 0, len(names))
	for _, n := range names {
		out = append(out, queueSummary{Name: n, Count: len(s.QueueItemsByQueue[n])})
	}
	return struct {
		Type   string         `json:"type"`
		Queues []queueSummary `json:"queues"`
	}{Type: "Queues", Queues: out}
}

func (l *Listener) handleListQueueItems(s *state.MaterializedState, req listQueueItemsRequest) any {
	itemIDs := s.QueueItemsByQueue[req.Queue]
	out := make([]queueItemView, 0, len(itemIDs))
	for _, id := range itemIDs {
		if item, ok := s.QueueItems[id]; ok {
			out = append(out, toQueueItemView(item))
		}
	}
	return queueItemsResponse{Type: "QueueItems", Items: out}
}

func (l *Listener) handleListDecisions(s *state.MaterializedState, req listDecisionsRequest) any {
	out := make([]decisionView, 0, len(s.Decisions))
	for _, d := range s.Decisions {
		if req.Project != "" && d.Project != req.Project {
			continue
		}
		out = append(out, toDecisionView(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtMS < out[j].CreatedAtMS })
	return decisionsResponse{Type: "Decisions", Decisions: out}
}

func (l *Listener) handleGetDecision(s *state.MaterializedState, req getDecisionRequest) any {
	d, ok := s.Decisions[ids.DecisionID(req.ID)]
	if !ok {
		return errResp("decision not found: %s", req.ID)
	}
	return decisionResponse{Type: "Decision", Decision: toDecisionView(d)}
}

func (l *Listener) handleStatusOverview(s *state.MaterializedState) any {
	running := 0
	for _, a := range s.Agents {
		if a.Status.String() == "running" {
			running++
		}
	}
	pending := 0
	for _, d := range s.Decisions {
		if !d.Resolved() && !d.Superseded() {
			pending++
		}
	}
	return statusOverviewResponse{
		Type:          "StatusOverview",
		JobCount:      len(s.Jobs),
		CrewCount:     len(s.Crews),
		AgentCount:    len(s.Agents),
		RunningAgents: running,
		PendingDecs:   pending,
		WorkerCount:   len(s.Workers),
		CronCount:     len(s.Crons),
		LastSeq:       s.LastSeq,
	}
}

func (l *Listener) handleListWorkers(s *state.MaterializedState) any {
	out := make([]workerView, 0, len(s.Workers))
	for _, w := range s.Workers {
		out = append(out, toWorkerView(w))
	}
	return workersResponse{Type: "Workers", Workers: out}
}

func (l *Listener) handleListCrons(s *state.MaterializedState) any {
	out := make([]cronView, 0, len(s.Crons))
	for _, c := range s.Crons {
		out = append(out, toCronView(c))
	}
	return cronsResponse{Type: "Crons", Crons: out}
}

func (l *Listener) handleListProjects() any {
	if l.registry == nil {
		return projectsResponse{Type: "Projects"}
	}
	projects, err := l.registry.ListProjects()
	if err != nil {
		return errResp("listing projects: %v", err)
	}
	out := make([]projectView, 0, len(projects))
	for _, p := range projects {
		out = append(out, toProjectView(p))
	}
	return projectsResponse{Type: "Projects", Projects: out}
}

func (l *Listener) handleListOrphans() any {
	if l.registry == nil {
		return orphansResponse{Type: "Orphans"}
	}
	rows, err := l.registry.ListOrphans()
	if err != nil {
		return errResp("listing orphans: %v", err)
	}
	out := make([]orphanView, 0, len(rows))
	for _, r := range rows {
		out = append(out, toOrphanView(r))
	}
	return orphansResponse{Type: "Orphans", Orphans: out}
}

func (l *Listener) handleGetAgentLogs(req getAgentLogsRequest) any {
	lines, err := l.oplog.ReadLines(oplog.AgentLogPath(ids.AgentID(req.ID)), req.Offset, req.Lines)
	if err != nil {
		return errResp("reading agent logs: %v", err)
	}
	return logLinesResponse{Type: "LogLines", Lines: lines}
}

func (l *Listener) handleGetWorkerLogs(req scopedLogRequest) any {
	lines, err := l.oplog.ReadLines(oplog.WorkerLogPath(req.Scoped), req.Offset, req.Lines)
	if err != nil {
		return errResp("reading worker logs: %v", err)
	}
	return logLinesResponse{Type: "LogLines", Lines: lines}
}

func (l *Listener) handleGetCronLogs(req scopedLogRequest) any {
	lines, err := l.oplog.ReadLines(oplog.CronLogPath(req.Scoped), req.Offset, req.Lines)
	if err != nil {
		return errResp("reading cron logs: %v", err)
	}
	return logLinesResponse{Type: "LogLines", Lines: lines}
}

func (l *Listener) handleGetQueueLogs(req scopedLogRequest) any {
	lines, err := l.oplog.ReadLines(oplog.QueueLogPath(req.Scoped), req.Offset, req.Lines)
	if err != nil {
		return errResp("reading queue logs: %v", err)
	}
	return logLinesResponse{Type: "LogLines", Lines: lines}
}
