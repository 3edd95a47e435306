package listener

import (
	"time"

	"github.com/oddjobs/oj/internal/model"
	"github.com/oddjobs/oj/internal/oplog"
	"github.com/oddjobs/oj/internal/registry"
)

// The view types below are the wire shapes for query responses (spec §6.1:
// "enumerated statuses serialize as snake_case"). They are built from the
// model package's internal representation rather than exposing it
// directly, so a field rename inside model doesn't silently change the
// wire contract.

type jobView struct {
	ID            string            `json:"id"`
	Kind          string            `json:"kind"`
	Name          string            `json:"name"`
	Project       string            `json:"project"`
	Cwd           string            `json:"cwd"`
	RunbookHash   string            `json:"runbookHash"`
	Step          string            `json:"step"`
	StepStatus    string            `json:"stepStatus"`
	WaitingReason string            `json:"waitingReason,omitempty"`
	WorkspaceID   string            `json:"workspaceId,omitempty"`
	WorkspacePath string            `json:"workspacePath,omitempty"`
	SessionID     string            `json:"sessionId,omitempty"`
	Error         string            `json:"error,omitempty"`
	Vars          map[string]string `json:"vars,omitempty"`
	CreatedAtMS   int64             `json:"createdAtMs"`
	UpdatedAtMS   int64             `json:"updatedAtMs"`
}

func toJobView(j *model.Job) jobView {
	return jobView{
		ID:            string(j.ID),
		Kind:          j.Kind,
		Name:          j.Name,
		Project:       j.Project,
		Cwd:           j.Cwd,
		RunbookHash:   j.RunbookHash,
		Step:          j.Step,
		StepStatus:    j.StepStatus.String(),
		WaitingReason: j.WaitingReason,
		WorkspaceID:   string(j.WorkspaceID),
		WorkspacePath: j.WorkspacePath,
		SessionID:     j.SessionID,
		Error:         j.Error,
		Vars:          j.Vars,
		CreatedAtMS:   j.CreatedAtMS,
		UpdatedAtMS:   j.UpdatedAtMS,
	}
}

type agentView struct {
	AgentID       string `json:"agentId"`
	AgentName     string `json:"agentName"`
	Owner         string `json:"owner"`
	Project       string `json:"project"`
	WorkspacePath string `json:"workspacePath,omitempty"`
	Status        string `json:"status"`
	Runtime       string `json:"runtime"`
	ErrorKind     string `json:"errorKind,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
	ExitCode      int    `json:"exitCode,omitempty"`
	CreatedAtMS   int64  `json:"createdAtMs"`
	UpdatedAtMS   int64  `json:"updatedAtMs"`
}

func runtimeKindString(k model.AgentRuntimeKind) string {
	switch k {
	case model.RuntimeDocker:
		return "docker"
	case model.RuntimeKubernetes:
		return "kubernetes"
	default:
		return "local"
	}
}

func errorKindString(k model.AgentErrorKind) string {
	switch k {
	case model.AgentErrUnauthorized:
		return "unauthorized"
	case model.AgentErrOutOfCredits:
		return "out_of_credits"
	case model.AgentErrNoInternet:
		return "no_internet"
	case model.AgentErrRateLimited:
		return "rate_limited"
	case model.AgentErrOther:
		return "other"
	default:
		return ""
	}
}

func toAgentView(a *model.AgentRecord) agentView {
	return agentView{
		AgentID:       string(a.AgentID),
		AgentName:     a.AgentName,
		Owner:         a.Owner.String(),
		Project:       a.Project,
		WorkspacePath: a.WorkspacePath,
		Status:        a.Status.String(),
		Runtime:       runtimeKindString(a.Runtime),
		ErrorKind:     errorKindString(a.ErrorKind),
		ErrorMessage:  a.ErrorMessage,
		ExitCode:      a.ExitCode,
		CreatedAtMS:   a.CreatedAtMS,
		UpdatedAtMS:   a.UpdatedAtMS,
	}
}

type decisionView struct {
	ID           string           `json:"id"`
	AgentID      string           `json:"agentId"`
	Owner        string           `json:"owner"`
	Project      string           `json:"project"`
	Source       string           `json:"source"`
	Context      string           `json:"context"`
	Options      []model.Option   `json:"options,omitempty"`
	Questions    []model.Question `json:"questions,omitempty"`
	Choices      []int            `json:"choices,omitempty"`
	Message      string           `json:"message,omitempty"`
	Resolved     bool             `json:"resolved"`
	Superseded   bool             `json:"superseded"`
	SupersededBy string           `json:"supersededBy,omitempty"`
	CreatedAtMS  int64            `json:"createdAtMs"`
	ResolvedAtMS int64            `json:"resolvedAtMs,omitempty"`
}

func toDecisionView(d *model.Decision) decisionView {
	return decisionView{
		ID:           string(d.ID),
		AgentID:      string(d.AgentID),
		Owner:        d.Owner.String(),
		Project:      d.Project,
		Source:       d.Source.String(),
		Context:      d.Context,
		Options:      d.Options,
		Questions:    d.Questions,
		Choices:      d.Choices,
		Message:      d.Message,
		Resolved:     d.Resolved(),
		Superseded:   d.Superseded(),
		SupersededBy: string(d.SupersededBy),
		CreatedAtMS:  d.CreatedAtMS,
		ResolvedAtMS: d.ResolvedAtMS,
	}
}

type workerView struct {
	Name        string `json:"name"`
	Project     string `json:"project"`
	Status      string `json:"status"`
	Queue       string `json:"queue"`
	Concurrency int    `json:"concurrency"`
	Active      int    `json:"active"`
}

func toWorkerView(w *model.Worker) workerView {
	return workerView{
		Name:        w.Name,
		Project:     w.Project,
		Status:      w.Status.String(),
		Queue:       w.Queue,
		Concurrency: w.Concurrency,
		Active:      len(w.Active),
	}
}

type cronView struct {
	Name          string `json:"name"`
	Project       string `json:"project"`
	Status        string `json:"status"`
	Interval      string `json:"interval"`
	TargetKind    string `json:"targetKind"`
	TargetName    string `json:"targetName,omitempty"`
	Concurrency   int    `json:"concurrency"`
	ActiveFires   int    `json:"activeFires"`
	LastFiredAtMS int64  `json:"lastFiredAtMs,omitempty"`
}

func targetKindString(k model.RunTargetKind) string {
	switch k {
	case model.TargetAgent:
		return "agent"
	case model.TargetShell:
		return "shell"
	default:
		return "job"
	}
}

func toCronView(c *model.Cron) cronView {
	return cronView{
		Name:          c.Name,
		Project:       c.Project,
		Status:        cronStatusString(c.Status),
		Interval:      c.Interval,
		TargetKind:    targetKindString(c.Target.Kind),
		TargetName:    c.Target.Name,
		Concurrency:   c.Concurrency,
		ActiveFires:   c.ActiveFires,
		LastFiredAtMS: c.LastFiredAtMS,
	}
}

func cronStatusString(s model.CronStatus) string {
	if s == model.CronRunning {
		return "running"
	}
	return "stopped"
}

type queueItemView struct {
	ID         string `json:"id"`
	Queue      string `json:"queue"`
	Status     string `json:"status"`
	Worker     string `json:"worker,omitempty"`
	Failures   int    `json:"failures"`
	PushedAtMS int64  `json:"pushedAtMs"`
}

func toQueueItemView(q *model.QueueItem) queueItemView {
	return queueItemView{
		ID:         q.ID,
		Queue:      q.Queue,
		Status:     q.Status.String(),
		Worker:     q.Worker,
		Failures:   q.Failures,
		PushedAtMS: q.PushedAtMS,
	}
}

type projectView struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	LastSeenAt string `json:"lastSeenAt"`
}

func toProjectView(p registry.Project) projectView {
	return projectView{Name: p.Name, Path: p.Path, LastSeenAt: p.LastSeenAt.Format(rfc3339)}
}

type orphanView struct {
	JobID       string `json:"jobId"`
	Step        string `json:"step"`
	Status      string `json:"status"`
	Workspace   string `json:"workspace,omitempty"`
	RunbookHash string `json:"runbookHash,omitempty"`
	Cwd         string `json:"cwd,omitempty"`
	DetectedAt  string `json:"detectedAt"`
}

func toOrphanView(o registry.OrphanRow) orphanView {
	return orphanView{
		JobID:       o.JobID,
		Step:        o.Step,
		Status:      o.Status,
		Workspace:   o.Workspace,
		RunbookHash: o.RunbookHash,
		Cwd:         o.Cwd,
		DetectedAt:  o.DetectedAt.Format(rfc3339),
	}
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

// breadcrumbOrphanView renders a not-yet-recorded oplog.Breadcrumb (startup
// detection, before it's been persisted to the registry) the same shape as
// a registry orphan row (spec §4.10).
func breadcrumbOrphanView(b oplog.Breadcrumb) orphanView {
	return orphanView{
		JobID:       string(b.JobID),
		Step:        b.Step,
		Status:      b.Status,
		Workspace:   b.Workspace,
		RunbookHash: b.RunbookHash,
		Cwd:         b.Cwd,
		DetectedAt:  rfc3339Millis(b.AtMS),
	}
}

func rfc3339Millis(atMS int64) string {
	return time.UnixMilli(atMS).UTC().Format(rfc3339)
}
