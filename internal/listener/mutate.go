package listener

import (
	"context"
	"fmt"

	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/model"
	"github.com/oddjobs/oj/internal/state"
)

// Mutation requests translate into one or more Events sent through the
// EventBus (spec §4.7). The bus itself only appends+applies+forwards; the
// listener is responsible for running whatever Effects the Runtime handler
// returned, same as the daemon's own event loop would for any other event
// source (spec §4.3 data-flow diagram).

type runCommandRequest struct {
	ProjectPath string            `json:"projectPath"`
	Project     string            `json:"project"`
	Command     string            `json:"command"`
	Args        []string          `json:"args"`
	NamedArgs   map[string]string `json:"namedArgs"`
}

type jobIDRequest struct {
	ID string `json:"id"`
}

type agentSendRequest struct {
	AgentID string `json:"agentId"`
	Message string `json:"message"`
}

type agentKillRequest struct {
	AgentID string `json:"agentId"`
	Reason  string `json:"reason"`
}

type agentResumeRequest struct {
	AgentID string `json:"agentId"`
}

type workerStartRequest struct {
	Name        string `json:"name"`
	Project     string `json:"project"`
	ProjectPath string `json:"projectPath"`
	RunbookHash string `json:"runbookHash"`
	Queue       string `json:"queue"`
	Concurrency int    `json:"concurrency"`
}

type workerStopRequest struct {
	Name    string `json:"name"`
	Project string `json:"project"`
}

type queuePushRequest struct {
	Queue string         `json:"queue"`
	Data  map[string]any `json:"data"`
}

type decisionResolveRequest struct {
	ID      string `json:"id"`
	Chosen  string `json:"chosen"`
	Choices []int  `json:"choices"`
	Message string `json:"message"`
}

type workspaceDropRequest struct {
	ID string `json:"id"`
}

type cronStartRequest struct {
	Name        string          `json:"name"`
	Project     string          `json:"project"`
	ProjectPath string          `json:"projectPath"`
	RunbookHash string          `json:"runbookHash"`
	Interval    string          `json:"interval"`
	Target      model.RunTarget `json:"target"`
	Concurrency int             `json:"concurrency"`
}

type cronStopRequest struct {
	Name    string `json:"name"`
	Project string `json:"project"`
}

// send appends ev and runs the effects the handler returns, mirroring the
// daemon's own event loop (spec §4.3, §4.6). A WAL append failure is a
// fatal-to-the-daemon condition (spec §7 kind 5); the listener only reports
// it back as a validation-shaped error, it does not attempt recovery.
func (l *Listener) send(ctx context.Context, ev event.Event) (uint64, []effect.Effect, error) {
	seq, effs, err := l.bus.Send(ev)
	if err != nil {
		return 0, nil, fmt.Errorf("appending %s: %w", ev.Kind(), err)
	}
	if err := l.executor.Run(ctx, effs); err != nil {
		l.log.WithError(err).Error("running effects for " + ev.Kind() + " failed")
	}
	return seq, effs, nil
}

func firstEmittedJobID(effs []effect.Effect) (ids.JobID, bool) {
	for _, e := range effs {
		if emit, ok := e.(effect.Emit); ok {
			if jc, ok := emit.Event.(event.JobCreated); ok {
				return jc.ID, true
			}
		}
	}
	return "", false
}

func (l *Listener) handleRunCommand(ctx context.Context, req runCommandRequest) any {
	if req.Command == "" {
		return errResp("run command: command name required")
	}
	_, effs, err := l.send(ctx, event.CommandRun{
		Command:     req.Command,
		Project:     req.Project,
		ProjectPath: req.ProjectPath,
		Args:        req.Args,
		NamedArgs:   req.NamedArgs,
		AtMS:        l.clock.NowMS(),
	})
	if err != nil {
		return errResp("run command: %v", err)
	}
	jobID, ok := firstEmittedJobID(effs)
	if !ok {
		return errResp("unknown command: %s", req.Command)
	}
	return struct {
		Type  string `json:"type"`
		JobID string `json:"jobId"`
	}{Type: "JobStarted", JobID: string(jobID)}
}

// resolveJobID resolves a (possibly short) job id prefix under the bus's
// read lock, mirroring the CLI's own id-prefix resolution (spec §3 "Id").
func (l *Listener) resolveJobID(prefix string) (ids.JobID, error) {
	var full string
	var err error
	l.bus.View(func(s *state.MaterializedState) {
		full, err = ids.Resolve(jobIDStrings(s), prefix)
	})
	if err != nil {
		return "", fmt.Errorf("job not found: %s", prefix)
	}
	return ids.JobID(full), nil
}

func (l *Listener) jobStepStatus(jobID ids.JobID) (string, string) {
	var step, cwd string
	l.bus.View(func(s *state.MaterializedState) {
		if j, ok := s.Jobs[jobID]; ok {
			step, cwd = j.Step, j.Cwd
		}
	})
	return step, cwd
}

func (l *Listener) handleJobCancel(ctx context.Context, req jobIDRequest) any {
	jobID, err := l.resolveJobID(req.ID)
	if err != nil {
		return errResp("%v", err)
	}
	step, _ := l.jobStepStatus(jobID)
	if _, _, err := l.send(ctx, event.JobAdvanced{
		JobID: jobID, Step: step, StepStatus: model.StepFailed, Reason: "cancelled", AtMS: l.clock.NowMS(),
	}); err != nil {
		return errResp("cancel job: %v", err)
	}
	return ok()
}

func (l *Listener) handleJobSuspend(ctx context.Context, req jobIDRequest) any {
	jobID, err := l.resolveJobID(req.ID)
	if err != nil {
		return errResp("%v", err)
	}
	step, _ := l.jobStepStatus(jobID)
	if _, _, err := l.send(ctx, event.JobAdvanced{
		JobID: jobID, Step: step, StepStatus: model.StepSuspended, Reason: "suspended by operator", AtMS: l.clock.NowMS(),
	}); err != nil {
		return errResp("suspend job: %v", err)
	}
	return ok()
}

func (l *Listener) handleJobResume(ctx context.Context, req jobIDRequest) any {
	jobID, err := l.resolveJobID(req.ID)
	if err != nil {
		return errResp("%v", err)
	}
	step, _ := l.jobStepStatus(jobID)
	if _, _, err := l.send(ctx, event.JobAdvanced{
		JobID: jobID, Step: step, StepStatus: model.StepRunning, Reason: "resumed by operator", AtMS: l.clock.NowMS(),
	}); err != nil {
		return errResp("resume job: %v", err)
	}
	return ok()
}

func (l *Listener) handleJobPrune(ctx context.Context, req jobIDRequest) any {
	jobID, err := l.resolveJobID(req.ID)
	if err != nil {
		return errResp("%v", err)
	}
	if _, _, err := l.send(ctx, event.JobDeleted{JobID: jobID, AtMS: l.clock.NowMS()}); err != nil {
		return errResp("prune job: %v", err)
	}
	return ok()
}

// resolveAgentID mirrors resolveJobID for agent ids.
func (l *Listener) resolveAgentID(prefix string) (ids.AgentID, error) {
	var full string
	var err error
	l.bus.View(func(s *state.MaterializedState) {
		full, err = ids.Resolve(agentIDStrings(s), prefix)
	})
	if err != nil {
		return "", fmt.Errorf("agent not found: %s", prefix)
	}
	return ids.AgentID(full), nil
}

// agentEffect runs a single agent-directed Effect through the Executor,
// without going through EventBus.Send: these are supervisor operations, not
// state transitions in their own right — the resulting AgentWorking/
// AgentFailed/AgentExited state changes arrive later as ordinary events
// reported by the Supervisor itself (spec §4.9). Send and Respond run
// inline and finish before it returns; Kill is a slow effect that the
// Executor hands to its bounded pool, so it completes asynchronously.
func (l *Listener) agentEffect(ctx context.Context, e effect.Effect) any {
	if err := l.executor.Run(ctx, []effect.Effect{e}); err != nil {
		return errResp("agent operation failed: %v", err)
	}
	return ok()
}

func (l *Listener) handleAgentSend(ctx context.Context, req agentSendRequest) any {
	agentID, err := l.resolveAgentID(req.AgentID)
	if err != nil {
		return errResp("%v", err)
	}
	return l.agentEffect(ctx, effect.SendAgent{AgentID: agentID, Message: req.Message})
}

func (l *Listener) handleAgentKill(ctx context.Context, req agentKillRequest) any {
	agentID, err := l.resolveAgentID(req.AgentID)
	if err != nil {
		return errResp("%v", err)
	}
	return l.agentEffect(ctx, effect.KillAgent{AgentID: agentID, Reason: req.Reason})
}

// handleAgentResume wakes an idle/waiting agent back up. There is no
// distinct wire protocol for "just resume" versus "respond with a specific
// choice", so this sends a structured response with Chosen "resume", which the
// Supervisor interprets the same way a bare Enter keystroke would (spec
// §4.9 AgentSupervisor.respond).
func (l *Listener) handleAgentResume(ctx context.Context, req agentResumeRequest) any {
	agentID, err := l.resolveAgentID(req.AgentID)
	if err != nil {
		return errResp("%v", err)
	}
	return l.agentEffect(ctx, effect.RespondToAgent{AgentID: agentID, Chosen: "resume"})
}

func (l *Listener) handleWorkerStart(ctx context.Context, req workerStartRequest) any {
	if req.Concurrency <= 0 {
		req.Concurrency = 1
	}
	if _, _, err := l.send(ctx, event.WorkerStarted{
		Name: req.Name, Project: req.Project, ProjectPath: req.ProjectPath,
		RunbookHash: req.RunbookHash, Queue: req.Queue, Concurrency: req.Concurrency,
		AtMS: l.clock.NowMS(),
	}); err != nil {
		return errResp("start worker: %v", err)
	}
	return ok()
}

func (l *Listener) handleWorkerStop(ctx context.Context, req workerStopRequest) any {
	if _, _, err := l.send(ctx, event.WorkerStopped{Name: req.Name, AtMS: l.clock.NowMS()}); err != nil {
		return errResp("stop worker: %v", err)
	}
	return ok()
}

func (l *Listener) handleWorkerRestart(ctx context.Context, req workerStartRequest) any {
	if _, _, err := l.send(ctx, event.WorkerStopped{Name: req.Name, AtMS: l.clock.NowMS()}); err != nil {
		return errResp("restart worker: %v", err)
	}
	return l.handleWorkerStart(ctx, req)
}

func (l *Listener) handleCronStart(ctx context.Context, req cronStartRequest) any {
	if req.Concurrency <= 0 {
		req.Concurrency = 1
	}
	if _, _, err := l.send(ctx, event.CronStarted{
		Name: req.Name, Project: req.Project, ProjectPath: req.ProjectPath,
		RunbookHash: req.RunbookHash, Interval: req.Interval, Target: req.Target,
		Concurrency: req.Concurrency, AtMS: l.clock.NowMS(),
	}); err != nil {
		return errResp("start cron: %v", err)
	}
	return ok()
}

func (l *Listener) handleCronStop(ctx context.Context, req cronStopRequest) any {
	if _, _, err := l.send(ctx, event.CronStopped{Name: req.Name, Project: req.Project, AtMS: l.clock.NowMS()}); err != nil {
		return errResp("stop cron: %v", err)
	}
	return ok()
}

func (l *Listener) handleQueuePush(ctx context.Context, req queuePushRequest) any {
	if req.Queue == "" {
		return errResp("queue push: queue name required")
	}
	item := model.QueueItem{
		ID:         ids.NewJobID().String(), // reuse the opaque id minter; queue items share no dedicated prefix (spec §3 QueueItem "id: ULID-like")
		Queue:      req.Queue,
		Data:       req.Data,
		Status:     model.QueueItemPending,
		PushedAtMS: l.clock.NowMS(),
	}
	if _, _, err := l.send(ctx, event.QueuePushed{Queue: req.Queue, Item: item, AtMS: l.clock.NowMS()}); err != nil {
		return errResp("queue push: %v", err)
	}
	return ok()
}

func (l *Listener) handleDecisionResolve(ctx context.Context, req decisionResolveRequest) any {
	if _, _, err := l.send(ctx, event.DecisionResolved{
		ID: ids.DecisionID(req.ID), Chosen: req.Chosen, Choices: req.Choices, Message: req.Message, AtMS: l.clock.NowMS(),
	}); err != nil {
		return errResp("resolve decision: %v", err)
	}
	return ok()
}

func (l *Listener) handleWorkspaceDrop(ctx context.Context, req workspaceDropRequest) any {
	if _, _, err := l.send(ctx, event.WorkspaceDeleted{ID: ids.WorkspaceID(req.ID), AtMS: l.clock.NowMS()}); err != nil {
		return errResp("drop workspace: %v", err)
	}
	return ok()
}

// handleWorkspacePrune is identical to Drop at the event level: both just
// remove the workspace record. The CLI-level distinction (interactive
// confirm vs. batch sweep of unused workspaces) lives in the out-of-scope
// client, not the core (spec §1 scope, §6.5).
func (l *Listener) handleWorkspacePrune(ctx context.Context, req workspaceDropRequest) any {
	return l.handleWorkspaceDrop(ctx, req)
}
