// Package executor turns Effects into actual I/O: timers get armed on the
// Scheduler, shells run out of line, and agent/workspace operations are
// delegated to an AgentSupervisor. Effects that complete asynchronously
// report back into the EventBus as ordinary events, never as direct
// return values, so every observable state change still flows through
// the single WAL append path (spec §4.6, §5).
package executor

import (
	"context"
	"fmt"
	"os/exec"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/oddjobs/oj/internal/agentsup"
	"github.com/oddjobs/oj/internal/clock"
	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/logger"
)

// Sink is how completed/asynchronous effects re-enter the system: always
// as a Send on the EventBus, never a direct function return (spec §4.6).
type Sink interface {
	Send(ev event.Event) (uint64, []effect.Effect, error)
}

// Executor interprets Effects. Fast, synchronous ones (SetTimer,
// CancelTimer, Emit, and the agent SendAgent/RespondToAgent calls) run
// inline on the caller's goroutine; slow ones (Shell, agent spawn, agent
// and session kill) run on a bounded worker pool so a hung
// subprocess cannot stall the event loop (spec §4.6 "single-writer loop
// with a bounded worker pool for slow effects").
type Executor struct {
	sched     *clock.Scheduler
	sup       agentsup.Supervisor
	sink      Sink
	log       *logger.Logger
	sem       *semaphore.Weighted
}

// New builds an Executor. maxConcurrentSlow bounds how many Shell/agent
// operations may be in flight at once.
func New(sched *clock.Scheduler, sup agentsup.Supervisor, sink Sink, log *logger.Logger, maxConcurrentSlow int64) *Executor {
	return &Executor{
		sched: sched,
		sup:   sup,
		sink:  sink,
		log:   log,
		sem:   semaphore.NewWeighted(maxConcurrentSlow),
	}
}

// Run executes effs in order. Fast effects run synchronously; slow ones
// are launched on a goroutine gated by the semaphore and report their
// outcome back through Sink once done (spec §4.6).
func (ex *Executor) Run(ctx context.Context, effs []effect.Effect) error {
	for _, e := range effs {
		if err := ex.runOne(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (ex *Executor) runOne(ctx context.Context, e effect.Effect) error {
	switch v := e.(type) {
	case effect.Emit:
		_, effs, err := ex.sink.Send(v.Event)
		if err != nil {
			return fmt.Errorf("executor: emitting %s: %w", v.Event.Kind(), err)
		}
		return ex.Run(ctx, effs)

	case effect.SetTimer:
		ex.sched.Set(v.ID, v.AtMS)
		return nil

	case effect.CancelTimer:
		ex.sched.Cancel(v.ID)
		return nil

	case effect.Shell:
		ex.runSlow(ctx, func() {
			ex.runShell(ctx, v)
		})
		return nil

	case effect.SpawnAgent:
		ex.runSlow(ctx, func() {
			ex.spawnAgent(ctx, v)
		})
		return nil

	case effect.SendAgent:
		return ex.sup.Send(ctx, v.AgentID, v.Message)

	case effect.RespondToAgent:
		return ex.sup.Respond(ctx, v.AgentID, v.Chosen, v.Choices, v.Message)

	case effect.KillAgent:
		ex.runSlow(ctx, func() {
			if err := ex.sup.Kill(ctx, v.AgentID, v.Reason); err != nil {
				ex.log.WithError(err).Warn("kill agent failed", zap.String("agent_id", string(v.AgentID)))
			}
		})
		return nil

	case effect.KillSession:
		ex.runSlow(ctx, func() {
			if err := ex.sup.KillSession(ctx, v.SessionID, v.Reason); err != nil {
				ex.log.WithError(err).Warn("kill session failed", zap.String("session_id", v.SessionID))
			}
		})
		return nil

	case effect.CreateWorkspace, effect.DeleteWorkspace, effect.CaptureAgent:
		// Workspace provisioning and capture are collaborator concerns
		// delegated to runbook.Provider-adjacent tooling out of this
		// module's scope (spec §1, §6.5); the executor only logs receipt
		// so the effect is visibly accounted for rather than silently
		// dropped.
		ex.log.Debug("effect not wired to a concrete backend", zap.String("kind", fmt.Sprintf("%T", e)))
		return nil

	case effect.Notify:
		ex.log.Info(v.Message, zap.String("level", v.Level))
		return nil

	default:
		return fmt.Errorf("executor: unhandled effect type %T", e)
	}
}

func (ex *Executor) runSlow(ctx context.Context, fn func()) {
	if err := ex.sem.Acquire(ctx, 1); err != nil {
		ex.log.WithError(err).Warn("slow effect dropped: acquiring semaphore")
		return
	}
	go func() {
		defer ex.sem.Release(1)
		fn()
	}()
}

func (ex *Executor) runShell(ctx context.Context, v effect.Shell) {
	cmd := exec.CommandContext(ctx, v.Command, v.Args...)
	cmd.Dir = v.Cwd
	for k, val := range v.Env {
		cmd.Env = append(cmd.Env, k+"="+val)
	}
	stdout, stderr := &limitedBuffer{}, &limitedBuffer{}
	cmd.Stdout, cmd.Stderr = stdout, stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	if v.OnDone == nil {
		return
	}
	ev := v.OnDone(exitCode, stdout.String(), stderr.String())
	if ev == nil {
		return
	}
	if _, _, err := ex.sink.Send(ev); err != nil {
		ex.log.WithError(err).Error("reporting shell completion failed")
	}
}

func (ex *Executor) spawnAgent(ctx context.Context, v effect.SpawnAgent) {
	if err := ex.sup.Spawn(ctx, agentsup.SpawnRequest{
		AgentID:       v.AgentID,
		AgentName:     v.AgentName,
		Owner:         v.Owner,
		WorkspacePath: v.WorkspacePath,
		Runtime:       v.Runtime,
		Command:       v.Command,
		Env:           v.Env,
	}); err != nil {
		ex.log.WithError(err).Error("spawn agent failed", zap.String("agent_id", string(v.AgentID)))
		if _, _, serr := ex.sink.Send(event.AgentFailed{AgentID: v.AgentID, Message: err.Error()}); serr != nil {
			ex.log.WithError(serr).Error("reporting spawn failure failed")
		}
		return
	}
	if _, _, err := ex.sink.Send(event.AgentSpawned{
		AgentID:       v.AgentID,
		AgentName:     v.AgentName,
		Owner:         v.Owner,
		WorkspacePath: v.WorkspacePath,
		Runtime:       v.Runtime,
	}); err != nil {
		ex.log.WithError(err).Error("reporting agent spawn failed", zap.String("agent_id", string(v.AgentID)))
	}
}
