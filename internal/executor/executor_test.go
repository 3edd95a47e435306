package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddjobs/oj/internal/agentsup"
	"github.com/oddjobs/oj/internal/clock"
	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/logger"
)

type fakeSink struct {
	mu   sync.Mutex
	sent []event.Event
}

func (f *fakeSink) Send(ev event.Event) (uint64, []effect.Effect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, ev)
	return 1, nil, nil
}

func (f *fakeSink) events() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]event.Event, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeSupervisor struct {
	mu          sync.Mutex
	spawned     []agentsup.SpawnRequest
	sent        []string
	killed      []ids.AgentID
	spawnErr    error
}

func (f *fakeSupervisor) Spawn(ctx context.Context, req agentsup.SpawnRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return f.spawnErr
	}
	f.spawned = append(f.spawned, req)
	return nil
}

func (f *fakeSupervisor) Send(ctx context.Context, agentID ids.AgentID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeSupervisor) Respond(ctx context.Context, agentID ids.AgentID, chosen string, choices []int, message string) error {
	return nil
}

func (f *fakeSupervisor) Kill(ctx context.Context, agentID ids.AgentID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, agentID)
	return nil
}

func (f *fakeSupervisor) KillSession(ctx context.Context, sessionID string, reason string) error {
	return nil
}

func (f *fakeSupervisor) Capture(ctx context.Context, agentID ids.AgentID) (agentsup.Transcript, error) {
	return agentsup.Transcript{}, nil
}

func (f *fakeSupervisor) Events() <-chan agentsup.Event {
	return nil
}

func newTestExecutor() (*Executor, *fakeSink, *fakeSupervisor, *clock.Scheduler) {
	sink := &fakeSink{}
	sup := &fakeSupervisor{}
	sched := clock.NewScheduler()
	log, _ := logger.New(logger.Config{Level: "error", Format: "console"})
	return New(sched, sup, sink, log, 4), sink, sup, sched
}

func TestRunArmsTimer(t *testing.T) {
	ex, _, _, sched := newTestExecutor()
	require.NoError(t, ex.Run(context.Background(), []effect.Effect{
		effect.SetTimer{ID: ids.TimerID("cron:nightly"), AtMS: 5000},
	}))
	assert.True(t, sched.Pending(ids.TimerID("cron:nightly")))
}

func TestRunCancelTimer(t *testing.T) {
	ex, _, _, sched := newTestExecutor()
	sched.Set(ids.TimerID("cron:nightly"), 5000)
	require.NoError(t, ex.Run(context.Background(), []effect.Effect{
		effect.CancelTimer{ID: ids.TimerID("cron:nightly")},
	}))
	assert.False(t, sched.Pending(ids.TimerID("cron:nightly")))
}

func TestRunEmitForwardsToSink(t *testing.T) {
	ex, sink, _, _ := newTestExecutor()
	require.NoError(t, ex.Run(context.Background(), []effect.Effect{
		effect.Emit{Event: event.JobDeleted{JobID: ids.JobID("job-1"), AtMS: 1}},
	}))
	events := sink.events()
	require.Len(t, events, 1)
	assert.Equal(t, "JobDeleted", events[0].Kind())
}

func TestRunSendAgentDelegatesToSupervisor(t *testing.T) {
	ex, _, sup, _ := newTestExecutor()
	agentID := ids.AgentID("agt-1")
	require.NoError(t, ex.Run(context.Background(), []effect.Effect{
		effect.SendAgent{AgentID: agentID, Message: "continue"},
	}))
	assert.Equal(t, []string{"continue"}, sup.sent)
}

func TestRunKillAgentIsAsyncButEventuallyObserved(t *testing.T) {
	ex, _, sup, _ := newTestExecutor()
	agentID := ids.AgentID("agt-1")
	require.NoError(t, ex.Run(context.Background(), []effect.Effect{
		effect.KillAgent{AgentID: agentID, Reason: "operator request"},
	}))

	require.Eventually(t, func() bool {
		sup.mu.Lock()
		defer sup.mu.Unlock()
		return len(sup.killed) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRunSpawnAgentFailureReportsAgentFailed(t *testing.T) {
	ex, sink, sup, _ := newTestExecutor()
	sup.spawnErr = assert.AnError

	require.NoError(t, ex.Run(context.Background(), []effect.Effect{
		effect.SpawnAgent{AgentID: ids.AgentID("agt-1"), AgentName: "coder"},
	}))

	require.Eventually(t, func() bool {
		return len(sink.events()) == 1
	}, time.Second, 5*time.Millisecond)

	ev := sink.events()[0]
	failed, ok := ev.(event.AgentFailed)
	require.True(t, ok)
	assert.Equal(t, ids.AgentID("agt-1"), failed.AgentID)
}
