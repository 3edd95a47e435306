package agentsup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/logger"
)

func newTestLocal(t *testing.T) *Local {
	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	require.NoError(t, err)
	return NewLocal(log)
}

func drainUntil(t *testing.T, l *Local, kind EventKind, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-l.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %v", kind)
		}
	}
}

func TestLocalSpawnEchoesStdinToStdoutAsWorking(t *testing.T) {
	l := newTestLocal(t)
	agentID := ids.AgentID("agt-echo")

	err := l.Spawn(context.Background(), SpawnRequest{
		AgentID: agentID,
		Command: []string{"cat"},
	})
	require.NoError(t, err)

	drainUntil(t, l, EventWorking, time.Second) // the "spawned" notice

	require.NoError(t, l.Send(context.Background(), agentID, "hello"))
	ev := drainUntil(t, l, EventWorking, time.Second)
	assert.Equal(t, "hello", ev.Message)

	require.NoError(t, l.Kill(context.Background(), agentID, "test done"))
	drainUntil(t, l, EventExited, time.Second)
}

func TestLocalSpawnRejectsEmptyCommand(t *testing.T) {
	l := newTestLocal(t)
	err := l.Spawn(context.Background(), SpawnRequest{AgentID: ids.AgentID("agt-1")})
	assert.Error(t, err)
}

func TestLocalSendToUnknownAgentFails(t *testing.T) {
	l := newTestLocal(t)
	err := l.Send(context.Background(), ids.AgentID("agt-ghost"), "hi")
	assert.Error(t, err)
}

func TestLocalExitReportsExitCode(t *testing.T) {
	l := newTestLocal(t)
	agentID := ids.AgentID("agt-exit")

	err := l.Spawn(context.Background(), SpawnRequest{
		AgentID: agentID,
		Command: []string{"sh", "-c", "exit 3"},
	})
	require.NoError(t, err)

	ev := drainUntil(t, l, EventExited, time.Second)
	assert.Equal(t, 3, ev.ExitCode)
}
