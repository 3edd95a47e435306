package listener

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddjobs/oj/internal/agentsup"
	"github.com/oddjobs/oj/internal/bus"
	"github.com/oddjobs/oj/internal/clock"
	"github.com/oddjobs/oj/internal/config"
	"github.com/oddjobs/oj/internal/executor"
	"github.com/oddjobs/oj/internal/logger"
	"github.com/oddjobs/oj/internal/oplog"
	"github.com/oddjobs/oj/internal/registry"
	"github.com/oddjobs/oj/internal/runbook"
	"github.com/oddjobs/oj/internal/runtime"
	"github.com/oddjobs/oj/internal/state"
	"github.com/oddjobs/oj/internal/wal"
)

// testClient is a minimal synchronous client speaking the length-prefixed
// JSON protocol, used to drive the Listener end-to-end without a real CLI.
type testClient struct {
	conn net.Conn
}

func dialTestClient(t *testing.T, sockPath string) *testClient {
	t.Helper()
	var conn net.Conn
	require.Eventually(t, func() bool {
		c, err := net.Dial("unix", sockPath)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, time.Second, 10*time.Millisecond)
	return &testClient{conn: conn}
}

func (c *testClient) send(t *testing.T, req any) {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	_, err = c.conn.Write(lenBuf[:])
	require.NoError(t, err)
	_, err = c.conn.Write(data)
	require.NoError(t, err)
}

func (c *testClient) recv(t *testing.T) map[string]any {
	t.Helper()
	var lenBuf [4]byte
	_, err := readFull(c.conn, lenBuf[:])
	require.NoError(t, err)
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	_, err = readFull(c.conn, buf)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf, &out))
	return out
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func newTestListener(t *testing.T) (*Listener, string) {
	stateDir := t.TempDir()
	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	require.NoError(t, err)

	w, _, err := wal.Open(filepath.Join(stateDir, "oj.wal"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	rb := runbook.NewMemory()
	rb.Commands["build"] = runbook.CommandDef{Name: "build", JobKind: "build"}
	rb.Jobs["build"] = runbook.JobDef{
		Kind:      "build",
		FirstStep: "plan",
		Steps:     map[string]runbook.StepDef{"plan": {Name: "plan"}},
	}

	rt := runtime.New(rb, clock.NewFake(1000), log)
	b := bus.New(w, state.New(), rt)
	ex := executor.New(clock.NewScheduler(), agentsup.NewRouter(), b, log, 2)

	ops := oplog.New(stateDir, log)
	t.Cleanup(func() { _ = ops.Close() })

	reg, err := registry.Open(filepath.Join(stateDir, "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	sockPath := filepath.Join(stateDir, "oj.sock")
	cfg := config.ListenerConfig{
		SocketPath:       sockPath,
		RequestTimeoutMS: 2000,
		DrainTimeoutMS:   1000,
		MaxFrameBytes:    1 << 20,
	}
	l := New(cfg, stateDir, b, ex, clock.Real{}, log, ops, reg)
	require.NoError(t, l.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.Shutdown(ctx)
	})
	return l, sockPath
}

func TestHandshakeThenRunCommandThenListJobs(t *testing.T) {
	_, sockPath := newTestListener(t)
	c := dialTestClient(t, sockPath)

	c.send(t, helloRequest{Type: "Hello", Version: ProtocolVersion})
	hello := c.recv(t)
	assert.Equal(t, "HelloOk", hello["type"])

	c.send(t, struct {
		Type    string `json:"type"`
		Command string `json:"command"`
	}{Type: "RunCommand", Command: "build"})
	started := c.recv(t)
	assert.Equal(t, "JobStarted", started["type"])
	assert.NotEmpty(t, started["jobId"])

	c.send(t, struct {
		Type string `json:"type"`
	}{Type: "ListJobs"})
	jobs := c.recv(t)
	assert.Equal(t, "Jobs", jobs["type"])
	list, ok := jobs["jobs"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
}

func TestRunUnknownCommandReturnsError(t *testing.T) {
	_, sockPath := newTestListener(t)
	c := dialTestClient(t, sockPath)

	c.send(t, helloRequest{Type: "Hello", Version: ProtocolVersion})
	c.recv(t)

	c.send(t, struct {
		Type    string `json:"type"`
		Command string `json:"command"`
	}{Type: "RunCommand", Command: "does-not-exist"})
	resp := c.recv(t)
	assert.Equal(t, "Error", resp["type"])
}

func TestConnectionWithoutHelloIsRejected(t *testing.T) {
	_, sockPath := newTestListener(t)
	c := dialTestClient(t, sockPath)

	c.send(t, struct {
		Type string `json:"type"`
	}{Type: "ListJobs"})
	resp := c.recv(t)
	assert.Equal(t, "Error", resp["type"])
}
