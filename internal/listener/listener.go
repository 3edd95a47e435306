// Package listener implements the daemon's IPC surface: a length-prefixed
// JSON protocol over a Unix domain socket (and optionally TCP with bearer
// auth), serving queries against MaterializedState and forwarding
// mutations through the EventBus (spec §4.7, §6.1-§6.2). It also hosts the
// AgentAttach connection-upgrading request, which either hands back a
// local coop socket path or turns the connection into a raw byte bridge to
// a remote agent's WebSocket endpoint.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oddjobs/oj/internal/bus"
	"github.com/oddjobs/oj/internal/clock"
	"github.com/oddjobs/oj/internal/config"
	"github.com/oddjobs/oj/internal/executor"
	"github.com/oddjobs/oj/internal/logger"
	"github.com/oddjobs/oj/internal/oplog"
	"github.com/oddjobs/oj/internal/registry"
	"github.com/oddjobs/oj/internal/state"
)

// Listener owns the Unix/TCP accept loops. Each accepted connection is
// served by its own goroutine, one request at a time (spec §4.7
// "per-connection concurrency").
type Listener struct {
	cfg      config.ListenerConfig
	stateDir string
	bus      *bus.EventBus
	executor *executor.Executor
	clock    clock.Clock
	log      *logger.Logger
	oplog    *oplog.Store
	registry *registry.Registry

	unixLn net.Listener
	tcpLn  net.Listener

	mu       sync.Mutex
	conns    map[net.Conn]context.CancelFunc
	closing  bool
	wg       sync.WaitGroup
}

// New builds a Listener around the daemon's already-constructed core
// (spec §4.7's data-flow diagram: "the daemon constructs one Runtime
// bundle ... and passes references explicitly").
func New(cfg config.ListenerConfig, stateDir string, b *bus.EventBus, ex *executor.Executor, clk clock.Clock, log *logger.Logger, ops *oplog.Store, reg *registry.Registry) *Listener {
	return &Listener{
		cfg:      cfg,
		stateDir: stateDir,
		bus:      b,
		executor: ex,
		clock:    clk,
		log:      log.WithFields(zap.String("component", "listener")),
		oplog:    ops,
		registry: reg,
		conns:    make(map[net.Conn]context.CancelFunc),
	}
}

// Start binds the Unix socket (and TCP, if configured) and spawns the
// accept loops. It does not block.
func (l *Listener) Start() error {
	_ = os.Remove(l.cfg.SocketPath)
	unixLn, err := net.Listen("unix", l.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listener: binding unix socket %s: %w", l.cfg.SocketPath, err)
	}
	if err := os.Chmod(l.cfg.SocketPath, 0o600); err != nil {
		l.log.WithError(err).Warn("chmod unix socket failed")
	}
	l.unixLn = unixLn
	l.wg.Add(1)
	go l.acceptLoop(unixLn, false)

	if l.cfg.TCPPort != 0 {
		tcpLn, err := net.Listen("tcp", fmt.Sprintf(":%d", l.cfg.TCPPort))
		if err != nil {
			return fmt.Errorf("listener: binding tcp port %d: %w", l.cfg.TCPPort, err)
		}
		l.tcpLn = tcpLn
		l.wg.Add(1)
		go l.acceptLoop(tcpLn, true)
	}

	l.log.Info("listener started", zap.String("socket", l.cfg.SocketPath), zap.Int("tcp_port", l.cfg.TCPPort))
	return nil
}

func (l *Listener) acceptLoop(ln net.Listener, requireAuth bool) {
	defer l.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			l.mu.Lock()
			closing := l.closing
			l.mu.Unlock()
			if closing {
				return
			}
			l.log.WithError(err).Warn("accept failed")
			return
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.serve(conn, requireAuth)
		}()
	}
}

// serve drives one connection: handshake, then a read-service-write loop
// until the peer disconnects, the frame protocol is violated, or shutdown
// cancels the connection's token (spec §4.7 "handler task").
func (l *Listener) serve(conn net.Conn, requireAuth bool) {
	ctx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.conns[conn] = cancel
	l.mu.Unlock()
	defer func() {
		cancel()
		l.mu.Lock()
		delete(l.conns, conn)
		l.mu.Unlock()
		_ = conn.Close()
	}()

	if !l.handshake(conn, requireAuth) {
		return
	}

	maxFrame := l.cfg.MaxFrameBytes
	if maxFrame <= 0 {
		maxFrame = maxFrameBytesDefault
	}

	for {
		frame, err := readFrame(conn, maxFrame)
		if err != nil {
			return // disconnect or frame-size violation; close the connection
		}

		var env reqEnvelope
		if err := json.Unmarshal(frame, &env); err != nil {
			_ = writeResponse(conn, errResp("malformed request: %v", err))
			continue
		}

		if env.Type == "AgentAttach" {
			l.handleAgentAttach(ctx, conn, frame)
			return // connection is upgraded or closed either way
		}

		reqCtx, reqCancel := context.WithTimeout(ctx, l.requestTimeout())
		resp := l.dispatch(reqCtx, env.Type, frame)
		reqCancel()

		if err := writeResponse(conn, resp); err != nil {
			return
		}
	}
}

func (l *Listener) requestTimeout() time.Duration {
	if l.cfg.RequestTimeoutMS <= 0 {
		return 5 * time.Second
	}
	return l.cfg.RequestTimeout()
}

// handshake consumes the mandatory first Hello frame (spec §6.2).
func (l *Listener) handshake(conn net.Conn, requireAuth bool) bool {
	maxFrame := l.cfg.MaxFrameBytes
	if maxFrame <= 0 {
		maxFrame = maxFrameBytesDefault
	}
	frame, err := readFrame(conn, maxFrame)
	if err != nil {
		return false
	}
	var req helloRequest
	if err := json.Unmarshal(frame, &req); err != nil || req.Type != "Hello" {
		_ = writeResponse(conn, errResp("expected Hello as the first frame"))
		return false
	}
	if requireAuth && req.Token != l.cfg.AuthToken {
		_ = writeResponse(conn, errResp("invalid auth token"))
		return false
	}
	if req.Version != "" && req.Version != ProtocolVersion {
		l.log.Warn("client protocol version mismatch", zap.String("client_version", req.Version))
		_ = writeResponse(conn, errResp("protocol version mismatch: daemon %s, client %s", ProtocolVersion, req.Version))
		return false
	}
	return writeResponse(conn, helloOkResponse{Type: "HelloOk"}) == nil
}

// dispatch decodes frame into the concrete request type for reqType and
// calls the matching handler. Queries run under EventBus.View (read lock,
// no events emitted); mutations call l.send which appends+applies+runs
// effects (spec §4.7).
func (l *Listener) dispatch(ctx context.Context, reqType string, frame []byte) any {
	switch reqType {
	case "ListJobs":
		var resp any
		l.bus.View(func(s *state.MaterializedState) { resp = l.handleListJobs(s) })
		return resp
	case "GetJob":
		var req getJobRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed GetJob: %v", err)
		}
		var resp any
		l.bus.View(func(s *state.MaterializedState) { resp = l.handleGetJob(s, req) })
		return resp
	case "GetJobLogs":
		var req getJobLogsRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed GetJobLogs: %v", err)
		}
		return l.handleGetJobLogs(req)
	case "GetAgent":
		var req getAgentRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed GetAgent: %v", err)
		}
		var resp any
		l.bus.View(func(s *state.MaterializedState) { resp = l.handleGetAgent(s, req) })
		return resp
	case "ListAgents":
		var req listAgentsRequest
		_ = json.Unmarshal(frame, &req)
		var resp any
		l.bus.View(func(s *state.MaterializedState) { resp = l.handleListAgents(s, req) })
		return resp
	case "ListQueues":
		var req listQueuesRequest
		_ = json.Unmarshal(frame, &req)
		var resp any
		l.bus.View(func(s *state.MaterializedState) { resp = l.handleListQueues(s, req) })
		return resp
	case "ListQueueItems":
		var req listQueueItemsRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed ListQueueItems: %v", err)
		}
		var resp any
		l.bus.View(func(s *state.MaterializedState) { resp = l.handleListQueueItems(s, req) })
		return resp
	case "ListDecisions":
		var req listDecisionsRequest
		_ = json.Unmarshal(frame, &req)
		var resp any
		l.bus.View(func(s *state.MaterializedState) { resp = l.handleListDecisions(s, req) })
		return resp
	case "GetDecision":
		var req getDecisionRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed GetDecision: %v", err)
		}
		var resp any
		l.bus.View(func(s *state.MaterializedState) { resp = l.handleGetDecision(s, req) })
		return resp
	case "StatusOverview":
		var resp any
		l.bus.View(func(s *state.MaterializedState) { resp = l.handleStatusOverview(s) })
		return resp
	case "ListWorkers":
		var resp any
		l.bus.View(func(s *state.MaterializedState) { resp = l.handleListWorkers(s) })
		return resp
	case "ListCrons":
		var resp any
		l.bus.View(func(s *state.MaterializedState) { resp = l.handleListCrons(s) })
		return resp
	case "ListProjects":
		return l.handleListProjects()
	case "ListOrphans":
		return l.handleListOrphans()
	case "GetAgentLogs":
		var req getAgentLogsRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed GetAgentLogs: %v", err)
		}
		return l.handleGetAgentLogs(req)
	case "GetWorkerLogs":
		var req scopedLogRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed GetWorkerLogs: %v", err)
		}
		return l.handleGetWorkerLogs(req)
	case "GetCronLogs":
		var req scopedLogRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed GetCronLogs: %v", err)
		}
		return l.handleGetCronLogs(req)
	case "GetQueueLogs":
		var req scopedLogRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed GetQueueLogs: %v", err)
		}
		return l.handleGetQueueLogs(req)

	case "RunCommand":
		var req runCommandRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed RunCommand: %v", err)
		}
		return l.handleRunCommand(ctx, req)
	case "JobCancel":
		return l.withJobIDRequest(ctx, frame, l.handleJobCancel)
	case "JobSuspend":
		return l.withJobIDRequest(ctx, frame, l.handleJobSuspend)
	case "JobResume":
		return l.withJobIDRequest(ctx, frame, l.handleJobResume)
	case "JobPrune":
		return l.withJobIDRequest(ctx, frame, l.handleJobPrune)
	case "AgentSend":
		var req agentSendRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed AgentSend: %v", err)
		}
		return l.handleAgentSend(ctx, req)
	case "AgentKill":
		var req agentKillRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed AgentKill: %v", err)
		}
		return l.handleAgentKill(ctx, req)
	case "AgentResume":
		var req agentResumeRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed AgentResume: %v", err)
		}
		return l.handleAgentResume(ctx, req)
	case "WorkerStart":
		var req workerStartRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed WorkerStart: %v", err)
		}
		return l.handleWorkerStart(ctx, req)
	case "WorkerStop":
		var req workerStopRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed WorkerStop: %v", err)
		}
		return l.handleWorkerStop(ctx, req)
	case "WorkerRestart":
		var req workerStartRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed WorkerRestart: %v", err)
		}
		return l.handleWorkerRestart(ctx, req)
	case "CronStart":
		var req cronStartRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed CronStart: %v", err)
		}
		return l.handleCronStart(ctx, req)
	case "CronStop":
		var req cronStopRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed CronStop: %v", err)
		}
		return l.handleCronStop(ctx, req)
	case "QueuePush":
		var req queuePushRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed QueuePush: %v", err)
		}
		return l.handleQueuePush(ctx, req)
	case "DecisionResolve":
		var req decisionResolveRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed DecisionResolve: %v", err)
		}
		return l.handleDecisionResolve(ctx, req)
	case "WorkspaceDrop":
		var req workspaceDropRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed WorkspaceDrop: %v", err)
		}
		return l.handleWorkspaceDrop(ctx, req)
	case "WorkspacePrune":
		var req workspaceDropRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			return errResp("malformed WorkspacePrune: %v", err)
		}
		return l.handleWorkspacePrune(ctx, req)

	default:
		return errResp("daemon returned unexpected response: %s", reqType)
	}
}

func (l *Listener) withJobIDRequest(ctx context.Context, frame []byte, fn func(context.Context, jobIDRequest) any) any {
	var req jobIDRequest
	if err := json.Unmarshal(frame, &req); err != nil {
		return errResp("malformed request: %v", err)
	}
	return fn(ctx, req)
}

// Shutdown stops accepting new connections, waits up to drainTimeout for
// in-flight handlers to finish, then cancels whatever is left (spec §5
// "listener stops accepting -> drain outstanding requests ... -> drop").
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closing = true
	conns := make([]net.Conn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	if l.unixLn != nil {
		_ = l.unixLn.Close()
	}
	if l.tcpLn != nil {
		_ = l.tcpLn.Close()
	}

	drainTimeout := l.cfg.DrainTimeout()
	if drainTimeout <= 0 {
		drainTimeout = 5 * time.Second
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(drainTimeout):
		l.log.Warn("drain timeout exceeded, dropping in-flight handlers", zap.Int("dropped", len(conns)))
		l.mu.Lock()
		for _, cancel := range l.conns {
			cancel()
		}
		l.mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
		return nil
	}
}
