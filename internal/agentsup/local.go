package agentsup

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/logger"
)

// Local runs each agent as a plain child process (spec §4.9 RuntimeLocal).
// Stdin is used for Send/Respond; stdout/stderr are tailed in a goroutine
// each, with every non-blank stdout line surfaced as a Working event and
// every non-blank stderr line as a Waiting event, mirroring the teacher's
// incremental stdout-chunk streaming (lifecycle.Manager's message_chunk
// handling), simplified down to "line arrived" granularity.
type Local struct {
	mu    sync.Mutex
	procs map[ids.AgentID]*localProc
	events chan Event
	log   *logger.Logger
}

type localProc struct {
	cmd    *exec.Cmd
	stdin  *bufio.Writer
	cancel context.CancelFunc
}

func NewLocal(log *logger.Logger) *Local {
	return &Local{
		procs:  make(map[ids.AgentID]*localProc),
		events: make(chan Event, 256),
		log:    log,
	}
}

func (l *Local) Spawn(ctx context.Context, req SpawnRequest) error {
	if len(req.Command) == 0 {
		return fmt.Errorf("agentsup/local: empty command for agent %s", req.AgentID)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, req.Command[0], req.Command[1:]...)
	cmd.Dir = req.WorkspacePath
	for k, v := range req.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("agentsup/local: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("agentsup/local: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("agentsup/local: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("agentsup/local: start: %w", err)
	}

	proc := &localProc{cmd: cmd, stdin: bufio.NewWriter(stdin), cancel: cancel}
	l.mu.Lock()
	l.procs[req.AgentID] = proc
	l.mu.Unlock()

	go l.pump(req.AgentID, stdout, false)
	go l.pump(req.AgentID, stderr, true)
	go l.awaitExit(req.AgentID, cmd)

	l.events <- Event{Kind: EventWorking, AgentID: req.AgentID, Message: "spawned"}
	return nil
}

func (l *Local) pump(agentID ids.AgentID, r io.Reader, isStderr bool) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		kind := EventWorking
		if isStderr {
			kind = EventWaiting
		}
		l.events <- Event{Kind: kind, AgentID: agentID, Message: line}
	}
}

func (l *Local) awaitExit(agentID ids.AgentID, cmd *exec.Cmd) {
	err := cmd.Wait()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	l.mu.Lock()
	delete(l.procs, agentID)
	l.mu.Unlock()
	l.events <- Event{Kind: EventExited, AgentID: agentID, ExitCode: exitCode}
}

func (l *Local) find(agentID ids.AgentID) (*localProc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.procs[agentID]
	if !ok {
		return nil, fmt.Errorf("agentsup/local: no running process for agent %s", agentID)
	}
	return p, nil
}

func (l *Local) Send(ctx context.Context, agentID ids.AgentID, message string) error {
	p, err := l.find(agentID)
	if err != nil {
		return err
	}
	if _, err := p.stdin.WriteString(message + "\n"); err != nil {
		return fmt.Errorf("agentsup/local: write stdin: %w", err)
	}
	return p.stdin.Flush()
}

func (l *Local) Respond(ctx context.Context, agentID ids.AgentID, chosen string, choices []int, message string) error {
	return l.Send(ctx, agentID, chosen)
}

func (l *Local) Kill(ctx context.Context, agentID ids.AgentID, reason string) error {
	p, err := l.find(agentID)
	if err != nil {
		return err
	}
	l.log.Info("killing local agent", zap.String("agent_id", string(agentID)), zap.String("reason", reason))
	p.cancel()
	return nil
}

func (l *Local) KillSession(ctx context.Context, sessionID string, reason string) error {
	// Local has no notion of multi-agent sessions below the AgentID level;
	// session-scoped kill is a collaborator concern (spec §6.5).
	return nil
}

func (l *Local) Capture(ctx context.Context, agentID ids.AgentID) (Transcript, error) {
	return Transcript{}, fmt.Errorf("agentsup/local: capture not supported, see oplog breadcrumbs instead")
}

func (l *Local) Events() <-chan Event { return l.events }

var _ Supervisor = (*Local)(nil)
