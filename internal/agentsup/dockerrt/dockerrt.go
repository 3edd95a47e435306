// Package dockerrt runs agents as Docker containers, implementing
// agentsup.Supervisor for spec §4.9's RuntimeDocker (grounded on the
// teacher's internal/agent/docker/client.go).
package dockerrt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/oddjobs/oj/internal/agentsup"
	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/logger"
)

// Config holds the Docker connection settings and per-container resource
// defaults (spec SPEC_FULL.md §B.2 Domain Stack).
type Config struct {
	Host        string
	APIVersion  string
	Image       string
	NetworkMode string
	MemoryBytes int64
	CPUQuota    int64
	StopTimeout time.Duration
}

// Supervisor runs each agent as a Docker container.
type Supervisor struct {
	cli    *client.Client
	cfg    Config
	log    *logger.Logger
	events chan agentsup.Event

	mu         sync.Mutex
	containers map[ids.AgentID]string
}

func New(cfg Config, log *logger.Logger) (*Supervisor, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("dockerrt: new client: %w", err)
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	return &Supervisor{
		cli:        cli,
		cfg:        cfg,
		log:        log,
		events:     make(chan agentsup.Event, 256),
		containers: make(map[ids.AgentID]string),
	}, nil
}

func (s *Supervisor) Spawn(ctx context.Context, req agentsup.SpawnRequest) error {
	image := s.cfg.Image
	if image == "" {
		return fmt.Errorf("dockerrt: no image configured for agent %s", req.AgentID)
	}

	env := make([]string, 0, len(req.Env))
	for k, v := range req.Env {
		env = append(env, k+"="+v)
	}

	containerCfg := &container.Config{
		Image:      image,
		Cmd:        req.Command,
		Env:        env,
		WorkingDir: "/workspace",
		Labels:     map[string]string{"oj.agent_id": string(req.AgentID), "oj.owner": req.Owner.String()},
		OpenStdin:  true,
		Tty:        false,
	}
	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode(s.cfg.NetworkMode),
		Resources: container.Resources{
			Memory:   s.cfg.MemoryBytes,
			CPUQuota: s.cfg.CPUQuota,
		},
	}
	if req.WorkspacePath != "" {
		hostCfg.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: req.WorkspacePath,
			Target: "/workspace",
		}}
	}

	name := "oj-" + ids.ShortAgentID(req.AgentID)
	resp, err := s.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return fmt.Errorf("dockerrt: create container: %w", err)
	}
	if err := s.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("dockerrt: start container: %w", err)
	}

	s.mu.Lock()
	s.containers[req.AgentID] = resp.ID
	s.mu.Unlock()

	s.log.Info("container started", zap.String("agent_id", string(req.AgentID)), zap.String("container_id", resp.ID))
	go s.watch(req.AgentID, resp.ID)

	s.events <- agentsup.Event{Kind: agentsup.EventWorking, AgentID: req.AgentID, Message: "container started"}
	return nil
}

func (s *Supervisor) watch(agentID ids.AgentID, containerID string) {
	ctx := context.Background()
	statusCh, errCh := s.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			s.log.WithError(err).Warn("container wait failed", zap.String("container_id", containerID))
		}
	case st := <-statusCh:
		s.mu.Lock()
		delete(s.containers, agentID)
		s.mu.Unlock()
		s.events <- agentsup.Event{Kind: agentsup.EventExited, AgentID: agentID, ExitCode: int(st.StatusCode)}
	}
}

func (s *Supervisor) containerFor(agentID ids.AgentID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.containers[agentID]
	if !ok {
		return "", fmt.Errorf("dockerrt: no container for agent %s", agentID)
	}
	return id, nil
}

func (s *Supervisor) Send(ctx context.Context, agentID ids.AgentID, message string) error {
	containerID, err := s.containerFor(agentID)
	if err != nil {
		return err
	}
	hijack, err := s.cli.ContainerAttach(ctx, containerID, container.AttachOptions{Stream: true, Stdin: true})
	if err != nil {
		return fmt.Errorf("dockerrt: attach: %w", err)
	}
	defer hijack.Close()
	w := bufio.NewWriter(hijack.Conn)
	if _, err := w.WriteString(message + "\n"); err != nil {
		return fmt.Errorf("dockerrt: write stdin: %w", err)
	}
	return w.Flush()
}

func (s *Supervisor) Respond(ctx context.Context, agentID ids.AgentID, chosen string, choices []int, message string) error {
	return s.Send(ctx, agentID, chosen)
}

func (s *Supervisor) Kill(ctx context.Context, agentID ids.AgentID, reason string) error {
	containerID, err := s.containerFor(agentID)
	if err != nil {
		return err
	}
	timeoutSec := int(s.cfg.StopTimeout.Seconds())
	s.log.Info("stopping container", zap.String("container_id", containerID), zap.String("reason", reason))
	if err := s.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeoutSec}); err != nil {
		return fmt.Errorf("dockerrt: stop container: %w", err)
	}
	return s.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
}

func (s *Supervisor) KillSession(ctx context.Context, sessionID string, reason string) error {
	// Session-scoped bulk teardown across containers is a collaborator
	// concern (spec §6.5); the core only needs per-agent Kill.
	return nil
}

func (s *Supervisor) Capture(ctx context.Context, agentID ids.AgentID) (agentsup.Transcript, error) {
	containerID, err := s.containerFor(agentID)
	if err != nil {
		return agentsup.Transcript{}, err
	}
	out, err := s.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: "200"})
	if err != nil {
		return agentsup.Transcript{}, fmt.Errorf("dockerrt: logs: %w", err)
	}
	defer out.Close()
	data, err := io.ReadAll(out)
	if err != nil {
		return agentsup.Transcript{}, fmt.Errorf("dockerrt: read logs: %w", err)
	}
	return agentsup.Transcript{AgentID: agentID, Text: string(data)}, nil
}

func (s *Supervisor) Events() <-chan agentsup.Event { return s.events }

var _ agentsup.Supervisor = (*Supervisor)(nil)
