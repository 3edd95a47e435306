// Package agentsup defines the AgentSupervisor contract: spawning,
// messaging, and tearing down the external agent processes/containers a
// job or crew step drives (spec §4.9). The core never assumes a specific
// agent SDK; concrete adapters for particular agent CLIs are out of scope
// (spec §1) and are expected to live behind this interface in a separate
// module.
package agentsup

import (
	"context"
	"fmt"
	"sync"

	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/model"
)

// SpawnRequest carries everything a Supervisor needs to start one agent.
type SpawnRequest struct {
	AgentID       ids.AgentID
	AgentName     string
	Owner         ids.OwnerID
	WorkspacePath string
	Runtime       model.AgentRuntimeKind
	Command       []string
	Env           map[string]string
}

// Transcript is a captured point-in-time record of an agent's output,
// used for breadcrumbing and orphan reconciliation (spec §4.10,
// SPEC_FULL.md §C.5).
type Transcript struct {
	AgentID ids.AgentID
	Text    string
	AtMS    int64
}

// Supervisor is the full lifecycle contract a runtime (local process,
// Docker container, ...) must implement (spec §4.9).
type Supervisor interface {
	Spawn(ctx context.Context, req SpawnRequest) error
	Send(ctx context.Context, agentID ids.AgentID, message string) error
	Respond(ctx context.Context, agentID ids.AgentID, chosen string, choices []int, message string) error
	Kill(ctx context.Context, agentID ids.AgentID, reason string) error
	KillSession(ctx context.Context, sessionID string, reason string) error
	Capture(ctx context.Context, agentID ids.AgentID) (Transcript, error)
	Events() <-chan Event
}

// EventKind enumerates the observations a Supervisor reports upward,
// mirrored 1:1 by the agent lifecycle events in package event (spec §4.9).
type EventKind int

const (
	EventWorking EventKind = iota
	EventWaiting
	EventFailed
	EventExited
	EventGone
)

// Event is a single observation flowing from a Supervisor implementation
// back to the daemon's main loop, which translates it into the matching
// agent lifecycle event and sends that through the bus (spec §4.6, §4.9).
type Event struct {
	Kind     EventKind
	AgentID  ids.AgentID
	ExitCode int
	ErrKind  model.AgentErrorKind
	Message  string
	AtMS     int64
}

// Router implements Supervisor itself, dispatching each call to whichever
// concrete runtime actually owns the agent in question. Spawn picks a
// backend by req.Runtime and remembers the choice so every subsequent
// call for that agent id is routed consistently (spec §4.9 "runtime
// kind" dispatch).
type Router struct {
	mu       sync.RWMutex
	byKind   map[model.AgentRuntimeKind]Supervisor
	byAgent  map[ids.AgentID]Supervisor
	events   chan Event
}

func NewRouter() *Router {
	return &Router{
		byKind:  make(map[model.AgentRuntimeKind]Supervisor),
		byAgent: make(map[ids.AgentID]Supervisor),
		events:  make(chan Event, 256),
	}
}

func (r *Router) Register(kind model.AgentRuntimeKind, sup Supervisor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[kind] = sup
	go r.relay(sup)
}

func (r *Router) relay(sup Supervisor) {
	for ev := range sup.Events() {
		r.events <- ev
	}
}

func (r *Router) Spawn(ctx context.Context, req SpawnRequest) error {
	r.mu.Lock()
	sup, ok := r.byKind[req.Runtime]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("agentsup: no supervisor registered for runtime %d", req.Runtime)
	}
	r.byAgent[req.AgentID] = sup
	r.mu.Unlock()
	return sup.Spawn(ctx, req)
}

func (r *Router) resolve(agentID ids.AgentID) (Supervisor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sup, ok := r.byAgent[agentID]
	if !ok {
		return nil, fmt.Errorf("agentsup: unknown agent %s", agentID)
	}
	return sup, nil
}

func (r *Router) Send(ctx context.Context, agentID ids.AgentID, message string) error {
	sup, err := r.resolve(agentID)
	if err != nil {
		return err
	}
	return sup.Send(ctx, agentID, message)
}

func (r *Router) Respond(ctx context.Context, agentID ids.AgentID, chosen string, choices []int, message string) error {
	sup, err := r.resolve(agentID)
	if err != nil {
		return err
	}
	return sup.Respond(ctx, agentID, chosen, choices, message)
}

func (r *Router) Kill(ctx context.Context, agentID ids.AgentID, reason string) error {
	sup, err := r.resolve(agentID)
	if err != nil {
		return err
	}
	return sup.Kill(ctx, agentID, reason)
}

func (r *Router) KillSession(ctx context.Context, sessionID string, reason string) error {
	r.mu.RLock()
	kinds := make([]Supervisor, 0, len(r.byKind))
	for _, sup := range r.byKind {
		kinds = append(kinds, sup)
	}
	r.mu.RUnlock()
	var firstErr error
	for _, sup := range kinds {
		if err := sup.KillSession(ctx, sessionID, reason); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) Capture(ctx context.Context, agentID ids.AgentID) (Transcript, error) {
	sup, err := r.resolve(agentID)
	if err != nil {
		return Transcript{}, err
	}
	return sup.Capture(ctx, agentID)
}

func (r *Router) Events() <-chan Event { return r.events }
