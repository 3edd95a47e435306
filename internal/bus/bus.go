// Package bus implements EventBus, the single ingress point every event
// passes through: append to the WAL, fold into MaterializedState, then
// forward to the Runtime for handling (spec §4.3). Nothing else is allowed
// to touch the WAL or MaterializedState directly — this keeps the
// append-apply-forward sequence atomic from the perspective of any single
// event, which is what makes replay deterministic.
package bus

import (
	"fmt"
	"sync"

	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/state"
	"github.com/oddjobs/oj/internal/wal"
)

// Handler is implemented by the Runtime: given the event just committed to
// the log and state, it returns the Effects that should run as a result
// (spec §4.5, §4.6). Handlers never perform I/O themselves.
type Handler interface {
	Handle(s *state.MaterializedState, seq uint64, ev event.Event) []effect.Effect
}

// EventBus owns the WAL and the live MaterializedState. Send holds the
// write lock for the whole append-apply-handle sequence, so concurrent
// senders are serialized; View takes the read lock for IPC query handlers
// running on other goroutines (spec §4.3, §4.7).
type EventBus struct {
	mu      sync.RWMutex
	wal     *wal.WAL
	state   *state.MaterializedState
	handler Handler
}

// New wires a bus around an already-recovered WAL and state (produced by
// the daemon's startup recovery sequence, spec §4.2) and a Handler.
func New(w *wal.WAL, s *state.MaterializedState, h Handler) *EventBus {
	return &EventBus{wal: w, state: s, handler: h}
}

// Send appends ev durably, applies it to state, and forwards it to the
// Handler, returning the sequence number assigned and any Effects the
// handler produced. An error here means the WAL write itself failed,
// which is fatal to the daemon (spec §4.1).
func (b *EventBus) Send(ev event.Event) (uint64, []effect.Effect, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	seq, err := b.wal.Append(ev)
	if err != nil {
		return 0, nil, fmt.Errorf("bus: appending %s: %w", ev.Kind(), err)
	}

	state.Apply(b.state, seq, ev)

	var effects []effect.Effect
	if b.handler != nil {
		effects = b.handler.Handle(b.state, seq, ev)
	}
	return seq, effects, nil
}

// View calls fn with the live MaterializedState while holding the bus's
// read lock (listener query handlers use it). Mutating the state inside fn
// violates the single-writer invariant, so fn must treat it as read-only.
func (b *EventBus) View(fn func(s *state.MaterializedState)) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fn(b.state)
}

// Seq returns the sequence number of the last event applied.
func (b *EventBus) Seq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.LastSeq
}
