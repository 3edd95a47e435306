package runtime

import (
	"github.com/oddjobs/oj/internal/effect"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/model"
	"github.com/oddjobs/oj/internal/state"
)

// onQueuePushed dispatches the newly pushed item to the first worker
// attached to the queue with a free concurrency slot, if any. When every
// worker is saturated the item stays pending and a later QueueCompleted
// (freeing a slot) or WorkerResized drives the next dispatch attempt
// (spec §4.8 Queue/Worker).
func (rt *Runtime) onQueuePushed(s *state.MaterializedState, e event.QueuePushed) []effect.Effect {
	w := findAvailableWorker(s, e.Queue)
	if w == nil {
		return nil
	}
	owner := ids.OwnerFromJob(ids.JobID(e.Item.ID))
	return []effect.Effect{
		effect.Emit{Event: event.WorkerDispatched{
			Worker:  w.ScopedName(),
			ItemID:  e.Item.ID,
			Owner:   owner,
			Project: w.Project,
			AtMS:    rt.now(),
		}},
	}
}

func findAvailableWorker(s *state.MaterializedState, queue string) *model.Worker {
	for _, w := range s.Workers {
		if w.Queue != queue || w.Status != model.WorkerRunning {
			continue
		}
		if w.AvailableSlots() > 0 {
			return w
		}
	}
	return nil
}

// onQueueFailed applies the queue's retry policy: retry after a cooldown
// while attempts remain, otherwise move the item to the dead set
// (spec §4.8 "Retry policy").
func (rt *Runtime) onQueueFailed(s *state.MaterializedState, e event.QueueFailed) []effect.Effect {
	it, ok := s.QueueItems[e.ItemID]
	if !ok {
		return nil
	}
	def, ok := rt.runbook.GetQueue("", e.Queue)
	if !ok || def.Retry == nil || it.Failures >= def.Retry.Attempts {
		return []effect.Effect{effect.Emit{Event: event.QueueDead{Queue: e.Queue, ItemID: e.ItemID, AtMS: rt.now()}}}
	}
	return []effect.Effect{
		effect.SetTimer{ID: ids.TimerQueueRetryID(e.Queue, e.ItemID), AtMS: rt.now() + cooldownMS(def.Retry.Cooldown)},
	}
}

// cooldownMS is a minimal duration parser covering the "Ns"/"Nm"/"Nh"
// shapes runbook retry policies use (spec §4.8 RetryPolicy.cooldown). Only
// the leading number and the first letter after it are read, and an
// unrecognized unit is taken as seconds; an empty string or one without a
// leading positive number defaults to a 10s cooldown rather than failing
// closed.
func cooldownMS(s string) int64 {
	if s == "" {
		return 10_000
	}
	n, unit := 0, byte('s')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' {
			n = n*10 + int(c-'0')
		} else {
			unit = c
			break
		}
	}
	if n == 0 {
		return 10_000
	}
	switch unit {
	case 'm':
		return int64(n) * 60_000
	case 'h':
		return int64(n) * 3_600_000
	default:
		return int64(n) * 1_000
	}
}
