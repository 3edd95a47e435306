// Command ojd is the Odd Jobs daemon: a single long-lived process that owns
// the WAL, MaterializedState, Scheduler, and IPC listener described by
// spec §4. It recovers from the last snapshot plus WAL tail on startup,
// serves the local orchestration contract over a Unix socket, and drains
// outstanding requests and agents before exiting on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oddjobs/oj/internal/agentsup"
	"github.com/oddjobs/oj/internal/agentsup/dockerrt"
	"github.com/oddjobs/oj/internal/bus"
	"github.com/oddjobs/oj/internal/clock"
	"github.com/oddjobs/oj/internal/config"
	"github.com/oddjobs/oj/internal/debugsrv"
	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/executor"
	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/listener"
	"github.com/oddjobs/oj/internal/logger"
	"github.com/oddjobs/oj/internal/model"
	"github.com/oddjobs/oj/internal/oplog"
	"github.com/oddjobs/oj/internal/registry"
	"github.com/oddjobs/oj/internal/runbook"
	"github.com/oddjobs/oj/internal/runtime"
	"github.com/oddjobs/oj/internal/snapshot"
	"github.com/oddjobs/oj/internal/state"
	"github.com/oddjobs/oj/internal/telemetry"
	"github.com/oddjobs/oj/internal/wal"
)

// maxConcurrentSlow bounds how many Shell/agent effects the Executor runs
// at once (spec §4.6). Not yet exposed as its own config key.
const maxConcurrentSlow = 8

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting ojd", zap.String("state_dir", cfg.StateDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Telemetry (no-op exporter when otlpEndpoint is unset)
	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		log.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer shutdownTelemetry(context.Background())

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		log.Fatal("failed to create state dir", zap.Error(err))
	}

	// 4. Recover MaterializedState: load the last snapshot (if any), open
	// the WAL, and replay only the entries after the snapshot's sequence
	// (spec §4.2 recovery, §4.1 iter(from_seq)).
	snap, hasSnap, err := snapshot.Load(cfg.Snapshot.Dir)
	if err != nil {
		log.Fatal("failed to load snapshot", zap.Error(err))
	}

	w, walEntries, err := wal.Open(filepath.Join(cfg.WAL.Dir, "oj.wal"))
	if err != nil {
		log.Fatal("failed to open wal", zap.Error(err))
	}

	s := state.New()
	var startSeq uint64
	if hasSnap {
		s = snap.State
		startSeq = snap.Seq
		log.Info("loaded snapshot", zap.Uint64("seq", startSeq))
	}

	replay := wal.Since(walEntries, startSeq)
	for _, entry := range replay {
		state.Apply(s, entry.Seq, entry.Event)
	}
	log.Info("wal replay complete", zap.Int("replayed", len(replay)), zap.Uint64("last_seq", s.LastSeq))

	// 5. Runbook provider. Parsing project runbook files from disk is a
	// collaborator concern the core daemon does not own (spec §1, §6.5);
	// an empty in-memory provider is wired here so the daemon runs
	// standalone, with project definitions populated by whatever loader
	// a deployment chooses to run in front of it.
	rb := runbook.NewMemory()

	rt := runtime.New(rb, clock.Real{}, log)
	eventBus := bus.New(w, s, rt)

	// 6. Scheduler and agent supervision. MaterializedState does not
	// persist timer deadlines across restarts (spec §4.4 is silent on
	// this) — liveness/cooldown/queue-retry timers for jobs recovered
	// from the snapshot+WAL start unarmed; the first heartbeat or queue
	// poll after restart re-arms them as usual.
	sched := clock.NewScheduler()

	router := agentsup.NewRouter()
	router.Register(model.RuntimeLocal, agentsup.NewLocal(log))
	if cfg.Docker.Enabled {
		dockerSup, err := dockerrt.New(dockerrt.Config{Host: cfg.Docker.Host}, log)
		if err != nil {
			log.Fatal("failed to initialize docker supervisor", zap.Error(err))
		}
		router.Register(model.RuntimeDocker, dockerSup)
	}
	go relaySupervisorEvents(ctx, router, eventBus, log)

	ex := executor.New(sched, router, eventBus, log, maxConcurrentSlow)

	// 7. Oplog and registry
	ops := oplog.New(cfg.StateDir, log)
	defer ops.Close()

	reg, err := registry.Open(filepath.Join(cfg.StateDir, "registry.db"))
	if err != nil {
		log.Fatal("failed to open registry", zap.Error(err))
	}
	defer reg.Close()

	detectOrphans(s, ops, reg, log)

	// 8. Timer wheel: poll the Scheduler on a ticker and feed fired timers
	// back through the bus as ordinary events (spec §4.4).
	go runTimerLoop(ctx, cfg.Scheduler.TimerCheck(), sched, eventBus, ex, log)

	// 9. IPC listener
	l := listener.New(cfg.Listener, cfg.StateDir, eventBus, ex, clock.Real{}, log, ops, reg)
	if err := l.Start(); err != nil {
		log.Fatal("failed to start listener", zap.Error(err))
	}

	// 10. Optional debug HTTP surface, loopback-only
	dbg := debugsrv.New("127.0.0.1:0", eventBus, log)
	dbg.Start()

	log.Info("ojd ready", zap.String("socket", cfg.Listener.SocketPath))

	// 11. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down ojd")
	cancel()

	// 12. Graceful shutdown (spec §5): stop accepting connections and drain
	// in-flight requests, stop the debug surface, kill tracked agents
	// concurrently, then close the WAL.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Listener.DrainTimeout()+5*time.Second)
	defer shutdownCancel()

	if err := l.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("listener shutdown error")
	}
	if err := dbg.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("debugsrv shutdown error")
	}

	if err := killTrackedAgents(shutdownCtx, s, router, log); err != nil {
		log.WithError(err).Error("error killing tracked agents")
	}

	if err := saveFinalSnapshot(cfg, eventBus, log); err != nil {
		log.WithError(err).Error("final snapshot save failed")
	}

	if err := w.Close(); err != nil {
		log.WithError(err).Error("wal close error")
	}

	log.Info("ojd stopped")
}

// relaySupervisorEvents forwards agent lifecycle notifications the
// supervisors emit asynchronously (working, waiting, failed, exited, gone)
// back into the bus as ordinary events, so they flow
// through the same append-apply-forward path as everything else (spec
// §4.9 "the Supervisor reports back through events, never direct calls").
func relaySupervisorEvents(ctx context.Context, router *agentsup.Router, sink executor.Sink, log *logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-router.Events():
			if !ok {
				return
			}
			translated := translateSupervisorEvent(ev)
			if translated == nil {
				continue
			}
			if _, _, err := sink.Send(translated); err != nil {
				log.WithError(err).Error("failed to apply supervisor event")
			}
		}
	}
}

func translateSupervisorEvent(ev agentsup.Event) event.Event {
	switch ev.Kind {
	case agentsup.EventExited:
		return event.AgentExited{AgentID: ev.AgentID, ExitCode: ev.ExitCode, AtMS: ev.AtMS}
	case agentsup.EventFailed:
		return event.AgentFailed{AgentID: ev.AgentID, ErrKind: ev.ErrKind, Message: ev.Message, AtMS: ev.AtMS}
	case agentsup.EventWorking:
		return event.AgentWorking{AgentID: ev.AgentID, AtMS: ev.AtMS}
	case agentsup.EventWaiting:
		return event.AgentWaiting{AgentID: ev.AgentID, AtMS: ev.AtMS}
	case agentsup.EventGone:
		return event.AgentGone{AgentID: ev.AgentID, AtMS: ev.AtMS}
	default:
		return nil
	}
}

// runTimerLoop polls the Scheduler at the configured cadence and feeds
// every fired timer through the bus as event.TimerFired, matching how
// Runtime.onTimerFired expects to receive them (spec §4.4 "the daemon
// polls the timer wheel on a fixed interval").
func runTimerLoop(ctx context.Context, interval time.Duration, sched *clock.Scheduler, b *bus.EventBus, ex *executor.Executor, log *logger.Logger) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fired := sched.Fired(now.UnixMilli())
			for _, id := range fired {
				_, effs, err := b.Send(event.TimerFired{TimerID: id, AtMS: now.UnixMilli()})
				if err != nil {
					log.WithError(err).Error("failed to apply timer fire", zap.String("timer_id", string(id)))
					continue
				}
				if err := ex.Run(ctx, effs); err != nil {
					log.WithError(err).Error("failed to run timer effects", zap.String("timer_id", string(id)))
				}
			}
		}
	}
}

// detectOrphans compares surviving breadcrumbs against the recovered
// MaterializedState's known jobs: a breadcrumb whose job did not
// reappear means the process died mid-step and left no event describing
// what happened next (spec §4.10). Detected orphans are persisted to the
// registry for later surfacing via ListOrphans.
func detectOrphans(s *state.MaterializedState, ops *oplog.Store, reg *registry.Registry, log *logger.Logger) {
	breadcrumbs, err := ops.ReadBreadcrumbs()
	if err != nil {
		log.WithError(err).Warn("failed to read breadcrumbs")
		return
	}
	known := make(map[ids.JobID]bool, len(s.Jobs))
	for id := range s.Jobs {
		known[id] = true
	}
	orphans := oplog.DetectOrphans(breadcrumbs, known)
	for _, o := range orphans {
		err := reg.RecordOrphan(registry.OrphanRow{
			JobID:       string(o.JobID),
			Step:        o.Step,
			Status:      o.Status,
			Workspace:   o.Workspace,
			RunbookHash: o.RunbookHash,
			Cwd:         o.Cwd,
			DetectedAt:  time.UnixMilli(o.AtMS),
		})
		if err != nil {
			log.WithError(err).Error("failed to record orphan", zap.String("job_id", string(o.JobID)))
		}
	}
	if len(orphans) > 0 {
		log.Info("detected orphaned jobs on startup", zap.Int("count", len(orphans)))
	}
}

// killTrackedAgents kills every agent still known to be alive in the
// recovered state, concurrently, bounding total shutdown time to ctx's
// deadline rather than serially waiting on each one (spec §5 "kill
// tracked agents/sessions concurrently").
func killTrackedAgents(ctx context.Context, s *state.MaterializedState, router *agentsup.Router, log *logger.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	for id, a := range s.Agents {
		if a.Status != model.AgentStatusRunning && a.Status != model.AgentStatusIdle {
			continue
		}
		agentID := id
		g.Go(func() error {
			if err := router.Kill(gctx, agentID, "daemon shutdown"); err != nil {
				log.WithError(err).Warn("failed to kill agent on shutdown", zap.String("agent_id", string(agentID)))
			}
			return nil
		})
	}
	return g.Wait()
}

// saveFinalSnapshot persists a last MaterializedState snapshot so the next
// startup can skip replaying the entire WAL from scratch (spec §4.2).
func saveFinalSnapshot(cfg *config.Config, b *bus.EventBus, log *logger.Logger) error {
	var snap snapshot.Snapshot
	b.View(func(s *state.MaterializedState) {
		snap = snapshot.Snapshot{
			Seq:         s.LastSeq,
			State:       s,
			CreatedAtMS: time.Now().UnixMilli(),
		}
	})
	return snapshot.Save(cfg.Snapshot.Dir, snap)
}
