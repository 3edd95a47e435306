// Package event defines Event, the single tagged union written to the WAL
// and applied to MaterializedState (spec §4.3). Every event is a distinct
// Go type implementing the Event interface's unexported marker method, so
// the compiler enforces exhaustive handling wherever a type switch over
// Event appears (spec §9 "Tagged unions everywhere").
package event

import (
	"encoding/json"
	"fmt"

	"github.com/oddjobs/oj/internal/ids"
	"github.com/oddjobs/oj/internal/model"
)

// Event is implemented by every concrete event type. Kind returns the
// stable wire tag used in the JSON envelope (spec §6.1).
type Event interface {
	Kind() string
}

// Sequenced pairs a durable WAL sequence number with the event it was
// assigned (spec §4.1 iter, §4.3 EventBus forwarding).
type Sequenced struct {
	Seq   uint64
	Event Event
}

// --- Job events ---

type JobCreated struct {
	ID          ids.JobID
	Kind        string
	Name        string
	Project     string
	Cwd         string
	RunbookHash string
	Vars        map[string]string
	Step        string
	CreatedAtMS int64
}

func (JobCreated) Kind() string { return "JobCreated" }

type StepStarted struct {
	JobID     ids.JobID
	Step      string
	AgentID   ids.AgentID
	AgentName string
	AtMS      int64
}

func (StepStarted) Kind() string { return "StepStarted" }

type StepCompleted struct {
	JobID ids.JobID
	Step  string
	AtMS  int64
}

func (StepCompleted) Kind() string { return "StepCompleted" }

type StepFailed struct {
	JobID ids.JobID
	Step  string
	Error string
	AtMS  int64
}

func (StepFailed) Kind() string { return "StepFailed" }

// JobAdvanced records the resolved (step, step_status) after a handler
// applies a Transition (spec §4.5 Job state machine). Trigger names the hook
// that fired ("on_done", "on_fail", "on_idle", "on_dead", "on_error", or
// "decision:<source>"); ResetTracker marks a move to a genuinely different
// step, which clears ActionTracker and advances the job's chain position
// (spec §4.5 "Attempt tracking"). Trigger is empty for advances that don't
// correspond to a hook firing (e.g. a plain queue/worker-driven step start).
type JobAdvanced struct {
	JobID        ids.JobID
	Step         string
	StepStatus   model.StepStatus
	Reason       string
	Trigger      string
	ResetTracker bool
	AtMS         int64
}

func (JobAdvanced) Kind() string { return "JobAdvanced" }

type JobDeleted struct {
	JobID ids.JobID
	AtMS  int64
}

func (JobDeleted) Kind() string { return "JobDeleted" }

// --- Crew events ---

type CrewCreated struct {
	ID          ids.CrewID
	AgentName   string
	CommandName string
	Project     string
	Cwd         string
	RunbookHash string
	Vars        map[string]string
	CreatedAtMS int64
}

func (CrewCreated) Kind() string { return "CrewCreated" }

type CrewAdvanced struct {
	CrewID ids.CrewID
	Status model.CrewStatus
	Error  string
	AtMS   int64
}

func (CrewAdvanced) Kind() string { return "CrewAdvanced" }

// --- Agent lifecycle events ---

type AgentSpawned struct {
	AgentID       ids.AgentID
	AgentName     string
	Owner         ids.OwnerID
	Project       string
	WorkspacePath string
	Runtime       model.AgentRuntimeKind
	AuthToken     string
	AtMS          int64
}

func (AgentSpawned) Kind() string { return "AgentSpawned" }

type AgentWorking struct {
	AgentID ids.AgentID
	AtMS    int64
}

func (AgentWorking) Kind() string { return "AgentWorking" }

type AgentWaiting struct {
	AgentID ids.AgentID
	AtMS    int64
}

func (AgentWaiting) Kind() string { return "AgentWaiting" }

type AgentFailed struct {
	AgentID ids.AgentID
	ErrKind model.AgentErrorKind
	Message string
	AtMS    int64
}

func (AgentFailed) Kind() string { return "AgentFailed" }

type AgentExited struct {
	AgentID  ids.AgentID
	ExitCode int
	AtMS     int64
}

func (AgentExited) Kind() string { return "AgentExited" }

type AgentGone struct {
	AgentID ids.AgentID
	AtMS    int64
}

func (AgentGone) Kind() string { return "AgentGone" }

// AgentSignalKind enumerates the structured signals an agent can emit
// in addition to raw state transitions (spec §4.3 AgentSignal).
type AgentSignalKind int

const (
	SignalComplete AgentSignalKind = iota
	SignalEscalate
	SignalContinue
)

type AgentSignal struct {
	AgentID ids.AgentID
	Kind    AgentSignalKind
	Message string
	AtMS    int64
}

func (AgentSignal) Kind() string { return "AgentSignal" }

// AgentStopBlocked is emitted when an external agent attempts to stop and
// the supervisor blocks it pending the Runtime's decision (spec §4.9
// "Stop-hook semantics").
type AgentStopBlocked struct {
	AgentID ids.AgentID
	AtMS    int64
}

func (AgentStopBlocked) Kind() string { return "AgentStopBlocked" }

// --- Decision events ---

type DecisionCreated struct {
	ID        ids.DecisionID
	AgentID   ids.AgentID
	Owner     ids.OwnerID
	Project   string
	Source    model.DecisionSource
	Context   string
	Options   []model.Option
	Questions []model.Question
	AtMS      int64
}

func (DecisionCreated) Kind() string { return "DecisionCreated" }

type DecisionResolved struct {
	ID      ids.DecisionID
	Chosen  string // "dismiss" | "accept" | "revise" | "retry" | "skip" | "kill" | ""
	Choices []int
	Message string
	AtMS    int64
}

func (DecisionResolved) Kind() string { return "DecisionResolved" }

// DecisionSuperseded closes an older decision when a new one takes over
// the same agent (spec §4.5 Supersession rule).
type DecisionSuperseded struct {
	ID          ids.DecisionID
	SupersededBy ids.DecisionID
	AtMS        int64
}

func (DecisionSuperseded) Kind() string { return "DecisionSuperseded" }

// --- Workspace events ---

type WorkspaceCreated struct {
	ID      ids.WorkspaceID
	Path    string
	Owner   ids.OwnerID
	Type    model.WorkspaceType
	Branch  string
	AtMS    int64
}

func (WorkspaceCreated) Kind() string { return "WorkspaceCreated" }

type WorkspaceReady struct {
	ID   ids.WorkspaceID
	AtMS int64
}

func (WorkspaceReady) Kind() string { return "WorkspaceReady" }

type WorkspaceFailed struct {
	ID     ids.WorkspaceID
	Reason string
	AtMS   int64
}

func (WorkspaceFailed) Kind() string { return "WorkspaceFailed" }

type WorkspaceDeleted struct {
	ID   ids.WorkspaceID
	AtMS int64
}

func (WorkspaceDeleted) Kind() string { return "WorkspaceDeleted" }

// --- Worker events ---

type WorkerStarted struct {
	Name        string
	Project     string
	ProjectPath string
	RunbookHash string
	Queue       string
	Concurrency int
	AtMS        int64
}

func (WorkerStarted) Kind() string { return "WorkerStarted" }

type WorkerDispatched struct {
	Worker  string
	ItemID  string
	Owner   ids.OwnerID
	Project string
	AtMS    int64
}

func (WorkerDispatched) Kind() string { return "WorkerDispatched" }

type WorkerStopped struct {
	Name string
	AtMS int64
}

func (WorkerStopped) Kind() string { return "WorkerStopped" }

type WorkerResized struct {
	Name        string
	Concurrency int
	AtMS        int64
}

func (WorkerResized) Kind() string { return "WorkerResized" }

type WorkerDeleted struct {
	Name string
	AtMS int64
}

func (WorkerDeleted) Kind() string { return "WorkerDeleted" }

// --- Cron events ---

type CronStarted struct {
	Name        string
	Project     string
	ProjectPath string
	RunbookHash string
	Interval    string
	Target      model.RunTarget
	Concurrency int
	AtMS        int64
}

func (CronStarted) Kind() string { return "CronStarted" }

type CronStopped struct {
	Name    string
	Project string
	AtMS    int64
}

func (CronStopped) Kind() string { return "CronStopped" }

type CronFired struct {
	Name    string
	Project string
	AtMS    int64
}

func (CronFired) Kind() string { return "CronFired" }

type CronOnce struct {
	Name    string
	Project string
	AtMS    int64
}

func (CronOnce) Kind() string { return "CronOnce" }

type CronDeleted struct {
	Name    string
	Project string
	AtMS    int64
}

func (CronDeleted) Kind() string { return "CronDeleted" }

// --- Queue events ---

type QueuePushed struct {
	Queue string
	Item  model.QueueItem
	AtMS  int64
}

func (QueuePushed) Kind() string { return "QueuePushed" }

type QueueTaken struct {
	Queue  string
	ItemID string
	Worker string
	AtMS   int64
}

func (QueueTaken) Kind() string { return "QueueTaken" }

type QueueCompleted struct {
	Queue  string
	ItemID string
	AtMS   int64
}

func (QueueCompleted) Kind() string { return "QueueCompleted" }

type QueueFailed struct {
	Queue  string
	ItemID string
	Error  string
	AtMS   int64
}

func (QueueFailed) Kind() string { return "QueueFailed" }

type QueueDropped struct {
	Queue  string
	ItemID string
	AtMS   int64
}

func (QueueDropped) Kind() string { return "QueueDropped" }

type QueueRetry struct {
	Queue  string
	ItemID string
	AtMS   int64
}

func (QueueRetry) Kind() string { return "QueueRetry" }

type QueueDead struct {
	Queue  string
	ItemID string
	AtMS   int64
}

func (QueueDead) Kind() string { return "QueueDead" }

// --- Timer / session / runbook / control events ---

type TimerStart struct {
	TimerID ids.TimerID
	AtMS    int64
}

func (TimerStart) Kind() string { return "TimerStart" }

// TimerFired is emitted by the Scheduler/Executor when an armed timer's
// deadline passes (spec §4.4). Runtime dispatches on the timer id's parsed
// TimerKindTag to decide what actually happens: a liveness timeout marks
// an agent gone, a cooldown timeout retries a step, and so on.
type TimerFired struct {
	TimerID ids.TimerID
	AtMS    int64
}

func (TimerFired) Kind() string { return "TimerFired" }

type SessionCreated struct {
	SessionID string
	Owner     ids.OwnerID
	AtMS      int64
}

func (SessionCreated) Kind() string { return "SessionCreated" }

type SessionDeleted struct {
	SessionID string
	AtMS      int64
}

func (SessionDeleted) Kind() string { return "SessionDeleted" }

type RunbookLoaded struct {
	Hash string
	AtMS int64
}

func (RunbookLoaded) Kind() string { return "RunbookLoaded" }

type CommandRun struct {
	JobID       ids.JobID
	Command     string
	Project     string
	ProjectPath string
	Args        []string
	NamedArgs   map[string]string
	AtMS        int64
}

func (CommandRun) Kind() string { return "CommandRun" }

type Shutdown struct {
	AtMS int64
}

func (Shutdown) Kind() string { return "Shutdown" }

// Custom carries an arbitrary application-defined payload, for runbook
// extensions the core does not interpret (spec §4.3 Event list).
type Custom struct {
	Type string
	Data map[string]any
	AtMS int64
}

func (Custom) Kind() string { return "Custom" }

// --- JSON envelope ---

// envelope is the {"type": "...", "payload": {...}} wire shape used both for
// WAL records and for the listener's event-shaped fields.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Marshal encodes an Event to its tagged JSON form.
func Marshal(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", e.Kind(), err)
	}
	return json.Marshal(envelope{Type: e.Kind(), Payload: payload})
}

// Unmarshal decodes the tagged JSON form back into a concrete Event.
func Unmarshal(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding event envelope: %w", err)
	}
	zero, ok := registry[env.Type]
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	e := zero()
	if err := json.Unmarshal(env.Payload, e); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", env.Type, err)
	}
	return derefEvent(e), nil
}

// registry maps a wire tag to a constructor returning a pointer to a fresh
// zero value, so Unmarshal can decode into it generically.
var registry = map[string]func() any{
	"JobCreated":          func() any { return &JobCreated{} },
	"StepStarted":         func() any { return &StepStarted{} },
	"StepCompleted":       func() any { return &StepCompleted{} },
	"StepFailed":          func() any { return &StepFailed{} },
	"JobAdvanced":         func() any { return &JobAdvanced{} },
	"JobDeleted":          func() any { return &JobDeleted{} },
	"CrewCreated":         func() any { return &CrewCreated{} },
	"CrewAdvanced":        func() any { return &CrewAdvanced{} },
	"AgentSpawned":        func() any { return &AgentSpawned{} },
	"AgentWorking":        func() any { return &AgentWorking{} },
	"AgentWaiting":        func() any { return &AgentWaiting{} },
	"AgentFailed":         func() any { return &AgentFailed{} },
	"AgentExited":         func() any { return &AgentExited{} },
	"AgentGone":           func() any { return &AgentGone{} },
	"AgentSignal":         func() any { return &AgentSignal{} },
	"AgentStopBlocked":    func() any { return &AgentStopBlocked{} },
	"DecisionCreated":     func() any { return &DecisionCreated{} },
	"DecisionResolved":    func() any { return &DecisionResolved{} },
	"DecisionSuperseded":  func() any { return &DecisionSuperseded{} },
	"WorkspaceCreated":    func() any { return &WorkspaceCreated{} },
	"WorkspaceReady":      func() any { return &WorkspaceReady{} },
	"WorkspaceFailed":     func() any { return &WorkspaceFailed{} },
	"WorkspaceDeleted":    func() any { return &WorkspaceDeleted{} },
	"WorkerStarted":       func() any { return &WorkerStarted{} },
	"WorkerDispatched":    func() any { return &WorkerDispatched{} },
	"WorkerStopped":       func() any { return &WorkerStopped{} },
	"WorkerResized":       func() any { return &WorkerResized{} },
	"WorkerDeleted":       func() any { return &WorkerDeleted{} },
	"CronStarted":         func() any { return &CronStarted{} },
	"CronStopped":         func() any { return &CronStopped{} },
	"CronFired":           func() any { return &CronFired{} },
	"CronOnce":            func() any { return &CronOnce{} },
	"CronDeleted":         func() any { return &CronDeleted{} },
	"QueuePushed":         func() any { return &QueuePushed{} },
	"QueueTaken":          func() any { return &QueueTaken{} },
	"QueueCompleted":      func() any { return &QueueCompleted{} },
	"QueueFailed":         func() any { return &QueueFailed{} },
	"QueueDropped":        func() any { return &QueueDropped{} },
	"QueueRetry":          func() any { return &QueueRetry{} },
	"QueueDead":           func() any { return &QueueDead{} },
	"TimerStart":          func() any { return &TimerStart{} },
	"TimerFired":          func() any { return &TimerFired{} },
	"SessionCreated":      func() any { return &SessionCreated{} },
	"SessionDeleted":      func() any { return &SessionDeleted{} },
	"RunbookLoaded":       func() any { return &RunbookLoaded{} },
	"CommandRun":          func() any { return &CommandRun{} },
	"Shutdown":            func() any { return &Shutdown{} },
	"Custom":              func() any { return &Custom{} },
}

// derefEvent converts the pointer produced during decode back into the
// value type that implements Event (all Kind() receivers above are value
// receivers), so callers get back exactly what Marshal would have taken.
func derefEvent(ptr any) Event {
	switch v := ptr.(type) {
	case *JobCreated:
		return *v
	case *StepStarted:
		return *v
	case *StepCompleted:
		return *v
	case *StepFailed:
		return *v
	case *JobAdvanced:
		return *v
	case *JobDeleted:
		return *v
	case *CrewCreated:
		return *v
	case *CrewAdvanced:
		return *v
	case *AgentSpawned:
		return *v
	case *AgentWorking:
		return *v
	case *AgentWaiting:
		return *v
	case *AgentFailed:
		return *v
	case *AgentExited:
		return *v
	case *AgentGone:
		return *v
	case *AgentSignal:
		return *v
	case *AgentStopBlocked:
		return *v
	case *DecisionCreated:
		return *v
	case *DecisionResolved:
		return *v
	case *DecisionSuperseded:
		return *v
	case *WorkspaceCreated:
		return *v
	case *WorkspaceReady:
		return *v
	case *WorkspaceFailed:
		return *v
	case *WorkspaceDeleted:
		return *v
	case *WorkerStarted:
		return *v
	case *WorkerDispatched:
		return *v
	case *WorkerStopped:
		return *v
	case *WorkerResized:
		return *v
	case *WorkerDeleted:
		return *v
	case *CronStarted:
		return *v
	case *CronStopped:
		return *v
	case *CronFired:
		return *v
	case *CronOnce:
		return *v
	case *CronDeleted:
		return *v
	case *QueuePushed:
		return *v
	case *QueueTaken:
		return *v
	case *QueueCompleted:
		return *v
	case *QueueFailed:
		return *v
	case *QueueDropped:
		return *v
	case *QueueRetry:
		return *v
	case *QueueDead:
		return *v
	case *TimerStart:
		return *v
	case *TimerFired:
		return *v
	case *SessionCreated:
		return *v
	case *SessionDeleted:
		return *v
	case *RunbookLoaded:
		return *v
	case *CommandRun:
		return *v
	case *Shutdown:
		return *v
	case *Custom:
		return *v
	default:
		panic(fmt.Sprintf("event: unregistered decode type %T", ptr))
	}
}
