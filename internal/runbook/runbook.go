// Package runbook defines the collaborator contract the core daemon reads
// through but never writes: job/command/agent/queue/worker/cron
// definitions as declared by a project's runbook file. Parsing and
// watching that file is explicitly out of scope for the core (spec §1,
// §6.5); this package only states the interface Runtime depends on and
// ships an in-memory fixture useful for tests and for wiring a minimal
// daemon before a real runbook loader exists.
package runbook

import "github.com/oddjobs/oj/internal/model"

// CommandDef is the runbook's declaration of an invocable command: the
// job kind it starts and its named/positional argument shape (spec §6.5).
type CommandDef struct {
	Name      string
	JobKind   string
	Args      []string
	NamedArgs map[string]string
}

// JobDef declares a job kind's step graph: for each step, which hooks fire
// on completion/failure and what step follows (spec §4.5 Job state
// machine, §6.5).
type JobDef struct {
	Kind      string
	FirstStep string
	Steps     map[string]StepDef
}

// TransitionAction is the verb a Transition carries out (spec §4.5
// "Transition vocabulary").
type TransitionAction int

const (
	// ActionStep advances to the named step.
	ActionStep TransitionAction = iota
	// ActionDone advances to the success terminal.
	ActionDone
	// ActionFail advances to the failure terminal.
	ActionFail
	// ActionGate runs a shell command; exit 0 behaves like an implicit
	// on_done, nonzero escalates with the exit code as context.
	ActionGate
	// ActionNudge sends the agent a text message and stays in the step.
	ActionNudge
	// ActionResume re-spawns the step's agent with --resume, preserving the
	// prior conversation.
	ActionResume
	// ActionEscalate marks the step Waiting and opens a Decision.
	ActionEscalate
)

// Transition is a runbook hook's declared reaction (spec §4.5). Exactly one
// of Step/Run/Message is meaningful, depending on Action.
type Transition struct {
	Action  TransitionAction
	Step    string // ActionStep
	Run     string // ActionGate
	Message string // ActionNudge
}

func StepTo(step string) *Transition { return &Transition{Action: ActionStep, Step: step} }
func Done() *Transition              { return &Transition{Action: ActionDone} }
func Fail() *Transition              { return &Transition{Action: ActionFail} }
func Gate(run string) *Transition    { return &Transition{Action: ActionGate, Run: run} }
func Nudge(message string) *Transition {
	return &Transition{Action: ActionNudge, Message: message}
}
func Resume() *Transition   { return &Transition{Action: ActionResume} }
func Escalate() *Transition { return &Transition{Action: ActionEscalate} }

// StepDef is one node in a JobDef's step graph. A nil hook falls through to
// its trigger's default (on_done -> Done, on_fail -> Fail, on_idle/on_dead/
// on_error -> Escalate); Terminal marks a step with no transitions at all
// (spec §4.5 "Terminal steps").
type StepDef struct {
	Name      string
	AgentName string

	OnDone  *Transition
	OnFail  *Transition
	OnIdle  *Transition
	OnDead  *Transition
	OnError *Transition

	// AttemptCap, if > 0, bounds how many times a single hook may fire at
	// the job's current chain position before it is forced to escalate
	// regardless of what it's declared to do (spec §4.5 "Attempt tracking").
	AttemptCap int
	// AttemptCooldownMS delays a same-step retry's re-spawn by this many
	// milliseconds rather than respawning immediately.
	AttemptCooldownMS int64

	Terminal bool
}

// IsTerminal reports whether this step declares no way forward at all.
func (d StepDef) IsTerminal() bool {
	return d.Terminal || (d.OnDone == nil && d.OnFail == nil)
}

// AgentDef declares how to spawn a named agent (spec §4.9, §6.5).
type AgentDef struct {
	Name    string
	Runtime model.AgentRuntimeKind
	Command []string
	Env     map[string]string
}

// Provider is the read-only interface Runtime uses to resolve runbook
// definitions. A real implementation parses and hot-reloads a project's
// runbook file; it lives outside this module's scope (spec §1 Non-goals).
type Provider interface {
	GetCommand(project, name string) (CommandDef, bool)
	GetJob(project, kind string) (JobDef, bool)
	GetAgent(project, name string) (AgentDef, bool)
	GetQueue(project, name string) (model.QueueDef, bool)
	GetWorker(project, name string) (model.Worker, bool)
	GetCron(project, name string) (model.Cron, bool)
	Hash(project string) string
}

// Memory is an in-memory Provider fixture, useful for tests and for a
// daemon invocation that supplies its runbook programmatically rather
// than from a file (spec §6.5).
type Memory struct {
	Commands map[string]CommandDef       // keyed by "project/name"
	Jobs     map[string]JobDef           // keyed by "project/kind"
	Agents   map[string]AgentDef         // keyed by "project/name"
	Queues   map[string]model.QueueDef   // keyed by "project/name"
	Workers  map[string]model.Worker     // keyed by "project/name"
	Crons    map[string]model.Cron       // keyed by "project/name"
	Hashes   map[string]string           // keyed by project
}

func NewMemory() *Memory {
	return &Memory{
		Commands: make(map[string]CommandDef),
		Jobs:     make(map[string]JobDef),
		Agents:   make(map[string]AgentDef),
		Queues:   make(map[string]model.QueueDef),
		Workers:  make(map[string]model.Worker),
		Crons:    make(map[string]model.Cron),
		Hashes:   make(map[string]string),
	}
}

func key(project, name string) string {
	if project == "" {
		return name
	}
	return project + "/" + name
}

func (m *Memory) GetCommand(project, name string) (CommandDef, bool) {
	v, ok := m.Commands[key(project, name)]
	return v, ok
}

func (m *Memory) GetJob(project, kind string) (JobDef, bool) {
	v, ok := m.Jobs[key(project, kind)]
	return v, ok
}

func (m *Memory) GetAgent(project, name string) (AgentDef, bool) {
	v, ok := m.Agents[key(project, name)]
	return v, ok
}

func (m *Memory) GetQueue(project, name string) (model.QueueDef, bool) {
	v, ok := m.Queues[key(project, name)]
	return v, ok
}

func (m *Memory) GetWorker(project, name string) (model.Worker, bool) {
	v, ok := m.Workers[key(project, name)]
	return v, ok
}

func (m *Memory) GetCron(project, name string) (model.Cron, bool) {
	v, ok := m.Crons[key(project, name)]
	return v, ok
}

func (m *Memory) Hash(project string) string { return m.Hashes[project] }
