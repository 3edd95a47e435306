package model

import "github.com/oddjobs/oj/internal/ids"

// DecisionSource classifies why a Decision was opened (spec §3 Decision,
// §4.5 Decision protocol).
type DecisionSource int

const (
	SourceQuestion DecisionSource = iota
	SourceApproval
	SourceGate
	SourceError
	SourceDead
	SourceIdle
	SourcePlan
)

func (s DecisionSource) String() string {
	switch s {
	case SourceQuestion:
		return "question"
	case SourceApproval:
		return "approval"
	case SourceGate:
		return "gate"
	case SourceError:
		return "error"
	case SourceDead:
		return "dead"
	case SourceIdle:
		return "idle"
	case SourcePlan:
		return "plan"
	default:
		return "unknown"
	}
}

// IsAliveSource reports whether the decision's owning agent must still be
// alive for the decision to make sense (spec §4.5 "Stale-decision rule").
func (s DecisionSource) IsAliveSource() bool {
	switch s {
	case SourceIdle, SourceQuestion, SourcePlan, SourceApproval:
		return true
	default:
		return false
	}
}

// ShouldSupersede implements the supersession priority table in spec §4.5:
// a new decision with source `s` may supersede an existing one with source
// `existing` unless `s` is Approval and `existing` is the more specific
// Question or Plan.
func (s DecisionSource) ShouldSupersede(existing DecisionSource) bool {
	if s == SourceApproval && (existing == SourceQuestion || existing == SourcePlan) {
		return false
	}
	return true
}

// Option is one entry in a Decision's ordered option list.
type Option struct {
	Label         string
	Description   string
	Recommended   bool
}

// Question is one entry of a structured multi-question form (spec §3
// Decision.questions).
type Question struct {
	Prompt  string
	Options []Option
}

// Decision is a pending human-in-the-loop choice (spec §3 Decision).
type Decision struct {
	ID            ids.DecisionID
	AgentID       ids.AgentID
	Owner         ids.OwnerID
	Project       string
	Source        DecisionSource
	Context       string
	Options       []Option
	Questions     []Question
	Choices       []int // 1-indexed answers once resolved
	Message       string
	CreatedAtMS   int64
	ResolvedAtMS  int64
	SupersededBy  ids.DecisionID
}

func (d *Decision) Resolved() bool { return d.ResolvedAtMS != 0 }
func (d *Decision) Superseded() bool { return d.SupersededBy != "" }
