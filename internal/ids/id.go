// Package ids defines the opaque identifier types used across the daemon
// and the prefix-tag convention ("job-", "crw-", "agt-", "dcn-", "wks-",
// "tmr-") that lets a short, human-typed prefix resolve to a full id.
package ids

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID is an opaque, prefix-tagged identifier. Comparisons are bytewise.
type ID string

// newTagged mints a new id with the given 3-4 char prefix (including the
// trailing dash) and a uuid-derived suffix.
func newTagged(prefix string) ID {
	return ID(prefix + uuid.NewString())
}

// JobID, CrewID, AgentID, DecisionID, WorkspaceID are all opaque strings
// sharing ID's prefix conventions; distinct Go types catch mixing them up
// at compile time.
type (
	JobID       string
	CrewID      string
	AgentID     string
	DecisionID  string
	WorkspaceID string
)

const (
	JobPrefix       = "job-"
	CrewPrefix      = "crw-"
	AgentPrefix     = "agt-"
	DecisionPrefix  = "dcn-"
	WorkspacePrefix = "wks-"
	TimerPrefix     = "tmr-"
)

func NewJobID() JobID             { return JobID(newTagged(JobPrefix)) }
func NewCrewID() CrewID           { return CrewID(newTagged(CrewPrefix)) }
func NewAgentID() AgentID         { return AgentID(newTagged(AgentPrefix)) }
func NewDecisionID() DecisionID   { return DecisionID(newTagged(DecisionPrefix)) }
func NewWorkspaceID() WorkspaceID { return WorkspaceID(newTagged(WorkspacePrefix)) }

func (id JobID) String() string       { return string(id) }
func (id CrewID) String() string      { return string(id) }
func (id AgentID) String() string     { return string(id) }
func (id DecisionID) String() string  { return string(id) }
func (id WorkspaceID) String() string { return string(id) }

// ShortAgentID returns the first 12 characters of an agent id, used to keep
// unix socket paths under the platform limit (§6.3).
func ShortAgentID(id AgentID) string {
	s := string(id)
	if len(s) <= 12 {
		return s
	}
	return s[:12]
}

// Resolver holds a snapshot of known ids. It has no methods of its own;
// prefix resolution is done by the package-level Resolve function.
type Resolver struct {
	all []string
}

// NewResolver builds a resolver over a snapshot of known ids.
func NewResolver(all []string) *Resolver {
	return &Resolver{all: all}
}

// ErrAmbiguous and ErrNotFound are returned by Resolve.
var (
	ErrAmbiguous = fmt.Errorf("prefix matches more than one id")
	ErrNotFound  = fmt.Errorf("no id matches prefix")
)

// Resolve finds the unique id starting with prefix, or returns an error.
func Resolve(all []string, prefix string) (string, error) {
	if prefix == "" {
		return "", ErrNotFound
	}
	var match string
	count := 0
	for _, id := range all {
		if id == prefix {
			// exact match always wins, even if other ids share the prefix
			return id, nil
		}
		if strings.HasPrefix(id, prefix) {
			match = id
			count++
		}
	}
	switch count {
	case 0:
		return "", ErrNotFound
	case 1:
		return match, nil
	default:
		return "", ErrAmbiguous
	}
}
