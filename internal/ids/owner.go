package ids

import "fmt"

// OwnerKind discriminates the two things that can own an agent, a decision,
// or a workspace.
type OwnerKind int

const (
	OwnerJob OwnerKind = iota
	OwnerCrew
)

// OwnerID is a tagged union over JobID / CrewID (spec §3 Ownership, §9
// "Cyclic/weak references"). It serializes to the wire as "job:<id>" or
// "crw:<id>" (spec §6.1).
type OwnerID struct {
	kind OwnerKind
	job  JobID
	crew CrewID
}

func OwnerFromJob(id JobID) OwnerID   { return OwnerID{kind: OwnerJob, job: id} }
func OwnerFromCrew(id CrewID) OwnerID { return OwnerID{kind: OwnerCrew, crew: id} }

func (o OwnerID) Kind() OwnerKind { return o.kind }

func (o OwnerID) AsJob() (JobID, bool) {
	if o.kind == OwnerJob {
		return o.job, true
	}
	return "", false
}

func (o OwnerID) AsCrew() (CrewID, bool) {
	if o.kind == OwnerCrew {
		return o.crew, true
	}
	return "", false
}

// String renders the canonical "job:<id>" / "crw:<id>" form (spec §6.1).
// ParseOwnerID also accepts a "crew:" tag on input for readability; both
// crew tags parse to the same OwnerID.
func (o OwnerID) String() string {
	switch o.kind {
	case OwnerJob:
		return "job:" + string(o.job)
	case OwnerCrew:
		return "crw:" + string(o.crew)
	default:
		return ""
	}
}

// ParseOwnerID parses the Display format, accepting both "crw:" and "crew:"
// crew tags. A bare id with neither prefix is treated as a legacy job id,
// matching the original implementation's backward-compatibility rule.
func ParseOwnerID(s string) (OwnerID, error) {
	switch {
	case len(s) > 4 && s[:4] == "job:":
		return OwnerFromJob(JobID(s[4:])), nil
	case len(s) > 4 && s[:4] == "crw:":
		return OwnerFromCrew(CrewID(s[4:])), nil
	case len(s) > 5 && s[:5] == "crew:":
		return OwnerFromCrew(CrewID(s[5:])), nil
	case s == "":
		return OwnerID{}, fmt.Errorf("empty owner id")
	default:
		return OwnerFromJob(JobID(s)), nil
	}
}

func (o OwnerID) Equal(other OwnerID) bool {
	if o.kind != other.kind {
		return false
	}
	if o.kind == OwnerJob {
		return o.job == other.job
	}
	return o.crew == other.crew
}

// Log renders a short form for log fields, e.g. "job=job-abc".
func (o OwnerID) Log() string {
	switch o.kind {
	case OwnerJob:
		return "job=" + string(o.job)
	case OwnerCrew:
		return "crew=" + string(o.crew)
	default:
		return "owner=none"
	}
}

// MarshalJSON implements json.Marshaler using the Display format.
func (o OwnerID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + o.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler using ParseOwnerID.
func (o *OwnerID) UnmarshalJSON(b []byte) error {
	if len(b) < 2 {
		return fmt.Errorf("invalid owner id json: %s", b)
	}
	parsed, err := ParseOwnerID(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
