package domain

import (
	"fmt"
	"strings"
)

// Stage identifies the shape of a Status. Department scoped stages carry a
// DepartmentType; the cross-cutting stages do not.
type Stage uint8

// Status stages.
const (
	stageUnknown Stage = iota
	StageCreated
	StageAssigned
	StageIn
	StageDepartmentCompleted
	StageOnHold
	StageCancelled
	StageCompleted
)

// Status is a production unit state. The zero value is not a valid status and
// values can only be built through the constructors below or ParseStatus, so an
// arbitrary string can never end up stored as a status.
type Status struct {
	stage Stage
	dept  DepartmentType
}

// Cross-cutting statuses.
var (
	StatusCreated   = Status{stage: StageCreated}
	StatusOnHold    = Status{stage: StageOnHold}
	StatusCancelled = Status{stage: StageCancelled}
	StatusCompleted = Status{stage: StageCompleted}
)

// AssignedTo returns ASSIGNED_TO_<dept>.
func AssignedTo(dept DepartmentType) Status {
	return departmentStatus(StageAssigned, dept)
}

// InDepartment returns IN_<dept>.
func InDepartment(dept DepartmentType) Status {
	return departmentStatus(StageIn, dept)
}

// CompletedIn returns <dept>_COMPLETED.
func CompletedIn(dept DepartmentType) Status {
	return departmentStatus(StageDepartmentCompleted, dept)
}

func departmentStatus(stage Stage, dept DepartmentType) Status {
	if !dept.Valid() {
		return Status{}
	}
	return Status{stage: stage, dept: dept}
}

// AllStatuses enumerates every valid status, department triads first in
// manufacturing order.
func AllStatuses() []Status {
	out := []Status{StatusCreated}
	for _, dept := range departmentSequence {
		out = append(out, AssignedTo(dept), InDepartment(dept), CompletedIn(dept))
	}
	return append(out, StatusOnHold, StatusCancelled, StatusCompleted)
}

// ParseStatus converts the canonical string form back into a Status.
func ParseStatus(raw string) (Status, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	switch name {
	case "CREATED":
		return StatusCreated, nil
	case "ON_HOLD":
		return StatusOnHold, nil
	case "CANCELLED":
		return StatusCancelled, nil
	case "COMPLETED":
		return StatusCompleted, nil
	}
	if rest, ok := strings.CutPrefix(name, "ASSIGNED_TO_"); ok && DepartmentType(rest).Valid() {
		return AssignedTo(DepartmentType(rest)), nil
	}
	if rest, ok := strings.CutPrefix(name, "IN_"); ok && DepartmentType(rest).Valid() {
		return InDepartment(DepartmentType(rest)), nil
	}
	if rest, ok := strings.CutSuffix(name, "_COMPLETED"); ok && DepartmentType(rest).Valid() {
		return CompletedIn(DepartmentType(rest)), nil
	}
	return Status{}, InvalidInput(fmt.Sprintf("unknown status %q", raw))
}

// MustParseStatus is ParseStatus for literals known to be valid.
func MustParseStatus(raw string) Status {
	s, err := ParseStatus(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Stage returns the status stage.
func (s Status) Stage() Stage { return s.stage }

// Department returns the department type of a department scoped status.
func (s Status) Department() (DepartmentType, bool) {
	return s.dept, s.dept != ""
}

// IsZero reports whether s is the unset status.
func (s Status) IsZero() bool { return s.stage == stageUnknown }

// IsTerminal reports whether no transition may leave s.
func (s Status) IsTerminal() bool {
	return s.stage == StageCancelled || s.stage == StageCompleted
}

func (s Status) String() string {
	switch s.stage {
	case StageCreated:
		return "CREATED"
	case StageAssigned:
		return "ASSIGNED_TO_" + string(s.dept)
	case StageIn:
		return "IN_" + string(s.dept)
	case StageDepartmentCompleted:
		return string(s.dept) + "_COMPLETED"
	case StageOnHold:
		return "ON_HOLD"
	case StageCancelled:
		return "CANCELLED"
	case StageCompleted:
		return "COMPLETED"
	default:
		return ""
	}
}

// MarshalText encodes the canonical name; the zero status encodes as empty.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a canonical name. Empty input yields the zero status.
func (s *Status) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = Status{}
		return nil
	}
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
