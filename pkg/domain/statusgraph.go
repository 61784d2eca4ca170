package domain

import "fmt"

// IsValidTransition reports whether a unit may move from one status to another
// through a regular tracking event. Rework and department bypass are not
// whitelisted, so any skip or backward move is rejected.
func IsValidTransition(from, to Status) bool {
	return Explain(from, to) == ""
}

// Explain returns a human readable reason why from -> to is rejected, or an
// empty string when the transition is allowed.
func Explain(from, to Status) string {
	if from.IsZero() || to.IsZero() {
		return "status is not set"
	}
	if from == to {
		return fmt.Sprintf("unit is already %s", from)
	}
	if from.IsTerminal() {
		return fmt.Sprintf("%s is terminal", from)
	}

	switch from.stage {
	case StageCreated:
		if to.stage == StageAssigned {
			return ""
		}
		return fmt.Sprintf("a new unit must be assigned to a department first, not moved to %s", to)

	case StageAssigned:
		switch {
		case to == InDepartment(from.dept):
			return ""
		case to == StatusCreated, to == StatusCancelled:
			return ""
		case to.stage == StageIn:
			return fmt.Sprintf("unit is assigned to %s and cannot enter %s", from.dept, to.dept)
		}
		return fmt.Sprintf("unit assigned to %s may only enter it, return to CREATED or be cancelled", from.dept)

	case StageIn:
		switch {
		case to == CompletedIn(from.dept), to == StatusOnHold, to == StatusCancelled:
			return ""
		case to.stage == StageDepartmentCompleted:
			return fmt.Sprintf("unit is in %s and cannot complete %s", from.dept, to.dept)
		}
		return fmt.Sprintf("unit in %s must complete, be put on hold or be cancelled before moving to %s", from.dept, to)

	case StageDepartmentCompleted:
		next, ok := from.dept.Next()
		if !ok {
			if to == StatusCompleted {
				return ""
			}
			return fmt.Sprintf("%s is the final department; the only move is to COMPLETED", from.dept)
		}
		if to == AssignedTo(next) {
			return ""
		}
		if to.stage == StageAssigned {
			return fmt.Sprintf("%s is followed by %s; skipping or moving back to %s is not allowed", from.dept, next, to.dept)
		}
		return fmt.Sprintf("after %s the unit must be assigned to %s", from.dept, next)

	case StageOnHold:
		if to.stage == StageIn {
			return ""
		}
		return "a unit on hold may only resume into the department it was held in"
	}
	return fmt.Sprintf("no transition from %s to %s", from, to)
}

// IsBatchRollback reports whether from -> to is one of the compensating writes
// issued when a batch is rolled back: IN_X -> ASSIGNED_TO_X when a cure is
// aborted and X_COMPLETED -> IN_X when a completed cure is reopened.
func IsBatchRollback(from, to Status) bool {
	if from.dept == "" || from.dept != to.dept {
		return false
	}
	switch {
	case from.stage == StageIn && to.stage == StageAssigned:
		return true
	case from.stage == StageDepartmentCompleted && to.stage == StageIn:
		return true
	}
	return false
}
