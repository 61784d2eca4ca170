package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind classifies failures surfaced by the tracking core.
type ErrorKind string

// Error kinds.
const (
	KindNotFound             ErrorKind = "not_found"
	KindInvalidTransition    ErrorKind = "invalid_transition"
	KindAlreadyOpenElsewhere ErrorKind = "already_open_elsewhere"
	KindNoOpenEntry          ErrorKind = "no_open_entry"
	KindIncompatibleCycle    ErrorKind = "incompatible_cycle"
	KindUnitUnavailable      ErrorKind = "unit_unavailable"
	KindNoActiveDepartment   ErrorKind = "no_active_department"
	KindConcurrencyConflict  ErrorKind = "concurrency_conflict"
	KindTerminalBatchState   ErrorKind = "terminal_batch_state"
	KindInvalidInput         ErrorKind = "invalid_input"
	KindRuleViolation        ErrorKind = "rule_violation"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrInvalidTransition    = &Error{Kind: KindInvalidTransition}
	ErrAlreadyOpenElsewhere = &Error{Kind: KindAlreadyOpenElsewhere}
	ErrNoOpenEntry          = &Error{Kind: KindNoOpenEntry}
	ErrIncompatibleCycle    = &Error{Kind: KindIncompatibleCycle}
	ErrUnitUnavailable      = &Error{Kind: KindUnitUnavailable}
	ErrNoActiveDepartment   = &Error{Kind: KindNoActiveDepartment}
	ErrConcurrencyConflict  = &Error{Kind: KindConcurrencyConflict}
	ErrTerminalBatchState   = &Error{Kind: KindTerminalBatchState}
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrRuleViolation        = &Error{Kind: KindRuleViolation}
)

// Error is the structured failure returned by every core operation. IDs holds
// the offending identifiers keyed by role (unit, batch, department, ...).
type Error struct {
	Kind    ErrorKind
	Entity  EntityType
	Message string
	IDs     map[string]string
	From    string
	To      string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.IDs) > 0 {
		keys := make([]string, 0, len(e.IDs))
		for k := range e.IDs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+e.IDs[k])
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, " "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can compare against the
// package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// With returns a copy of e carrying an additional identifier.
func (e *Error) With(role, id string) *Error {
	cp := *e
	cp.IDs = make(map[string]string, len(e.IDs)+1)
	for k, v := range e.IDs {
		cp.IDs[k] = v
	}
	cp.IDs[role] = id
	return &cp
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsConflict reports whether err is a retryable concurrency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// NotFound reports a missing entity.
func NotFound(entity EntityType, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Entity:  entity,
		Message: fmt.Sprintf("%s %s not found", entity, id),
		IDs:     map[string]string{string(entity): id},
	}
}

// InvalidTransition reports a status move the graph or lifecycle rejects.
func InvalidTransition(entity EntityType, id string, from, to fmt.Stringer, reason string) *Error {
	msg := fmt.Sprintf("cannot move %s %s from %s to %s", entity, id, from, to)
	if reason != "" {
		msg += ": " + reason
	}
	return &Error{
		Kind:    KindInvalidTransition,
		Entity:  entity,
		Message: msg,
		IDs:     map[string]string{string(entity): id},
		From:    from.String(),
		To:      to.String(),
	}
}

// AlreadyOpenElsewhere reports an ENTRY attempted while another one is open.
func AlreadyOpenElsewhere(unitID, openDepartmentID string) *Error {
	return &Error{
		Kind:    KindAlreadyOpenElsewhere,
		Entity:  EntityUnit,
		Message: fmt.Sprintf("unit %s still has an open entry in department %s", unitID, openDepartmentID),
		IDs:     map[string]string{"unit": unitID, "open_department": openDepartmentID},
	}
}

// NoOpenEntry reports an EXIT, PAUSE or RESUME without a matching open ENTRY.
func NoOpenEntry(unitID, departmentID string) *Error {
	return &Error{
		Kind:    KindNoOpenEntry,
		Entity:  EntityUnit,
		Message: fmt.Sprintf("unit %s has no open entry in department %s", unitID, departmentID),
		IDs:     map[string]string{"unit": unitID, "department": departmentID},
	}
}

// IncompatibleCycle reports a unit whose effective curing cycle differs from the batch cycle.
func IncompatibleCycle(unitID, unitCycleID, batchCycleID string) *Error {
	return &Error{
		Kind:    KindIncompatibleCycle,
		Entity:  EntityUnit,
		Message: fmt.Sprintf("unit %s cures with cycle %s, batch requires %s", unitID, unitCycleID, batchCycleID),
		IDs:     map[string]string{"unit": unitID, "unit_cycle": unitCycleID, "batch_cycle": batchCycleID},
	}
}

// UnitUnavailable reports a unit that cannot join a batch.
func UnitUnavailable(unitID, reason string) *Error {
	return &Error{
		Kind:    KindUnitUnavailable,
		Entity:  EntityUnit,
		Message: fmt.Sprintf("unit %s is unavailable: %s", unitID, reason),
		IDs:     map[string]string{"unit": unitID},
	}
}

// NoActiveDepartment reports that no active department of a type is configured.
func NoActiveDepartment(deptType DepartmentType) *Error {
	return &Error{
		Kind:    KindNoActiveDepartment,
		Entity:  EntityDepartment,
		Message: fmt.Sprintf("no active %s department configured", deptType),
		IDs:     map[string]string{"department_type": string(deptType)},
	}
}

// TerminalBatchState reports a membership change or delete on a batch that no longer allows it.
func TerminalBatchState(batchID string, status BatchStatus, op string) *Error {
	return &Error{
		Kind:    KindTerminalBatchState,
		Entity:  EntityBatch,
		Message: fmt.Sprintf("cannot %s batch %s in status %s", op, batchID, status),
		IDs:     map[string]string{"batch": batchID},
		From:    string(status),
	}
}

// ConcurrencyConflict wraps a store failure classified as an optimistic conflict.
func ConcurrencyConflict(cause error) *Error {
	return &Error{
		Kind:    KindConcurrencyConflict,
		Message: "concurrent modification detected",
		Err:     cause,
	}
}

// InvalidInput reports a malformed request.
func InvalidInput(msg string) *Error {
	return &Error{Kind: KindInvalidInput, Message: msg}
}
