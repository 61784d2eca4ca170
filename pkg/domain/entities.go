// Package domain contains the production tracking model: units, departments,
// the status graph, the event log, cure batches, and the persistence contracts
// the core service runs against.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the backing store.
type EntityType string

// Entity types recorded in changes and errors.
const (
	EntityUnit             EntityType = "unit"
	EntityDepartment       EntityType = "department"
	EntityEvent            EntityType = "event"
	EntityCuringCycle      EntityType = "curing_cycle"
	EntityBatch            EntityType = "batch"
	EntityBatchItem        EntityType = "batch_item"
	EntityOptimizerSession EntityType = "optimizer_session"
)

// Severity captures rule outcomes.
type Severity string

const (
	// SeverityBlock indicates a blocking violation.
	SeverityBlock Severity = "block"
	// SeverityWarn indicates a warning.
	SeverityWarn Severity = "warn"
	// SeverityLog indicates an informational message.
	SeverityLog Severity = "log"
)

// Base carries identity, timestamps and the optimistic version shared by all
// mutable records. Version is incremented by the store on every update.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// Priority orders production units. Higher values are more urgent.
type Priority int

// Priorities.
const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

var priorityNames = map[Priority]string{
	PriorityLow:    "LOW",
	PriorityNormal: "NORMAL",
	PriorityHigh:   "HIGH",
	PriorityUrgent: "URGENT",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// ParsePriority converts a priority name into its value.
func ParsePriority(raw string) (Priority, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	for p, candidate := range priorityNames {
		if candidate == name {
			return p, nil
		}
	}
	return 0, InvalidInput(fmt.Sprintf("unknown priority %q", raw))
}

// MarshalText encodes the priority name.
func (p Priority) MarshalText() ([]byte, error) {
	if _, ok := priorityNames[p]; !ok {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a priority name.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ProductionUnit is a trackable manufacturing order.
type ProductionUnit struct {
	Base
	Number                string     `json:"number"`
	Quantity              int        `json:"quantity"`
	Priority              Priority   `json:"priority"`
	Status                Status     `json:"status"`
	HeldFrom              Status     `json:"held_from"`
	DefaultCuringCycleID  string     `json:"default_curing_cycle_id,omitempty"`
	CuringCycleOverrideID *string    `json:"curing_cycle_override_id,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
}

// EffectiveCuringCycleID returns the override cycle when set, else the default.
func (u ProductionUnit) EffectiveCuringCycleID() string {
	if u.CuringCycleOverrideID != nil && *u.CuringCycleOverrideID != "" {
		return *u.CuringCycleOverrideID
	}
	return u.DefaultCuringCycleID
}

// Actor identifies who recorded an event.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CurePhase is one temperature/pressure/duration step of a curing cycle.
type CurePhase struct {
	TemperatureC float64       `json:"temperature_c"`
	PressureBar  float64       `json:"pressure_bar"`
	Duration     time.Duration `json:"duration"`
}

// CuringCycle is a named cure recipe.
type CuringCycle struct {
	Base
	Code   string     `json:"code"`
	Name   string     `json:"name"`
	Phase1 CurePhase  `json:"phase1"`
	Phase2 *CurePhase `json:"phase2,omitempty"`
}

// TotalDuration sums the durations of all phases.
func (c CuringCycle) TotalDuration() time.Duration {
	total := c.Phase1.Duration
	if c.Phase2 != nil {
		total += c.Phase2.Duration
	}
	return total
}

// Batch groups units cured together in one autoclave run.
type Batch struct {
	Base
	Number        int64       `json:"number"`
	ResourceID    string      `json:"resource_id"`
	DepartmentID  string      `json:"department_id"`
	CuringCycleID string      `json:"curing_cycle_id"`
	Status        BatchStatus `json:"status"`
	PlannedStart  time.Time   `json:"planned_start"`
	PlannedEnd    time.Time   `json:"planned_end"`
	ActualStart   *time.Time  `json:"actual_start,omitempty"`
	ActualEnd     *time.Time  `json:"actual_end,omitempty"`
	SessionID     string      `json:"session_id,omitempty"`
}

// BatchItem links a unit to a batch and remembers the status the unit held
// when it joined. Removal and cancellation restore that status verbatim.
type BatchItem struct {
	Base
	BatchID        string `json:"batch_id"`
	UnitID         string `json:"unit_id"`
	PreviousStatus Status `json:"previous_status"`
	Active         bool   `json:"active"`
}

// BatchSuggestion is one grouping proposed by a nesting optimizer.
type BatchSuggestion struct {
	ResourceID    string   `json:"resource_id"`
	CuringCycleID string   `json:"curing_cycle_id"`
	UnitIDs       []string `json:"unit_ids"`
}

// OptimizerSession stores optimizer output until a planner consumes it or it expires.
type OptimizerSession struct {
	ID          string            `json:"id"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
	Suggestions []BatchSuggestion `json:"suggestions"`
}

// Expired reports whether the session is past its expiry at now.
func (s OptimizerSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Change describes a mutation applied within a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

const (
	// ActionCreate indicates an entity creation.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity update.
	ActionUpdate Action = "update"
	// ActionDelete indicates an entity deletion.
	ActionDelete Action = "delete"
)

// Violation represents a rule violation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if any violation blocks persistence.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}

// Is lets callers match the error against ErrRuleViolation.
func (e RuleViolationError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindRuleViolation
}
