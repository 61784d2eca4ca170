package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// EventKind classifies a production event.
type EventKind string

// Event kinds.
const (
	EventEntry    EventKind = "ENTRY"
	EventExit     EventKind = "EXIT"
	EventPause    EventKind = "PAUSE"
	EventResume   EventKind = "RESUME"
	EventAssigned EventKind = "ASSIGNED"
	EventNote     EventKind = "NOTE"
)

// ParseEventKind validates an event kind name.
func ParseEventKind(raw string) (EventKind, error) {
	kind := EventKind(strings.ToUpper(strings.TrimSpace(raw)))
	switch kind {
	case EventEntry, EventExit, EventPause, EventResume, EventAssigned, EventNote:
		return kind, nil
	}
	return "", InvalidInput(fmt.Sprintf("unknown event kind %q", raw))
}

// ProductionEvent is an immutable fact in a unit's history. Sequence orders
// events per unit and is unique per unit.
type ProductionEvent struct {
	ID                   string         `json:"id"`
	UnitID               string         `json:"unit_id"`
	DepartmentID         string         `json:"department_id"`
	Kind                 EventKind      `json:"kind"`
	Actor                Actor          `json:"actor"`
	OccurredAt           time.Time      `json:"occurred_at"`
	Sequence             int64          `json:"sequence"`
	Duration             *time.Duration `json:"duration,omitempty"`
	Note                 string         `json:"note,omitempty"`
	RequiresConfirmation bool           `json:"requires_confirmation,omitempty"`
}

// TargetStatus maps (department type, event kind) to the status the unit moves
// to. ok is false for kinds that leave the status unchanged.
func TargetStatus(dept DepartmentType, kind EventKind) (status Status, ok bool) {
	switch kind {
	case EventEntry, EventResume:
		return InDepartment(dept), true
	case EventExit:
		return CompletedIn(dept), true
	case EventAssigned:
		return AssignedTo(dept), true
	case EventPause:
		return StatusOnHold, true
	}
	return Status{}, false
}

// Location is where a unit currently sits according to its event log.
type Location struct {
	DepartmentID string    `json:"department_id"`
	EntryEventID string    `json:"entry_event_id"`
	Since        time.Time `json:"since"`
}

// SortEvents orders events by sequence, then timestamp.
func SortEvents(events []ProductionEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Sequence != events[j].Sequence {
			return events[i].Sequence < events[j].Sequence
		}
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
}

// CurrentLocation replays a unit's events newest first and returns the most
// recent ENTRY without a later EXIT for the same department.
func CurrentLocation(events []ProductionEvent) (Location, bool) {
	ordered := make([]ProductionEvent, len(events))
	copy(ordered, events)
	SortEvents(ordered)

	closed := make(map[string]int)
	for i := len(ordered) - 1; i >= 0; i-- {
		evt := ordered[i]
		switch evt.Kind {
		case EventExit:
			closed[evt.DepartmentID]++
		case EventEntry:
			if closed[evt.DepartmentID] > 0 {
				closed[evt.DepartmentID]--
				continue
			}
			return Location{DepartmentID: evt.DepartmentID, EntryEventID: evt.ID, Since: evt.OccurredAt}, true
		}
	}
	return Location{}, false
}

// OpenEntryIn returns the open ENTRY for departmentID, if any.
func OpenEntryIn(events []ProductionEvent, departmentID string) (ProductionEvent, bool) {
	loc, ok := CurrentLocation(events)
	if !ok || loc.DepartmentID != departmentID {
		return ProductionEvent{}, false
	}
	for _, evt := range events {
		if evt.ID == loc.EntryEventID {
			return evt, true
		}
	}
	return ProductionEvent{}, false
}

// DwellDuration is the non-negative time spent between an entry and now.
func DwellDuration(entry ProductionEvent, now time.Time) time.Duration {
	d := now.Sub(entry.OccurredAt)
	if d < 0 {
		return 0
	}
	return d
}

// DepartmentDurations totals the recorded EXIT durations per department.
func DepartmentDurations(events []ProductionEvent) map[string]time.Duration {
	out := make(map[string]time.Duration)
	for _, evt := range events {
		if evt.Kind == EventExit && evt.Duration != nil {
			out[evt.DepartmentID] += *evt.Duration
		}
	}
	return out
}

// NextSequence returns the sequence number for the next event of a unit.
func NextSequence(events []ProductionEvent) int64 {
	var last int64
	for _, evt := range events {
		if evt.Sequence > last {
			last = evt.Sequence
		}
	}
	return last + 1
}
