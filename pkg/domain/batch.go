package domain

import (
	"fmt"
	"strings"
)

// BatchStatus is the lifecycle state of a cure batch.
type BatchStatus string

// Batch lifecycle states.
const (
	BatchDraft     BatchStatus = "DRAFT"
	BatchReady     BatchStatus = "READY"
	BatchInCure    BatchStatus = "IN_CURE"
	BatchCompleted BatchStatus = "COMPLETED"
	BatchReleased  BatchStatus = "RELEASED"
	BatchCancelled BatchStatus = "CANCELLED"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchDraft:     {BatchReady, BatchCancelled},
	BatchReady:     {BatchInCure, BatchDraft, BatchCancelled},
	BatchInCure:    {BatchCompleted, BatchReady, BatchCancelled},
	BatchCompleted: {BatchReleased, BatchInCure},
	BatchReleased:  nil,
	BatchCancelled: {BatchDraft},
}

func (s BatchStatus) String() string { return string(s) }

// ParseBatchStatus validates a batch status name.
func ParseBatchStatus(raw string) (BatchStatus, error) {
	candidate := BatchStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := batchTransitions[candidate]; ok {
		return candidate, nil
	}
	return "", InvalidInput(fmt.Sprintf("unknown batch status %q", raw))
}

// CanAdvanceBatch reports whether the lifecycle table allows from -> to.
func CanAdvanceBatch(from, to BatchStatus) bool {
	for _, candidate := range batchTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// BatchTargets lists the statuses reachable from s.
func BatchTargets(s BatchStatus) []BatchStatus {
	out := make([]BatchStatus, len(batchTransitions[s]))
	copy(out, batchTransitions[s])
	return out
}

// Open reports whether a batch in s still holds its members.
func (s BatchStatus) Open() bool {
	return s != BatchReleased && s != BatchCancelled
}

// AllowsMembershipChange reports whether units may be added or removed.
func (s BatchStatus) AllowsMembershipChange() bool {
	return s == BatchDraft || s == BatchReady
}

// AllowsDelete reports whether the batch may be removed.
func (s BatchStatus) AllowsDelete() bool {
	return s == BatchDraft || s == BatchReady || s == BatchCancelled
}

// ReadyForBatchStatus is the status a unit must hold to join a batch: the
// completion of the department preceding the autoclave.
func ReadyForBatchStatus() Status {
	prev, _ := DeptAutoclave.Previous()
	return CompletedIn(prev)
}

// InResourceStatus is the status a unit holds while it is a batch member.
func InResourceStatus() Status {
	return AssignedTo(DeptAutoclave)
}
