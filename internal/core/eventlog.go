package core

import (
	"time"

	"cureline/pkg/domain"
)

// unitOfWork carries one transaction attempt and the notifications it produced.
type unitOfWork struct {
	tx           Transaction
	unitChanges  []UnitStatusChanged
	batchChanges []BatchStatusChanged
}

type eventInput struct {
	unit                 domain.ProductionUnit
	department           domain.Department
	kind                 domain.EventKind
	actor                domain.Actor
	note                 string
	requiresConfirmation bool
}

// appendEvent enforces the open/closed entry rule and writes the event. A unit
// is open in at most one department: ENTRY requires no open entry anywhere,
// EXIT, PAUSE and RESUME require an open entry in the same department. EXIT
// carries the dwell time since its entry.
func (w *unitOfWork) appendEvent(in eventInput) (domain.ProductionEvent, error) {
	events := w.tx.ListUnitEvents(in.unit.ID)
	var duration *time.Duration

	switch in.kind {
	case domain.EventEntry:
		if loc, open := domain.CurrentLocation(events); open {
			return domain.ProductionEvent{}, domain.AlreadyOpenElsewhere(in.unit.ID, loc.DepartmentID)
		}
	case domain.EventExit:
		entry, ok := domain.OpenEntryIn(events, in.department.ID)
		if !ok {
			return domain.ProductionEvent{}, domain.NoOpenEntry(in.unit.ID, in.department.ID)
		}
		d := domain.DwellDuration(entry, w.tx.Now())
		duration = &d
	case domain.EventPause, domain.EventResume:
		if _, ok := domain.OpenEntryIn(events, in.department.ID); !ok {
			return domain.ProductionEvent{}, domain.NoOpenEntry(in.unit.ID, in.department.ID)
		}
	}

	return w.tx.AppendEvent(domain.ProductionEvent{
		UnitID:               in.unit.ID,
		DepartmentID:         in.department.ID,
		Kind:                 in.kind,
		Actor:                in.actor,
		Duration:             duration,
		Note:                 in.note,
		RequiresConfirmation: in.requiresConfirmation,
	})
}

type statusMove struct {
	departmentID string
	kind         domain.EventKind
	batchID      string
	actor        domain.Actor
}

// moveUnit writes a status change and queues its notification. Callers
// validate the move against the graph; compensating writes skip that check
// and are verified by the commit rules.
func (w *unitOfWork) moveUnit(unit domain.ProductionUnit, to domain.Status, move statusMove) (domain.ProductionUnit, error) {
	from := unit.Status
	updated, err := w.tx.UpdateUnit(unit.ID, func(u *domain.ProductionUnit) error {
		u.Status = to
		switch {
		case to == domain.StatusOnHold:
			u.HeldFrom = from
		case from == domain.StatusOnHold:
			u.HeldFrom = domain.Status{}
		}
		if to == domain.StatusCompleted {
			now := w.tx.Now()
			u.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return domain.ProductionUnit{}, err
	}
	w.unitChanges = append(w.unitChanges, UnitStatusChanged{
		UnitID:         unit.ID,
		UnitNumber:     unit.Number,
		PreviousStatus: from,
		NewStatus:      to,
		DepartmentID:   move.departmentID,
		EventKind:      move.kind,
		BatchID:        move.batchID,
		Actor:          move.actor,
		OccurredAt:     w.tx.Now(),
	})
	return updated, nil
}

func (w *unitOfWork) batchMoved(batch domain.Batch, from domain.BatchStatus, actor domain.Actor) {
	w.batchChanges = append(w.batchChanges, BatchStatusChanged{
		BatchID:        batch.ID,
		Number:         batch.Number,
		PreviousStatus: from,
		NewStatus:      batch.Status,
		Actor:          actor,
		OccurredAt:     w.tx.Now(),
	})
}

func (w *unitOfWork) findUnit(id string) (domain.ProductionUnit, error) {
	unit, ok := w.tx.FindUnit(id)
	if !ok {
		return domain.ProductionUnit{}, domain.NotFound(domain.EntityUnit, id)
	}
	return unit, nil
}

func (w *unitOfWork) findDepartment(id string) (domain.Department, error) {
	dept, ok := w.tx.FindDepartment(id)
	if !ok {
		return domain.Department{}, domain.NotFound(domain.EntityDepartment, id)
	}
	return dept, nil
}

func (w *unitOfWork) findBatch(id string) (domain.Batch, error) {
	batch, ok := w.tx.FindBatch(id)
	if !ok {
		return domain.Batch{}, domain.NotFound(domain.EntityBatch, id)
	}
	return batch, nil
}
