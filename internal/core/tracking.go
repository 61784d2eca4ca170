package core

import (
	"context"
	"fmt"
	"time"

	"cureline/pkg/domain"
)

// EventOptions carries the optional fields of CreateEvent.
type EventOptions struct {
	Note                 string
	RequiresConfirmation bool
	// SkipAutoTransfer leaves a unit at <dept>_COMPLETED after EXIT.
	SkipAutoTransfer bool
}

// EventResult describes a recorded event and the status change it caused.
// Transfer is set after an EXIT; a failed transfer is reported there and does
// not undo the EXIT.
type EventResult struct {
	Event          domain.ProductionEvent `json:"event"`
	Unit           domain.ProductionUnit  `json:"unit"`
	PreviousStatus domain.Status          `json:"previous_status"`
	NewStatus      domain.Status          `json:"new_status"`
	Transfer       *TransferResult        `json:"transfer,omitempty"`
}

type eventRequest struct {
	unitID               string
	departmentID         string
	kind                 domain.EventKind
	actor                domain.Actor
	note                 string
	requiresConfirmation bool
	// batchID is set when the batch lifecycle drives the event for a member.
	batchID string
}

// CreateEvent records a production event for a unit in a department and moves
// the unit to the status implied by the department type and event kind.
func (s *Service) CreateEvent(ctx context.Context, unitID, departmentID string, kind domain.EventKind, actor domain.Actor, opts EventOptions) (EventResult, error) {
	var result EventResult
	err := s.run(ctx, opCreateEvent, actor, func(ctx context.Context) (string, error) {
		parsed, err := domain.ParseEventKind(string(kind))
		if err != nil {
			return unitID, err
		}
		kind = parsed
		_, err = s.transact(ctx, opCreateEvent, func(w *unitOfWork) error {
			var err error
			result, err = w.recordEvent(eventRequest{
				unitID:               unitID,
				departmentID:         departmentID,
				kind:                 kind,
				actor:                actor,
				note:                 opts.Note,
				requiresConfirmation: opts.RequiresConfirmation,
			})
			return err
		})
		return unitID, err
	})
	if err != nil {
		return EventResult{}, err
	}

	if kind == domain.EventExit && !opts.SkipAutoTransfer {
		transfer, err := s.ExecuteAutoTransfer(ctx, unitID, departmentID, actor)
		if err != nil {
			s.opts.logger.Warn("auto-transfer failed after exit", "unit", unitID, "department", departmentID, "error", err)
		}
		result.Transfer = &transfer
	}
	return result, nil
}

func (w *unitOfWork) recordEvent(req eventRequest) (EventResult, error) {
	unit, err := w.findUnit(req.unitID)
	if err != nil {
		return EventResult{}, err
	}
	dept, err := w.findDepartment(req.departmentID)
	if err != nil {
		return EventResult{}, err
	}
	if !dept.Active {
		return EventResult{}, domain.NoActiveDepartment(dept.Type).With("department", dept.ID)
	}

	target, changesStatus := domain.TargetStatus(dept.Type, req.kind)
	if changesStatus && req.batchID == "" {
		if item, open := w.tx.FindOpenItemForUnit(unit.ID); open {
			return EventResult{}, domain.UnitUnavailable(unit.ID,
				fmt.Sprintf("member of batch %s; advance the batch instead", item.BatchID)).With("batch", item.BatchID)
		}
	}

	evt, err := w.appendEvent(eventInput{
		unit:                 unit,
		department:           dept,
		kind:                 req.kind,
		actor:                req.actor,
		note:                 req.note,
		requiresConfirmation: req.requiresConfirmation,
	})
	if err != nil {
		return EventResult{}, err
	}

	result := EventResult{Event: evt, Unit: unit, PreviousStatus: unit.Status, NewStatus: unit.Status}
	if !changesStatus {
		return result, nil
	}
	if err := checkMove(unit, target, req.kind); err != nil {
		return EventResult{}, err
	}
	updated, err := w.moveUnit(unit, target, statusMove{
		departmentID: dept.ID,
		kind:         req.kind,
		batchID:      req.batchID,
		actor:        req.actor,
	})
	if err != nil {
		return EventResult{}, err
	}
	result.Unit = updated
	result.NewStatus = updated.Status
	return result, nil
}

// checkMove validates a tracking move against the status graph. RESUME must
// return the unit to the department it was held in.
func checkMove(unit domain.ProductionUnit, target domain.Status, kind domain.EventKind) error {
	if kind == domain.EventResume {
		if unit.Status != domain.StatusOnHold {
			return domain.InvalidTransition(domain.EntityUnit, unit.ID, unit.Status, target, "unit is not on hold")
		}
		if !unit.HeldFrom.IsZero() && unit.HeldFrom != target {
			return domain.InvalidTransition(domain.EntityUnit, unit.ID, unit.Status, target,
				fmt.Sprintf("unit was held in %s", unit.HeldFrom))
		}
	}
	if reason := domain.Explain(unit.Status, target); reason != "" {
		return domain.InvalidTransition(domain.EntityUnit, unit.ID, unit.Status, target, reason)
	}
	return nil
}

// CurrentLocation returns the department holding the unit's open ENTRY.
func (s *Service) CurrentLocation(ctx context.Context, unitID string) (domain.Location, bool, error) {
	var (
		loc  domain.Location
		open bool
	)
	err := s.view(ctx, func(v TransactionView) error {
		if _, ok := v.FindUnit(unitID); !ok {
			return domain.NotFound(domain.EntityUnit, unitID)
		}
		loc, open = domain.CurrentLocation(v.ListUnitEvents(unitID))
		return nil
	})
	return loc, open, err
}

// History returns the unit's events in sequence order.
func (s *Service) History(ctx context.Context, unitID string) ([]domain.ProductionEvent, error) {
	var events []domain.ProductionEvent
	err := s.view(ctx, func(v TransactionView) error {
		if _, ok := v.FindUnit(unitID); !ok {
			return domain.NotFound(domain.EntityUnit, unitID)
		}
		events = v.ListUnitEvents(unitID)
		return nil
	})
	return events, err
}

// DepartmentDurations totals the closed dwell time of a unit per department id.
func (s *Service) DepartmentDurations(ctx context.Context, unitID string) (map[string]time.Duration, error) {
	events, err := s.History(ctx, unitID)
	if err != nil {
		return nil, err
	}
	return domain.DepartmentDurations(events), nil
}
