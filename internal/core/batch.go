package core

import (
	"context"
	"fmt"
	"time"

	"cureline/pkg/domain"
)

// BatchRequest describes a new autoclave load.
type BatchRequest struct {
	ResourceID    string    `json:"resource_id"`
	CuringCycleID string    `json:"curing_cycle_id"`
	PlannedStart  time.Time `json:"planned_start"`
	PlannedEnd    time.Time `json:"planned_end"`
	UnitIDs       []string  `json:"unit_ids"`
	SessionID     string    `json:"session_id,omitempty"`
}

func (r BatchRequest) validate() error {
	if r.ResourceID == "" {
		return domain.InvalidInput("resource id is required")
	}
	if r.CuringCycleID == "" {
		return domain.InvalidInput("curing cycle id is required")
	}
	if !r.PlannedStart.IsZero() && !r.PlannedEnd.IsZero() && r.PlannedEnd.Before(r.PlannedStart) {
		return domain.InvalidInput("planned end is before planned start")
	}
	seen := make(map[string]struct{}, len(r.UnitIDs))
	for _, id := range r.UnitIDs {
		if _, dup := seen[id]; dup {
			return domain.InvalidInput(fmt.Sprintf("unit %s listed twice", id))
		}
		seen[id] = struct{}{}
	}
	return nil
}

// BatchDetails is a batch with its membership.
type BatchDetails struct {
	Batch domain.Batch       `json:"batch"`
	Items []domain.BatchItem `json:"items"`
}

// AdvanceResult reports a batch lifecycle step.
type AdvanceResult struct {
	Batch          domain.Batch            `json:"batch"`
	PreviousStatus domain.BatchStatus      `json:"previous_status"`
	Changed        bool                    `json:"changed"`
	Units          []domain.ProductionUnit `json:"units,omitempty"`
	Transfers      []TransferResult        `json:"transfers,omitempty"`
	ArchiveKey     string                  `json:"archive_key,omitempty"`
	ArchiveError   string                  `json:"archive_error,omitempty"`
}

// CreateBatch creates a DRAFT batch on the active autoclave department and
// loads the requested units in the same transaction.
func (s *Service) CreateBatch(ctx context.Context, req BatchRequest, actor domain.Actor) (BatchDetails, error) {
	var details BatchDetails
	err := s.run(ctx, opCreateBatch, actor, func(ctx context.Context) (string, error) {
		if err := req.validate(); err != nil {
			return "", err
		}
		_, err := s.transact(ctx, opCreateBatch, func(w *unitOfWork) error {
			var err error
			details, err = w.createBatch(req, actor)
			return err
		})
		return details.Batch.ID, err
	})
	return details, err
}

func (w *unitOfWork) createBatch(req BatchRequest, actor domain.Actor) (BatchDetails, error) {
	if _, ok := w.tx.FindCuringCycle(req.CuringCycleID); !ok {
		return BatchDetails{}, domain.NotFound(domain.EntityCuringCycle, req.CuringCycleID)
	}
	dept, err := w.activeDepartment(batchRoutedType())
	if err != nil {
		return BatchDetails{}, err
	}
	batch, err := w.tx.CreateBatch(domain.Batch{
		ResourceID:    req.ResourceID,
		DepartmentID:  dept.ID,
		CuringCycleID: req.CuringCycleID,
		Status:        domain.BatchDraft,
		PlannedStart:  req.PlannedStart,
		PlannedEnd:    req.PlannedEnd,
		SessionID:     req.SessionID,
	})
	if err != nil {
		return BatchDetails{}, err
	}
	w.batchMoved(batch, "", actor)

	details := BatchDetails{Batch: batch}
	for _, unitID := range req.UnitIDs {
		item, err := w.addMember(batch, unitID, actor)
		if err != nil {
			return BatchDetails{}, err
		}
		details.Items = append(details.Items, item)
	}
	return details, nil
}

// AddUnitToBatch loads an eligible unit into a DRAFT or READY batch.
func (s *Service) AddUnitToBatch(ctx context.Context, batchID, unitID string, actor domain.Actor) (domain.BatchItem, error) {
	var item domain.BatchItem
	err := s.run(ctx, opAddUnitToBatch, actor, func(ctx context.Context) (string, error) {
		_, err := s.transact(ctx, opAddUnitToBatch, func(w *unitOfWork) error {
			batch, err := w.findBatch(batchID)
			if err != nil {
				return err
			}
			item, err = w.addMember(batch, unitID, actor)
			return err
		})
		return batchID, err
	})
	return item, err
}

func (w *unitOfWork) addMember(batch domain.Batch, unitID string, actor domain.Actor) (domain.BatchItem, error) {
	if !batch.Status.AllowsMembershipChange() {
		return domain.BatchItem{}, domain.TerminalBatchState(batch.ID, batch.Status, "add units to")
	}
	unit, err := w.findUnit(unitID)
	if err != nil {
		return domain.BatchItem{}, err
	}
	if item, open := w.tx.FindOpenItemForUnit(unit.ID); open {
		return domain.BatchItem{}, domain.UnitUnavailable(unit.ID, "already in batch "+item.BatchID).With("batch", item.BatchID)
	}
	if ready := domain.ReadyForBatchStatus(); unit.Status != ready {
		return domain.BatchItem{}, domain.UnitUnavailable(unit.ID,
			fmt.Sprintf("status is %s, batching requires %s", unit.Status, ready))
	}
	if cycle := unit.EffectiveCuringCycleID(); cycle != batch.CuringCycleID {
		return domain.BatchItem{}, domain.IncompatibleCycle(unit.ID, cycle, batch.CuringCycleID).With("batch", batch.ID)
	}

	if _, err := w.recordEvent(eventRequest{
		unitID:       unit.ID,
		departmentID: batch.DepartmentID,
		kind:         domain.EventAssigned,
		actor:        actor,
		note:         fmt.Sprintf("loaded into batch %d", batch.Number),
		batchID:      batch.ID,
	}); err != nil {
		return domain.BatchItem{}, err
	}
	return w.tx.CreateBatchItem(domain.BatchItem{
		BatchID:        batch.ID,
		UnitID:         unit.ID,
		PreviousStatus: unit.Status,
		Active:         true,
	})
}

// RemoveUnitFromBatch unloads a unit from a DRAFT or READY batch and restores
// the status it held when it joined.
func (s *Service) RemoveUnitFromBatch(ctx context.Context, batchID, unitID string, actor domain.Actor) (domain.ProductionUnit, error) {
	var unit domain.ProductionUnit
	err := s.run(ctx, opRemoveUnitFromBatch, actor, func(ctx context.Context) (string, error) {
		_, err := s.transact(ctx, opRemoveUnitFromBatch, func(w *unitOfWork) error {
			batch, err := w.findBatch(batchID)
			if err != nil {
				return err
			}
			if !batch.Status.AllowsMembershipChange() {
				return domain.TerminalBatchState(batch.ID, batch.Status, "remove units from")
			}
			item, ok := w.memberItem(batch.ID, unitID)
			if !ok {
				return domain.NotFound(domain.EntityBatchItem, unitID).With("batch", batch.ID)
			}
			unit, err = w.releaseMember(batch, item, actor, fmt.Sprintf("removed from batch %d", batch.Number))
			return err
		})
		return batchID, err
	})
	return unit, err
}

func (w *unitOfWork) memberItem(batchID, unitID string) (domain.BatchItem, bool) {
	for _, item := range w.tx.ListBatchItems(batchID) {
		if item.UnitID == unitID && item.Active {
			return item, true
		}
	}
	return domain.BatchItem{}, false
}

func (w *unitOfWork) activeItems(batchID string) []domain.BatchItem {
	var out []domain.BatchItem
	for _, item := range w.tx.ListBatchItems(batchID) {
		if item.Active {
			out = append(out, item)
		}
	}
	return out
}

// restoreStatus is the status a member returns to when it leaves a batch.
func restoreStatus(item domain.BatchItem) domain.Status {
	if item.PreviousStatus.IsZero() {
		return domain.ReadyForBatchStatus()
	}
	return item.PreviousStatus
}

// releaseMember closes the member's open autoclave entry, notes the removal,
// restores its previous status and deletes the item.
func (w *unitOfWork) releaseMember(batch domain.Batch, item domain.BatchItem, actor domain.Actor, note string) (domain.ProductionUnit, error) {
	unit, err := w.findUnit(item.UnitID)
	if err != nil {
		return domain.ProductionUnit{}, err
	}
	dept, err := w.findDepartment(batch.DepartmentID)
	if err != nil {
		return domain.ProductionUnit{}, err
	}
	kind := domain.EventNote
	if _, open := domain.OpenEntryIn(w.tx.ListUnitEvents(unit.ID), dept.ID); open {
		kind = domain.EventExit
	}
	if _, err := w.appendEvent(eventInput{unit: unit, department: dept, kind: kind, actor: actor, note: note}); err != nil {
		return domain.ProductionUnit{}, err
	}
	if to := restoreStatus(item); unit.Status != to {
		unit, err = w.moveUnit(unit, to, statusMove{departmentID: dept.ID, kind: kind, batchID: batch.ID, actor: actor})
		if err != nil {
			return domain.ProductionUnit{}, err
		}
	}
	if err := w.tx.DeleteBatchItem(item.ID); err != nil {
		return domain.ProductionUnit{}, err
	}
	return unit, nil
}

// AdvanceBatch moves a batch along its lifecycle and applies the matching
// member unit changes in the same transaction. Advancing to the current
// status is a no-op. A released batch is archived after commit.
func (s *Service) AdvanceBatch(ctx context.Context, batchID string, target domain.BatchStatus, actor domain.Actor) (AdvanceResult, error) {
	var (
		result AdvanceResult
		record *CureRecord
	)
	err := s.run(ctx, opAdvanceBatch, actor, func(ctx context.Context) (string, error) {
		parsed, err := domain.ParseBatchStatus(string(target))
		if err != nil {
			return batchID, err
		}
		target = parsed
		_, err = s.transact(ctx, opAdvanceBatch, func(w *unitOfWork) error {
			var err error
			result, record, err = w.advanceBatch(batchID, target, actor)
			return err
		})
		return batchID, err
	})
	if err != nil {
		return AdvanceResult{}, err
	}
	if record != nil {
		key, err := s.archiveCureRecord(ctx, *record)
		result.ArchiveKey = key
		if err != nil {
			result.ArchiveError = err.Error()
		}
	}
	return result, nil
}

func (w *unitOfWork) advanceBatch(batchID string, target domain.BatchStatus, actor domain.Actor) (AdvanceResult, *CureRecord, error) {
	batch, err := w.findBatch(batchID)
	if err != nil {
		return AdvanceResult{}, nil, err
	}
	from := batch.Status
	if from == target {
		return AdvanceResult{Batch: batch, PreviousStatus: from}, nil, nil
	}
	if !domain.CanAdvanceBatch(from, target) {
		return AdvanceResult{}, nil, domain.InvalidTransition(domain.EntityBatch, batch.ID, from, target,
			fmt.Sprintf("allowed targets: %v", domain.BatchTargets(from)))
	}

	items := w.activeItems(batch.ID)
	now := w.tx.Now()
	result := AdvanceResult{PreviousStatus: from, Changed: true}
	var record *CureRecord
	var mutate func(b *domain.Batch)

	switch {
	case target == domain.BatchInCure && from == domain.BatchReady:
		if len(items) == 0 {
			return AdvanceResult{}, nil, domain.InvalidInput("batch has no units to cure").With("batch", batch.ID)
		}
		if err := w.memberEvents(batch, items, domain.EventEntry, actor, &result); err != nil {
			return AdvanceResult{}, nil, err
		}
		mutate = func(b *domain.Batch) { b.ActualStart = &now }

	case target == domain.BatchInCure && from == domain.BatchCompleted:
		if err := w.rollbackMembers(batch, items, domain.EventEntry, domain.InDepartment(batchRoutedType()), "cure reopened", actor, &result); err != nil {
			return AdvanceResult{}, nil, err
		}
		mutate = func(b *domain.Batch) { b.ActualEnd = nil }

	case target == domain.BatchReady && from == domain.BatchInCure:
		if err := w.rollbackMembers(batch, items, domain.EventExit, domain.InResourceStatus(), "cure aborted", actor, &result); err != nil {
			return AdvanceResult{}, nil, err
		}
		mutate = func(b *domain.Batch) { b.ActualStart = nil }

	case target == domain.BatchCompleted:
		if err := w.memberEvents(batch, items, domain.EventExit, actor, &result); err != nil {
			return AdvanceResult{}, nil, err
		}
		mutate = func(b *domain.Batch) { b.ActualEnd = &now }

	case target == domain.BatchReleased:
		unitIDs := make([]string, 0, len(items))
		for _, item := range items {
			if _, err := w.tx.UpdateBatchItem(item.ID, func(i *domain.BatchItem) error {
				i.Active = false
				return nil
			}); err != nil {
				return AdvanceResult{}, nil, err
			}
			unitIDs = append(unitIDs, item.UnitID)
		}
		transfers, err := w.transferBatch(unitIDs, batch.DepartmentID, actor, batch.ID)
		if err != nil {
			return AdvanceResult{}, nil, err
		}
		result.Transfers = transfers
		for _, id := range unitIDs {
			unit, _ := w.tx.FindUnit(id)
			result.Units = append(result.Units, unit)
		}
		mutate = func(*domain.Batch) {}
		rec, err := w.cureRecord(batch, items)
		if err != nil {
			return AdvanceResult{}, nil, err
		}
		record = &rec

	case target == domain.BatchCancelled:
		for _, item := range items {
			unit, err := w.releaseMember(batch, item, actor, fmt.Sprintf("batch %d cancelled", batch.Number))
			if err != nil {
				return AdvanceResult{}, nil, err
			}
			result.Units = append(result.Units, unit)
		}
		mutate = func(*domain.Batch) {}

	default:
		// DRAFT <-> READY and CANCELLED -> DRAFT leave members untouched.
		mutate = func(*domain.Batch) {}
	}

	updated, err := w.tx.UpdateBatch(batch.ID, func(b *domain.Batch) error {
		b.Status = target
		mutate(b)
		return nil
	})
	if err != nil {
		return AdvanceResult{}, nil, err
	}
	w.batchMoved(updated, from, actor)
	result.Batch = updated
	if record != nil {
		record.Batch = updated
	}
	return result, record, nil
}

// memberEvents records a cure ENTRY or EXIT for every member.
func (w *unitOfWork) memberEvents(batch domain.Batch, items []domain.BatchItem, kind domain.EventKind, actor domain.Actor, result *AdvanceResult) error {
	for _, item := range items {
		res, err := w.recordEvent(eventRequest{
			unitID:       item.UnitID,
			departmentID: batch.DepartmentID,
			kind:         kind,
			actor:        actor,
			note:         fmt.Sprintf("batch %d", batch.Number),
			batchID:      batch.ID,
		})
		if err != nil {
			return err
		}
		result.Units = append(result.Units, res.Unit)
	}
	return nil
}

// rollbackMembers writes the log event of an aborted or reopened cure and
// moves every member back to status.
func (w *unitOfWork) rollbackMembers(batch domain.Batch, items []domain.BatchItem, kind domain.EventKind, status domain.Status, note string, actor domain.Actor, result *AdvanceResult) error {
	dept, err := w.findDepartment(batch.DepartmentID)
	if err != nil {
		return err
	}
	for _, item := range items {
		unit, err := w.findUnit(item.UnitID)
		if err != nil {
			return err
		}
		if _, err := w.appendEvent(eventInput{unit: unit, department: dept, kind: kind, actor: actor, note: note}); err != nil {
			return err
		}
		unit, err = w.moveUnit(unit, status, statusMove{departmentID: dept.ID, kind: kind, batchID: batch.ID, actor: actor})
		if err != nil {
			return err
		}
		result.Units = append(result.Units, unit)
	}
	return nil
}

// DeleteBatch removes a DRAFT, READY or CANCELLED batch after restoring every
// member's previous status.
func (s *Service) DeleteBatch(ctx context.Context, batchID string, actor domain.Actor) error {
	return s.run(ctx, opDeleteBatch, actor, func(ctx context.Context) (string, error) {
		_, err := s.transact(ctx, opDeleteBatch, func(w *unitOfWork) error {
			batch, err := w.findBatch(batchID)
			if err != nil {
				return err
			}
			if !batch.Status.AllowsDelete() {
				return domain.TerminalBatchState(batch.ID, batch.Status, "delete")
			}
			for _, item := range w.tx.ListBatchItems(batch.ID) {
				if !item.Active {
					if err := w.tx.DeleteBatchItem(item.ID); err != nil {
						return err
					}
					continue
				}
				if _, err := w.releaseMember(batch, item, actor, fmt.Sprintf("batch %d deleted", batch.Number)); err != nil {
					return err
				}
			}
			return w.tx.DeleteBatch(batch.ID)
		})
		return batchID, err
	})
}

// GetBatch returns a batch and its items.
func (s *Service) GetBatch(ctx context.Context, batchID string) (BatchDetails, error) {
	var details BatchDetails
	err := s.view(ctx, func(v TransactionView) error {
		batch, ok := v.FindBatch(batchID)
		if !ok {
			return domain.NotFound(domain.EntityBatch, batchID)
		}
		details = BatchDetails{Batch: batch, Items: v.ListBatchItems(batchID)}
		return nil
	})
	return details, err
}
