package core

import (
	"context"
	"fmt"
	"sort"

	"cureline/pkg/domain"
)

// NextDepartment returns the department type following t in the
// manufacturing sequence, or false when t is the final stage.
func NextDepartment(t domain.DepartmentType) (domain.DepartmentType, bool) {
	return t.Next()
}

// TransferResult reports the outcome of routing a unit to its next department.
type TransferResult struct {
	UnitID         string                  `json:"unit_id"`
	Success        bool                    `json:"success"`
	Message        string                  `json:"message"`
	NewStatus      domain.Status           `json:"new_status"`
	NextDepartment *domain.Department      `json:"next_department,omitempty"`
	Event          *domain.ProductionEvent `json:"event,omitempty"`
	Err            error                   `json:"-"`
}

func failedTransfer(unitID string, err error) TransferResult {
	return TransferResult{UnitID: unitID, Message: err.Error(), Err: err}
}

// batchRoutedType is the department units only reach by joining a batch.
func batchRoutedType() domain.DepartmentType {
	dept, _ := domain.InResourceStatus().Department()
	return dept
}

// ExecuteAutoTransfer routes a unit that finished currentDepartmentID to an
// active department of the next type with an ASSIGNED event. A unit finishing
// the final department is marked COMPLETED. Units entering the batch-routed
// department stay at their completed status until a batch claims them.
func (s *Service) ExecuteAutoTransfer(ctx context.Context, unitID, currentDepartmentID string, actor domain.Actor) (TransferResult, error) {
	var result TransferResult
	err := s.run(ctx, opAutoTransfer, actor, func(ctx context.Context) (string, error) {
		_, err := s.transact(ctx, opAutoTransfer, func(w *unitOfWork) error {
			var err error
			result, err = w.transferUnit(unitID, currentDepartmentID, actor, "")
			return err
		})
		return unitID, err
	})
	if err != nil {
		return failedTransfer(unitID, err), err
	}
	return result, nil
}

// TransferBatch routes several units out of the same department in one
// transaction. Any failure aborts the whole transfer.
func (s *Service) TransferBatch(ctx context.Context, unitIDs []string, currentDepartmentID string, actor domain.Actor) ([]TransferResult, error) {
	var results []TransferResult
	err := s.run(ctx, opTransferBatch, actor, func(ctx context.Context) (string, error) {
		_, err := s.transact(ctx, opTransferBatch, func(w *unitOfWork) error {
			var err error
			results, err = w.transferBatch(unitIDs, currentDepartmentID, actor, "")
			return err
		})
		return currentDepartmentID, err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (w *unitOfWork) transferBatch(unitIDs []string, currentDepartmentID string, actor domain.Actor, batchID string) ([]TransferResult, error) {
	results := make([]TransferResult, 0, len(unitIDs))
	for _, id := range unitIDs {
		res, err := w.transferUnit(id, currentDepartmentID, actor, batchID)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (w *unitOfWork) transferUnit(unitID, currentDepartmentID string, actor domain.Actor, batchID string) (TransferResult, error) {
	unit, err := w.findUnit(unitID)
	if err != nil {
		return TransferResult{}, err
	}
	current, err := w.findDepartment(currentDepartmentID)
	if err != nil {
		return TransferResult{}, err
	}

	next, ok := NextDepartment(current.Type)
	if !ok {
		if err := checkMove(unit, domain.StatusCompleted, domain.EventExit); err != nil {
			return TransferResult{}, err
		}
		updated, err := w.moveUnit(unit, domain.StatusCompleted, statusMove{departmentID: current.ID, batchID: batchID, actor: actor})
		if err != nil {
			return TransferResult{}, err
		}
		return TransferResult{
			UnitID:    unitID,
			Success:   true,
			Message:   fmt.Sprintf("%s was the final department; unit completed", current.Name),
			NewStatus: updated.Status,
		}, nil
	}

	if next == batchRoutedType() && batchID == "" {
		return TransferResult{
			UnitID:    unitID,
			Success:   true,
			Message:   fmt.Sprintf("awaiting %s batch", next),
			NewStatus: unit.Status,
		}, nil
	}

	target, err := w.activeDepartment(next)
	if err != nil {
		return TransferResult{}, err
	}
	res, err := w.recordEvent(eventRequest{
		unitID:       unitID,
		departmentID: target.ID,
		kind:         domain.EventAssigned,
		actor:        actor,
		note:         "auto-transfer from " + current.Name,
		batchID:      batchID,
	})
	if err != nil {
		return TransferResult{}, err
	}
	evt := res.Event
	return TransferResult{
		UnitID:         unitID,
		Success:        true,
		Message:        fmt.Sprintf("assigned to %s", target.Name),
		NewStatus:      res.NewStatus,
		NextDepartment: &target,
		Event:          &evt,
	}, nil
}

// activeDepartment picks the active department of type t with the lowest
// name, then id.
func (w *unitOfWork) activeDepartment(t domain.DepartmentType) (domain.Department, error) {
	var candidates []domain.Department
	for _, dept := range w.tx.ListDepartments() {
		if dept.Type == t && dept.Active {
			candidates = append(candidates, dept)
		}
	}
	if len(candidates) == 0 {
		return domain.Department{}, domain.NoActiveDepartment(t)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Name != candidates[j].Name {
			return candidates[i].Name < candidates[j].Name
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], nil
}
