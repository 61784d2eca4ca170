package core

import (
	"context"
	"fmt"
	"strings"

	"cureline/pkg/domain"
)

// CreateDepartment registers a processing station.
func (s *Service) CreateDepartment(ctx context.Context, dept domain.Department, actor domain.Actor) (domain.Department, error) {
	var created domain.Department
	err := s.run(ctx, opCreateDepartment, actor, func(ctx context.Context) (string, error) {
		if strings.TrimSpace(dept.Name) == "" {
			return "", domain.InvalidInput("department name is required")
		}
		t, err := domain.ParseDepartmentType(string(dept.Type))
		if err != nil {
			return "", err
		}
		dept.Type = t
		_, err = s.transact(ctx, opCreateDepartment, func(w *unitOfWork) error {
			var err error
			created, err = w.tx.CreateDepartment(dept)
			return err
		})
		return created.ID, err
	})
	return created, err
}

// SetDepartmentActive enables or disables a department for routing and events.
func (s *Service) SetDepartmentActive(ctx context.Context, id string, active bool, actor domain.Actor) (domain.Department, error) {
	var updated domain.Department
	err := s.run(ctx, opSetDepartmentActive, actor, func(ctx context.Context) (string, error) {
		_, err := s.transact(ctx, opSetDepartmentActive, func(w *unitOfWork) error {
			var err error
			updated, err = w.tx.UpdateDepartment(id, func(d *domain.Department) error {
				d.Active = active
				return nil
			})
			return err
		})
		return id, err
	})
	return updated, err
}

// CreateCuringCycle registers a cure recipe.
func (s *Service) CreateCuringCycle(ctx context.Context, cycle domain.CuringCycle, actor domain.Actor) (domain.CuringCycle, error) {
	var created domain.CuringCycle
	err := s.run(ctx, opCreateCuringCycle, actor, func(ctx context.Context) (string, error) {
		if cycle.Code == "" {
			return "", domain.InvalidInput("curing cycle code is required")
		}
		if cycle.Phase1.Duration <= 0 {
			return "", domain.InvalidInput("curing cycle phase 1 needs a positive duration")
		}
		if cycle.Phase2 != nil && cycle.Phase2.Duration <= 0 {
			return "", domain.InvalidInput("curing cycle phase 2 needs a positive duration")
		}
		_, err := s.transact(ctx, opCreateCuringCycle, func(w *unitOfWork) error {
			var err error
			created, err = w.tx.CreateCuringCycle(cycle)
			return err
		})
		return created.ID, err
	})
	return created, err
}

// UnitRequest describes a new production unit.
type UnitRequest struct {
	Number        string          `json:"number"`
	Quantity      int             `json:"quantity"`
	Priority      domain.Priority `json:"priority"`
	CuringCycleID string          `json:"curing_cycle_id"`
}

// CreateUnit registers a production unit in CREATED.
func (s *Service) CreateUnit(ctx context.Context, req UnitRequest, actor domain.Actor) (domain.ProductionUnit, error) {
	var created domain.ProductionUnit
	err := s.run(ctx, opCreateUnit, actor, func(ctx context.Context) (string, error) {
		if strings.TrimSpace(req.Number) == "" {
			return "", domain.InvalidInput("unit number is required")
		}
		if req.Quantity <= 0 {
			return "", domain.InvalidInput(fmt.Sprintf("quantity must be positive, got %d", req.Quantity))
		}
		if req.Priority == 0 {
			req.Priority = domain.PriorityNormal
		}
		_, err := s.transact(ctx, opCreateUnit, func(w *unitOfWork) error {
			if req.CuringCycleID != "" {
				if _, ok := w.tx.FindCuringCycle(req.CuringCycleID); !ok {
					return domain.NotFound(domain.EntityCuringCycle, req.CuringCycleID)
				}
			}
			var err error
			created, err = w.tx.CreateUnit(domain.ProductionUnit{
				Number:               req.Number,
				Quantity:             req.Quantity,
				Priority:             req.Priority,
				Status:               domain.StatusCreated,
				DefaultCuringCycleID: req.CuringCycleID,
			})
			return err
		})
		return created.ID, err
	})
	return created, err
}

// SetCuringCycleOverride sets or clears (empty cycleID) a unit's cycle
// override. Units loaded in a batch keep their cycle.
func (s *Service) SetCuringCycleOverride(ctx context.Context, unitID, cycleID string, actor domain.Actor) (domain.ProductionUnit, error) {
	var updated domain.ProductionUnit
	err := s.run(ctx, opSetCycleOverride, actor, func(ctx context.Context) (string, error) {
		_, err := s.transact(ctx, opSetCycleOverride, func(w *unitOfWork) error {
			if _, err := w.findUnit(unitID); err != nil {
				return err
			}
			if item, open := w.tx.FindOpenItemForUnit(unitID); open {
				return domain.UnitUnavailable(unitID, "cycle is fixed while loaded in batch "+item.BatchID).With("batch", item.BatchID)
			}
			if cycleID != "" {
				if _, ok := w.tx.FindCuringCycle(cycleID); !ok {
					return domain.NotFound(domain.EntityCuringCycle, cycleID)
				}
			}
			var err error
			updated, err = w.tx.UpdateUnit(unitID, func(u *domain.ProductionUnit) error {
				if cycleID == "" {
					u.CuringCycleOverrideID = nil
					return nil
				}
				override := cycleID
				u.CuringCycleOverrideID = &override
				return nil
			})
			return err
		})
		return unitID, err
	})
	return updated, err
}

// GetUnit returns a unit by id.
func (s *Service) GetUnit(ctx context.Context, id string) (domain.ProductionUnit, error) {
	var unit domain.ProductionUnit
	err := s.view(ctx, func(v TransactionView) error {
		var ok bool
		if unit, ok = v.FindUnit(id); !ok {
			return domain.NotFound(domain.EntityUnit, id)
		}
		return nil
	})
	return unit, err
}

// ListUnits returns all units ordered by number.
func (s *Service) ListUnits(ctx context.Context) ([]domain.ProductionUnit, error) {
	var units []domain.ProductionUnit
	err := s.view(ctx, func(v TransactionView) error {
		units = v.ListUnits()
		return nil
	})
	return units, err
}

// ListDepartments returns all departments ordered by name.
func (s *Service) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	var depts []domain.Department
	err := s.view(ctx, func(v TransactionView) error {
		depts = v.ListDepartments()
		return nil
	})
	return depts, err
}

// ListCuringCycles returns all curing cycles ordered by code.
func (s *Service) ListCuringCycles(ctx context.Context) ([]domain.CuringCycle, error) {
	var cycles []domain.CuringCycle
	err := s.view(ctx, func(v TransactionView) error {
		cycles = v.ListCuringCycles()
		return nil
	})
	return cycles, err
}

// ListBatches returns all batches ordered by number.
func (s *Service) ListBatches(ctx context.Context) ([]domain.Batch, error) {
	var batches []domain.Batch
	err := s.view(ctx, func(v TransactionView) error {
		batches = v.ListBatches()
		return nil
	})
	return batches, err
}
