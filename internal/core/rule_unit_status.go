package core

import (
	"context"
	"fmt"

	"cureline/pkg/domain"
)

const unitStatusRuleName = "unit_status"

// NewUnitStatusRule returns the commit rule that rejects unit status writes
// the graph does not allow, unless they compensate a batch: rolling back a
// cure or restoring the status recorded on a released batch item.
func NewUnitStatusRule() domain.Rule {
	return unitStatusRule{}
}

type unitStatusRule struct{}

func (unitStatusRule) Name() string { return unitStatusRuleName }

func (unitStatusRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	restored := make(map[string]map[domain.Status]bool)
	for _, change := range changes {
		if change.Entity != domain.EntityBatchItem || change.Before == nil {
			continue
		}
		item, ok := change.Before.(domain.BatchItem)
		if !ok || !item.Active {
			continue
		}
		if restored[item.UnitID] == nil {
			restored[item.UnitID] = make(map[domain.Status]bool)
		}
		restored[item.UnitID][restoreStatus(item)] = true
	}

	var res domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityUnit {
			continue
		}
		switch change.Action {
		case domain.ActionCreate:
			unit, ok := change.After.(domain.ProductionUnit)
			if ok && unit.Status != domain.StatusCreated {
				res.Violations = append(res.Violations, blockViolation(unitStatusRuleName, domain.EntityUnit, unit.ID,
					fmt.Sprintf("unit %s must be created as %s, not %s", unit.Number, domain.StatusCreated, unit.Status)))
			}
		case domain.ActionUpdate:
			before, okBefore := change.Before.(domain.ProductionUnit)
			after, okAfter := change.After.(domain.ProductionUnit)
			if !okBefore || !okAfter || before.Status == after.Status {
				continue
			}
			if domain.IsValidTransition(before.Status, after.Status) ||
				domain.IsBatchRollback(before.Status, after.Status) ||
				restored[after.ID][after.Status] {
				continue
			}
			res.Violations = append(res.Violations, blockViolation(unitStatusRuleName, domain.EntityUnit, after.ID,
				fmt.Sprintf("unit %s cannot move from %s to %s: %s", after.Number, before.Status, after.Status,
					domain.Explain(before.Status, after.Status))))
		}
	}
	return res, nil
}
