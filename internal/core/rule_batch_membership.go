package core

import (
	"context"
	"fmt"

	"cureline/pkg/domain"
)

const batchMembershipRuleName = "batch_membership"

// NewBatchMembershipRule returns the commit rule guarding batch items: a unit
// holds at most one active item, new members share the batch curing cycle and
// only DRAFT or READY batches accept members.
func NewBatchMembershipRule() domain.Rule {
	return batchMembershipRule{}
}

type batchMembershipRule struct{}

func (batchMembershipRule) Name() string { return batchMembershipRuleName }

func (batchMembershipRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	checked := make(map[string]bool)
	for _, change := range changes {
		if change.Entity != domain.EntityBatchItem || change.After == nil {
			continue
		}
		item, ok := change.After.(domain.BatchItem)
		if !ok {
			continue
		}

		if change.Action == domain.ActionCreate {
			batch, found := view.FindBatch(item.BatchID)
			switch {
			case !found:
				res.Violations = append(res.Violations, blockViolation(batchMembershipRuleName, domain.EntityBatchItem, item.ID,
					fmt.Sprintf("batch %s does not exist", item.BatchID)))
				continue
			case !batch.Status.AllowsMembershipChange():
				res.Violations = append(res.Violations, blockViolation(batchMembershipRuleName, domain.EntityBatch, batch.ID,
					fmt.Sprintf("batch %d is %s and does not accept units", batch.Number, batch.Status)))
			}
			if unit, found := view.FindUnit(item.UnitID); found && unit.EffectiveCuringCycleID() != batch.CuringCycleID {
				res.Violations = append(res.Violations, blockViolation(batchMembershipRuleName, domain.EntityUnit, unit.ID,
					fmt.Sprintf("unit %s cures with %s, batch %d requires %s", unit.Number, unit.EffectiveCuringCycleID(), batch.Number, batch.CuringCycleID)))
			}
		}

		if !item.Active || checked[item.UnitID] {
			continue
		}
		checked[item.UnitID] = true
		if n := activeItemCount(view, item.UnitID); n > 1 {
			res.Violations = append(res.Violations, blockViolation(batchMembershipRuleName, domain.EntityUnit, item.UnitID,
				fmt.Sprintf("unit %s is an active member of %d batches", item.UnitID, n)))
		}
	}
	return res, nil
}

func activeItemCount(view domain.RuleView, unitID string) int {
	type lister interface{ ListBatches() []domain.Batch }
	l, ok := view.(lister)
	if !ok {
		if _, open := view.FindOpenItemForUnit(unitID); open {
			return 1
		}
		return 0
	}
	n := 0
	for _, batch := range l.ListBatches() {
		for _, item := range view.ListBatchItems(batch.ID) {
			if item.UnitID == unitID && item.Active {
				n++
			}
		}
	}
	return n
}
