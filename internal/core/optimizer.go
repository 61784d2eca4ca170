package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cureline/pkg/domain"
)

// DefaultSessionTTL is how long planned suggestions stay usable.
const DefaultSessionTTL = 30 * time.Minute

// PlanRequest bounds a nesting run.
type PlanRequest struct {
	ResourceIDs      []string `json:"resource_ids"`
	MaxUnitsPerBatch int      `json:"max_units_per_batch"`
}

// Optimizer proposes batch groupings for units eligible to be batched.
type Optimizer interface {
	Suggest(ctx context.Context, req PlanRequest, candidates []domain.ProductionUnit) ([]domain.BatchSuggestion, error)
}

// CycleGroupingOptimizer groups candidates by effective curing cycle, most
// urgent first, splits groups at MaxUnitsPerBatch and hands resources out
// round-robin.
type CycleGroupingOptimizer struct{}

// Suggest implements Optimizer.
func (CycleGroupingOptimizer) Suggest(_ context.Context, req PlanRequest, candidates []domain.ProductionUnit) ([]domain.BatchSuggestion, error) {
	if len(req.ResourceIDs) == 0 {
		return nil, domain.InvalidInput("at least one resource id is required")
	}
	units := make([]domain.ProductionUnit, 0, len(candidates))
	for _, u := range candidates {
		if u.EffectiveCuringCycleID() != "" {
			units = append(units, u)
		}
	}
	sort.SliceStable(units, func(i, j int) bool {
		if units[i].Priority != units[j].Priority {
			return units[i].Priority > units[j].Priority
		}
		return units[i].Number < units[j].Number
	})

	groups := make(map[string][]string)
	var order []string
	for _, u := range units {
		cycle := u.EffectiveCuringCycleID()
		if _, seen := groups[cycle]; !seen {
			order = append(order, cycle)
		}
		groups[cycle] = append(groups[cycle], u.ID)
	}

	var out []domain.BatchSuggestion
	for _, cycle := range order {
		ids := groups[cycle]
		size := req.MaxUnitsPerBatch
		if size <= 0 {
			size = len(ids)
		}
		for start := 0; start < len(ids); start += size {
			end := min(start+size, len(ids))
			out = append(out, domain.BatchSuggestion{
				ResourceID:    req.ResourceIDs[len(out)%len(req.ResourceIDs)],
				CuringCycleID: cycle,
				UnitIDs:       append([]string(nil), ids[start:end]...),
			})
		}
	}
	return out, nil
}

// PlanBatches runs the optimizer over every unit ready for batching and keeps
// the suggestions in a session that expires after the configured TTL.
func (s *Service) PlanBatches(ctx context.Context, req PlanRequest, actor domain.Actor) (domain.OptimizerSession, error) {
	var session domain.OptimizerSession
	err := s.run(ctx, opPlanBatches, actor, func(ctx context.Context) (string, error) {
		var candidates []domain.ProductionUnit
		err := s.view(ctx, func(v TransactionView) error {
			ready := domain.ReadyForBatchStatus()
			for _, u := range v.ListUnits() {
				if _, open := v.FindOpenItemForUnit(u.ID); u.Status == ready && !open {
					candidates = append(candidates, u)
				}
			}
			return nil
		})
		if err != nil {
			return "", err
		}
		suggestions, err := s.opts.optimizer.Suggest(ctx, req, candidates)
		if err != nil {
			return "", err
		}
		_, err = s.transact(ctx, opPlanBatches, func(w *unitOfWork) error {
			var err error
			now := w.tx.Now()
			session, err = w.tx.CreateOptimizerSession(domain.OptimizerSession{
				CreatedAt:   now,
				ExpiresAt:   now.Add(s.opts.sessionTTL),
				Suggestions: suggestions,
			})
			return err
		})
		return session.ID, err
	})
	return session, err
}

// CreateBatchFromSuggestion creates a batch from one grouping of a stored
// session.
func (s *Service) CreateBatchFromSuggestion(ctx context.Context, sessionID string, index int, start, end time.Time, actor domain.Actor) (BatchDetails, error) {
	var details BatchDetails
	err := s.run(ctx, opCreateFromSuggestion, actor, func(ctx context.Context) (string, error) {
		_, err := s.transact(ctx, opCreateFromSuggestion, func(w *unitOfWork) error {
			session, ok := w.tx.FindOptimizerSession(sessionID)
			if !ok {
				return domain.NotFound(domain.EntityOptimizerSession, sessionID)
			}
			if session.Expired(w.tx.Now()) {
				return domain.InvalidInput(fmt.Sprintf("optimizer session %s expired at %s", sessionID, session.ExpiresAt.Format(time.RFC3339))).
					With(string(domain.EntityOptimizerSession), sessionID)
			}
			if index < 0 || index >= len(session.Suggestions) {
				return domain.InvalidInput(fmt.Sprintf("suggestion %d out of range (session has %d)", index, len(session.Suggestions)))
			}
			suggestion := session.Suggestions[index]
			req := BatchRequest{
				ResourceID:    suggestion.ResourceID,
				CuringCycleID: suggestion.CuringCycleID,
				PlannedStart:  start,
				PlannedEnd:    end,
				UnitIDs:       suggestion.UnitIDs,
				SessionID:     session.ID,
			}
			if err := req.validate(); err != nil {
				return err
			}
			var err error
			details, err = w.createBatch(req, actor)
			return err
		})
		return details.Batch.ID, err
	})
	return details, err
}

// PurgeExpiredSessions deletes sessions past their expiry and returns how many
// were removed.
func (s *Service) PurgeExpiredSessions(ctx context.Context, actor domain.Actor) (int, error) {
	var purged int
	err := s.run(ctx, opPurgeSessions, actor, func(ctx context.Context) (string, error) {
		_, err := s.transact(ctx, opPurgeSessions, func(w *unitOfWork) error {
			purged = 0
			now := w.tx.Now()
			for _, session := range w.tx.ListOptimizerSessions() {
				if !session.Expired(now) {
					continue
				}
				if err := w.tx.DeleteOptimizerSession(session.ID); err != nil {
					return err
				}
				purged++
			}
			return nil
		})
		return "", err
	})
	return purged, err
}
