package core

import (
	"context"
	"errors"
	"time"

	"cureline/internal/infra/persistence/memory"
	"cureline/pkg/domain"
)

type (
	// Transaction aliases domain.Transaction.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore.
	PersistentStore = domain.PersistentStore
	// RulesEngine aliases domain.RulesEngine.
	RulesEngine = domain.RulesEngine
)

// Service is the tracking core: it records production events, routes units
// between departments and runs the autoclave batch lifecycle. Every mutation
// executes in one store transaction that is retried on concurrency conflicts.
type Service struct {
	store PersistentStore
	opts  serviceOptions
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Service{store: store, opts: o}
}

// NewInMemoryService creates a service over a fresh in-memory store whose
// transaction clock follows the service clock.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	store := memory.NewStore(engine, memory.WithClock(o.clock.Now))
	return &Service{store: store, opts: o}
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// Close releases the underlying store.
func (s *Service) Close() error {
	return s.store.Close()
}

type operation struct {
	name   string
	entity domain.EntityType
	action domain.Action
}

var (
	opCreateEvent          = operation{"create_event", domain.EntityEvent, domain.ActionCreate}
	opAutoTransfer         = operation{"execute_auto_transfer", domain.EntityUnit, domain.ActionUpdate}
	opTransferBatch        = operation{"transfer_batch", domain.EntityUnit, domain.ActionUpdate}
	opCreateBatch          = operation{"create_batch", domain.EntityBatch, domain.ActionCreate}
	opAddUnitToBatch       = operation{"add_unit_to_batch", domain.EntityBatchItem, domain.ActionCreate}
	opRemoveUnitFromBatch  = operation{"remove_unit_from_batch", domain.EntityBatchItem, domain.ActionDelete}
	opAdvanceBatch         = operation{"advance_batch", domain.EntityBatch, domain.ActionUpdate}
	opDeleteBatch          = operation{"delete_batch", domain.EntityBatch, domain.ActionDelete}
	opCreateDepartment     = operation{"create_department", domain.EntityDepartment, domain.ActionCreate}
	opSetDepartmentActive  = operation{"set_department_active", domain.EntityDepartment, domain.ActionUpdate}
	opCreateCuringCycle    = operation{"create_curing_cycle", domain.EntityCuringCycle, domain.ActionCreate}
	opCreateUnit           = operation{"create_unit", domain.EntityUnit, domain.ActionCreate}
	opSetCycleOverride     = operation{"set_curing_cycle_override", domain.EntityUnit, domain.ActionUpdate}
	opPlanBatches          = operation{"plan_batches", domain.EntityOptimizerSession, domain.ActionCreate}
	opCreateFromSuggestion = operation{"create_batch_from_suggestion", domain.EntityBatch, domain.ActionCreate}
	opPurgeSessions        = operation{"purge_expired_sessions", domain.EntityOptimizerSession, domain.ActionDelete}
)

// run wraps an operation with tracing, metrics, audit and logging. fn returns
// the id of the entity it acted on.
func (s *Service) run(ctx context.Context, op operation, actor domain.Actor, fn func(ctx context.Context) (string, error)) error {
	started := time.Now()
	ctx, span := s.opts.tracer.Start(ctx, op.name)
	id, err := fn(ctx)
	duration := time.Since(started)
	span.End(err)
	s.opts.metrics.Observe(ctx, op.name, err == nil, duration)

	entry := AuditEntry{
		Operation: op.name,
		Entity:    op.entity,
		Action:    op.action,
		EntityID:  id,
		Actor:     actor,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.opts.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.opts.audit.Record(ctx, entry)

	switch {
	case err == nil:
		s.opts.logger.Debug("operation completed", "operation", op.name, "entity", op.entity, "id", id, "duration", duration)
	case errorKind(err) != "":
		s.opts.logger.Warn("operation rejected", "operation", op.name, "entity", op.entity, "id", id, "kind", errorKind(err), "error", err)
	default:
		s.opts.logger.Error("operation failed", "operation", op.name, "entity", op.entity, "id", id, "error", err)
	}
	return err
}

// transact runs fn in a store transaction, retrying the whole attempt on
// concurrency conflicts. Notifications collected by the successful attempt
// are published after commit.
func (s *Service) transact(ctx context.Context, op operation, fn func(w *unitOfWork) error) (*unitOfWork, error) {
	w, err := withRetry(ctx, s.opts, op.name, func() (*unitOfWork, error) {
		w := &unitOfWork{}
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			w.tx = tx
			return fn(w)
		})
		if err != nil {
			return nil, err
		}
		for _, v := range res.Violations {
			if v.Severity == domain.SeverityWarn {
				s.opts.logger.Warn("rule warning", "operation", op.name, "rule", v.Rule, "entity", v.Entity, "id", v.EntityID, "message", v.Message)
			}
		}
		return w, nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, w)
	return w, nil
}

func (s *Service) view(ctx context.Context, fn func(v TransactionView) error) error {
	return s.store.View(ctx, fn)
}

// errorKind classifies err for logs and traces; "" means an unexpected failure.
func errorKind(err error) domain.ErrorKind {
	if kind := domain.KindOf(err); kind != "" {
		return kind
	}
	if errors.Is(err, domain.ErrRuleViolation) {
		return domain.KindRuleViolation
	}
	return ""
}
