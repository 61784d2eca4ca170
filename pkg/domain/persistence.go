package domain

import (
	"context"
	"time"
)

// Transaction exposes the mutations a persistence implementation must support
// within an atomic scope. Reads through the embedded view observe the
// transaction's own writes.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView
	Now() time.Time

	CreateUnit(ProductionUnit) (ProductionUnit, error)
	UpdateUnit(id string, mutator func(*ProductionUnit) error) (ProductionUnit, error)

	CreateDepartment(Department) (Department, error)
	UpdateDepartment(id string, mutator func(*Department) error) (Department, error)

	CreateCuringCycle(CuringCycle) (CuringCycle, error)

	AppendEvent(ProductionEvent) (ProductionEvent, error)

	CreateBatch(Batch) (Batch, error)
	UpdateBatch(id string, mutator func(*Batch) error) (Batch, error)
	DeleteBatch(id string) error

	CreateBatchItem(BatchItem) (BatchItem, error)
	UpdateBatchItem(id string, mutator func(*BatchItem) error) (BatchItem, error)
	DeleteBatchItem(id string) error

	CreateOptimizerSession(OptimizerSession) (OptimizerSession, error)
	DeleteOptimizerSession(id string) error
}

// TransactionView provides read-only access to store data.
type TransactionView interface {
	RuleView
	ListUnits() []ProductionUnit
	FindDepartment(id string) (Department, bool)
	ListDepartments() []Department
	ListCuringCycles() []CuringCycle
	ListBatches() []Batch
	FindOptimizerSession(id string) (OptimizerSession, bool)
	ListOptimizerSessions() []OptimizerSession
}

// PersistentStore is the abstraction over durable backends used by the core service.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	Close() error
}
