// Package memory provides the in-memory transactional store. It is used
// directly for tests and ephemeral environments and as the working set of the
// SQL backed stores, which hook into commit to write changed rows through.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cureline/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertion ensuring Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// CommitHook runs after rules pass and before the transaction's state becomes
// visible. Returning an error aborts the commit.
type CommitHook func(ctx context.Context, changes []Change) error

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithCommitHook installs a hook executed inside the commit critical section.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.hook = hook }
}

// WithIDGenerator overrides identifier generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.idFn = fn
		}
	}
}

// Store provides an in-memory transactional store for the tracking domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	idFn   func() string
	hook   CommitHook
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
		idFn:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCommitHook replaces the commit hook. Wrapping stores call it once during construction.
func (s *Store) SetCommitHook(hook CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// ExportState clones the current store state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateFromSnapshot(snapshot)
}

// ReplaceState swaps the committed state for the snapshot returned by load.
// load runs while the store lock is held so no transaction commits in between.
func (s *Store) ReplaceState(ctx context.Context, load func(context.Context) (Snapshot, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, err := load(ctx)
	if err != nil {
		return err
	}
	s.state = stateFromSnapshot(snapshot)
	return nil
}

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// RunInTransaction executes fn against a private copy of the state. The copy
// replaces the committed state only if fn succeeds, no blocking rule
// violation is reported, and the commit hook (if any) accepts the changes.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, transactionView{state: &tx.state}, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if s.hook != nil && len(tx.changes) > 0 {
		if err := s.hook(ctx, tx.changes); err != nil {
			return result, err
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(transactionView{state: &snapshot})
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

func (tx *transaction) view() transactionView { return transactionView{state: &tx.state} }

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView { return tx.view() }

// Now returns the transaction timestamp.
func (tx *transaction) Now() time.Time { return tx.now }

func (tx *transaction) newID(id string) string {
	if id != "" {
		return id
	}
	return tx.store.idFn()
}

// Reads on the transaction observe its own writes.

func (tx *transaction) FindUnit(id string) (domain.ProductionUnit, bool) { return tx.view().FindUnit(id) }
func (tx *transaction) ListUnits() []domain.ProductionUnit                { return tx.view().ListUnits() }
func (tx *transaction) FindDepartment(id string) (domain.Department, bool) {
	return tx.view().FindDepartment(id)
}
func (tx *transaction) ListDepartments() []domain.Department { return tx.view().ListDepartments() }
func (tx *transaction) FindCuringCycle(id string) (domain.CuringCycle, bool) {
	return tx.view().FindCuringCycle(id)
}
func (tx *transaction) ListCuringCycles() []domain.CuringCycle  { return tx.view().ListCuringCycles() }
func (tx *transaction) FindBatch(id string) (domain.Batch, bool) { return tx.view().FindBatch(id) }
func (tx *transaction) ListBatches() []domain.Batch              { return tx.view().ListBatches() }
func (tx *transaction) ListBatchItems(batchID string) []domain.BatchItem {
	return tx.view().ListBatchItems(batchID)
}
func (tx *transaction) FindOpenItemForUnit(unitID string) (domain.BatchItem, bool) {
	return tx.view().FindOpenItemForUnit(unitID)
}
func (tx *transaction) ListUnitEvents(unitID string) []domain.ProductionEvent {
	return tx.view().ListUnitEvents(unitID)
}
func (tx *transaction) FindOptimizerSession(id string) (domain.OptimizerSession, bool) {
	return tx.view().FindOptimizerSession(id)
}
func (tx *transaction) ListOptimizerSessions() []domain.OptimizerSession {
	return tx.view().ListOptimizerSessions()
}

// CreateUnit stores a new production unit. Numbers are unique.
func (tx *transaction) CreateUnit(u domain.ProductionUnit) (domain.ProductionUnit, error) {
	u.ID = tx.newID(u.ID)
	if _, exists := tx.state.units[u.ID]; exists {
		return domain.ProductionUnit{}, fmt.Errorf("unit %q already exists", u.ID)
	}
	for _, existing := range tx.state.units {
		if existing.Number == u.Number {
			return domain.ProductionUnit{}, domain.InvalidInput(fmt.Sprintf("unit number %q already in use", u.Number))
		}
	}
	u.CreatedAt, u.UpdatedAt, u.Version = tx.now, tx.now, 1
	tx.state.units[u.ID] = cloneUnit(u)
	tx.recordChange(Change{Entity: domain.EntityUnit, Action: domain.ActionCreate, After: cloneUnit(u)})
	return cloneUnit(u), nil
}

// UpdateUnit mutates a unit using the provided mutator.
func (tx *transaction) UpdateUnit(id string, mutator func(*domain.ProductionUnit) error) (domain.ProductionUnit, error) {
	current, ok := tx.state.units[id]
	if !ok {
		return domain.ProductionUnit{}, domain.NotFound(domain.EntityUnit, id)
	}
	before := cloneUnit(current)
	if err := mutator(&current); err != nil {
		return domain.ProductionUnit{}, err
	}
	current.ID, current.CreatedAt = id, before.CreatedAt
	current.UpdatedAt, current.Version = tx.now, before.Version+1
	tx.state.units[id] = cloneUnit(current)
	tx.recordChange(Change{Entity: domain.EntityUnit, Action: domain.ActionUpdate, Before: before, After: cloneUnit(current)})
	return cloneUnit(current), nil
}

// CreateDepartment stores a department.
func (tx *transaction) CreateDepartment(d domain.Department) (domain.Department, error) {
	if !d.Type.Valid() {
		return domain.Department{}, domain.InvalidInput(fmt.Sprintf("unknown department type %q", d.Type))
	}
	d.ID = tx.newID(d.ID)
	if _, exists := tx.state.departments[d.ID]; exists {
		return domain.Department{}, fmt.Errorf("department %q already exists", d.ID)
	}
	d.CreatedAt, d.UpdatedAt, d.Version = tx.now, tx.now, 1
	tx.state.departments[d.ID] = d
	tx.recordChange(Change{Entity: domain.EntityDepartment, Action: domain.ActionCreate, After: d})
	return d, nil
}

// UpdateDepartment mutates a department.
func (tx *transaction) UpdateDepartment(id string, mutator func(*domain.Department) error) (domain.Department, error) {
	current, ok := tx.state.departments[id]
	if !ok {
		return domain.Department{}, domain.NotFound(domain.EntityDepartment, id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return domain.Department{}, err
	}
	current.ID, current.Type, current.CreatedAt = id, before.Type, before.CreatedAt
	current.UpdatedAt, current.Version = tx.now, before.Version+1
	tx.state.departments[id] = current
	tx.recordChange(Change{Entity: domain.EntityDepartment, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreateCuringCycle stores a curing cycle. Codes are unique.
func (tx *transaction) CreateCuringCycle(c domain.CuringCycle) (domain.CuringCycle, error) {
	c.ID = tx.newID(c.ID)
	if _, exists := tx.state.cycles[c.ID]; exists {
		return domain.CuringCycle{}, fmt.Errorf("curing cycle %q already exists", c.ID)
	}
	for _, existing := range tx.state.cycles {
		if c.Code != "" && existing.Code == c.Code {
			return domain.CuringCycle{}, domain.InvalidInput(fmt.Sprintf("curing cycle code %q already in use", c.Code))
		}
	}
	c.CreatedAt, c.UpdatedAt, c.Version = tx.now, tx.now, 1
	tx.state.cycles[c.ID] = cloneCycle(c)
	tx.recordChange(Change{Entity: domain.EntityCuringCycle, Action: domain.ActionCreate, After: cloneCycle(c)})
	return cloneCycle(c), nil
}

// AppendEvent adds an immutable event to a unit's log. The sequence number is
// assigned from the unit's existing events and the timestamp defaults to the
// transaction time.
func (tx *transaction) AppendEvent(e domain.ProductionEvent) (domain.ProductionEvent, error) {
	if _, ok := tx.state.units[e.UnitID]; !ok {
		return domain.ProductionEvent{}, domain.NotFound(domain.EntityUnit, e.UnitID)
	}
	e.ID = tx.newID(e.ID)
	if e.OccurredAt.IsZero() {
		e.OccurredAt = tx.now
	}
	e.Sequence = domain.NextSequence(tx.state.events[e.UnitID])
	e = cloneEvent(e)
	tx.state.events[e.UnitID] = append(tx.state.events[e.UnitID], e)
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionCreate, After: cloneEvent(e)})
	return cloneEvent(e), nil
}

// CreateBatch stores a batch and assigns the next batch number.
func (tx *transaction) CreateBatch(b domain.Batch) (domain.Batch, error) {
	b.ID = tx.newID(b.ID)
	if _, exists := tx.state.batches[b.ID]; exists {
		return domain.Batch{}, fmt.Errorf("batch %q already exists", b.ID)
	}
	tx.state.batchSeq++
	b.Number = tx.state.batchSeq
	b.CreatedAt, b.UpdatedAt, b.Version = tx.now, tx.now, 1
	tx.state.batches[b.ID] = cloneBatch(b)
	tx.recordChange(Change{Entity: domain.EntityBatch, Action: domain.ActionCreate, After: cloneBatch(b)})
	return cloneBatch(b), nil
}

// UpdateBatch mutates a batch.
func (tx *transaction) UpdateBatch(id string, mutator func(*domain.Batch) error) (domain.Batch, error) {
	current, ok := tx.state.batches[id]
	if !ok {
		return domain.Batch{}, domain.NotFound(domain.EntityBatch, id)
	}
	before := cloneBatch(current)
	if err := mutator(&current); err != nil {
		return domain.Batch{}, err
	}
	current.ID, current.Number, current.CreatedAt = id, before.Number, before.CreatedAt
	current.UpdatedAt, current.Version = tx.now, before.Version+1
	tx.state.batches[id] = cloneBatch(current)
	tx.recordChange(Change{Entity: domain.EntityBatch, Action: domain.ActionUpdate, Before: before, After: cloneBatch(current)})
	return cloneBatch(current), nil
}

// DeleteBatch removes a batch. Its items must have been removed first.
func (tx *transaction) DeleteBatch(id string) error {
	current, ok := tx.state.batches[id]
	if !ok {
		return domain.NotFound(domain.EntityBatch, id)
	}
	for _, item := range tx.state.items {
		if item.BatchID == id {
			return fmt.Errorf("batch %q still referenced by item %q", id, item.ID)
		}
	}
	delete(tx.state.batches, id)
	tx.recordChange(Change{Entity: domain.EntityBatch, Action: domain.ActionDelete, Before: cloneBatch(current)})
	return nil
}

// CreateBatchItem links a unit to a batch. A unit may hold at most one active item.
func (tx *transaction) CreateBatchItem(item domain.BatchItem) (domain.BatchItem, error) {
	if _, ok := tx.state.batches[item.BatchID]; !ok {
		return domain.BatchItem{}, domain.NotFound(domain.EntityBatch, item.BatchID)
	}
	if _, ok := tx.state.units[item.UnitID]; !ok {
		return domain.BatchItem{}, domain.NotFound(domain.EntityUnit, item.UnitID)
	}
	if item.Active {
		if existing, ok := tx.view().FindOpenItemForUnit(item.UnitID); ok {
			return domain.BatchItem{}, domain.UnitUnavailable(item.UnitID, "already in batch "+existing.BatchID)
		}
	}
	item.ID = tx.newID(item.ID)
	if _, exists := tx.state.items[item.ID]; exists {
		return domain.BatchItem{}, fmt.Errorf("batch item %q already exists", item.ID)
	}
	item.CreatedAt, item.UpdatedAt, item.Version = tx.now, tx.now, 1
	tx.state.items[item.ID] = item
	tx.recordChange(Change{Entity: domain.EntityBatchItem, Action: domain.ActionCreate, After: item})
	return item, nil
}

// UpdateBatchItem mutates a batch item. Batch and unit links are immutable.
func (tx *transaction) UpdateBatchItem(id string, mutator func(*domain.BatchItem) error) (domain.BatchItem, error) {
	current, ok := tx.state.items[id]
	if !ok {
		return domain.BatchItem{}, domain.NotFound(domain.EntityBatchItem, id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return domain.BatchItem{}, err
	}
	current.ID, current.BatchID, current.UnitID, current.CreatedAt = id, before.BatchID, before.UnitID, before.CreatedAt
	current.UpdatedAt, current.Version = tx.now, before.Version+1
	tx.state.items[id] = current
	tx.recordChange(Change{Entity: domain.EntityBatchItem, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteBatchItem removes a batch item.
func (tx *transaction) DeleteBatchItem(id string) error {
	current, ok := tx.state.items[id]
	if !ok {
		return domain.NotFound(domain.EntityBatchItem, id)
	}
	delete(tx.state.items, id)
	tx.recordChange(Change{Entity: domain.EntityBatchItem, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateOptimizerSession stores optimizer output.
func (tx *transaction) CreateOptimizerSession(sess domain.OptimizerSession) (domain.OptimizerSession, error) {
	sess.ID = tx.newID(sess.ID)
	if _, exists := tx.state.sessions[sess.ID]; exists {
		return domain.OptimizerSession{}, fmt.Errorf("optimizer session %q already exists", sess.ID)
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = tx.now
	}
	sess = cloneSession(sess)
	tx.state.sessions[sess.ID] = sess
	tx.recordChange(Change{Entity: domain.EntityOptimizerSession, Action: domain.ActionCreate, After: cloneSession(sess)})
	return cloneSession(sess), nil
}

// DeleteOptimizerSession removes a stored session.
func (tx *transaction) DeleteOptimizerSession(id string) error {
	current, ok := tx.state.sessions[id]
	if !ok {
		return domain.NotFound(domain.EntityOptimizerSession, id)
	}
	delete(tx.state.sessions, id)
	tx.recordChange(Change{Entity: domain.EntityOptimizerSession, Action: domain.ActionDelete, Before: cloneSession(current)})
	return nil
}

// transactionView exposes a read-only snapshot of the state.
type transactionView struct {
	state *memoryState
}

func (v transactionView) FindUnit(id string) (domain.ProductionUnit, bool) {
	u, ok := v.state.units[id]
	if !ok {
		return domain.ProductionUnit{}, false
	}
	return cloneUnit(u), true
}

func (v transactionView) ListUnits() []domain.ProductionUnit {
	out := make([]domain.ProductionUnit, 0, len(v.state.units))
	for _, u := range v.state.units {
		out = append(out, cloneUnit(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (v transactionView) FindDepartment(id string) (domain.Department, bool) {
	d, ok := v.state.departments[id]
	return d, ok
}

func (v transactionView) ListDepartments() []domain.Department {
	out := make([]domain.Department, 0, len(v.state.departments))
	for _, d := range v.state.departments {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v transactionView) FindCuringCycle(id string) (domain.CuringCycle, bool) {
	c, ok := v.state.cycles[id]
	if !ok {
		return domain.CuringCycle{}, false
	}
	return cloneCycle(c), true
}

func (v transactionView) ListCuringCycles() []domain.CuringCycle {
	out := make([]domain.CuringCycle, 0, len(v.state.cycles))
	for _, c := range v.state.cycles {
		out = append(out, cloneCycle(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (v transactionView) FindBatch(id string) (domain.Batch, bool) {
	b, ok := v.state.batches[id]
	if !ok {
		return domain.Batch{}, false
	}
	return cloneBatch(b), true
}

func (v transactionView) ListBatches() []domain.Batch {
	out := make([]domain.Batch, 0, len(v.state.batches))
	for _, b := range v.state.batches {
		out = append(out, cloneBatch(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (v transactionView) ListBatchItems(batchID string) []domain.BatchItem {
	var out []domain.BatchItem
	for _, item := range v.state.items {
		if item.BatchID == batchID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].UnitID < out[j].UnitID
	})
	return out
}

func (v transactionView) FindOpenItemForUnit(unitID string) (domain.BatchItem, bool) {
	for _, item := range v.state.items {
		if item.UnitID == unitID && item.Active {
			return item, true
		}
	}
	return domain.BatchItem{}, false
}

func (v transactionView) ListUnitEvents(unitID string) []domain.ProductionEvent {
	events := v.state.events[unitID]
	out := make([]domain.ProductionEvent, 0, len(events))
	for _, e := range events {
		out = append(out, cloneEvent(e))
	}
	domain.SortEvents(out)
	return out
}

func (v transactionView) FindOptimizerSession(id string) (domain.OptimizerSession, bool) {
	s, ok := v.state.sessions[id]
	if !ok {
		return domain.OptimizerSession{}, false
	}
	return cloneSession(s), true
}

func (v transactionView) ListOptimizerSessions() []domain.OptimizerSession {
	out := make([]domain.OptimizerSession, 0, len(v.state.sessions))
	for _, s := range v.state.sessions {
		out = append(out, cloneSession(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
