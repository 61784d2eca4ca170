// Package rowstore maps tracking entities onto the relational schema shared by
// the SQLite and Postgres stores. Each entity is one row holding its JSON
// payload next to the columns the schema indexes or constrains. Updates and
// deletes are guarded by the row version so a writer working from stale state
// fails with a concurrency conflict instead of overwriting newer data.
package rowstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"cureline/internal/infra/persistence/memory"
	"cureline/pkg/domain"
)

// Dialect captures the differences between SQL backends.
type Dialect struct {
	Name string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Classify maps driver errors to domain errors. Serialization failures and
	// constraint violations become concurrency conflicts.
	Classify func(error) error
	// SnapshotTx holds the options of the read transaction a reload runs in.
	// Nil uses the driver default.
	SnapshotTx *sql.TxOptions
}

// QuestionMark renders "?" placeholders.
func QuestionMark(int) string { return "?" }

// DollarNumber renders "$n" placeholders.
func DollarNumber(n int) string { return "$" + strconv.Itoa(n) }

func (d Dialect) classify(err error) error {
	if err == nil || d.Classify == nil {
		return err
	}
	return d.Classify(err)
}

// Execer is satisfied by *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type row struct {
	table     string
	id        string
	version   int64
	versioned bool
	cols      []string
	vals      []any
	payload   string
}

type tableSpec struct {
	entity domain.EntityType
	table  string
}

var tables = []tableSpec{
	{domain.EntityUnit, "units"},
	{domain.EntityDepartment, "departments"},
	{domain.EntityCuringCycle, "curing_cycles"},
	{domain.EntityEvent, "production_events"},
	{domain.EntityBatch, "batches"},
	{domain.EntityBatchItem, "batch_items"},
	{domain.EntityOptimizerSession, "optimizer_sessions"},
}

// Tables lists the entity tables in dependency order.
func Tables() []string {
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		out = append(out, t.table)
	}
	return out
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func rowFor(entity domain.EntityType, value any) (row, error) {
	var (
		r   row
		err error
	)
	switch v := value.(type) {
	case domain.ProductionUnit:
		r = row{table: "units", id: v.ID, version: v.Version, versioned: true,
			cols: []string{"number"}, vals: []any{v.Number}}
	case domain.Department:
		r = row{table: "departments", id: v.ID, version: v.Version, versioned: true}
	case domain.CuringCycle:
		r = row{table: "curing_cycles", id: v.ID, version: v.Version, versioned: true,
			cols: []string{"code"}, vals: []any{v.Code}}
	case domain.ProductionEvent:
		r = row{table: "production_events", id: v.ID,
			cols: []string{"unit_id", "seq"}, vals: []any{v.UnitID, v.Sequence}}
	case domain.Batch:
		r = row{table: "batches", id: v.ID, version: v.Version, versioned: true,
			cols: []string{"number"}, vals: []any{v.Number}}
	case domain.BatchItem:
		r = row{table: "batch_items", id: v.ID, version: v.Version, versioned: true,
			cols: []string{"batch_id", "unit_id", "active"}, vals: []any{v.BatchID, v.UnitID, v.Active}}
	case domain.OptimizerSession:
		r = row{table: "optimizer_sessions", id: v.ID,
			cols: []string{"expires_at"}, vals: []any{v.ExpiresAt.UTC()}}
	default:
		return row{}, fmt.Errorf("rowstore: unsupported %s payload %T", entity, value)
	}
	if r.payload, err = encode(value); err != nil {
		return row{}, fmt.Errorf("encode %s %s: %w", entity, r.id, err)
	}
	return r, nil
}

// ApplyChanges writes the changes recorded by a transaction in order.
func ApplyChanges(ctx context.Context, tx Execer, d Dialect, changes []domain.Change) error {
	for _, change := range changes {
		if err := applyChange(ctx, tx, d, change); err != nil {
			return err
		}
	}
	return nil
}

func applyChange(ctx context.Context, tx Execer, d Dialect, change domain.Change) error {
	switch change.Action {
	case domain.ActionCreate:
		r, err := rowFor(change.Entity, change.After)
		if err != nil {
			return err
		}
		query, args := insertStatement(d, r)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert %s %s: %w", r.table, r.id, d.classify(err))
		}
	case domain.ActionUpdate:
		before, err := rowFor(change.Entity, change.Before)
		if err != nil {
			return err
		}
		after, err := rowFor(change.Entity, change.After)
		if err != nil {
			return err
		}
		if !after.versioned {
			return fmt.Errorf("rowstore: %s rows are immutable", after.table)
		}
		query, args := updateStatement(d, after, before.version)
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update %s %s: %w", after.table, after.id, d.classify(err))
		}
		return expectOneRow(res, after.table, after.id)
	case domain.ActionDelete:
		before, err := rowFor(change.Entity, change.Before)
		if err != nil {
			return err
		}
		query, args := deleteStatement(d, before)
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("delete %s %s: %w", before.table, before.id, d.classify(err))
		}
		return expectOneRow(res, before.table, before.id)
	default:
		return fmt.Errorf("rowstore: unknown action %q", change.Action)
	}
	return nil
}

func expectOneRow(res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected %s %s: %w", table, id, err)
	}
	if n == 0 {
		return domain.ConcurrencyConflict(fmt.Errorf("%s %s changed concurrently", table, id))
	}
	return nil
}

func insertStatement(d Dialect, r row) (string, []any) {
	cols := append([]string{"id"}, r.cols...)
	args := append([]any{r.id}, r.vals...)
	if r.versioned {
		cols = append(cols, "version")
		args = append(args, r.version)
	}
	cols = append(cols, "payload")
	args = append(args, r.payload)
	marks := make([]string, len(cols))
	for i := range cols {
		marks[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", r.table, strings.Join(cols, ", "), strings.Join(marks, ", ")), args
}

// updateStatement binds the SET values first, then id and the expected version.
func updateStatement(d Dialect, r row, expected int64) (string, []any) {
	cols := append(append([]string{}, r.cols...), "version", "payload")
	args := append(append([]any{}, r.vals...), r.version, r.payload)
	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = col + " = " + d.Placeholder(i+1)
	}
	n := len(cols)
	args = append(args, r.id, expected)
	return fmt.Sprintf("UPDATE %s SET %s WHERE id = %s AND version = %s",
		r.table, strings.Join(sets, ", "), d.Placeholder(n+1), d.Placeholder(n+2)), args
}

func deleteStatement(d Dialect, r row) (string, []any) {
	if !r.versioned {
		return fmt.Sprintf("DELETE FROM %s WHERE id = %s", r.table, d.Placeholder(1)), []any{r.id}
	}
	return fmt.Sprintf("DELETE FROM %s WHERE id = %s AND version = %s", r.table, d.Placeholder(1), d.Placeholder(2)),
		[]any{r.id, r.version}
}

// Load reads every entity table into a snapshot.
func Load(ctx context.Context, db Querier, d Dialect) (memory.Snapshot, error) {
	snap := memory.Snapshot{
		Units:       make(map[string]domain.ProductionUnit),
		Departments: make(map[string]domain.Department),
		Cycles:      make(map[string]domain.CuringCycle),
		Batches:     make(map[string]domain.Batch),
		Items:       make(map[string]domain.BatchItem),
		Sessions:    make(map[string]domain.OptimizerSession),
	}
	for _, tbl := range tables {
		err := scanPayloads(ctx, db, d, tbl.table, func(payload []byte) error {
			return decodeInto(&snap, tbl.entity, payload)
		})
		if err != nil {
			return memory.Snapshot{}, err
		}
	}
	return snap, nil
}

func scanPayloads(ctx context.Context, db Querier, d Dialect, table string, fn func([]byte) error) error {
	rows, err := db.QueryContext(ctx, "SELECT payload FROM "+table)
	if err != nil {
		return fmt.Errorf("select %s: %w", table, d.classify(err))
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		if len(payload) == 0 {
			continue
		}
		if err := fn(payload); err != nil {
			return fmt.Errorf("decode %s: %w", table, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", table, d.classify(err))
	}
	return nil
}

func decodeInto(snap *memory.Snapshot, entity domain.EntityType, payload []byte) error {
	switch entity {
	case domain.EntityUnit:
		var v domain.ProductionUnit
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		snap.Units[v.ID] = v
	case domain.EntityDepartment:
		var v domain.Department
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		snap.Departments[v.ID] = v
	case domain.EntityCuringCycle:
		var v domain.CuringCycle
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		snap.Cycles[v.ID] = v
	case domain.EntityEvent:
		var v domain.ProductionEvent
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		snap.Events = append(snap.Events, v)
	case domain.EntityBatch:
		var v domain.Batch
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		snap.Batches[v.ID] = v
	case domain.EntityBatchItem:
		var v domain.BatchItem
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		snap.Items[v.ID] = v
	case domain.EntityOptimizerSession:
		var v domain.OptimizerSession
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		snap.Sessions[v.ID] = v
	default:
		return fmt.Errorf("unknown entity %q", entity)
	}
	return nil
}

// Beginner is satisfied by *sql.DB.
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// WriteThrough returns a commit hook that applies a transaction's changes to
// db inside a single SQL transaction.
func WriteThrough(db Beginner, d Dialect) memory.CommitHook {
	return func(ctx context.Context, changes []domain.Change) (retErr error) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin %s tx: %w", d.Name, d.classify(err))
		}
		defer func() {
			if retErr != nil {
				_ = tx.Rollback()
			}
		}()
		if err := ApplyChanges(ctx, tx, d, changes); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s tx: %w", d.Name, d.classify(err))
		}
		return nil
	}
}

// ReloadingStore wraps the memory store of a SQL backend. The database is the
// source of truth: every transaction and view starts by reloading the working
// set, so writes committed through another handle or process are observed.
type ReloadingStore struct {
	*memory.Store
	db      *sql.DB
	dialect Dialect
}

// NewReloadingStore loads the current rows from db into mem and installs the
// write-through commit hook.
func NewReloadingStore(ctx context.Context, mem *memory.Store, db *sql.DB, d Dialect) (*ReloadingStore, error) {
	s := &ReloadingStore{Store: mem, db: db, dialect: d}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	mem.SetCommitHook(WriteThrough(db, d))
	return s, nil
}

// RunInTransaction reloads the working set and runs fn through the memory
// store. A write that lands between the reload and the commit fails the
// version guard and surfaces as a concurrency conflict.
func (s *ReloadingStore) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	if err := s.Reload(ctx); err != nil {
		return domain.Result{}, err
	}
	return s.Store.RunInTransaction(ctx, fn)
}

// View reloads the working set and runs fn against a snapshot of it.
func (s *ReloadingStore) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}
	return s.Store.View(ctx, fn)
}

// Reload replaces the working set with the database contents.
func (s *ReloadingStore) Reload(ctx context.Context) error {
	return s.ReplaceState(ctx, func(ctx context.Context) (memory.Snapshot, error) {
		tx, err := s.db.BeginTx(ctx, s.dialect.SnapshotTx)
		if err != nil {
			return memory.Snapshot{}, fmt.Errorf("begin %s read: %w", s.dialect.Name, s.dialect.classify(err))
		}
		defer func() { _ = tx.Rollback() }()
		return Load(ctx, tx, s.dialect)
	})
}

// DB exposes the underlying sql.DB.
func (s *ReloadingStore) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *ReloadingStore) Close() error { return s.db.Close() }
