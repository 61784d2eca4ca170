package rowstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"cureline/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResult int64

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return int64(r), nil }

type exec struct {
	query string
	args  []any
}

type recordingTx struct {
	execs    []exec
	affected int64
	err      error
}

func (r *recordingTx) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	r.execs = append(r.execs, exec{query: query, args: args})
	if r.err != nil {
		return nil, r.err
	}
	return fakeResult(r.affected), nil
}

var testDialect = Dialect{Name: "test", Placeholder: DollarNumber}

func TestApplyChangesRendersVersionedStatements(t *testing.T) {
	before := domain.ProductionUnit{Base: domain.Base{ID: "u1", Version: 3}, Number: "WO-1"}
	after := before
	after.Version = 4
	tx := &recordingTx{affected: 1}

	err := ApplyChanges(context.Background(), tx, testDialect, []domain.Change{
		{Entity: domain.EntityUnit, Action: domain.ActionCreate, After: before},
		{Entity: domain.EntityUnit, Action: domain.ActionUpdate, Before: before, After: after},
		{Entity: domain.EntityBatchItem, Action: domain.ActionDelete, Before: domain.BatchItem{Base: domain.Base{ID: "i1", Version: 2}}},
		{Entity: domain.EntityEvent, Action: domain.ActionCreate, After: domain.ProductionEvent{ID: "e1", UnitID: "u1", Sequence: 5}},
	})
	require.NoError(t, err)
	require.Len(t, tx.execs, 4)

	assert.Equal(t, "INSERT INTO units (id, number, version, payload) VALUES ($1, $2, $3, $4)", tx.execs[0].query)
	assert.Equal(t, "UPDATE units SET number = $1, version = $2, payload = $3 WHERE id = $4 AND version = $5", tx.execs[1].query)
	assert.Equal(t, []any{"WO-1", int64(4)}, tx.execs[1].args[:2])
	assert.Equal(t, []any{"u1", int64(3)}, tx.execs[1].args[3:])
	assert.Equal(t, "DELETE FROM batch_items WHERE id = $1 AND version = $2", tx.execs[2].query)
	assert.Equal(t, "INSERT INTO production_events (id, unit_id, seq, payload) VALUES ($1, $2, $3, $4)", tx.execs[3].query)
	assert.Equal(t, int64(5), tx.execs[3].args[2])
}

func TestStaleRowBecomesConflict(t *testing.T) {
	unit := domain.ProductionUnit{Base: domain.Base{ID: "u1", Version: 1}}
	tx := &recordingTx{affected: 0}
	err := ApplyChanges(context.Background(), tx, testDialect, []domain.Change{
		{Entity: domain.EntityUnit, Action: domain.ActionUpdate, Before: unit, After: unit},
	})
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	err = ApplyChanges(context.Background(), tx, testDialect, []domain.Change{
		{Entity: domain.EntityOptimizerSession, Action: domain.ActionDelete, Before: domain.OptimizerSession{ID: "s1"}},
	})
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	assert.Equal(t, "DELETE FROM optimizer_sessions WHERE id = $1", tx.execs[1].query)
}

func TestDriverErrorsPassThroughClassifier(t *testing.T) {
	driverErr := errors.New("unique violation")
	d := testDialect
	d.Classify = func(err error) error { return domain.ConcurrencyConflict(err) }
	tx := &recordingTx{err: driverErr}
	err := ApplyChanges(context.Background(), tx, d, []domain.Change{
		{Entity: domain.EntityOptimizerSession, Action: domain.ActionCreate, After: domain.OptimizerSession{ID: "s1", ExpiresAt: time.Now()}},
	})
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	require.ErrorIs(t, err, driverErr)
}

func TestRejectsUnsupportedChanges(t *testing.T) {
	tx := &recordingTx{affected: 1}
	err := ApplyChanges(context.Background(), tx, testDialect, []domain.Change{{Entity: domain.EntityUnit, Action: domain.ActionCreate, After: "nope"}})
	require.ErrorContains(t, err, "unsupported")

	event := domain.ProductionEvent{ID: "e1"}
	err = ApplyChanges(context.Background(), tx, testDialect, []domain.Change{{Entity: domain.EntityEvent, Action: domain.ActionUpdate, Before: event, After: event}})
	require.ErrorContains(t, err, "immutable")
	assert.Empty(t, tx.execs)
}

func TestPlaceholdersAndTables(t *testing.T) {
	assert.Equal(t, "?", QuestionMark(3))
	assert.Equal(t, "$3", DollarNumber(3))
	assert.Equal(t, []string{"units", "departments", "curing_cycles", "production_events", "batches", "batch_items", "optimizer_sessions"}, Tables())
}
