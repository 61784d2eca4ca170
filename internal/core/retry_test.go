package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cureline/internal/core"
	"cureline/internal/infra/persistence/memory"
	"cureline/pkg/domain"
)

// flakyStore fails the first failures transactions with err before
// delegating to the wrapped store.
type flakyStore struct {
	core.PersistentStore
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (s *flakyStore) RunInTransaction(ctx context.Context, fn func(core.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return domain.Result{}, s.err
	}
	return s.PersistentStore.RunInTransaction(ctx, fn)
}

func newFlakyService(failures int, err error, opts ...core.ServiceOption) (*core.Service, *flakyStore) {
	store := &flakyStore{
		PersistentStore: memory.NewStore(core.NewDefaultRulesEngine()),
		failures:        failures,
		err:             err,
	}
	base := []core.ServiceOption{core.WithRetryPolicy(core.RetryPolicy{Initial: time.Millisecond, Max: time.Millisecond, Attempts: 3})}
	return core.NewService(store, append(base, opts...)...), store
}

func TestConflictsAreRetried(t *testing.T) {
	metrics := core.NewExpvarMetricsRecorder("")
	svc, store := newFlakyService(2, domain.ConcurrencyConflict(errors.New("version mismatch")), core.WithMetricsRecorder(metrics))

	unit, err := svc.CreateUnit(context.Background(), core.UnitRequest{Number: "WO-4001", Quantity: 1}, operator)
	require.NoError(t, err)
	assert.NotEmpty(t, unit.ID)
	assert.Equal(t, 3, store.calls)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(2), snap.Retries["create_unit"])
	assert.Equal(t, int64(1), snap.Results["create_unit"]["success"])
}

func TestConflictRetriesAreBounded(t *testing.T) {
	svc, store := newFlakyService(10, domain.ConcurrencyConflict(nil))

	_, err := svc.CreateUnit(context.Background(), core.UnitRequest{Number: "WO-4002", Quantity: 1}, operator)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
	assert.Equal(t, 3, store.calls)

	units, err := svc.ListUnits(context.Background())
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestOtherFailuresAreNotRetried(t *testing.T) {
	diskFull := errors.New("disk full")
	svc, store := newFlakyService(1, diskFull)

	_, err := svc.CreateUnit(context.Background(), core.UnitRequest{Number: "WO-4003", Quantity: 1}, operator)
	require.ErrorIs(t, err, diskFull)
	assert.Equal(t, 1, store.calls)
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	svc, store := newFlakyService(10, domain.ConcurrencyConflict(nil),
		core.WithRetryPolicy(core.RetryPolicy{Initial: time.Hour, Max: time.Hour, Attempts: 5}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := svc.CreateUnit(ctx, core.UnitRequest{Number: "WO-4004", Quantity: 1}, operator)
	require.Error(t, err)
	assert.Equal(t, 1, store.calls)
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := core.DefaultRetryPolicy()
	assert.Equal(t, 75*time.Millisecond, p.Initial)
	assert.Equal(t, 500*time.Millisecond, p.Max)
	assert.Equal(t, uint(3), p.Attempts)
}
