package core_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cureline/internal/core"
	"cureline/internal/platform/config"
	"cureline/pkg/domain"
)

func TestOpenPersistentStoreMemory(t *testing.T) {
	clock := newTestClock()
	store, err := core.OpenPersistentStore(config.Storage{Driver: config.StorageMemory}, core.NewDefaultRulesEngine(), clock)
	require.NoError(t, err)
	svc := core.NewService(store, core.WithClock(clock))
	defer func() { require.NoError(t, svc.Close()) }()

	unit, err := svc.CreateUnit(context.Background(), core.UnitRequest{Number: "WO-8001", Quantity: 1}, operator)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), unit.CreatedAt)
}

func TestOpenPersistentStoreSQLiteSurvivesReopen(t *testing.T) {
	cfg := config.Storage{Driver: config.StorageSQLite, SQLitePath: filepath.Join(t.TempDir(), "nested", "cureline.db")}
	ctx := context.Background()

	store, err := core.OpenPersistentStore(cfg, core.NewDefaultRulesEngine(), nil)
	require.NoError(t, err)
	svc := core.NewService(store)
	dept, err := svc.CreateDepartment(ctx, domain.Department{Name: "Cleanroom A", Type: domain.DeptCleanroom, Active: true}, operator)
	require.NoError(t, err)
	unit, err := svc.CreateUnit(ctx, core.UnitRequest{Number: "WO-8002", Quantity: 3}, operator)
	require.NoError(t, err)
	_, err = svc.CreateEvent(ctx, unit.ID, dept.ID, domain.EventAssigned, operator, core.EventOptions{})
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	store, err = core.OpenPersistentStore(cfg, core.NewDefaultRulesEngine(), nil)
	require.NoError(t, err)
	svc = core.NewService(store)
	defer func() { require.NoError(t, svc.Close()) }()

	got, err := svc.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, "WO-8002", got.Number)
	assert.Equal(t, domain.AssignedTo(domain.DeptCleanroom), got.Status)
	history, err := svc.History(ctx, unit.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(1), history[0].Sequence)
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	_, err := core.OpenPersistentStore(config.Storage{Driver: "etcd"}, core.NewDefaultRulesEngine(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "etcd")
}

// sharedSQLitePlants opens two services over separate handles on one SQLite
// file. Both are open before the plant is seeded through the first.
func sharedSQLitePlants(t *testing.T) (*plant, *plant) {
	t.Helper()
	cfg := config.Storage{Driver: config.StorageSQLite, SQLitePath: filepath.Join(t.TempDir(), "shared.db")}
	clock := newTestClock()
	open := func() *plant {
		store, err := core.OpenPersistentStore(cfg, core.NewDefaultRulesEngine(), clock)
		require.NoError(t, err)
		p := &plant{
			clock:     clock,
			publisher: &recordingPublisher{},
			depts:     make(map[domain.DepartmentType]domain.Department),
		}
		p.svc = core.NewService(store,
			core.WithClock(clock),
			core.WithPublisher(p.publisher),
			core.WithRetryPolicy(core.RetryPolicy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Attempts: 5}),
		)
		t.Cleanup(func() { _ = p.svc.Close() })
		return p
	}
	first, second := open(), open()
	first.seed(t)
	second.depts, second.cycle, second.altCycle = first.depts, first.cycle, first.altCycle
	return first, second
}

func TestInstancesSharingSQLiteSeeEachOthersWrites(t *testing.T) {
	a, b := sharedSQLitePlants(t)
	ctx := context.Background()

	ready := a.readyUnit(t, "WO-8101", a.cycle.ID)
	session, err := a.svc.PlanBatches(ctx, core.PlanRequest{ResourceIDs: []string{"AC-01"}}, operator)
	require.NoError(t, err)
	require.Len(t, session.Suggestions, 1)
	unit := a.newUnit(t, "WO-8102", a.cycle.ID)
	a.event(t, unit.ID, domain.DeptCleanroom, domain.EventAssigned)
	a.event(t, unit.ID, domain.DeptCleanroom, domain.EventEntry)

	loc, open, err := b.svc.CurrentLocation(ctx, unit.ID)
	require.NoError(t, err)
	assert.True(t, open)
	assert.Equal(t, b.dept(domain.DeptCleanroom), loc.DepartmentID)

	res := b.event(t, unit.ID, domain.DeptCleanroom, domain.EventExit)
	assert.Equal(t, domain.ReadyForBatchStatus(), res.NewStatus)

	start := a.clock.Now().Add(time.Hour)
	details, err := b.svc.CreateBatchFromSuggestion(ctx, session.ID, 0, start, start.Add(2*time.Hour), operator)
	require.NoError(t, err)
	require.Len(t, details.Items, 1)
	assert.Equal(t, ready.ID, details.Items[0].UnitID)

	got, err := a.svc.GetBatch(ctx, details.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.Batch.SessionID)
	assert.Equal(t, domain.ReadyForBatchStatus(), a.unit(t, unit.ID).Status)
	_, open, err = a.svc.CurrentLocation(ctx, unit.ID)
	require.NoError(t, err)
	assert.False(t, open)
}

func TestConcurrentAddsAcrossInstancesAdmitOneBatch(t *testing.T) {
	a, b := sharedSQLitePlants(t)
	ctx := context.Background()
	u := a.readyUnit(t, "WO-8201", a.cycle.ID)
	first := a.batch(t)
	second := b.batch(t)

	type attempt struct {
		svc     *core.Service
		batchID string
	}
	attempts := []attempt{{a.svc, first.Batch.ID}, {b.svc, second.Batch.ID}}
	errs := make([]error, len(attempts))
	var wg sync.WaitGroup
	for i, at := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = at.svc.AddUnitToBatch(ctx, at.batchID, u.ID, operator)
		}()
	}
	wg.Wait()

	admitted := 0
	for _, err := range errs {
		if err == nil {
			admitted++
			continue
		}
		assert.Contains(t, []domain.ErrorKind{domain.KindUnitUnavailable, domain.KindConcurrencyConflict}, domain.KindOf(err), "%v", err)
	}
	assert.Equal(t, 1, admitted)

	active := 0
	for _, id := range []string{first.Batch.ID, second.Batch.ID} {
		got, err := b.svc.GetBatch(ctx, id)
		require.NoError(t, err)
		for _, item := range got.Items {
			if item.UnitID == u.ID && item.Active {
				active++
			}
		}
	}
	assert.Equal(t, 1, active)
}
