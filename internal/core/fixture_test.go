package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cureline/internal/blob"
	"cureline/internal/core"
	"cureline/pkg/domain"
)

var operator = domain.Actor{ID: "op-7", Name: "Line Operator"}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, time.March, 2, 6, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type publishedMessage struct {
	subject string
	data    []byte
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []publishedMessage
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, publishedMessage{subject: subject, data: append([]byte(nil), data...)})
	return nil
}

func (p *recordingPublisher) messages(subject string) []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedMessage
	for _, m := range p.msgs {
		if m.subject == subject {
			out = append(out, m)
		}
	}
	return out
}

// plant is a service seeded with one active department per type and two
// curing cycles.
type plant struct {
	svc       *core.Service
	clock     *testClock
	archive   blob.Store
	publisher *recordingPublisher
	depts     map[domain.DepartmentType]domain.Department
	cycle     domain.CuringCycle
	altCycle  domain.CuringCycle
}

func newPlant(t *testing.T, opts ...core.ServiceOption) *plant {
	t.Helper()
	p := &plant{
		clock:     newTestClock(),
		archive:   blob.NewMemory(),
		publisher: &recordingPublisher{},
		depts:     make(map[domain.DepartmentType]domain.Department),
	}
	base := []core.ServiceOption{
		core.WithClock(p.clock),
		core.WithArchive(p.archive),
		core.WithPublisher(p.publisher),
		core.WithRetryPolicy(core.RetryPolicy{Initial: time.Millisecond, Max: 2 * time.Millisecond, Attempts: 3}),
	}
	p.svc = core.NewInMemoryService(core.NewDefaultRulesEngine(), append(base, opts...)...)
	p.seed(t)
	return p
}

// seed creates one active department per type and the two curing cycles.
func (p *plant) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, dt := range domain.DepartmentSequence() {
		dept, err := p.svc.CreateDepartment(ctx, domain.Department{Name: string(dt) + " 1", Type: dt, Active: true}, operator)
		require.NoError(t, err)
		p.depts[dt] = dept
	}
	var err error
	p.cycle, err = p.svc.CreateCuringCycle(ctx, domain.CuringCycle{
		Code:   "C-180",
		Name:   "180C standard",
		Phase1: domain.CurePhase{TemperatureC: 180, PressureBar: 6, Duration: 2 * time.Hour},
	}, operator)
	require.NoError(t, err)
	p.altCycle, err = p.svc.CreateCuringCycle(ctx, domain.CuringCycle{
		Code:   "C-120",
		Name:   "120C low temp",
		Phase1: domain.CurePhase{TemperatureC: 120, PressureBar: 3, Duration: 4 * time.Hour},
		Phase2: &domain.CurePhase{TemperatureC: 90, PressureBar: 1, Duration: time.Hour},
	}, operator)
	require.NoError(t, err)
}

func (p *plant) dept(t domain.DepartmentType) string { return p.depts[t].ID }

func (p *plant) newUnit(t *testing.T, number, cycleID string) domain.ProductionUnit {
	t.Helper()
	unit, err := p.svc.CreateUnit(context.Background(), core.UnitRequest{Number: number, Quantity: 4, CuringCycleID: cycleID}, operator)
	require.NoError(t, err)
	return unit
}

func (p *plant) event(t *testing.T, unitID string, dt domain.DepartmentType, kind domain.EventKind) core.EventResult {
	t.Helper()
	res, err := p.svc.CreateEvent(context.Background(), unitID, p.dept(dt), kind, operator, core.EventOptions{})
	require.NoError(t, err)
	return res
}

// passThrough enters and leaves a department, advancing the clock by dwell.
func (p *plant) passThrough(t *testing.T, unitID string, dt domain.DepartmentType, dwell time.Duration) core.EventResult {
	t.Helper()
	p.event(t, unitID, dt, domain.EventEntry)
	p.clock.Advance(dwell)
	return p.event(t, unitID, dt, domain.EventExit)
}

// readyUnit creates a unit and walks it through the cleanroom, leaving it
// ready for an autoclave batch.
func (p *plant) readyUnit(t *testing.T, number, cycleID string) domain.ProductionUnit {
	t.Helper()
	unit := p.newUnit(t, number, cycleID)
	p.event(t, unit.ID, domain.DeptCleanroom, domain.EventAssigned)
	res := p.passThrough(t, unit.ID, domain.DeptCleanroom, 45*time.Minute)
	require.Equal(t, domain.ReadyForBatchStatus(), res.NewStatus)
	return p.unit(t, unit.ID)
}

func (p *plant) unit(t *testing.T, id string) domain.ProductionUnit {
	t.Helper()
	unit, err := p.svc.GetUnit(context.Background(), id)
	require.NoError(t, err)
	return unit
}

func (p *plant) batch(t *testing.T, unitIDs ...string) core.BatchDetails {
	t.Helper()
	details, err := p.svc.CreateBatch(context.Background(), core.BatchRequest{
		ResourceID:    "AC-01",
		CuringCycleID: p.cycle.ID,
		PlannedStart:  p.clock.Now().Add(time.Hour),
		PlannedEnd:    p.clock.Now().Add(3 * time.Hour),
		UnitIDs:       unitIDs,
	}, operator)
	require.NoError(t, err)
	return details
}

func (p *plant) advance(t *testing.T, batchID string, targets ...domain.BatchStatus) core.AdvanceResult {
	t.Helper()
	var res core.AdvanceResult
	for _, target := range targets {
		var err error
		res, err = p.svc.AdvanceBatch(context.Background(), batchID, target, operator)
		require.NoError(t, err, "advance to %s", target)
	}
	return res
}

// releasedUnits cures n units in one batch and releases them to NDI.
func (p *plant) releasedUnits(t *testing.T, prefix string, n int) []domain.ProductionUnit {
	t.Helper()
	ids := make([]string, 0, n)
	for i := range n {
		ids = append(ids, p.readyUnit(t, prefix+string(rune('A'+i)), p.cycle.ID).ID)
	}
	b := p.batch(t, ids...)
	p.advance(t, b.Batch.ID, domain.BatchReady, domain.BatchInCure)
	p.clock.Advance(2 * time.Hour)
	p.advance(t, b.Batch.ID, domain.BatchCompleted, domain.BatchReleased)
	units := make([]domain.ProductionUnit, 0, n)
	for _, id := range ids {
		units = append(units, p.unit(t, id))
	}
	return units
}

func requireKind(t *testing.T, err error, kind domain.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, domain.KindOf(err), "error: %v", err)
}
