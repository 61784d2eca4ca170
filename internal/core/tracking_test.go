package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cureline/internal/core"
	"cureline/pkg/domain"
)

func TestEntryExitRecordsDwellAndClosesLocation(t *testing.T) {
	p := newPlant(t)
	ctx := context.Background()
	unit := p.newUnit(t, "WO-1001", p.cycle.ID)

	assigned := p.event(t, unit.ID, domain.DeptCleanroom, domain.EventAssigned)
	assert.Equal(t, domain.StatusCreated, assigned.PreviousStatus)
	assert.Equal(t, domain.AssignedTo(domain.DeptCleanroom), assigned.NewStatus)

	entry := p.event(t, unit.ID, domain.DeptCleanroom, domain.EventEntry)
	assert.Equal(t, domain.InDepartment(domain.DeptCleanroom), entry.NewStatus)
	loc, open, err := p.svc.CurrentLocation(ctx, unit.ID)
	require.NoError(t, err)
	require.True(t, open)
	assert.Equal(t, p.dept(domain.DeptCleanroom), loc.DepartmentID)
	assert.Equal(t, entry.Event.ID, loc.EntryEventID)

	p.clock.Advance(95 * time.Minute)
	exit, err := p.svc.CreateEvent(ctx, unit.ID, p.dept(domain.DeptCleanroom), domain.EventExit, operator, core.EventOptions{SkipAutoTransfer: true})
	require.NoError(t, err)
	require.NotNil(t, exit.Event.Duration)
	assert.Equal(t, 95*time.Minute, *exit.Event.Duration)
	assert.Equal(t, domain.CompletedIn(domain.DeptCleanroom), exit.NewStatus)
	assert.Nil(t, exit.Transfer)

	_, open, err = p.svc.CurrentLocation(ctx, unit.ID)
	require.NoError(t, err)
	assert.False(t, open)

	history, err := p.svc.History(ctx, unit.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, evt := range history {
		assert.Equal(t, int64(i+1), evt.Sequence)
	}

	durations, err := p.svc.DepartmentDurations(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, 95*time.Minute, durations[p.dept(domain.DeptCleanroom)])
}

func TestEntryWhileOpenElsewhereIsRejected(t *testing.T) {
	p := newPlant(t)
	unit := p.newUnit(t, "WO-1002", p.cycle.ID)
	p.event(t, unit.ID, domain.DeptCleanroom, domain.EventAssigned)
	p.event(t, unit.ID, domain.DeptCleanroom, domain.EventEntry)

	_, err := p.svc.CreateEvent(context.Background(), unit.ID, p.dept(domain.DeptNDI), domain.EventEntry, operator, core.EventOptions{})
	requireKind(t, err, domain.KindAlreadyOpenElsewhere)

	_, err = p.svc.CreateEvent(context.Background(), unit.ID, p.dept(domain.DeptCleanroom), domain.EventEntry, operator, core.EventOptions{})
	requireKind(t, err, domain.KindAlreadyOpenElsewhere)
}

func TestExitWithoutEntryIsRejected(t *testing.T) {
	p := newPlant(t)
	unit := p.newUnit(t, "WO-1003", p.cycle.ID)
	p.event(t, unit.ID, domain.DeptCleanroom, domain.EventAssigned)

	for _, kind := range []domain.EventKind{domain.EventExit, domain.EventPause, domain.EventResume} {
		_, err := p.svc.CreateEvent(context.Background(), unit.ID, p.dept(domain.DeptCleanroom), kind, operator, core.EventOptions{})
		requireKind(t, err, domain.KindNoOpenEntry)
	}
}

func TestInvalidTransitionLeavesNoEvent(t *testing.T) {
	p := newPlant(t)
	ctx := context.Background()
	unit := p.newUnit(t, "WO-1004", p.cycle.ID)

	_, err := p.svc.CreateEvent(ctx, unit.ID, p.dept(domain.DeptCleanroom), domain.EventEntry, operator, core.EventOptions{})
	requireKind(t, err, domain.KindInvalidTransition)

	_, err = p.svc.CreateEvent(ctx, unit.ID, p.dept(domain.DeptNDI), domain.EventAssigned, operator, core.EventOptions{})
	require.NoError(t, err, "CREATED may be assigned to any department")

	_, err = p.svc.CreateEvent(ctx, unit.ID, p.dept(domain.DeptCleanroom), domain.EventEntry, operator, core.EventOptions{})
	requireKind(t, err, domain.KindInvalidTransition)

	history, err := p.svc.History(ctx, unit.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.EventAssigned, history[0].Kind)
	assert.Equal(t, domain.AssignedTo(domain.DeptNDI), p.unit(t, unit.ID).Status)
}

func TestPauseAndResumeReturnToHeldDepartment(t *testing.T) {
	p := newPlant(t)
	unit := p.newUnit(t, "WO-1005", p.cycle.ID)
	p.event(t, unit.ID, domain.DeptCleanroom, domain.EventAssigned)
	p.event(t, unit.ID, domain.DeptCleanroom, domain.EventEntry)

	paused := p.event(t, unit.ID, domain.DeptCleanroom, domain.EventPause)
	assert.Equal(t, domain.StatusOnHold, paused.NewStatus)
	assert.Equal(t, domain.InDepartment(domain.DeptCleanroom), paused.Unit.HeldFrom)

	resumed := p.event(t, unit.ID, domain.DeptCleanroom, domain.EventResume)
	assert.Equal(t, domain.InDepartment(domain.DeptCleanroom), resumed.NewStatus)
	assert.True(t, resumed.Unit.HeldFrom.IsZero())

	_, err := p.svc.CreateEvent(context.Background(), unit.ID, p.dept(domain.DeptCleanroom), domain.EventResume, operator, core.EventOptions{})
	requireKind(t, err, domain.KindInvalidTransition)
}

func TestNoteKeepsStatus(t *testing.T) {
	p := newPlant(t)
	unit := p.newUnit(t, "WO-1006", p.cycle.ID)
	res, err := p.svc.CreateEvent(context.Background(), unit.ID, p.dept(domain.DeptCleanroom), domain.EventNote, operator,
		core.EventOptions{Note: "ply count verified", RequiresConfirmation: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, res.NewStatus)
	assert.Equal(t, "ply count verified", res.Event.Note)
	assert.True(t, res.Event.RequiresConfirmation)
}

func TestCreateEventValidatesReferences(t *testing.T) {
	p := newPlant(t)
	ctx := context.Background()
	unit := p.newUnit(t, "WO-1007", p.cycle.ID)

	_, err := p.svc.CreateEvent(ctx, "missing", p.dept(domain.DeptCleanroom), domain.EventAssigned, operator, core.EventOptions{})
	requireKind(t, err, domain.KindNotFound)

	_, err = p.svc.CreateEvent(ctx, unit.ID, "missing", domain.EventAssigned, operator, core.EventOptions{})
	requireKind(t, err, domain.KindNotFound)

	_, err = p.svc.CreateEvent(ctx, unit.ID, p.dept(domain.DeptCleanroom), domain.EventKind("TELEPORT"), operator, core.EventOptions{})
	requireKind(t, err, domain.KindInvalidInput)

	_, err = p.svc.SetDepartmentActive(ctx, p.dept(domain.DeptCleanroom), false, operator)
	require.NoError(t, err)
	_, err = p.svc.CreateEvent(ctx, unit.ID, p.dept(domain.DeptCleanroom), domain.EventAssigned, operator, core.EventOptions{})
	requireKind(t, err, domain.KindNoActiveDepartment)

	_, _, err = p.svc.CurrentLocation(ctx, "missing")
	requireKind(t, err, domain.KindNotFound)
}

func TestEventKindIsCaseInsensitive(t *testing.T) {
	p := newPlant(t)
	unit := p.newUnit(t, "WO-1008", p.cycle.ID)
	res, err := p.svc.CreateEvent(context.Background(), unit.ID, p.dept(domain.DeptCleanroom), domain.EventKind("assigned"), operator, core.EventOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.EventAssigned, res.Event.Kind)
}
