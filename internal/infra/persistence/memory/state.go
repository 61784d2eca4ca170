package memory

import (
	"time"

	"cureline/pkg/domain"
)

type memoryState struct {
	units       map[string]domain.ProductionUnit
	departments map[string]domain.Department
	cycles      map[string]domain.CuringCycle
	events      map[string][]domain.ProductionEvent
	batches     map[string]domain.Batch
	items       map[string]domain.BatchItem
	sessions    map[string]domain.OptimizerSession
	batchSeq    int64
}

// Snapshot captures a point-in-time clone of the store state. SQL stores build
// one from their tables on load.
type Snapshot struct {
	Units       map[string]domain.ProductionUnit   `json:"units"`
	Departments map[string]domain.Department       `json:"departments"`
	Cycles      map[string]domain.CuringCycle      `json:"cycles"`
	Events      []domain.ProductionEvent           `json:"events"`
	Batches     map[string]domain.Batch            `json:"batches"`
	Items       map[string]domain.BatchItem        `json:"items"`
	Sessions    map[string]domain.OptimizerSession `json:"sessions"`
}

func newMemoryState() memoryState {
	return memoryState{
		units:       make(map[string]domain.ProductionUnit),
		departments: make(map[string]domain.Department),
		cycles:      make(map[string]domain.CuringCycle),
		events:      make(map[string][]domain.ProductionEvent),
		batches:     make(map[string]domain.Batch),
		items:       make(map[string]domain.BatchItem),
		sessions:    make(map[string]domain.OptimizerSession),
	}
}

func (s memoryState) clone() memoryState {
	out := newMemoryState()
	for k, v := range s.units {
		out.units[k] = cloneUnit(v)
	}
	for k, v := range s.departments {
		out.departments[k] = v
	}
	for k, v := range s.cycles {
		out.cycles[k] = cloneCycle(v)
	}
	for k, events := range s.events {
		cp := make([]domain.ProductionEvent, len(events))
		for i, e := range events {
			cp[i] = cloneEvent(e)
		}
		out.events[k] = cp
	}
	for k, v := range s.batches {
		out.batches[k] = cloneBatch(v)
	}
	for k, v := range s.items {
		out.items[k] = v
	}
	for k, v := range s.sessions {
		out.sessions[k] = cloneSession(v)
	}
	out.batchSeq = s.batchSeq
	return out
}

func snapshotFromState(state memoryState) Snapshot {
	cp := state.clone()
	snap := Snapshot{
		Units:       cp.units,
		Departments: cp.departments,
		Cycles:      cp.cycles,
		Batches:     cp.batches,
		Items:       cp.items,
		Sessions:    cp.sessions,
	}
	for _, events := range cp.events {
		snap.Events = append(snap.Events, events...)
	}
	domain.SortEvents(snap.Events)
	return snap
}

func stateFromSnapshot(snap Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range snap.Units {
		state.units[k] = cloneUnit(v)
	}
	for k, v := range snap.Departments {
		state.departments[k] = v
	}
	for k, v := range snap.Cycles {
		state.cycles[k] = cloneCycle(v)
	}
	for _, e := range snap.Events {
		state.events[e.UnitID] = append(state.events[e.UnitID], cloneEvent(e))
	}
	for _, events := range state.events {
		domain.SortEvents(events)
	}
	for k, v := range snap.Batches {
		state.batches[k] = cloneBatch(v)
		if v.Number > state.batchSeq {
			state.batchSeq = v.Number
		}
	}
	for k, v := range snap.Items {
		state.items[k] = v
	}
	for k, v := range snap.Sessions {
		state.sessions[k] = cloneSession(v)
	}
	return state
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneUnit(u domain.ProductionUnit) domain.ProductionUnit {
	if u.CuringCycleOverrideID != nil {
		override := *u.CuringCycleOverrideID
		u.CuringCycleOverrideID = &override
	}
	u.CompletedAt = cloneTime(u.CompletedAt)
	return u
}

func cloneCycle(c domain.CuringCycle) domain.CuringCycle {
	if c.Phase2 != nil {
		phase := *c.Phase2
		c.Phase2 = &phase
	}
	return c
}

func cloneEvent(e domain.ProductionEvent) domain.ProductionEvent {
	if e.Duration != nil {
		d := *e.Duration
		e.Duration = &d
	}
	return e
}

func cloneBatch(b domain.Batch) domain.Batch {
	b.ActualStart = cloneTime(b.ActualStart)
	b.ActualEnd = cloneTime(b.ActualEnd)
	return b
}

func cloneSession(s domain.OptimizerSession) domain.OptimizerSession {
	if s.Suggestions == nil {
		return s
	}
	suggestions := make([]domain.BatchSuggestion, len(s.Suggestions))
	for i, sug := range s.Suggestions {
		sug.UnitIDs = append([]string(nil), sug.UnitIDs...)
		suggestions[i] = sug
	}
	s.Suggestions = suggestions
	return s
}
