package core_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cureline/internal/core"
	"cureline/pkg/domain"
)

type auditLog struct {
	mu      sync.Mutex
	entries []core.AuditEntry
}

func (a *auditLog) Record(_ context.Context, entry core.AuditEntry) {
	a.mu.Lock()
	a.entries = append(a.entries, entry)
	a.mu.Unlock()
}

func (a *auditLog) last() core.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entries[len(a.entries)-1]
}

type logLine struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	mu    sync.Mutex
	lines []logLine
}

func (l *captureLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	l.lines = append(l.lines, logLine{level: level, msg: msg, args: args})
	l.mu.Unlock()
}

func (l *captureLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *captureLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *captureLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *captureLogger) count(level, msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, line := range l.lines {
		if line.level == level && line.msg == msg {
			n++
		}
	}
	return n
}

func TestStatusNotificationsArePublishedAfterCommit(t *testing.T) {
	p := newPlant(t)
	u := p.readyUnit(t, "WO-7001", p.cycle.ID)

	unitMsgs := p.publisher.messages(core.SubjectUnitStatusChanged)
	require.Len(t, unitMsgs, 3, "assigned, entry, exit")
	var last core.UnitStatusChanged
	require.NoError(t, json.Unmarshal(unitMsgs[2].data, &last))
	assert.Equal(t, u.ID, last.UnitID)
	assert.Equal(t, "WO-7001", last.UnitNumber)
	assert.Equal(t, domain.InDepartment(domain.DeptCleanroom), last.PreviousStatus)
	assert.Equal(t, domain.ReadyForBatchStatus(), last.NewStatus)
	assert.Equal(t, domain.EventExit, last.EventKind)
	assert.Equal(t, operator, last.Actor)

	b := p.batch(t, u.ID)
	batchMsgs := p.publisher.messages(core.SubjectBatchStatusChanged)
	require.Len(t, batchMsgs, 1)
	var created core.BatchStatusChanged
	require.NoError(t, json.Unmarshal(batchMsgs[0].data, &created))
	assert.Equal(t, b.Batch.ID, created.BatchID)
	assert.Equal(t, domain.BatchDraft, created.NewStatus)
	assert.Empty(t, created.PreviousStatus)

	unitMsgs = p.publisher.messages(core.SubjectUnitStatusChanged)
	var joined core.UnitStatusChanged
	require.NoError(t, json.Unmarshal(unitMsgs[len(unitMsgs)-1].data, &joined))
	assert.Equal(t, b.Batch.ID, joined.BatchID)
	assert.Equal(t, domain.InResourceStatus(), joined.NewStatus)

	before := len(p.publisher.messages(core.SubjectUnitStatusChanged))
	_, err := p.svc.AdvanceBatch(context.Background(), b.Batch.ID, domain.BatchInCure, operator)
	require.Error(t, err)
	assert.Len(t, p.publisher.messages(core.SubjectUnitStatusChanged), before, "rejected operations publish nothing")
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, []byte) error {
	return fmt.Errorf("nats: connection closed")
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	logger := &captureLogger{}
	p := newPlant(t, core.WithPublisher(failingPublisher{}), core.WithLogger(logger))
	unit := p.newUnit(t, "WO-7002", p.cycle.ID)
	res := p.event(t, unit.ID, domain.DeptCleanroom, domain.EventAssigned)
	assert.Equal(t, domain.AssignedTo(domain.DeptCleanroom), res.NewStatus)
	assert.Equal(t, 1, logger.count("warn", "publish notification"))
}

func TestAuditAndLogOutcomes(t *testing.T) {
	audit := &auditLog{}
	logger := &captureLogger{}
	p := newPlant(t, core.WithAuditRecorder(audit), core.WithLogger(logger))
	unit := p.newUnit(t, "WO-7003", p.cycle.ID)

	entry := audit.last()
	assert.Equal(t, "create_unit", entry.Operation)
	assert.Equal(t, domain.EntityUnit, entry.Entity)
	assert.Equal(t, domain.ActionCreate, entry.Action)
	assert.Equal(t, unit.ID, entry.EntityID)
	assert.Equal(t, core.AuditStatusSuccess, entry.Status)
	assert.Equal(t, operator, entry.Actor)
	assert.Equal(t, p.clock.Now(), entry.Timestamp)

	_, err := p.svc.CreateEvent(context.Background(), unit.ID, p.dept(domain.DeptCleanroom), domain.EventExit, operator, core.EventOptions{})
	require.Error(t, err)
	entry = audit.last()
	assert.Equal(t, "create_event", entry.Operation)
	assert.Equal(t, core.AuditStatusError, entry.Status)
	assert.NotEmpty(t, entry.Error)
	assert.Equal(t, 1, logger.count("warn", "operation rejected"))
	assert.Zero(t, logger.count("error", "operation failed"))
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := core.NewPrometheusMetricsRecorder(reg)
	require.NoError(t, err)

	rec.Observe(context.Background(), "create_event", true, 20*time.Millisecond)
	rec.Observe(context.Background(), "create_event", false, 5*time.Millisecond)
	rec.Observe(context.Background(), "create_event", true, time.Millisecond)
	rec.ObserveRetry(context.Background(), "add_unit_to_batch", 1)

	assert.InDelta(t, 2, testutil.ToFloat64(rec.Operations().WithLabelValues("create_event", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.Operations().WithLabelValues("create_event", "error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.Retries().WithLabelValues("add_unit_to_batch")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(rec.Durations(), "cureline_service_operation_duration_seconds"))

	_, err = core.NewPrometheusMetricsRecorder(reg)
	require.Error(t, err, "collectors register once per registry")
}

func TestPrometheusRecorderCountsServiceRetries(t *testing.T) {
	rec, err := core.NewPrometheusMetricsRecorder(nil)
	require.NoError(t, err)
	svc, _ := newFlakyService(1, domain.ConcurrencyConflict(nil), core.WithMetricsRecorder(rec))
	_, err = svc.CreateUnit(context.Background(), core.UnitRequest{Number: "WO-7004", Quantity: 2}, operator)
	require.NoError(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.Retries().WithLabelValues("create_unit")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.Operations().WithLabelValues("create_unit", "success")), 0)
}

func TestJSONTracerRecordsErrorKind(t *testing.T) {
	var buf bytes.Buffer
	tracer := core.NewJSONTracer(&buf)
	p := newPlant(t, core.WithTracer(tracer))
	unit := p.newUnit(t, "WO-7005", p.cycle.ID)
	_, err := p.svc.CreateEvent(context.Background(), unit.ID, p.dept(domain.DeptCleanroom), domain.EventExit, operator, core.EventOptions{})
	require.Error(t, err)

	entries := tracer.Entries()
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, "create_event", last.Operation)
	assert.Equal(t, "error", last.Status)
	assert.Equal(t, string(domain.KindNoOpenEntry), last.ErrorKind)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	assert.Len(t, lines, len(entries))
	var decoded core.JSONTraceEntry
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &decoded))
	assert.Equal(t, last.Operation, decoded.Operation)
}

func TestExpvarRecorderSnapshot(t *testing.T) {
	rec := core.NewExpvarMetricsRecorder("")
	assert.Contains(t, rec.Name(), "cureline_service_metrics_")
	rec.Observe(context.Background(), "advance_batch", true, 1500*time.Microsecond)
	rec.Observe(context.Background(), "advance_batch", false, 500*time.Microsecond)
	rec.Observe(context.Background(), "", true, time.Second)
	rec.ObserveRetry(context.Background(), "advance_batch", 1)

	snap := rec.Snapshot()
	assert.InDelta(t, 2.0, snap.DurationsMS["advance_batch"], 1e-9)
	assert.Equal(t, int64(1), snap.Results["advance_batch"]["success"])
	assert.Equal(t, int64(1), snap.Results["advance_batch"]["error"])
	assert.Equal(t, int64(1), snap.Retries["advance_batch"])
	assert.NotContains(t, snap.Results, "")
}
