package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"cureline/internal/blob"
	"cureline/pkg/domain"
)

// ArchiveStore receives cure records. blob.Store satisfies it.
type ArchiveStore interface {
	Put(ctx context.Context, key string, r io.Reader, opts blob.PutOptions) (blob.Info, error)
}

// CureRecord is the archived account of a released batch.
type CureRecord struct {
	Batch      domain.Batch       `json:"batch"`
	Cycle      domain.CuringCycle `json:"cycle"`
	Units      []CureRecordUnit   `json:"units"`
	ArchivedAt time.Time          `json:"archived_at"`
}

// CureRecordUnit is one member of an archived batch with its autoclave events.
type CureRecordUnit struct {
	Unit           domain.ProductionUnit    `json:"unit"`
	PreviousStatus domain.Status            `json:"previous_status"`
	Events         []domain.ProductionEvent `json:"events"`
}

// CureRecordKey is the blob key of a batch's cure record.
func CureRecordKey(batch domain.Batch) string {
	return fmt.Sprintf("cure-records/%d-%s.json", batch.Number, batch.ID)
}

func (w *unitOfWork) cureRecord(batch domain.Batch, items []domain.BatchItem) (CureRecord, error) {
	cycle, ok := w.tx.FindCuringCycle(batch.CuringCycleID)
	if !ok {
		return CureRecord{}, domain.NotFound(domain.EntityCuringCycle, batch.CuringCycleID)
	}
	record := CureRecord{Batch: batch, Cycle: cycle, ArchivedAt: w.tx.Now()}
	for _, item := range items {
		unit, err := w.findUnit(item.UnitID)
		if err != nil {
			return CureRecord{}, err
		}
		member := CureRecordUnit{Unit: unit, PreviousStatus: item.PreviousStatus}
		for _, evt := range w.tx.ListUnitEvents(unit.ID) {
			if evt.DepartmentID == batch.DepartmentID && !evt.OccurredAt.Before(item.CreatedAt) {
				member.Events = append(member.Events, evt)
			}
		}
		record.Units = append(record.Units, member)
	}
	return record, nil
}

// archiveCureRecord writes the record when an archive is configured. The
// release is already committed, so failures are only reported.
func (s *Service) archiveCureRecord(ctx context.Context, record CureRecord) (string, error) {
	if s.opts.archive == nil {
		return "", nil
	}
	key := CureRecordKey(record.Batch)
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return key, fmt.Errorf("encode cure record: %w", err)
	}
	_, err = s.opts.archive.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"batch-id":     record.Batch.ID,
			"batch-number": fmt.Sprint(record.Batch.Number),
			"cycle":        record.Cycle.Code,
		},
	})
	if err != nil {
		s.opts.logger.Warn("archive cure record", "batch", record.Batch.ID, "key", key, "error", err)
		return key, fmt.Errorf("archive cure record %s: %w", key, err)
	}
	s.opts.logger.Info("cure record archived", "batch", record.Batch.ID, "key", key)
	return key, nil
}
