package core

import (
	"context"
	"encoding/json"
	"time"

	"cureline/pkg/domain"
)

// Notification subjects.
const (
	SubjectUnitStatusChanged  = "cureline.unit.status_changed"
	SubjectBatchStatusChanged = "cureline.batch.status_changed"
)

// UnitStatusChanged is published after a committed unit status change.
type UnitStatusChanged struct {
	UnitID         string           `json:"unit_id"`
	UnitNumber     string           `json:"unit_number"`
	PreviousStatus domain.Status    `json:"previous_status"`
	NewStatus      domain.Status    `json:"new_status"`
	DepartmentID   string           `json:"department_id,omitempty"`
	EventKind      domain.EventKind `json:"event_kind,omitempty"`
	BatchID        string           `json:"batch_id,omitempty"`
	Actor          domain.Actor     `json:"actor"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

// BatchStatusChanged is published after a committed batch transition.
type BatchStatusChanged struct {
	BatchID        string             `json:"batch_id"`
	Number         int64              `json:"number"`
	PreviousStatus domain.BatchStatus `json:"previous_status,omitempty"`
	NewStatus      domain.BatchStatus `json:"new_status"`
	Actor          domain.Actor       `json:"actor"`
	OccurredAt     time.Time          `json:"occurred_at"`
}

// publish delivers the notifications collected by a committed unit of work.
// Failures are logged; the commit already happened.
func (s *Service) publish(ctx context.Context, w *unitOfWork) {
	for _, n := range w.unitChanges {
		s.send(ctx, SubjectUnitStatusChanged, n.UnitID, n)
	}
	for _, n := range w.batchChanges {
		s.send(ctx, SubjectBatchStatusChanged, n.BatchID, n)
	}
}

func (s *Service) send(ctx context.Context, subject, id string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.opts.logger.Error("encode notification", "subject", subject, "id", id, "error", err)
		return
	}
	if err := s.opts.publisher.Publish(ctx, subject, data); err != nil {
		s.opts.logger.Warn("publish notification", "subject", subject, "id", id, "error", err)
	}
}
