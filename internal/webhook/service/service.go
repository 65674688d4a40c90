// Package service records inbound webhook deliveries and drives their
// processing attempts. Intake and processing are decoupled: the HTTP
// handler only persists and acknowledges, the scheduler replays the stored
// payload until it completes, fails terminally or exhausts its tries.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"verisync/internal/platform/metrics"
	"verisync/internal/scheduler"
	"verisync/internal/webhook/models"
	"verisync/internal/webhook/store"
	id "verisync/pkg/domain"
	derrors "verisync/pkg/domain-errors"
	"verisync/pkg/platform/sentinel"
)

// Dispatcher routes a record's payload to the domain operation behind its
// event.
type Dispatcher interface {
	Dispatch(ctx context.Context, record *models.Record) error
}

// TaskQueue schedules deferred work.
type TaskQueue interface {
	Enqueue(ctx context.Context, task scheduler.Task, delay time.Duration) error
}

type Service struct {
	records    store.Store
	queue      TaskQueue
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func New(records store.Store, queue TaskQueue, dispatcher Dispatcher, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{records: records, queue: queue, dispatcher: dispatcher, metrics: m, logger: logger}
}

// Record persists a delivery and schedules its first processing attempt.
// A redelivery of an already recorded (origin, identifier) pair is accepted
// silently so the sender stops retrying.
func (s *Service) Record(ctx context.Context, tenantID id.TenantID, origin models.Origin, identifier, event string, payload []byte) error {
	if identifier == "" {
		return derrors.New(derrors.CodeValidation, "webhook identifier is required")
	}
	now := time.Now()
	record := &models.Record{
		ID:         id.NewWebhookID(),
		TenantID:   tenantID,
		Origin:     origin,
		Identifier: identifier,
		Event:      event,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := s.records.Create(ctx, record)
	if errors.Is(err, sentinel.ErrDuplicate) {
		s.metrics.WebhooksDuplicate.WithLabelValues(string(origin)).Inc()
		s.logger.InfoContext(ctx, "duplicate webhook dropped",
			"origin", string(origin),
			"identifier", identifier,
		)
		return nil
	}
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "failed to record webhook")
	}

	kind := scheduler.KindPlatformWebhook
	if origin == models.OriginProvider {
		kind = scheduler.KindProviderWebhook
	}
	task := scheduler.Task{Kind: kind, Ref: record.ID.String(), Attempt: 1}
	if err := s.queue.Enqueue(ctx, task, 0); err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "failed to schedule webhook processing")
	}

	s.metrics.WebhooksReceived.WithLabelValues(string(origin)).Inc()
	return nil
}

// Process runs one attempt for the record behind the task. The try count is
// persisted before dispatching so a crash mid-attempt still consumes a try.
func (s *Service) Process(ctx context.Context, task scheduler.Task) error {
	recordID, err := id.ParseWebhookID(task.Ref)
	if err != nil {
		return err
	}
	record, err := s.records.FindByID(ctx, recordID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return derrors.Wrap(err, derrors.CodeNotFound, "webhook record not found")
	}
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "failed to load webhook record")
	}
	if record.Done() {
		return nil
	}

	record.Tries++
	if err := s.records.Update(ctx, record); err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "failed to update webhook record")
	}

	dispatchErr := s.dispatcher.Dispatch(ctx, record)
	if dispatchErr == nil {
		record.Completed = true
		if err := s.records.Update(ctx, record); err != nil {
			return derrors.Wrap(err, derrors.CodeInternal, "failed to mark webhook completed")
		}
		s.metrics.WebhooksProcessed.WithLabelValues(string(record.Origin)).Inc()
		return nil
	}

	if !derrors.Retryable(dispatchErr) || record.Exhausted() {
		record.Failed = true
		if err := s.records.Update(ctx, record); err != nil {
			return derrors.Wrap(err, derrors.CodeInternal, "failed to mark webhook failed")
		}
		s.metrics.WebhooksFailed.WithLabelValues(string(record.Origin)).Inc()
		s.logger.ErrorContext(ctx, "webhook processing failed terminally",
			"origin", string(record.Origin),
			"identifier", record.Identifier,
			"tries", record.Tries,
			"error", dispatchErr,
		)
	}
	return dispatchErr
}
