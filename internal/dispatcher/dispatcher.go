// Package dispatcher routes recorded webhook payloads and scheduled
// follow-up tasks to the domain services. It is the only place that knows
// the two senders' payload shapes.
package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	checkmodels "verisync/internal/check/models"
	documentmodels "verisync/internal/document/models"
	"verisync/internal/scheduler"
	tenantmodels "verisync/internal/tenant/models"
	webhookmodels "verisync/internal/webhook/models"
	id "verisync/pkg/domain"
	derrors "verisync/pkg/domain-errors"
)

// Platform events this service reacts to. document.update and user.update
// arrive because the platform subscription is event-coarse; they are
// acknowledged without action.
const (
	EventDocumentCreate = "document.create"
	EventDocumentUpdate = "document.update"
	EventUserUpdate     = "user.update"
)

// Provider actions that feed the check lifecycle.
const (
	ActionCheckCompleted = "check.completed"
	ActionCheckWithdrawn = "check.withdrawn"
)

// TenantService resolves tenants for records and tasks.
type TenantService interface {
	Get(ctx context.Context, tenantID id.TenantID) (*tenantmodels.Tenant, error)
}

// DocumentService is the document lifecycle surface the dispatcher drives.
type DocumentService interface {
	Register(ctx context.Context, tenant *tenantmodels.Tenant, platformUserID, platformDocID, platformType string) (*documentmodels.Document, error)
	Find(ctx context.Context, docID id.DocumentID) (*documentmodels.Document, error)
	Upload(ctx context.Context, tenant *tenantmodels.Tenant, docID id.DocumentID) error
}

// CheckService is the check lifecycle surface the dispatcher drives.
type CheckService interface {
	Find(ctx context.Context, checkID id.CheckID) (*checkmodels.Check, error)
	Generate(ctx context.Context, tenant *tenantmodels.Tenant, checkID id.CheckID) error
	Evaluate(ctx context.Context, tenant *tenantmodels.Tenant, providerCheckID string) error
}

// TaskQueue schedules deferred work.
type TaskQueue interface {
	Enqueue(ctx context.Context, task scheduler.Task, delay time.Duration) error
}

type Dispatcher struct {
	tenants   TenantService
	documents DocumentService
	checks    CheckService
	queue     TaskQueue
	logger    *slog.Logger
}

func New(tenants TenantService, documents DocumentService, checks CheckService, queue TaskQueue, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{tenants: tenants, documents: documents, checks: checks, queue: queue, logger: logger}
}

// Dispatch routes one webhook record to its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, record *webhookmodels.Record) error {
	tenant, err := d.tenants.Get(ctx, record.TenantID)
	if err != nil {
		return err
	}
	switch record.Origin {
	case webhookmodels.OriginPlatform:
		return d.dispatchPlatform(ctx, tenant, record)
	case webhookmodels.OriginProvider:
		return d.dispatchProvider(ctx, tenant, record)
	default:
		return derrors.Newf(derrors.CodeValidation, "unknown webhook origin %q", record.Origin)
	}
}

// platformEnvelope is the platform's webhook body.
type platformEnvelope struct {
	Event   string          `json:"event"`
	Company string          `json:"company"`
	Data    json.RawMessage `json:"data"`
}

// platformDocument is the document payload inside a document.* event.
type platformDocument struct {
	ID     string `json:"id"`
	UserID string `json:"user"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

func (d *Dispatcher) dispatchPlatform(ctx context.Context, tenant *tenantmodels.Tenant, record *webhookmodels.Record) error {
	var envelope platformEnvelope
	if err := json.Unmarshal(record.Payload, &envelope); err != nil {
		return derrors.Wrap(err, derrors.CodeValidation, "malformed platform webhook payload")
	}

	switch envelope.Event {
	case EventDocumentCreate:
		var data platformDocument
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return derrors.Wrap(err, derrors.CodeValidation, "malformed document payload")
		}
		doc, err := d.documents.Register(ctx, tenant, data.UserID, data.ID, data.Type)
		if err != nil {
			return err
		}
		task := scheduler.Task{Kind: scheduler.KindDocumentUpload, Ref: doc.ID.String(), Attempt: 1}
		if err := d.queue.Enqueue(ctx, task, 0); err != nil {
			return derrors.Wrap(err, derrors.CodeInternal, "failed to schedule document upload")
		}
		return nil
	case EventDocumentUpdate, EventUserUpdate:
		// Subscribed but not acted on.
		d.logger.DebugContext(ctx, "platform event acknowledged without action",
			"event", envelope.Event,
		)
		return nil
	default:
		return derrors.Newf(derrors.CodeValidation, "unhandled platform event %q", envelope.Event)
	}
}

// providerEnvelope is the provider's webhook body.
type providerEnvelope struct {
	Payload struct {
		ResourceType string `json:"resource_type"`
		Action       string `json:"action"`
		Object       struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"object"`
	} `json:"payload"`
}

func (d *Dispatcher) dispatchProvider(ctx context.Context, tenant *tenantmodels.Tenant, record *webhookmodels.Record) error {
	var envelope providerEnvelope
	if err := json.Unmarshal(record.Payload, &envelope); err != nil {
		return derrors.Wrap(err, derrors.CodeValidation, "malformed provider webhook payload")
	}

	switch envelope.Payload.Action {
	case ActionCheckCompleted, ActionCheckWithdrawn:
		err := d.checks.Evaluate(ctx, tenant, envelope.Payload.Object.ID)
		if derrors.HasCode(err, derrors.CodeNotFound) {
			// A check this service never generated, likely created directly
			// in the provider dashboard. Nothing to reconcile.
			d.logger.WarnContext(ctx, "provider check unknown, dropping notification",
				"provider_check", envelope.Payload.Object.ID,
			)
			return nil
		}
		return err
	default:
		d.logger.DebugContext(ctx, "provider action acknowledged without action",
			"action", envelope.Payload.Action,
		)
		return nil
	}
}

// HandleDocumentUpload is the task handler for document upload follow-ups.
func (d *Dispatcher) HandleDocumentUpload(ctx context.Context, task scheduler.Task) error {
	docID, err := id.ParseDocumentID(task.Ref)
	if err != nil {
		return err
	}
	doc, err := d.documents.Find(ctx, docID)
	if err != nil {
		return err
	}
	tenant, err := d.tenants.Get(ctx, doc.TenantID)
	if err != nil {
		return err
	}
	return d.documents.Upload(ctx, tenant, docID)
}

// HandleCheckGenerate is the task handler for check generation follow-ups.
func (d *Dispatcher) HandleCheckGenerate(ctx context.Context, task scheduler.Task) error {
	checkID, err := id.ParseCheckID(task.Ref)
	if err != nil {
		return err
	}
	check, err := d.checks.Find(ctx, checkID)
	if err != nil {
		return err
	}
	tenant, err := d.tenants.Get(ctx, check.TenantID)
	if err != nil {
		return err
	}
	return d.checks.Generate(ctx, tenant, checkID)
}
