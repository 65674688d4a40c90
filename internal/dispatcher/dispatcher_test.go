package dispatcher

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	checkmodels "verisync/internal/check/models"
	documentmodels "verisync/internal/document/models"
	"verisync/internal/scheduler"
	tenantmodels "verisync/internal/tenant/models"
	webhookmodels "verisync/internal/webhook/models"
	id "verisync/pkg/domain"
	derrors "verisync/pkg/domain-errors"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeTenants struct {
	tenant *tenantmodels.Tenant
}

func (f *fakeTenants) Get(context.Context, id.TenantID) (*tenantmodels.Tenant, error) {
	return f.tenant, nil
}

type fakeDocuments struct {
	doc         *documentmodels.Document
	registered  []string
	uploaded    []id.DocumentID
	registerErr error
}

func (f *fakeDocuments) Register(_ context.Context, _ *tenantmodels.Tenant, platformUserID, platformDocID, platformType string) (*documentmodels.Document, error) {
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	f.registered = append(f.registered, platformDocID)
	return f.doc, nil
}

func (f *fakeDocuments) Find(context.Context, id.DocumentID) (*documentmodels.Document, error) {
	return f.doc, nil
}

func (f *fakeDocuments) Upload(_ context.Context, _ *tenantmodels.Tenant, docID id.DocumentID) error {
	f.uploaded = append(f.uploaded, docID)
	return nil
}

type fakeChecks struct {
	check       *checkmodels.Check
	evaluated   []string
	generated   []id.CheckID
	evaluateErr error
}

func (f *fakeChecks) Find(context.Context, id.CheckID) (*checkmodels.Check, error) {
	return f.check, nil
}

func (f *fakeChecks) Generate(_ context.Context, _ *tenantmodels.Tenant, checkID id.CheckID) error {
	f.generated = append(f.generated, checkID)
	return nil
}

func (f *fakeChecks) Evaluate(_ context.Context, _ *tenantmodels.Tenant, providerCheckID string) error {
	if f.evaluateErr != nil {
		return f.evaluateErr
	}
	f.evaluated = append(f.evaluated, providerCheckID)
	return nil
}

type captureQueue struct {
	tasks []scheduler.Task
}

func (q *captureQueue) Enqueue(_ context.Context, task scheduler.Task, _ time.Duration) error {
	q.tasks = append(q.tasks, task)
	return nil
}

// =============================================================================
// Dispatcher Test Suite
// =============================================================================

type DispatcherSuite struct {
	suite.Suite
	tenants    *fakeTenants
	documents  *fakeDocuments
	checks     *fakeChecks
	queue      *captureQueue
	dispatcher *Dispatcher
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	tenant := &tenantmodels.Tenant{ID: id.NewTenantID(), Identifier: "company-1", Active: true}
	s.tenants = &fakeTenants{tenant: tenant}
	s.documents = &fakeDocuments{doc: &documentmodels.Document{
		ID:       id.NewDocumentID(),
		TenantID: tenant.ID,
	}}
	s.checks = &fakeChecks{check: &checkmodels.Check{
		ID:       id.NewCheckID(),
		TenantID: tenant.ID,
	}}
	s.queue = &captureQueue{}
	s.dispatcher = New(s.tenants, s.documents, s.checks, s.queue, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (s *DispatcherSuite) record(origin webhookmodels.Origin, payload string) *webhookmodels.Record {
	return &webhookmodels.Record{
		ID:       id.NewWebhookID(),
		TenantID: s.tenants.tenant.ID,
		Origin:   origin,
		Payload:  []byte(payload),
	}
}

func (s *DispatcherSuite) TestPlatformEvents() {
	ctx := context.Background()

	s.Run("document.create registers and schedules the upload", func() {
		record := s.record(webhookmodels.OriginPlatform,
			`{"event":"document.create","company":"company-1","data":{"id":"doc-1","user":"user-1","type":"passport"}}`)

		s.Require().NoError(s.dispatcher.Dispatch(ctx, record))
		s.Equal([]string{"doc-1"}, s.documents.registered)
		s.Require().Len(s.queue.tasks, 1)
		s.Equal(scheduler.KindDocumentUpload, s.queue.tasks[0].Kind)
		s.Equal(s.documents.doc.ID.String(), s.queue.tasks[0].Ref)
	})

	s.Run("document.update is acknowledged without action", func() {
		record := s.record(webhookmodels.OriginPlatform,
			`{"event":"document.update","company":"company-1","data":{"id":"doc-1"}}`)

		s.Require().NoError(s.dispatcher.Dispatch(ctx, record))
		s.Len(s.queue.tasks, 1)
	})

	s.Run("unhandled event is a terminal validation error", func() {
		record := s.record(webhookmodels.OriginPlatform,
			`{"event":"transaction.create","company":"company-1","data":{}}`)

		err := s.dispatcher.Dispatch(ctx, record)
		s.True(derrors.HasCode(err, derrors.CodeValidation))
		s.False(derrors.Retryable(err))
	})

	s.Run("malformed payload is a terminal validation error", func() {
		record := s.record(webhookmodels.OriginPlatform, `{"event":`)
		err := s.dispatcher.Dispatch(ctx, record)
		s.True(derrors.HasCode(err, derrors.CodeValidation))
	})
}

func (s *DispatcherSuite) TestProviderEvents() {
	ctx := context.Background()

	s.Run("check.completed evaluates the check", func() {
		record := s.record(webhookmodels.OriginProvider,
			`{"payload":{"resource_type":"check","action":"check.completed","object":{"id":"remote-1","status":"complete"}}}`)

		s.Require().NoError(s.dispatcher.Dispatch(ctx, record))
		s.Equal([]string{"remote-1"}, s.checks.evaluated)
	})

	s.Run("check.withdrawn also evaluates", func() {
		record := s.record(webhookmodels.OriginProvider,
			`{"payload":{"resource_type":"check","action":"check.withdrawn","object":{"id":"remote-2","status":"withdrawn"}}}`)

		s.Require().NoError(s.dispatcher.Dispatch(ctx, record))
		s.Contains(s.checks.evaluated, "remote-2")
	})

	s.Run("unknown check is dropped, not retried", func() {
		s.checks.evaluateErr = derrors.New(derrors.CodeNotFound, "no check")
		record := s.record(webhookmodels.OriginProvider,
			`{"payload":{"resource_type":"check","action":"check.completed","object":{"id":"remote-3","status":"complete"}}}`)

		s.NoError(s.dispatcher.Dispatch(ctx, record))
	})

	s.Run("unhandled action is acknowledged without action", func() {
		record := s.record(webhookmodels.OriginProvider,
			`{"payload":{"resource_type":"report","action":"report.completed","object":{"id":"r-1"}}}`)

		s.NoError(s.dispatcher.Dispatch(ctx, record))
	})
}

func (s *DispatcherSuite) TestTaskHandlers() {
	ctx := context.Background()

	s.Run("document upload task finds its tenant and uploads", func() {
		task := scheduler.Task{Kind: scheduler.KindDocumentUpload, Ref: s.documents.doc.ID.String(), Attempt: 1}
		s.Require().NoError(s.dispatcher.HandleDocumentUpload(ctx, task))
		s.Equal([]id.DocumentID{s.documents.doc.ID}, s.documents.uploaded)
	})

	s.Run("check generate task finds its tenant and generates", func() {
		task := scheduler.Task{Kind: scheduler.KindCheckGenerate, Ref: s.checks.check.ID.String(), Attempt: 1}
		s.Require().NoError(s.dispatcher.HandleCheckGenerate(ctx, task))
		s.Equal([]id.CheckID{s.checks.check.ID}, s.checks.generated)
	})

	s.Run("malformed ref is rejected", func() {
		task := scheduler.Task{Kind: scheduler.KindDocumentUpload, Ref: "not-a-uuid", Attempt: 1}
		err := s.dispatcher.HandleDocumentUpload(ctx, task)
		s.True(derrors.HasCode(err, derrors.CodeInvalidInput))
	})
}
