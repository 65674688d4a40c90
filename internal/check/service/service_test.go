package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"verisync/internal/check/models"
	checkstore "verisync/internal/check/store"
	documentmodels "verisync/internal/document/models"
	documentstore "verisync/internal/document/store"
	identitymodels "verisync/internal/identity/models"
	"verisync/internal/platform/metrics"
	"verisync/internal/platformclient"
	"verisync/internal/providerclient"
	"verisync/internal/scheduler"
	tenantmodels "verisync/internal/tenant/models"
	id "verisync/pkg/domain"
	derrors "verisync/pkg/domain-errors"
	"verisync/pkg/platform/lock"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeProvider struct {
	mu          sync.Mutex
	checks      map[string]providerclient.RemoteCheck
	reports     map[string][]providerclient.Report
	createCalls int
	createErr   error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		checks:  make(map[string]providerclient.RemoteCheck),
		reports: make(map[string][]providerclient.Report),
	}
}

func (f *fakeProvider) CreateApplicant(context.Context, providerclient.ApplicantRequest) (providerclient.Applicant, error) {
	return providerclient.Applicant{ID: "applicant"}, nil
}

func (f *fakeProvider) UploadDocument(context.Context, providerclient.DocumentUpload) (providerclient.RemoteDocument, error) {
	return providerclient.RemoteDocument{ID: "remote-doc"}, nil
}

func (f *fakeProvider) CreateCheck(_ context.Context, req providerclient.CheckRequest) (providerclient.RemoteCheck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return providerclient.RemoteCheck{}, f.createErr
	}
	f.createCalls++
	remote := providerclient.RemoteCheck{
		ID:     fmt.Sprintf("remote-check-%d", f.createCalls),
		Status: "in_progress",
	}
	f.checks[remote.ID] = remote
	return remote, nil
}

func (f *fakeProvider) GetCheck(_ context.Context, checkID string) (providerclient.RemoteCheck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks[checkID], nil
}

func (f *fakeProvider) ListReports(_ context.Context, checkID string) ([]providerclient.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reports[checkID], nil
}

func (f *fakeProvider) RegisterWebhook(context.Context, string) (providerclient.WebhookRegistration, error) {
	return providerclient.WebhookRegistration{}, nil
}

func (f *fakeProvider) DeleteWebhook(context.Context, string) error { return nil }

func (f *fakeProvider) setRemote(checkID, status, result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks[checkID] = providerclient.RemoteCheck{ID: checkID, Status: status, Result: result}
}

func (f *fakeProvider) setReport(checkID string, report providerclient.Report) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[checkID] = append(f.reports[checkID], report)
}

type fakeGate struct {
	provider providerclient.API
	err      error
}

func (f *fakeGate) ProviderFor(*tenantmodels.Tenant) (providerclient.API, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.provider, nil
}

type fakePlatform struct {
	platformclient.API

	mu      sync.Mutex
	patches map[string][]platformclient.DocumentPatch
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{patches: make(map[string][]platformclient.DocumentPatch)}
}

func (f *fakePlatform) PatchDocument(_ context.Context, _, documentID string, patch platformclient.DocumentPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches[documentID] = append(f.patches[documentID], patch)
	return nil
}

func (f *fakePlatform) lastPatch(documentID string) (platformclient.DocumentPatch, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	patches := f.patches[documentID]
	if len(patches) == 0 {
		return platformclient.DocumentPatch{}, false
	}
	return patches[len(patches)-1], true
}

type fakeIdentities struct {
	identity *identitymodels.Identity
}

func (f *fakeIdentities) Find(context.Context, id.IdentityID) (*identitymodels.Identity, error) {
	copied := *f.identity
	return &copied, nil
}

type captureQueue struct {
	mu    sync.Mutex
	tasks []scheduler.Task
}

func (q *captureQueue) Enqueue(_ context.Context, task scheduler.Task, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *captureQueue) drain() []scheduler.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks := q.tasks
	q.tasks = nil
	return tasks
}

// =============================================================================
// Check Service Test Suite
// =============================================================================
// Unit tests here because the pairing and queueing rules have many orderings
// that are impractical to reproduce through real webhook traffic.

type CheckServiceSuite struct {
	suite.Suite
	checks   *checkstore.InMemory
	docs     *documentstore.InMemory
	mappings *documentstore.InMemoryMappings
	provider *fakeProvider
	platform *fakePlatform
	gate     *fakeGate
	queue    *captureQueue
	identity *identitymodels.Identity
	tenant   *tenantmodels.Tenant
	service  *Service
}

func TestCheckServiceSuite(t *testing.T) {
	suite.Run(t, new(CheckServiceSuite))
}

func (s *CheckServiceSuite) SetupTest() {
	s.checks = checkstore.NewInMemory()
	s.docs = documentstore.NewInMemory()
	s.mappings = documentstore.NewInMemoryMappings()
	s.provider = newFakeProvider()
	s.platform = newFakePlatform()
	s.gate = &fakeGate{provider: s.provider}
	s.queue = &captureQueue{}

	now := time.Now()
	s.tenant = &tenantmodels.Tenant{
		ID:         id.NewTenantID(),
		Identifier: "company-1",
		AdminToken: "admin-token",
		Active:     true,
	}
	s.identity = &identitymodels.Identity{
		ID:          id.NewIdentityID(),
		TenantID:    s.tenant.ID,
		PlatformID:  "user-1",
		ApplicantID: "applicant-1",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = New(
		s.checks, s.docs, s.mappings,
		&fakeIdentities{identity: s.identity},
		s.platform,
		s.gate,
		lock.NewKeyed(),
		s.queue,
		metrics.New(prometheus.NewRegistry()),
		logger,
	)
}

func (s *CheckServiceSuite) newMapping(platformType string, providerType documentmodels.ProviderDocumentType, side documentmodels.Side) *documentmodels.Mapping {
	now := time.Now()
	mapping := &documentmodels.Mapping{
		ID:           id.NewMappingID(),
		TenantID:     s.tenant.ID,
		PlatformType: platformType,
		ProviderType: providerType,
		Side:         side,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.Require().NoError(s.mappings.Create(context.Background(), mapping))
	return mapping
}

func (s *CheckServiceSuite) newDocument(platformID string, mapping *documentmodels.Mapping) *documentmodels.Document {
	now := time.Now()
	doc := &documentmodels.Document{
		ID:         id.NewDocumentID(),
		TenantID:   s.tenant.ID,
		IdentityID: s.identity.ID,
		PlatformID: platformID,
		ProviderID: "provider-" + platformID,
		MappingID:  mapping.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.Require().NoError(s.docs.Create(context.Background(), doc))
	return doc
}

// =============================================================================
// Attach Tests
// =============================================================================

func (s *CheckServiceSuite) TestAttach() {
	ctx := context.Background()

	s.Run("unsided document opens a check that is immediately ready", func() {
		mapping := s.newMapping("passport", documentmodels.ProviderTypePassport, "")
		doc := s.newDocument("doc-passport", mapping)

		s.Require().NoError(s.service.Attach(ctx, s.tenant, doc))

		pending, err := s.checks.ListByIdentityAndStatus(ctx, s.identity.ID, models.StatusPending)
		s.Require().NoError(err)
		s.Require().Len(pending, 1)
		s.Equal([]id.DocumentID{doc.ID}, pending[0].DocumentIDs)

		tasks := s.queue.drain()
		s.Require().Len(tasks, 1)
		s.Equal(scheduler.KindCheckGenerate, tasks[0].Kind)
		s.Equal(pending[0].ID.String(), tasks[0].Ref)
	})

	s.Run("sided document waits for its pair", func() {
		front := s.newMapping("licence_front", documentmodels.ProviderTypeDrivingLicence, documentmodels.SideFront)
		doc := s.newDocument("doc-front", front)

		s.Require().NoError(s.service.Attach(ctx, s.tenant, doc))

		open, err := s.checks.ListByIdentityAndStatus(ctx, s.identity.ID, models.StatusInitiating)
		s.Require().NoError(err)
		s.Require().Len(open, 1)
		s.Empty(s.queue.drain())
	})

	s.Run("opposite side completes the pair and readies the check", func() {
		back := s.newMapping("licence_back", documentmodels.ProviderTypeDrivingLicence, documentmodels.SideBack)
		doc := s.newDocument("doc-back", back)

		s.Require().NoError(s.service.Attach(ctx, s.tenant, doc))

		open, err := s.checks.ListByIdentityAndStatus(ctx, s.identity.ID, models.StatusInitiating)
		s.Require().NoError(err)
		s.Empty(open)

		pending, err := s.checks.ListByIdentityAndStatus(ctx, s.identity.ID, models.StatusPending)
		s.Require().NoError(err)
		s.Require().Len(pending, 2) // passport check from the first subtest plus the pair
		for _, check := range pending {
			if len(check.DocumentIDs) == 2 {
				s.Contains(check.DocumentIDs, doc.ID)
			}
		}
	})

	s.Run("re-attaching an attached document does not open a second check", func() {
		mapping := s.newMapping("voter_front", documentmodels.ProviderTypeVoterID, documentmodels.SideFront)
		doc := s.newDocument("doc-voter", mapping)

		s.Require().NoError(s.service.Attach(ctx, s.tenant, doc))
		before, err := s.checks.ListByIdentityAndStatus(ctx, s.identity.ID, models.StatusInitiating)
		s.Require().NoError(err)

		s.Require().NoError(s.service.Attach(ctx, s.tenant, doc))
		after, err := s.checks.ListByIdentityAndStatus(ctx, s.identity.ID, models.StatusInitiating)
		s.Require().NoError(err)
		s.Equal(len(before), len(after))
	})
}

func (s *CheckServiceSuite) TestAttachDoesNotPairAcrossProviderTypes() {
	ctx := context.Background()
	licenceFront := s.newMapping("licence_front", documentmodels.ProviderTypeDrivingLicence, documentmodels.SideFront)
	voterBack := s.newMapping("voter_back", documentmodels.ProviderTypeVoterID, documentmodels.SideBack)

	s.Require().NoError(s.service.Attach(ctx, s.tenant, s.newDocument("d1", licenceFront)))
	s.Require().NoError(s.service.Attach(ctx, s.tenant, s.newDocument("d2", voterBack)))

	open, err := s.checks.ListByIdentityAndStatus(ctx, s.identity.ID, models.StatusInitiating)
	s.Require().NoError(err)
	s.Len(open, 2)
}

// =============================================================================
// Generate Tests
// =============================================================================

func (s *CheckServiceSuite) pendingCheck() *models.Check {
	ctx := context.Background()
	// Platform types are unique per tenant, so mint a fresh one per check.
	mapping := s.newMapping("passport-"+id.NewMappingID().String(), documentmodels.ProviderTypePassport, "")
	doc := s.newDocument("doc-"+mapping.ID.String(), mapping)
	s.Require().NoError(s.service.Attach(ctx, s.tenant, doc))
	pending, err := s.checks.ListByIdentityAndStatus(ctx, s.identity.ID, models.StatusPending)
	s.Require().NoError(err)
	s.Require().NotEmpty(pending)
	return pending[len(pending)-1]
}

func (s *CheckServiceSuite) TestGenerate() {
	ctx := context.Background()

	s.Run("pending check is created on the provider and marked processing", func() {
		check := s.pendingCheck()
		s.queue.drain()

		s.Require().NoError(s.service.Generate(ctx, s.tenant, check.ID))

		stored, err := s.checks.FindByID(ctx, check.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusProcessing, stored.Status)
		s.NotEmpty(stored.ProviderID)

		// Attached documents were marked pending on the platform.
		docs, err := s.docs.ListByIDs(ctx, stored.DocumentIDs)
		s.Require().NoError(err)
		patch, ok := s.platform.lastPatch(docs[0].PlatformID)
		s.Require().True(ok)
		s.Equal(string(documentmodels.PlatformStatusPending), patch.Status)
	})

	s.Run("second pending check yields while the slot is occupied", func() {
		check := s.pendingCheck()
		s.queue.drain()
		calls := s.provider.createCalls

		s.Require().NoError(s.service.Generate(ctx, s.tenant, check.ID))

		stored, err := s.checks.FindByID(ctx, check.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusPending, stored.Status)
		s.Equal(calls, s.provider.createCalls)
	})

	s.Run("redelivered generate for a generated check is a no-op", func() {
		processing, err := s.checks.ListByIdentityAndStatus(ctx, s.identity.ID, models.StatusProcessing)
		s.Require().NoError(err)
		s.Require().Len(processing, 1)
		calls := s.provider.createCalls

		s.Require().NoError(s.service.Generate(ctx, s.tenant, processing[0].ID))
		s.Equal(calls, s.provider.createCalls)
	})
}

// TestGenerateConfigurationFailureLeavesCheckPending verifies that a tenant
// losing its provider credentials between dispatch and generation does not
// strand the check in processing, where it would block the identity's queue.
func (s *CheckServiceSuite) TestGenerateConfigurationFailureLeavesCheckPending() {
	ctx := context.Background()
	check := s.pendingCheck()
	s.queue.drain()
	s.gate.err = derrors.New(derrors.CodeConfiguration, "tenant has no provider credentials")

	err := s.service.Generate(ctx, s.tenant, check.ID)
	s.Require().Error(err)
	s.False(derrors.Retryable(err))

	stored, err := s.checks.FindByID(ctx, check.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, stored.Status)
	s.Empty(stored.ProviderID)

	// Restoring the credentials lets the same check generate.
	s.gate.err = nil
	s.Require().NoError(s.service.Generate(ctx, s.tenant, check.ID))
	stored, err = s.checks.FindByID(ctx, check.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusProcessing, stored.Status)
	s.NotEmpty(stored.ProviderID)
}

// =============================================================================
// Evaluate Tests
// =============================================================================

func (s *CheckServiceSuite) processingCheck() *models.Check {
	ctx := context.Background()
	check := s.pendingCheck()
	s.queue.drain()
	s.Require().NoError(s.service.Generate(ctx, s.tenant, check.ID))
	stored, err := s.checks.FindByID(ctx, check.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.StatusProcessing, stored.Status)
	return stored
}

func (s *CheckServiceSuite) TestEvaluate() {
	ctx := context.Background()

	s.Run("clear result verifies documents and completes the check", func() {
		check := s.processingCheck()
		// A second check queued behind the processing one.
		s.pendingCheck()
		s.queue.drain()
		s.provider.setRemote(check.ProviderID, providerclient.RemoteCheckComplete, models.ResultClear)
		s.provider.setReport(check.ProviderID, providerclient.Report{
			Name:   providerclient.ReportNameDocument,
			Status: providerclient.ReportStatusComplete,
			Result: models.ResultClear,
		})

		s.Require().NoError(s.service.Evaluate(ctx, s.tenant, check.ProviderID))

		stored, err := s.checks.FindByID(ctx, check.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusComplete, stored.Status)
		s.Equal(models.ResultClear, stored.Result)

		docs, err := s.docs.ListByIDs(ctx, stored.DocumentIDs)
		s.Require().NoError(err)
		patch, ok := s.platform.lastPatch(docs[0].PlatformID)
		s.Require().True(ok)
		s.Equal(string(documentmodels.PlatformStatusVerified), patch.Status)
	})

	s.Run("evaluation dispatches the next pending check", func() {
		tasks := s.queue.drain()
		s.Require().Len(tasks, 1)
		s.Equal(scheduler.KindCheckGenerate, tasks[0].Kind)
	})

	s.Run("redelivery after terminal status is a no-op", func() {
		complete, err := s.checks.ListByIdentityAndStatus(ctx, s.identity.ID, models.StatusComplete)
		s.Require().NoError(err)
		s.Require().Len(complete, 1)

		s.Require().NoError(s.service.Evaluate(ctx, s.tenant, complete[0].ProviderID))
		s.Empty(s.queue.drain())
	})

	s.Run("unknown provider check id is a not found error", func() {
		err := s.service.Evaluate(ctx, s.tenant, "never-seen")
		s.True(derrors.HasCode(err, derrors.CodeNotFound))
	})
}

func (s *CheckServiceSuite) TestEvaluateRejectedDeclinesDocuments() {
	ctx := context.Background()
	check := s.processingCheck()
	s.provider.setRemote(check.ProviderID, providerclient.RemoteCheckComplete, models.ResultRejected)
	s.provider.setReport(check.ProviderID, providerclient.Report{
		Name:   providerclient.ReportNameDocument,
		Status: providerclient.ReportStatusComplete,
		Result: models.ResultRejected,
	})

	s.Require().NoError(s.service.Evaluate(ctx, s.tenant, check.ProviderID))

	stored, err := s.checks.FindByID(ctx, check.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusComplete, stored.Status)

	docs, err := s.docs.ListByIDs(ctx, stored.DocumentIDs)
	s.Require().NoError(err)
	patch, ok := s.platform.lastPatch(docs[0].PlatformID)
	s.Require().True(ok)
	s.Equal(string(documentmodels.PlatformStatusDeclined), patch.Status)
}

func (s *CheckServiceSuite) TestEvaluateWithdrawnFailsWithoutFanOut() {
	ctx := context.Background()
	check := s.processingCheck()
	docs, err := s.docs.ListByIDs(ctx, check.DocumentIDs)
	s.Require().NoError(err)
	patchesBefore := 0
	if _, ok := s.platform.lastPatch(docs[0].PlatformID); ok {
		patchesBefore = len(s.platform.patches[docs[0].PlatformID])
	}

	s.provider.setRemote(check.ProviderID, providerclient.RemoteCheckWithdrawn, "")

	s.Require().NoError(s.service.Evaluate(ctx, s.tenant, check.ProviderID))

	stored, err := s.checks.FindByID(ctx, check.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusFailed, stored.Status)
	s.Equal(patchesBefore, len(s.platform.patches[docs[0].PlatformID]))
}

func (s *CheckServiceSuite) TestEvaluateLaggingReportPersistsWithoutFanOut() {
	ctx := context.Background()

	s.Run("no document status is pushed while the report runs", func() {
		check := s.processingCheck()
		docs, err := s.docs.ListByIDs(ctx, check.DocumentIDs)
		s.Require().NoError(err)
		patchesBefore := len(s.platform.patches[docs[0].PlatformID])

		s.provider.setRemote(check.ProviderID, providerclient.RemoteCheckComplete, models.ResultClear)
		s.provider.setReport(check.ProviderID, providerclient.Report{
			Name:   providerclient.ReportNameDocument,
			Status: "awaiting_data",
		})

		s.Require().NoError(s.service.Evaluate(ctx, s.tenant, check.ProviderID))

		stored, err := s.checks.FindByID(ctx, check.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusComplete, stored.Status)
		s.Equal(patchesBefore, len(s.platform.patches[docs[0].PlatformID]))
	})

	s.Run("empty check-level result completes instead of failing", func() {
		check := s.processingCheck()
		s.provider.setRemote(check.ProviderID, providerclient.RemoteCheckComplete, "")
		s.provider.setReport(check.ProviderID, providerclient.Report{
			Name:   providerclient.ReportNameDocument,
			Status: "awaiting_data",
		})

		s.Require().NoError(s.service.Evaluate(ctx, s.tenant, check.ProviderID))

		stored, err := s.checks.FindByID(ctx, check.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusComplete, stored.Status)
		s.Empty(stored.Result)
	})

	s.Run("missing document report behaves the same", func() {
		check := s.processingCheck()
		s.provider.setRemote(check.ProviderID, providerclient.RemoteCheckComplete, models.ResultClear)

		s.Require().NoError(s.service.Evaluate(ctx, s.tenant, check.ProviderID))

		stored, err := s.checks.FindByID(ctx, check.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusComplete, stored.Status)
	})
}

// TestDispatchPicksOldestPending verifies that freeing the processing slot
// schedules generation of the oldest pending check first.
func (s *CheckServiceSuite) TestDispatchPicksOldestPending() {
	ctx := context.Background()
	running := s.processingCheck()
	first := s.pendingCheck()
	second := s.pendingCheck()
	s.Require().True(first.CreatedAt.Before(second.CreatedAt))
	s.queue.drain()

	s.provider.setRemote(running.ProviderID, providerclient.RemoteCheckComplete, models.ResultClear)
	s.provider.setReport(running.ProviderID, providerclient.Report{
		Name:   providerclient.ReportNameDocument,
		Status: providerclient.ReportStatusComplete,
		Result: models.ResultClear,
	})
	s.Require().NoError(s.service.Evaluate(ctx, s.tenant, running.ProviderID))

	tasks := s.queue.drain()
	s.Require().Len(tasks, 1)
	s.Equal(scheduler.KindCheckGenerate, tasks[0].Kind)
	s.Equal(first.ID.String(), tasks[0].Ref)
	s.NotEqual(second.ID.String(), tasks[0].Ref)
}

func (s *CheckServiceSuite) TestEvaluateNotCompleteIsRetryable() {
	ctx := context.Background()
	check := s.processingCheck()
	s.provider.setRemote(check.ProviderID, "in_progress", "")

	err := s.service.Evaluate(ctx, s.tenant, check.ProviderID)
	s.Require().Error(err)
	s.True(derrors.Retryable(err))
	s.True(derrors.HasCode(err, derrors.CodeNotReady))
}

// =============================================================================
// Result Mapping Tests
// =============================================================================

func TestPlatformStatusForResult(t *testing.T) {
	cases := map[string]documentmodels.PlatformDocumentStatus{
		models.ResultClear:     documentmodels.PlatformStatusVerified,
		models.ResultConsider:  documentmodels.PlatformStatusDeclined,
		models.ResultRejected:  documentmodels.PlatformStatusDeclined,
		models.ResultSuspected: documentmodels.PlatformStatusDeclined,
		models.ResultCaution:   documentmodels.PlatformStatusDeclined,
	}
	for result, want := range cases {
		got, err := models.PlatformStatusForResult(result)
		if err != nil {
			t.Fatalf("PlatformStatusForResult(%q) returned error: %v", result, err)
		}
		if got != want {
			t.Fatalf("PlatformStatusForResult(%q) = %q, want %q", result, got, want)
		}
	}
	if _, err := models.PlatformStatusForResult("unheard_of"); err == nil {
		t.Fatal("expected error for unknown result")
	}
}
