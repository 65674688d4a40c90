// Package service owns the check lifecycle: pairing uploaded documents into
// checks, generating them on the provider and evaluating results back to
// the platform.
//
// All transitions for one identity run under a per-identity lock, held
// across the outbound API calls they make. That lock is what upholds the
// single-processing-check rule and keeps concurrent webhook deliveries from
// interleaving half-finished transitions.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"verisync/internal/check/models"
	"verisync/internal/check/store"
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
	"verisync/pkg/platform/sentinel"
	stringsutil "verisync/pkg/platform/strings"
)

// ProviderGate hands out a provider capability for a configured tenant.
type ProviderGate interface {
	ProviderFor(tenant *tenantmodels.Tenant) (providerclient.API, error)
}

// IdentityFinder loads identities by id. Implemented by the identity
// service.
type IdentityFinder interface {
	Find(ctx context.Context, identityID id.IdentityID) (*identitymodels.Identity, error)
}

// TaskQueue schedules deferred work.
type TaskQueue interface {
	Enqueue(ctx context.Context, task scheduler.Task, delay time.Duration) error
}

type Service struct {
	checks     store.Store
	docs       documentstore.Store
	mappings   documentstore.MappingStore
	identities IdentityFinder
	platform   platformclient.API
	gate       ProviderGate
	locks      *lock.Keyed
	queue      TaskQueue
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func New(
	checks store.Store,
	docs documentstore.Store,
	mappings documentstore.MappingStore,
	identities IdentityFinder,
	platform platformclient.API,
	gate ProviderGate,
	locks *lock.Keyed,
	queue TaskQueue,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		checks:     checks,
		docs:       docs,
		mappings:   mappings,
		identities: identities,
		platform:   platform,
		gate:       gate,
		locks:      locks,
		queue:      queue,
		metrics:    m,
		logger:     logger,
	}
}

// Attach places an uploaded document into a check. A document whose type
// mapping names a side joins an open check holding the opposite face of the
// same provider type, or opens a new check that waits for its pair. An
// unsided document opens a check that is immediately ready. Re-attaching an
// already attached document is a no-op beyond re-running dispatch.
func (s *Service) Attach(ctx context.Context, tenant *tenantmodels.Tenant, doc *documentmodels.Document) error {
	release := s.locks.Acquire(doc.IdentityID.String())
	defer release()

	if _, err := s.checks.FindByDocumentID(ctx, doc.ID); err == nil {
		return s.dispatch(ctx, doc.IdentityID)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return derrors.Wrap(err, derrors.CodeInternal, "failed to look up document attachment")
	}

	mapping, err := s.mappings.FindByID(ctx, doc.MappingID)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "failed to load document type mapping")
	}

	if mapping.Side != "" {
		open, err := s.findPairing(ctx, doc.IdentityID, mapping)
		if err != nil {
			return err
		}
		if open != nil {
			if err := s.checks.AttachDocument(ctx, open.ID, doc.ID); err != nil {
				return derrors.Wrap(err, derrors.CodeInternal, "failed to attach document to check")
			}
			if err := s.transition(ctx, open.ID, models.StatusInitiating, models.StatusPending, ""); err != nil {
				return err
			}
			s.logger.InfoContext(ctx, "document pair completed",
				"check", open.ID.String(),
				"document", doc.ID.String(),
			)
			return s.dispatch(ctx, doc.IdentityID)
		}
	}

	status := models.StatusPending
	if mapping.Side != "" {
		status = models.StatusInitiating
	}
	now := time.Now()
	check := &models.Check{
		ID:          id.NewCheckID(),
		TenantID:    tenant.ID,
		IdentityID:  doc.IdentityID,
		Status:      status,
		DocumentIDs: []id.DocumentID{doc.ID},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.checks.Create(ctx, check); err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "failed to create check")
	}
	s.logger.InfoContext(ctx, "check opened",
		"check", check.ID.String(),
		"status", string(status),
	)
	return s.dispatch(ctx, doc.IdentityID)
}

// findPairing returns an open check holding the opposite face of the same
// provider document type, or nil.
func (s *Service) findPairing(ctx context.Context, identityID id.IdentityID, mapping *documentmodels.Mapping) (*models.Check, error) {
	open, err := s.checks.ListByIdentityAndStatus(ctx, identityID, models.StatusInitiating)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to list open checks")
	}
	for _, check := range open {
		docs, err := s.docs.ListByIDs(ctx, check.DocumentIDs)
		if err != nil {
			return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to load check documents")
		}
		for _, attached := range docs {
			attachedMapping, err := s.mappings.FindByID(ctx, attached.MappingID)
			if err != nil {
				return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to load document type mapping")
			}
			if mapping.PairsWith(attachedMapping) {
				return check, nil
			}
		}
	}
	return nil, nil
}

// Generate creates the check on the provider. Entry points are the
// scheduled task after dispatch and its retries, so every path must
// converge: a terminal or still-initiating check is left alone, a check
// that already has a provider id is already running, and a pending check
// yields if another check of the identity occupies the processing slot.
func (s *Service) Generate(ctx context.Context, tenant *tenantmodels.Tenant, checkID id.CheckID) error {
	peek, err := s.findCheck(ctx, checkID)
	if err != nil {
		return err
	}
	release := s.locks.Acquire(peek.IdentityID.String())
	defer release()

	check, err := s.findCheck(ctx, checkID)
	if err != nil {
		return err
	}
	if check.Status.Terminal() || check.Status == models.StatusInitiating || check.ProviderID != "" {
		return nil
	}
	if check.Status == models.StatusPending {
		processing, err := s.checks.ListByIdentityAndStatus(ctx, check.IdentityID, models.StatusProcessing)
		if err != nil {
			return derrors.Wrap(err, derrors.CodeInternal, "failed to list processing checks")
		}
		if len(processing) > 0 {
			// The slot is occupied; evaluation of the running check will
			// re-dispatch this one.
			return nil
		}
	}

	// Preconditions run before the check takes the processing slot. A
	// terminal failure here leaves the check pending; a check stranded in
	// processing would hold the identity's slot forever.
	gen, err := s.prepareGeneration(ctx, tenant, check)
	if err != nil {
		return err
	}

	if check.Status == models.StatusPending {
		if err := s.transition(ctx, check.ID, models.StatusPending, models.StatusProcessing, ""); err != nil {
			return err
		}
	}
	// Status is processing with no provider id: either the transition above
	// or a crashed earlier attempt. Create the remote check now.
	return s.generateRemote(ctx, tenant, check, gen)
}

// generation carries the validated inputs for one remote check creation.
type generation struct {
	provider       providerclient.API
	applicantID    string
	docs           []*documentmodels.Document
	providerDocIDs []string
}

func (s *Service) prepareGeneration(ctx context.Context, tenant *tenantmodels.Tenant, check *models.Check) (*generation, error) {
	provider, err := s.gate.ProviderFor(tenant)
	if err != nil {
		return nil, err
	}
	identity, err := s.identities.Find(ctx, check.IdentityID)
	if err != nil {
		return nil, err
	}
	if !identity.HasApplicant() {
		return nil, derrors.New(derrors.CodeInvariantViolation, "check references identity without applicant")
	}

	docs, err := s.docs.ListByIDs(ctx, check.DocumentIDs)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to load check documents")
	}
	providerDocIDs := make([]string, 0, len(docs))
	for _, doc := range docs {
		if !doc.Uploaded() {
			return nil, derrors.Newf(derrors.CodeInvariantViolation, "check references unuploaded document %s", doc.ID)
		}
		providerDocIDs = append(providerDocIDs, doc.ProviderID)
	}
	return &generation{
		provider:       provider,
		applicantID:    identity.ApplicantID,
		docs:           docs,
		providerDocIDs: providerDocIDs,
	}, nil
}

func (s *Service) generateRemote(ctx context.Context, tenant *tenantmodels.Tenant, check *models.Check, gen *generation) error {
	remote, err := gen.provider.CreateCheck(ctx, providerclient.CheckRequest{
		ApplicantID: gen.applicantID,
		ReportNames: []string{providerclient.ReportNameDocument},
		DocumentIDs: stringsutil.DedupeAndTrim(gen.providerDocIDs),
	})
	if err != nil {
		return derrors.Wrap(err, derrors.CodeUnavailable, "failed to create provider check")
	}

	if err := s.checks.SetProviderID(ctx, check.ID, remote.ID); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			// A concurrent attempt won; its remote check stands.
			return nil
		}
		return derrors.Wrap(err, derrors.CodeInternal, "failed to store provider check id")
	}
	check.ProviderID = remote.ID

	for _, doc := range gen.docs {
		patch := platformclient.DocumentPatch{Status: string(documentmodels.PlatformStatusPending)}
		if err := s.platform.PatchDocument(ctx, tenant.AdminToken, doc.PlatformID, patch); err != nil {
			return derrors.Wrap(err, derrors.CodeUnavailable, "failed to mark platform document pending")
		}
	}

	s.metrics.ChecksGenerated.Inc()
	s.logger.InfoContext(ctx, "check generated",
		"check", check.ID.String(),
		"provider_check", remote.ID,
	)
	return nil
}

// Evaluate resolves a provider check notification into a terminal local
// status and fans the verdict out to the platform documents. Redeliveries
// after the check went terminal are a no-op.
func (s *Service) Evaluate(ctx context.Context, tenant *tenantmodels.Tenant, providerCheckID string) error {
	peek, err := s.checks.FindByProviderID(ctx, providerCheckID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return derrors.Newf(derrors.CodeNotFound, "no check for provider id %q", providerCheckID)
	}
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "failed to look up check")
	}
	release := s.locks.Acquire(peek.IdentityID.String())
	defer release()

	check, err := s.findCheck(ctx, peek.ID)
	if err != nil {
		return err
	}
	if check.Status.Terminal() {
		return nil
	}

	provider, err := s.gate.ProviderFor(tenant)
	if err != nil {
		return err
	}
	remote, err := provider.GetCheck(ctx, providerCheckID)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeUnavailable, "failed to fetch provider check")
	}

	switch remote.Status {
	case providerclient.RemoteCheckWithdrawn:
		return s.fail(ctx, check, "withdrawn by provider")
	case providerclient.RemoteCheckComplete:
		return s.complete(ctx, tenant, check, remote)
	default:
		return derrors.Newf(derrors.CodeNotReady, "provider check %q still %s", providerCheckID, remote.Status)
	}
}

func (s *Service) complete(ctx context.Context, tenant *tenantmodels.Tenant, check *models.Check, remote providerclient.RemoteCheck) error {
	provider, err := s.gate.ProviderFor(tenant)
	if err != nil {
		return err
	}

	reports, err := provider.ListReports(ctx, check.ProviderID)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeUnavailable, "failed to fetch provider reports")
	}
	var docReport *providerclient.Report
	for i := range reports {
		if reports[i].Name == providerclient.ReportNameDocument {
			docReport = &reports[i]
			break
		}
	}
	if docReport == nil || docReport.Status != providerclient.ReportStatusComplete {
		return s.completeWithoutVerdict(ctx, check, remote, docReport)
	}

	result := docReport.Result
	platformStatus, err := models.PlatformStatusForResult(result)
	if err != nil {
		// An unrecognized verdict cannot be relayed; fail the check so the
		// identity's queue keeps moving.
		s.logger.ErrorContext(ctx, "unmappable provider result",
			"check", check.ID.String(),
			"result", result,
		)
		return s.fail(ctx, check, result)
	}

	docs, err := s.docs.ListByIDs(ctx, check.DocumentIDs)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "failed to load check documents")
	}
	for _, doc := range docs {
		patch := platformclient.DocumentPatch{
			Status:   string(platformStatus),
			Metadata: map[string]string{"verisync_check_result": result},
		}
		if err := s.platform.PatchDocument(ctx, tenant.AdminToken, doc.PlatformID, patch); err != nil {
			return derrors.Wrap(err, derrors.CodeUnavailable, "failed to push verdict to platform")
		}
	}

	if err := s.transition(ctx, check.ID, check.Status, models.StatusComplete, result); err != nil {
		return err
	}
	s.metrics.ChecksEvaluated.WithLabelValues(string(models.StatusComplete)).Inc()
	s.logger.InfoContext(ctx, "check evaluated",
		"check", check.ID.String(),
		"result", result,
		"document_status", string(platformStatus),
	)
	return s.dispatch(ctx, check.IdentityID)
}

// completeWithoutVerdict persists the terminal status of a completed check
// whose document report has not produced a result. No document status is
// pushed to the platform; the gap is logged instead of being papered over
// with the check-level result.
func (s *Service) completeWithoutVerdict(ctx context.Context, check *models.Check, remote providerclient.RemoteCheck, docReport *providerclient.Report) error {
	if docReport == nil {
		s.logger.WarnContext(ctx, "completed check has no document report",
			"check", check.ID.String(),
		)
	} else {
		s.logger.WarnContext(ctx, "document report not complete on completed check",
			"check", check.ID.String(),
			"report_status", docReport.Status,
		)
	}
	if err := s.transition(ctx, check.ID, check.Status, models.StatusComplete, remote.Result); err != nil {
		return err
	}
	s.metrics.ChecksEvaluated.WithLabelValues(string(models.StatusComplete)).Inc()
	return s.dispatch(ctx, check.IdentityID)
}

func (s *Service) fail(ctx context.Context, check *models.Check, reason string) error {
	if err := s.transition(ctx, check.ID, check.Status, models.StatusFailed, reason); err != nil {
		return err
	}
	s.metrics.ChecksEvaluated.WithLabelValues(string(models.StatusFailed)).Inc()
	s.logger.InfoContext(ctx, "check failed",
		"check", check.ID.String(),
		"reason", reason,
	)
	return s.dispatch(ctx, check.IdentityID)
}

// dispatch moves the identity's queue: if nothing is processing and a check
// is pending, schedule generation of the oldest pending one. Callers hold
// the identity lock.
func (s *Service) dispatch(ctx context.Context, identityID id.IdentityID) error {
	processing, err := s.checks.ListByIdentityAndStatus(ctx, identityID, models.StatusProcessing)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "failed to list processing checks")
	}
	if len(processing) > 0 {
		return nil
	}
	pending, err := s.checks.ListByIdentityAndStatus(ctx, identityID, models.StatusPending)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "failed to list pending checks")
	}
	if len(pending) == 0 {
		return nil
	}
	task := scheduler.Task{
		Kind:    scheduler.KindCheckGenerate,
		Ref:     pending[0].ID.String(),
		Attempt: 1,
	}
	if err := s.queue.Enqueue(ctx, task, 0); err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "failed to schedule check generation")
	}
	return nil
}

// Find returns a check by id.
func (s *Service) Find(ctx context.Context, checkID id.CheckID) (*models.Check, error) {
	return s.findCheck(ctx, checkID)
}

func (s *Service) findCheck(ctx context.Context, checkID id.CheckID) (*models.Check, error) {
	check, err := s.checks.FindByID(ctx, checkID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, derrors.Wrap(err, derrors.CodeNotFound, "check not found")
	}
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to load check")
	}
	return check, nil
}

func (s *Service) transition(ctx context.Context, checkID id.CheckID, from, to models.Status, result string) error {
	err := s.checks.UpdateStatus(ctx, checkID, from, to, result)
	if errors.Is(err, sentinel.ErrInvalidState) {
		return derrors.Wrapf(err, derrors.CodeConflict, "check %s moved out of %s concurrently", checkID, from)
	}
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "failed to update check status")
	}
	return nil
}
