// Package service owns the document lifecycle: registering platform
// documents, mirroring their files to the provider and managing the
// document type mappings that make the translation possible.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"verisync/internal/document/models"
	"verisync/internal/document/store"
	identitymodels "verisync/internal/identity/models"
	"verisync/internal/platform/metrics"
	"verisync/internal/platformclient"
	"verisync/internal/providerclient"
	tenantmodels "verisync/internal/tenant/models"
	id "verisync/pkg/domain"
	derrors "verisync/pkg/domain-errors"
	"verisync/pkg/platform/sentinel"
)

// IdentityService resolves platform users and provisions applicants.
// Implemented by the identity service.
type IdentityService interface {
	Resolve(ctx context.Context, tenantID id.TenantID, platformUserID string) (*identitymodels.Identity, error)
	Find(ctx context.Context, identityID id.IdentityID) (*identitymodels.Identity, error)
	EnsureApplicant(ctx context.Context, tenant *tenantmodels.Tenant, identity *identitymodels.Identity) error
}

// ProviderGate hands out a provider capability for a configured tenant.
type ProviderGate interface {
	ProviderFor(tenant *tenantmodels.Tenant) (providerclient.API, error)
}

// Attacher feeds an uploaded document into the check lifecycle.
// Implemented by the check service.
type Attacher interface {
	Attach(ctx context.Context, tenant *tenantmodels.Tenant, doc *models.Document) error
}

type Service struct {
	docs       store.Store
	mappings   store.MappingStore
	identities IdentityService
	platform   platformclient.API
	gate       ProviderGate
	attacher   Attacher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func New(
	docs store.Store,
	mappings store.MappingStore,
	identities IdentityService,
	platform platformclient.API,
	gate ProviderGate,
	attacher Attacher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		docs:       docs,
		mappings:   mappings,
		identities: identities,
		platform:   platform,
		gate:       gate,
		attacher:   attacher,
		metrics:    m,
		logger:     logger,
	}
}

// Register records a platform document locally and resolves its identity
// and type mapping. Re-registering the same platform document returns the
// existing record, so webhook redeliveries converge.
//
// A platform type with no mapping is a tenant setup error, not a transient
// fault: the error is terminal.
func (s *Service) Register(ctx context.Context, tenant *tenantmodels.Tenant, platformUserID, platformDocID, platformType string) (*models.Document, error) {
	if platformDocID == "" {
		return nil, derrors.New(derrors.CodeValidation, "platform document id is required")
	}

	identity, err := s.identities.Resolve(ctx, tenant.ID, platformUserID)
	if err != nil {
		return nil, err
	}

	mapping, err := s.mappingForPlatformType(ctx, tenant.ID, platformType)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	doc := &models.Document{
		ID:         id.NewDocumentID(),
		TenantID:   tenant.ID,
		IdentityID: identity.ID,
		PlatformID: platformDocID,
		MappingID:  mapping.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.docs.Create(ctx, doc)
	if errors.Is(err, sentinel.ErrDuplicate) {
		return s.docs.FindByIdentityAndPlatformID(ctx, identity.ID, platformDocID)
	}
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to create document")
	}
	return doc, nil
}

// Upload mirrors the document's file to the provider and hands it to the
// check lifecycle. Safe to retry: a document that already has a provider id
// skips straight to attachment.
func (s *Service) Upload(ctx context.Context, tenant *tenantmodels.Tenant, docID id.DocumentID) error {
	doc, err := s.docs.FindByID(ctx, docID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return derrors.Wrap(err, derrors.CodeNotFound, "document not found")
	}
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "failed to load document")
	}

	if !doc.Uploaded() {
		if err := s.upload(ctx, tenant, doc); err != nil {
			return err
		}
	}
	return s.attacher.Attach(ctx, tenant, doc)
}

func (s *Service) upload(ctx context.Context, tenant *tenantmodels.Tenant, doc *models.Document) error {
	provider, err := s.gate.ProviderFor(tenant)
	if err != nil {
		return err
	}

	identity, err := s.identities.Find(ctx, doc.IdentityID)
	if err != nil {
		return err
	}
	if err := s.identities.EnsureApplicant(ctx, tenant, identity); err != nil {
		return err
	}

	mapping, err := s.mappings.FindByID(ctx, doc.MappingID)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "failed to load document type mapping")
	}

	platformDoc, err := s.platform.GetDocument(ctx, tenant.AdminToken, doc.PlatformID)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeUnavailable, "failed to fetch platform document")
	}
	file, fileName, err := s.platform.DownloadFile(ctx, platformDoc.FileURL)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeUnavailable, "failed to download document file")
	}

	remote, err := provider.UploadDocument(ctx, providerclient.DocumentUpload{
		ApplicantID: identity.ApplicantID,
		Type:        string(mapping.ProviderType),
		Side:        string(mapping.Side),
		FileName:    fileName,
		File:        file,
	})
	if err != nil {
		return derrors.Wrap(err, derrors.CodeUnavailable, "failed to upload document to provider")
	}

	if err := s.docs.SetProviderID(ctx, doc.ID, remote.ID); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			// A concurrent retry uploaded first; its provider id stands.
			refreshed, err := s.docs.FindByID(ctx, doc.ID)
			if err != nil {
				return derrors.Wrap(err, derrors.CodeInternal, "failed to re-read document")
			}
			*doc = *refreshed
			return nil
		}
		return derrors.Wrap(err, derrors.CodeInternal, "failed to store provider document id")
	}
	doc.ProviderID = remote.ID

	patch := platformclient.DocumentPatch{
		Metadata: map[string]string{"verisync_document_id": remote.ID},
	}
	if err := s.platform.PatchDocument(ctx, tenant.AdminToken, doc.PlatformID, patch); err != nil {
		return derrors.Wrap(err, derrors.CodeUnavailable, "failed to push provider id to platform")
	}

	s.metrics.DocumentsUploaded.Inc()
	s.logger.InfoContext(ctx, "document uploaded",
		"document", doc.ID.String(),
		"provider_document", remote.ID,
	)
	return nil
}

func (s *Service) mappingForPlatformType(ctx context.Context, tenantID id.TenantID, platformType string) (*models.Mapping, error) {
	mappings, err := s.mappings.FindByTenantAndPlatformType(ctx, tenantID, platformType)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to look up document type mapping")
	}
	switch len(mappings) {
	case 0:
		return nil, derrors.Newf(derrors.CodeNotFound, "no document type mapping for %q", platformType)
	case 1:
		return mappings[0], nil
	default:
		return nil, derrors.Newf(derrors.CodeValidation, "ambiguous document type mapping for %q", platformType)
	}
}

// Find returns a document by id.
func (s *Service) Find(ctx context.Context, docID id.DocumentID) (*models.Document, error) {
	doc, err := s.docs.FindByID(ctx, docID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, derrors.Wrap(err, derrors.CodeNotFound, "document not found")
	}
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to load document")
	}
	return doc, nil
}

// Mapping returns a document type mapping by id.
func (s *Service) Mapping(ctx context.Context, mappingID id.MappingID) (*models.Mapping, error) {
	mapping, err := s.mappings.FindByID(ctx, mappingID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, derrors.Wrap(err, derrors.CodeNotFound, "document type mapping not found")
	}
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to load document type mapping")
	}
	return mapping, nil
}

// ListMappings returns all mappings for a tenant.
func (s *Service) ListMappings(ctx context.Context, tenantID id.TenantID) ([]*models.Mapping, error) {
	mappings, err := s.mappings.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to list document type mappings")
	}
	return mappings, nil
}

// CreateMapping validates and stores a new document type mapping.
func (s *Service) CreateMapping(ctx context.Context, mapping *models.Mapping) error {
	if err := mapping.Validate(); err != nil {
		return err
	}
	mapping.ID = id.NewMappingID()
	now := time.Now()
	mapping.CreatedAt = now
	mapping.UpdatedAt = now
	err := s.mappings.Create(ctx, mapping)
	if errors.Is(err, sentinel.ErrDuplicate) {
		return derrors.Newf(derrors.CodeConflict, "mapping for %q conflicts with an existing one", mapping.PlatformType)
	}
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "failed to create document type mapping")
	}
	return nil
}

// UpdateMapping validates and stores changes to an existing mapping.
func (s *Service) UpdateMapping(ctx context.Context, mapping *models.Mapping) error {
	if err := mapping.Validate(); err != nil {
		return err
	}
	err := s.mappings.Update(ctx, mapping)
	if errors.Is(err, sentinel.ErrNotFound) {
		return derrors.Wrap(err, derrors.CodeNotFound, "document type mapping not found")
	}
	if errors.Is(err, sentinel.ErrDuplicate) {
		return derrors.Newf(derrors.CodeConflict, "mapping for %q conflicts with an existing one", mapping.PlatformType)
	}
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "failed to update document type mapping")
	}
	return nil
}

// DeleteMapping removes a mapping.
func (s *Service) DeleteMapping(ctx context.Context, mappingID id.MappingID) error {
	err := s.mappings.Delete(ctx, mappingID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return derrors.Wrap(err, derrors.CodeNotFound, "document type mapping not found")
	}
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "failed to delete document type mapping")
	}
	return nil
}
