// Package service resolves platform users to identities and provisions
// provider applicants on first use.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"verisync/internal/identity/models"
	"verisync/internal/identity/store"
	"verisync/internal/platformclient"
	"verisync/internal/providerclient"
	tenantmodels "verisync/internal/tenant/models"
	id "verisync/pkg/domain"
	derrors "verisync/pkg/domain-errors"
	"verisync/pkg/platform/sentinel"
)

// ProviderGate hands out a provider capability for a configured tenant.
// Implemented by the tenant service.
type ProviderGate interface {
	ProviderFor(tenant *tenantmodels.Tenant) (providerclient.API, error)
}

type Service struct {
	identities store.Store
	platform   platformclient.API
	gate       ProviderGate
	logger     *slog.Logger
}

func New(identities store.Store, platform platformclient.API, gate ProviderGate, logger *slog.Logger) *Service {
	return &Service{identities: identities, platform: platform, gate: gate, logger: logger}
}

// Resolve looks up or lazily creates the identity for a platform user. The
// insert races benignly: on a duplicate the winner's row is fetched.
func (s *Service) Resolve(ctx context.Context, tenantID id.TenantID, platformUserID string) (*models.Identity, error) {
	if platformUserID == "" {
		return nil, derrors.New(derrors.CodeValidation, "platform user id is required")
	}

	identity, err := s.identities.FindByPlatformID(ctx, tenantID, platformUserID)
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to look up identity")
	}

	now := time.Now()
	identity = &models.Identity{
		ID:         id.NewIdentityID(),
		TenantID:   tenantID,
		PlatformID: platformUserID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.identities.Create(ctx, identity)
	if errors.Is(err, sentinel.ErrDuplicate) {
		return s.identities.FindByPlatformID(ctx, tenantID, platformUserID)
	}
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to create identity")
	}
	return identity, nil
}

// Find returns an identity by id.
func (s *Service) Find(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	identity, err := s.identities.FindByID(ctx, identityID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, derrors.Wrap(err, derrors.CodeNotFound, "identity not found")
	}
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to load identity")
	}
	return identity, nil
}

// EnsureApplicant creates the provider applicant for the identity if one
// does not exist yet, and pushes the applicant id back to the platform user
// as metadata. No-op when the applicant id is already set.
//
// Applicant creation is not idempotent on the provider side: a crash after
// the provider call but before the id is persisted orphans the provider
// resource. Accepted failure mode.
func (s *Service) EnsureApplicant(ctx context.Context, tenant *tenantmodels.Tenant, identity *models.Identity) error {
	if identity.HasApplicant() {
		return nil
	}

	provider, err := s.gate.ProviderFor(tenant)
	if err != nil {
		return err
	}

	user, err := s.platform.GetUser(ctx, tenant.AdminToken, identity.PlatformID)
	if err != nil {
		return derrors.Wrap(err, derrors.CodeUnavailable, "failed to fetch platform user")
	}

	applicant, err := provider.CreateApplicant(ctx, providerclient.ApplicantRequest{
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     user.Email,
	})
	if err != nil {
		return derrors.Wrap(err, derrors.CodeUnavailable, "failed to create provider applicant")
	}

	if err := s.identities.SetApplicantID(ctx, identity.ID, applicant.ID); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			// Another worker won the race; its applicant id stands and this
			// one is orphaned on the provider side.
			s.logger.WarnContext(ctx, "applicant already assigned, orphaning provider resource",
				"identity", identity.ID.String(),
				"applicant", applicant.ID,
			)
			refreshed, err := s.identities.FindByID(ctx, identity.ID)
			if err != nil {
				return derrors.Wrap(err, derrors.CodeInternal, "failed to re-read identity")
			}
			*identity = *refreshed
			return nil
		}
		return derrors.Wrap(err, derrors.CodeInternal, "failed to store applicant id")
	}
	identity.ApplicantID = applicant.ID

	patch := platformclient.UserPatch{
		Metadata: map[string]string{"verisync_applicant_id": applicant.ID},
	}
	if err := s.platform.PatchUser(ctx, tenant.AdminToken, identity.PlatformID, patch); err != nil {
		return derrors.Wrap(err, derrors.CodeUnavailable, "failed to push applicant id to platform")
	}

	s.logger.InfoContext(ctx, "applicant created",
		"identity", identity.ID.String(),
		"applicant", applicant.ID,
	)
	return nil
}
