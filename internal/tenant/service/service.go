// Package service orchestrates tenant lifecycle: activation against the
// platform, deactivation, provider credential rotation, and the
// configuration gate that hands out per-tenant provider capabilities.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"verisync/internal/platformclient"
	"verisync/internal/providerclient"
	"verisync/internal/tenant/models"
	"verisync/internal/tenant/store"
	id "verisync/pkg/domain"
	derrors "verisync/pkg/domain-errors"
	"verisync/pkg/platform/sentinel"
)

// Platform webhook events this service subscribes to on activation.
var platformEvents = []string{"document.create", "document.update"}

type Service struct {
	tenants  store.Store
	platform platformclient.API
	provider providerclient.Factory
	baseURL  string
	logger   *slog.Logger
}

func New(tenants store.Store, platform platformclient.API, provider providerclient.Factory, baseURL string, logger *slog.Logger) *Service {
	return &Service{
		tenants:  tenants,
		platform: platform,
		provider: provider,
		baseURL:  baseURL,
		logger:   logger,
	}
}

// Activate verifies the admin token against the platform, creates or
// reactivates the tenant, and registers the platform webhooks this service
// depends on. Re-activation with a new admin simply replaces the stored
// token.
func (s *Service) Activate(ctx context.Context, token string) (*models.Tenant, error) {
	if _, err := s.verifyAdmin(ctx, token); err != nil {
		return nil, err
	}
	company, err := s.platform.GetCompany(ctx, token)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeValidation, "invalid company")
	}

	now := time.Now()
	tenant, err := s.tenants.FindByIdentifier(ctx, company.ID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		tenant, err = models.NewTenant(id.NewTenantID(), company.ID, uuid.NewString(), token, now)
		if err != nil {
			return nil, err
		}
		if err := s.tenants.Create(ctx, tenant); err != nil {
			if errors.Is(err, sentinel.ErrDuplicate) {
				return nil, derrors.New(derrors.CodeConflict, "tenant already exists")
			}
			return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to create tenant")
		}
	case err != nil:
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to look up tenant")
	default:
		tenant.ApplyReactivation(token, now)
		if err := s.tenants.Update(ctx, tenant); err != nil {
			return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to reactivate tenant")
		}
	}

	for _, event := range platformEvents {
		reg := platformclient.WebhookRegistration{
			URL:    s.baseURL + "/webhook",
			Event:  event,
			Secret: tenant.Secret,
		}
		if err := s.platform.RegisterWebhook(ctx, token, reg); err != nil {
			return nil, derrors.Wrap(err, derrors.CodeUnavailable, "unable to configure event webhooks")
		}
	}

	s.logger.InfoContext(ctx, "tenant activated", "tenant", tenant.Identifier)
	return tenant, nil
}

// Deactivate marks the tenant inactive, or deletes it entirely when purge is
// set.
func (s *Service) Deactivate(ctx context.Context, token string, purge bool) error {
	user, err := s.verifyAdmin(ctx, token)
	if err != nil {
		return err
	}
	tenant, err := s.tenants.FindByIdentifier(ctx, user.Company)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return derrors.New(derrors.CodeValidation, "inactive company")
		}
		return derrors.Wrap(err, derrors.CodeInternal, "failed to look up tenant")
	}

	if purge {
		if err := s.tenants.Delete(ctx, tenant.ID); err != nil {
			return derrors.Wrap(err, derrors.CodeInternal, "failed to purge tenant")
		}
		s.logger.InfoContext(ctx, "tenant purged", "tenant", tenant.Identifier)
		return nil
	}

	tenant.ApplyDeactivation(time.Now())
	if err := s.tenants.Update(ctx, tenant); err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "failed to deactivate tenant")
	}
	s.logger.InfoContext(ctx, "tenant deactivated", "tenant", tenant.Identifier)
	return nil
}

// AuthenticateAdmin resolves the tenant behind an admin token for the admin
// HTTP surface.
func (s *Service) AuthenticateAdmin(ctx context.Context, token string) (*models.Tenant, error) {
	tenant, err := s.tenants.FindByAdminToken(ctx, token)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, derrors.New(derrors.CodeValidation, "invalid admin token")
		}
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to authenticate admin")
	}
	if !tenant.Active {
		return nil, derrors.New(derrors.CodeValidation, "tenant is inactive")
	}
	return tenant, nil
}

func (s *Service) Get(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	tenant, err := s.tenants.FindByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, derrors.New(derrors.CodeNotFound, "tenant not found")
		}
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to look up tenant")
	}
	return tenant, nil
}

func (s *Service) GetByIdentifier(ctx context.Context, identifier string) (*models.Tenant, error) {
	tenant, err := s.tenants.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, derrors.New(derrors.CodeNotFound, "tenant not found")
		}
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to look up tenant")
	}
	return tenant, nil
}

// RotateProviderCredential stores a new provider API key. The provider
// webhook registered under the old credential is deleted and a new one is
// registered with the new credential before the tenant row is written, so a
// tenant is never left holding a credential without a matching webhook.
func (s *Service) RotateProviderCredential(ctx context.Context, tenantID id.TenantID, apiKey string) (*models.Tenant, error) {
	if apiKey == "" {
		return nil, derrors.New(derrors.CodeInvalidInput, "provider api key cannot be empty")
	}
	tenant, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if tenant.ProviderWebhookID != "" && tenant.ProviderAPIKey != "" {
		old := s.provider.ForKey(tenant.ProviderAPIKey)
		if err := old.DeleteWebhook(ctx, tenant.ProviderWebhookID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return nil, derrors.Wrap(err, derrors.CodeUnavailable, "failed to remove previous provider webhook")
		}
	}

	next := s.provider.ForKey(apiKey)
	registration, err := next.RegisterWebhook(ctx, s.baseURL+"/webhook/provider/"+tenant.Identifier)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeUnavailable, "failed to register provider webhook")
	}

	tenant.ProviderAPIKey = apiKey
	tenant.ProviderWebhookID = registration.ID
	tenant.ProviderWebhookToken = registration.Token
	tenant.UpdatedAt = time.Now()
	if err := s.tenants.Update(ctx, tenant); err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to store provider credential")
	}

	s.logger.InfoContext(ctx, "provider credential rotated",
		"tenant", tenant.Identifier,
		"webhook_id", registration.ID,
	)
	return tenant, nil
}

// ProviderFor is the configuration gate: it returns a provider capability
// for the tenant, or a configuration error when credential, webhook
// registration, or the active flag is missing. Every provider-facing
// operation goes through here.
func (s *Service) ProviderFor(tenant *models.Tenant) (providerclient.API, error) {
	if !tenant.Configured() {
		return nil, derrors.Newf(derrors.CodeConfiguration,
			"tenant %s is not configured for provider calls", tenant.Identifier)
	}
	return s.provider.ForKey(tenant.ProviderAPIKey), nil
}

func (s *Service) verifyAdmin(ctx context.Context, token string) (platformclient.AdminUser, error) {
	if token == "" {
		return platformclient.AdminUser{}, derrors.New(derrors.CodeInvalidInput, "token is required")
	}
	user, err := s.platform.AuthAdmin(ctx, token)
	if err != nil {
		return platformclient.AdminUser{}, derrors.Wrap(err, derrors.CodeValidation, "invalid user")
	}
	if !user.IsAdmin() {
		return platformclient.AdminUser{}, derrors.New(derrors.CodeValidation, "invalid admin user")
	}
	return user, nil
}
