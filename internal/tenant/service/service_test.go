package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"verisync/internal/platformclient"
	"verisync/internal/providerclient"
	"verisync/internal/tenant/store"
	derrors "verisync/pkg/domain-errors"
)

// =============================================================================
// Fakes
// =============================================================================

type fakePlatform struct {
	platformclient.API

	user          platformclient.AdminUser
	authErr       error
	registrations []platformclient.WebhookRegistration
}

func (f *fakePlatform) AuthAdmin(context.Context, string) (platformclient.AdminUser, error) {
	if f.authErr != nil {
		return platformclient.AdminUser{}, f.authErr
	}
	return f.user, nil
}

func (f *fakePlatform) GetCompany(context.Context, string) (platformclient.Company, error) {
	return platformclient.Company{ID: f.user.Company, Name: "Test Co"}, nil
}

func (f *fakePlatform) RegisterWebhook(_ context.Context, _ string, reg platformclient.WebhookRegistration) error {
	f.registrations = append(f.registrations, reg)
	return nil
}

type fakeProviderAPI struct {
	providerclient.API

	key      string
	deleted  []string
	webhooks []string
}

func (f *fakeProviderAPI) RegisterWebhook(_ context.Context, url string) (providerclient.WebhookRegistration, error) {
	f.webhooks = append(f.webhooks, url)
	return providerclient.WebhookRegistration{ID: "wh-" + f.key, URL: url, Token: "token-" + f.key}, nil
}

func (f *fakeProviderAPI) DeleteWebhook(_ context.Context, webhookID string) error {
	f.deleted = append(f.deleted, webhookID)
	return nil
}

type fakeFactory struct {
	clients map[string]*fakeProviderAPI
}

func (f *fakeFactory) ForKey(apiKey string) providerclient.API {
	if client, ok := f.clients[apiKey]; ok {
		return client
	}
	client := &fakeProviderAPI{key: apiKey}
	f.clients[apiKey] = client
	return client
}

// =============================================================================
// Tenant Service Test Suite
// =============================================================================

type TenantServiceSuite struct {
	suite.Suite
	store    *store.InMemory
	platform *fakePlatform
	factory  *fakeFactory
	service  *Service
}

func TestTenantServiceSuite(t *testing.T) {
	suite.Run(t, new(TenantServiceSuite))
}

func (s *TenantServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.platform = &fakePlatform{user: platformclient.AdminUser{
		ID:      "admin-1",
		Company: "company-1",
		Groups:  []string{"admin"},
	}}
	s.factory = &fakeFactory{clients: make(map[string]*fakeProviderAPI)}
	s.service = New(s.store, s.platform, s.factory, "https://verisync.example", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (s *TenantServiceSuite) TestActivate() {
	ctx := context.Background()

	s.Run("creates the tenant and registers platform webhooks", func() {
		tenant, err := s.service.Activate(ctx, "admin-token")
		s.Require().NoError(err)
		s.Equal("company-1", tenant.Identifier)
		s.True(tenant.Active)
		s.NotEmpty(tenant.Secret)
		s.False(tenant.Configured()) // no provider credential yet

		s.Require().Len(s.platform.registrations, 2)
		events := []string{s.platform.registrations[0].Event, s.platform.registrations[1].Event}
		s.ElementsMatch([]string{"document.create", "document.update"}, events)
		for _, reg := range s.platform.registrations {
			s.Equal("https://verisync.example/webhook", reg.URL)
			s.Equal(tenant.Secret, reg.Secret)
		}
	})

	s.Run("re-activation keeps the tenant and replaces the admin token", func() {
		first, err := s.service.GetByIdentifier(ctx, "company-1")
		s.Require().NoError(err)

		tenant, err := s.service.Activate(ctx, "new-admin-token")
		s.Require().NoError(err)
		s.Equal(first.ID, tenant.ID)
		s.Equal(first.Secret, tenant.Secret)
		s.Equal("new-admin-token", tenant.AdminToken)
	})

	s.Run("non-admin user is rejected", func() {
		s.platform.user.Groups = []string{"user"}
		defer func() { s.platform.user.Groups = []string{"admin"} }()

		_, err := s.service.Activate(ctx, "admin-token")
		s.True(derrors.HasCode(err, derrors.CodeValidation))
	})
}

func (s *TenantServiceSuite) TestDeactivate() {
	ctx := context.Background()
	tenant, err := s.service.Activate(ctx, "admin-token")
	s.Require().NoError(err)

	s.Run("deactivation keeps the row but clears the admin token", func() {
		s.Require().NoError(s.service.Deactivate(ctx, "admin-token", false))

		stored, err := s.service.Get(ctx, tenant.ID)
		s.Require().NoError(err)
		s.False(stored.Active)
		s.Empty(stored.AdminToken)
	})

	s.Run("inactive tenant fails admin authentication", func() {
		_, err := s.service.AuthenticateAdmin(ctx, "admin-token")
		s.Error(err)
	})

	s.Run("purge removes the tenant", func() {
		_, err := s.service.Activate(ctx, "admin-token")
		s.Require().NoError(err)
		s.Require().NoError(s.service.Deactivate(ctx, "admin-token", true))

		_, err = s.service.GetByIdentifier(ctx, "company-1")
		s.True(derrors.HasCode(err, derrors.CodeNotFound))
	})
}

func (s *TenantServiceSuite) TestRotateProviderCredential() {
	ctx := context.Background()
	tenant, err := s.service.Activate(ctx, "admin-token")
	s.Require().NoError(err)

	s.Run("first rotation registers the provider webhook", func() {
		updated, err := s.service.RotateProviderCredential(ctx, tenant.ID, "key-1")
		s.Require().NoError(err)
		s.Equal("key-1", updated.ProviderAPIKey)
		s.Equal("wh-key-1", updated.ProviderWebhookID)
		s.Equal("token-key-1", updated.ProviderWebhookToken)
		s.True(updated.Configured())

		client := s.factory.clients["key-1"]
		s.Require().NotNil(client)
		s.Equal([]string{"https://verisync.example/webhook/provider/company-1"}, client.webhooks)
	})

	s.Run("re-rotation removes the old webhook under the old key", func() {
		_, err := s.service.RotateProviderCredential(ctx, tenant.ID, "key-2")
		s.Require().NoError(err)

		old := s.factory.clients["key-1"]
		s.Equal([]string{"wh-key-1"}, old.deleted)
	})

	s.Run("empty key is rejected", func() {
		_, err := s.service.RotateProviderCredential(ctx, tenant.ID, "")
		s.True(derrors.HasCode(err, derrors.CodeInvalidInput))
	})
}

func (s *TenantServiceSuite) TestProviderFor() {
	ctx := context.Background()
	tenant, err := s.service.Activate(ctx, "admin-token")
	s.Require().NoError(err)

	s.Run("unconfigured tenant is gated", func() {
		_, err := s.service.ProviderFor(tenant)
		s.True(derrors.HasCode(err, derrors.CodeConfiguration))
		s.False(derrors.Retryable(err))
	})

	s.Run("configured tenant gets a provider client", func() {
		configured, err := s.service.RotateProviderCredential(ctx, tenant.ID, "key-1")
		s.Require().NoError(err)

		provider, err := s.service.ProviderFor(configured)
		s.Require().NoError(err)
		s.NotNil(provider)
	})

	s.Run("inactive tenant is gated even with credentials", func() {
		configured, err := s.service.Get(ctx, tenant.ID)
		s.Require().NoError(err)
		configured.Active = false

		_, err = s.service.ProviderFor(configured)
		s.True(derrors.HasCode(err, derrors.CodeConfiguration))
	})
}
