package models

import (
	"time"

	id "verisync/pkg/domain"
	derrors "verisync/pkg/domain-errors"
)

// Tenant is the aggregate root for a platform company using the service.
//
// Invariants:
//   - Identifier (the platform company id) is unique and immutable
//   - Secret authenticates inbound platform webhooks and never rotates
//     independently of the tenant record
//   - Configured() must hold before any provider-facing call is attempted
//   - Provider credential rotation re-registers the provider webhook in the
//     same transaction as the credential change
type Tenant struct {
	ID         id.TenantID `json:"id"`
	Identifier string      `json:"identifier"`
	Secret     string      `json:"secret"`
	AdminToken string      `json:"-"`
	Active     bool        `json:"active"`

	ProviderAPIKey       string `json:"-"`
	ProviderWebhookID    string `json:"provider_webhook_id,omitempty"`
	ProviderWebhookToken string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Configured reports whether the tenant can make provider calls: credential
// and webhook registration present, and the tenant active.
func (t *Tenant) Configured() bool {
	return t.Active &&
		t.ProviderAPIKey != "" &&
		t.ProviderWebhookID != "" &&
		t.ProviderWebhookToken != ""
}

func (t *Tenant) IsActive() bool { return t.Active }

// ApplyDeactivation transitions the tenant to inactive and clears the admin
// token so stale credentials cannot reactivate it.
func (t *Tenant) ApplyDeactivation(now time.Time) {
	t.Active = false
	t.AdminToken = ""
	t.UpdatedAt = now
}

// ApplyReactivation transitions the tenant back to active with a fresh admin
// token.
func (t *Tenant) ApplyReactivation(adminToken string, now time.Time) {
	t.Active = true
	t.AdminToken = adminToken
	t.UpdatedAt = now
}

func NewTenant(tenantID id.TenantID, identifier, secret, adminToken string, now time.Time) (*Tenant, error) {
	if identifier == "" {
		return nil, derrors.New(derrors.CodeInvalidInput, "tenant identifier cannot be empty")
	}
	if secret == "" {
		return nil, derrors.New(derrors.CodeInvalidInput, "tenant secret cannot be empty")
	}
	return &Tenant{
		ID:         tenantID,
		Identifier: identifier,
		Secret:     secret,
		AdminToken: adminToken,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}
