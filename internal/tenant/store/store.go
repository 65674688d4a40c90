// Package store persists tenants. Stores are pure I/O; the configuration
// gate and activation rules live in the service layer.
package store

import (
	"context"

	"verisync/internal/tenant/models"
	id "verisync/pkg/domain"
)

// Store is the persistence contract for tenants.
//
// Create returns sentinel.ErrDuplicate when the identifier is already taken.
// Find methods return sentinel.ErrNotFound when no tenant matches.
type Store interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
	FindByIdentifier(ctx context.Context, identifier string) (*models.Tenant, error)
	FindByAdminToken(ctx context.Context, token string) (*models.Tenant, error)
	Update(ctx context.Context, tenant *models.Tenant) error
	Delete(ctx context.Context, tenantID id.TenantID) error
}
