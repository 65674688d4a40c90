// Package store persists documents and document type mappings.
package store

import (
	"context"

	"verisync/internal/document/models"
	id "verisync/pkg/domain"
)

// Store is the persistence contract for documents.
//
// Create returns sentinel.ErrDuplicate when (identity, platform id) is
// taken. SetProviderID returns sentinel.ErrInvalidState when a provider id
// is already assigned and sentinel.ErrDuplicate when the provider id is in
// use by another document of the same identity.
type Store interface {
	Create(ctx context.Context, doc *models.Document) error
	FindByID(ctx context.Context, docID id.DocumentID) (*models.Document, error)
	FindByIdentityAndPlatformID(ctx context.Context, identityID id.IdentityID, platformID string) (*models.Document, error)
	SetProviderID(ctx context.Context, docID id.DocumentID, providerID string) error
	ListByIDs(ctx context.Context, docIDs []id.DocumentID) ([]*models.Document, error)
}

// MappingStore is the persistence contract for document type mappings.
//
// Create and Update return sentinel.ErrDuplicate when the mapping violates
// the per-tenant uniqueness rules on (platform type, side).
type MappingStore interface {
	Create(ctx context.Context, mapping *models.Mapping) error
	FindByID(ctx context.Context, mappingID id.MappingID) (*models.Mapping, error)
	FindByTenantAndPlatformType(ctx context.Context, tenantID id.TenantID, platformType string) ([]*models.Mapping, error)
	ListByTenant(ctx context.Context, tenantID id.TenantID) ([]*models.Mapping, error)
	Update(ctx context.Context, mapping *models.Mapping) error
	Delete(ctx context.Context, mappingID id.MappingID) error
}
