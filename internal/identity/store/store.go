// Package store persists identities.
package store

import (
	"context"

	"verisync/internal/identity/models"
	id "verisync/pkg/domain"
)

// Store is the persistence contract for identities.
//
// Create returns sentinel.ErrDuplicate when (tenant, platform id) is taken.
// SetApplicantID returns sentinel.ErrInvalidState when an applicant id is
// already assigned and sentinel.ErrDuplicate when the applicant id is in use
// by another identity.
type Store interface {
	Create(ctx context.Context, identity *models.Identity) error
	FindByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error)
	FindByPlatformID(ctx context.Context, tenantID id.TenantID, platformID string) (*models.Identity, error)
	SetApplicantID(ctx context.Context, identityID id.IdentityID, applicantID string) error
}
