// Package store persists checks and their document attachments.
package store

import (
	"context"

	"verisync/internal/check/models"
	id "verisync/pkg/domain"
)

// Store is the persistence contract for checks.
//
// SetProviderID returns sentinel.ErrInvalidState when a provider id is
// already assigned. UpdateStatus returns sentinel.ErrInvalidState when the
// stored status does not match the expected one, which makes transitions
// compare-and-swap. ListByIdentityAndStatus returns checks oldest first.
type Store interface {
	Create(ctx context.Context, check *models.Check) error
	FindByID(ctx context.Context, checkID id.CheckID) (*models.Check, error)
	FindByProviderID(ctx context.Context, providerID string) (*models.Check, error)
	// FindByDocumentID returns the most recent check the document is
	// attached to.
	FindByDocumentID(ctx context.Context, docID id.DocumentID) (*models.Check, error)
	ListByIdentityAndStatus(ctx context.Context, identityID id.IdentityID, status models.Status) ([]*models.Check, error)
	AttachDocument(ctx context.Context, checkID id.CheckID, docID id.DocumentID) error
	SetProviderID(ctx context.Context, checkID id.CheckID, providerID string) error
	UpdateStatus(ctx context.Context, checkID id.CheckID, from, to models.Status, result string) error
}
