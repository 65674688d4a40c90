// Package store persists webhook delivery records.
package store

import (
	"context"

	"verisync/internal/webhook/models"
	id "verisync/pkg/domain"
)

// Store is the persistence contract for webhook records.
//
// Create returns sentinel.ErrDuplicate when (tenant, origin, identifier) is
// taken; that uniqueness is the idempotency barrier for inbound deliveries.
type Store interface {
	Create(ctx context.Context, record *models.Record) error
	FindByID(ctx context.Context, recordID id.WebhookID) (*models.Record, error)
	Update(ctx context.Context, record *models.Record) error
}
