package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"verisync/internal/webhook/models"
	id "verisync/pkg/domain"
	"verisync/pkg/platform/sentinel"
)

const pgUniqueViolation = "23505"

// Postgres persists webhook records in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Create(ctx context.Context, record *models.Record) error {
	query := `
		INSERT INTO webhooks (id, tenant_id, origin, identifier, event, payload, completed, failed, tries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(record.ID), uuid.UUID(record.TenantID), string(record.Origin),
		record.Identifier, record.Event, record.Payload,
		record.Completed, record.Failed, record.Tries,
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("create webhook record: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, recordID id.WebhookID) (*models.Record, error) {
	query := `
		SELECT id, tenant_id, origin, identifier, event, payload, completed, failed, tries, created_at, updated_at
		FROM webhooks WHERE id = $1
	`
	var record models.Record
	var rawID, rawTenant uuid.UUID
	var origin string
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(recordID)).Scan(
		&rawID, &rawTenant, &origin, &record.Identifier, &record.Event, &record.Payload,
		&record.Completed, &record.Failed, &record.Tries,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find webhook record: %w", err)
	}
	record.ID = id.WebhookID(rawID)
	record.TenantID = id.TenantID(rawTenant)
	record.Origin = models.Origin(origin)
	return &record, nil
}

func (s *Postgres) Update(ctx context.Context, record *models.Record) error {
	query := `
		UPDATE webhooks SET completed = $2, failed = $3, tries = $4, updated_at = $5
		WHERE id = $1
	`
	now := time.Now()
	result, err := s.db.ExecContext(ctx, query,
		uuid.UUID(record.ID), record.Completed, record.Failed, record.Tries, now,
	)
	if err != nil {
		return fmt.Errorf("update webhook record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update webhook record rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	record.UpdatedAt = now
	return nil
}
