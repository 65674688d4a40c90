package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"verisync/internal/tenant/models"
	id "verisync/pkg/domain"
	"verisync/pkg/platform/sentinel"
)

const pgUniqueViolation = "23505"

// Postgres persists tenants in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Create(ctx context.Context, tenant *models.Tenant) error {
	query := `
		INSERT INTO tenants (
			id, identifier, secret, admin_token, active,
			provider_api_key, provider_webhook_id, provider_webhook_token,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(tenant.ID), tenant.Identifier, tenant.Secret, tenant.AdminToken, tenant.Active,
		tenant.ProviderAPIKey, tenant.ProviderWebhookID, tenant.ProviderWebhookToken,
		tenant.CreatedAt, tenant.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	return s.findOne(ctx, `WHERE id = $1`, uuid.UUID(tenantID))
}

func (s *Postgres) FindByIdentifier(ctx context.Context, identifier string) (*models.Tenant, error) {
	return s.findOne(ctx, `WHERE identifier = $1`, identifier)
}

func (s *Postgres) FindByAdminToken(ctx context.Context, token string) (*models.Tenant, error) {
	if token == "" {
		return nil, sentinel.ErrNotFound
	}
	return s.findOne(ctx, `WHERE admin_token = $1`, token)
}

func (s *Postgres) findOne(ctx context.Context, where string, arg any) (*models.Tenant, error) {
	query := `
		SELECT id, identifier, secret, admin_token, active,
			provider_api_key, provider_webhook_id, provider_webhook_token,
			created_at, updated_at
		FROM tenants ` + where
	row := s.db.QueryRowContext(ctx, query, arg)

	var tenant models.Tenant
	var rawID uuid.UUID
	err := row.Scan(
		&rawID, &tenant.Identifier, &tenant.Secret, &tenant.AdminToken, &tenant.Active,
		&tenant.ProviderAPIKey, &tenant.ProviderWebhookID, &tenant.ProviderWebhookToken,
		&tenant.CreatedAt, &tenant.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find tenant: %w", err)
	}
	tenant.ID = id.TenantID(rawID)
	return &tenant, nil
}

func (s *Postgres) Update(ctx context.Context, tenant *models.Tenant) error {
	query := `
		UPDATE tenants SET
			secret = $2, admin_token = $3, active = $4,
			provider_api_key = $5, provider_webhook_id = $6, provider_webhook_token = $7,
			updated_at = $8
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query,
		uuid.UUID(tenant.ID), tenant.Secret, tenant.AdminToken, tenant.Active,
		tenant.ProviderAPIKey, tenant.ProviderWebhookID, tenant.ProviderWebhookToken,
		tenant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tenant rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) Delete(ctx context.Context, tenantID id.TenantID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, uuid.UUID(tenantID))
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete tenant rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
