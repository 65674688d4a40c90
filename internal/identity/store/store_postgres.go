package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"verisync/internal/identity/models"
	id "verisync/pkg/domain"
	"verisync/pkg/platform/sentinel"
)

const pgUniqueViolation = "23505"

// Postgres persists identities in PostgreSQL. The partial unique index on
// applicant_id enforces system-wide applicant uniqueness.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Create(ctx context.Context, identity *models.Identity) error {
	query := `
		INSERT INTO identities (id, tenant_id, platform_id, applicant_id, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(identity.ID), uuid.UUID(identity.TenantID), identity.PlatformID,
		identity.ApplicantID, identity.CreatedAt, identity.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	return s.findOne(ctx, `WHERE id = $1`, uuid.UUID(identityID))
}

func (s *Postgres) FindByPlatformID(ctx context.Context, tenantID id.TenantID, platformID string) (*models.Identity, error) {
	query := `
		SELECT id, tenant_id, platform_id, COALESCE(applicant_id, ''), created_at, updated_at
		FROM identities WHERE tenant_id = $1 AND platform_id = $2
	`
	return scanIdentity(s.db.QueryRowContext(ctx, query, uuid.UUID(tenantID), platformID))
}

func (s *Postgres) findOne(ctx context.Context, where string, arg any) (*models.Identity, error) {
	query := `
		SELECT id, tenant_id, platform_id, COALESCE(applicant_id, ''), created_at, updated_at
		FROM identities ` + where
	return scanIdentity(s.db.QueryRowContext(ctx, query, arg))
}

// SetApplicantID assigns the applicant id exactly once. The conditional
// UPDATE makes the at-most-once rule atomic; a zero row count is
// disambiguated by re-reading the row.
func (s *Postgres) SetApplicantID(ctx context.Context, identityID id.IdentityID, applicantID string) error {
	query := `
		UPDATE identities SET applicant_id = $2, updated_at = $3
		WHERE id = $1 AND applicant_id IS NULL
	`
	result, err := s.db.ExecContext(ctx, query, uuid.UUID(identityID), applicantID, time.Now())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("set applicant id: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set applicant id rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.FindByID(ctx, identityID); err != nil {
			return err
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

type identityRow interface {
	Scan(dest ...any) error
}

func scanIdentity(row identityRow) (*models.Identity, error) {
	var identity models.Identity
	var rawID, rawTenant uuid.UUID
	err := row.Scan(&rawID, &rawTenant, &identity.PlatformID, &identity.ApplicantID,
		&identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find identity: %w", err)
	}
	identity.ID = id.IdentityID(rawID)
	identity.TenantID = id.TenantID(rawTenant)
	return &identity, nil
}
