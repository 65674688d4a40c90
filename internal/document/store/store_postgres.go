package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"verisync/internal/document/models"
	id "verisync/pkg/domain"
	"verisync/pkg/platform/sentinel"
)

const pgUniqueViolation = "23505"

// Postgres persists documents in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Create(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO documents (id, tenant_id, identity_id, platform_id, provider_id, mapping_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(doc.ID), uuid.UUID(doc.TenantID), uuid.UUID(doc.IdentityID),
		doc.PlatformID, doc.ProviderID, uuid.UUID(doc.MappingID),
		doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

const documentColumns = `id, tenant_id, identity_id, platform_id, COALESCE(provider_id, ''), mapping_id, created_at, updated_at`

func (s *Postgres) FindByID(ctx context.Context, docID id.DocumentID) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	return scanDocument(s.db.QueryRowContext(ctx, query, uuid.UUID(docID)))
}

func (s *Postgres) FindByIdentityAndPlatformID(ctx context.Context, identityID id.IdentityID, platformID string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE identity_id = $1 AND platform_id = $2`
	return scanDocument(s.db.QueryRowContext(ctx, query, uuid.UUID(identityID), platformID))
}

// SetProviderID assigns the provider id exactly once, same shape as the
// applicant assignment on identities.
func (s *Postgres) SetProviderID(ctx context.Context, docID id.DocumentID, providerID string) error {
	query := `
		UPDATE documents SET provider_id = $2, updated_at = $3
		WHERE id = $1 AND provider_id IS NULL
	`
	result, err := s.db.ExecContext(ctx, query, uuid.UUID(docID), providerID, time.Now())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("set provider id: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set provider id rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.FindByID(ctx, docID); err != nil {
			return err
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *Postgres) ListByIDs(ctx context.Context, docIDs []id.DocumentID) ([]*models.Document, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}
	raw := make([]uuid.UUID, len(docIDs))
	for i, docID := range docIDs {
		raw[i] = uuid.UUID(docID)
	}
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = ANY($1)`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(raw))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if len(docs) != len(docIDs) {
		return nil, sentinel.ErrNotFound
	}
	return docs, nil
}

type row interface {
	Scan(dest ...any) error
}

func scanDocument(r row) (*models.Document, error) {
	var doc models.Document
	var rawID, rawTenant, rawIdentity, rawMapping uuid.UUID
	err := r.Scan(&rawID, &rawTenant, &rawIdentity, &doc.PlatformID, &doc.ProviderID,
		&rawMapping, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find document: %w", err)
	}
	doc.ID = id.DocumentID(rawID)
	doc.TenantID = id.TenantID(rawTenant)
	doc.IdentityID = id.IdentityID(rawIdentity)
	doc.MappingID = id.MappingID(rawMapping)
	return &doc, nil
}

// PostgresMappings persists document type mappings in PostgreSQL.
//
// The per-tenant uniqueness rules need two partial unique indexes plus a
// pre-insert probe for the sided-vs-unsided overlap, which no single index
// can express.
type PostgresMappings struct {
	db *sql.DB
}

func NewPostgresMappings(db *sql.DB) *PostgresMappings {
	return &PostgresMappings{db: db}
}

func (s *PostgresMappings) Create(ctx context.Context, mapping *models.Mapping) error {
	if conflict, err := s.hasConflict(ctx, mapping); err != nil {
		return err
	} else if conflict {
		return sentinel.ErrDuplicate
	}
	query := `
		INSERT INTO document_type_mappings (id, tenant_id, platform_type, provider_type, side, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(mapping.ID), uuid.UUID(mapping.TenantID), mapping.PlatformType,
		string(mapping.ProviderType), string(mapping.Side),
		mapping.CreatedAt, mapping.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("create mapping: %w", err)
	}
	return nil
}

const mappingColumns = `id, tenant_id, platform_type, provider_type, COALESCE(side, ''), created_at, updated_at`

func (s *PostgresMappings) FindByID(ctx context.Context, mappingID id.MappingID) (*models.Mapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM document_type_mappings WHERE id = $1`
	return scanMapping(s.db.QueryRowContext(ctx, query, uuid.UUID(mappingID)))
}

func (s *PostgresMappings) FindByTenantAndPlatformType(ctx context.Context, tenantID id.TenantID, platformType string) ([]*models.Mapping, error) {
	query := `
		SELECT ` + mappingColumns + ` FROM document_type_mappings
		WHERE tenant_id = $1 AND platform_type = $2
		ORDER BY platform_type, side
	`
	return s.list(ctx, query, uuid.UUID(tenantID), platformType)
}

func (s *PostgresMappings) ListByTenant(ctx context.Context, tenantID id.TenantID) ([]*models.Mapping, error) {
	query := `
		SELECT ` + mappingColumns + ` FROM document_type_mappings
		WHERE tenant_id = $1
		ORDER BY platform_type, side
	`
	return s.list(ctx, query, uuid.UUID(tenantID))
}

func (s *PostgresMappings) Update(ctx context.Context, mapping *models.Mapping) error {
	if conflict, err := s.hasConflict(ctx, mapping); err != nil {
		return err
	} else if conflict {
		return sentinel.ErrDuplicate
	}
	query := `
		UPDATE document_type_mappings
		SET platform_type = $2, provider_type = $3, side = NULLIF($4, ''), updated_at = $5
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query,
		uuid.UUID(mapping.ID), mapping.PlatformType, string(mapping.ProviderType),
		string(mapping.Side), time.Now(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("update mapping: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update mapping rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresMappings) Delete(ctx context.Context, mappingID id.MappingID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM document_type_mappings WHERE id = $1`, uuid.UUID(mappingID))
	if err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete mapping rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresMappings) hasConflict(ctx context.Context, mapping *models.Mapping) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM document_type_mappings
			WHERE tenant_id = $1 AND platform_type = $2 AND id <> $3
			  AND ($4 = '' OR side IS NULL OR side = $4)
		)
	`
	var conflict bool
	err := s.db.QueryRowContext(ctx, query,
		uuid.UUID(mapping.TenantID), mapping.PlatformType, uuid.UUID(mapping.ID), string(mapping.Side),
	).Scan(&conflict)
	if err != nil {
		return false, fmt.Errorf("check mapping conflict: %w", err)
	}
	return conflict, nil
}

func (s *PostgresMappings) list(ctx context.Context, query string, args ...any) ([]*models.Mapping, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*models.Mapping
	for rows.Next() {
		mapping, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, mapping)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	return mappings, nil
}

func scanMapping(r row) (*models.Mapping, error) {
	var mapping models.Mapping
	var rawID, rawTenant uuid.UUID
	var providerType, side string
	err := r.Scan(&rawID, &rawTenant, &mapping.PlatformType, &providerType, &side,
		&mapping.CreatedAt, &mapping.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find mapping: %w", err)
	}
	mapping.ID = id.MappingID(rawID)
	mapping.TenantID = id.TenantID(rawTenant)
	mapping.ProviderType = models.ProviderDocumentType(providerType)
	mapping.Side = models.Side(side)
	return &mapping, nil
}
