package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"verisync/internal/check/models"
	id "verisync/pkg/domain"
	"verisync/pkg/platform/sentinel"
)

const pgUniqueViolation = "23505"

// Postgres persists checks in PostgreSQL with a check_documents join table
// for attachments.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Create(ctx context.Context, check *models.Check) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create check: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO checks (id, tenant_id, identity_id, provider_id, status, result, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8)
	`
	_, err = tx.ExecContext(ctx, query,
		uuid.UUID(check.ID), uuid.UUID(check.TenantID), uuid.UUID(check.IdentityID),
		check.ProviderID, string(check.Status), check.Result,
		check.CreatedAt, check.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("create check: %w", err)
	}
	for _, docID := range check.DocumentIDs {
		if err := attachTx(ctx, tx, check.ID, docID); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create check: %w", err)
	}
	return nil
}

const checkColumns = `id, tenant_id, identity_id, COALESCE(provider_id, ''), status, COALESCE(result, ''), created_at, updated_at`

func (s *Postgres) FindByID(ctx context.Context, checkID id.CheckID) (*models.Check, error) {
	query := `SELECT ` + checkColumns + ` FROM checks WHERE id = $1`
	check, err := scanCheck(s.db.QueryRowContext(ctx, query, uuid.UUID(checkID)))
	if err != nil {
		return nil, err
	}
	if err := s.loadDocuments(ctx, check); err != nil {
		return nil, err
	}
	return check, nil
}

func (s *Postgres) FindByProviderID(ctx context.Context, providerID string) (*models.Check, error) {
	query := `SELECT ` + checkColumns + ` FROM checks WHERE provider_id = $1`
	check, err := scanCheck(s.db.QueryRowContext(ctx, query, providerID))
	if err != nil {
		return nil, err
	}
	if err := s.loadDocuments(ctx, check); err != nil {
		return nil, err
	}
	return check, nil
}

func (s *Postgres) FindByDocumentID(ctx context.Context, docID id.DocumentID) (*models.Check, error) {
	query := `
		SELECT ` + checkColumns + ` FROM checks
		WHERE id IN (SELECT check_id FROM check_documents WHERE document_id = $1)
		ORDER BY created_at DESC
		LIMIT 1
	`
	check, err := scanCheck(s.db.QueryRowContext(ctx, query, uuid.UUID(docID)))
	if err != nil {
		return nil, err
	}
	if err := s.loadDocuments(ctx, check); err != nil {
		return nil, err
	}
	return check, nil
}

func (s *Postgres) ListByIdentityAndStatus(ctx context.Context, identityID id.IdentityID, status models.Status) ([]*models.Check, error) {
	query := `
		SELECT ` + checkColumns + ` FROM checks
		WHERE identity_id = $1 AND status = $2
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(identityID), string(status))
	if err != nil {
		return nil, fmt.Errorf("list checks: %w", err)
	}
	defer rows.Close()

	var checks []*models.Check
	for rows.Next() {
		check, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		checks = append(checks, check)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list checks: %w", err)
	}
	for _, check := range checks {
		if err := s.loadDocuments(ctx, check); err != nil {
			return nil, err
		}
	}
	return checks, nil
}

func (s *Postgres) AttachDocument(ctx context.Context, checkID id.CheckID, docID id.DocumentID) error {
	return attachTx(ctx, s.db, checkID, docID)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func attachTx(ctx context.Context, db execer, checkID id.CheckID, docID id.DocumentID) error {
	query := `
		INSERT INTO check_documents (check_id, document_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	if _, err := db.ExecContext(ctx, query, uuid.UUID(checkID), uuid.UUID(docID)); err != nil {
		return fmt.Errorf("attach document: %w", err)
	}
	return nil
}

func (s *Postgres) SetProviderID(ctx context.Context, checkID id.CheckID, providerID string) error {
	query := `
		UPDATE checks SET provider_id = $2, updated_at = $3
		WHERE id = $1 AND provider_id IS NULL
	`
	result, err := s.db.ExecContext(ctx, query, uuid.UUID(checkID), providerID, time.Now())
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
		if _, err := s.FindByID(ctx, checkID); err != nil {
			return err
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

// UpdateStatus is compare-and-swap on the status column; a failed swap means
// another worker transitioned first.
func (s *Postgres) UpdateStatus(ctx context.Context, checkID id.CheckID, from, to models.Status, result string) error {
	query := `
		UPDATE checks SET status = $3, result = COALESCE(NULLIF($4, ''), result), updated_at = $5
		WHERE id = $1 AND status = $2
	`
	res, err := s.db.ExecContext(ctx, query,
		uuid.UUID(checkID), string(from), string(to), result, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("update check status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update check status rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.FindByID(ctx, checkID); err != nil {
			return err
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *Postgres) loadDocuments(ctx context.Context, check *models.Check) error {
	query := `
		SELECT cd.document_id FROM check_documents cd
		JOIN documents d ON d.id = cd.document_id
		WHERE cd.check_id = $1
		ORDER BY d.created_at
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(check.ID))
	if err != nil {
		return fmt.Errorf("load check documents: %w", err)
	}
	defer rows.Close()

	check.DocumentIDs = nil
	for rows.Next() {
		var raw uuid.UUID
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("load check documents: %w", err)
		}
		check.DocumentIDs = append(check.DocumentIDs, id.DocumentID(raw))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load check documents: %w", err)
	}
	return nil
}

type row interface {
	Scan(dest ...any) error
}

func scanCheck(r row) (*models.Check, error) {
	var check models.Check
	var rawID, rawTenant, rawIdentity uuid.UUID
	var status string
	err := r.Scan(&rawID, &rawTenant, &rawIdentity, &check.ProviderID, &status,
		&check.Result, &check.CreatedAt, &check.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find check: %w", err)
	}
	check.ID = id.CheckID(rawID)
	check.TenantID = id.TenantID(rawTenant)
	check.IdentityID = id.IdentityID(rawIdentity)
	check.Status = models.Status(status)
	return &check, nil
}
