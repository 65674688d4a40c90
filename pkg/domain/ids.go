// Package domain defines typed identifiers shared across service boundaries.
//
// Each aggregate gets its own UUID-backed type so the compiler rejects
// cross-aggregate assignment (a CheckID can never be passed where a
// DocumentID is expected). Parse helpers enforce the invariant that IDs are
// valid, non-nil UUIDs at trust boundaries.
package domain

import (
	"github.com/google/uuid"

	derrors "verisync/pkg/domain-errors"
)

type (
	// TenantID identifies a configured tenant (platform company).
	TenantID uuid.UUID
	// IdentityID identifies an end user under verification.
	IdentityID uuid.UUID
	// DocumentID identifies a tracked identity document.
	DocumentID uuid.UUID
	// CheckID identifies a verification check aggregating documents.
	CheckID uuid.UUID
	// MappingID identifies a tenant-scoped document-type mapping.
	MappingID uuid.UUID
	// WebhookID identifies a stored inbound webhook delivery.
	WebhookID uuid.UUID
)

func (id TenantID) String() string   { return uuid.UUID(id).String() }
func (id IdentityID) String() string { return uuid.UUID(id).String() }
func (id DocumentID) String() string { return uuid.UUID(id).String() }
func (id CheckID) String() string    { return uuid.UUID(id).String() }
func (id MappingID) String() string  { return uuid.UUID(id).String() }
func (id WebhookID) String() string  { return uuid.UUID(id).String() }

func (id TenantID) IsZero() bool   { return uuid.UUID(id) == uuid.Nil }
func (id IdentityID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }
func (id DocumentID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }
func (id CheckID) IsZero() bool    { return uuid.UUID(id) == uuid.Nil }
func (id MappingID) IsZero() bool  { return uuid.UUID(id) == uuid.Nil }
func (id WebhookID) IsZero() bool  { return uuid.UUID(id) == uuid.Nil }

// NewTenantID returns a fresh random tenant ID.
func NewTenantID() TenantID { return TenantID(uuid.New()) }

// NewIdentityID returns a fresh random identity ID.
func NewIdentityID() IdentityID { return IdentityID(uuid.New()) }

// NewDocumentID returns a fresh random document ID.
func NewDocumentID() DocumentID { return DocumentID(uuid.New()) }

// NewCheckID returns a fresh random check ID.
func NewCheckID() CheckID { return CheckID(uuid.New()) }

// NewMappingID returns a fresh random mapping ID.
func NewMappingID() MappingID { return MappingID(uuid.New()) }

// NewWebhookID returns a fresh random webhook record ID.
func NewWebhookID() WebhookID { return WebhookID(uuid.New()) }

func parseUUID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, derrors.New(derrors.CodeInvalidInput, "id cannot be empty")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, derrors.Wrap(err, derrors.CodeInvalidInput, "id is not a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, derrors.New(derrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return parsed, nil
}

// ParseTenantID parses and validates a tenant ID from its string form.
func ParseTenantID(raw string) (TenantID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return TenantID{}, err
	}
	return TenantID(parsed), nil
}

// ParseIdentityID parses and validates an identity ID from its string form.
func ParseIdentityID(raw string) (IdentityID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return IdentityID{}, err
	}
	return IdentityID(parsed), nil
}

// ParseDocumentID parses and validates a document ID from its string form.
func ParseDocumentID(raw string) (DocumentID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return DocumentID{}, err
	}
	return DocumentID(parsed), nil
}

// ParseCheckID parses and validates a check ID from its string form.
func ParseCheckID(raw string) (CheckID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return CheckID{}, err
	}
	return CheckID(parsed), nil
}

// ParseMappingID parses and validates a mapping ID from its string form.
func ParseMappingID(raw string) (MappingID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return MappingID{}, err
	}
	return MappingID(parsed), nil
}

// ParseWebhookID parses and validates a webhook record ID from its string form.
func ParseWebhookID(raw string) (WebhookID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return WebhookID{}, err
	}
	return WebhookID(parsed), nil
}
