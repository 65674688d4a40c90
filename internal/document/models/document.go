// Package models defines documents and the platform-to-provider document
// type mappings that drive uploads.
package models

import (
	"time"

	id "verisync/pkg/domain"
	derrors "verisync/pkg/domain-errors"
)

// ProviderDocumentType is a document classification the provider accepts.
type ProviderDocumentType string

const (
	ProviderTypeNationalIdentityCard ProviderDocumentType = "national_identity_card"
	ProviderTypeDrivingLicence       ProviderDocumentType = "driving_licence"
	ProviderTypePassport             ProviderDocumentType = "passport"
	ProviderTypeVoterID              ProviderDocumentType = "voter_id"
	ProviderTypeWorkPermit           ProviderDocumentType = "work_permit"
)

// Valid reports whether the value is a known provider document type.
func (t ProviderDocumentType) Valid() bool {
	switch t {
	case ProviderTypeNationalIdentityCard, ProviderTypeDrivingLicence,
		ProviderTypePassport, ProviderTypeVoterID, ProviderTypeWorkPermit:
		return true
	}
	return false
}

// TwoSided reports whether the provider expects both faces of the document
// before a check can run against it.
func (t ProviderDocumentType) TwoSided() bool {
	switch t {
	case ProviderTypeNationalIdentityCard, ProviderTypeDrivingLicence, ProviderTypeVoterID:
		return true
	}
	return false
}

// Side identifies which face of a physical document an image captures.
type Side string

const (
	SideFront Side = "front"
	SideBack  Side = "back"
)

func (s Side) Valid() bool { return s == SideFront || s == SideBack }

// Opposite returns the other face. Zero value for an unsided document.
func (s Side) Opposite() Side {
	switch s {
	case SideFront:
		return SideBack
	case SideBack:
		return SideFront
	}
	return ""
}

// PlatformDocumentStatus mirrors the platform's document lifecycle. Only
// pending, verified and declined are written by this service.
type PlatformDocumentStatus string

const (
	PlatformStatusObsolete   PlatformDocumentStatus = "obsolete"
	PlatformStatusDeclined   PlatformDocumentStatus = "declined"
	PlatformStatusPending    PlatformDocumentStatus = "pending"
	PlatformStatusIncomplete PlatformDocumentStatus = "incomplete"
	PlatformStatusVerified   PlatformDocumentStatus = "verified"
)

// Mapping translates a tenant's platform document type into the provider's
// vocabulary.
//
// Invariants, per tenant:
//   - an unsided mapping for a platform type excludes any other mapping for
//     that platform type
//   - sided mappings for the same platform type must differ in side
type Mapping struct {
	ID           id.MappingID         `json:"id"`
	TenantID     id.TenantID          `json:"tenant_id"`
	PlatformType string               `json:"platform_type"`
	ProviderType ProviderDocumentType `json:"provider_type"`
	// Side is empty for single-sided document types.
	Side      Side      `json:"side,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks field-level constraints before persistence.
func (m *Mapping) Validate() error {
	if m.PlatformType == "" {
		return derrors.New(derrors.CodeValidation, "platform type is required")
	}
	if !m.ProviderType.Valid() {
		return derrors.Newf(derrors.CodeValidation, "unknown provider document type %q", m.ProviderType)
	}
	if m.Side != "" && !m.Side.Valid() {
		return derrors.Newf(derrors.CodeValidation, "unknown document side %q", m.Side)
	}
	return nil
}

// PairsWith reports whether two mappings are the two faces of the same
// provider document type.
func (m *Mapping) PairsWith(other *Mapping) bool {
	if m.Side == "" || other.Side == "" {
		return false
	}
	return m.ProviderType == other.ProviderType && other.Side == m.Side.Opposite()
}

// Document tracks a platform document mirrored to the provider.
//
// Invariants:
//   - (IdentityID, PlatformID) is unique
//   - (IdentityID, ProviderID) is unique once ProviderID is assigned
type Document struct {
	ID         id.DocumentID `json:"id"`
	TenantID   id.TenantID   `json:"tenant_id"`
	IdentityID id.IdentityID `json:"identity_id"`
	// PlatformID is the platform's id for the document.
	PlatformID string `json:"platform_id"`
	// ProviderID is the provider-side document resource id. Empty until the
	// file has been uploaded.
	ProviderID string       `json:"provider_id,omitempty"`
	MappingID  id.MappingID `json:"mapping_id"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Uploaded reports whether the document exists on the provider side.
func (d *Document) Uploaded() bool { return d.ProviderID != "" }
