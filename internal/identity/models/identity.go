package models

import (
	"time"

	id "verisync/pkg/domain"
)

// Identity is a tenant-scoped end user under verification.
//
// Invariants:
//   - (TenantID, PlatformID) is unique
//   - ApplicantID is unique across all identities once assigned, and is
//     assigned at most once (never reassigned)
type Identity struct {
	ID       id.IdentityID `json:"id"`
	TenantID id.TenantID   `json:"tenant_id"`
	// PlatformID is the platform's UUID for this user.
	PlatformID string `json:"platform_id"`
	// ApplicantID is the provider-side applicant resource id. Empty until
	// the applicant is created.
	ApplicantID string    `json:"applicant_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasApplicant reports whether the provider applicant has been created.
func (i *Identity) HasApplicant() bool { return i.ApplicantID != "" }
