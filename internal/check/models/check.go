// Package models defines verification checks and their state machine.
package models

import (
	"time"

	documentmodels "verisync/internal/document/models"
	id "verisync/pkg/domain"
	derrors "verisync/pkg/domain-errors"
)

// Status is the local check lifecycle.
//
//	initiating -> pending -> processing -> complete
//	                              \-> failed
//
// A check sits in initiating while it waits for the second face of a
// two-sided document, in pending while another check of the same identity
// occupies the processing slot, and in processing once the provider is
// running it. complete and failed are terminal.
type Status string

const (
	StatusInitiating Status = "initiating"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool { return s == StatusComplete || s == StatusFailed }

// Provider result values.
const (
	ResultClear     = "clear"
	ResultConsider  = "consider"
	ResultRejected  = "rejected"
	ResultSuspected = "suspected"
	ResultCaution   = "caution"
)

// PlatformStatusForResult maps a provider report result onto the platform's
// document status vocabulary. Unknown results are an error so a provider
// vocabulary change surfaces instead of silently verifying.
func PlatformStatusForResult(result string) (documentmodels.PlatformDocumentStatus, error) {
	switch result {
	case ResultClear:
		return documentmodels.PlatformStatusVerified, nil
	case ResultConsider, ResultRejected, ResultSuspected, ResultCaution:
		return documentmodels.PlatformStatusDeclined, nil
	default:
		return "", derrors.Newf(derrors.CodeInvariantViolation, "unknown provider result %q", result)
	}
}

// Check is one provider verification run over a set of documents.
//
// Invariants:
//   - at most one check per identity is in processing at a time
//   - ProviderID is assigned at most once
//   - a terminal check never changes status or result again
type Check struct {
	ID         id.CheckID    `json:"id"`
	TenantID   id.TenantID   `json:"tenant_id"`
	IdentityID id.IdentityID `json:"identity_id"`
	// ProviderID is the provider-side check resource id. Empty until the
	// check has been created remotely.
	ProviderID string `json:"provider_id,omitempty"`
	Status     Status `json:"status"`
	// Result is the provider's verdict, set on completion.
	Result      string          `json:"result,omitempty"`
	DocumentIDs []id.DocumentID `json:"document_ids"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
