// Package providerclient talks to the KYC check provider's REST API.
//
// Clients are constructed per tenant from the tenant's stored credential;
// the configuration gate in the tenant service is the only place allowed to
// hand them out. Lifecycle services depend on the API interface so tests can
// substitute fakes.
package providerclient

import "context"

// API is the narrow contract lifecycle operations need from the provider.
type API interface {
	CreateApplicant(ctx context.Context, req ApplicantRequest) (Applicant, error)
	UploadDocument(ctx context.Context, req DocumentUpload) (RemoteDocument, error)
	CreateCheck(ctx context.Context, req CheckRequest) (RemoteCheck, error)
	GetCheck(ctx context.Context, checkID string) (RemoteCheck, error)
	ListReports(ctx context.Context, checkID string) ([]Report, error)
	RegisterWebhook(ctx context.Context, url string) (WebhookRegistration, error)
	DeleteWebhook(ctx context.Context, webhookID string) error
}

// Factory builds per-tenant API clients from a stored credential.
type Factory interface {
	ForKey(apiKey string) API
}

// ApplicantRequest creates a provider-side applicant for an identity.
type ApplicantRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
}

// Applicant is the provider resource representing an identity.
type Applicant struct {
	ID string `json:"id"`
}

// DocumentUpload carries file bytes plus upload parameters built from the
// document-type mapping.
type DocumentUpload struct {
	ApplicantID string
	Type        string
	// Side is empty for single-sided document types.
	Side     string
	FileName string
	File     []byte
}

// RemoteDocument is the provider's record of an uploaded document.
type RemoteDocument struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Side string `json:"side,omitempty"`
}

// CheckRequest creates a verification check over previously uploaded
// documents.
type CheckRequest struct {
	ApplicantID string   `json:"applicant_id"`
	ReportNames []string `json:"report_names"`
	DocumentIDs []string `json:"document_ids"`
}

// Remote check statuses the lifecycle cares about. The provider has more
// intermediate states; anything outside this set means "not ready".
const (
	RemoteCheckComplete  = "complete"
	RemoteCheckWithdrawn = "withdrawn"
)

// RemoteCheck is the provider's check resource.
type RemoteCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
}

// ReportNameDocument is the report evaluated for document verification.
const ReportNameDocument = "document"

// ReportStatusComplete marks a report whose result is final.
const ReportStatusComplete = "complete"

// Report is one analysis attached to a check.
type Report struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Result string `json:"result"`
}

// WebhookRegistration is the provider's webhook resource; Token signs
// deliveries and must be stored with the tenant.
type WebhookRegistration struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Token string `json:"token"`
}
