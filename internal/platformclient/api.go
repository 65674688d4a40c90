// Package platformclient talks to the platform's REST API on behalf of a
// tenant. Calls are authenticated with the tenant's admin token, matching
// how the platform scopes its admin API.
package platformclient

import "context"

// API is the narrow contract the service needs from the platform.
type API interface {
	// AuthAdmin resolves the user behind an admin token. Used during
	// activation to prove the caller administers the company.
	AuthAdmin(ctx context.Context, token string) (AdminUser, error)
	// GetCompany fetches the company the token belongs to.
	GetCompany(ctx context.Context, token string) (Company, error)
	// RegisterWebhook creates a platform webhook subscription. Duplicate
	// registrations (same url + event) are tolerated and reported as nil.
	RegisterWebhook(ctx context.Context, token string, reg WebhookRegistration) error
	// GetUser fetches a platform user by id.
	GetUser(ctx context.Context, token, userID string) (User, error)
	// GetDocument fetches a platform document by id, including its file
	// reference.
	GetDocument(ctx context.Context, token, documentID string) (Document, error)
	// DownloadFile fetches the raw bytes behind a document file reference.
	DownloadFile(ctx context.Context, url string) ([]byte, string, error)
	// PatchDocument updates status and/or metadata on a platform document.
	PatchDocument(ctx context.Context, token, documentID string, patch DocumentPatch) error
	// PatchUser updates metadata on a platform user.
	PatchUser(ctx context.Context, token, userID string, patch UserPatch) error
}

// AdminUser is the platform user behind an admin token.
type AdminUser struct {
	ID      string   `json:"id"`
	Company string   `json:"company"`
	Groups  []string `json:"groups"`
}

// IsAdmin reports whether the user carries an admin-capable group.
func (u AdminUser) IsAdmin() bool {
	for _, group := range u.Groups {
		if group == "admin" || group == "service" {
			return true
		}
	}
	return false
}

// Company is the platform company resource.
type Company struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WebhookRegistration subscribes this service to a platform event.
type WebhookRegistration struct {
	URL    string `json:"url"`
	Event  string `json:"event"`
	Secret string `json:"secret"`
}

// User is the platform user resource.
type User struct {
	ID        string            `json:"id"`
	FirstName string            `json:"first_name"`
	LastName  string            `json:"last_name"`
	Email     string            `json:"email"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Document is the platform document resource.
type Document struct {
	ID      string `json:"id"`
	UserID  string `json:"user"`
	Type    string `json:"type"`
	Status  string `json:"status"`
	FileURL string `json:"file"`
}

// DocumentPatch carries the writable fields of a platform document.
type DocumentPatch struct {
	Status   string            `json:"status,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// UserPatch carries the writable fields of a platform user.
type UserPatch struct {
	Metadata map[string]string `json:"metadata,omitempty"`
}
