// Package http exposes the service's HTTP surface: tenant activation,
// inbound webhooks from the platform and the provider, and the admin API.
package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	documentmodels "verisync/internal/document/models"
	"verisync/internal/providerclient"
	tenantmodels "verisync/internal/tenant/models"
	webhookmodels "verisync/internal/webhook/models"
	id "verisync/pkg/domain"
	derrors "verisync/pkg/domain-errors"
)

// maxWebhookBody caps inbound webhook payloads at 1 MiB.
const maxWebhookBody = 1 << 20

// TenantService is the tenant lifecycle surface the handlers need.
type TenantService interface {
	Activate(ctx context.Context, token string) (*tenantmodels.Tenant, error)
	Deactivate(ctx context.Context, token string, purge bool) error
	AuthenticateAdmin(ctx context.Context, token string) (*tenantmodels.Tenant, error)
	GetByIdentifier(ctx context.Context, identifier string) (*tenantmodels.Tenant, error)
	RotateProviderCredential(ctx context.Context, tenantID id.TenantID, apiKey string) (*tenantmodels.Tenant, error)
}

// WebhookService records inbound deliveries.
type WebhookService interface {
	Record(ctx context.Context, tenantID id.TenantID, origin webhookmodels.Origin, identifier, event string, payload []byte) error
}

// MappingService is the document type mapping admin surface.
type MappingService interface {
	Mapping(ctx context.Context, mappingID id.MappingID) (*documentmodels.Mapping, error)
	ListMappings(ctx context.Context, tenantID id.TenantID) ([]*documentmodels.Mapping, error)
	CreateMapping(ctx context.Context, mapping *documentmodels.Mapping) error
	UpdateMapping(ctx context.Context, mapping *documentmodels.Mapping) error
	DeleteMapping(ctx context.Context, mappingID id.MappingID) error
}

type Handlers struct {
	tenants  TenantService
	webhooks WebhookService
	mappings MappingService
	logger   *slog.Logger
}

func NewHandlers(tenants TenantService, webhooks WebhookService, mappings MappingService, logger *slog.Logger) *Handlers {
	return &Handlers{tenants: tenants, webhooks: webhooks, mappings: mappings, logger: logger}
}

// authToken extracts the credential from an "Authorization: Token <value>"
// header.
func authToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Token "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

// Activate registers the calling company as a tenant.
func (h *Handlers) Activate(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.tenants.Activate(r.Context(), authToken(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tenantResponse(tenant))
}

type deactivateRequest struct {
	Purge bool `json:"purge"`
}

// Deactivate disables the calling company's tenant.
func (h *Handlers) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req deactivateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, h.logger, derrors.Wrap(err, derrors.CodeInvalidInput, "malformed request body"))
			return
		}
	}
	if err := h.tenants.Deactivate(r.Context(), authToken(r), req.Purge); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// platformPeek is the minimal view of a platform webhook body needed for
// routing and dedup before the payload is stored verbatim.
type platformPeek struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Company string `json:"company"`
}

// PlatformWebhook ingests a platform delivery. The shared secret issued at
// activation authenticates the sender; the body is stored as-is and
// processed asynchronously, so this handler answers quickly and never
// reveals processing failures to the sender.
func (h *Handlers) PlatformWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, h.logger, derrors.Wrap(err, derrors.CodeInvalidInput, "unreadable body"))
		return
	}
	var peek platformPeek
	if err := json.Unmarshal(body, &peek); err != nil {
		writeError(w, h.logger, derrors.Wrap(err, derrors.CodeInvalidInput, "malformed webhook body"))
		return
	}
	if peek.ID == "" || peek.Company == "" {
		writeError(w, h.logger, derrors.New(derrors.CodeInvalidInput, "webhook id and company are required"))
		return
	}

	tenant, err := h.tenants.GetByIdentifier(r.Context(), peek.Company)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	secret := r.Header.Get("secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(tenant.Secret)) != 1 {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if err := h.webhooks.Record(r.Context(), tenant.ID, webhookmodels.OriginPlatform, peek.ID, peek.Event, body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// providerPeek is the minimal view of a provider webhook body needed for
// dedup.
type providerPeek struct {
	Payload struct {
		Action string `json:"action"`
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"payload"`
}

// ProviderWebhook ingests a provider delivery for the tenant named in the
// path. The HMAC signature over the raw body authenticates the sender.
func (h *Handlers) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "tenant")
	tenant, err := h.tenants.GetByIdentifier(r.Context(), identifier)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, h.logger, derrors.Wrap(err, derrors.CodeInvalidInput, "unreadable body"))
		return
	}
	signature := r.Header.Get("X-SHA2-Signature")
	if err := providerclient.VerifySignature(tenant.ProviderWebhookToken, body, signature); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var peek providerPeek
	if err := json.Unmarshal(body, &peek); err != nil {
		writeError(w, h.logger, derrors.Wrap(err, derrors.CodeInvalidInput, "malformed webhook body"))
		return
	}
	if peek.Payload.Action == "" || peek.Payload.Object.ID == "" {
		writeError(w, h.logger, derrors.New(derrors.CodeInvalidInput, "action and object id are required"))
		return
	}
	identifierKey := peek.Payload.Action + ":" + peek.Payload.Object.ID

	if err := h.webhooks.Record(r.Context(), tenant.ID, webhookmodels.OriginProvider, identifierKey, peek.Payload.Action, body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

type tenantContextKey struct{}

// requireAdmin authenticates the admin token and stashes the tenant in the
// request context.
func (h *Handlers) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, err := h.tenants.AuthenticateAdmin(r.Context(), authToken(r))
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
				Code:    string(derrors.CodeValidation),
				Message: "invalid admin token",
			}})
			return
		}
		ctx := context.WithValue(r.Context(), tenantContextKey{}, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func adminTenant(r *http.Request) *tenantmodels.Tenant {
	tenant, _ := r.Context().Value(tenantContextKey{}).(*tenantmodels.Tenant)
	return tenant
}

type tenantView struct {
	Identifier         string `json:"identifier"`
	Active             bool   `json:"active"`
	ProviderConfigured bool   `json:"provider_configured"`
}

func tenantResponse(tenant *tenantmodels.Tenant) tenantView {
	return tenantView{
		Identifier:         tenant.Identifier,
		Active:             tenant.Active,
		ProviderConfigured: tenant.Configured(),
	}
}

// GetCompany returns the calling tenant's configuration state. The provider
// credential itself is never echoed back.
func (h *Handlers) GetCompany(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tenantResponse(adminTenant(r)))
}

type companyPatch struct {
	ProviderAPIKey string `json:"provider_api_key"`
}

// PatchCompany rotates the tenant's provider credential.
func (h *Handlers) PatchCompany(w http.ResponseWriter, r *http.Request) {
	var patch companyPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, h.logger, derrors.Wrap(err, derrors.CodeInvalidInput, "malformed request body"))
		return
	}
	tenant, err := h.tenants.RotateProviderCredential(r.Context(), adminTenant(r).ID, patch.ProviderAPIKey)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tenantResponse(tenant))
}

type mappingView struct {
	ID           string `json:"id"`
	PlatformType string `json:"platform_type"`
	ProviderType string `json:"provider_type"`
	Side         string `json:"side,omitempty"`
}

func mappingResponse(mapping *documentmodels.Mapping) mappingView {
	return mappingView{
		ID:           mapping.ID.String(),
		PlatformType: mapping.PlatformType,
		ProviderType: string(mapping.ProviderType),
		Side:         string(mapping.Side),
	}
}

type mappingRequest struct {
	PlatformType string `json:"platform_type"`
	ProviderType string `json:"provider_type"`
	Side         string `json:"side"`
}

// ListMappings returns the tenant's document type mappings.
func (h *Handlers) ListMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.mappings.ListMappings(r.Context(), adminTenant(r).ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	views := make([]mappingView, 0, len(mappings))
	for _, mapping := range mappings {
		views = append(views, mappingResponse(mapping))
	}
	writeJSON(w, http.StatusOK, views)
}

// CreateMapping adds a document type mapping.
func (h *Handlers) CreateMapping(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, derrors.Wrap(err, derrors.CodeInvalidInput, "malformed request body"))
		return
	}
	mapping := &documentmodels.Mapping{
		TenantID:     adminTenant(r).ID,
		PlatformType: req.PlatformType,
		ProviderType: documentmodels.ProviderDocumentType(req.ProviderType),
		Side:         documentmodels.Side(req.Side),
	}
	if err := h.mappings.CreateMapping(r.Context(), mapping); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, mappingResponse(mapping))
}

// GetMapping returns one document type mapping.
func (h *Handlers) GetMapping(w http.ResponseWriter, r *http.Request) {
	mapping, ok := h.tenantMapping(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, mappingResponse(mapping))
}

// UpdateMapping replaces the writable fields of a mapping.
func (h *Handlers) UpdateMapping(w http.ResponseWriter, r *http.Request) {
	mapping, ok := h.tenantMapping(w, r)
	if !ok {
		return
	}
	var req mappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, derrors.Wrap(err, derrors.CodeInvalidInput, "malformed request body"))
		return
	}
	if req.PlatformType != "" {
		mapping.PlatformType = req.PlatformType
	}
	if req.ProviderType != "" {
		mapping.ProviderType = documentmodels.ProviderDocumentType(req.ProviderType)
	}
	mapping.Side = documentmodels.Side(req.Side)
	if err := h.mappings.UpdateMapping(r.Context(), mapping); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, mappingResponse(mapping))
}

// DeleteMapping removes a mapping.
func (h *Handlers) DeleteMapping(w http.ResponseWriter, r *http.Request) {
	mapping, ok := h.tenantMapping(w, r)
	if !ok {
		return
	}
	if err := h.mappings.DeleteMapping(r.Context(), mapping.ID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// tenantMapping loads the mapping from the path and verifies it belongs to
// the calling tenant.
func (h *Handlers) tenantMapping(w http.ResponseWriter, r *http.Request) (*documentmodels.Mapping, bool) {
	mappingID, err := id.ParseMappingID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	mapping, err := h.mappings.Mapping(r.Context(), mappingID)
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	if mapping.TenantID != adminTenant(r).ID {
		writeError(w, h.logger, derrors.New(derrors.CodeNotFound, "document type mapping not found"))
		return nil, false
	}
	return mapping, true
}
