package store

import (
	"context"
	"sync"

	"verisync/internal/tenant/models"
	id "verisync/pkg/domain"
	"verisync/pkg/platform/sentinel"
)

// InMemory keeps tenants in process memory. Used in tests and local
// development; production wiring uses the Postgres store.
type InMemory struct {
	mu      sync.RWMutex
	byID    map[id.TenantID]*models.Tenant
	byIdent map[string]id.TenantID
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:    make(map[id.TenantID]*models.Tenant),
		byIdent: make(map[string]id.TenantID),
	}
}

func (s *InMemory) Create(_ context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byIdent[tenant.Identifier]; exists {
		return sentinel.ErrDuplicate
	}
	copied := *tenant
	s.byID[tenant.ID] = &copied
	s.byIdent[tenant.Identifier] = tenant.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenant, ok := s.byID[tenantID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *tenant
	return &copied, nil
}

func (s *InMemory) FindByIdentifier(_ context.Context, identifier string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenantID, ok := s.byIdent[identifier]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *s.byID[tenantID]
	return &copied, nil
}

func (s *InMemory) FindByAdminToken(_ context.Context, token string) (*models.Tenant, error) {
	if token == "" {
		return nil, sentinel.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tenant := range s.byID {
		if tenant.AdminToken == token {
			copied := *tenant
			return &copied, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) Update(_ context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[tenant.ID]; !ok {
		return sentinel.ErrNotFound
	}
	copied := *tenant
	s.byID[tenant.ID] = &copied
	return nil
}

func (s *InMemory) Delete(_ context.Context, tenantID id.TenantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.byID[tenantID]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.byIdent, tenant.Identifier)
	delete(s.byID, tenantID)
	return nil
}
