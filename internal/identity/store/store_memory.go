package store

import (
	"context"
	"sync"
	"time"

	"verisync/internal/identity/models"
	id "verisync/pkg/domain"
	"verisync/pkg/platform/sentinel"
)

type platformKey struct {
	tenant     id.TenantID
	platformID string
}

// InMemory keeps identities in process memory.
type InMemory struct {
	mu          sync.RWMutex
	byID        map[id.IdentityID]*models.Identity
	byPlatform  map[platformKey]id.IdentityID
	byApplicant map[string]id.IdentityID
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:        make(map[id.IdentityID]*models.Identity),
		byPlatform:  make(map[platformKey]id.IdentityID),
		byApplicant: make(map[string]id.IdentityID),
	}
}

func (s *InMemory) Create(_ context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := platformKey{tenant: identity.TenantID, platformID: identity.PlatformID}
	if _, exists := s.byPlatform[key]; exists {
		return sentinel.ErrDuplicate
	}
	copied := *identity
	s.byID[identity.ID] = &copied
	s.byPlatform[key] = identity.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, identityID id.IdentityID) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.byID[identityID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *identity
	return &copied, nil
}

func (s *InMemory) FindByPlatformID(_ context.Context, tenantID id.TenantID, platformID string) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identityID, ok := s.byPlatform[platformKey{tenant: tenantID, platformID: platformID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *s.byID[identityID]
	return &copied, nil
}

func (s *InMemory) SetApplicantID(_ context.Context, identityID id.IdentityID, applicantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[identityID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if identity.ApplicantID != "" {
		return sentinel.ErrInvalidState
	}
	if _, taken := s.byApplicant[applicantID]; taken {
		return sentinel.ErrDuplicate
	}
	identity.ApplicantID = applicantID
	identity.UpdatedAt = time.Now()
	s.byApplicant[applicantID] = identityID
	return nil
}
