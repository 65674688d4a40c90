package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"verisync/internal/document/models"
	id "verisync/pkg/domain"
	"verisync/pkg/platform/sentinel"
)

type docKey struct {
	identity   id.IdentityID
	platformID string
}

type providerKey struct {
	identity   id.IdentityID
	providerID string
}

// InMemory keeps documents in process memory.
type InMemory struct {
	mu         sync.RWMutex
	byID       map[id.DocumentID]*models.Document
	byPlatform map[docKey]id.DocumentID
	byProvider map[providerKey]id.DocumentID
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:       make(map[id.DocumentID]*models.Document),
		byPlatform: make(map[docKey]id.DocumentID),
		byProvider: make(map[providerKey]id.DocumentID),
	}
}

func (s *InMemory) Create(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := docKey{identity: doc.IdentityID, platformID: doc.PlatformID}
	if _, exists := s.byPlatform[key]; exists {
		return sentinel.ErrDuplicate
	}
	copied := *doc
	s.byID[doc.ID] = &copied
	s.byPlatform[key] = doc.ID
	if doc.ProviderID != "" {
		s.byProvider[providerKey{identity: doc.IdentityID, providerID: doc.ProviderID}] = doc.ID
	}
	return nil
}

func (s *InMemory) FindByID(_ context.Context, docID id.DocumentID) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.byID[docID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (s *InMemory) FindByIdentityAndPlatformID(_ context.Context, identityID id.IdentityID, platformID string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docID, ok := s.byPlatform[docKey{identity: identityID, platformID: platformID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *s.byID[docID]
	return &copied, nil
}

func (s *InMemory) SetProviderID(_ context.Context, docID id.DocumentID, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.byID[docID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if doc.ProviderID != "" {
		return sentinel.ErrInvalidState
	}
	key := providerKey{identity: doc.IdentityID, providerID: providerID}
	if _, taken := s.byProvider[key]; taken {
		return sentinel.ErrDuplicate
	}
	doc.ProviderID = providerID
	doc.UpdatedAt = time.Now()
	s.byProvider[key] = docID
	return nil
}

func (s *InMemory) ListByIDs(_ context.Context, docIDs []id.DocumentID) ([]*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]*models.Document, 0, len(docIDs))
	for _, docID := range docIDs {
		doc, ok := s.byID[docID]
		if !ok {
			return nil, sentinel.ErrNotFound
		}
		copied := *doc
		docs = append(docs, &copied)
	}
	return docs, nil
}

// InMemoryMappings keeps document type mappings in process memory.
type InMemoryMappings struct {
	mu   sync.RWMutex
	byID map[id.MappingID]*models.Mapping
}

func NewInMemoryMappings() *InMemoryMappings {
	return &InMemoryMappings{byID: make(map[id.MappingID]*models.Mapping)}
}

func (s *InMemoryMappings) Create(_ context.Context, mapping *models.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflicts(mapping) {
		return sentinel.ErrDuplicate
	}
	copied := *mapping
	s.byID[mapping.ID] = &copied
	return nil
}

func (s *InMemoryMappings) FindByID(_ context.Context, mappingID id.MappingID) (*models.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mapping, ok := s.byID[mappingID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *mapping
	return &copied, nil
}

func (s *InMemoryMappings) FindByTenantAndPlatformType(_ context.Context, tenantID id.TenantID, platformType string) ([]*models.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var mappings []*models.Mapping
	for _, mapping := range s.byID {
		if mapping.TenantID == tenantID && mapping.PlatformType == platformType {
			copied := *mapping
			mappings = append(mappings, &copied)
		}
	}
	sortMappings(mappings)
	return mappings, nil
}

func (s *InMemoryMappings) ListByTenant(_ context.Context, tenantID id.TenantID) ([]*models.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var mappings []*models.Mapping
	for _, mapping := range s.byID {
		if mapping.TenantID == tenantID {
			copied := *mapping
			mappings = append(mappings, &copied)
		}
	}
	sortMappings(mappings)
	return mappings, nil
}

func (s *InMemoryMappings) Update(_ context.Context, mapping *models.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[mapping.ID]; !ok {
		return sentinel.ErrNotFound
	}
	if s.conflicts(mapping) {
		return sentinel.ErrDuplicate
	}
	copied := *mapping
	copied.UpdatedAt = time.Now()
	s.byID[mapping.ID] = &copied
	return nil
}

func (s *InMemoryMappings) Delete(_ context.Context, mappingID id.MappingID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[mappingID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.byID, mappingID)
	return nil
}

// conflicts applies the per-tenant uniqueness rules: an unsided mapping
// excludes any other mapping for the platform type, and sided mappings must
// differ in side. Caller holds the lock.
func (s *InMemoryMappings) conflicts(candidate *models.Mapping) bool {
	for _, existing := range s.byID {
		if existing.ID == candidate.ID {
			continue
		}
		if existing.TenantID != candidate.TenantID || existing.PlatformType != candidate.PlatformType {
			continue
		}
		if candidate.Side == "" || existing.Side == "" || existing.Side == candidate.Side {
			return true
		}
	}
	return false
}

func sortMappings(mappings []*models.Mapping) {
	sort.Slice(mappings, func(i, j int) bool {
		if mappings[i].PlatformType != mappings[j].PlatformType {
			return mappings[i].PlatformType < mappings[j].PlatformType
		}
		return mappings[i].Side < mappings[j].Side
	})
}
