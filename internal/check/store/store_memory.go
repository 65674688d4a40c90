package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"verisync/internal/check/models"
	id "verisync/pkg/domain"
	"verisync/pkg/platform/sentinel"
)

// InMemory keeps checks in process memory.
type InMemory struct {
	mu         sync.RWMutex
	byID       map[id.CheckID]*models.Check
	byProvider map[string]id.CheckID
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:       make(map[id.CheckID]*models.Check),
		byProvider: make(map[string]id.CheckID),
	}
}

func (s *InMemory) Create(_ context.Context, check *models.Check) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[check.ID]; exists {
		return sentinel.ErrDuplicate
	}
	s.byID[check.ID] = copyCheck(check)
	if check.ProviderID != "" {
		s.byProvider[check.ProviderID] = check.ID
	}
	return nil
}

func (s *InMemory) FindByID(_ context.Context, checkID id.CheckID) (*models.Check, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	check, ok := s.byID[checkID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyCheck(check), nil
}

func (s *InMemory) FindByProviderID(_ context.Context, providerID string) (*models.Check, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	checkID, ok := s.byProvider[providerID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyCheck(s.byID[checkID]), nil
}

func (s *InMemory) FindByDocumentID(_ context.Context, docID id.DocumentID) (*models.Check, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Check
	for _, check := range s.byID {
		for _, attached := range check.DocumentIDs {
			if attached == docID {
				if latest == nil || check.CreatedAt.After(latest.CreatedAt) {
					latest = check
				}
			}
		}
	}
	if latest == nil {
		return nil, sentinel.ErrNotFound
	}
	return copyCheck(latest), nil
}

func (s *InMemory) ListByIdentityAndStatus(_ context.Context, identityID id.IdentityID, status models.Status) ([]*models.Check, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var checks []*models.Check
	for _, check := range s.byID {
		if check.IdentityID == identityID && check.Status == status {
			checks = append(checks, copyCheck(check))
		}
	}
	sort.Slice(checks, func(i, j int) bool {
		return checks[i].CreatedAt.Before(checks[j].CreatedAt)
	})
	return checks, nil
}

func (s *InMemory) AttachDocument(_ context.Context, checkID id.CheckID, docID id.DocumentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	check, ok := s.byID[checkID]
	if !ok {
		return sentinel.ErrNotFound
	}
	for _, existing := range check.DocumentIDs {
		if existing == docID {
			return nil
		}
	}
	check.DocumentIDs = append(check.DocumentIDs, docID)
	check.UpdatedAt = time.Now()
	return nil
}

func (s *InMemory) SetProviderID(_ context.Context, checkID id.CheckID, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	check, ok := s.byID[checkID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if check.ProviderID != "" {
		return sentinel.ErrInvalidState
	}
	if _, taken := s.byProvider[providerID]; taken {
		return sentinel.ErrDuplicate
	}
	check.ProviderID = providerID
	check.UpdatedAt = time.Now()
	s.byProvider[providerID] = checkID
	return nil
}

func (s *InMemory) UpdateStatus(_ context.Context, checkID id.CheckID, from, to models.Status, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	check, ok := s.byID[checkID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if check.Status != from {
		return sentinel.ErrInvalidState
	}
	check.Status = to
	if result != "" {
		check.Result = result
	}
	check.UpdatedAt = time.Now()
	return nil
}

func copyCheck(check *models.Check) *models.Check {
	copied := *check
	copied.DocumentIDs = append([]id.DocumentID(nil), check.DocumentIDs...)
	return &copied
}
