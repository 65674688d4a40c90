package store

import (
	"context"
	"sync"
	"time"

	"verisync/internal/webhook/models"
	id "verisync/pkg/domain"
	"verisync/pkg/platform/sentinel"
)

type dedupKey struct {
	tenant     id.TenantID
	origin     models.Origin
	identifier string
}

// InMemory keeps webhook records in process memory.
type InMemory struct {
	mu      sync.RWMutex
	byID    map[id.WebhookID]*models.Record
	byDedup map[dedupKey]id.WebhookID
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:    make(map[id.WebhookID]*models.Record),
		byDedup: make(map[dedupKey]id.WebhookID),
	}
}

func (s *InMemory) Create(_ context.Context, record *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dedupKey{tenant: record.TenantID, origin: record.Origin, identifier: record.Identifier}
	if _, exists := s.byDedup[key]; exists {
		return sentinel.ErrDuplicate
	}
	s.byID[record.ID] = copyRecord(record)
	s.byDedup[key] = record.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, recordID id.WebhookID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.byID[recordID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyRecord(record), nil
}

func (s *InMemory) Update(_ context.Context, record *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[record.ID]; !ok {
		return sentinel.ErrNotFound
	}
	updated := copyRecord(record)
	updated.UpdatedAt = time.Now()
	s.byID[record.ID] = updated
	record.UpdatedAt = updated.UpdatedAt
	return nil
}

func copyRecord(record *models.Record) *models.Record {
	copied := *record
	copied.Payload = append([]byte(nil), record.Payload...)
	return &copied
}
