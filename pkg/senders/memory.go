package senders

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/doulaflow/doulaflow/pkg/models"
)

// MemoryRecordStore is an in-memory RecordStore for development and tests.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]map[string]any
}

var _ RecordStore = (*MemoryRecordStore)(nil)

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]map[string]any)}
}

func (s *MemoryRecordStore) GetRecord(_ context.Context, organizationID string, recordType models.ObjectType, recordID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[recordKey(organizationID, recordType, recordID)]
	if !ok {
		return nil, nil
	}

	return maps.Clone(record), nil
}

func (s *MemoryRecordStore) UpdateField(_ context.Context, organizationID string, recordType models.ObjectType, recordID, field string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(organizationID, recordType, recordID)

	record, ok := s.records[key]
	if !ok {
		record = make(map[string]any)
		s.records[key] = record
	}

	record[field] = value

	return nil
}

func (s *MemoryRecordStore) CreateRecord(_ context.Context, organizationID string, recordType models.ObjectType, fields map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	s.records[recordKey(organizationID, recordType, id)] = maps.Clone(fields)

	return id, nil
}

// SeedRecord installs a record under a known ID, for tests.
func (s *MemoryRecordStore) SeedRecord(organizationID string, recordType models.ObjectType, recordID string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[recordKey(organizationID, recordType, recordID)] = maps.Clone(fields)
}

func recordKey(organizationID string, recordType models.ObjectType, recordID string) string {
	return organizationID + "/" + string(recordType) + "/" + recordID
}
