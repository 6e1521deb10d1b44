package inventory

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore is an in-memory Store implementation.
//
// Suitable for testing and for deployments that only care about devices
// seen since the last restart. All data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
	}
}

// Put saves or replaces the record for its serial number.
func (s *MemoryStore) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Facts.SerialNumber == "" {
		return errors.New("inventory: record has no serial number")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Facts.SerialNumber] = rec
	return nil
}

// Get returns the record for the given serial number.
func (s *MemoryStore) Get(ctx context.Context, serialNumber string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[serialNumber]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// List returns all stored records.
func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	return records, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
