package secrets

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"
)

// MemoryStore implements Store with in-memory maps. This implementation is
// thread-safe and suitable for development and testing.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	fields    map[string]string
	createdAt time.Time
	updatedAt time.Time
}

// NewMemoryStore creates an empty in-memory secret store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// Get returns the field mapping stored under name.
func (s *MemoryStore) Get(_ context.Context, name string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return maps.Clone(entry.fields), nil
}

// Create stores a new field mapping under name.
func (s *MemoryStore) Create(_ context.Context, name string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	now := s.now()
	s.entries[name] = &memoryEntry{
		fields:    maps.Clone(fields),
		createdAt: now,
		updatedAt: now,
	}
	return nil
}

// Update replaces the field mapping stored under name.
func (s *MemoryStore) Update(_ context.Context, name string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	entry.fields = maps.Clone(fields)
	entry.updatedAt = s.now()
	return nil
}

// Describe returns metadata for the secret.
func (s *MemoryStore) Describe(_ context.Context, name string) (Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[name]
	if !ok {
		return Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return Metadata{
		Name:      name,
		ARN:       "memory://" + name,
		CreatedAt: entry.createdAt,
		UpdatedAt: entry.updatedAt,
	}, nil
}

var _ Store = (*MemoryStore)(nil)
