package flowstate

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with an in-memory map. This implementation is
// thread-safe and suitable for development and testing; the mutex held over
// the whole GetAndDelete gives the same single-consumer guarantee GETDEL
// provides on Redis.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	context   Context
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory flow state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Put stores the context under nonce with the given TTL.
func (s *MemoryStore) Put(_ context.Context, nonce string, flowCtx Context, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[nonce] = memoryEntry{
		context:   flowCtx,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// GetAndDelete atomically retrieves and removes the context bound to nonce.
func (s *MemoryStore) GetAndDelete(_ context.Context, nonce string) (Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[nonce]
	if !ok {
		return Context{}, ErrNotFound
	}
	delete(s.entries, nonce)

	if !s.now().Before(entry.expiresAt) {
		return Context{}, ErrNotFound
	}
	return entry.context, nil
}

var _ Store = (*MemoryStore)(nil)
