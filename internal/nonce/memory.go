package nonce

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. Every operation holds one mutex across
// check and write, and expired entries are swept lazily on each call.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore. Call Close to release it.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryStore) sweep(now time.Time) {
	for v, exp := range s.entries {
		if !now.Before(exp) {
			delete(s.entries, v)
		}
	}
}

func (s *MemoryStore) Put(_ context.Context, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)
	if _, ok := s.entries[value]; ok {
		return false, nil
	}
	s.entries[value] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) Take(_ context.Context, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep(s.now())
	if _, ok := s.entries[value]; !ok {
		return false, nil
	}
	delete(s.entries, value)
	return true, nil
}

// Len returns the number of unexpired outstanding nonces.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(s.now())
	return len(s.entries)
}

// Close drops every outstanding nonce.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entries)
	return nil
}
