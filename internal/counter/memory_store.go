package counter

import (
	"context"
	"sync"
	"time"
)

const defaultMaxEntries = 10000

type entry struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is a bounded in-process counter for single-instance
// deployments or degraded mode when Redis is unavailable. A single mutex
// serializes read-modify-write so concurrent increments on the same key
// never lose updates.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*entry
	maxEntries int
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]*entry),
		maxEntries: defaultMaxEntries,
		now:        time.Now,
	}
}

// SetClock overrides the time source; tests use it to simulate window expiry.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	return s.IncrementBy(ctx, key, 1, window)
}

func (s *MemoryStore) IncrementBy(ctx context.Context, key string, n int64, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || now.After(e.expiresAt) {
		if !ok && len(s.entries) >= s.maxEntries {
			s.evictExpiredLocked(now)
		}
		// Reuse the existing entry across windows when present.
		if ok {
			e.count = n
			e.expiresAt = now.Add(window)
		} else {
			s.entries[key] = &entry{count: n, expiresAt: now.Add(window)}
		}
		return n, nil
	}

	e.count += n
	return e.count, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || s.now().After(e.expiresAt) {
		return 0, nil
	}
	return e.count, nil
}

func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return 0, nil
	}
	remaining := e.expiresAt.Sub(s.now())
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// evictExpiredLocked drops expired entries; if none are expired the oldest
// windows go first so the map stays bounded.
func (s *MemoryStore) evictExpiredLocked(now time.Time) {
	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
		}
	}
	if len(s.entries) < s.maxEntries {
		return
	}
	var oldestKey string
	var oldest time.Time
	for key, e := range s.entries {
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey = key
			oldest = e.expiresAt
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
	}
}
