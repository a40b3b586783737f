package fraud

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/w3bsuki/strike-shop-trust/pkg/redis"
)

// ProfileStore persists small per-user facts the scorers compare against:
// last shipping country, last device, last email, purchase-size average.
type ProfileStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisProfileStore shares user profiles across replicas.
type RedisProfileStore struct {
	client *redis.Client
}

func NewRedisProfileStore(client *redis.Client) *RedisProfileStore {
	return &RedisProfileStore{client: client}
}

func (s *RedisProfileStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key)
	if errors.Is(err, redis.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisProfileStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl)
}

type profileEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryProfileStore is the single-instance fallback.
type MemoryProfileStore struct {
	mu      sync.Mutex
	entries map[string]profileEntry
	now     func() time.Time
}

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{
		entries: make(map[string]profileEntry),
		now:     time.Now,
	}
}

func (s *MemoryProfileStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryProfileStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := profileEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}
