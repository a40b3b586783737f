package counter

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/w3bsuki/strike-shop-trust/pkg/redis"
)

// RedisStore backs windowed counters with a shared Redis instance so limits
// hold across service replicas. INCR and EXPIRE-on-first-hit give the
// atomic increment-and-expire contract.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger,
	}
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	return s.IncrementBy(ctx, key, 1, window)
}

func (s *RedisStore) IncrementBy(ctx context.Context, key string, n int64, window time.Duration) (int64, error) {
	count, err := s.client.IncrBy(ctx, key, n)
	if err != nil {
		s.logger.Warn("counter store degraded, failing open",
			zap.String("key", key),
			zap.Error(err))
		return 0, err
	}

	// First increment in a fresh window sets the expiry.
	if count == n {
		if err := s.client.Expire(ctx, key, window); err != nil {
			s.logger.Warn("failed to set counter expiry",
				zap.String("key", key),
				zap.Error(err))
		}
	}

	return count, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Get(ctx, key)
	if errors.Is(err, redis.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		s.logger.Warn("counter store degraded, failing open",
			zap.String("key", key),
			zap.Error(err))
		return 0, err
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, nil
	}
	return count, nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, key)
	if err != nil || ttl < 0 {
		return 0, err
	}
	return ttl, nil
}
