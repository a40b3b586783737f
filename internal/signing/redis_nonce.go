package signing

import (
	"context"
	"time"

	"github.com/w3bsuki/strike-shop-trust/pkg/redis"
)

// RedisNonceLedger shares replay protection across replicas, so a nonce
// consumed on one instance is rejected on every other. SET NX with a TTL
// gives the atomic check-and-record; the key expiring implements the
// replay window.
type RedisNonceLedger struct {
	client *redis.Client
	window time.Duration
}

func NewRedisNonceLedger(client *redis.Client, window time.Duration) *RedisNonceLedger {
	if window <= 0 {
		window = DefaultReplayWindow
	}
	return &RedisNonceLedger{
		client: client,
		window: window,
	}
}

// CheckAndRecord claims the nonce. On backend failure the error propagates
// so the verifier rejects the request: replay protection fails closed.
func (l *RedisNonceLedger) CheckAndRecord(ctx context.Context, nonce string) (bool, error) {
	claimed, err := l.client.SetNX(ctx, "nonce:"+nonce, "1", l.window)
	if err != nil {
		return false, err
	}
	return !claimed, nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (l *RedisNonceLedger) Close() {}
