// Package counter provides windowed counters with atomic
// increment-and-expire semantics, used by rate limiting and velocity checks.
package counter

import (
	"context"
	"time"
)

// Store is a key -> (count, expiry) counter. Increment and expiry-setting
// behave atomically relative to concurrent callers on the same key.
//
// Implementations must fail open: on backend failure they return a zero
// count alongside the error, and the caller decides how loudly to degrade.
type Store interface {
	// Increment adds 1 to the counter for key, starting a new window of the
	// given length if none is active, and returns the new count.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)

	// IncrementBy is Increment with an arbitrary positive delta.
	IncrementBy(ctx context.Context, key string, n int64, window time.Duration) (int64, error)

	// Get returns the current count for key, or 0 if the key is absent or
	// its window has expired.
	Get(ctx context.Context, key string) (int64, error)

	// TTL returns the remaining time in the key's current window, or 0 if
	// the key is absent or expired.
	TTL(ctx context.Context, key string) (time.Duration, error)
}
