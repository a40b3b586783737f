// Package signing implements the HMAC request-signing protocol used for
// service-to-service calls, including replay protection.
package signing

import (
	"context"
	"sync"
	"time"
)

// DefaultReplayWindow is how long a recorded nonce stays poisoned.
const DefaultReplayWindow = 5 * time.Minute

// Ledger is the replay-protection store consulted by the verifier. The
// check-and-record must be atomic so two concurrent copies of the same
// signed request cannot both pass.
type Ledger interface {
	// CheckAndRecord marks the nonce as seen and reports whether it had
	// already been recorded within the replay window. A non-nil error
	// means the backing store could not answer; callers must fail closed.
	CheckAndRecord(ctx context.Context, nonce string) (replayed bool, err error)
	Close()
}

// NonceLedger tracks signing nonces seen within the replay window using an
// in-process map, for single-instance deployments. One ledger instance is
// shared per process and injected into the verifier.
type NonceLedger struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
	done   chan struct{}
	closed bool
}

// NewNonceLedger creates a ledger and starts a low-frequency background
// sweep so expired entries never pile up on the hot path.
func NewNonceLedger(window time.Duration) *NonceLedger {
	if window <= 0 {
		window = DefaultReplayWindow
	}
	l := &NonceLedger{
		seen:   make(map[string]time.Time),
		window: window,
		now:    time.Now,
		done:   make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// CheckAndRecord checks and records the nonce under a single mutex hold,
// so concurrent copies of the same request cannot interleave between the
// check and the record.
func (l *NonceLedger) CheckAndRecord(ctx context.Context, nonce string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if firstSeen, ok := l.seen[nonce]; ok {
		if !now.After(firstSeen.Add(l.window)) {
			return true, nil
		}
		// Stale entry from a previous window; the nonce may be reused.
	}
	l.seen[nonce] = now
	return false, nil
}

// Close stops the background sweep.
func (l *NonceLedger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
}

func (l *NonceLedger) sweepLoop() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.done:
			return
		}
	}
}

func (l *NonceLedger) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for nonce, firstSeen := range l.seen {
		if now.After(firstSeen.Add(l.window)) {
			delete(l.seen, nonce)
		}
	}
}
