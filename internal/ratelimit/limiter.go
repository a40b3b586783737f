// Package ratelimit provides per-route, per-client fixed-window admission
// control on top of the windowed counter store.
package ratelimit

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/w3bsuki/strike-shop-trust/internal/config"
	"github.com/w3bsuki/strike-shop-trust/internal/counter"
	"github.com/w3bsuki/strike-shop-trust/pkg/metrics"
)

// Result is the outcome of a rate-limit check.
type Result struct {
	Blocked    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter enforces route budgets keyed by path prefix. On counter store
// failure it fails open: commerce availability outranks strict limiting.
type Limiter struct {
	store        counter.Store
	routeLimits  []config.RouteLimit
	defaultLimit config.RouteLimit
	logger       *zap.Logger
	now          func() time.Time
}

func NewLimiter(store counter.Store, cfg *config.Config, logger *zap.Logger) *Limiter {
	return &Limiter{
		store:        store,
		routeLimits:  cfg.RouteLimits,
		defaultLimit: cfg.DefaultRateLimit,
		logger:       logger,
		now:          time.Now,
	}
}

// ClientID derives the limit key, preferring the authenticated user over
// the network address so the two abuse populations are tracked separately.
func ClientID(userID, ip string) string {
	if userID != "" {
		return "user:" + userID
	}
	if ip != "" {
		return "ip:" + ip
	}
	return "anonymous"
}

// Check admits or blocks one request for clientID against routeKey's budget.
func (l *Limiter) Check(ctx context.Context, clientID, routeKey string) Result {
	budget := l.budgetFor(routeKey)
	key := "ratelimit:" + routeKey + ":" + clientID

	count, err := l.store.Increment(ctx, key, budget.Window)
	if err != nil {
		metrics.CounterStoreErrorsTotal.Inc()
		l.logger.Warn("rate limiter failing open",
			zap.String("route", routeKey),
			zap.Error(err))
		return Result{
			Blocked:   false,
			Limit:     budget.Limit,
			Remaining: budget.Limit,
			ResetAt:   l.now().Add(budget.Window),
		}
	}

	ttl, err := l.store.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		ttl = budget.Window
	}
	resetAt := l.now().Add(ttl)

	if count > budget.Limit {
		metrics.RateLimitedTotal.WithLabelValues(routeKey).Inc()
		return Result{
			Blocked:    true,
			Limit:      budget.Limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: ttl,
		}
	}

	return Result{
		Blocked:   false,
		Limit:     budget.Limit,
		Remaining: budget.Limit - count,
		ResetAt:   resetAt,
	}
}

func (l *Limiter) budgetFor(routeKey string) config.RouteLimit {
	for _, rl := range l.routeLimits {
		if strings.HasPrefix(routeKey, rl.Prefix) {
			return rl
		}
	}
	return l.defaultLimit
}
