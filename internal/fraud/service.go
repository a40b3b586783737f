// Package fraud aggregates independent risk signals into a single score and
// an action recommendation gating checkout.
package fraud

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/w3bsuki/strike-shop-trust/internal/config"
	"github.com/w3bsuki/strike-shop-trust/internal/counter"
	"github.com/w3bsuki/strike-shop-trust/internal/models"
	"github.com/w3bsuki/strike-shop-trust/pkg/metrics"
)

// Action thresholds on the aggregate risk score.
const (
	blockThreshold     = 85
	reviewThreshold    = 70
	challengeThreshold = 50
)

const (
	historyDay  = 24 * time.Hour
	historyHour = time.Hour
	emaWeight   = 0.3
)

type Service struct {
	counters counter.Store
	profiles ProfileStore
	cfg      *config.Config
	logger   *zap.Logger

	allowedCountries map[string]bool
	highRisk         map[string]bool
	veryHighRisk     map[string]bool
}

func NewService(counters counter.Store, profiles ProfileStore, cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{
		counters:         counters,
		profiles:         profiles,
		cfg:              cfg,
		logger:           logger,
		allowedCountries: toSet(cfg.AllowedCountries),
		highRisk:         toSet(cfg.HighRiskCountries),
		veryHighRisk:     toSet(cfg.VeryHighRiskCountries),
	}
}

// Check scores a transaction against prior history. The transaction is
// folded into history only after scoring, so it never counts against its
// own velocity check.
func (s *Service) Check(ctx context.Context, tx *models.TransactionContext) *models.FraudCheckResult {
	result := &models.FraudCheckResult{
		TransactionID: tx.TransactionID,
		Reasons:       []string{},
		Timestamp:     time.Now(),
	}

	checks := []func(context.Context, *models.TransactionContext) (int, []string){
		s.checkVelocity,
		s.checkGeography,
		s.checkPaymentPattern,
		s.checkDeviceFingerprint,
		s.checkEmailRisk,
		s.checkAddressMismatch,
	}

	total := 0
	for _, check := range checks {
		score, reasons := check(ctx, tx)
		total += score
		result.Reasons = append(result.Reasons, reasons...)
	}

	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}
	result.RiskScore = total
	result.RiskLevel = riskLevel(total)
	result.SuggestedAction = suggestedAction(total)
	result.RequiresManualReview = result.SuggestedAction == models.ActionReview ||
		result.SuggestedAction == models.ActionBlock
	result.Allow = result.SuggestedAction != models.ActionBlock

	s.recordHistory(ctx, tx)

	metrics.FraudChecksTotal.WithLabelValues(string(result.SuggestedAction)).Inc()
	if result.RiskScore >= challengeThreshold {
		s.logger.Warn("elevated fraud risk",
			zap.String("transaction_id", tx.TransactionID),
			zap.String("user_id", tx.UserID),
			zap.Int("score", result.RiskScore),
			zap.String("action", string(result.SuggestedAction)),
			zap.Strings("reasons", result.Reasons))
	}

	return result
}

func riskLevel(score int) models.RiskLevel {
	switch {
	case score >= reviewThreshold:
		return models.RiskLevelHigh
	case score >= 40:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

func suggestedAction(score int) models.Action {
	switch {
	case score >= blockThreshold:
		return models.ActionBlock
	case score >= reviewThreshold:
		return models.ActionReview
	case score >= challengeThreshold:
		return models.ActionChallenge
	default:
		return models.ActionAllow
	}
}

// recordHistory folds the scored transaction into the counters and profile
// facts future checks compare against. Failures only degrade future
// signal quality, so they are logged and swallowed.
func (s *Service) recordHistory(ctx context.Context, tx *models.TransactionContext) {
	increments := []struct {
		key    string
		n      int64
		window time.Duration
	}{
		{velocityKey("count", "hour", tx.UserID), 1, historyHour},
		{velocityKey("count", "day", tx.UserID), 1, historyDay},
		{velocityKey("amount", "hour", tx.UserID), tx.Amount, historyHour},
		{velocityKey("amount", "day", tx.UserID), tx.Amount, historyDay},
	}
	for _, inc := range increments {
		if _, err := s.counters.IncrementBy(ctx, inc.key, inc.n, inc.window); err != nil {
			s.logger.Warn("velocity history update failed",
				zap.String("key", inc.key),
				zap.Error(err))
		}
	}

	if tx.Amount >= s.cfg.SuspiciousAmount {
		if _, err := s.counters.Increment(ctx, "fraud:highvalue:hour:"+tx.UserID, historyHour); err != nil {
			s.logger.Warn("high-value cluster update failed", zap.Error(err))
		}
	}

	s.updateAverage(ctx, tx)
	s.updateProfileFact(ctx, "fraud:lastcountry:"+tx.UserID, shippingCountry(tx), "fraud:countrychanges:day:"+tx.UserID)
	s.updateProfileFact(ctx, "fraud:lastip:"+tx.UserID, tx.IPAddress, "fraud:devicechanges:day:"+tx.UserID)
	s.updateProfileFact(ctx, "fraud:lastua:"+tx.UserID, tx.UserAgent, "fraud:devicechanges:day:"+tx.UserID)
	s.updateProfileFact(ctx, "fraud:lastemail:"+tx.UserID, tx.Email, "")
}

// updateProfileFact stores the latest value for a user fact and, when it
// changed, bumps the fact's daily change counter.
func (s *Service) updateProfileFact(ctx context.Context, factKey, value, changeCounterKey string) {
	if value == "" {
		return
	}
	previous, ok, err := s.profiles.Get(ctx, factKey)
	if err != nil {
		s.logger.Warn("profile read failed", zap.String("key", factKey), zap.Error(err))
		return
	}
	if ok && previous != value && changeCounterKey != "" {
		if _, err := s.counters.Increment(ctx, changeCounterKey, historyDay); err != nil {
			s.logger.Warn("change counter update failed", zap.Error(err))
		}
	}
	if err := s.profiles.Set(ctx, factKey, value, 30*historyDay); err != nil {
		s.logger.Warn("profile write failed", zap.String("key", factKey), zap.Error(err))
	}
}

func (s *Service) updateAverage(ctx context.Context, tx *models.TransactionContext) {
	avg := s.averagePurchase(ctx, tx.UserID)
	next := float64(tx.Amount)
	if avg > 0 {
		next = emaWeight*float64(tx.Amount) + (1-emaWeight)*avg
	}
	if err := s.profiles.Set(ctx, "fraud:avgpurchase:"+tx.UserID, formatFloat(next), 90*historyDay); err != nil {
		s.logger.Warn("average purchase update failed", zap.Error(err))
	}
}

func (s *Service) averagePurchase(ctx context.Context, userID string) float64 {
	val, ok, err := s.profiles.Get(ctx, "fraud:avgpurchase:"+userID)
	if err != nil || !ok {
		return 0
	}
	return parseFloat(val)
}

func (s *Service) counterValue(ctx context.Context, key string) int64 {
	count, err := s.counters.Get(ctx, key)
	if err != nil {
		metrics.CounterStoreErrorsTotal.Inc()
		s.logger.Warn("counter read failing open", zap.String("key", key), zap.Error(err))
		return 0
	}
	return count
}

func velocityKey(kind, window, userID string) string {
	return fmt.Sprintf("fraud:velocity:%s:%s:%s", kind, window, userID)
}

func shippingCountry(tx *models.TransactionContext) string {
	if tx.ShippingAddress == nil {
		return ""
	}
	return tx.ShippingAddress.Country
}

func billingCountry(tx *models.TransactionContext) string {
	if tx.BillingAddress == nil {
		return ""
	}
	return tx.BillingAddress.Country
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
