package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"go.uber.org/zap"

	"github.com/w3bsuki/strike-shop-trust/internal/fraud"
	"github.com/w3bsuki/strike-shop-trust/internal/models"
	"github.com/w3bsuki/strike-shop-trust/internal/repository"
	"github.com/w3bsuki/strike-shop-trust/internal/validation"
	"github.com/w3bsuki/strike-shop-trust/pkg/metrics"
)

// Decision is the combined trust verdict the checkout endpoint returns.
type Decision struct {
	TransactionID  string                          `json:"transaction_id"`
	Allowed        bool                            `json:"allowed"`
	Action         models.Action                   `json:"action"`
	Requires3DS    bool                            `json:"requires_3ds"`
	RequiresReview bool                            `json:"requires_review"`
	Validation     *models.PaymentValidationResult `json:"validation"`
	Fraud          *models.FraudCheckResult        `json:"fraud,omitempty"`
	ClientSecret   string                          `json:"client_secret,omitempty"`
}

// CheckoutService runs the trust pipeline for a checkout attempt and, when
// the verdict allows, opens the payment with the gateway.
type CheckoutService struct {
	validator *validation.PaymentValidator
	fraud     *fraud.Service
	audit     *repository.AuditRepository
	stripeKey string
	logger    *zap.Logger
}

func NewCheckoutService(validator *validation.PaymentValidator, fraudSvc *fraud.Service, audit *repository.AuditRepository, stripeKey string, logger *zap.Logger) *CheckoutService {
	stripe.Key = stripeKey
	return &CheckoutService{
		validator: validator,
		fraud:     fraudSvc,
		audit:     audit,
		stripeKey: stripeKey,
		logger:    logger,
	}
}

// ProcessCheckout validates the charge, scores it for fraud and combines
// both verdicts. Rate limiting happens upstream in middleware; a request
// that reaches this point has already been admitted.
func (s *CheckoutService) ProcessCheckout(ctx context.Context, tx *models.TransactionContext) (*Decision, error) {
	start := time.Now()
	if tx.TransactionID == "" {
		tx.TransactionID = uuid.New().String()
	}

	validationResult := s.validator.Validate(
		tx.Amount, tx.Currency, tx.Items,
		addressCountry(tx.ShippingAddress), addressCountry(tx.BillingAddress))

	decision := &Decision{
		TransactionID: tx.TransactionID,
		Validation:    validationResult,
	}

	// Hard errors terminate the pipeline; the fraud engine never sees
	// structurally invalid input.
	if !validationResult.IsValid {
		metrics.ValidationFailuresTotal.Inc()
		decision.Allowed = false
		decision.Action = models.ActionBlock
		decision.RequiresReview = validationResult.RequiresManualReview
		s.saveAudit(ctx, tx, decision, validationResult.Errors, start)
		return decision, nil
	}

	fraudResult := s.fraud.Check(ctx, tx)
	decision.Fraud = fraudResult
	decision.Action = combineActions(validationResult, fraudResult)
	decision.Allowed = decision.Action != models.ActionBlock
	decision.RequiresReview = decision.Action == models.ActionReview ||
		validationResult.RequiresManualReview || fraudResult.RequiresManualReview
	decision.Requires3DS = validationResult.Requires3DS ||
		decision.Action == models.ActionChallenge

	reasons := append(append([]string{}, validationResult.Warnings...), fraudResult.Reasons...)
	s.saveAudit(ctx, tx, decision, reasons, start)

	if decision.Allowed && s.stripeKey != "" {
		secret, err := s.createPaymentIntent(tx, decision)
		if err != nil {
			return nil, fmt.Errorf("payment intent creation failed: %w", err)
		}
		decision.ClientSecret = secret
	}

	return decision, nil
}

// combineActions keeps the stronger of the two verdicts.
func combineActions(v *models.PaymentValidationResult, f *models.FraudCheckResult) models.Action {
	action := f.SuggestedAction
	if v.RequiresManualReview && rank(action) < rank(models.ActionReview) {
		action = models.ActionReview
	}
	if v.Requires3DS && rank(action) < rank(models.ActionChallenge) {
		action = models.ActionChallenge
	}
	return action
}

func rank(a models.Action) int {
	switch a {
	case models.ActionBlock:
		return 3
	case models.ActionReview:
		return 2
	case models.ActionChallenge:
		return 1
	default:
		return 0
	}
}

func (s *CheckoutService) createPaymentIntent(tx *models.TransactionContext, decision *Decision) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(tx.Amount),
		Currency: stripe.String(strings.ToLower(tx.Currency)),
	}
	params.AddMetadata("transaction_id", tx.TransactionID)
	params.AddMetadata("risk_score", strconv.Itoa(decision.Fraud.RiskScore))
	params.AddMetadata("action", string(decision.Action))

	if decision.Requires3DS {
		params.PaymentMethodOptions = &stripe.PaymentIntentPaymentMethodOptionsParams{
			Card: &stripe.PaymentIntentPaymentMethodOptionsCardParams{
				RequestThreeDSecure: stripe.String("any"),
			},
		}
	}

	intent, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	if intent.Status == stripe.PaymentIntentStatusRequiresAction {
		decision.Requires3DS = true
	}
	return intent.ClientSecret, nil
}

func (s *CheckoutService) saveAudit(ctx context.Context, tx *models.TransactionContext, decision *Decision, reasons []string, start time.Time) {
	if s.audit == nil {
		return
	}

	score := decision.Validation.RiskScore
	riskLevel := string(models.RiskLevelLow)
	if decision.Fraud != nil {
		score = decision.Fraud.RiskScore
		riskLevel = string(decision.Fraud.RiskLevel)
	}

	record := &models.TrustDecisionRecord{
		ID:            uuid.New().String(),
		TransactionID: tx.TransactionID,
		UserID:        tx.UserID,
		Score:         score,
		RiskLevel:     riskLevel,
		Action:        string(decision.Action),
		Reasons:       reasons,
		ProcessingMS:  time.Since(start).Milliseconds(),
		CreatedAt:     time.Now(),
	}
	if err := s.audit.SaveDecision(ctx, record); err != nil {
		s.logger.Error("failed to save trust decision",
			zap.String("transaction_id", tx.TransactionID),
			zap.Error(err))
	}
}

func addressCountry(addr *models.Address) string {
	if addr == nil {
		return ""
	}
	return addr.Country
}
