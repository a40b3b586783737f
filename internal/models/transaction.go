package models

import (
	"errors"
	"time"
)

type RiskLevel string
type Action string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"

	ActionAllow     Action = "allow"
	ActionChallenge Action = "challenge"
	ActionReview    Action = "review"
	ActionBlock     Action = "block"
)

// CartItem is an immutable snapshot of a cart line at validation time.
// Prices are integer minor units (cents).
type CartItem struct {
	ID        string `json:"id" binding:"required"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price" binding:"min=0"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

// TransactionContext carries everything the trust layer needs about a
// checkout attempt. Built once at the pipeline boundary, never mutated.
type TransactionContext struct {
	TransactionID        string     `json:"transaction_id"`
	UserID               string     `json:"user_id" binding:"required"`
	Email                string     `json:"email" binding:"required,email"`
	Amount               int64      `json:"amount" binding:"required,gt=0"`
	Currency             string     `json:"currency" binding:"required,len=3"`
	IPAddress            string     `json:"ip_address"`
	UserAgent            string     `json:"user_agent"`
	ShippingAddress      *Address   `json:"shipping_address"`
	BillingAddress       *Address   `json:"billing_address"`
	Items                []CartItem `json:"items" binding:"required,dive"`
	PaymentMethodSummary string     `json:"payment_method_summary"`
	Timestamp            time.Time  `json:"timestamp"`
}

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Validate rejects malformed contexts before any scorer sees them.
func (t *TransactionContext) Validate() error {
	if t.UserID == "" {
		return errors.New("user id is required")
	}
	if t.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	if len(t.Currency) != 3 {
		return errors.New("currency must be a 3-letter code")
	}
	for _, item := range t.Items {
		if item.Quantity <= 0 {
			return errors.New("item quantity must be positive")
		}
	}
	return nil
}

// PaymentValidationResult is the outcome of structural/amount validation.
type PaymentValidationResult struct {
	IsValid              bool     `json:"is_valid"`
	Errors               []string `json:"errors"`
	Warnings             []string `json:"warnings"`
	RiskScore            int      `json:"risk_score"`
	RequiresManualReview bool     `json:"requires_manual_review"`
	Requires3DS          bool     `json:"requires_3ds"`
}

// FraudCheckResult is the aggregate verdict of the fraud engine.
type FraudCheckResult struct {
	TransactionID        string    `json:"transaction_id"`
	Allow                bool      `json:"allow"`
	RiskScore            int       `json:"risk_score"`
	RiskLevel            RiskLevel `json:"risk_level"`
	Reasons              []string  `json:"reasons"`
	RequiresManualReview bool      `json:"requires_manual_review"`
	SuggestedAction      Action    `json:"suggested_action"`
	Timestamp            time.Time `json:"timestamp"`
}

// TrustDecisionRecord is the persisted audit row for a fraud decision.
type TrustDecisionRecord struct {
	ID            string    `json:"id" db:"id"`
	TransactionID string    `json:"transaction_id" db:"transaction_id"`
	UserID        string    `json:"user_id" db:"user_id"`
	Score         int       `json:"score" db:"score"`
	RiskLevel     string    `json:"risk_level" db:"risk_level"`
	Action        string    `json:"action" db:"action"`
	Reasons       []string  `json:"reasons" db:"reasons"`
	ProcessingMS  int64     `json:"processing_ms" db:"processing_ms"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
