// Package validation implements structural and amount validation for
// proposed charges, the primary defense against client-side price tampering.
package validation

import (
	"fmt"
	"math"

	"github.com/w3bsuki/strike-shop-trust/internal/config"
	"github.com/w3bsuki/strike-shop-trust/internal/models"
)

type PaymentValidator struct {
	cfg               *config.Config
	allowedCurrencies map[string]bool
	allowedCountries  map[string]bool
	highRiskCountries map[string]bool
}

func NewPaymentValidator(cfg *config.Config) *PaymentValidator {
	return &PaymentValidator{
		cfg:               cfg,
		allowedCurrencies: toSet(cfg.AllowedCurrencies),
		allowedCountries:  toSet(cfg.AllowedCountries),
		highRiskCountries: toSet(cfg.HighRiskCountries),
	}
}

// Validate checks a proposed charge against the cart snapshot, amount
// bounds, currency allow-list and geography. Amounts are minor units.
func (v *PaymentValidator) Validate(amount int64, currency string, items []models.CartItem, shippingCountry, billingCountry string) *models.PaymentValidationResult {
	result := &models.PaymentValidationResult{
		Errors:   []string{},
		Warnings: []string{},
	}

	v.checkAmountBounds(amount, result)
	v.checkCartConsistency(amount, items, result)
	v.checkCartShape(items, result)
	v.checkGeography(shippingCountry, billingCountry, result)
	v.checkCurrency(currency, result)

	if result.RiskScore > 100 {
		result.RiskScore = 100
	}

	result.IsValid = len(result.Errors) == 0
	result.RequiresManualReview = amount >= v.cfg.ReviewAmount ||
		result.RiskScore >= 70 ||
		len(result.Errors) > 0
	result.Requires3DS = amount >= v.cfg.ThreeDSAmount ||
		result.RiskScore >= 50 ||
		v.highRiskCountries[shippingCountry]

	return result
}

func (v *PaymentValidator) checkAmountBounds(amount int64, result *models.PaymentValidationResult) {
	if amount < v.cfg.MinAmount {
		result.Errors = append(result.Errors,
			fmt.Sprintf("amount %d below minimum %d", amount, v.cfg.MinAmount))
		return
	}
	if amount > v.cfg.MaxAmount {
		result.Errors = append(result.Errors,
			fmt.Sprintf("amount %d exceeds maximum %d", amount, v.cfg.MaxAmount))
		return
	}
	if amount >= v.cfg.SuspiciousAmount {
		result.Warnings = append(result.Warnings, "unusually large amount")
		result.RiskScore += 10
	}
}

// checkCartConsistency recomputes the cart total and compares it to the
// proposed charge within a tolerance. A mismatch is price tampering until
// proven otherwise.
func (v *PaymentValidator) checkCartConsistency(amount int64, items []models.CartItem, result *models.PaymentValidationResult) {
	if len(items) == 0 {
		return
	}

	var total int64
	for _, item := range items {
		total += item.UnitPrice * int64(item.Quantity)
	}

	diff := math.Abs(float64(amount - total))
	tolerance := float64(total) * v.cfg.CartTolerancePct
	if diff > tolerance {
		result.Errors = append(result.Errors,
			fmt.Sprintf("amount %d does not match cart total %d", amount, total))
		result.RiskScore += 40
	}
}

func (v *PaymentValidator) checkCartShape(items []models.CartItem, result *models.PaymentValidationResult) {
	if len(items) == 0 {
		result.Errors = append(result.Errors, "cart is empty")
		return
	}

	if len(items) > v.cfg.MaxItemCount {
		result.Warnings = append(result.Warnings, "unusually many distinct items")
		result.RiskScore += 10
	}

	var totalQuantity int
	seen := make(map[string]bool, len(items))
	duplicates := false
	for _, item := range items {
		totalQuantity += item.Quantity
		if item.UnitPrice < 0 {
			result.Errors = append(result.Errors,
				fmt.Sprintf("item %s has negative price", item.ID))
			result.RiskScore += 50
		}
		if seen[item.ID] {
			duplicates = true
		}
		seen[item.ID] = true
	}

	if totalQuantity > v.cfg.MaxTotalQuantity {
		result.Warnings = append(result.Warnings, "unusually large total quantity")
		result.RiskScore += 10
	}
	if duplicates {
		result.Warnings = append(result.Warnings, "duplicate item identifiers in cart")
		result.RiskScore += 5
	}
}

func (v *PaymentValidator) checkGeography(shippingCountry, billingCountry string, result *models.PaymentValidationResult) {
	for _, country := range []string{shippingCountry, billingCountry} {
		if country == "" {
			continue
		}
		if !v.allowedCountries[country] {
			result.Errors = append(result.Errors,
				fmt.Sprintf("country %s is not supported", country))
			continue
		}
		if v.highRiskCountries[country] {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("high-risk country %s", country))
			result.RiskScore += 15
		}
	}

	if shippingCountry != "" && billingCountry != "" && shippingCountry != billingCountry {
		result.Warnings = append(result.Warnings, "shipping and billing country mismatch")
		result.RiskScore += 5
	}
}

func (v *PaymentValidator) checkCurrency(currency string, result *models.PaymentValidationResult) {
	if !v.allowedCurrencies[currency] {
		result.Errors = append(result.Errors,
			fmt.Sprintf("currency %s is not supported", currency))
	}
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
