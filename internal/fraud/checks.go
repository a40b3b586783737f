package fraud

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/w3bsuki/strike-shop-trust/internal/models"
)

// checkVelocity compares the user's transaction rate and cumulative spend
// against hourly and daily budgets. Counter reads fail open.
func (s *Service) checkVelocity(ctx context.Context, tx *models.TransactionContext) (int, []string) {
	score := 0
	var reasons []string

	txPerHour := s.counterValue(ctx, velocityKey("count", "hour", tx.UserID))
	if txPerHour >= s.cfg.MaxTxPerHour {
		score += 25
		reasons = append(reasons, fmt.Sprintf("velocity: %d transactions in the last hour", txPerHour))
	}

	txPerDay := s.counterValue(ctx, velocityKey("count", "day", tx.UserID))
	if txPerDay >= s.cfg.MaxTxPerDay {
		score += 20
		reasons = append(reasons, fmt.Sprintf("velocity: %d transactions in the last day", txPerDay))
	}

	amountPerHour := s.counterValue(ctx, velocityKey("amount", "hour", tx.UserID))
	if amountPerHour+tx.Amount > s.cfg.MaxAmountPerHour {
		score += 20
		reasons = append(reasons, "velocity: hourly spend limit exceeded")
	}

	amountPerDay := s.counterValue(ctx, velocityKey("amount", "day", tx.UserID))
	if amountPerDay+tx.Amount > s.cfg.MaxAmountPerDay {
		score += 15
		reasons = append(reasons, "velocity: daily spend limit exceeded")
	}

	return score, reasons
}

// checkGeography applies the country risk tiers to both addresses and flags
// users whose shipping country keeps changing.
func (s *Service) checkGeography(ctx context.Context, tx *models.TransactionContext) (int, []string) {
	score := 0
	var reasons []string

	countries := []struct {
		label   string
		country string
	}{
		{"shipping", shippingCountry(tx)},
		{"billing", billingCountry(tx)},
	}
	for _, c := range countries {
		label, country := c.label, c.country
		if country == "" {
			continue
		}
		switch {
		case s.veryHighRisk[country]:
			score += 35
			reasons = append(reasons, fmt.Sprintf("geography: very high risk %s country %s", label, country))
		case s.highRisk[country]:
			score += 15
			reasons = append(reasons, fmt.Sprintf("geography: high risk %s country %s", label, country))
		case !s.allowedCountries[country]:
			score += 25
			reasons = append(reasons, fmt.Sprintf("geography: unsupported %s country %s", label, country))
		}
	}

	current := shippingCountry(tx)
	if current != "" {
		previous, ok, err := s.profiles.Get(ctx, "fraud:lastcountry:"+tx.UserID)
		if err == nil && ok && previous != current {
			changes := s.counterValue(ctx, "fraud:countrychanges:day:"+tx.UserID)
			if changes >= 2 {
				score += 20
				reasons = append(reasons, "geography: rapid shipping country changes")
			}
		}
	}

	return score, reasons
}

var testCardPatterns = []string{
	"4242424242424242", "4111111111111111", "5555555555554444",
	"378282246310005", "4000000000000002",
}

// checkPaymentPattern looks for test cards, numerically suspicious amounts,
// deviation from the user's purchase history, and high-value clustering.
func (s *Service) checkPaymentPattern(ctx context.Context, tx *models.TransactionContext) (int, []string) {
	score := 0
	var reasons []string

	summary := strings.ReplaceAll(tx.PaymentMethodSummary, " ", "")
	for _, pattern := range testCardPatterns {
		if strings.Contains(summary, pattern) {
			score += 40
			reasons = append(reasons, "payment: known test card pattern")
			break
		}
	}

	if repeatedDigits(tx.Amount) {
		score += 10
		reasons = append(reasons, fmt.Sprintf("payment: suspicious repeated-digit amount %d", tx.Amount))
	}
	if tx.Amount < s.cfg.MaxAmount && s.cfg.MaxAmount-tx.Amount <= 100 {
		score += 10
		reasons = append(reasons, "payment: amount just under transaction limit")
	}

	if avg := s.averagePurchase(ctx, tx.UserID); avg > 0 && float64(tx.Amount) > 5*avg {
		score += 20
		reasons = append(reasons, fmt.Sprintf("payment: amount %d far above user average %.0f", tx.Amount, avg))
	}

	if tx.Amount >= s.cfg.SuspiciousAmount {
		recent := s.counterValue(ctx, "fraud:highvalue:hour:"+tx.UserID)
		if recent >= 2 {
			score += 15
			reasons = append(reasons, "payment: cluster of high-value orders")
		}
	}

	return score, reasons
}

var botSignatures = []string{
	"headless", "phantomjs", "puppeteer", "playwright", "selenium",
	"python-requests", "curl/", "wget/", "bot", "spider", "crawler",
}

// Known anonymizing-network prefixes (Tor exits, common VPN egress blocks).
var anonymizingPrefixes = []string{
	"185.220.", "185.100.", "199.249.230.", "104.244.72.", "23.129.64.",
}

func (s *Service) checkDeviceFingerprint(ctx context.Context, tx *models.TransactionContext) (int, []string) {
	score := 0
	var reasons []string

	ua := strings.ToLower(tx.UserAgent)
	if ua == "" {
		score += 10
		reasons = append(reasons, "device: missing user agent")
	} else {
		for _, sig := range botSignatures {
			if strings.Contains(ua, sig) {
				score += 25
				reasons = append(reasons, fmt.Sprintf("device: automation signature %q in user agent", sig))
				break
			}
		}
	}

	for _, prefix := range anonymizingPrefixes {
		if strings.HasPrefix(tx.IPAddress, prefix) {
			score += 20
			reasons = append(reasons, "device: anonymizing network indicator in IP")
			break
		}
	}

	changes := s.counterValue(ctx, "fraud:devicechanges:day:"+tx.UserID)
	if changes >= 3 {
		score += 15
		reasons = append(reasons, "device: frequent device or IP changes")
	}

	return score, reasons
}

var disposableDomains = map[string]bool{
	"mailinator.com": true, "guerrillamail.com": true, "10minutemail.com": true,
	"tempmail.com": true, "temp-mail.org": true, "yopmail.com": true,
	"trashmail.com": true, "sharklasers.com": true, "getnada.com": true,
	"dispostable.com": true, "maildrop.cc": true, "throwawaymail.com": true,
}

func (s *Service) checkEmailRisk(ctx context.Context, tx *models.TransactionContext) (int, []string) {
	score := 0
	var reasons []string

	local, domain, found := strings.Cut(strings.ToLower(tx.Email), "@")
	if !found {
		return 0, nil
	}

	if disposableDomains[domain] {
		score += 25
		reasons = append(reasons, fmt.Sprintf("email: disposable domain %s", domain))
	}

	if randomLookingLocalPart(local) {
		score += 15
		reasons = append(reasons, "email: random-looking address")
	}

	previous, ok, err := s.profiles.Get(ctx, "fraud:lastemail:"+tx.UserID)
	if err == nil && ok && previous != strings.ToLower(tx.Email) && previous != tx.Email {
		score += 10
		reasons = append(reasons, "email: recently changed on file")
	}

	return score, reasons
}

var (
	poBoxPattern          = regexp.MustCompile(`(?i)\bp\.?\s*o\.?\s*box\b|\bpost\s+office\s+box\b`)
	freightForwarderTerms = []string{"freight", "forwarding", "forwarder", "reship", "shipito", "myus.com", "parcel hub"}

	postalFormats = map[string]*regexp.Regexp{
		"US": regexp.MustCompile(`^\d{5}(-\d{4})?$`),
		"GB": regexp.MustCompile(`^[A-Za-z]{1,2}\d[A-Za-z\d]?\s*\d[A-Za-z]{2}$`),
		"DE": regexp.MustCompile(`^\d{5}$`),
		"FR": regexp.MustCompile(`^\d{5}$`),
		"BG": regexp.MustCompile(`^\d{4}$`),
		"CA": regexp.MustCompile(`^[A-Za-z]\d[A-Za-z]\s*\d[A-Za-z]\d$`),
		"NL": regexp.MustCompile(`^\d{4}\s*[A-Za-z]{2}$`),
	}
)

func (s *Service) checkAddressMismatch(ctx context.Context, tx *models.TransactionContext) (int, []string) {
	score := 0
	var reasons []string

	addr := tx.ShippingAddress
	if addr == nil {
		return 0, nil
	}

	text := strings.ToLower(addr.Line1 + " " + addr.Line2)

	if tx.Amount >= s.cfg.ThreeDSAmount && poBoxPattern.MatchString(text) {
		score += 20
		reasons = append(reasons, "address: PO box shipping on high-value order")
	}

	for _, term := range freightForwarderTerms {
		if strings.Contains(text, term) {
			score += 15
			reasons = append(reasons, "address: freight forwarder indicators")
			break
		}
	}

	if format, ok := postalFormats[addr.Country]; ok && addr.PostalCode != "" {
		if !format.MatchString(addr.PostalCode) {
			score += 10
			reasons = append(reasons, fmt.Sprintf("address: malformed postal code for %s", addr.Country))
		}
	}

	return score, reasons
}

// repeatedDigits reports whether every digit of n is the same (1111, 99999).
func repeatedDigits(n int64) bool {
	if n < 1000 {
		return false
	}
	digits := strconv.FormatInt(n, 10)
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			return false
		}
	}
	return true
}

// randomLookingLocalPart flags long local parts that are digit-heavy or
// nearly vowel-free, a common shape for machine-generated accounts.
func randomLookingLocalPart(local string) bool {
	if len(local) < 10 {
		return false
	}
	vowels, digits, letters := 0, 0, 0
	for _, ch := range local {
		switch {
		case strings.ContainsRune("aeiou", ch):
			vowels++
			letters++
		case ch >= 'a' && ch <= 'z':
			letters++
		case ch >= '0' && ch <= '9':
			digits++
		}
	}
	if digits > len(local)/2 {
		return true
	}
	return letters > 0 && float64(vowels)/float64(letters) < 0.15
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
