package signing

import (
	"context"
	"crypto/hmac"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Machine-readable failure codes returned with HTTP 401.
const (
	CodeMissingSignature = "MISSING_SIGNATURE"
	CodeExpiredSignature = "EXPIRED_SIGNATURE"
	CodeInvalidSignature = "INVALID_SIGNATURE"
	CodeReplayDetected   = "REPLAY_DETECTED"
)

// VerifyError is a terminal signature verification failure. A request that
// cannot be verified is never trusted.
type VerifyError struct {
	Code    string
	Message string
}

func (e *VerifyError) Error() string {
	return e.Message
}

// Verifier authenticates inbound signed requests against a shared secret,
// bounded by a timestamp tolerance and the nonce ledger's replay window.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	ledger    Ledger
	now       func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration, ledger Ledger) *Verifier {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Verifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		ledger:    ledger,
		now:       time.Now,
	}
}

// Verify recomputes the canonical string from the inbound request and
// checks the supplied signature. The nonce is recorded only after the
// digest matches, so a forged request cannot poison the nonce space.
func (v *Verifier) Verify(ctx context.Context, method, path string, query url.Values, body []byte, headers http.Header) *VerifyError {
	signature := headers.Get(HeaderSignature)
	timestamp := headers.Get(HeaderTimestamp)
	nonce := headers.Get(HeaderNonce)

	if signature == "" || timestamp == "" || nonce == "" {
		return &VerifyError{Code: CodeMissingSignature, Message: "missing signature"}
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return &VerifyError{Code: CodeInvalidSignature, Message: "invalid signature"}
	}

	drift := v.now().UnixMilli() - ts
	if drift < 0 {
		drift = -drift
	}
	if drift > v.tolerance.Milliseconds() {
		return &VerifyError{Code: CodeExpiredSignature, Message: "expired"}
	}

	contentHash := headers.Get(HeaderContentHash)
	if contentHash != "" && !hmac.Equal([]byte(contentHash), []byte(hashBody(body))) {
		return &VerifyError{Code: CodeInvalidSignature, Message: "invalid signature"}
	}

	canonical := canonicalString(method, path, timestamp, nonce, query, contentHash)
	expected := computeDigest(v.secret, canonical)

	// hmac.Equal is constant time and rejects unequal lengths.
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return &VerifyError{Code: CodeInvalidSignature, Message: "invalid signature"}
	}

	replayed, err := v.ledger.CheckAndRecord(ctx, nonce)
	if err != nil {
		// A ledger outage means replay cannot be ruled out; reject.
		return &VerifyError{Code: CodeInvalidSignature, Message: "replay check unavailable"}
	}
	if replayed {
		return &VerifyError{Code: CodeReplayDetected, Message: "replay detected"}
	}

	return nil
}
