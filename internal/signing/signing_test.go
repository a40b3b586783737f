package signing

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testSecret = "test-signing-secret"

func signedRequest(t *testing.T, signer *Signer, method, path string, query url.Values, body []byte) http.Header {
	t.Helper()
	signed, err := signer.Sign(method, path, query, body)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	headers := http.Header{}
	headers.Set(HeaderSignature, signed.Signature)
	headers.Set(HeaderTimestamp, signed.Timestamp)
	headers.Set(HeaderNonce, signed.Nonce)
	if signed.ContentHash != "" {
		headers.Set(HeaderContentHash, signed.ContentHash)
	}
	return headers
}

func TestSignVerifyRoundTrip(t *testing.T) {
	ledger := NewNonceLedger(DefaultReplayWindow)
	defer ledger.Close()

	signer := NewSigner(testSecret)
	verifier := NewVerifier(testSecret, 5*time.Minute, ledger)

	body := []byte(`{"amount":1000}`)
	query := url.Values{"b": {"2"}, "a": {"1"}}
	headers := signedRequest(t, signer, "POST", "/internal/checkout", query, body)

	if err := verifier.Verify(context.Background(), "POST", "/internal/checkout", query, body, headers); err != nil {
		t.Errorf("Verify() error = %v, want nil", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	ledger := NewNonceLedger(DefaultReplayWindow)
	defer ledger.Close()

	signer := NewSigner(testSecret)
	verifier := NewVerifier(testSecret, 5*time.Minute, ledger)

	body := []byte(`{"amount":1000}`)

	tests := []struct {
		name   string
		method string
		path   string
		body   []byte
		mutate func(http.Header)
	}{
		{name: "altered method", method: "GET", path: "/internal/checkout", body: body},
		{name: "altered path", method: "POST", path: "/internal/refund", body: body},
		{name: "altered body byte", method: "POST", path: "/internal/checkout", body: []byte(`{"amount":1001}`)},
		{
			name: "altered nonce", method: "POST", path: "/internal/checkout", body: body,
			mutate: func(h http.Header) { h.Set(HeaderNonce, "forged-nonce-value") },
		},
		{
			name: "wrong secret signature", method: "POST", path: "/internal/checkout", body: body,
			mutate: func(h http.Header) {
				other := NewSigner("other-secret")
				hh := signedRequest(t, other, "POST", "/internal/checkout", nil, body)
				h.Set(HeaderSignature, hh.Get(HeaderSignature))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := signedRequest(t, signer, "POST", "/internal/checkout", nil, body)
			if tt.mutate != nil {
				tt.mutate(headers)
			}
			err := verifier.Verify(context.Background(), tt.method, tt.path, nil, tt.body, headers)
			if err == nil {
				t.Fatal("Verify() = nil, want error")
			}
			if err.Code != CodeInvalidSignature {
				t.Errorf("Verify() code = %s, want %s", err.Code, CodeInvalidSignature)
			}
		})
	}
}

func TestVerifyMissingHeaders(t *testing.T) {
	ledger := NewNonceLedger(DefaultReplayWindow)
	defer ledger.Close()

	verifier := NewVerifier(testSecret, 5*time.Minute, ledger)

	err := verifier.Verify(context.Background(), "POST", "/internal/checkout", nil, nil, http.Header{})
	if err == nil || err.Code != CodeMissingSignature {
		t.Errorf("Verify() = %v, want code %s", err, CodeMissingSignature)
	}
}

func TestVerifyExpiredTimestamp(t *testing.T) {
	ledger := NewNonceLedger(DefaultReplayWindow)
	defer ledger.Close()

	signer := NewSigner(testSecret)
	verifier := NewVerifier(testSecret, 5*time.Minute, ledger)

	headers := signedRequest(t, signer, "GET", "/internal/status", nil, nil)

	// Verifier clock runs ten minutes ahead of the signer.
	verifier.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	err := verifier.Verify(context.Background(), "GET", "/internal/status", nil, nil, headers)
	if err == nil || err.Code != CodeExpiredSignature {
		t.Errorf("Verify() = %v, want code %s", err, CodeExpiredSignature)
	}
}

func TestVerifyReplayRejected(t *testing.T) {
	ledger := NewNonceLedger(DefaultReplayWindow)
	defer ledger.Close()

	signer := NewSigner(testSecret)
	verifier := NewVerifier(testSecret, 5*time.Minute, ledger)

	body := []byte(`{"op":"capture"}`)
	headers := signedRequest(t, signer, "POST", "/internal/capture", nil, body)

	if err := verifier.Verify(context.Background(), "POST", "/internal/capture", nil, body, headers); err != nil {
		t.Fatalf("first Verify() error = %v", err)
	}

	err := verifier.Verify(context.Background(), "POST", "/internal/capture", nil, body, headers)
	if err == nil || err.Code != CodeReplayDetected {
		t.Errorf("second Verify() = %v, want code %s", err, CodeReplayDetected)
	}
}

func TestInvalidSignatureDoesNotPoisonNonce(t *testing.T) {
	ledger := NewNonceLedger(DefaultReplayWindow)
	defer ledger.Close()

	signer := NewSigner(testSecret)
	verifier := NewVerifier(testSecret, 5*time.Minute, ledger)

	headers := signedRequest(t, signer, "POST", "/internal/capture", nil, nil)
	nonce := headers.Get(HeaderNonce)

	// An attacker submits the stolen nonce with a bad signature.
	forged := http.Header{}
	forged.Set(HeaderSignature, "deadbeef")
	forged.Set(HeaderTimestamp, headers.Get(HeaderTimestamp))
	forged.Set(HeaderNonce, nonce)
	if err := verifier.Verify(context.Background(), "POST", "/internal/capture", nil, nil, forged); err == nil {
		t.Fatal("forged Verify() = nil, want error")
	}

	// The legitimate request must still succeed.
	if err := verifier.Verify(context.Background(), "POST", "/internal/capture", nil, nil, headers); err != nil {
		t.Errorf("legitimate Verify() after forgery = %v, want nil", err)
	}
}

func TestSignRequestRoundTrip(t *testing.T) {
	ledger := NewNonceLedger(DefaultReplayWindow)
	defer ledger.Close()

	signer := NewSigner(testSecret)
	verifier := NewVerifier(testSecret, 5*time.Minute, ledger)

	body := []byte(`{"op":"sync"}`)
	req, err := http.NewRequest("POST", "http://trust.internal/internal/v1/sync?cursor=10", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if err := signer.SignRequest(req); err != nil {
		t.Fatalf("SignRequest() error = %v", err)
	}

	// The body must survive signing intact.
	restored, _ := io.ReadAll(req.Body)
	if string(restored) != string(body) {
		t.Errorf("body after SignRequest = %q, want %q", restored, body)
	}

	if err := verifier.Verify(context.Background(), req.Method, req.URL.Path, req.URL.Query(), restored, req.Header); err != nil {
		t.Errorf("Verify() error = %v, want nil", err)
	}
}

// failingLedger simulates a nonce backend outage.
type failingLedger struct{}

func (failingLedger) CheckAndRecord(ctx context.Context, nonce string) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingLedger) Close() {}

func TestVerifyFailsClosedOnLedgerError(t *testing.T) {
	signer := NewSigner(testSecret)
	verifier := NewVerifier(testSecret, 5*time.Minute, failingLedger{})

	body := []byte(`{"op":"capture"}`)
	headers := signedRequest(t, signer, "POST", "/internal/capture", nil, body)

	err := verifier.Verify(context.Background(), "POST", "/internal/capture", nil, body, headers)
	if err == nil {
		t.Fatal("Verify() = nil with unavailable ledger, want error")
	}
	if err.Code != CodeInvalidSignature {
		t.Errorf("Verify() code = %s, want %s", err.Code, CodeInvalidSignature)
	}
}

func TestCheckAndRecordReplaySemantics(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	ledger := NewNonceLedger(DefaultReplayWindow)
	defer ledger.Close()
	ledger.now = clock

	ctx := context.Background()

	replayed, err := ledger.CheckAndRecord(ctx, "nonce-1")
	if err != nil || replayed {
		t.Fatalf("first CheckAndRecord() = (%v, %v), want (false, nil)", replayed, err)
	}

	replayed, err = ledger.CheckAndRecord(ctx, "nonce-1")
	if err != nil || !replayed {
		t.Fatalf("second CheckAndRecord() = (%v, %v), want (true, nil)", replayed, err)
	}

	// The nonce becomes claimable again once the window passes.
	now = now.Add(DefaultReplayWindow + time.Second)
	replayed, err = ledger.CheckAndRecord(ctx, "nonce-1")
	if err != nil || replayed {
		t.Errorf("CheckAndRecord() after window = (%v, %v), want (false, nil)", replayed, err)
	}
}

func TestCheckAndRecordSingleWinner(t *testing.T) {
	ledger := NewNonceLedger(DefaultReplayWindow)
	defer ledger.Close()

	const racers = 50
	var wg sync.WaitGroup
	var admitted int64
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			replayed, err := ledger.CheckAndRecord(context.Background(), "contested-nonce")
			if err == nil && !replayed {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Errorf("admitted = %d goroutines for one nonce, want 1", admitted)
	}
}

func TestCanonicalStringQueryOrdering(t *testing.T) {
	a := canonicalString("GET", "/search", "1717243200000", "n", url.Values{"q": {"shoes"}, "page": {"2"}}, "")
	b := canonicalString("GET", "/search", "1717243200000", "n", url.Values{"page": {"2"}, "q": {"shoes"}}, "")
	if a != b {
		t.Errorf("canonicalString() not deterministic across query ordering:\n%q\n%q", a, b)
	}
}
