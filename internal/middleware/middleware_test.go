package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/w3bsuki/strike-shop-trust/internal/config"
	"github.com/w3bsuki/strike-shop-trust/internal/counter"
	"github.com/w3bsuki/strike-shop-trust/internal/ratelimit"
	"github.com/w3bsuki/strike-shop-trust/internal/signing"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func rateLimitedRouter(limit int64) *gin.Engine {
	cfg := config.Load()
	cfg.RouteLimits = []config.RouteLimit{
		{Prefix: "/api/v1/checkout", Limit: limit, Window: time.Minute},
	}
	limiter := ratelimit.NewLimiter(counter.NewMemoryStore(), cfg, zap.NewNop())

	router := gin.New()
	router.POST("/api/v1/checkout/evaluate", Identity(), RateLimit(limiter), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func TestRateLimitMiddleware(t *testing.T) {
	router := rateLimitedRouter(2)

	statuses := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/v1/checkout/evaluate", nil)
		req.RemoteAddr = "10.1.2.3:5000"
		router.ServeHTTP(w, req)
		statuses = append(statuses, w.Code)
		last = w
	}

	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Errorf("first two calls = %v, want 200s", statuses[:2])
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Errorf("third call = %d, want 429", statuses[2])
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("blocked response missing Retry-After header")
	}
	if last.Header().Get("X-RateLimit-Limit") != "2" {
		t.Errorf("X-RateLimit-Limit = %q, want 2", last.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimitHeadersOnAdmission(t *testing.T) {
	router := rateLimitedRouter(5)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/checkout/evaluate", nil)
	req.RemoteAddr = "10.1.2.3:5000"
	router.ServeHTTP(w, req)

	if w.Header().Get("X-RateLimit-Remaining") != "4" {
		t.Errorf("X-RateLimit-Remaining = %q, want 4", w.Header().Get("X-RateLimit-Remaining"))
	}
	if w.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("missing X-RateLimit-Reset header")
	}
}

// An authenticated user carries one budget across addresses, while the
// anonymous budget for those addresses stays untouched.
func TestRateLimitKeysByUserOverIP(t *testing.T) {
	router := rateLimitedRouter(2)

	send := func(userID, addr string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/v1/checkout/evaluate", nil)
		req.RemoteAddr = addr
		if userID != "" {
			req.Header.Set("X-User-ID", userID)
		}
		router.ServeHTTP(w, req)
		return w.Code
	}

	// Same user hopping networks exhausts a single budget.
	if code := send("cust_42", "10.0.0.1:1000"); code != http.StatusOK {
		t.Fatalf("first call = %d, want 200", code)
	}
	if code := send("cust_42", "10.0.0.2:1000"); code != http.StatusOK {
		t.Fatalf("second call = %d, want 200", code)
	}
	if code := send("cust_42", "10.0.0.3:1000"); code != http.StatusTooManyRequests {
		t.Errorf("third call = %d, want 429", code)
	}

	// An anonymous caller from an already-used address is a fresh budget.
	if code := send("", "10.0.0.1:1000"); code != http.StatusOK {
		t.Errorf("anonymous call = %d, want 200", code)
	}
}

func signedRouter(t *testing.T, secret string) (*gin.Engine, func()) {
	t.Helper()
	ledger := signing.NewNonceLedger(signing.DefaultReplayWindow)
	verifier := signing.NewVerifier(secret, 5*time.Minute, ledger)

	router := gin.New()
	router.POST("/internal/v1/capture", VerifySignature(verifier, zap.NewNop()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router, ledger.Close
}

func TestVerifySignatureMiddleware(t *testing.T) {
	router, closeLedger := signedRouter(t, "secret")
	defer closeLedger()

	signer := signing.NewSigner("secret")
	body := []byte(`{"op":"capture"}`)

	newSignedRequest := func() *http.Request {
		signed, err := signer.Sign("POST", "/internal/v1/capture", nil, body)
		if err != nil {
			t.Fatalf("Sign() error = %v", err)
		}
		req := httptest.NewRequest("POST", "/internal/v1/capture", bytes.NewReader(body))
		req.Header.Set(signing.HeaderSignature, signed.Signature)
		req.Header.Set(signing.HeaderTimestamp, signed.Timestamp)
		req.Header.Set(signing.HeaderNonce, signed.Nonce)
		req.Header.Set(signing.HeaderContentHash, signed.ContentHash)
		return req
	}

	t.Run("valid signature admitted", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, newSignedRequest())
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200, body: %s", w.Code, w.Body.String())
		}
	})

	t.Run("replayed request rejected", func(t *testing.T) {
		req := newSignedRequest()
		first := httptest.NewRecorder()
		router.ServeHTTP(first, req)

		req2 := newSignedRequest()
		req2.Header.Set(signing.HeaderSignature, req.Header.Get(signing.HeaderSignature))
		req2.Header.Set(signing.HeaderTimestamp, req.Header.Get(signing.HeaderTimestamp))
		req2.Header.Set(signing.HeaderNonce, req.Header.Get(signing.HeaderNonce))

		second := httptest.NewRecorder()
		router.ServeHTTP(second, req2)
		if second.Code != http.StatusUnauthorized {
			t.Errorf("replay status = %d, want 401", second.Code)
		}
	})

	t.Run("missing headers rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/internal/v1/capture", bytes.NewReader(body))
		router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("tampered body rejected", func(t *testing.T) {
		req := newSignedRequest()
		req.Body = http.NoBody
		tampered := httptest.NewRequest("POST", "/internal/v1/capture", bytes.NewReader([]byte(`{"op":"refund"}`)))
		tampered.Header = req.Header
		w := httptest.NewRecorder()
		router.ServeHTTP(w, tampered)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})
}
