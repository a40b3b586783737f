package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/w3bsuki/strike-shop-trust/internal/config"
	"github.com/w3bsuki/strike-shop-trust/internal/counter"
	"github.com/w3bsuki/strike-shop-trust/internal/fraud"
	"github.com/w3bsuki/strike-shop-trust/internal/models"
	"github.com/w3bsuki/strike-shop-trust/internal/service"
	"github.com/w3bsuki/strike-shop-trust/internal/validation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter() *gin.Engine {
	cfg := config.Load()
	fraudSvc := fraud.NewService(counter.NewMemoryStore(), fraud.NewMemoryProfileStore(), cfg, zap.NewNop())
	checkout := service.NewCheckoutService(validation.NewPaymentValidator(cfg), fraudSvc, nil, "", zap.NewNop())
	h := NewTrustHandler(checkout, nil, zap.NewNop())

	router := gin.New()
	router.POST("/api/v1/checkout/evaluate", h.Checkout)
	return router
}

func postCheckout(t *testing.T, router *gin.Engine, tx models.TransactionContext) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/checkout/evaluate", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0) Chrome/120.0")
	router.ServeHTTP(w, req)
	return w
}

func TestCheckoutEndpointAllows(t *testing.T) {
	router := newTestRouter()

	tx := models.TransactionContext{
		UserID:   "user-1",
		Email:    "shopper@example.com",
		Amount:   4500,
		Currency: "EUR",
		ShippingAddress: &models.Address{
			Line1: "12 Vitosha Blvd", City: "Sofia", PostalCode: "1000", Country: "BG",
		},
		Items: []models.CartItem{{ID: "sku-1", UnitPrice: 4500, Quantity: 1}},
	}

	w := postCheckout(t, router, tx)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", w.Code, w.Body.String())
	}

	var decision service.Decision
	if err := json.Unmarshal(w.Body.Bytes(), &decision); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("Allowed = false, body: %s", w.Body.String())
	}
}

func TestCheckoutEndpointRejectsTamperedAmount(t *testing.T) {
	router := newTestRouter()

	tx := models.TransactionContext{
		UserID:   "user-2",
		Email:    "shopper@example.com",
		Amount:   99000,
		Currency: "EUR",
		Items:    []models.CartItem{{ID: "sku-1", UnitPrice: 4500, Quantity: 1}},
	}

	w := postCheckout(t, router, tx)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400, body: %s", w.Code, w.Body.String())
	}
}

func TestCheckoutEndpointRejectsMalformedPayload(t *testing.T) {
	router := newTestRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/checkout/evaluate", bytes.NewReader([]byte(`{"amount":`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
