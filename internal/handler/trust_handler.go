package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/w3bsuki/strike-shop-trust/internal/models"
	"github.com/w3bsuki/strike-shop-trust/internal/repository"
	"github.com/w3bsuki/strike-shop-trust/internal/service"
)

type TrustHandler struct {
	checkout *service.CheckoutService
	audit    *repository.AuditRepository
	logger   *zap.Logger
}

func NewTrustHandler(checkout *service.CheckoutService, audit *repository.AuditRepository, logger *zap.Logger) *TrustHandler {
	return &TrustHandler{
		checkout: checkout,
		audit:    audit,
		logger:   logger,
	}
}

// Checkout evaluates a checkout attempt and returns the combined verdict.
func (h *TrustHandler) Checkout(c *gin.Context) {
	var tx models.TransactionContext
	if err := c.ShouldBindJSON(&tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := tx.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if tx.IPAddress == "" {
		tx.IPAddress = c.ClientIP()
	}
	if tx.UserAgent == "" {
		tx.UserAgent = c.Request.UserAgent()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now()
	}

	decision, err := h.checkout.ProcessCheckout(c.Request.Context(), &tx)
	if err != nil {
		h.logger.Error("checkout evaluation failed",
			zap.String("transaction_id", tx.TransactionID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to evaluate checkout"})
		return
	}

	if !decision.Allowed && decision.Fraud == nil {
		// Structural validation failure; user-correctable.
		c.JSON(http.StatusBadRequest, decision)
		return
	}

	c.JSON(http.StatusOK, decision)
}

// Stats summarizes the last day of trust decisions.
func (h *TrustHandler) Stats(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit store not configured"})
		return
	}

	stats, err := h.audit.GetStats(c.Request.Context(), 24*time.Hour)
	if err != nil {
		h.logger.Error("failed to load decision stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}
