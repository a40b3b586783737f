package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/w3bsuki/strike-shop-trust/internal/config"
	"github.com/w3bsuki/strike-shop-trust/internal/counter"
	"github.com/w3bsuki/strike-shop-trust/internal/fraud"
	"github.com/w3bsuki/strike-shop-trust/internal/handler"
	"github.com/w3bsuki/strike-shop-trust/internal/middleware"
	"github.com/w3bsuki/strike-shop-trust/internal/ratelimit"
	"github.com/w3bsuki/strike-shop-trust/internal/repository"
	"github.com/w3bsuki/strike-shop-trust/internal/service"
	"github.com/w3bsuki/strike-shop-trust/internal/signing"
	"github.com/w3bsuki/strike-shop-trust/internal/validation"
	"github.com/w3bsuki/strike-shop-trust/pkg/database"
	"github.com/w3bsuki/strike-shop-trust/pkg/logger"
	"github.com/w3bsuki/strike-shop-trust/pkg/redis"
)

func main() {
	// Initialize logger
	log := logger.NewLogger("trust-layer")
	defer log.Sync()

	// Load configuration
	cfg := config.Load()

	// Counter and profile backends: shared Redis for multi-instance
	// deployments, bounded in-process stores otherwise.
	var counters counter.Store
	var profiles fraud.ProfileStore
	var ledger signing.Ledger
	if cfg.CounterBackend == "redis" {
		redisClient := redis.NewRedisClient(cfg.RedisURL)
		defer redisClient.Close()
		counters = counter.NewRedisStore(redisClient, log)
		profiles = fraud.NewRedisProfileStore(redisClient)
		ledger = signing.NewRedisNonceLedger(redisClient, cfg.ReplayWindow)
	} else {
		counters = counter.NewMemoryStore()
		profiles = fraud.NewMemoryProfileStore()
		ledger = signing.NewNonceLedger(cfg.ReplayWindow)
	}
	defer ledger.Close()

	// Audit store is optional; the trust pipeline keeps serving without it.
	var audit *repository.AuditRepository
	db, err := database.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		log.Warn("audit store unavailable, decisions will not be persisted", zap.Error(err))
	} else {
		defer db.Close()
		audit = repository.NewAuditRepository(db.DB)
	}

	// Initialize services
	limiter := ratelimit.NewLimiter(counters, cfg, log)
	validator := validation.NewPaymentValidator(cfg)
	fraudService := fraud.NewService(counters, profiles, cfg, log)
	checkoutService := service.NewCheckoutService(validator, fraudService, audit, cfg.StripeKey, log)

	verifier := signing.NewVerifier(cfg.SigningSecret, cfg.TimestampTolerance, ledger)

	// Initialize handlers
	trustHandler := handler.NewTrustHandler(checkoutService, audit, log)

	// Setup router
	router := setupRouter(trustHandler, limiter, verifier, log)

	// Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}

func setupRouter(trustHandler *handler.TrustHandler, limiter *ratelimit.Limiter, verifier *signing.Verifier, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS())

	// Health checks
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.Identity())
	v1.Use(middleware.RateLimit(limiter))
	{
		checkout := v1.Group("/checkout")
		{
			checkout.POST("/evaluate", trustHandler.Checkout)
		}
	}

	// Internal service-to-service routes require a valid signature.
	internal := router.Group("/internal/v1")
	internal.Use(middleware.VerifySignature(verifier, log))
	{
		internal.GET("/trust/stats", trustHandler.Stats)
	}

	return router
}
