package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fulfillment-service/internal/config"
	"fulfillment-service/internal/events"
	"fulfillment-service/internal/handlers"
	"fulfillment-service/internal/inventory"
	"fulfillment-service/internal/lifecycle"
	"fulfillment-service/internal/query"
	"fulfillment-service/internal/repository"
	"fulfillment-service/pkg/logger"
	"fulfillment-service/pkg/middleware"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "fulfillment-service/docs" // Import docs for Swagger
)

// @title           Fulfillment Service API
// @version         1.0
// @description     Order-fulfillment state machine and inventory ledger for the retail platform.

// @host      localhost:8080
// @BasePath  /api/v1

// @schemes   http https
func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	appLogger := logger.New(cfg.Environment)
	defer appLogger.Sync()

	appLogger.Info("🚀 Starting Fulfillment Service",
		zap.String("environment", cfg.Environment),
		zap.String("port", cfg.Port),
	)

	appLogger.Info("📡 Kafka Configuration",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic_orders", cfg.KafkaTopicOrders),
		zap.String("client_id", cfg.KafkaClientID),
		zap.String("acks", cfg.KafkaAcks),
		zap.Int("retries", cfg.KafkaRetries),
	)

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Storage
	db, err := repository.Open(cfg.SQLitePath, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	stockRepo := repository.NewStockRepository(db)
	orderRepo := repository.NewOrderRepository(db)

	// Notification dispatcher: Kafka, or in-memory fallback when the broker
	// is unreachable. A failed publish never affects a transition either way.
	var publisher events.EventPublisher
	kafkaPublisher, err := events.NewKafkaEventPublisher(cfg, appLogger)
	if err != nil {
		appLogger.Warn("Failed to initialize Kafka publisher, using in-memory fallback", zap.Error(err))
		publisher = events.NewEventPublisher()
	} else {
		publisher = kafkaPublisher
		defer kafkaPublisher.Close()
	}

	// Engines
	inventoryEngine := inventory.NewEngine(stockRepo, appLogger)
	lifecycleEngine := lifecycle.NewEngine(orderRepo, inventoryEngine, publisher, appLogger)

	// Read-side projections
	cache := query.NewCache(cfg, appLogger)
	queryService := query.NewService(
		orderRepo, stockRepo, cache,
		time.Duration(cfg.CacheTTLSecs)*time.Second,
		time.Duration(cfg.AttentionThresholdHours)*time.Hour,
		appLogger,
	)

	// Initialize router
	router := gin.New()
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.RecoveryHandler(appLogger))
	router.Use(logger.GinMiddleware(appLogger))
	router.Use(middleware.RequestIDMiddleware(appLogger))

	// Deduplication store: stock mutations are not idempotent, so repeated
	// X-Request-IDs replay the stored response instead of re-running them.
	requestIDStore := middleware.NewInMemoryRequestIDStore()
	defer requestIDStore.Stop()
	router.Use(middleware.IdempotencyMiddleware(requestIDStore, appLogger, 5*time.Minute))
	router.Use(middleware.ErrorHandler(appLogger))

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Handlers
	stockHandler := handlers.NewStockHandler(appLogger, inventoryEngine, queryService)
	orderHandler := handlers.NewOrderHandler(appLogger, lifecycleEngine, queryService)

	// API routes
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", healthCheck)

		stock := v1.Group("/stock")
		{
			stock.GET("/low", stockHandler.LowStock)
			stock.GET("/out", stockHandler.OutOfStock)
			stock.PUT("/:variantId", stockHandler.EnsureStock)
			stock.GET("/:variantId", stockHandler.GetStock)
			stock.GET("/:variantId/ledger", stockHandler.GetLedger)
			stock.POST("/:variantId/import", stockHandler.Import)
			stock.POST("/:variantId/export", stockHandler.Export)
			stock.POST("/:variantId/reserve", stockHandler.Reserve)
			stock.POST("/:variantId/release", stockHandler.Release)
			stock.POST("/:variantId/confirm-sale", stockHandler.ConfirmSale)
			stock.POST("/:variantId/return", stockHandler.Return)
			stock.POST("/:variantId/adjust", stockHandler.Adjust)
		}

		orders := v1.Group("/orders")
		{
			orders.POST("", orderHandler.RegisterOrder)
			orders.GET("", orderHandler.ListOrders)
			orders.GET("/attention", orderHandler.NeedingAttention)
			orders.GET("/stats", orderHandler.ProcessingStats)
			orders.GET("/:orderId", orderHandler.GetOrder)
			orders.GET("/:orderId/history", orderHandler.GetHistory)
			orders.POST("/:orderId/status", orderHandler.ChangeStatus)
		}
	}

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		appLogger.Info("Starting fulfillment service",
			zap.String("port", cfg.Port),
			zap.String("environment", cfg.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	appLogger.Info("Server exited")
}

// healthCheck godoc
// @Summary      Health check endpoint
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "fulfillment-service",
	})
}
