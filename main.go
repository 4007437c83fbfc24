package main

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/clientflow/config"
	"github.com/yourusername/clientflow/dispatch"
	"github.com/yourusername/clientflow/handlers"
	"github.com/yourusername/clientflow/middleware"
	"github.com/yourusername/clientflow/reconcile"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Side-effect consumers. The Kafka event bus is optional; reconciliation
	// must keep working when no brokers are configured.
	var notifiers []dispatch.Notifier
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := dispatch.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Printf("Kafka notifier disabled: %v", err)
		} else {
			defer kafka.Close()
			notifiers = append(notifiers, kafka)
		}
	}

	engine := reconcile.NewEngine(db)
	dispatcher := dispatch.NewDispatcher(db, notifiers...)

	// Setup router
	router := gin.Default()

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "clientflow-api",
		})
	})

	// API routes
	api := router.Group("/api/v1")
	{
		// Gateway webhooks authenticate by signature, not JWT
		webhookHandler := handlers.NewWebhookHandler(db, cfg, engine, dispatcher)
		api.POST("/gateway/webhook", webhookHandler.HandlePlatformWebhook)
		api.POST("/gateway/connect-webhook", webhookHandler.HandleConnectWebhook)

		authHandler := handlers.NewAuthHandler(db, cfg)
		api.POST("/auth/refresh", authHandler.Refresh)

		// Dashboard endpoints
		paymentHandler := handlers.NewPaymentHandler(db, cfg, dispatcher)
		authed := api.Group("")
		authed.Use(middleware.JwtAuthMiddleware(cfg))
		{
			authed.POST("/invoices/:id/charge-card", paymentHandler.ChargeCard)
			authed.POST("/invoices/:id/terminal-payment", paymentHandler.TerminalPayment)
			authed.GET("/invoices/:id", paymentHandler.GetInvoice)
			authed.POST("/payments/:id/refund", middleware.RequireRole("owner", "admin"), paymentHandler.Refund)
			authed.GET("/payments/:id", paymentHandler.GetPayment)
			authed.GET("/payments", paymentHandler.ListPayments)
		}
	}

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("Starting ClientFlow API server on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
