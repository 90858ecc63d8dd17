package main

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nurealazmie002/santri-billing-core/config"
	"github.com/nurealazmie002/santri-billing-core/directory"
	"github.com/nurealazmie002/santri-billing-core/gateway"
	"github.com/nurealazmie002/santri-billing-core/handlers"
	"github.com/nurealazmie002/santri-billing-core/services"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Wire the core
	gatewayClient := gateway.NewMidtransClient(cfg.GatewayServerKey, cfg.GatewayEnv, cfg.GatewayTimeout)
	students := directory.NewHTTPDirectory(cfg.StudentAPIBaseURL, cfg.GatewayTimeout)
	invoices := services.NewInvoiceStore(db)
	transactions := services.NewTransactionStore(db)
	reconciler := services.NewReconciler(db, gatewayClient, log)
	aggregator := services.NewAggregator(db, students, log)

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
			"service": "santri-billing-core",
		})
	})

	// API routes
	api := router.Group("/api/v1")
	{
		billing := handlers.NewBillingHandler(invoices, transactions, reconciler, aggregator, students, cfg.GatewayServerKey, log)

		// Invoice endpoints
		api.POST("/invoices", billing.CreateInvoice)
		api.GET("/invoices", billing.ListInvoices)
		api.GET("/invoices/:id", billing.GetInvoice)
		api.POST("/invoices/:id/cancel", billing.CancelInvoice)
		api.POST("/invoices/:id/payment-sessions", billing.OpenPaymentSession)
		api.GET("/invoices/:id/receipt", billing.InvoiceReceipt)

		// Gateway outcome endpoints
		api.POST("/payments/notification", billing.GatewayNotification)
		api.POST("/payment-attempts/:id/sync", billing.SyncPaymentAttempt)

		// Manual transaction endpoints
		api.POST("/transactions", billing.CreateTransaction)
		api.GET("/transactions", billing.ListTransactions)
		api.GET("/transactions/:id", billing.GetTransaction)
		api.PUT("/transactions/:id", billing.UpdateTransaction)
		api.DELETE("/transactions/:id", billing.DeleteTransaction)
		api.GET("/transactions/:id/receipt", billing.TransactionReceipt)

		// Dashboard endpoints
		api.GET("/dashboard/cashflow", billing.CashFlow)
		api.GET("/dashboard/unpaid", billing.UnpaidInvoices)
	}

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	log.Info().Str("port", port).Msg("starting santri-billing-core API server")
	if err := router.Run(":" + port); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
}
