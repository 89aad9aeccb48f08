package main

import (
	"context"

	"panelworks/api_tokens/internal/handlers"
	"panelworks/api_tokens/internal/ledger"
	"panelworks/api_tokens/internal/midtrans"
	"panelworks/api_tokens/internal/payments"
	"panelworks/api_tokens/pkg/auth"
	"panelworks/api_tokens/pkg/config"
	"panelworks/api_tokens/pkg/database"
	"panelworks/api_tokens/pkg/logging"
	"panelworks/api_tokens/pkg/monitoring"
	"panelworks/api_tokens/pkg/server"
	"panelworks/api_tokens/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("bursar")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Bursar (Token Ledger API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")
	midtransServerKey := config.RequireEnv("MIDTRANS_SERVER_KEY")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if config.GetEnvBool("DB_AUTO_MIGRATE", true) {
		if err := database.ApplySchema(db, logger); err != nil {
			logger.WithError(err).Fatal("Schema migration failed")
		}
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("bursar", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("bursar", version.Version, version.GitCommit)

	// Add health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("payment_gateway", monitoring.PaymentGatewayHealthCheck("midtrans", midtransServerKey))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": dbURL,
		"JWT_SECRET":   jwtSecret,
	}))

	// Create custom token metrics
	metrics := &handlers.BursarMetrics{
		TokenDebits:              metricsCollector.NewCounter("token_debits_total", "Tokens debited per feature", []string{"feature_key"}),
		TopupSettlements:         metricsCollector.NewCounter("payment_settlements_total", "Settled payments", []string{"action"}),
		WebhookSignatureFailures: metricsCollector.NewCounter("webhook_signature_failures_total", "Rejected webhook notifications", []string{"provider"}),
	}

	// Create database metrics
	metrics.DBQueries, metrics.DBDuration, metrics.DBConnections = metricsCollector.CreateDatabaseMetrics()

	// Payment gateway client
	gateway := midtrans.NewClient(midtrans.Config{
		ServerKey:  midtransServerKey,
		Production: config.GetEnvBool("MIDTRANS_PRODUCTION", false),
		Logger:     logger,
	})

	// Domain services
	prices := payments.DefaultPriceTable()
	wallets := ledger.NewWalletStore(db, logger, prices.Grants)
	settings := ledger.NewSettingsStore(db, logger)
	intents := payments.NewIntentStore(db, logger)
	finishURL := config.GetEnv("CHECKOUT_FINISH_URL", "")

	handlers.Init(logger, metrics, handlers.Services{
		Usage:         ledger.NewUsageService(db, logger, wallets, settings),
		Settings:      settings,
		Consumer:      ledger.NewConsumer(db, logger, wallets, settings, metrics),
		Checkout:      payments.NewCheckoutService(logger, intents, gateway, prices, finishURL),
		Intents:       intents,
		Notifications: payments.NewNotificationHandler(db, logger, gateway, intents, payments.NewSettlement(db, logger, prices)),
	})

	// Initialize and start JobManager for background billing tasks
	jobManager := handlers.NewJobManager(logger, intents)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobManager.Start(ctx)
	defer jobManager.Stop()

	logger.Info("JobManager started - intent expiry sweep active")

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "bursar", healthChecker, metricsCollector)

	// API routes (root level - nginx adds /api/tokens/ prefix)
	{
		// Authentication required endpoints
		protected := router.Group("")
		protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
		{
			// Token panel endpoints
			protected.GET("/tokens/overview", handlers.GetTokenOverview)
			protected.GET("/tokens/usage", handlers.GetTokenUsage)
			protected.GET("/tokens/history", handlers.GetTokenHistory)
			protected.GET("/tokens/settings", handlers.GetTokenSettings)
			protected.PUT("/tokens/settings", handlers.UpdateTokenSettings)

			// Billing endpoints
			protected.GET("/billing/catalog", handlers.GetCatalog)
			protected.POST("/billing/checkout/subscription", handlers.CreateSubscriptionCheckout)
			protected.POST("/billing/checkout/topup", handlers.CreateTopupCheckout)
			protected.GET("/billing/intents", handlers.GetPaymentIntents)
		}

		// Webhook endpoints (no auth required)
		router.POST("/webhooks/midtrans", handlers.HandleMidtransWebhook)

		// Token debit endpoints (service-to-service)
		serviceAPI := router.Group("")
		serviceAPI.Use(auth.ServiceAuthMiddleware(serviceToken))
		{
			serviceAPI.POST("/tokens/consume", handlers.ConsumeTokens)
			serviceAPI.POST("/tokens/require", handlers.RequireTokens)
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("bursar", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
