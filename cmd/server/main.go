package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/earnhub/backend/internal/audit"
	"github.com/earnhub/backend/internal/config"
	"github.com/earnhub/backend/internal/database"
	"github.com/earnhub/backend/internal/gateway"
	"github.com/earnhub/backend/internal/handlers"
	"github.com/earnhub/backend/internal/logging"
	mW "github.com/earnhub/backend/internal/middleware"
	"github.com/earnhub/backend/internal/monitoring"
	"github.com/earnhub/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

func main() {
	configErr := config.Init(".env")

	appConfig := config.LoadAppConfig()
	logger := logging.New(appConfig.LogLevel, appConfig.LogPretty)
	if configErr != nil {
		logger.Warn().Err(configErr).Msg("Config file not found, using defaults")
	}

	defaults, err := config.LoadEarningsDefaults()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid earnings defaults")
	}

	ctx := context.Background()

	// Storage
	var (
		store  database.Store
		source config.EarningsSource
	)
	switch appConfig.StorageDriver {
	case "memory":
		logger.Warn().Msg("Using in-memory storage; balances are lost on restart")
		store = database.NewMemoryStore()
		source = database.NewMemorySettings(nil)
	default:
		db, err := database.InitDB(database.GetConfig())
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		if err := database.Migrate(ctx, db); err != nil {
			logger.Fatal().Err(err).Msg("Failed to migrate database")
		}
		store = database.NewPostgresStore(db)
		source = database.NewSettingsRepository(db)
	}

	settings := config.NewCachedProvider(source, defaults, viper.GetDuration("earnings.cache_ttl"), logger)
	if _, err := settings.Current(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Earnings settings unavailable")
	}

	// Redis is optional; without it balance changes are not published
	var notifier services.EarningsNotifier = services.NoopNotifier{}
	redisClient, err := database.InitRedis(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable, earnings notifications disabled")
	} else {
		defer redisClient.Close()
		notifier = services.NewRedisNotifier(redisClient)
	}

	auditLogger := audit.NewLogger(logger)
	gatewayClient := gateway.NewClient(&gateway.Config{
		BaseURL: appConfig.GatewayBaseURL,
		APIKey:  appConfig.GatewayAPIKey,
		Timeout: appConfig.GatewayTimeout,
	})
	if !gatewayClient.IsConfigured() {
		logger.Warn().Msg("Payment gateway not configured, top-ups will fail")
	}

	// Initialize services
	ledgerService := services.NewLedgerService(store, auditLogger, logger)
	commissionService := services.NewCommissionService(store, settings, notifier, auditLogger, logger)
	packageService := services.NewPackageService(store, settings, commissionService, notifier, auditLogger, logger)
	packageService.SetSweepConcurrency(appConfig.SweepConcurrency)
	clickService := services.NewClickService(store, settings, commissionService, notifier, auditLogger, logger)
	withdrawalService := services.NewWithdrawalService(store, settings, notifier, auditLogger, logger)
	topUpService := services.NewTopUpService(store, gatewayClient, notifier, auditLogger, logger)

	schedulerConfig := services.DefaultSchedulerConfig()
	schedulerConfig.Interval = appConfig.SchedulerInterval
	scheduler := services.NewScheduler(packageService, schedulerConfig, logger)
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	set := &handlers.Set{
		Accounts:    handlers.NewAccountHandler(ledgerService, logger),
		Packages:    handlers.NewPackageHandler(packageService, logger),
		Clicks:      handlers.NewClickHandler(clickService, logger),
		Withdrawals: handlers.NewWithdrawalHandler(withdrawalService, logger),
		TopUps:      handlers.NewTopUpHandler(topUpService, logger),
		Admin:       handlers.NewAdminHandler(ledgerService, withdrawalService, scheduler, settings, logger),
	}

	// Setup router
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(monitoring.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "healthy",
			"scheduler": scheduler.IsRunning(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	set.Routes(r, mW.AuthMiddleware)

	server := &http.Server{
		Addr:         ":" + appConfig.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Str("storage", appConfig.StorageDriver).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	waitForShutdown(logger, server, scheduler)
}

func waitForShutdown(logger zerolog.Logger, server *http.Server, scheduler *services.Scheduler) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := scheduler.Stop(); err != nil {
		logger.Error().Err(err).Msg("Scheduler stop failed")
	}

	logger.Info().Msg("Server stopped")
}
