package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dafibh/marketplace/settlement-backend/internal/config"
	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/dafibh/marketplace/settlement-backend/internal/handler"
	"github.com/dafibh/marketplace/settlement-backend/internal/middleware"
	"github.com/dafibh/marketplace/settlement-backend/internal/notification"
	"github.com/dafibh/marketplace/settlement-backend/internal/provider"
	"github.com/dafibh/marketplace/settlement-backend/internal/repository/cache"
	"github.com/dafibh/marketplace/settlement-backend/internal/repository/postgres"
	"github.com/dafibh/marketplace/settlement-backend/internal/repository/storage"
	"github.com/dafibh/marketplace/settlement-backend/internal/service"
	"github.com/dafibh/marketplace/settlement-backend/internal/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Initialize zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Connect to database
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()

	// Verify database connection
	if err := pool.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Connected to database")

	settings := settlementSettings(cfg)

	// Initialize repositories
	transactor := postgres.NewTransactor(pool)
	escrowRepo := postgres.NewEscrowRepository(pool)
	commissionRepo := postgres.NewCommissionRepository(pool)
	payoutRepo := postgres.NewPayoutRepository(pool)
	marketplaceRepo := postgres.NewMarketplaceRepository(pool)

	rates := config.NewCommissionRates(settings.DefaultCommissionRate)
	if cfg.CommissionRatesFile != "" {
		rates, err = config.LoadCommissionRates(cfg.CommissionRatesFile, settings.DefaultCommissionRate)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.CommissionRatesFile).Msg("Failed to load commission rates")
		}
		log.Info().
			Int("seller_overrides", len(rates.Sellers)).
			Int("category_overrides", len(rates.Categories)).
			Msg("Loaded commission rate overrides")
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub()

	// Initialize services
	escrowService := service.NewEscrowService(transactor, escrowRepo, marketplaceRepo)
	escrowService.SetEventPublisher(wsHub)
	commissionService := service.NewCommissionService(commissionRepo, rates, settings)
	commissionService.SetEventPublisher(wsHub)
	payoutScheduler := service.NewPayoutScheduler(transactor, escrowRepo, payoutRepo, settings, log.Logger)
	payoutScheduler.SetEventPublisher(wsHub)
	payoutProcessor := service.NewPayoutProcessor(transactor, payoutRepo, payoutProvider(cfg), settings, log.Logger)
	payoutProcessor.SetEventPublisher(wsHub)

	// Seller notifications
	var notifier domain.PayoutNotifier = notification.NewLogNotifier(log.Logger)
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaNotifier, err := notification.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.TopicPayoutPaid)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Kafka notifier")
		}
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.TopicPayoutPaid).Msg("Kafka notifications enabled")
	}
	payoutProcessor.SetNotifier(marketplaceRepo, notifier)

	// Batch report archive
	var reportLinker handler.BatchReportLinker
	if cfg.S3.Enabled() {
		reportStore, err := storage.NewS3ReportStore(context.Background(), cfg.S3)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize S3 report store")
		}
		payoutProcessor.SetReportStore(reportStore)
		reportLinker = reportStore
		log.Info().Str("bucket", cfg.S3.Bucket).Msg("Batch report archiving enabled")
	}

	// Settlement cycle lock
	var jobLock service.JobLock
	if cfg.RedisURL != "" {
		redisClient, err := cache.Connect(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
		jobLock = cache.NewRedisJobLock(redisClient)
		log.Info().Msg("Connected to Redis")
	}

	// Initialize auth middleware
	authMiddleware, err := middleware.NewAuthMiddleware(cfg.Auth0Domain, cfg.Auth0Audience)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create auth middleware")
	}
	wsValidator, err := websocket.NewAuth0JWTValidator(cfg.Auth0Domain, cfg.Auth0Audience)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create WebSocket JWT validator")
	}

	rateLimiter := middleware.NewRateLimiter()
	defer rateLimiter.Stop()

	// Initialize handlers
	handlers := handler.Handlers{
		Settlement: handler.NewSettlementHandler(escrowService, commissionService, settings.DefaultCurrency),
		Escrow:     handler.NewEscrowHandler(escrowService, settings.EscrowPayoutEligibilityDays),
		Commission: handler.NewCommissionHandler(commissionService),
		Payout:     handler.NewPayoutHandler(payoutScheduler, payoutProcessor, reportLinker),
		WebSocket:  handler.NewWebSocketHandler(wsHub, wsValidator, payoutProcessor, cfg.CORSOrigins),
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Request ID middleware
	e.Use(echomiddleware.RequestID())

	// CORS middleware
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Security headers middleware (helmet-like)
	e.Use(echomiddleware.SecureWithConfig(echomiddleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'self'",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
	}))

	// Request logging middleware with zerolog
	e.Use(zerologMiddleware())

	// Recovery middleware
	e.Use(echomiddleware.Recover())

	// Health check endpoint
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Register API routes
	handler.RegisterRoutes(e, authMiddleware, rateLimiter, handlers)

	// Start the settlement cycle worker
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	var payoutWorker *service.PayoutWorker
	if cfg.Worker.Enabled {
		payoutWorker = service.NewPayoutWorker(payoutScheduler, payoutProcessor, jobLock, log.Logger, service.PayoutWorkerConfig{
			Interval:  cfg.Worker.Interval,
			Frequency: domain.ScheduleFrequency(cfg.Worker.Frequency),
		})
		payoutWorker.Start(workerCtx)
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	if payoutWorker != nil {
		payoutWorker.Stop()
	}
	workerCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// settlementSettings maps configuration onto the settlement rules
func settlementSettings(cfg *config.Config) service.SettlementSettings {
	s := cfg.Settlement
	return service.SettlementSettings{
		MinimumPayoutThreshold:      s.PayoutMinimumPayoutThreshold,
		MaxRetryAttempts:            s.PayoutMaxRetryAttempts,
		EnableBatching:              s.PayoutEnableBatching,
		MaxPayoutsPerBatch:          s.PayoutMaxPayoutsPerBatch,
		DefaultCurrency:             s.PayoutDefaultCurrency,
		DefaultCommissionRate:       s.CommissionDefaultCommissionRate,
		EscrowPayoutEligibilityDays: s.EscrowPayoutEligibilityDays,
		ProviderTimeout:             cfg.Provider.Timeout,
		ProviderRatePerSecond:       cfg.Provider.RatePerSecond,
		StaleProcessingAfter:        cfg.Provider.StaleProcessingAfter,
	}
}

// payoutProvider returns the HTTP provider client, or the sandbox outside
// production when no provider URL is configured
func payoutProvider(cfg *config.Config) domain.PayoutProvider {
	if cfg.Provider.URL == "" {
		log.Warn().Msg("PAYOUT_PROVIDER_URL not set, using sandbox payout provider")
		return provider.NewSandboxProvider(log.Logger)
	}
	return provider.NewHTTPProvider(cfg.Provider.URL, cfg.Provider.APIKey, &http.Client{
		Timeout: cfg.Provider.Timeout + 5*time.Second,
	})
}

// zerologMiddleware returns a middleware that logs requests using zerolog
func zerologMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()

			log.Info().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", res.Status).
				Dur("latency", time.Since(start)).
				Str("request_id", res.Header().Get(echo.HeaderXRequestID)).
				Msg("request")

			return nil
		}
	}
}
