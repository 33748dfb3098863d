package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"
	"time"

	"orderGuard/config"
	"orderGuard/internal/adapters/binanceclient"
	"orderGuard/internal/adapters/logger"
	"orderGuard/internal/adapters/sqlite"
	"orderGuard/internal/app"
	"orderGuard/internal/correction"
	"orderGuard/internal/execution"
	"orderGuard/internal/fetcher"
	"orderGuard/internal/merge"
	"orderGuard/internal/metrics"
	"orderGuard/internal/ports"
	"orderGuard/internal/verify"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	var appLogger ports.Logger
	if cfg.LogFormat == "zap" {
		zapLogger, err := logger.NewZapLogger(cfg.LogLevel)
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize zap logger: %v", err)
		}
		defer zapLogger.Sync()
		appLogger = zapLogger
	} else {
		appLogger = logger.NewStdLogger(cfg.LogLevel)
	}
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{
		"level":  cfg.LogLevel.String(),
		"format": cfg.LogFormat,
	})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Venue Client (Binance Adapter)
	venueClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	if err := venueClient.SetServerTime(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to synchronize server time")
		log.Fatalf("FATAL: Failed to synchronize server time: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized")

	// 5. Initialize Engine Components
	retrier, err := execution.NewRetrier(execution.RetrierConfig{
		Logger:      appLogger,
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize retrier: %v", err)
	}
	idemCache, err := execution.NewIdempotencyCache(execution.CacheConfig{
		Logger: appLogger,
		Store:  repo,
		TTL:    cfg.IdempotencyTTL,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize idempotency cache: %v", err)
	}
	locks := execution.NewLockManager()
	executor, err := execution.NewExecutor(execution.ExecutorConfig{
		Logger:  appLogger,
		Venue:   venueClient,
		Locks:   locks,
		Idem:    idemCache,
		Retrier: retrier,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize executor: %v", err)
	}
	calculator, err := merge.NewCalculator(appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize merge calculator: %v", err)
	}
	cancelVerifier, err := verify.NewCancellationVerifier(verify.CancellationConfig{
		Logger:  appLogger,
		Venue:   venueClient,
		Account: cfg.Account,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize cancellation verifier: %v", err)
	}
	fillVerifier, err := verify.NewFillVerifier(appLogger, venueClient)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize fill verifier: %v", err)
	}
	stateFetcher, err := fetcher.New(fetcher.Config{
		Logger:          appLogger,
		Venue:           venueClient,
		MinInterval:     cfg.FetchMinInterval,
		StableThreshold: cfg.StableThreshold,
		CacheTTL:        cfg.StableCacheTTL,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize order state fetcher: %v", err)
	}
	corrector, err := correction.New(correction.Config{
		Logger:  appLogger,
		Venue:   venueClient,
		Repo:    repo,
		Retrier: retrier,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize quantity corrector: %v", err)
	}

	// 6. Initialize Application Service
	guardService, err := app.NewGuardService(app.GuardConfig{
		Cfg:        cfg,
		Logger:     appLogger,
		Venue:      venueClient,
		Repo:       repo,
		Calculator: calculator,
		Executor:   executor,
		Retrier:    retrier,
		CancelVrf:  cancelVerifier,
		FillVrf:    fillVerifier,
		Fetcher:    stateFetcher,
		Corrector:  corrector,
		Locks:      locks,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize guard service")
		log.Fatalf("FATAL: Failed to initialize guard service: %v", err)
	}
	appLogger.Info(context.Background(), "Guard service initialized")

	// 7. Expose Prometheus metrics
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv := &http.Server{
				Addr:              cfg.MetricsAddr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			appLogger.Info(context.Background(), "Metrics listener started", map[string]interface{}{"addr": cfg.MetricsAddr})
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				appLogger.Error(context.Background(), err, "Metrics listener exited")
			}
		}()
	}

	// 8. Start the Service
	// Use context.Background() as the base context for the application run
	if err := guardService.Start(context.Background()); err != nil && err != context.Canceled {
		appLogger.Error(context.Background(), err, "Guard service exited with error")
		log.Fatalf("FATAL: Guard service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
