// Package main is the entry point for the futures trading system API
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/CrazyKoodaa/futures-trading-system/internal/api"
	"github.com/CrazyKoodaa/futures-trading-system/internal/api/middleware"
	"github.com/CrazyKoodaa/futures-trading-system/internal/config"
	"github.com/CrazyKoodaa/futures-trading-system/internal/repository"
	"github.com/CrazyKoodaa/futures-trading-system/internal/service"
	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/zaplogger"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("FTS_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Print the configuration
	fmt.Println(cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Setup logger
	defer zaplogger.Sync()
	zaplogger.SetLogLevel(cfg.Server.LogLevel)

	stores, db, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer closeStores()

	// Init the database log sink
	if db != nil {
		if err := zaplogger.InitLogger(db); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
		zaplogger.SetLogLevel(cfg.Server.LogLevel)
	}

	// Connect Redis
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = repository.ConnectRedis(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		zaplogger.Info("Redis initialized")
	}

	// startUpMessage
	zaplogger.Info(cfg.App.Name+" - "+cfg.App.Version+" initialized", zaplogger.Fields{
		"storage": cfg.Storage.Backend,
	})

	registry := service.NewRegistryService(stores.Registry, cfg.Ingest.DefaultExchangeCode)
	if cfg.Storage.Backend == config.BackendMemory {
		if err := registry.Seed(ctx, time.Now().UTC()); err != nil {
			log.Fatalf("Failed to seed registry: %v", err)
		}
	}

	ingest := service.NewIngestService(stores.Bars, stores.Ticks, registry)
	features := service.NewFeatureService(stores.Bars, stores.Features, cfg.Features.Lookback)
	feed := service.NewFeedService(ingest, cfg.Ingest.ChannelCapacity, cfg.Ingest.FlushInterval)

	deps := service.CronDeps{
		Aggregation: service.NewAggregationService(stores.Bars, cfg.Aggregation),
		Retention:   service.NewRetentionService(stores.Maintenance, service.RetentionPolicies(cfg.Retention)),
		Registry:    registry,
		Features:    features,
		JobRuns:     stores.JobRuns,
		Notifier:    newNotifier(cfg),
	}
	if redisClient != nil {
		deps.Locker = repository.NewRedisJobLock(redisClient)
	}
	cronService := service.NewCronService(cfg, deps)

	// Create a new Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Setup middleware
	middleware.SetupLoggerMiddleware(e)

	// Setup routes
	api.SetupRoutes(ctx, e, cfg, api.Services{
		Registry: registry,
		Ingest:   ingest,
		Feed:     feed,
		Queries:  service.NewQueryService(stores.Queries, stores.Bars),
		Journal:  service.NewJournalService(stores.Journal, registry),
		Features: features,
		Cron:     cronService,
		JobRuns:  stores.JobRuns,
		Redis:    redisClient,
	})

	// start cron jobs
	cronService.Start()

	// start the feed
	if err := feed.Start(ctx); err != nil {
		log.Fatalf("Failed to start feed: %v", err)
	}

	// Forward bar notifications to redis
	if redisClient != nil && cfg.Storage.Backend == config.BackendPostgres {
		publishService := service.NewPublishService(redisClient, cfg.Postgres.Dsn)
		go func() {
			if err := publishService.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				zaplogger.Error("publish service stopped", zaplogger.Fields{"error": err.Error()})
			}
		}()
	}

	// Start the server
	go startServer(e, cfg)

	<-ctx.Done()
	zaplogger.Info("SHUTTING DOWN")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zaplogger.Error("server shutdown failed", zaplogger.Fields{"error": err.Error()})
	}
	if err := feed.Stop(); err != nil && !errors.Is(err, service.ErrFeedNotRunning) {
		zaplogger.Error("feed shutdown failed", zaplogger.Fields{"error": err.Error()})
	}
	cronService.Stop()
}

// startServer starts the Echo server on the specified port
func startServer(e *echo.Echo, cfg *config.Config) {
	port := cfg.Server.Port
	if port == "" {
		port = "3007"
	}
	zaplogger.Info("SERVER STARTED ON PORT " + port)
	if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zaplogger.Fatal("server stopped", zaplogger.Fields{"error": err.Error()})
	}
}

// openStores builds the storage backend. The gorm handle is nil for the
// memory backend.
func openStores(ctx context.Context, cfg *config.Config) (service.Stores, *gorm.DB, func(), error) {
	if cfg.Storage.Backend == config.BackendMemory {
		zaplogger.Warn("using in-memory storage, data is lost on exit")
		return service.MemoryStores(repository.NewMemStore()), nil, func() {}, nil
	}

	// Connect to Postgres
	db, err := repository.ConnectPostgres(cfg)
	if err != nil {
		return service.Stores{}, nil, nil, err
	}
	pool, err := repository.ConnectPgxPool(ctx, cfg)
	if err != nil {
		return service.Stores{}, nil, nil, err
	}
	zaplogger.Info("Postgres initialized")

	bars := repository.NewBarRepository(db)
	stores := service.Stores{
		Registry:    repository.NewRegistryRepository(db),
		Bars:        bars,
		Ticks:       repository.NewTickRepository(pool),
		Journal:     repository.NewJournalRepository(db),
		Features:    repository.NewFeatureRepository(db),
		Queries:     repository.NewQueryRepository(db),
		Maintenance: repository.NewMaintenanceRepository(db),
		JobRuns:     repository.NewJobRunRepository(db),
	}

	closeFn := func() {
		pool.Close()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return stores, db, closeFn, nil
}

func newNotifier(cfg *config.Config) service.Notifier {
	if cfg.Telegram.BotToken == "" || cfg.Telegram.ChatID == "" {
		return service.NopNotifier{}
	}
	notifier, err := service.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.App.Name)
	if err != nil {
		zaplogger.Error("telegram notifier disabled", zaplogger.Fields{"error": err.Error()})
		return service.NopNotifier{}
	}
	return notifier
}
