package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sjsage522/priceworker/config"
	"sjsage522/priceworker/helpers"
	"sjsage522/priceworker/internal"
	"sjsage522/priceworker/internal/api"
	"sjsage522/priceworker/internal/crawler"
	"sjsage522/priceworker/internal/ledger"
	"sjsage522/priceworker/internal/storage"
	"sjsage522/priceworker/logger"
	"sjsage522/priceworker/services/cache"
	"sjsage522/priceworker/services/lock"
	"sjsage522/priceworker/services/publisher"
	"sjsage522/priceworker/services/scheduler"
	"sjsage522/priceworker/services/worker"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

const runLockKey = "priceworker:run_lock"

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()
	log := logger.Default

	// Load and validate configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("environment", cfg.Environment).
		Int("schedule_hour", cfg.ScheduleHour).
		Int("schedule_minute", cfg.ScheduleMinute).
		Str("schedule_timezone", cfg.ScheduleTimezone).
		Msg("Starting application")

	// Cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := initializeServices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer deps.Close()

	registry := crawler.DefaultRegistry()
	static := crawler.NewStaticFetcher(
		helpers.NewHTTPClient(cfg.StaticFetchTimeout, true),
		deps.Cache,
		crawler.StaticOptions{
			BlockTime:    cfg.RateLimitBlockTime,
			SiteInterval: cfg.SiteRequestInterval,
		},
	)
	engine := crawler.NewEngine(registry, static, crawler.BrowserConfig{
		Bin:         cfg.BrowserBin,
		Settle:      cfg.DynamicSettle,
		PageTimeout: cfg.DynamicPageTimeout,
		Concurrency: cfg.BrowserConcurrency,
	})

	priceLedger := ledger.New(deps.History, deps.Products)
	job := worker.NewJob(engine, deps.Products, priceLedger, deps.Publisher, worker.Options{
		Workers: cfg.ProbeWorkers,
		Budget:  cfg.RunBudget,
	})
	sched := scheduler.New(job, deps.Locker, scheduler.Config{
		Hour:             cfg.ScheduleHour,
		Minute:           cfg.ScheduleMinute,
		ScheduleLocation: cfg.ScheduleLocation(),
		LedgerLocation:   cfg.LedgerLocation(),
		LockTTL:          cfg.RunLockTTL,
	})

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           api.SetupRouter(api.NewHandler(engine, sched, job, priceLedger, deps.Cache)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.AdminAddr).Msg("Starting admin server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		log.Info().Int("sites", len(registry.Keys())).Msg("Starting price scheduler")
		sched.Start(ctx)
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	case err := <-serverErr:
		log.Error().Err(err).Msg("Admin server exited with error")
		stop()
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Admin server shutdown")
	}
	<-schedulerDone
	sched.Wait()
}

// initializeServices initializes all required services
func initializeServices(ctx context.Context, cfg *config.Config) (*internal.Dependencies, error) {
	deps := &internal.Dependencies{}

	// Document store
	store, err := storage.NewMongoStorage(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.ProductsCollection, cfg.PricesCollection)
	if err != nil {
		return nil, err
	}
	deps.History = store
	deps.Products = store
	deps.OnClose(store.Close)
	logger.Info("Connected to MongoDB (database: %s)", cfg.MongoDatabase)

	// Cache service; rate-limit blocks degrade to process memory without memcache
	memcache := cache.NewMemcacheService(cfg.MemcacheAddr)
	if err := memcache.Ping(); err != nil {
		logger.ForCache().Warn().Err(err).Str("addr", cfg.MemcacheAddr).Msg("Memcache unavailable, using in-memory cache")
		deps.Cache = cache.NewMemoryService()
	} else {
		deps.Cache = memcache
		logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)
	}

	// Redis backs both the publisher and the run lock
	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		logger.ForPublisher().Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unavailable, events are not published")
		deps.Locker = lock.NewLocalLock()
		return deps, nil
	}

	deps.Publisher = publisher.NewRedisPublisher(
		ctx,
		client,
		cfg.RedisStream,
		cfg.RedisStreamCount,
		cfg.RedisStreamMaxLength,
	)
	deps.OnClose(deps.Publisher.Close)
	deps.Locker = lock.NewRedisLock(client, runLockKey)

	logger.Info("Connected to Redis at %s (DB: %d, Stream: %s)",
		cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream)

	return deps, nil
}
