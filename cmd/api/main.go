package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/mockupflow/internal/api"
	"github.com/dunamismax/mockupflow/internal/config"
	"github.com/dunamismax/mockupflow/internal/queue"
	"github.com/dunamismax/mockupflow/internal/ratelimit"
	"github.com/dunamismax/mockupflow/internal/storage"
	"github.com/dunamismax/mockupflow/internal/store"
	"github.com/dunamismax/mockupflow/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStartup()

	shutdownTracing, err := telemetry.SetupTracing(startupCtx, telemetry.FromConfig("mockupflow-api", cfg.Tracing), logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatalf("storage client init failed: %v", err)
	}
	if err := storageClient.EnsureBucket(startupCtx); err != nil {
		logger.Printf("ensure bucket failed bucket=%s err=%v", storageClient.Bucket(), err)
	}

	var jobStore store.JobStore
	pgStore, err := store.NewPostgresJobStore(startupCtx, cfg.Database.DSN)
	if err != nil {
		logger.Printf("postgres unavailable, using in-memory job store: %v", err)
		jobStore = store.NewMemoryJobStore()
	} else {
		defer pgStore.Close()
		jobStore = pgStore
	}

	redisClient := redis.NewClient(cfg.Queue.RedisOptions())
	defer redisClient.Close()
	projectStore := store.NewRedisProjectStore(redisClient, "", cfg.Projects.TTL)

	opts := api.Options{
		PresignTTL:    cfg.API.UploadURLTTL,
		EnhanceFactor: cfg.Enhance.DefaultFactor,
	}
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.Capacity < api.MaxRouteCost {
			logger.Fatalf("RATE_LIMIT_CAPACITY=%d cannot admit a request costing %d tokens", cfg.RateLimit.Capacity, api.MaxRouteCost)
		}
		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			logger.Fatalf("rate limiter init failed: %v", err)
		}
		opts.RateLimiter = limiter
	}

	app := api.NewServer(logger, queueClient, jobStore, projectStore, storageClient, opts)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}
