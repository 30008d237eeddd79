package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/mockupflow/internal/config"
	"github.com/dunamismax/mockupflow/internal/enhance"
	"github.com/dunamismax/mockupflow/internal/generator"
	"github.com/dunamismax/mockupflow/internal/storage"
	"github.com/dunamismax/mockupflow/internal/store"
	"github.com/dunamismax/mockupflow/internal/telemetry"
	"github.com/dunamismax/mockupflow/internal/webhook"
	"github.com/dunamismax/mockupflow/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s kernel=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		cfg.Enhance.Kernel,
	)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStartup()

	shutdownTracing, err := telemetry.SetupTracing(startupCtx, telemetry.FromConfig("mockupflow-worker", cfg.Tracing), logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := enhance.Startup(); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer enhance.Shutdown()

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

	deps := worker.Deps{
		Storage: storageClient,
		Webhook: webhook.NewClient(webhook.Config{
			SigningSecret:  cfg.Webhook.Secret,
			Timeout:        cfg.Webhook.Timeout,
			MaxAttempts:    4,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     8 * time.Second,
		}),
	}

	pgStore, err := store.NewPostgresJobStore(startupCtx, cfg.Database.DSN)
	if err != nil {
		logger.Printf("postgres unavailable, job status and usage will not persist: %v", err)
		memory := store.NewMemoryJobStore()
		deps.JobStore = memory
		deps.UsageStore = memory
	} else {
		defer pgStore.Close()
		deps.JobStore = pgStore
		deps.UsageStore = pgStore
	}

	if strings.TrimSpace(cfg.Generator.APIKey) != "" {
		deps.Generator = generator.NewClient(generator.Config{
			APIKey:  cfg.Generator.APIKey,
			Model:   cfg.Generator.Model,
			Timeout: cfg.Generator.Timeout,
		})
		logger.Printf("generation enabled model=%s", cfg.Generator.Model)
	} else {
		logger.Printf("GEMINI_API_KEY not set, jobs will finish with the flat composite")
	}

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, cfg.Enhance, deps)
	if err != nil {
		logger.Fatalf("worker init failed: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(ctx)
	}()

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}
