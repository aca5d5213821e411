package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/arogya-health/consult/internal/config"
	"github.com/arogya-health/consult/internal/consult"
	"github.com/arogya-health/consult/internal/consultstore"
	"github.com/arogya-health/consult/internal/contextstore"
	"github.com/arogya-health/consult/internal/httpapi"
	"github.com/arogya-health/consult/internal/kvstore"
	"github.com/arogya-health/consult/internal/observability"
	"github.com/arogya-health/consult/internal/provider"
	"github.com/arogya-health/consult/internal/transcache"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	kv, err := kvstore.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("kv store init failed: %v", err)
	}
	defer kv.Close()
	if cfg.RedisAddr == "" {
		log.Printf("fast store: in-memory (REDIS_ADDR not set)")
	} else {
		log.Printf("fast store: redis at %s", cfg.RedisAddr)
	}

	consults, err := consultstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("consultation store init failed: %v", err)
	}
	defer consults.Close()

	durableTier, err := transcache.NewDurable(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("translation cache init failed: %v", err)
	}
	defer durableTier.Close()
	cache := transcache.New(kv, durableTier, metrics,
		cfg.CacheConfidenceThreshold, cfg.CacheMaxTextLength, cfg.CacheDuration)

	contexts := contextstore.New(kv, consults, cfg.ContextWindow, cfg.ContextTTL,
		cfg.RetryAttempts, cfg.RetryBaseDelay)

	// Real speech/translation/reasoning providers are separate services;
	// the mock keeps the pipeline runnable without them.
	providers := provider.NewMock()
	log.Printf("providers: mock (no external providers configured)")

	manager := consult.NewManager(consult.Params{
		KV:              kv,
		Consults:        consults,
		Cache:           cache,
		Contexts:        contexts,
		Speech:          providers,
		Translator:      providers,
		Reasoner:        providers,
		Metrics:         metrics,
		BaseLanguage:    cfg.BaseLanguage,
		SessionTTL:      cfg.SessionTTL,
		RateCeiling:     cfg.RateCeiling,
		RateWindow:      cfg.RateWindow,
		ChunkThreshold:  cfg.ChunkThreshold,
		BufferHardCap:   cfg.BufferHardCap,
		MaxMessageSize:  cfg.MaxMessageSize,
		ProviderTimeout: cfg.ProviderTimeout,
		MaxStreams:      cfg.MaxConcurrentStreams,
	})

	api := httpapi.New(cfg, manager, cache, kv, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	cache.StartSweeper(runCtx, cfg.CacheSweepInterval)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
