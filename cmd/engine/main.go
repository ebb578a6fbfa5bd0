// Command engine is the process entrypoint: it loads configuration,
// wires every component of the signal-ingestion and decision pipeline,
// and serves the HTTP surface until an interrupt signal arrives.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tvsignal/engine/api"
	"github.com/tvsignal/engine/internal/admin"
	"github.com/tvsignal/engine/internal/ai"
	"github.com/tvsignal/engine/internal/aggregator"
	"github.com/tvsignal/engine/internal/aislock"
	"github.com/tvsignal/engine/internal/config"
	"github.com/tvsignal/engine/internal/dedupe"
	"github.com/tvsignal/engine/internal/ingress"
	"github.com/tvsignal/engine/internal/lifecycle"
	"github.com/tvsignal/engine/internal/marketdata"
	"github.com/tvsignal/engine/internal/pricestream"
	"github.com/tvsignal/engine/internal/publisher"
	"github.com/tvsignal/engine/internal/query"
	"github.com/tvsignal/engine/internal/scheduler"
	"github.com/tvsignal/engine/internal/store"
	"github.com/tvsignal/engine/pkg/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability)
	ctx := context.Background()

	metrics, err := observability.NewMetricsProvider(observability.MetricsConfig{
		ServiceName: cfg.Observability.ServiceName,
		Namespace:   "tv",
	})
	if err != nil {
		log.Fatalf("metrics: %v", err)
	}
	defer metrics.Shutdown(ctx)

	s, err := store.New(cfg.Redis, logger)
	if err != nil {
		log.Fatalf("store: %v", err)
	}

	agg := aggregator.New(s)
	dedupeChecker := dedupe.New(s)
	lock := aislock.New(s)
	pub := publisher.New(s)
	market := marketdata.New(logger)
	stream := pricestream.New(logger)
	aiProvider := ai.New(cfg.AI.Provider, cfg.AI.APIKey, cfg.AI.Model, cfg.AI.BaseURL, logger)

	ingressHandler := ingress.NewHandler(s, dedupeChecker, agg, lock, pub, market, aiProvider, logger, metrics, ingress.Config{
		WebhookSecret: cfg.Webhook.Secret,
		RateWindowSec: cfg.Webhook.RateLimitWindowSec,
		RateMaxEvents: int64(cfg.Webhook.RateLimitMaxEvents),
	})
	adminHandler := admin.NewHandler(s, logger, cfg.Webhook.AdminToken)
	queryHandler := query.NewHandler(s, stream, market, logger)
	sched := scheduler.New(s, agg, lock, pub, market, aiProvider, logger, metrics)

	server := api.NewServer(logger, metrics, cfg.Server, cfg.RateLimit, ingressHandler, adminHandler, queryHandler, stream, s, time.Now())

	coordinator := lifecycle.New(s, sched, stream, logger)
	coordinator.Start(ctx)

	if err := server.Start(ctx, cfg.Security.CORSAllowedOrigins); err != nil {
		log.Fatalf("http server: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info(ctx, "shutdown signal received", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "http server shutdown error", err, nil)
	}
	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "lifecycle shutdown error", err, nil)
	}
}
