// Command witness consumes climate-event submissions from Kafka, verifies them
// against the evidence store and publishes the verification results.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/climate-witness/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/climate-witness/internal/adapter/kafka"
	"github.com/couchcryptid/climate-witness/internal/adapter/mapbox"
	"github.com/couchcryptid/climate-witness/internal/adapter/memstore"
	"github.com/couchcryptid/climate-witness/internal/adapter/sqlstore"
	"github.com/couchcryptid/climate-witness/internal/config"
	"github.com/couchcryptid/climate-witness/internal/domain"
	"github.com/couchcryptid/climate-witness/internal/observability"
	"github.com/couchcryptid/climate-witness/internal/pipeline"
	"github.com/couchcryptid/climate-witness/internal/scoring"
	"github.com/couchcryptid/climate-witness/internal/verify"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	metrics := observability.NewMetrics()

	if err := run(cfg, logger, metrics); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy, err := scoring.LoadPolicy(cfg.ScoringPolicyPath)
	if err != nil {
		return err
	}
	logger.Info("scoring policy loaded", "path", cfg.ScoringPolicyPath, "hash", policy.Hash)

	store, storeReady, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("evidence store opened", "driver", cfg.StoreDriver)

	// Geocoding is feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN.
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	svc := verify.New(store, geocoder, policy.Policy, clockwork.NewRealClock(), logger, metrics)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	p := pipeline.New(reader, pipeline.NewTransformer(svc), writer, logger, metrics, cfg.BatchSize, cfg.VerifyConcurrency)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.AllReady(p, storeReady), nil, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// openStore returns the configured evidence store, its readiness check and a
// close function.
func openStore(ctx context.Context, cfg *config.Config) (domain.EvidenceStore, httpadapter.ReadinessChecker, func(), error) {
	if cfg.StoreDriver == config.StoreMemory {
		ready := httpadapter.ReadinessFunc(func(context.Context) error { return nil })
		return memstore.New(), ready, func() {}, nil
	}

	store, err := sqlstore.Open(ctx, sqlstore.Driver(cfg.StoreDriver), cfg.StoreDSN)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, nil, nil, err
	}
	ready := httpadapter.ReadinessFunc(func(ctx context.Context) error {
		if err := store.Ping(ctx); err != nil {
			return fmt.Errorf("evidence store: %w", err)
		}
		return nil
	})
	return store, ready, func() { _ = store.Close() }, nil
}
