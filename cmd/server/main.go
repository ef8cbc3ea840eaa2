package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/opennoise/noise-hotspot-service/internal/adapter/http"
	kafkaadapter "github.com/opennoise/noise-hotspot-service/internal/adapter/kafka"
	"github.com/opennoise/noise-hotspot-service/internal/aggregator"
	"github.com/opennoise/noise-hotspot-service/internal/config"
	"github.com/opennoise/noise-hotspot-service/internal/ingest"
	"github.com/opennoise/noise-hotspot-service/internal/observability"
	"github.com/opennoise/noise-hotspot-service/internal/query"
	"github.com/opennoise/noise-hotspot-service/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Select the store backend.
	var (
		hotspots store.HotspotStore
		reports  store.ReportStore
		pinger   store.Pinger
	)
	if cfg.StoreBackend == config.StoreBackendPostgres {
		pg, err := store.NewPostgres(cfg.PostgresDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close() //nolint:errcheck // shutting down anyway
		if err := pg.Migrate(ctx); err != nil {
			logger.Error("postgres migrate failed", "error", err)
			os.Exit(1)
		}
		hotspots, reports, pinger = pg.Hotspots, pg.Reports, pg
		logger.Info("using postgres store")
	} else {
		mem := store.NewMemoryHotspotStore()
		hotspots, reports, pinger = mem, store.NewMemoryReportStore(), mem
		logger.Info("using in-memory store")
	}

	agg := aggregator.New(hotspots, cfg.ClusterRadiusKm, logger, metrics)
	logger.Info("aggregator ready", "cluster_radius_km", agg.ClusterRadiusKm())

	// Change notifications are feature-flagged via KAFKA_ENABLED / KAFKA_BROKERS.
	var notifier ingest.Notifier
	if cfg.KafkaEnabled {
		n := kafkaadapter.NewNotifier(cfg, logger)
		defer n.Close() //nolint:errcheck // shutting down anyway
		notifier = n
		logger.Info("kafka notifications enabled", "topic", cfg.KafkaEventsTopic)
	} else {
		logger.Info("kafka notifications disabled")
	}

	svc := ingest.New(reports, agg, notifier, pinger, logger, metrics, cfg.StoreTimeout)
	queries := query.New(reports, hotspots)

	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, queries, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
