// Command analytics runs the analytics aggregator as its own service.
//
// When several API servers publish to Kafka, this service consumes the
// analytics-events topic, aggregates across all of them, snapshots the
// result into Postgres and serves GET /api/v1/analytics and
// GET /api/v1/analytics/snapshots.
//
// Usage:
//
//	go run ./cmd/analytics [-config airgap.yaml] [-port 8081]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/joecupano/airgap-lab-ai/internal/analytics"
	"github.com/joecupano/airgap-lab-ai/internal/analytics/snapshot"
	"github.com/joecupano/airgap-lab-ai/pkg/config"
	"github.com/joecupano/airgap-lab-ai/pkg/health"
	"github.com/joecupano/airgap-lab-ai/pkg/kafka"
	"github.com/joecupano/airgap-lab-ai/pkg/logger"
	"github.com/joecupano/airgap-lab-ai/pkg/metrics"
	"github.com/joecupano/airgap-lab-ai/pkg/middleware"
	"github.com/joecupano/airgap-lab-ai/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	port := flag.Int("port", 8081, "HTTP port")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if !cfg.Kafka.Enabled {
		slog.Error("the analytics service needs kafka; set AIRGAP_KAFKA_ENABLED=true")
		os.Exit(1)
	}
	slog.Info("starting analytics service", "port", *port, "topic", cfg.Kafka.Topics.AnalyticsEvents)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	aggregator := analytics.NewAggregator(cfg.Analytics.WindowSize)
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, analytics.HandleEvent(aggregator))
	consumerErr := make(chan error, 1)
	go func() {
		consumerErr <- consumer.Start(ctx)
	}()

	checker := health.NewChecker()
	checker.Register("kafka", func(context.Context) health.ComponentHealth {
		select {
		case err := <-consumerErr:
			consumerErr <- err
			if err != nil {
				return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusDown, Message: "consumer stopped"}
		default:
			return health.ComponentHealth{Status: health.StatusUp, Message: "consumer active"}
		}
	})

	var snapshots *snapshot.Store
	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, snapshots disabled", "error", err)
	} else {
		defer db.Close()
		checker.Register("postgres", health.Ping(false, db.Ping))
		if snapshots, err = snapshot.NewStore(ctx, db); err != nil {
			slog.Warn("snapshots disabled", "error", err)
			snapshots = nil
		} else if cfg.Analytics.SnapshotInterval > 0 {
			snapshots.StartPeriodicSave(ctx, aggregator, cfg.Analytics.SnapshotInterval)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", analytics.NewHandler(aggregator).Stats)
	mux.HandleFunc("GET /api/v1/analytics/snapshots", snapshot.NewHandler(snapshots).List)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	m := metrics.New(nil)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      middleware.Chain(mux, middleware.RequestID, middleware.Metrics(m)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("analytics service stopped")
}
