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
	"github.com/joecupano/airgap-lab-ai/internal/api"
	"github.com/joecupano/airgap-lab-ai/internal/api/cache"
	"github.com/joecupano/airgap-lab-ai/internal/buildlog"
	"github.com/joecupano/airgap-lab-ai/internal/corpus"
	"github.com/joecupano/airgap-lab-ai/internal/extract"
	"github.com/joecupano/airgap-lab-ai/internal/llm"
	"github.com/joecupano/airgap-lab-ai/internal/ratelimit"
	"github.com/joecupano/airgap-lab-ai/internal/retrieval"
	"github.com/joecupano/airgap-lab-ai/internal/retrieval/store"
	"github.com/joecupano/airgap-lab-ai/pkg/config"
	"github.com/joecupano/airgap-lab-ai/pkg/health"
	"github.com/joecupano/airgap-lab-ai/pkg/kafka"
	"github.com/joecupano/airgap-lab-ai/pkg/logger"
	"github.com/joecupano/airgap-lab-ai/pkg/metrics"
	"github.com/joecupano/airgap-lab-ai/pkg/postgres"
	pkgredis "github.com/joecupano/airgap-lab-ai/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting airgap lab ai",
		"port", cfg.Server.Port,
		"corpus_path", cfg.Corpus.Path,
		"tuning_profile", cfg.Profile.Name,
		"llm_provider", cfg.LLM.Provider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	engine, err := retrieval.New(retrieval.OptionsFromConfig(cfg), store.New(cfg.Store.Dir, cfg.Store.KeepBuilds), extract.NewRegistry())
	if err != nil {
		slog.Error("failed to create retrieval engine", "error", err)
		os.Exit(1)
	}

	gen, err := llm.New(cfg.LLM, m.ObserveBreaker)
	if err != nil {
		slog.Error("failed to create language model client", "error", err)
		os.Exit(1)
	}
	model, err := gen.EnsureModel(ctx)
	if err != nil {
		slog.Error("startup failed", "error", llm.StartupError(cfg.LLM.OfflineStrict, err))
		os.Exit(1)
	}
	slog.Info("language model ready", "model", model, "offline_strict", cfg.LLM.OfflineStrict)

	checker := health.NewChecker()

	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, query caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis)
			checker.Register("redis", health.Ping(false, redisClient.Ping))
			slog.Info("query cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var db *postgres.Client
	if cfg.BuildLog.Enabled || cfg.Analytics.Enabled {
		db, err = postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, build history kept in memory", "error", err)
			db = nil
		} else {
			defer db.Close()
			checker.Register("postgres", health.Ping(false, db.Ping))
		}
	}

	var buildRepo buildlog.Repository = buildlog.NewMemoryRepository(100)
	if cfg.BuildLog.Enabled && db != nil {
		pgRepo, err := buildlog.NewPostgresRepository(ctx, db)
		if err != nil {
			slog.Warn("build history table unavailable, keeping it in memory", "error", err)
		} else {
			buildRepo = pgRepo
		}
	}
	var buildProducer kafka.Publisher
	if cfg.Kafka.Enabled {
		p := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer p.Close()
		buildProducer = p
	}
	builds := buildlog.New(buildRepo, buildProducer)

	var (
		collector  *analytics.Collector
		aggregator *analytics.Aggregator
		snapshots  *snapshot.Store
	)
	if cfg.Analytics.Enabled {
		aggregator = analytics.NewAggregator(cfg.Analytics.WindowSize)
		var sink kafka.Publisher = aggregator.Publisher()
		if cfg.Kafka.Enabled {
			producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
			defer producer.Close()
			sink = producer

			consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, analytics.HandleEvent(aggregator))
			go func() {
				if err := consumer.Start(ctx); err != nil {
					slog.Error("analytics consumer error", "error", err)
				}
			}()
			slog.Info("analytics events routed through kafka", "topic", cfg.Kafka.Topics.AnalyticsEvents)
		}
		collector = analytics.NewCollector(sink, cfg.Analytics.BufferSize, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval)
		collector.Start(ctx)
		defer collector.Close()

		if db != nil && cfg.Analytics.SnapshotInterval > 0 {
			snapshots, err = snapshot.NewStore(ctx, db)
			if err != nil {
				slog.Warn("analytics snapshots disabled", "error", err)
				snapshots = nil
			} else {
				snapshots.StartPeriodicSave(ctx, aggregator, cfg.Analytics.SnapshotInterval)
			}
		}
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
		defer limiter.Close()
	}

	srv := api.New(api.Deps{
		Config:     cfg,
		Engine:     engine,
		Generator:  gen,
		Uploads:    corpus.NewUploads(cfg.Corpus.Path, cfg.Corpus.UploadsDir, engine.Supported),
		Metrics:    m,
		Health:     checker,
		Cache:      queryCache,
		Collector:  collector,
		Aggregator: aggregator,
		Snapshots:  snapshots,
		Builds:     builds,
		Limiter:    limiter,
	})

	if cfg.Corpus.Watch {
		if err := os.MkdirAll(cfg.Corpus.Path, 0o755); err != nil {
			slog.Error("failed to create corpus directory", "error", err)
			os.Exit(1)
		}
		watcher, err := corpus.NewWatcher(cfg.Corpus.Path, engine.Supported, cfg.Corpus.WatchDebounce, func(ctx context.Context) {
			res, err := srv.Reindex(ctx)
			if err != nil {
				slog.Error("re-ingest after corpus change failed", "error", err)
				return
			}
			slog.Info("re-ingested after corpus change", "indexed_chunks", res.Chunks, "indexed_files", res.Files)
		})
		if err != nil {
			slog.Warn("corpus watching disabled", "error", err)
		} else {
			go func() {
				if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("corpus watcher stopped", "error", err)
				}
			}()
			slog.Info("watching corpus for changes", "path", cfg.Corpus.Path, "debounce", cfg.Corpus.WatchDebounce)
		}
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Handler(),
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

	slog.Info("airgap lab ai listening", "addr", server.Addr, "index_ready", engine.IndexExists())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("airgap lab ai stopped")
}
