package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/joecupano/airgap-lab-ai/internal/buildlog"
	"github.com/joecupano/airgap-lab-ai/internal/extract"
	"github.com/joecupano/airgap-lab-ai/internal/retrieval"
	"github.com/joecupano/airgap-lab-ai/internal/retrieval/store"
	"github.com/joecupano/airgap-lab-ai/pkg/config"
	"github.com/joecupano/airgap-lab-ai/pkg/kafka"
	"github.com/joecupano/airgap-lab-ai/pkg/logger"
	"github.com/joecupano/airgap-lab-ai/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	corpusPath := flag.String("corpus", "", "corpus directory (overrides config)")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *corpusPath != "" {
		cfg.Corpus.Path = *corpusPath
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer", "corpus_path", cfg.Corpus.Path, "store_dir", cfg.Store.Dir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := retrieval.New(retrieval.OptionsFromConfig(cfg), store.New(cfg.Store.Dir, cfg.Store.KeepBuilds), extract.NewRegistry())
	if err != nil {
		slog.Error("failed to create retrieval engine", "error", err)
		os.Exit(1)
	}

	builds, closeBuilds := openBuildLog(ctx, cfg)
	defer closeBuilds()
	res, ingestErr := engine.Ingest(ctx, cfg.Corpus.Path)
	if builds != nil {
		_ = builds.Record(ctx, buildlog.FromResult(res, ingestErr))
	}
	if ingestErr != nil {
		slog.Error("ingest failed", "error", ingestErr)
		os.Exit(1)
	}

	out := map[string]any{
		"indexed_chunks": res.Chunks,
		"indexed_files":  res.Files,
		"corpus_path":    cfg.Corpus.Path,
	}
	if res.BuildID != "" {
		out["build_id"] = res.BuildID
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(out)
	slog.Info("indexer finished", "duration_ms", res.Duration.Milliseconds())
}

// openBuildLog records the run in Postgres and announces it on Kafka when
// either is enabled. It returns a nil Log when neither is.
func openBuildLog(ctx context.Context, cfg *config.Config) (*buildlog.Log, func()) {
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if !cfg.BuildLog.Enabled && !cfg.Kafka.Enabled {
		return nil, closeAll
	}
	var repo buildlog.Repository = buildlog.NewMemoryRepository(1)
	if cfg.BuildLog.Enabled {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, build not recorded", "error", err)
		} else {
			closers = append(closers, db.Close)
			if pgRepo, err := buildlog.NewPostgresRepository(ctx, db); err != nil {
				slog.Warn("build history table unavailable", "error", err)
			} else {
				repo = pgRepo
			}
		}
	}
	var producer kafka.Publisher
	if cfg.Kafka.Enabled {
		p := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		closers = append(closers, p.Close)
		producer = p
	}
	return buildlog.New(repo, producer), closeAll
}
