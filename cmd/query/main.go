package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/joecupano/airgap-lab-ai/internal/extract"
	"github.com/joecupano/airgap-lab-ai/internal/retrieval"
	"github.com/joecupano/airgap-lab-ai/internal/retrieval/store"
	"github.com/joecupano/airgap-lab-ai/pkg/config"
	apperrors "github.com/joecupano/airgap-lab-ai/pkg/errors"
	"github.com/joecupano/airgap-lab-ai/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	topK := flag.Int("k", 0, "number of passages (default from config)")
	asJSON := flag.Bool("json", false, "print results as JSON")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] question...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	question := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if question == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	engine, err := retrieval.New(retrieval.OptionsFromConfig(cfg), store.New(cfg.Store.Dir, cfg.Store.KeepBuilds), extract.NewRegistry())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create retrieval engine: %v\n", err)
		os.Exit(1)
	}

	results, err := engine.Query(context.Background(), question, *topK)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrIndexAbsent) {
			fmt.Fprintln(os.Stderr, "No index found. Run the indexer first.")
		} else {
			fmt.Fprintf(os.Stderr, "query failed: %v\n", err)
		}
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(results)
		return
	}
	if len(results) == 0 {
		fmt.Println("no matching passages")
		return
	}
	for i, r := range results {
		fmt.Printf("[%d] %s chunk=%d score=%.4f\n%s\n\n", i+1, r.Source, r.ChunkID, r.Score, r.Text)
	}
}
