package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joecupano/airgap-lab-ai/internal/autotune"
)

func TestDefaultsFollowProfile(t *testing.T) {
	profile := autotune.ForHardware(16, 4)
	cfg, err := LoadWithProfile("", profile)
	if err != nil {
		t.Fatalf("LoadWithProfile: %v", err)
	}
	if cfg.Search.DefaultTopK != 4 {
		t.Errorf("DefaultTopK = %d, want 4", cfg.Search.DefaultTopK)
	}
	if cfg.LLM.NumCtx != 2048 || cfg.LLM.NumPredict != 384 || cfg.LLM.NumThread != 4 {
		t.Errorf("generation defaults = %+v", cfg.LLM)
	}
	if cfg.Search.MaxTopK != 12 || cfg.Vocab.MaxTerms != 50000 {
		t.Errorf("unexpected limits %+v %+v", cfg.Search, cfg.Vocab)
	}
	if !cfg.LLM.AllowPull() {
		t.Error("expected auto pull by default")
	}
}

func TestYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
server:
  port: 9100
  queryTimeout: 3s
chunker:
  maxChars: 400
  overlap: 40
corpus:
  path: /data/corpus
  exclude: ["**/drafts/**"]
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadWithProfile(path, autotune.ForHardware(8, 2))
	if err != nil {
		t.Fatalf("LoadWithProfile: %v", err)
	}
	if cfg.Server.Port != 9100 || cfg.Server.QueryTimeout != 3*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Chunker.MaxChars != 400 || cfg.Chunker.Overlap != 40 {
		t.Errorf("chunker = %+v", cfg.Chunker)
	}
	if cfg.Corpus.Path != "/data/corpus" || len(cfg.Corpus.Exclude) != 1 {
		t.Errorf("corpus = %+v", cfg.Corpus)
	}
	if cfg.Store.Dir != "/workspace/index" {
		t.Errorf("store dir default lost: %q", cfg.Store.Dir)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "http://ollama:11434")
	t.Setenv("TOP_K", "7")
	t.Setenv("OFFLINE_STRICT", "1")
	t.Setenv("RF_CORPUS_PATH", "/legacy/corpus")
	t.Setenv("AIRGAP_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("GEN_TEMPERATURE", "0.5")

	cfg, err := LoadWithProfile("", autotune.ForHardware(8, 2))
	if err != nil {
		t.Fatalf("LoadWithProfile: %v", err)
	}
	if cfg.LLM.Host != "http://ollama:11434" {
		t.Errorf("Host = %q", cfg.LLM.Host)
	}
	if cfg.Search.DefaultTopK != 7 {
		t.Errorf("DefaultTopK = %d", cfg.Search.DefaultTopK)
	}
	if cfg.LLM.AllowPull() {
		t.Error("offline strict must disable pulls")
	}
	if cfg.Corpus.Path != "/legacy/corpus" {
		t.Errorf("Corpus.Path = %q", cfg.Corpus.Path)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.LLM.Temperature != 0.5 {
		t.Errorf("Temperature = %v", cfg.LLM.Temperature)
	}
}

func TestPrimaryEnvNameWins(t *testing.T) {
	t.Setenv("CORPUS_PATH", "/primary")
	t.Setenv("RF_CORPUS_PATH", "/legacy")
	cfg, err := LoadWithProfile("", autotune.ForHardware(8, 2))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Corpus.Path != "/primary" {
		t.Errorf("Corpus.Path = %q, want /primary", cfg.Corpus.Path)
	}
}

func TestInvalidEnvIsRejected(t *testing.T) {
	t.Setenv("TOP_K", "many")
	_, err := LoadWithProfile("", autotune.ForHardware(8, 2))
	if err == nil || !strings.Contains(err.Error(), "AIRGAP_TOP_K") {
		t.Fatalf("expected override error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := defaultConfig(autotune.ForHardware(8, 2))
	cfg.Chunker.Overlap = cfg.Chunker.MaxChars
	if err := cfg.Validate(); err == nil {
		t.Error("expected overlap >= maxChars to fail")
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	want := "host=db port=5432 user=u password=p dbname=d sslmode=disable"
	if got := p.DSN(); got != want {
		t.Errorf("DSN() = %q", got)
	}
}
