// Package config loads application configuration from YAML files with
// environment-variable overrides. Defaults for retrieval depth and generation
// parameters are seeded from the detected hardware profile.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joecupano/airgap-lab-ai/internal/autotune"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Vocab     VocabConfig     `yaml:"vocab"`
	Store     StoreConfig     `yaml:"store"`
	Search    SearchConfig    `yaml:"search"`
	LLM       LLMConfig       `yaml:"llm"`
	Assistant AssistantConfig `yaml:"assistant"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	BuildLog  BuildLogConfig  `yaml:"buildLog"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// Profile is the hardware tier the defaults were derived from.
	Profile autotune.Profile `yaml:"-"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	QueryTimeout    time.Duration `yaml:"queryTimeout"`
	IngestTimeout   time.Duration `yaml:"ingestTimeout"`
	MaxUploadBytes  int64         `yaml:"maxUploadBytes"`
	// CORSOrigins lists browser origins allowed to call the API; "*" allows
	// any. Empty disables CORS headers.
	CORSOrigins []string `yaml:"corsOrigins"`
}

// CorpusConfig locates the documents to index.
type CorpusConfig struct {
	Path          string        `yaml:"path"`
	UploadsDir    string        `yaml:"uploadsDir"`
	Exclude       []string      `yaml:"exclude"`
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watchDebounce"`
}

// ChunkerConfig bounds passage size, in runes.
type ChunkerConfig struct {
	MaxChars int `yaml:"maxChars"`
	Overlap  int `yaml:"overlap"`
}

// VocabConfig caps the learned vocabulary.
type VocabConfig struct {
	MaxTerms int `yaml:"maxTerms"`
}

// StoreConfig points at the on-disk index.
type StoreConfig struct {
	Dir        string `yaml:"dir"`
	KeepBuilds int    `yaml:"keepBuilds"`
}

// SearchConfig controls result depth.
type SearchConfig struct {
	DefaultTopK int `yaml:"defaultTopK"`
	MaxTopK     int `yaml:"maxTopK"`
}

// LLMConfig selects and tunes the answer generator.
type LLMConfig struct {
	Provider        string        `yaml:"provider"`
	Host            string        `yaml:"host"`
	Model           string        `yaml:"model"`
	ModelCandidates []string      `yaml:"modelCandidates"`
	AutoPull        bool          `yaml:"autoPull"`
	OfflineStrict   bool          `yaml:"offlineStrict"`
	APIKey          string        `yaml:"apiKey"`
	Timeout         time.Duration `yaml:"timeout"`
	Temperature     float64       `yaml:"temperature"`
	NumCtx          int           `yaml:"numCtx"`
	NumPredict      int           `yaml:"numPredict"`
	NumThread       int           `yaml:"numThread"`
	MaxRetries      int           `yaml:"maxRetries"`
	BreakerFailures int           `yaml:"breakerFailures"`
	BreakerReset    time.Duration `yaml:"breakerReset"`
}

// AllowPull reports whether missing models may be downloaded.
func (l LLMConfig) AllowPull() bool {
	return l.AutoPull && !l.OfflineStrict
}

// AssistantConfig shapes the prompt sent to the model.
type AssistantConfig struct {
	UseCaseName     string `yaml:"useCaseName"`
	Instructions    string `yaml:"instructions"`
	MaxContextChars int    `yaml:"maxContextChars"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexComplete   string `yaml:"indexComplete"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// AnalyticsConfig toggles query analytics. Events travel over Kafka when it
// is enabled and are aggregated in process otherwise.
type AnalyticsConfig struct {
	Enabled          bool          `yaml:"enabled"`
	BufferSize       int           `yaml:"bufferSize"`
	BatchSize        int           `yaml:"batchSize"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
	WindowSize       int           `yaml:"windowSize"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// BuildLogConfig toggles recording index builds in Postgres.
type BuildLogConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RateLimitConfig throttles the answer endpoint per client.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
	Burst             int  `yaml:"burst"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig toggles span logging for ingest and query.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) over defaults derived from the
// detected hardware profile and applies environment-variable overrides.
func Load(path string) (*Config, error) {
	return LoadWithProfile(path, autotune.Detect())
}

// LoadWithProfile is Load with an explicit hardware profile.
func LoadWithProfile(path string, profile autotune.Profile) (*Config, error) {
	cfg := defaultConfig(profile)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot honour.
func (c *Config) Validate() error {
	switch {
	case c.Chunker.MaxChars <= 0:
		return fmt.Errorf("chunker.maxChars must be positive, got %d", c.Chunker.MaxChars)
	case c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.MaxChars:
		return fmt.Errorf("chunker.overlap must be in [0, maxChars), got %d", c.Chunker.Overlap)
	case c.Vocab.MaxTerms <= 0:
		return fmt.Errorf("vocab.maxTerms must be positive, got %d", c.Vocab.MaxTerms)
	case c.Search.MaxTopK <= 0:
		return fmt.Errorf("search.maxTopK must be positive, got %d", c.Search.MaxTopK)
	case c.Search.DefaultTopK <= 0:
		return fmt.Errorf("search.defaultTopK must be positive, got %d", c.Search.DefaultTopK)
	case c.Corpus.Path == "":
		return fmt.Errorf("corpus.path must be set")
	case c.Store.Dir == "":
		return fmt.Errorf("store.dir must be set")
	}
	return nil
}

func defaultConfig(profile autotune.Profile) *Config {
	return &Config{
		Profile: profile,
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    300 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			QueryTimeout:    10 * time.Second,
			IngestTimeout:   10 * time.Minute,
			MaxUploadBytes:  64 << 20,
		},
		Corpus: CorpusConfig{
			Path:          "/workspace/data/corpus",
			UploadsDir:    "uploads",
			WatchDebounce: 2 * time.Second,
		},
		Chunker: ChunkerConfig{
			MaxChars: 1000,
			Overlap:  150,
		},
		Vocab: VocabConfig{
			MaxTerms: 50000,
		},
		Store: StoreConfig{
			Dir:        "/workspace/index",
			KeepBuilds: 2,
		},
		Search: SearchConfig{
			DefaultTopK: profile.TopK,
			MaxTopK:     12,
		},
		LLM: LLMConfig{
			Provider:        "ollama",
			Host:            "http://localhost:11434",
			Model:           "auto",
			ModelCandidates: profile.ModelCandidates,
			AutoPull:        true,
			Timeout:         240 * time.Second,
			Temperature:     0.2,
			NumCtx:          profile.NumCtx,
			NumPredict:      profile.NumPredict,
			NumThread:       profile.GenerationThreads(),
			MaxRetries:      2,
			BreakerFailures: 5,
			BreakerReset:    30 * time.Second,
		},
		Assistant: AssistantConfig{
			UseCaseName: "Domain Assistant",
			Instructions: "Answer using the provided context when possible. " +
				"If context is insufficient, state what is missing and provide a cautious best-effort answer.",
			MaxContextChars: 8000,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "airgap",
			User:            "airgap",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "airgap-analytics",
			Topics: KafkaTopics{
				IndexComplete:   "index.complete",
				AnalyticsEvents: "analytics-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 5 * time.Minute,
		},
		Analytics: AnalyticsConfig{
			BufferSize:       1024,
			BatchSize:        100,
			FlushInterval:    5 * time.Second,
			WindowSize:       10000,
			SnapshotInterval: time.Minute,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
			Burst:             5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads AIRGAP_* variables and the legacy names the
// deployment scripts already export.
func applyEnvOverrides(cfg *Config) error {
	var errs []string
	str := func(target *string, names ...string) {
		if v, ok := lookup(names...); ok {
			*target = v
		}
	}
	num := func(target *int, names ...string) {
		if v, ok := lookup(names...); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", names[0], err))
				return
			}
			*target = n
		}
	}
	float := func(target *float64, names ...string) {
		if v, ok := lookup(names...); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", names[0], err))
				return
			}
			*target = f
		}
	}
	flag := func(target *bool, names ...string) {
		if v, ok := lookup(names...); ok {
			*target = v == "1" || strings.EqualFold(v, "true")
		}
	}
	dur := func(target *time.Duration, names ...string) {
		if v, ok := lookup(names...); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", names[0], err))
				return
			}
			*target = d
		}
	}

	num(&cfg.Server.Port, "AIRGAP_SERVER_PORT", "PORT")
	dur(&cfg.Server.QueryTimeout, "AIRGAP_QUERY_TIMEOUT")
	dur(&cfg.Server.IngestTimeout, "AIRGAP_INGEST_TIMEOUT")
	if v, ok := lookup("AIRGAP_CORS_ORIGINS"); ok {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}

	str(&cfg.Corpus.Path, "AIRGAP_CORPUS_PATH", "CORPUS_PATH", "RF_CORPUS_PATH")
	flag(&cfg.Corpus.Watch, "AIRGAP_CORPUS_WATCH")
	str(&cfg.Store.Dir, "AIRGAP_STORE_DIR", "VECTOR_STORE_PATH")

	num(&cfg.Chunker.MaxChars, "AIRGAP_CHUNK_MAX_CHARS")
	num(&cfg.Chunker.Overlap, "AIRGAP_CHUNK_OVERLAP")
	num(&cfg.Vocab.MaxTerms, "AIRGAP_VOCAB_MAX_TERMS")
	num(&cfg.Search.DefaultTopK, "AIRGAP_TOP_K", "TOP_K")

	str(&cfg.LLM.Provider, "AIRGAP_LLM_PROVIDER")
	str(&cfg.LLM.Host, "AIRGAP_LLM_HOST", "OLLAMA_HOST")
	str(&cfg.LLM.Model, "AIRGAP_LLM_MODEL", "OLLAMA_MODEL")
	flag(&cfg.LLM.AutoPull, "AIRGAP_LLM_AUTO_PULL", "OLLAMA_AUTO_PULL")
	flag(&cfg.LLM.OfflineStrict, "AIRGAP_OFFLINE_STRICT", "OFFLINE_STRICT")
	str(&cfg.LLM.APIKey, "AIRGAP_LLM_API_KEY", "OPENAI_API_KEY")
	float(&cfg.LLM.Temperature, "AIRGAP_GEN_TEMPERATURE", "GEN_TEMPERATURE")
	num(&cfg.LLM.NumCtx, "AIRGAP_GEN_NUM_CTX", "GEN_NUM_CTX")
	num(&cfg.LLM.NumPredict, "AIRGAP_GEN_NUM_PREDICT", "GEN_NUM_PREDICT")
	num(&cfg.LLM.NumThread, "AIRGAP_GEN_NUM_THREAD", "GEN_NUM_THREAD")

	str(&cfg.Assistant.UseCaseName, "AIRGAP_USE_CASE_NAME", "USE_CASE_NAME")
	str(&cfg.Assistant.Instructions, "AIRGAP_ASSISTANT_INSTRUCTIONS", "ASSISTANT_INSTRUCTIONS")
	num(&cfg.Assistant.MaxContextChars, "AIRGAP_MAX_CONTEXT_CHARS", "MAX_CONTEXT_CHARS")

	str(&cfg.Postgres.Host, "AIRGAP_POSTGRES_HOST")
	num(&cfg.Postgres.Port, "AIRGAP_POSTGRES_PORT")
	str(&cfg.Postgres.Database, "AIRGAP_POSTGRES_DATABASE")
	str(&cfg.Postgres.User, "AIRGAP_POSTGRES_USER")
	str(&cfg.Postgres.Password, "AIRGAP_POSTGRES_PASSWORD")
	str(&cfg.Postgres.SSLMode, "AIRGAP_POSTGRES_SSLMODE")
	flag(&cfg.BuildLog.Enabled, "AIRGAP_BUILDLOG_ENABLED")

	flag(&cfg.Kafka.Enabled, "AIRGAP_KAFKA_ENABLED")
	if v, ok := lookup("AIRGAP_KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	flag(&cfg.Analytics.Enabled, "AIRGAP_ANALYTICS_ENABLED")

	flag(&cfg.Redis.Enabled, "AIRGAP_REDIS_ENABLED")
	str(&cfg.Redis.Addr, "AIRGAP_REDIS_ADDR")
	str(&cfg.Redis.Password, "AIRGAP_REDIS_PASSWORD")

	flag(&cfg.RateLimit.Enabled, "AIRGAP_RATELIMIT_ENABLED")
	num(&cfg.RateLimit.RequestsPerMinute, "AIRGAP_RATELIMIT_RPM")

	str(&cfg.Logging.Level, "AIRGAP_LOGGING_LEVEL")
	str(&cfg.Logging.Format, "AIRGAP_LOGGING_FORMAT")
	flag(&cfg.Tracing.Enabled, "AIRGAP_TRACING_ENABLED")
	flag(&cfg.Metrics.Enabled, "AIRGAP_METRICS_ENABLED")
	num(&cfg.Metrics.Port, "AIRGAP_METRICS_PORT")

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

// lookup returns the first non-blank value among names.
func lookup(names ...string) (string, bool) {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, true
		}
	}
	return "", false
}
