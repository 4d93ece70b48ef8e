package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	// DatabaseURL selects the pgvector index backend; empty falls back to
	// the in-process index without persistence.
	DatabaseURL string `envconfig:"DATABASE_URL"`
	// MemoryFallback enables searching the in-process index when the
	// Postgres backend is unreachable.
	MemoryFallback bool `envconfig:"MEMORY_FALLBACK" default:"false"`

	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	EmbeddingBatchSize  int    `envconfig:"EMBEDDING_BATCH_SIZE" default:"16"`
	ChatModel           string `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`

	ChunkMaxTokens     int `envconfig:"CHUNK_MAX_TOKENS" default:"512"`
	ChunkOverlapTokens int `envconfig:"CHUNK_OVERLAP_TOKENS" default:"50"`

	RetrieveTopK     int     `envconfig:"RETRIEVE_TOP_K" default:"5"`
	RetrieveMinScore float32 `envconfig:"RETRIEVE_MIN_SCORE" default:"0.5"`
	ContextBudget    int     `envconfig:"CONTEXT_BUDGET_TOKENS" default:"3000"`
	// MergeFraction is the minimum overlap-to-size ratio at which adjacent
	// chunks of the same document are merged during assembly.
	MergeFraction float64 `envconfig:"MERGE_FRACTION" default:"0.05"`
	// UngroundedFallback permits an ungrounded language-model call when
	// retrieval infrastructure is down.
	UngroundedFallback bool `envconfig:"UNGROUNDED_FALLBACK" default:"false"`

	SessionIdleTimeout  time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"30m"`
	SessionGracePeriod  time.Duration `envconfig:"SESSION_GRACE_PERIOD" default:"2160h"`
	SessionHistoryTurns int           `envconfig:"SESSION_HISTORY_TURNS" default:"10"`
	SweepInterval       time.Duration `envconfig:"SWEEP_INTERVAL" default:"10m"`

	ProviderRPS          float64       `envconfig:"PROVIDER_RPS" default:"5"`
	ProviderBurst        int           `envconfig:"PROVIDER_BURST" default:"10"`
	ProviderQueueTimeout time.Duration `envconfig:"PROVIDER_QUEUE_TIMEOUT" default:"10s"`
	ProviderMaxAttempts  int           `envconfig:"PROVIDER_MAX_ATTEMPTS" default:"3"`
	ProviderRetryBase    time.Duration `envconfig:"PROVIDER_RETRY_BASE" default:"250ms"`
	ProviderRetryMax     time.Duration `envconfig:"PROVIDER_RETRY_MAX" default:"5s"`

	// ReviewAge flags documents for content review once their last indexing
	// is older than this.
	ReviewAge time.Duration `envconfig:"REVIEW_AGE" default:"4320h"`

	SentryDSN         string  `envconfig:"SENTRY_DSN"`
	SentryEnvironment string  `envconfig:"SENTRY_ENVIRONMENT" default:"development"`
	SentrySampleRate  float64 `envconfig:"SENTRY_SAMPLE_RATE" default:"1.0"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("PIPEWRENCH", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasPostgres() bool {
	return c.DatabaseURL != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}
