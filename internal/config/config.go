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

	DataDir      string `envconfig:"DATA_DIR" default:"./data"`
	StoreBackend string `envconfig:"STORE_BACKEND" default:"badger"`
	DatabaseURL  string `envconfig:"DATABASE_URL"`

	LexicalEnabled bool   `envconfig:"LEXICAL_ENABLED" default:"true"`
	SearchMode     string `envconfig:"SEARCH_MODE" default:"hybrid"`

	EmbeddingProvider   string `envconfig:"EMBEDDING_PROVIDER" default:"openai"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`

	LLMProvider    string `envconfig:"LLM_PROVIDER" default:"openai"`
	ChatModel      string `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`
	AnthropicModel string `envconfig:"ANTHROPIC_MODEL" default:"claude-sonnet-4-20250514"`

	OpenAIAPIKey     string `envconfig:"OPENAI_API_KEY"`
	AnthropicAPIKey  string `envconfig:"ANTHROPIC_API_KEY"`
	OllamaURL        string `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	OllamaEmbedModel string `envconfig:"OLLAMA_EMBED_MODEL" default:"nomic-embed-text"`
	OllamaChatModel  string `envconfig:"OLLAMA_CHAT_MODEL" default:"llama3.2"`

	ChunkSize    int `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap int `envconfig:"CHUNK_OVERLAP" default:"150"`
	ChunkMin     int `envconfig:"CHUNK_MIN" default:"200"`

	TopK           int     `envconfig:"TOP_K" default:"5"`
	PoolMultiplier int     `envconfig:"POOL_MULTIPLIER" default:"4"`
	MMRLambda      float64 `envconfig:"MMR_LAMBDA" default:"0.5"`

	Temperature float64 `envconfig:"TEMPERATURE" default:"0.2"`
	MaxTokens   int     `envconfig:"MAX_TOKENS" default:"1024"`

	SafetyClassifier string   `envconfig:"SAFETY_CLASSIFIER" default:"keyword"`
	SafetyKeywords   []string `envconfig:"SAFETY_KEYWORDS" default:"disable safety,bypass emissions,delete egr,defeat o2,illegal,street racing setup,tamper"`
	SafetyPolicyFile string   `envconfig:"SAFETY_POLICY_FILE"`

	DocDir       string        `envconfig:"DOC_DIR"`
	Watch        bool          `envconfig:"WATCH" default:"false"`
	SyncInterval time.Duration `envconfig:"SYNC_INTERVAL" default:"0"`

	IngestConcurrency int           `envconfig:"INGEST_CONCURRENCY" default:"4"`
	EmbedBatchSize    int           `envconfig:"EMBED_BATCH_SIZE" default:"100"`
	MaxRetries        int           `envconfig:"MAX_RETRIES" default:"3"`
	RetryBackoff      time.Duration `envconfig:"RETRY_BACKOFF" default:"500ms"`

	EmbedTimeout  time.Duration `envconfig:"EMBED_TIMEOUT" default:"30s"`
	LLMTimeout    time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`
	SearchTimeout time.Duration `envconfig:"SEARCH_TIMEOUT" default:"5s"`

	EmbedRPS float64 `envconfig:"EMBED_RPS" default:"0"`
	LLMRPS   float64 `envconfig:"LLM_RPS" default:"0"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"tessera-corpus"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Prefix    string `envconfig:"S3_PREFIX"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("TESSERA", &cfg); err != nil {
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

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasAnthropic() bool {
	return c.AnthropicAPIKey != ""
}
