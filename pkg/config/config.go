package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rag-agent/backend/internal/chunker"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Cache     CacheConfig
	Thesaurus ThesaurusConfig
	Expansion ExpansionConfig
	Chunking  ChunkingConfig
	Workflow  WorkflowConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	Development    bool
}

type StoreConfig struct {
	Backend  string
	SQLite   SQLiteConfig
	Postgres PostgresConfig
	Milvus   MilvusConfig
}

type SQLiteConfig struct {
	Path string
}

type PostgresConfig struct {
	DSN string
}

type MilvusConfig struct {
	Endpoint   string
	APIKey     string
	Collection string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	Temperature    float32
	MaxTokens      int
	EmbeddingModel string
	EmbeddingDim   int
	BatchSize      int
}

type CacheConfig struct {
	LRUSize      int
	TTLMinutes   int
	RedisEnabled bool
}

type ThesaurusConfig struct {
	Backend string
	Path    string
}

type ExpansionConfig struct {
	MaxSynonymsPerTerm int
}

type ChunkingConfig struct {
	Size    int
	Overlap int
}

type WorkflowConfig struct {
	UseSummarization     bool
	ClassifierFormat     string
	TopK                 int
	SummarizeConcurrency int
	Timeouts             TimeoutsConfig
}

// TimeoutsConfig holds per-call limits in seconds.
type TimeoutsConfig struct {
	RequestSec  int
	CompleteSec int
	EmbedSec    int
	StoreSec    int
}

func (t TimeoutsConfig) Request() time.Duration  { return seconds(t.RequestSec) }
func (t TimeoutsConfig) Complete() time.Duration { return seconds(t.CompleteSec) }
func (t TimeoutsConfig) Embed() time.Duration    { return seconds(t.EmbedSec) }
func (t TimeoutsConfig) Store() time.Duration    { return seconds(t.StoreSec) }

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads .env, then config.yaml from the given directories (or the
// default search path), then RAG_AGENT_* environment variables.
func Load(paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/etc/rag-agent"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("RAG_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.development", false)

	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.sqlite.path", "./data/rag-agent.db")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.milvus.endpoint", "localhost:19530")
	v.SetDefault("store.milvus.apiKey", "")
	v.SetDefault("store.milvus.collection", "rag_agent")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.model", "llama3.1")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.maxTokens", 1024)
	v.SetDefault("llm.embeddingModel", "nomic-embed-text")
	v.SetDefault("llm.embeddingDim", 768)
	v.SetDefault("llm.batchSize", 32)

	v.SetDefault("cache.lruSize", 1024)
	v.SetDefault("cache.ttlMinutes", 60)
	v.SetDefault("cache.redisEnabled", false)

	v.SetDefault("thesaurus.backend", "static")
	v.SetDefault("thesaurus.path", "")

	v.SetDefault("expansion.maxSynonymsPerTerm", 5)

	v.SetDefault("chunking.size", chunker.DefaultSize)
	v.SetDefault("chunking.overlap", chunker.DefaultOverlap)

	v.SetDefault("workflow.useSummarization", false)
	v.SetDefault("workflow.classifierFormat", "label")
	v.SetDefault("workflow.topK", 5)
	v.SetDefault("workflow.summarizeConcurrency", 4)
	v.SetDefault("workflow.timeouts.requestSec", 120)
	v.SetDefault("workflow.timeouts.completeSec", 60)
	v.SetDefault("workflow.timeouts.embedSec", 10)
	v.SetDefault("workflow.timeouts.storeSec", 10)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requestsPerMinute", 60)
	v.SetDefault("ratelimit.burst", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "sqlite":
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres backend")
		}
	case "milvus":
		if c.Store.Milvus.Endpoint == "" {
			return fmt.Errorf("store.milvus.endpoint is required for the milvus backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.LLM.Provider {
	case "ollama":
	case "openai":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm.apiKey is required for the openai provider")
		}
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.EmbeddingDim <= 0 {
		return fmt.Errorf("llm.embeddingDim must be positive")
	}

	switch c.Thesaurus.Backend {
	case "static", "redis":
	case "file":
		if c.Thesaurus.Path == "" {
			return fmt.Errorf("thesaurus.path is required for the file backend")
		}
	default:
		return fmt.Errorf("unknown thesaurus backend %q", c.Thesaurus.Backend)
	}

	if err := chunker.Validate(c.Chunking.Size, c.Chunking.Overlap); err != nil {
		return fmt.Errorf("invalid chunking config: %w", err)
	}

	switch c.Workflow.ClassifierFormat {
	case "label", "json":
	default:
		return fmt.Errorf("unknown classifier format %q", c.Workflow.ClassifierFormat)
	}
	if c.Workflow.TopK <= 0 {
		return fmt.Errorf("workflow.topK must be positive")
	}

	return nil
}
