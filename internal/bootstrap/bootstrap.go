// Package bootstrap builds the agent's components from configuration. The API
// server and agentctl share it so both run the same engine.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rag-agent/backend/internal/cache/redis"
	"github.com/rag-agent/backend/internal/embedcache"
	"github.com/rag-agent/backend/internal/expansion"
	"github.com/rag-agent/backend/internal/ingestion"
	"github.com/rag-agent/backend/internal/intent"
	"github.com/rag-agent/backend/internal/llm"
	"github.com/rag-agent/backend/internal/retrieval"
	"github.com/rag-agent/backend/internal/store"
	"github.com/rag-agent/backend/internal/store/memory"
	"github.com/rag-agent/backend/internal/store/milvus"
	"github.com/rag-agent/backend/internal/store/postgres"
	"github.com/rag-agent/backend/internal/store/sqlite"
	"github.com/rag-agent/backend/internal/summarize"
	"github.com/rag-agent/backend/internal/thesaurus"
	"github.com/rag-agent/backend/internal/workflow"
	"github.com/rag-agent/backend/pkg/config"
	"github.com/rag-agent/backend/pkg/logger"
)

type App struct {
	Config    *config.Config
	Store     store.DocumentStore
	Redis     *redis.Client
	LLM       *llm.Client
	Embedder  llm.Embedder
	Retriever *retrieval.Retriever
	Engine    *workflow.Engine
	Processor *ingestion.Processor
}

// New connects every collaborator named in cfg. On error, whatever was
// already opened is closed again.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Store, err = openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Cache.RedisEnabled || cfg.Thesaurus.Backend == "redis" {
		a.Redis, err = redis.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
	}

	timeouts := cfg.Workflow.Timeouts
	a.LLM, err = llm.NewClient(llm.Options{
		Provider:        cfg.LLM.Provider,
		Model:           cfg.LLM.Model,
		EmbeddingModel:  cfg.LLM.EmbeddingModel,
		EmbeddingDim:    cfg.LLM.EmbeddingDim,
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Temperature:     cfg.LLM.Temperature,
		MaxTokens:       cfg.LLM.MaxTokens,
		CompleteTimeout: timeouts.Complete(),
		EmbedTimeout:    timeouts.Embed(),
		BatchSize:       cfg.LLM.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	cacheOpts := embedcache.Options{
		LRUSize: cfg.Cache.LRUSize,
		TTL:     time.Duration(cfg.Cache.TTLMinutes) * time.Minute,
	}
	if cfg.Cache.RedisEnabled {
		cacheOpts.Remote = a.Redis
	}
	a.Embedder = embedcache.Wrap(a.LLM, cacheOpts)

	var sets thesaurus.SetStore
	if a.Redis != nil {
		sets = a.Redis
	}
	th, err := openThesaurus(cfg, sets)
	if err != nil {
		return nil, err
	}
	expander := expansion.NewExpander(th, cfg.Expansion.MaxSynonymsPerTerm)

	a.Retriever = retrieval.NewRetriever(a.Store, a.Embedder, expander, retrieval.Options{
		TopK:         cfg.Workflow.TopK,
		EmbedTimeout: timeouts.Embed(),
		StoreTimeout: timeouts.Store(),
	})

	a.Engine = workflow.NewEngine(
		intent.NewClassifier(a.LLM, cfg.Workflow.ClassifierFormat),
		a.Retriever,
		summarize.NewSummarizer(a.LLM, cfg.Workflow.SummarizeConcurrency),
		a.LLM,
		a.Store,
		workflow.Options{
			UseSummarization: cfg.Workflow.UseSummarization,
			TopK:             cfg.Workflow.TopK,
			Timeout:          timeouts.Request(),
		},
	)

	a.Processor, err = ingestion.NewProcessor(a.Store, a.Embedder, cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}

	logger.Info("Agent components initialized",
		zap.String("store", cfg.Store.Backend),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("thesaurus", cfg.Thesaurus.Backend),
		zap.Bool("summarization", cfg.Workflow.UseSummarization),
	)
	return a, nil
}

func (a *App) Close() {
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			logger.Warn("Failed to close store", zap.Error(err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.DocumentStore, error) {
	switch cfg.Store.Backend {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		s, err := sqlite.New(cfg.Store.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := postgres.New(ctx, cfg.Store.Postgres.DSN, cfg.LLM.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return s, nil
	case "milvus":
		s, err := milvus.New(ctx, milvus.Config{
			Endpoint:   cfg.Store.Milvus.Endpoint,
			APIKey:     cfg.Store.Milvus.APIKey,
			Collection: cfg.Store.Milvus.Collection,
			VectorDim:  cfg.LLM.EmbeddingDim,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open milvus store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func openThesaurus(cfg *config.Config, sets thesaurus.SetStore) (thesaurus.Thesaurus, error) {
	switch cfg.Thesaurus.Backend {
	case "", "static":
		return thesaurus.NewStatic(nil), nil
	case "file":
		th, err := thesaurus.LoadFile(cfg.Thesaurus.Path)
		if err != nil {
			return nil, err
		}
		return th, nil
	case "redis":
		if sets == nil {
			return nil, fmt.Errorf("redis thesaurus needs a redis client")
		}
		return thesaurus.NewRedis(sets), nil
	default:
		return nil, fmt.Errorf("unknown thesaurus backend %q", cfg.Thesaurus.Backend)
	}
}
