// Package llm talks to the language model and embedding services.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rag-agent/backend/internal/apperr"
	"github.com/rag-agent/backend/internal/metrics"
	"github.com/rag-agent/backend/pkg/circuitbreaker"
	"github.com/rag-agent/backend/pkg/logger"
	"github.com/rag-agent/backend/pkg/retry"
)

type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
}

var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrEmptyResponse     = errors.New("empty response from model")

	// errRejected marks a request the provider refused. It is neither
	// retried nor counted against the circuit breaker.
	errRejected = errors.New("request rejected by provider")
)

type backend interface {
	complete(ctx context.Context, prompt string) (string, error)
	embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	Provider        string
	Model           string
	EmbeddingModel  string
	EmbeddingDim    int
	APIKey          string
	BaseURL         string
	Temperature     float32
	MaxTokens       int
	CompleteTimeout time.Duration
	EmbedTimeout    time.Duration
	BatchSize       int
}

// Client implements Completer and Embedder on top of one provider, adding a
// circuit breaker, retries and per-call timeouts.
type Client struct {
	backend         backend
	provider        string
	model           string
	embeddingModel  string
	embeddingDim    int
	completeTimeout time.Duration
	embedTimeout    time.Duration
	batchSize       int
	cb              *circuitbreaker.Breaker
	retryConfig     retry.Config
}

func NewClient(opts Options) (*Client, error) {
	var (
		b   backend
		err error
	)
	switch opts.Provider {
	case "", "openai":
		b = newOpenAIBackend(opts)
	case "ollama":
		b, err = newOllamaBackend(opts)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}
	if err != nil {
		return nil, err
	}

	c := newClient(b, opts)

	logger.Info("LLM client initialized",
		zap.String("provider", c.provider),
		zap.String("model", c.model),
		zap.String("embedding_model", c.embeddingModel),
	)

	return c, nil
}

func newClient(b backend, opts Options) *Client {
	if opts.Provider == "" {
		opts.Provider = "openai"
	}
	if opts.CompleteTimeout == 0 {
		opts.CompleteTimeout = 30 * time.Second
	}
	if opts.EmbedTimeout == 0 {
		opts.EmbedTimeout = 15 * time.Second
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 100
	}

	cb := circuitbreaker.New("llm-"+opts.Provider, circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errRejected) || errors.Is(err, ErrDimensionMismatch)
		},
		OnStateChange: func(name string, _, to circuitbreaker.State) {
			metrics.CircuitState.WithLabelValues(name).Set(float64(to))
		},
		Logger: logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		ShouldRetry:    apperr.IsTransient,
		Logger:         logger.GetLogger(),
	}

	return &Client{
		backend:         b,
		provider:        opts.Provider,
		model:           opts.Model,
		embeddingModel:  opts.EmbeddingModel,
		embeddingDim:    opts.EmbeddingDim,
		completeTimeout: opts.CompleteTimeout,
		embedTimeout:    opts.EmbedTimeout,
		batchSize:       opts.BatchSize,
		cb:              cb,
		retryConfig:     retryConfig,
	}
}

func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.completeTimeout)
	defer cancel()

	start := time.Now()
	var result string

	err := c.call(ctx, "complete", func() error {
		out, err := c.backend.complete(ctx, prompt)
		if err != nil {
			return err
		}
		if out == "" {
			return ErrEmptyResponse
		}
		result = out
		return nil
	})
	observe("complete", start, err)

	if err != nil {
		return "", err
	}

	logger.Debug("LLM completion generated",
		zap.Int("prompt_length", len(prompt)),
		zap.Int("response_length", len(result)),
	)

	return result, nil
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embedBatch(ctx, "embed", []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.embedBatch(ctx, "embed_batch", texts)
}

func (c *Client) Dimensions() int {
	return c.embeddingDim
}

func (c *Client) ModelName() string {
	return c.embeddingModel
}

func (c *Client) embedBatch(ctx context.Context, op string, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.embedTimeout)
	defer cancel()

	start := time.Now()
	embeddings := make([][]float32, 0, len(texts))

	var err error
	for i := 0; i < len(texts); i += c.batchSize {
		end := min(i+c.batchSize, len(texts))
		batch := texts[i:end]

		err = c.call(ctx, op, func() error {
			vectors, err := c.backend.embed(ctx, batch)
			if err != nil {
				return err
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vectors), len(batch))
			}
			for _, v := range vectors {
				if c.embeddingDim > 0 && len(v) != c.embeddingDim {
					return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(v), c.embeddingDim)
				}
			}
			embeddings = append(embeddings, vectors...)
			return nil
		})
		if err != nil {
			break
		}
	}
	observe(op, start, err)

	if err != nil {
		return nil, err
	}

	logger.Debug("Embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

// call runs fn under the breaker and retry policy and tags failures with the
// collaborator error kinds.
func (c *Client) call(ctx context.Context, op string, fn func() error) error {
	policy := c.retryConfig
	policy.OnRetry = func(int, error) {
		metrics.LLMRetries.WithLabelValues(op).Inc()
	}
	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, policy, func() error {
			err := fn()
			if err == nil {
				return nil
			}
			if errors.Is(err, errRejected) || errors.Is(err, ErrDimensionMismatch) {
				return fmt.Errorf("llm %s: %w", op, err)
			}
			return apperr.Collaborator("llm "+op, err)
		})
	})
}

func observe(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.LLMCalls.WithLabelValues(op, status).Inc()
	metrics.LLMDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
