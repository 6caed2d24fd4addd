// Package embedcache memoizes embeddings in front of an llm.Embedder.
package embedcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/rag-agent/backend/internal/llm"
	"github.com/rag-agent/backend/internal/metrics"
	"github.com/rag-agent/backend/pkg/logger"
	"github.com/rag-agent/backend/pkg/utils"
)

// Remote is a shared cache such as the redis client.
type Remote interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

type Options struct {
	LRUSize int
	TTL     time.Duration
	Remote  Remote
}

type Embedder struct {
	next   llm.Embedder
	lru    *expirable.LRU[string, []float32]
	remote Remote
	ttl    time.Duration
}

// Wrap returns next unchanged when neither cache layer is configured.
func Wrap(next llm.Embedder, opts Options) llm.Embedder {
	if next == nil || (opts.LRUSize <= 0 && opts.Remote == nil) {
		return next
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}

	e := &Embedder{next: next, remote: opts.Remote, ttl: opts.TTL}
	if opts.LRUSize > 0 {
		e.lru = expirable.NewLRU[string, []float32](opts.LRUSize, nil, opts.TTL)
	}
	return e
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.key(text)
	if v, ok := e.lookup(ctx, key); ok {
		return v, nil
	}

	v, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.store(ctx, key, v)
	return v, nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missing []int
	for i, text := range texts {
		keys[i] = e.key(text)
		if v, ok := e.lookup(ctx, keys[i]); ok {
			out[i] = v
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	pending := make([]string, len(missing))
	for j, i := range missing {
		pending[j] = texts[i]
	}
	vectors, err := e.next.EmbedBatch(ctx, pending)
	if err != nil {
		return nil, err
	}
	for j, i := range missing {
		out[i] = vectors[j]
		e.store(ctx, keys[i], vectors[j])
	}
	return out, nil
}

func (e *Embedder) Dimensions() int {
	return e.next.Dimensions()
}

func (e *Embedder) ModelName() string {
	return e.next.ModelName()
}

func (e *Embedder) key(text string) string {
	return utils.HashParts(e.next.ModelName(), text)
}

func (e *Embedder) lookup(ctx context.Context, key string) ([]float32, bool) {
	if e.lru != nil {
		if v, ok := e.lru.Get(key); ok {
			metrics.CacheHits.WithLabelValues("lru").Inc()
			return clone(v), true
		}
		metrics.CacheMisses.WithLabelValues("lru").Inc()
	}

	if e.remote == nil {
		return nil, false
	}
	v, ok, err := e.remote.GetEmbedding(ctx, key)
	if err != nil {
		logger.Warn("Embedding cache read failed, bypassing", zap.Error(err))
		return nil, false
	}
	if !ok {
		metrics.CacheMisses.WithLabelValues("redis").Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues("redis").Inc()
	if e.lru != nil {
		e.lru.Add(key, clone(v))
	}
	return v, true
}

func (e *Embedder) store(ctx context.Context, key string, v []float32) {
	if e.lru != nil {
		e.lru.Add(key, clone(v))
	}
	if e.remote != nil {
		if err := e.remote.SetEmbedding(ctx, key, v, e.ttl); err != nil {
			logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}
}

func clone(v []float32) []float32 {
	if v == nil {
		return nil
	}
	c := make([]float32, len(v))
	copy(c, v)
	return c
}
