// Package retrieval runs hybrid lexical and vector search over the document
// store.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rag-agent/backend/internal/apperr"
	"github.com/rag-agent/backend/internal/llm"
	"github.com/rag-agent/backend/internal/metrics"
	"github.com/rag-agent/backend/internal/store"
	"github.com/rag-agent/backend/pkg/logger"
)

const DefaultTopK = 5

type QueryExpander interface {
	Expand(ctx context.Context, query string) []string
}

type SearchResult struct {
	DocID   string  `json:"doc_id"`
	ChunkID string  `json:"chunk_id"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// DocumentMatch is the result shape for a document search: the ranked chunk
// hits plus the full source document of the top hit, when it resolved.
type DocumentMatch struct {
	Document *store.Document
	Hits     []SearchResult
}

type Options struct {
	TopK         int
	EmbedTimeout time.Duration
	StoreTimeout time.Duration
}

type Retriever struct {
	store    store.DocumentStore
	embedder llm.Embedder
	expander QueryExpander
	opts     Options
}

// NewRetriever wires a retriever. embedder and expander may be nil, which
// disables the vector clause and query expansion respectively.
func NewRetriever(s store.DocumentStore, embedder llm.Embedder, expander QueryExpander, opts Options) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	return &Retriever{
		store:    s,
		embedder: embedder,
		expander: expander,
		opts:     opts,
	}
}

// Search returns at most k results ordered by fused score. A failed embedding
// degrades to lexical-only scoring. A failed store call returns no results
// and the error.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	if k <= 0 {
		k = r.opts.TopK
	}

	q, err := r.buildQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := withTimeout(ctx, r.opts.StoreTimeout)
	defer cancel()

	hits, err := r.store.Search(storeCtx, q, k)
	if err != nil {
		logger.FromContext(ctx).Error("Document store search failed", zap.String("query", query), zap.Error(err))
		return nil, apperr.Collaborator("store search", err)
	}

	metrics.RetrievalResultsCount.Observe(float64(len(hits)))

	results := make([]SearchResult, len(hits))
	for i, h := range hits {
		results[i] = SearchResult{
			DocID:   h.DocumentID,
			ChunkID: h.ID,
			Title:   h.Title,
			Content: h.Content,
			Score:   h.Score,
		}
	}

	logger.FromContext(ctx).Debug("Hybrid search completed",
		zap.String("query", query),
		zap.Int("expanded_terms", len(q.ExpandedTerms)),
		zap.Bool("vector", len(q.Vector) > 0),
		zap.Int("results", len(results)),
	)

	return results, nil
}

// buildQuery expands and embeds the query concurrently. Neither step can
// fail the search; only context cancellation is returned.
func (r *Retriever) buildQuery(ctx context.Context, query string) (store.Query, error) {
	q := store.Query{Text: query}

	g, gctx := errgroup.WithContext(ctx)

	if r.expander != nil {
		g.Go(func() error {
			q.ExpandedTerms = r.expander.Expand(gctx, query)
			return nil
		})
	}

	var vector []float32
	if r.embedder != nil {
		g.Go(func() error {
			embedCtx, cancel := withTimeout(gctx, r.opts.EmbedTimeout)
			defer cancel()

			v, err := r.embedder.Embed(embedCtx, query)
			if err != nil {
				reason := "embed_error"
				if apperr.Kind(err) == apperr.ErrTimeout {
					reason = "embed_timeout"
				}
				metrics.RetrievalDegraded.WithLabelValues(reason).Inc()
				logger.FromContext(ctx).Warn("Embedding failed, falling back to lexical search",
					zap.String("query", query),
					zap.Error(err),
				)
				return nil
			}
			vector = v
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return store.Query{}, err
	}
	if err := ctx.Err(); err != nil {
		return store.Query{}, fmt.Errorf("search cancelled: %w", err)
	}

	q.Vector = vector
	return q, nil
}

// FindDocument searches and then loads the full document of the top hit. A
// failed load is logged; the chunk hits are still returned.
func (r *Retriever) FindDocument(ctx context.Context, query string, k int) (*DocumentMatch, error) {
	hits, err := r.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}

	match := &DocumentMatch{Hits: hits}
	if len(hits) == 0 {
		return match, nil
	}

	getCtx, cancel := withTimeout(ctx, r.opts.StoreTimeout)
	defer cancel()

	doc, err := r.store.Get(getCtx, hits[0].DocID)
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to load top document",
			zap.String("doc_id", hits[0].DocID),
			zap.Error(err),
		)
		return match, nil
	}
	match.Document = doc
	return match, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
