// Package summarize condenses retrieved documents and merges the results into
// one context for answering.
package summarize

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rag-agent/backend/internal/llm"
	"github.com/rag-agent/backend/internal/metrics"
	"github.com/rag-agent/backend/internal/retrieval"
	"github.com/rag-agent/backend/pkg/logger"
)

// NoRelevantInformation is returned by Merge when there is nothing to merge
// and used as the answer when no context was found.
const NoRelevantInformation = "No relevant information was found to answer your question."

const DefaultConcurrency = 4

const summaryPrompt = `
Summarize the following document in a concise manner, keeping key information:

Document:
Title: %s

%s

Summary:
`

const mergePrompt = `
Given the following document summaries, generate a final structured response that combines key points, removes redundancy, and ensures coherence:

Summaries:
%s

Final Answer:
`

// Summary is the condensed form of one retrieved document. Text is empty
// when summarization of that document failed.
type Summary struct {
	DocID string `json:"doc_id"`
	Text  string `json:"text"`
}

type Summarizer struct {
	llm         llm.Completer
	concurrency int
}

func NewSummarizer(completer llm.Completer, concurrency int) *Summarizer {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Summarizer{llm: completer, concurrency: concurrency}
}

// Summarize returns one summary per document in input order. A failed call
// leaves an empty summary at that position.
func (s *Summarizer) Summarize(ctx context.Context, docs []retrieval.SearchResult) []Summary {
	summaries := make([]Summary, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, doc := range docs {
		i, doc := i, doc
		summaries[i].DocID = doc.DocID
		g.Go(func() error {
			text, err := s.llm.Complete(gctx, fmt.Sprintf(summaryPrompt, doc.Title, doc.Content))
			if err != nil {
				metrics.SummaryFailures.Inc()
				logger.FromContext(ctx).Warn("Summary failed, dropping document from context",
					zap.String("doc_id", doc.DocID),
					zap.String("chunk_id", doc.ChunkID),
					zap.Error(err),
				)
				return nil
			}
			summaries[i].Text = strings.TrimSpace(text)
			return nil
		})
	}
	_ = g.Wait()

	logger.FromContext(ctx).Debug("Documents summarized", zap.Int("count", len(summaries)))
	return summaries
}

// Merge combines the non-empty summaries, in order, into one synthesis. With
// nothing to merge it returns NoRelevantInformation without calling the model.
func (s *Summarizer) Merge(ctx context.Context, summaries []Summary) (string, error) {
	texts := make([]string, 0, len(summaries))
	for _, sum := range summaries {
		if sum.Text != "" {
			texts = append(texts, sum.Text)
		}
	}
	if len(texts) == 0 {
		return NoRelevantInformation, nil
	}

	merged, err := s.llm.Complete(ctx, fmt.Sprintf(mergePrompt, strings.Join(texts, "\n")))
	if err != nil {
		return "", fmt.Errorf("failed to merge summaries: %w", err)
	}
	return strings.TrimSpace(merged), nil
}
