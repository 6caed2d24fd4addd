package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/rag-agent/backend/internal/llm"
	"github.com/rag-agent/backend/internal/summarize"
	"github.com/rag-agent/backend/internal/workflow"
	"github.com/rag-agent/backend/pkg/logger"
	"github.com/rag-agent/backend/pkg/utils"
)

// Runner answers one input, as workflow.Engine.Run does.
type Runner interface {
	Run(ctx context.Context, input string) string
}

type Evaluator struct {
	runner   Runner
	embedder llm.Embedder
}

type DatasetItem struct {
	Query    string `json:"query"`
	Expected string `json:"expected"`
}

type ItemResult struct {
	Query      string  `json:"query"`
	Expected   string  `json:"expected"`
	Response   string  `json:"response"`
	Similarity float64 `json:"similarity"`
	Scored     bool    `json:"scored"`
	Fallback   bool    `json:"fallback"`
}

type EvaluationReport struct {
	TotalQueries        int          `json:"total_queries"`
	ScoredCount         int          `json:"scored_count"`
	FallbackCount       int          `json:"fallback_count"`
	AvgCosineSimilarity float64      `json:"avg_cosine_similarity"`
	FallbackPercentage  float64      `json:"fallback_percentage"`
	Items               []ItemResult `json:"items"`
}

func NewEvaluator(runner Runner, embedder llm.Embedder) *Evaluator {
	return &Evaluator{
		runner:   runner,
		embedder: embedder,
	}
}

// LoadDataset decodes a JSON array of {query, expected} items.
func LoadDataset(r io.Reader) ([]DatasetItem, error) {
	var items []DatasetItem
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	return items, nil
}

// EvaluateQuery runs one item and scores the response against the expected
// answer. Items without an expected answer, or whose embeddings fail, are
// left unscored.
func (e *Evaluator) EvaluateQuery(ctx context.Context, item DatasetItem) ItemResult {
	response := e.runner.Run(ctx, item.Query)
	result := ItemResult{
		Query:    item.Query,
		Expected: item.Expected,
		Response: response,
		Fallback: isFallback(response),
	}

	if strings.TrimSpace(item.Expected) == "" || e.embedder == nil {
		return result
	}

	vectors, err := e.embedder.EmbedBatch(ctx, []string{response, item.Expected})
	if err != nil || len(vectors) != 2 {
		logger.Warn("Failed to calculate cosine similarity", zap.String("query", item.Query), zap.Error(err))
		return result
	}
	result.Similarity = utils.CosineSimilarity(vectors[0], vectors[1])
	result.Scored = true
	return result
}

// RunDatasetEvaluation evaluates items in order. It stops early only when ctx
// is done.
func (e *Evaluator) RunDatasetEvaluation(ctx context.Context, items []DatasetItem) (*EvaluationReport, error) {
	logger.Info("Running dataset evaluation", zap.Int("items", len(items)))

	report := &EvaluationReport{
		TotalQueries: len(items),
		Items:        make([]ItemResult, 0, len(items)),
	}

	var totalSim float64
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		logger.Debug("Evaluating item", zap.Int("index", i+1), zap.Int("total", len(items)))

		result := e.EvaluateQuery(ctx, item)
		report.Items = append(report.Items, result)
		if result.Fallback {
			report.FallbackCount++
		}
		if result.Scored {
			report.ScoredCount++
			totalSim += result.Similarity
		}
	}

	if report.ScoredCount > 0 {
		report.AvgCosineSimilarity = totalSim / float64(report.ScoredCount)
	}
	if report.TotalQueries > 0 {
		report.FallbackPercentage = float64(report.FallbackCount) / float64(report.TotalQueries) * 100
	}

	logger.Info("Dataset evaluation completed",
		zap.Int("total", report.TotalQueries),
		zap.Int("scored", report.ScoredCount),
		zap.Int("fallbacks", report.FallbackCount),
		zap.Float64("avg_similarity", report.AvgCosineSimilarity),
	)

	return report, nil
}

func GenerateReport(report *EvaluationReport) string {
	return fmt.Sprintf(`
Evaluation Report
=================

Total Queries: %d
Scored: %d
No-information fallbacks: %d (%.1f%%)

Average Cosine Similarity: %.3f
`,
		report.TotalQueries,
		report.ScoredCount,
		report.FallbackCount, report.FallbackPercentage,
		report.AvgCosineSimilarity,
	)
}

func isFallback(response string) bool {
	return response == summarize.NoRelevantInformation || response == workflow.NoMatchesResponse
}
