package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/rag-agent/backend/internal/retrieval"
	"github.com/rag-agent/backend/internal/store"
	"github.com/rag-agent/backend/internal/workflow"
	"github.com/rag-agent/backend/pkg/logger"
)

type Workflow interface {
	Execute(ctx context.Context, input string) workflow.State
}

type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]retrieval.SearchResult, error)
}

type QueryHandler struct {
	workflow Workflow
	searcher Searcher
}

type Source struct {
	DocID   string  `json:"doc_id"`
	ChunkID string  `json:"chunk_id"`
	Title   string  `json:"title"`
	Score   float64 `json:"score"`
}

type ProcessResponse struct {
	RequestID string          `json:"request_id"`
	Intent    string          `json:"intent"`
	Response  string          `json:"response"`
	Sources   []Source        `json:"sources"`
	Document  *store.Document `json:"document,omitempty"`
	LatencyMS int64           `json:"latency_ms"`
}

func NewQueryHandler(wf Workflow, searcher Searcher) *QueryHandler {
	return &QueryHandler{
		workflow: wf,
		searcher: searcher,
	}
}

func (h *QueryHandler) HandleProcess(c *fiber.Ctx) error {
	var req struct {
		Input string `json:"input"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	input := bodyInput(c, req.Input)
	if input == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Input is required",
		})
	}

	start := time.Now()
	st := h.workflow.Execute(c.UserContext(), input)

	return c.JSON(ProcessResponse{
		RequestID: st.RequestID,
		Intent:    st.Intent.Kind.String(),
		Response:  st.Response,
		Sources:   sourcesOf(st.RetrievedDocs),
		Document:  st.Document,
		LatencyMS: time.Since(start).Milliseconds(),
	})
}

func (h *QueryHandler) HandleSearch(c *fiber.Ctx) error {
	var req struct {
		Query string `json:"query"`
		K     int    `json:"k"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	query := bodyInput(c, req.Query)
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	results, err := h.searcher.Search(c.UserContext(), query, req.K)
	if err != nil {
		logger.Error("Search failed", zap.String("query", query), zap.Error(err))
		return errorResponse(c, err)
	}
	if results == nil {
		results = []retrieval.SearchResult{}
	}

	return c.JSON(fiber.Map{
		"query":   query,
		"results": results,
	})
}

func sourcesOf(docs []retrieval.SearchResult) []Source {
	sources := make([]Source, len(docs))
	for i, d := range docs {
		sources[i] = Source{
			DocID:   d.DocID,
			ChunkID: d.ChunkID,
			Title:   d.Title,
			Score:   d.Score,
		}
	}
	return sources
}
