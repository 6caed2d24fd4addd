package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rag-agent/backend/internal/apperr"
	"github.com/rag-agent/backend/internal/chunker"
	"github.com/rag-agent/backend/internal/ingestion"
	"github.com/rag-agent/backend/internal/intent"
	"github.com/rag-agent/backend/internal/retrieval"
	"github.com/rag-agent/backend/internal/store/memory"
	"github.com/rag-agent/backend/internal/workflow"
)

type fakeWorkflow struct {
	inputs []string
	state  workflow.State
}

func (f *fakeWorkflow) Execute(_ context.Context, input string) workflow.State {
	f.inputs = append(f.inputs, input)
	st := f.state
	st.UserInput = input
	return st
}

type fakeSearcher struct {
	results []retrieval.SearchResult
	err     error
	k       int
}

func (f *fakeSearcher) Search(_ context.Context, _ string, k int) ([]retrieval.SearchResult, error) {
	f.k = k
	return f.results, f.err
}

type unitEmbedder struct{}

func (unitEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil }
func (unitEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (unitEmbedder) Dimensions() int   { return 2 }
func (unitEmbedder) ModelName() string { return "unit" }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newTestApp(t *testing.T, wf Workflow, searcher Searcher, ping error) *fiber.App {
	t.Helper()
	processor, err := ingestion.NewProcessor(memory.New(), unitEmbedder{}, chunker.DefaultSize, chunker.DefaultOverlap)
	require.NoError(t, err)

	app := fiber.New()
	qh := NewQueryHandler(wf, searcher)
	dh := NewDocumentHandler(processor)
	hh := NewHealthHandler(pinger{err: ping})

	api := app.Group("/api/v1")
	api.Post("/process", qh.HandleProcess)
	api.Post("/search", qh.HandleSearch)
	api.Post("/documents", dh.CreateDocument)
	api.Get("/documents/:id", dh.GetDocument)
	api.Put("/documents/:id", dh.UpdateDocument)
	api.Delete("/documents/:id", dh.DeleteDocument)
	api.Get("/health", hh.Health)
	api.Get("/ready", hh.Ready)
	return app
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func TestProcess(t *testing.T) {
	wf := &fakeWorkflow{state: workflow.State{
		RequestID:     "req-1",
		Intent:        intent.Intent{Kind: intent.SearchDocument},
		Response:      "Found 1 matching document(s):\n- Guide (g1)",
		RetrievedDocs: []retrieval.SearchResult{{DocID: "g1", ChunkID: "g1_chunk_0", Title: "Guide", Score: 2.5}},
	}}
	app := newTestApp(t, wf, &fakeSearcher{}, nil)

	status, body := do(t, app, http.MethodPost, "/api/v1/process", `{"input": "find the guide"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, "search_document", body["intent"])
	assert.Equal(t, "Found 1 matching document(s):\n- Guide (g1)", body["response"])

	sources := body["sources"].([]interface{})
	require.Len(t, sources, 1)
	assert.Equal(t, "g1_chunk_0", sources[0].(map[string]interface{})["chunk_id"])
	assert.Equal(t, []string{"find the guide"}, wf.inputs)
}

func TestProcessRejectsBadBodies(t *testing.T) {
	wf := &fakeWorkflow{}
	app := newTestApp(t, wf, &fakeSearcher{}, nil)

	status, _ := do(t, app, http.MethodPost, "/api/v1/process", `{"input": ""}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodPost, "/api/v1/process", `{not json`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Empty(t, wf.inputs)
}

func TestSearch(t *testing.T) {
	searcher := &fakeSearcher{results: []retrieval.SearchResult{{DocID: "d", ChunkID: "d_chunk_0", Title: "T", Content: "c", Score: 1.5}}}
	app := newTestApp(t, &fakeWorkflow{}, searcher, nil)

	status, body := do(t, app, http.MethodPost, "/api/v1/search", `{"query": "c", "k": 3}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 3, searcher.k)
	results := body["results"].([]interface{})
	require.Len(t, results, 1)
	assert.Equal(t, "d", results[0].(map[string]interface{})["doc_id"])
}

func TestSearchEmptyResultsIsArray(t *testing.T) {
	app := newTestApp(t, &fakeWorkflow{}, &fakeSearcher{}, nil)

	status, body := do(t, app, http.MethodPost, "/api/v1/search", `{"query": "nothing"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []interface{}{}, body["results"])
}

func TestSearchStoreUnavailable(t *testing.T) {
	searcher := &fakeSearcher{err: apperr.Collaborator("store search", errors.New("connection refused"))}
	app := newTestApp(t, &fakeWorkflow{}, searcher, nil)

	status, body := do(t, app, http.MethodPost, "/api/v1/search", `{"query": "x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, apperr.UserMessage(apperr.ErrUnavailable), body["error"])
}

func TestDocumentLifecycle(t *testing.T) {
	app := newTestApp(t, &fakeWorkflow{}, &fakeSearcher{}, nil)

	status, body := do(t, app, http.MethodPost, "/api/v1/documents", `{"doc_id": "DOC42", "title": "Report", "content": "Revenue grew."}`)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "DOC42", body["doc_id"])
	assert.Equal(t, float64(1), body["chunks"])

	status, body = do(t, app, http.MethodGet, "/api/v1/documents/DOC42", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Report", body["title"])
	assert.Equal(t, "Revenue grew.", body["content"])

	status, body = do(t, app, http.MethodPut, "/api/v1/documents/DOC42", `{"title": "Annual report"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Annual report", body["title"])

	status, _ = do(t, app, http.MethodDelete, "/api/v1/documents/DOC42", "")
	assert.Equal(t, http.StatusOK, status)

	status, _ = do(t, app, http.MethodGet, "/api/v1/documents/DOC42", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, app, http.MethodDelete, "/api/v1/documents/DOC42", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCreateDocumentValidation(t *testing.T) {
	app := newTestApp(t, &fakeWorkflow{}, &fakeSearcher{}, nil)

	status, _ := do(t, app, http.MethodPost, "/api/v1/documents", `{"content": "no title"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestReadiness(t *testing.T) {
	status, body := do(t, newTestApp(t, &fakeWorkflow{}, &fakeSearcher{}, nil), http.MethodGet, "/api/v1/ready", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body["status"])

	status, _ = do(t, newTestApp(t, &fakeWorkflow{}, &fakeSearcher{}, errors.New("down")), http.MethodGet, "/api/v1/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, body = do(t, newTestApp(t, &fakeWorkflow{}, &fakeSearcher{}, nil), http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}

func TestStreamChunksRebuildText(t *testing.T) {
	text := "Found 2 matching document(s):\n- A (a)\n- B (b)"
	chunks := streamChunks(text)

	assert.Equal(t, text, strings.Join(chunks, ""))
	assert.Equal(t, "Found ", chunks[0])
	assert.Empty(t, streamChunks(""))
}

func TestWebSocketHandlerDefaultCheckTrims(t *testing.T) {
	h := NewWebSocketHandler(&fakeWorkflow{}, nil)
	got, err := h.check("  hello \n")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestWebSocketHandlerUsesCheck(t *testing.T) {
	h := NewWebSocketHandler(&fakeWorkflow{}, func(string) (string, error) {
		return "", apperr.Validation("query exceeds maximum length")
	})
	_, err := h.check("anything")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
