// Package ingestion turns raw documents into chunk records in the document
// store.
package ingestion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rag-agent/backend/internal/apperr"
	"github.com/rag-agent/backend/internal/chunker"
	"github.com/rag-agent/backend/internal/llm"
	"github.com/rag-agent/backend/internal/metrics"
	"github.com/rag-agent/backend/internal/store"
	"github.com/rag-agent/backend/pkg/logger"
	"github.com/rag-agent/backend/pkg/utils"
)

const ContentTypeHTML = "html"

var whitespacePattern = regexp.MustCompile(`\s+`)

type Processor struct {
	store        store.DocumentStore
	embedder     llm.Embedder
	chunkSize    int
	chunkOverlap int
}

type IndexRequest struct {
	DocID       string `json:"doc_id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

// UpdateRequest changes a stored document. Empty fields keep their current
// value.
type UpdateRequest struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

type IndexResult struct {
	DocID  string `json:"doc_id"`
	Title  string `json:"title"`
	Chunks int    `json:"chunks"`
}

func NewProcessor(s store.DocumentStore, embedder llm.Embedder, chunkSize, chunkOverlap int) (*Processor, error) {
	if err := chunker.Validate(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	return &Processor{
		store:        s,
		embedder:     embedder,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}, nil
}

// IndexDocument chunks, embeds and stores a document, replacing any chunks
// previously stored under the same ID.
func (p *Processor) IndexDocument(ctx context.Context, req IndexRequest) (*IndexResult, error) {
	return p.index(ctx, req, time.Time{})
}

func (p *Processor) UpdateDocument(ctx context.Context, docID string, req UpdateRequest) (*IndexResult, error) {
	existing, err := p.store.Get(ctx, docID)
	if err != nil {
		return nil, err
	}

	merged := IndexRequest{
		DocID:       docID,
		Title:       existing.Title,
		Content:     existing.Content,
		ContentType: req.ContentType,
	}
	if strings.TrimSpace(req.Title) != "" {
		merged.Title = req.Title
	}
	if strings.TrimSpace(req.Content) != "" {
		merged.Content = req.Content
	} else {
		merged.ContentType = ""
	}

	return p.index(ctx, merged, existing.CreatedAt)
}

// RemoveDocument deletes a document and its chunks. A missing document is an
// ErrNotFound error.
func (p *Processor) RemoveDocument(ctx context.Context, docID string) error {
	n, err := p.store.Delete(ctx, store.ByID(docID))
	if err != nil {
		return fmt.Errorf("failed to remove document: %w", err)
	}
	if n == 0 {
		return store.NotFound(docID)
	}

	metrics.DocumentsRemoved.Add(float64(n))
	logger.Info("Document removed", zap.String("doc_id", docID))
	return nil
}

func (p *Processor) GetDocument(ctx context.Context, docID string) (*store.Document, error) {
	return p.store.Get(ctx, docID)
}

func (p *Processor) index(ctx context.Context, req IndexRequest, createdAt time.Time) (*IndexResult, error) {
	title := strings.TrimSpace(req.Title)
	content := req.Content
	if req.ContentType == ContentTypeHTML {
		if title == "" {
			title = extractTitle(content)
		}
		content = cleanHTML(content)
	}

	if title == "" {
		return nil, apperr.Validation("title is required")
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validation("content is required")
	}

	docID := strings.TrimSpace(req.DocID)
	if docID == "" {
		docID = uuid.New().String()
	}

	logger.Info("Indexing document", zap.String("doc_id", docID), zap.String("title", title))

	chunks, err := chunker.Chunk(content, p.chunkSize, p.chunkOverlap)
	if err != nil {
		return nil, err
	}

	embeddings, err := p.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(chunks))
	}

	if _, err := p.store.Delete(ctx, store.ByID(docID)); err != nil {
		return nil, fmt.Errorf("failed to clear previous chunks: %w", err)
	}

	for i, text := range chunks {
		rec := store.Record{
			ID:         fmt.Sprintf("%s_chunk_%d", docID, i),
			DocumentID: docID,
			Title:      title,
			Content:    text,
			Position:   i,
			Embedding:  embeddings[i],
		}
		if err := p.store.Index(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to index chunk %d: %w", i, err)
		}
	}

	doc := &store.Document{
		ID:        docID,
		Title:     title,
		Content:   content,
		Embedding: utils.Mean(embeddings),
		CreatedAt: createdAt,
	}
	if err := p.store.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}

	metrics.DocumentsIndexed.Inc()
	metrics.ChunksIndexed.Add(float64(len(chunks)))

	logger.Info("Document indexed",
		zap.String("doc_id", docID),
		zap.Int("chunks", len(chunks)),
	)

	return &IndexResult{DocID: docID, Title: title, Chunks: len(chunks)}, nil
}

func cleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := doc.Find("body").Text()
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}

func extractTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	title := doc.Find("title").First().Text()
	if strings.TrimSpace(title) == "" {
		title = doc.Find("h1").First().Text()
	}
	return strings.TrimSpace(title)
}
