package ingestion

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rag-agent/backend/internal/apperr"
	"github.com/rag-agent/backend/internal/chunker"
	"github.com/rag-agent/backend/internal/store"
	"github.com/rag-agent/backend/internal/store/memory"
)

type lengthEmbedder struct {
	err   error
	texts []string
}

func (l *lengthEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, l.err
}

func (l *lengthEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	l.texts = append(l.texts, texts...)
	if l.err != nil {
		return nil, l.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (l *lengthEmbedder) Dimensions() int   { return 2 }
func (l *lengthEmbedder) ModelName() string { return "length" }

func newProcessor(t *testing.T, s store.DocumentStore, e *lengthEmbedder) *Processor {
	t.Helper()
	p, err := NewProcessor(s, e, chunker.DefaultSize, chunker.DefaultOverlap)
	require.NoError(t, err)
	return p
}

func longText(n int) string {
	var b strings.Builder
	for b.Len() < n {
		b.WriteString("Indexing splits long documents into overlapping windows. ")
	}
	return b.String()[:n]
}

func TestIndexDocumentChunksAndStores(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	e := &lengthEmbedder{}
	p := newProcessor(t, s, e)

	res, err := p.IndexDocument(ctx, IndexRequest{DocID: "DOC1", Title: "Guide", Content: longText(1200)})
	require.NoError(t, err)
	assert.Equal(t, &IndexResult{DocID: "DOC1", Title: "Guide", Chunks: 3}, res)
	assert.Len(t, e.texts, 3)

	doc, err := s.Get(ctx, "DOC1")
	require.NoError(t, err)
	assert.Equal(t, longText(1200), doc.Content)
	assert.Len(t, doc.Embedding, 2)

	hits, err := s.Search(ctx, store.Query{Text: "overlapping"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for _, h := range hits {
		assert.Equal(t, "DOC1", h.DocumentID)
		assert.True(t, strings.HasPrefix(h.ID, "DOC1_chunk_"))
		assert.LessOrEqual(t, len([]rune(h.Content)), chunker.DefaultSize)
	}
}

func TestIndexDocumentGeneratesID(t *testing.T) {
	p := newProcessor(t, memory.New(), &lengthEmbedder{})

	res, err := p.IndexDocument(context.Background(), IndexRequest{Title: "Note", Content: "short"})
	require.NoError(t, err)
	assert.Len(t, res.DocID, 36)
	assert.Equal(t, 1, res.Chunks)
}

func TestIndexDocumentValidation(t *testing.T) {
	p := newProcessor(t, memory.New(), &lengthEmbedder{})

	_, err := p.IndexDocument(context.Background(), IndexRequest{Content: "text"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = p.IndexDocument(context.Background(), IndexRequest{Title: "t", Content: "  \n"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestIndexDocumentHTML(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	p := newProcessor(t, s, &lengthEmbedder{})

	html := `<html><head><title>Release Notes</title><style>body{}</style></head>
<body><nav>menu</nav><p>Version   2 adds
hybrid search.</p><script>alert(1)</script></body></html>`

	res, err := p.IndexDocument(ctx, IndexRequest{DocID: "rel", Content: html, ContentType: ContentTypeHTML})
	require.NoError(t, err)
	assert.Equal(t, "Release Notes", res.Title)

	doc, err := s.Get(ctx, "rel")
	require.NoError(t, err)
	assert.Equal(t, "Version 2 adds hybrid search.", doc.Content)
}

func TestIndexDocumentEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	p := newProcessor(t, s, &lengthEmbedder{err: errors.New("embedder offline")})

	_, err := p.IndexDocument(ctx, IndexRequest{DocID: "x", Title: "t", Content: "c"})
	require.Error(t, err)

	_, err = s.Get(ctx, "x")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReindexReplacesChunks(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	p := newProcessor(t, s, &lengthEmbedder{})

	_, err := p.IndexDocument(ctx, IndexRequest{DocID: "d", Title: "t", Content: longText(1200)})
	require.NoError(t, err)
	_, err = p.IndexDocument(ctx, IndexRequest{DocID: "d", Title: "t", Content: "replacement body"})
	require.NoError(t, err)

	hits, err := s.Search(ctx, store.Query{Text: "overlapping replacement"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d_chunk_0", hits[0].ID)
}

func TestUpdateDocumentKeepsUnsetFields(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	p := newProcessor(t, s, &lengthEmbedder{})

	_, err := p.IndexDocument(ctx, IndexRequest{DocID: "d", Title: "Old", Content: "body text"})
	require.NoError(t, err)
	before, err := s.Get(ctx, "d")
	require.NoError(t, err)

	res, err := p.UpdateDocument(ctx, "d", UpdateRequest{Title: "New"})
	require.NoError(t, err)
	assert.Equal(t, "New", res.Title)

	after, err := s.Get(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, "body text", after.Content)
	assert.Equal(t, "New", after.Title)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)

	_, err = p.UpdateDocument(ctx, "missing", UpdateRequest{Title: "x"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRemoveDocument(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	p := newProcessor(t, s, &lengthEmbedder{})

	_, err := p.IndexDocument(ctx, IndexRequest{DocID: "d", Title: "t", Content: "c"})
	require.NoError(t, err)

	require.NoError(t, p.RemoveDocument(ctx, "d"))
	assert.ErrorIs(t, p.RemoveDocument(ctx, "d"), apperr.ErrNotFound)
}

func TestNewProcessorRejectsBadChunking(t *testing.T) {
	_, err := NewProcessor(memory.New(), &lengthEmbedder{}, 100, 100)
	assert.ErrorIs(t, err, chunker.ErrInvalidChunkConfig)
}
