package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rag-agent/backend/internal/apperr"
)

type fakeBackend struct {
	completions []string
	errs        []error
	dim         int
	calls       int
	embedCalls  [][]string
}

func (f *fakeBackend) complete(_ context.Context, _ string) (string, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.completions) {
		return f.completions[i], nil
	}
	return "ok", nil
}

func (f *fakeBackend) embed(_ context.Context, texts []string) ([][]float32, error) {
	f.embedCalls = append(f.embedCalls, texts)
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	out := make([][]float32, len(texts))
	for j := range texts {
		out[j] = make([]float32, f.dim)
		out[j][0] = float32(len(texts[j]))
	}
	return out, nil
}

func testClient(b backend, dim int) *Client {
	c := newClient(b, Options{
		Model:          "test-model",
		EmbeddingModel: "test-embed",
		EmbeddingDim:   dim,
		BatchSize:      2,
	})
	c.retryConfig.InitialDelay = time.Millisecond
	c.retryConfig.MaxDelay = time.Millisecond
	return c
}

func TestCompleteRetriesTransientFailure(t *testing.T) {
	b := &fakeBackend{
		errs:        []error{errors.New("connection reset"), nil},
		completions: []string{"", "Paris"},
	}
	c := testClient(b, 0)

	out, err := c.Complete(context.Background(), "capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris", out)
	assert.Equal(t, 2, b.calls)
}

func TestCompleteDoesNotRetryRejectedRequest(t *testing.T) {
	b := &fakeBackend{errs: []error{fmt.Errorf("%w: bad model", errRejected)}}
	c := testClient(b, 0)

	_, err := c.Complete(context.Background(), "hi")
	require.Error(t, err)
	assert.False(t, apperr.IsTransient(err))
	assert.Equal(t, 1, b.calls)
}

func TestCompleteClassifiesPersistentFailure(t *testing.T) {
	failure := errors.New("no route to host")
	b := &fakeBackend{errs: []error{failure, failure, failure}}
	c := testClient(b, 0)

	_, err := c.Complete(context.Background(), "hi")
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
	assert.ErrorIs(t, err, failure)
}

func TestCompleteEmptyResponseIsAnError(t *testing.T) {
	b := &fakeBackend{completions: []string{"", "", ""}}
	c := testClient(b, 0)

	_, err := c.Complete(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestEmbedBatchSplitsIntoBatches(t *testing.T) {
	b := &fakeBackend{dim: 4}
	c := testClient(b, 4)

	vectors, err := c.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, float32(3), vectors[2][0])
	assert.Equal(t, [][]string{{"a", "bb"}, {"ccc"}}, b.embedCalls)
}

func TestEmbedRejectsWrongDimension(t *testing.T) {
	b := &fakeBackend{dim: 3}
	c := testClient(b, 4)

	_, err := c.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 1, b.calls)
}

func TestEmbedBatchEmpty(t *testing.T) {
	c := testClient(&fakeBackend{}, 4)
	vectors, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestNewClientUnknownProvider(t *testing.T) {
	_, err := NewClient(Options{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestNewClientOllama(t *testing.T) {
	c, err := NewClient(Options{Provider: "ollama", Model: "llama3", EmbeddingModel: "nomic-embed-text", EmbeddingDim: 768})
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", c.ModelName())
	assert.Equal(t, 768, c.Dimensions())
}
