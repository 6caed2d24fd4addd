package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

const defaultOllamaHost = "http://localhost:11434"

type ollamaBackend struct {
	client         *api.Client
	model          string
	embeddingModel string
	options        map[string]interface{}
}

func newOllamaBackend(opts Options) (*ollamaBackend, error) {
	rawURL := opts.BaseURL
	if rawURL == "" {
		rawURL = defaultOllamaHost
	}
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host: %w", err)
	}

	options := map[string]interface{}{
		"temperature": opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}

	return &ollamaBackend{
		client:         api.NewClient(base, &http.Client{}),
		model:          opts.Model,
		embeddingModel: opts.EmbeddingModel,
		options:        options,
	}, nil
}

func (b *ollamaBackend) complete(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := &api.GenerateRequest{
		Model:   b.model,
		Prompt:  prompt,
		Stream:  &stream,
		Options: b.options,
	}

	var out strings.Builder
	err := b.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate: %w", classifyOllamaError(err))
	}

	return out.String(), nil
}

func (b *ollamaBackend) embed(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(texts))
	for _, text := range texts {
		resp, err := b.client.Embeddings(ctx, &api.EmbeddingRequest{
			Model:  b.embeddingModel,
			Prompt: text,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to generate embedding: %w", classifyOllamaError(err))
		}

		vector := make([]float32, len(resp.Embedding))
		for i, v := range resp.Embedding {
			vector[i] = float32(v)
		}
		embeddings = append(embeddings, vector)
	}
	return embeddings, nil
}

func classifyOllamaError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) && isClientError(statusErr.StatusCode) {
		return fmt.Errorf("%w: %w", errRejected, err)
	}
	return err
}
