package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rag-agent/backend/internal/chunker"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, chunker.DefaultSize, cfg.Chunking.Size)
	assert.Equal(t, chunker.DefaultOverlap, cfg.Chunking.Overlap)
	assert.Equal(t, "label", cfg.Workflow.ClassifierFormat)
	assert.Equal(t, 5, cfg.Workflow.TopK)
	assert.Equal(t, 10*time.Second, cfg.Workflow.Timeouts.Embed())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
store:
  backend: memory
workflow:
  useSummarization: true
  classifierFormat: json
  topK: 8
chunking:
  size: 256
  overlap: 32
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Setenv("RAG_AGENT_WORKFLOW_TOPK", "3")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.True(t, cfg.Workflow.UseSummarization)
	assert.Equal(t, "json", cfg.Workflow.ClassifierFormat)
	assert.Equal(t, 3, cfg.Workflow.TopK)
	assert.Equal(t, 256, cfg.Chunking.Size)
}

func TestLoadRejectsInvalidChunking(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("chunking:\n  size: 100\n  overlap: 100\n"), 0o644))

	_, err := Load(dir)
	assert.ErrorIs(t, err, chunker.ErrInvalidChunkConfig)
}

func validConfig() Config {
	return Config{
		Store:     StoreConfig{Backend: "memory"},
		LLM:       LLMConfig{Provider: "ollama", EmbeddingDim: 768},
		Thesaurus: ThesaurusConfig{Backend: "static"},
		Chunking:  ChunkingConfig{Size: 512, Overlap: 51},
		Workflow:  WorkflowConfig{ClassifierFormat: "label", TopK: 5},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "elasticsearch" }},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = "postgres" }},
		{"milvus without endpoint", func(c *Config) { c.Store.Backend = "milvus" }},
		{"openai without key", func(c *Config) { c.LLM.Provider = "openai" }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "bard" }},
		{"no embedding dim", func(c *Config) { c.LLM.EmbeddingDim = 0 }},
		{"file thesaurus without path", func(c *Config) { c.Thesaurus.Backend = "file" }},
		{"unknown thesaurus", func(c *Config) { c.Thesaurus.Backend = "wordnet" }},
		{"unknown classifier format", func(c *Config) { c.Workflow.ClassifierFormat = "xml" }},
		{"zero top k", func(c *Config) { c.Workflow.TopK = 0 }},
	}

	base := validConfig()
	require.NoError(t, base.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
