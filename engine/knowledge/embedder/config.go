package embedder

import (
	"context"

	"github.com/compozy/ragchain/engine/core"
)

type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
	ProviderLocal  Provider = "local"
)

// Embedder turns text into vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Config describes one embedding provider binding.
type Config struct {
	ID            string
	Provider      Provider
	Model         string
	BaseURL       string
	APIKey        string
	Dimension     int
	BatchSize     int
	StripNewLines bool
	CacheSize     int
	Retry         core.RetryPolicy
}
