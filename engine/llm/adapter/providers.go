package llmadapter

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/compozy/ragchain/engine/core"
)

type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
	ProviderMock   Provider = "mock"
)

const (
	DefaultOpenAIBaseURL = "https://openrouter.ai/api/v1"
	DefaultOpenAIModel   = "openai/gpt-3.5-turbo"
)

// Config binds a generation provider.
type Config struct {
	Provider          Provider
	Model             string
	BaseURL           string
	APIKey            string
	Temperature       float64
	MaxTokens         int
	RequestsPerMinute float64
	Concurrency       int
	Retry             core.RetryPolicy
}

// Options returns the per-call defaults carried by the config.
func (c *Config) Options() Options {
	return Options{Model: c.Model, Temperature: c.Temperature, MaxTokens: c.MaxTokens}
}

// NewGenerator builds the provider model and wraps it.
func NewGenerator(cfg *Config) (*LangChainGenerator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config is required")
	}
	if err := cfg.Options().Validate(); err != nil {
		return nil, err
	}
	model, err := CreateLLM(cfg)
	if err != nil {
		return nil, err
	}
	return NewLangChainGenerator(
		cfg.Provider,
		model,
		WithDefaults(cfg.Options()),
		WithRetry(cfg.Retry),
		WithRateLimiter(NewRateLimiter(string(cfg.Provider), cfg.Concurrency, cfg.RequestsPerMinute)),
	)
}

// CreateLLM constructs the langchaingo model for the configured provider.
func CreateLLM(cfg *Config) (llms.Model, error) {
	switch Provider(strings.ToLower(string(cfg.Provider))) {
	case ProviderOpenAI:
		return createOpenAI(cfg)
	case ProviderOllama:
		return createOllama(cfg)
	case ProviderMock:
		return NewMockLLM(cfg.Model), nil
	default:
		return nil, fmt.Errorf("llm provider %q is not supported", cfg.Provider)
	}
}

func createOpenAI(cfg *Config) (llms.Model, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	opts := []openai.Option{
		openai.WithModel(model),
		openai.WithBaseURL(baseURL),
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai model: %w", err)
	}
	return llm, nil
}

func createOllama(cfg *Config) (llms.Model, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama model: %w", err)
	}
	return llm, nil
}
