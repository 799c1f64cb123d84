package llmadapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/compozy/ragchain/engine/core"
	"github.com/compozy/ragchain/pkg/logger"
)

// LangChainGenerator adapts a langchaingo model to Generator. It sends the prompt as a
// single human message.
type LangChainGenerator struct {
	model    llms.Model
	provider Provider
	defaults Options
	limiter  *RateLimiter
	retry    core.RetryPolicy
}

type GeneratorOption func(*LangChainGenerator)

// WithRateLimiter throttles every Generate call.
func WithRateLimiter(l *RateLimiter) GeneratorOption {
	return func(g *LangChainGenerator) {
		g.limiter = l
	}
}

// WithRetry retries transient provider failures.
func WithRetry(policy core.RetryPolicy) GeneratorOption {
	return func(g *LangChainGenerator) {
		g.retry = policy
	}
}

// WithDefaults fills unset call options.
func WithDefaults(opts Options) GeneratorOption {
	return func(g *LangChainGenerator) {
		g.defaults = opts
	}
}

func NewLangChainGenerator(provider Provider, model llms.Model, opts ...GeneratorOption) (*LangChainGenerator, error) {
	if model == nil {
		return nil, errors.New("llm model is required")
	}
	g := &LangChainGenerator{model: model, provider: provider}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *LangChainGenerator) Provider() Provider {
	return g.provider
}

// Generate implements Generator.
func (g *LangChainGenerator) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	opts = g.merge(opts)
	if err := opts.Validate(); err != nil {
		return "", err
	}
	log := logger.FromContext(ctx).With("provider", g.provider, "model", opts.Model)
	messages := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}
	callOpts := buildCallOptions(opts)
	start := time.Now()
	var content string
	attempt := 0
	err := core.RetryWhen(ctx, g.retry, isRetryable, func(ctx context.Context) error {
		attempt++
		if err := g.limiter.Acquire(ctx); err != nil {
			return err
		}
		defer g.limiter.Release()
		resp, err := g.model.GenerateContent(ctx, messages, callOpts...)
		if err != nil {
			classified := classifyError(string(g.provider), err)
			log.Debug("generation attempt failed", "attempt", attempt, "error", classified)
			return classified
		}
		if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
			return NewErrorWithCode(ErrCodeEmptyResponse, "empty response from LLM", string(g.provider), nil)
		}
		content = resp.Choices[0].Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("generate with %s: %w", g.provider, err)
	}
	log.Debug("generation finished", "attempts", attempt, "duration", time.Since(start), "chars", len(content))
	return content, nil
}

func (g *LangChainGenerator) merge(opts Options) Options {
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = g.defaults.Model
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = g.defaults.MaxTokens
	}
	return opts
}

func buildCallOptions(opts Options) []llms.CallOption {
	options := []llms.CallOption{llms.WithTemperature(opts.Temperature)}
	if opts.Model != "" {
		options = append(options, llms.WithModel(opts.Model))
	}
	if opts.MaxTokens > 0 {
		options = append(options, llms.WithMaxTokens(opts.MaxTokens))
	}
	return options
}
