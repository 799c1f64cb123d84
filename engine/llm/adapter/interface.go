package llmadapter

import (
	"context"

	"github.com/compozy/ragchain/engine/knowledge"
)

const stageGenerate = "generate"

// Options carries per-call generation parameters.
type Options struct {
	Model       string
	Temperature float64
	// MaxTokens of zero leaves the provider default in place.
	MaxTokens int
}

// Validate rejects temperatures outside [0,1] and negative token limits.
func (o Options) Validate() error {
	if o.Temperature < 0 || o.Temperature > 1 {
		return knowledge.Errorf(knowledge.KindInvalidConfig, stageGenerate,
			"temperature must be within [0,1], got %v", o.Temperature)
	}
	if o.MaxTokens < 0 {
		return knowledge.Errorf(knowledge.KindInvalidConfig, stageGenerate,
			"max tokens must not be negative, got %d", o.MaxTokens)
	}
	return nil
}

// Generator produces a completion for a fully rendered prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// GeneratorFunc adapts a function into a Generator.
type GeneratorFunc func(ctx context.Context, prompt string, opts Options) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	return f(ctx, prompt, opts)
}
