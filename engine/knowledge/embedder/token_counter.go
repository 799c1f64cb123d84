package embedder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/sync/singleflight"
)

type TokenCounter interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

const defaultEncoding = "cl100k_base"

var (
	tokenCounters   sync.Map
	tokenizerBuilds singleflight.Group
)

// EstimateTokens counts tokens for the texts with a tokenizer cached per model.
func EstimateTokens(ctx context.Context, model string, texts []string) (int, error) {
	if len(texts) == 0 {
		return 0, nil
	}
	counter, err := CounterForModel(model)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, text := range texts {
		count, countErr := counter.CountTokens(ctx, text)
		if countErr != nil {
			return total, fmt.Errorf("count tokens: %w", countErr)
		}
		total += count
	}
	return total, nil
}

// CounterForModel returns the tiktoken counter for a model, falling back to cl100k_base.
func CounterForModel(model string) (TokenCounter, error) {
	key := strings.TrimSpace(model)
	if cached, ok := tokenCounters.Load(key); ok {
		if counter, valid := cached.(TokenCounter); valid {
			return counter, nil
		}
	}
	v, err, _ := tokenizerBuilds.Do(key, func() (any, error) {
		return newTokenizer(key)
	})
	if err != nil {
		return nil, fmt.Errorf("create tokenizer for model %s: %w", model, err)
	}
	counter, ok := v.(TokenCounter)
	if !ok {
		return nil, fmt.Errorf("unexpected tokenizer type %T", v)
	}
	tokenCounters.Store(key, counter)
	return counter, nil
}

type tiktokenCounter struct {
	encoder *tiktoken.Tiktoken
}

func newTokenizer(model string) (TokenCounter, error) {
	if model != "" {
		if enc, err := tiktoken.EncodingForModel(model); err == nil {
			return &tiktokenCounter{encoder: enc}, nil
		}
	}
	enc, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("get default encoding: %w", err)
	}
	return &tiktokenCounter{encoder: enc}, nil
}

func (c *tiktokenCounter) CountTokens(_ context.Context, text string) (int, error) {
	if c.encoder == nil {
		return 0, fmt.Errorf("tiktoken encoder not initialized")
	}
	return len(c.encoder.Encode(text, nil, nil)), nil
}

// RuneCounter approximates four runes per token. It never fails and needs no encoding data.
type RuneCounter struct{}

func (RuneCounter) CountTokens(_ context.Context, text string) (int, error) {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0, nil
	}
	return (n + 3) / 4, nil
}
