package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/compozy/ragchain/engine/core"
	"github.com/compozy/ragchain/pkg/logger"
)

// Adapter wraps a langchaingo embedder with caching, retries and dimension checks.
type Adapter struct {
	id        string
	provider  Provider
	model     string
	dimension int
	batchSize int
	retry     core.RetryPolicy
	impl      embeddings.Embedder
	cacheMu   sync.Mutex
	cache     *lru.Cache[string, []float32]
}

var (
	errMissingID        = errors.New("embedder id is required")
	errMissingProvider  = errors.New("embedder provider is required")
	errMissingModel     = errors.New("embedder model is required")
	errInvalidDimension = errors.New("embedder dimension must be greater than zero")
	errInvalidBatchSize = errors.New("embedder batch size must be greater than zero")
	// ErrDimension reports a provider vector whose length differs from the configured dimension.
	ErrDimension = errors.New("embedding dimension mismatch")
)

// New constructs a provider-backed embedder adapter.
func New(ctx context.Context, cfg *Config) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.New("embedder config is required")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	options := []embeddings.Option{
		embeddings.WithBatchSize(cfg.BatchSize),
		embeddings.WithStripNewLines(cfg.StripNewLines),
	}
	impl, err := buildProviderEmbedder(cfg, options...)
	if err != nil {
		return nil, err
	}
	adapter := newAdapter(cfg, impl)
	if cfg.CacheSize > 0 {
		if err := adapter.EnableCache(cfg.CacheSize); err != nil {
			return nil, err
		}
	}
	logger.FromContext(ctx).Debug(
		"embedder ready",
		"embedder_id", cfg.ID,
		"provider", cfg.Provider,
		"model", cfg.Model,
		"dimension", cfg.Dimension,
	)
	return adapter, nil
}

// Wrap constructs an adapter around an existing langchaingo embedder.
func Wrap(cfg *Config, impl embeddings.Embedder) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.New("embedder config is required")
	}
	if impl == nil {
		return nil, fmt.Errorf("embedder %q: implementation is required", cfg.ID)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return newAdapter(cfg, impl), nil
}

func newAdapter(cfg *Config, impl embeddings.Embedder) *Adapter {
	return &Adapter{
		id:        cfg.ID,
		provider:  cfg.Provider,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
		retry:     cfg.Retry,
		impl:      impl,
	}
}

func (a *Adapter) Dimension() int {
	return a.dimension
}

func (a *Adapter) BatchSize() int {
	return a.batchSize
}

func (a *Adapter) Model() string {
	return a.model
}

// EnableCache initializes an LRU cache for embeddings.
func (a *Adapter) EnableCache(size int) error {
	if size <= 0 {
		return fmt.Errorf("embedder %q: cache size must be greater than zero", a.id)
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return fmt.Errorf("embedder %q: init cache: %w", a.id, err)
	}
	a.cacheMu.Lock()
	a.cache = cache
	a.cacheMu.Unlock()
	return nil
}

// EmbedDocuments embeds texts in order. Cached texts are not sent to the provider and
// repeated texts are embedded once.
func (a *Adapter) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	cache := a.getCache()
	results := make([][]float32, len(texts))
	missing := make(map[string][]int)
	order := make([]string, 0, len(texts))
	for i, text := range texts {
		if vector, ok := a.lookupCache(cache, text); ok {
			RecordCacheHit(ctx, string(a.provider))
			results[i] = vector
			continue
		}
		if cache != nil {
			RecordCacheMiss(ctx, string(a.provider))
		}
		if _, seen := missing[text]; !seen {
			order = append(order, text)
		}
		missing[text] = append(missing[text], i)
	}
	if len(order) == 0 {
		return results, nil
	}
	embedded, err := a.embed(ctx, order, func(ctx context.Context) ([][]float32, error) {
		return a.impl.EmbedDocuments(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	for i, text := range order {
		for _, idx := range missing[text] {
			results[idx] = slices.Clone(embedded[i])
		}
		a.storeCache(cache, text, embedded[i])
	}
	return results, nil
}

// EmbedQuery embeds a single query text.
func (a *Adapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	cache := a.getCache()
	if vector, ok := a.lookupCache(cache, text); ok {
		RecordCacheHit(ctx, string(a.provider))
		return vector, nil
	}
	if cache != nil {
		RecordCacheMiss(ctx, string(a.provider))
	}
	embedded, err := a.embed(ctx, []string{text}, func(ctx context.Context) ([][]float32, error) {
		vector, err := a.impl.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		return [][]float32{vector}, nil
	})
	if err != nil {
		return nil, err
	}
	a.storeCache(cache, text, embedded[0])
	return slices.Clone(embedded[0]), nil
}

func (a *Adapter) embed(
	ctx context.Context,
	texts []string,
	call func(ctx context.Context) ([][]float32, error),
) ([][]float32, error) {
	start := time.Now()
	var vectors [][]float32
	err := core.Retry(ctx, a.retry, func(ctx context.Context) error {
		var callErr error
		vectors, callErr = call(ctx)
		return callErr
	})
	if err != nil {
		RecordError(ctx, string(a.provider), a.model, categorizeError(err))
		return nil, a.withContext(err)
	}
	if len(vectors) != len(texts) {
		RecordError(ctx, string(a.provider), a.model, ErrorTypeInvalidInput)
		return nil, a.withContext(fmt.Errorf("received %d embeddings for %d texts", len(vectors), len(texts)))
	}
	for i := range vectors {
		if len(vectors[i]) != a.dimension {
			RecordError(ctx, string(a.provider), a.model, ErrorTypeInvalidInput)
			return nil, a.withContext(fmt.Errorf("%w: got %d want %d", ErrDimension, len(vectors[i]), a.dimension))
		}
	}
	tokens, tokenErr := EstimateTokens(ctx, a.model, texts)
	if tokenErr != nil {
		logger.FromContext(ctx).
			Warn("failed to estimate embedding tokens", "provider", a.provider, "model", a.model, "error", tokenErr)
	}
	RecordGeneration(ctx, string(a.provider), a.model, len(texts), time.Since(start), tokens)
	return vectors, nil
}

func (a *Adapter) getCache() *lru.Cache[string, []float32] {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	return a.cache
}

func (a *Adapter) lookupCache(cache *lru.Cache[string, []float32], text string) ([]float32, bool) {
	if cache == nil {
		return nil, false
	}
	value, ok := cache.Get(cacheKey(text))
	if !ok {
		return nil, false
	}
	return slices.Clone(value), true
}

func (a *Adapter) storeCache(cache *lru.Cache[string, []float32], text string, vector []float32) {
	if cache == nil || len(vector) == 0 {
		return
	}
	cache.Add(cacheKey(text), slices.Clone(vector))
}

func (a *Adapter) withContext(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("embedder %q: %w", a.id, err)
}

// categorizeError inspects the error text to approximate a standard error bucket.
func categorizeError(err error) ErrorType {
	if err == nil {
		return ErrorTypeServerError
	}
	lower := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorTypeTimeout
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "429"):
		return ErrorTypeRateLimit
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "forbidden"), strings.Contains(lower, "auth"):
		return ErrorTypeAuth
	case strings.Contains(lower, "invalid"),
		strings.Contains(lower, "bad request"),
		strings.Contains(lower, "422"),
		strings.Contains(lower, "400"):
		return ErrorTypeInvalidInput
	default:
		return ErrorTypeServerError
	}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func validateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return errMissingID
	}
	if strings.TrimSpace(string(cfg.Provider)) == "" {
		return fmt.Errorf("embedder %q: %w", cfg.ID, errMissingProvider)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return fmt.Errorf("embedder %q: %w", cfg.ID, errMissingModel)
	}
	if cfg.Dimension <= 0 {
		return fmt.Errorf("embedder %q: %w", cfg.ID, errInvalidDimension)
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("embedder %q: %w", cfg.ID, errInvalidBatchSize)
	}
	return nil
}

func buildProviderEmbedder(cfg *Config, options ...embeddings.Option) (embeddings.Embedder, error) {
	var (
		client embeddings.EmbedderClient
		err    error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		client, err = newOpenAIClient(cfg)
	case ProviderOllama:
		client, err = newOllamaClient(cfg)
	case ProviderLocal:
		client, err = NewLocalClient(cfg.Dimension)
	default:
		return nil, fmt.Errorf("embedder %q: provider %q is not supported", cfg.ID, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("embedder %q: failed to initialize %s client: %w", cfg.ID, cfg.Provider, err)
	}
	embedder, err := embeddings.NewEmbedder(client, options...)
	if err != nil {
		return nil, fmt.Errorf("embedder %q: failed to construct %s embedder: %w", cfg.ID, cfg.Provider, err)
	}
	return embedder, nil
}

func newOpenAIClient(cfg *Config) (*openai.LLM, error) {
	opts := []openai.Option{
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	return openai.New(opts...)
}

func newOllamaClient(cfg *Config) (*ollama.LLM, error) {
	opts := []ollama.Option{
		ollama.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	return ollama.New(opts...)
}
