package uc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/compozy/ragchain/engine/core"
	"github.com/compozy/ragchain/engine/knowledge"
	"github.com/compozy/ragchain/engine/knowledge/chunk"
	"github.com/compozy/ragchain/engine/knowledge/corpus"
	"github.com/compozy/ragchain/engine/knowledge/embedder"
	"github.com/compozy/ragchain/engine/knowledge/ingest"
	"github.com/compozy/ragchain/engine/knowledge/prompt"
	"github.com/compozy/ragchain/engine/knowledge/query"
	"github.com/compozy/ragchain/engine/knowledge/retriever"
	"github.com/compozy/ragchain/engine/knowledge/vectordb"
	llmadapter "github.com/compozy/ragchain/engine/llm/adapter"
	"github.com/compozy/ragchain/pkg/config"
	"github.com/compozy/ragchain/pkg/logger"
)

var ErrConfigMissing = errors.New("uc: configuration is required")

// Runtime owns one corpus, its in-memory index and the query engine built on top.
// Index builds are serialized; queries run concurrently with them.
type Runtime struct {
	cfg       *config.Config
	corpus    *corpus.FileCorpus
	embedder  embedder.Embedder
	index     *vectordb.Index
	pipeline  *ingest.Pipeline
	retriever *retriever.Service
	assembler *prompt.Assembler

	buildMu sync.Mutex

	engineOnce sync.Once
	engine     *query.Engine
	engineErr  error
	generator  llmadapter.Generator
}

type Option func(*Runtime)

// WithEmbedder replaces the configured embedding provider.
func WithEmbedder(emb embedder.Embedder) Option {
	return func(r *Runtime) {
		r.embedder = emb
	}
}

// WithGenerator replaces the configured generation service.
func WithGenerator(g llmadapter.Generator) Option {
	return func(r *Runtime) {
		r.generator = g
	}
}

// NewRuntime wires every component from cfg. The generation service is created
// on the first Ask so that index and search work without LLM credentials.
func NewRuntime(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, ErrConfigMissing
	}
	r := &Runtime{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	var err error
	r.corpus, err = corpus.New(corpus.Config{
		Dir:          cfg.Corpus.Dir,
		Patterns:     cfg.Corpus.Patterns,
		MaxFileBytes: cfg.Corpus.MaxFileBytes,
	})
	if err != nil {
		return nil, err
	}
	chunker, err := chunk.NewProcessor(ToChunkSettings(&cfg.Chunking))
	if err != nil {
		return nil, err
	}
	if r.embedder == nil {
		r.embedder, err = embedder.New(ctx, ToEmbedderConfig(&cfg.Embedder))
		if err != nil {
			return nil, knowledge.NewError(knowledge.KindInvalidConfig, "embed", err)
		}
	}
	metric, err := vectordb.ParseMetric(cfg.Retrieval.Metric)
	if err != nil {
		return nil, knowledge.NewError(knowledge.KindInvalidConfig, "retrieve", err)
	}
	r.index = vectordb.NewIndex(vectordb.WithMetric(metric), vectordb.WithName(indexName(cfg)))
	r.pipeline, err = ingest.NewPipeline(r.corpus, chunker, r.embedder, r.index, ingest.Options{
		Name:      indexName(cfg),
		Strategy:  ingest.StrategyReplace,
		BatchSize: cfg.Embedder.BatchSize,
		Workers:   cfg.Embedder.Workers,
	})
	if err != nil {
		return nil, err
	}
	var estimator retriever.TokenEstimator
	if cfg.Retrieval.MaxTokens > 0 {
		estimator = retriever.NewTokenEstimator(ctx, cfg.LLM.Model)
	}
	r.retriever, err = retriever.NewService(r.embedder, r.index, ToRetrieverSettings(&cfg.Retrieval), estimator)
	if err != nil {
		return nil, err
	}
	var assemblerOpts []prompt.Option
	if cfg.Prompt.Delimiter != "" {
		assemblerOpts = append(assemblerOpts, prompt.WithDelimiter(cfg.Prompt.Delimiter))
	}
	r.assembler, err = prompt.NewAssembler(prompt.ResolveTemplate(cfg.Prompt.Template), assemblerOpts...)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debug(
		"Runtime ready",
		"corpus", r.corpus.Dir(),
		"embedder", cfg.Embedder.Provider,
		"llm", cfg.LLM.Provider,
		"metric", metric.Name(),
	)
	return r, nil
}

func (r *Runtime) Config() *config.Config {
	return r.cfg
}

func (r *Runtime) Corpus() *corpus.FileCorpus {
	return r.corpus
}

func (r *Runtime) Index() *vectordb.Index {
	return r.index
}

// Close releases the index and its metric registration.
func (r *Runtime) Close() {
	r.index.Close()
}

func (r *Runtime) queryEngine(ctx context.Context) (*query.Engine, error) {
	r.engineOnce.Do(func() {
		llmCfg := ToLLMConfig(&r.cfg.LLM)
		gen := r.generator
		if gen == nil {
			built, err := llmadapter.NewGenerator(llmCfg)
			if err != nil {
				r.engineErr = knowledge.Classify("generate", knowledge.KindInvalidConfig, err)
				return
			}
			gen = built
		}
		r.engine, r.engineErr = query.NewEngine(r.retriever, r.assembler, gen, query.Config{
			TopK:         r.cfg.Retrieval.TopK,
			QueryTimeout: r.cfg.Runtime.QueryTimeout,
			Generation:   llmCfg.Options(),
		})
		if r.engineErr == nil {
			logger.FromContext(ctx).Debug("Query engine ready", "provider", llmCfg.Provider, "model", llmCfg.Model)
		}
	})
	return r.engine, r.engineErr
}

func indexName(cfg *config.Config) string {
	name := strings.Trim(strings.ReplaceAll(cfg.Corpus.Dir, "\\", "/"), "/.")
	if name == "" {
		return "default"
	}
	return name
}

func ToChunkSettings(cfg *config.ChunkingConfig) chunk.Settings {
	return chunk.Settings{
		Strategy:          cfg.Strategy,
		Size:              cfg.Size,
		Overlap:           cfg.Overlap,
		RemoveHTML:        cfg.RemoveHTML,
		Deduplicate:       cfg.Deduplicate,
		NormalizeNewlines: true,
	}
}

func ToEmbedderConfig(cfg *config.EmbedderConfig) *embedder.Config {
	return &embedder.Config{
		ID:            fmt.Sprintf("%s:%s", cfg.Provider, cfg.Model),
		Provider:      embedder.Provider(strings.ToLower(cfg.Provider)),
		Model:         cfg.Model,
		BaseURL:       cfg.BaseURL,
		APIKey:        cfg.APIKey.Value(),
		Dimension:     cfg.Dimension,
		BatchSize:     cfg.BatchSize,
		StripNewLines: cfg.StripNewLines,
		CacheSize:     cfg.CacheSize,
		Retry:         toRetryPolicy(cfg.Retry),
	}
}

func ToLLMConfig(cfg *config.LLMConfig) *llmadapter.Config {
	return &llmadapter.Config{
		Provider:          llmadapter.Provider(strings.ToLower(cfg.Provider)),
		Model:             cfg.Model,
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey.Value(),
		Temperature:       cfg.Temperature,
		MaxTokens:         cfg.MaxTokens,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Concurrency:       cfg.Concurrency,
		Retry:             toRetryPolicy(cfg.Retry),
	}
}

func ToRetrieverSettings(cfg *config.RetrievalConfig) retriever.Settings {
	return retriever.Settings{
		TopK:      cfg.TopK,
		MinScore:  cfg.MinScore,
		MaxTokens: cfg.MaxTokens,
	}
}

func toRetryPolicy(cfg config.RetryConfig) core.RetryPolicy {
	return core.RetryPolicy{
		Attempts:   cfg.Attempts,
		Backoff:    cfg.Backoff,
		MaxBackoff: cfg.MaxBackoff,
	}
}
