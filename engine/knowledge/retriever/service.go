package retriever

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/compozy/ragchain/engine/knowledge"
	"github.com/compozy/ragchain/engine/knowledge/embedder"
	"github.com/compozy/ragchain/engine/knowledge/vectordb"
	"github.com/compozy/ragchain/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const stageRetrieve = "retrieve"

// Query is the text a caller wants answered.
type Query struct {
	Text string
}

// EmbedQueryFunc turns query text into a vector.
type EmbedQueryFunc func(ctx context.Context, text string) ([]float32, error)

// Retrieve embeds the query and returns the k most similar chunks from index.
// Embedding errors become EmbeddingFailure with the provider cause preserved; index
// errors are returned as they are. Nothing is retried here.
func Retrieve(
	ctx context.Context,
	index vectordb.Searcher,
	embedQuery EmbedQueryFunc,
	query Query,
	k int,
) ([]vectordb.Result, error) {
	if index == nil || embedQuery == nil {
		return nil, knowledge.NewError(knowledge.KindInvalidConfig, stageRetrieve,
			errors.New("index and query embedder are required"))
	}
	vector, err := embedQuery(ctx, query.Text)
	if err != nil {
		return nil, knowledge.Classify(stageRetrieve, knowledge.KindEmbeddingFailure, err)
	}
	return index.Search(ctx, vector, k)
}

type TokenEstimator interface {
	EstimateTokens(ctx context.Context, text string) int
}

type runeEstimator struct{}

func (runeEstimator) EstimateTokens(ctx context.Context, text string) int {
	n, _ := embedder.RuneCounter{}.CountTokens(ctx, text) //nolint:errcheck // rune counting never fails
	return n
}

type tiktokenEstimator struct {
	counter embedder.TokenCounter
}

func (e tiktokenEstimator) EstimateTokens(ctx context.Context, text string) int {
	n, err := e.counter.CountTokens(ctx, text)
	if err != nil {
		return runeEstimator{}.EstimateTokens(ctx, text)
	}
	return n
}

// NewTokenEstimator uses the tiktoken encoding for model and falls back to counting
// runes when no encoding can be loaded.
func NewTokenEstimator(ctx context.Context, model string) TokenEstimator {
	counter, err := embedder.CounterForModel(model)
	if err != nil {
		logger.FromContext(ctx).Warn("tiktoken unavailable, estimating tokens from runes", "error", err)
		return runeEstimator{}
	}
	return tiktokenEstimator{counter: counter}
}

// Settings is the query-time retrieval policy.
type Settings struct {
	TopK int
	// MinScore drops results scoring below it. Zero keeps everything.
	MinScore float64
	// MaxTokens trims trailing results until the estimated total fits. Zero disables trimming.
	MaxTokens int
}

type Service struct {
	embedder  embedder.Embedder
	index     vectordb.Searcher
	settings  Settings
	estimator TokenEstimator
	tracer    trace.Tracer
}

func NewService(
	emb embedder.Embedder,
	index vectordb.Searcher,
	settings Settings,
	estimator TokenEstimator,
) (*Service, error) {
	if emb == nil {
		return nil, errors.New("knowledge: retriever embedder is required")
	}
	if index == nil {
		return nil, errors.New("knowledge: retriever index is required")
	}
	if settings.TopK <= 0 {
		return nil, knowledge.Errorf(knowledge.KindInvalidConfig, stageRetrieve, "top_k must be positive, got %d", settings.TopK)
	}
	if estimator == nil {
		estimator = runeEstimator{}
	}
	return &Service{
		embedder:  emb,
		index:     index,
		settings:  settings,
		estimator: estimator,
		tracer:    otel.Tracer("ragchain.knowledge.retriever"),
	}, nil
}

func (s *Service) Settings() Settings {
	return s.settings
}

// Retrieve runs the retrieval policy. A non-positive k uses the configured TopK.
func (s *Service) Retrieve(ctx context.Context, query string, k int) (results []vectordb.Result, err error) {
	if strings.TrimSpace(query) == "" {
		return nil, knowledge.NewError(knowledge.KindInvalidConfig, stageRetrieve, errors.New("query is required"))
	}
	if k <= 0 {
		k = s.settings.TopK
	}
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ragchain.knowledge.retriever.retrieve", trace.WithAttributes(
		attribute.Int("top_k", k),
		attribute.Int("query_length", len(query)),
	))
	defer s.finishRetrieve(ctx, span, start, &results, &err)

	results, err = Retrieve(ctx, vectordb.SearchFunc(s.searchWithSpan), s.embedQueryWithSpan, Query{Text: query}, k)
	if err != nil {
		return nil, err
	}
	results = filterMinScore(results, s.settings.MinScore)
	results = s.trimToBudget(ctx, results)
	return results, nil
}

func (s *Service) embedQueryWithSpan(ctx context.Context, text string) ([]float32, error) {
	spanCtx, span := s.tracer.Start(ctx, "ragchain.knowledge.retriever.embed_query")
	defer span.End()
	vector, err := s.embedder.EmbedQuery(spanCtx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("dimension", len(vector)))
	return vector, nil
}

func (s *Service) searchWithSpan(ctx context.Context, vector []float32, k int) ([]vectordb.Result, error) {
	spanCtx, span := s.tracer.Start(ctx, "ragchain.knowledge.retriever.vector_search", trace.WithAttributes(
		attribute.Int("top_k", k),
	))
	defer span.End()
	results, err := s.index.Search(spanCtx, vector, k)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("matches", len(results)))
	return results, nil
}

func filterMinScore(results []vectordb.Result, minScore float64) []vectordb.Result {
	if minScore == 0 {
		return results
	}
	kept := results[:0]
	for i := range results {
		if results[i].Score >= minScore {
			kept = append(kept, results[i])
		}
	}
	return kept
}

func (s *Service) trimToBudget(ctx context.Context, results []vectordb.Result) []vectordb.Result {
	if s.settings.MaxTokens <= 0 || len(results) == 0 {
		return results
	}
	counts := make([]int, len(results))
	total := 0
	for i := range results {
		counts[i] = s.estimator.EstimateTokens(ctx, results[i].Chunk.Text)
		total += counts[i]
	}
	for total > s.settings.MaxTokens && len(results) > 0 {
		last := len(results) - 1
		total -= counts[last]
		results = results[:last]
	}
	return results
}

func (s *Service) finishRetrieve(
	ctx context.Context,
	span trace.Span,
	start time.Time,
	results *[]vectordb.Result,
	runErr *error,
) {
	duration := time.Since(start)
	log := logger.FromContext(ctx)
	if runErr != nil && *runErr != nil {
		err := *runErr
		log.Error("Knowledge retrieval failed", "error", err, "duration_seconds", duration.Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return
	}
	total := len(*results)
	knowledge.RecordRetrievalLatency(ctx, duration, total)
	log.Debug("Knowledge retrieval finished", "results", total, "duration_seconds", duration.Seconds())
	span.SetAttributes(attribute.Int("results", total))
	span.End()
}
