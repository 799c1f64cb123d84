package embedder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	monitoringmetrics "github.com/compozy/ragchain/engine/infra/monitoring/metrics"
	"github.com/compozy/ragchain/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName          = "ragchain.knowledge.embedder"
	subsystemEmbedder  = "embedder"
	labelProvider      = "provider"
	labelModel         = "model"
	labelBatchSize     = "batch_size"
	labelErrorType     = "error_type"
	modelOther         = "other"
	defaultModelPrefix = "text-embedding-3"
)

var defaultLatencyBuckets = []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

var (
	metricsOnce       sync.Once
	metricsInitErr    error
	errorLogOnce      sync.Once
	metricInstruments instruments
)

// ErrorType enumerates embedding error categories tracked in metrics.
type ErrorType string

const (
	ErrorTypeAuth         ErrorType = "auth"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeInvalidInput ErrorType = "invalid_input"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeServerError  ErrorType = "server_error"
)

// normalizeModelName keeps the model label to a small fixed set.
func normalizeModelName(model string) string {
	normalized := strings.ToLower(strings.TrimSpace(model))
	switch {
	case normalized == "":
		return modelOther
	case normalized == "hashing-bow":
		return normalized
	case strings.HasPrefix(normalized, "text-embedding-ada"):
		return "text-embedding-ada"
	case strings.HasPrefix(normalized, defaultModelPrefix):
		return defaultModelPrefix
	case strings.Contains(normalized, "nomic-embed"):
		return "nomic-embed"
	default:
		return modelOther
	}
}

type instruments struct {
	generationLatency metric.Float64Histogram
	tokensTotal       metric.Int64Counter
	cacheHitsTotal    metric.Int64Counter
	cacheMissesTotal  metric.Int64Counter
	errorsTotal       metric.Int64Counter
}

// RecordGeneration captures latency and token usage for embedding requests.
func RecordGeneration(
	ctx context.Context,
	provider string,
	model string,
	batchSize int,
	duration time.Duration,
	tokenCount int,
) {
	if !ensureInstruments(ctx) {
		return
	}
	normalizedModel := normalizeModelName(model)
	metricInstruments.generationLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(labelProvider, provider),
		attribute.String(labelModel, normalizedModel),
		attribute.Int(labelBatchSize, batchSize),
	))
	if tokenCount > 0 {
		metricInstruments.tokensTotal.Add(ctx, int64(tokenCount), metric.WithAttributes(
			attribute.String(labelProvider, provider),
			attribute.String(labelModel, normalizedModel),
		))
	}
}

func RecordCacheHit(ctx context.Context, provider string) {
	if !ensureInstruments(ctx) {
		return
	}
	metricInstruments.cacheHitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(labelProvider, provider)))
}

func RecordCacheMiss(ctx context.Context, provider string) {
	if !ensureInstruments(ctx) {
		return
	}
	metricInstruments.cacheMissesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(labelProvider, provider)))
}

func RecordError(ctx context.Context, provider string, model string, errorType ErrorType) {
	if !ensureInstruments(ctx) {
		return
	}
	metricInstruments.errorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(labelProvider, provider),
		attribute.String(labelModel, normalizeModelName(model)),
		attribute.String(labelErrorType, string(errorType)),
	))
}

func newInstruments(meter metric.Meter) (instruments, error) {
	latency, err := meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem(subsystemEmbedder, "generate_seconds"),
		metric.WithDescription("Embedding generation latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(defaultLatencyBuckets...),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create embedder latency histogram: %w", err)
	}
	tokens, err := meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(subsystemEmbedder, "tokens_total"),
		metric.WithDescription("Total tokens sent for embedding"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create embedder tokens counter: %w", err)
	}
	hits, err := meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(subsystemEmbedder, "cache_hits_total"),
		metric.WithDescription("Embedding cache hits"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create embedder cache hits counter: %w", err)
	}
	misses, err := meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(subsystemEmbedder, "cache_misses_total"),
		metric.WithDescription("Embedding cache misses"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create embedder cache misses counter: %w", err)
	}
	errorsCounter, err := meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(subsystemEmbedder, "errors_total"),
		metric.WithDescription("Embedding generation errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create embedder errors counter: %w", err)
	}
	return instruments{
		generationLatency: latency,
		tokensTotal:       tokens,
		cacheHitsTotal:    hits,
		cacheMissesTotal:  misses,
		errorsTotal:       errorsCounter,
	}, nil
}

func ensureInstruments(ctx context.Context) bool {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(meterName)
		ins, err := newInstruments(meter)
		if err != nil {
			metricsInitErr = err
			return
		}
		metricInstruments = ins
	})
	if metricsInitErr != nil {
		errorLogOnce.Do(func() {
			logger.FromContext(ctx).Error("embedder metrics disabled", "error", metricsInitErr)
		})
		return false
	}
	return true
}
