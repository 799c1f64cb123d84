package ingest

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/ragchain/engine/infra/monitoring/metrics"
	"github.com/compozy/ragchain/engine/knowledge"
)

var (
	metricsOnce        sync.Once
	metricsMu          sync.Mutex
	metricsInitErr     error
	documentsCounter   metric.Int64Counter
	batchSizeHistogram metric.Int64Histogram
	errorsCounter      metric.Int64Counter
)

var batchSizeBuckets = []float64{1, 2, 4, 8, 16, 32, 64, 128, 256}

// ResetMetricsForTesting clears metric state to allow deterministic test assertions.
func ResetMetricsForTesting() {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	documentsCounter = nil
	batchSizeHistogram = nil
	errorsCounter = nil
}

func ensureMetrics() error {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("ragchain.knowledge.ingest")
		var err error
		documentsCounter, err = meter.Int64Counter(
			metrics.MetricNameWithSubsystem("ingest", "documents_total"),
			metric.WithDescription("Number of documents ingested"),
			metric.WithUnit("1"),
		)
		if err != nil {
			metricsInitErr = err
			return
		}
		batchSizeHistogram, err = meter.Int64Histogram(
			metrics.MetricNameWithSubsystem("ingest", "embedding_batch_size"),
			metric.WithDescription("Number of chunks per embedding request"),
			metric.WithUnit("1"),
			metric.WithExplicitBucketBoundaries(batchSizeBuckets...),
		)
		if err != nil {
			metricsInitErr = err
			return
		}
		errorsCounter, err = meter.Int64Counter(
			metrics.MetricNameWithSubsystem("ingest", "errors_total"),
			metric.WithDescription("Number of failed ingestion runs by error kind"),
			metric.WithUnit("1"),
		)
		metricsInitErr = err
	})
	return metricsInitErr
}

func recordDocuments(ctx context.Context, name string, docs int) {
	if docs <= 0 || ensureMetrics() != nil || documentsCounter == nil {
		return
	}
	documentsCounter.Add(ctx, int64(docs), metric.WithAttributes(attribute.String("corpus", name)))
}

func recordBatch(ctx context.Context, size int) {
	if ensureMetrics() != nil || batchSizeHistogram == nil {
		return
	}
	batchSizeHistogram.Record(ctx, int64(size))
}

func recordError(ctx context.Context, name string, err error) {
	if err == nil || ensureMetrics() != nil || errorsCounter == nil {
		return
	}
	kind := string(knowledge.KindOf(err))
	if kind == "" {
		kind = "unknown"
	}
	errorsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("corpus", name),
		attribute.String("kind", kind),
	))
}
