package knowledge

import (
	"context"
	"sync"
	"time"

	"github.com/compozy/ragchain/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce       sync.Once
	metricsMu         sync.Mutex
	metricsInitErr    error
	buildDurationHist metric.Float64Histogram
	chunkCounter      metric.Int64Counter
	queryLatencyHist  metric.Float64Histogram
	retrievalEmptyCtr metric.Int64Counter
	queryOutcomeCtr   metric.Int64Counter
	stageDurationHist metric.Float64Histogram
)

func RecordBuildDuration(ctx context.Context, corpus string, d time.Duration) {
	if err := ensureMetrics(); err != nil || buildDurationHist == nil {
		return
	}
	buildDurationHist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("corpus", corpus)))
}

func RecordChunks(ctx context.Context, corpus string, chunks int) {
	if chunks <= 0 {
		return
	}
	if err := ensureMetrics(); err != nil || chunkCounter == nil {
		return
	}
	chunkCounter.Add(ctx, int64(chunks), metric.WithAttributes(attribute.String("corpus", corpus)))
}

func RecordRetrievalLatency(ctx context.Context, d time.Duration, results int) {
	if err := ensureMetrics(); err != nil || queryLatencyHist == nil {
		return
	}
	queryLatencyHist.Record(ctx, d.Seconds())
	if results == 0 && retrievalEmptyCtr != nil {
		retrievalEmptyCtr.Add(ctx, 1)
	}
}

// RecordQueryOutcome counts finished queries by terminal state and failure kind.
func RecordQueryOutcome(ctx context.Context, state string, kind Kind) {
	if err := ensureMetrics(); err != nil || queryOutcomeCtr == nil {
		return
	}
	queryOutcomeCtr.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", state),
		attribute.String("kind", string(kind)),
	))
}

func RecordStageDuration(ctx context.Context, stage string, d time.Duration) {
	if err := ensureMetrics(); err != nil || stageDurationHist == nil {
		return
	}
	stageDurationHist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

func ResetMetricsForTesting() {
	metricsMu.Lock()
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	buildDurationHist = nil
	chunkCounter = nil
	queryLatencyHist = nil
	retrievalEmptyCtr = nil
	queryOutcomeCtr = nil
	stageDurationHist = nil
	metricsMu.Unlock()
}

func ensureMetrics() error {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("ragchain.knowledge")
		if err := initBuildMetrics(meter); err != nil {
			metricsInitErr = err
			return
		}
		metricsInitErr = initQueryMetrics(meter)
	})
	return metricsInitErr
}

func initBuildMetrics(meter metric.Meter) error {
	var err error
	buildDurationHist, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("knowledge", "build_duration_seconds"),
		metric.WithDescription("Latency of index builds over a corpus"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.BuildDurationBuckets...),
	)
	if err != nil {
		return err
	}
	chunkCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "chunks_total"),
		metric.WithDescription("Number of chunks indexed"),
		metric.WithUnit("1"),
	)
	return err
}

func initQueryMetrics(meter metric.Meter) error {
	var err error
	queryLatencyHist, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("knowledge", "retrieval_latency_seconds"),
		metric.WithDescription("Latency of retrieval calls including query embedding"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.QueryLatencyBuckets...),
	)
	if err != nil {
		return err
	}
	retrievalEmptyCtr, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "retrieval_empty_total"),
		metric.WithDescription("Number of retrievals that returned no chunks"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	queryOutcomeCtr, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("query", "outcomes_total"),
		metric.WithDescription("Number of finished queries by terminal state"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	stageDurationHist, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("query", "stage_duration_seconds"),
		metric.WithDescription("Time spent in each query engine stage"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.QueryLatencyBuckets...),
	)
	return err
}
