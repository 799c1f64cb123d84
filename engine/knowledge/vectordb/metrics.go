package vectordb

import (
	"context"
	"strings"
	"sync"
	"time"

	monitoringmetrics "github.com/compozy/ragchain/engine/infra/monitoring/metrics"
	"github.com/compozy/ragchain/engine/knowledge"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const labelUnknownValue = "unknown"

var (
	indexMetricsOnce   sync.Once
	indexMetricsErr    error
	indexSearchLatency metric.Float64Histogram
	indexResultsCount  metric.Float64Histogram
	indexEntriesGauge  metric.Int64ObservableGauge
	indexErrorsTotal   metric.Int64Counter
	indexes            sync.Map
	indexGaugeReg      metric.Registration
	indexGaugeRegMu    sync.Mutex
)

func ensureIndexMetrics() error {
	indexMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("ragchain.knowledge.vectordb")
		if err := initIndexHistograms(meter); err != nil {
			indexMetricsErr = err
			return
		}
		var err error
		indexErrorsTotal, err = meter.Int64Counter(
			monitoringmetrics.MetricNameWithSubsystem("vectordb", "index_errors_total"),
			metric.WithDescription("Vector index operation errors"),
		)
		if err != nil {
			indexMetricsErr = err
			return
		}
		indexMetricsErr = initIndexGauge(meter)
	})
	return indexMetricsErr
}

func initIndexHistograms(meter metric.Meter) error {
	var err error
	indexSearchLatency, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "similarity_search_seconds"),
		metric.WithDescription("Vector similarity search latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(monitoringmetrics.SearchLatencyBuckets...),
	)
	if err != nil {
		return err
	}
	indexResultsCount, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "similarity_results_per_search"),
		metric.WithDescription("Number of results returned per search"),
		metric.WithExplicitBucketBoundaries(1, 2, 4, 8, 16, 32, 64),
	)
	return err
}

func initIndexGauge(meter metric.Meter) error {
	var err error
	indexEntriesGauge, err = meter.Int64ObservableGauge(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "index_entries"),
		metric.WithDescription("Chunks held by each in-memory index"),
	)
	if err != nil {
		return err
	}
	reg, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		indexes.Range(func(key, _ any) bool {
			idx, ok := key.(*Index)
			if !ok || idx == nil {
				return true
			}
			stats := idx.Stats()
			observer.ObserveInt64(
				indexEntriesGauge,
				int64(stats.Entries),
				metric.WithAttributes(
					attribute.String("index", sanitizeLabel(stats.Name, labelUnknownValue)),
					attribute.String("metric", stats.Metric),
				),
			)
			return true
		})
		return nil
	}, indexEntriesGauge)
	if err != nil {
		return err
	}
	indexGaugeRegMu.Lock()
	indexGaugeReg = reg
	indexGaugeRegMu.Unlock()
	return nil
}

// ShutdownIndexMetrics unregisters the entries gauge callback.
func ShutdownIndexMetrics() {
	indexGaugeRegMu.Lock()
	defer indexGaugeRegMu.Unlock()
	if indexGaugeReg != nil {
		//nolint:errcheck // Unregister errors are non-critical during shutdown
		_ = indexGaugeReg.Unregister()
		indexGaugeReg = nil
	}
}

func recordSearch(ctx context.Context, name string, metricName string, results int, duration time.Duration) {
	if err := ensureIndexMetrics(); err != nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("index", sanitizeLabel(name, labelUnknownValue)),
		attribute.String("metric", sanitizeLabel(metricName, labelUnknownValue)),
	)
	indexSearchLatency.Record(ctx, duration.Seconds(), labels)
	indexResultsCount.Record(ctx, float64(results), labels)
}

func recordIndexError(ctx context.Context, operation string, kind knowledge.Kind) {
	if err := ensureIndexMetrics(); err != nil || indexErrorsTotal == nil {
		return
	}
	indexErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", sanitizeLabel(operation, labelUnknownValue)),
		attribute.String("error_type", sanitizeLabel(string(kind), labelUnknownValue)),
	))
}

func trackIndex(idx *Index) {
	if err := ensureIndexMetrics(); err != nil {
		return
	}
	indexes.Store(idx, struct{}{})
}

func untrackIndex(idx *Index) {
	indexes.Delete(idx)
}

func sanitizeLabel(value string, fallback string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return fallback
	}
	return strings.ToLower(v)
}
