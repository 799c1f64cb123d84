package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/compozy/ragchain/engine/knowledge/vectordb"
	"github.com/compozy/ragchain/pkg/logger"
)

// metricsExporter backs the global meter provider with a private Prometheus
// registry for the lifetime of one command.
type metricsExporter struct {
	registry *prom.Registry
	provider *sdkmetric.MeterProvider
}

func setupMetrics(ctx context.Context) (*metricsExporter, error) {
	registry := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	logger.FromContext(ctx).Debug("Metrics exporter installed")
	return &metricsExporter{registry: registry, provider: provider}, nil
}

// dump writes the registry in the Prometheus text exposition format and shuts
// the provider down.
func (m *metricsExporter) dump(ctx context.Context, w io.Writer) error {
	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	req.Header.Set("Accept", "text/plain")
	rec := httptest.NewRecorder()
	promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(rec, req)
	if _, err := io.Copy(w, rec.Body); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	vectordb.ShutdownIndexMetrics()
	if err := m.provider.Shutdown(ctx); err != nil {
		logger.FromContext(ctx).Warn("Failed to shut down meter provider", "error", err)
	}
	return nil
}
