package otel

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// PrometheusProvider is a MeterProvider whose instruments are exported through a
// dedicated Prometheus registry
type PrometheusProvider struct {
	service  string
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider
}

// NewPrometheusProvider creates a provider for service. The registry also carries the Go
// runtime and process collectors.
func NewPrometheusProvider(service string) (*PrometheusProvider, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	return &PrometheusProvider{
		service:  service,
		registry: registry,
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)),
	}, nil
}

// Meter returns the meter named after the service
func (p *PrometheusProvider) Meter() metric.Meter {
	return p.provider.Meter(p.service)
}

// Registry exposes the registry for additional collectors
func (p *PrometheusProvider) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format
func (p *PrometheusProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Shutdown flushes and stops the meter provider
func (p *PrometheusProvider) Shutdown(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}
