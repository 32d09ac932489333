// Package observability provides the Prometheus registry and the HTTP
// endpoint exposing it.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/insectid/insectid-go/internal/observability/metrics"
)

// Metrics holds the metric collectors for the engine.
type Metrics struct {
	registry *prometheus.Registry
	Cascade  *metrics.CascadeMetrics
}

// NewMetrics creates a Metrics instance with all collectors registered on a
// fresh registry.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	cascadeMetrics, err := metrics.NewCascadeMetrics(registry)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		registry: registry,
		Cascade:  cascadeMetrics,
	}, nil
}

// RegisterHandlers mounts the metrics endpoint on the given mux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
