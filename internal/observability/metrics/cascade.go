// Package metrics provides Prometheus metrics for the classification cascade.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CascadeMetrics contains all Prometheus metrics related to cascade
// classification. A nil *CascadeMetrics is valid and records nothing, so the
// engine runs unchanged without observability wiring.
type CascadeMetrics struct {
	InferenceDuration *prometheus.HistogramVec
	InferenceErrors   *prometheus.CounterVec
	StageResolved     *prometheus.CounterVec
	CascadeHalts      *prometheus.CounterVec
	RegistryLoaded    prometheus.Gauge
	DetectionsSkipped prometheus.Counter
}

// NewCascadeMetrics creates and registers cascade metrics on the given
// registry.
func NewCascadeMetrics(registry *prometheus.Registry) (*CascadeMetrics, error) {
	m := &CascadeMetrics{
		InferenceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insectid_inference_duration_seconds",
				Help:    "Duration of single-classifier inference partitioned by level.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"level"},
		),
		InferenceErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insectid_inference_errors_total",
				Help: "Inference failures absorbed by the cascade, by level.",
			},
			[]string{"level"},
		),
		StageResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insectid_stage_resolved_total",
				Help: "Successfully resolved cascade stages, by level.",
			},
			[]string{"level"},
		),
		CascadeHalts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insectid_cascade_halts_total",
				Help: "Cascade halts partitioned by level and reason (router_miss, inference_failure, timeout).",
			},
			[]string{"level", "reason"},
		),
		RegistryLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "insectid_registry_classifiers",
				Help: "Number of classifiers currently loaded in the registry.",
			},
		),
		DetectionsSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "insectid_detections_skipped_total",
				Help: "Detections skipped for degenerate bounding boxes.",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.InferenceDuration,
		m.InferenceErrors,
		m.StageResolved,
		m.CascadeHalts,
		m.RegistryLoaded,
		m.DetectionsSkipped,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveInference records one inference duration.
func (m *CascadeMetrics) ObserveInference(level string, d time.Duration) {
	if m == nil {
		return
	}
	m.InferenceDuration.WithLabelValues(level).Observe(d.Seconds())
}

// RecordInferenceError counts one absorbed inference failure.
func (m *CascadeMetrics) RecordInferenceError(level string) {
	if m == nil {
		return
	}
	m.InferenceErrors.WithLabelValues(level).Inc()
}

// RecordStage counts one resolved cascade stage.
func (m *CascadeMetrics) RecordStage(level string) {
	if m == nil {
		return
	}
	m.StageResolved.WithLabelValues(level).Inc()
}

// RecordHalt counts one cascade halt.
func (m *CascadeMetrics) RecordHalt(level, reason string) {
	if m == nil {
		return
	}
	m.CascadeHalts.WithLabelValues(level, reason).Inc()
}

// SetRegistrySize records the current registry size.
func (m *CascadeMetrics) SetRegistrySize(n int) {
	if m == nil {
		return
	}
	m.RegistryLoaded.Set(float64(n))
}

// RecordSkippedDetection counts one detection skipped for a degenerate box.
func (m *CascadeMetrics) RecordSkippedDetection() {
	if m == nil {
		return
	}
	m.DetectionsSkipped.Inc()
}
