package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/3leaps/rasterbench/pkg/results"
)

const namespace = "rasterbench"

// Metrics collects run metrics on a dedicated registry.
//
// Metrics implements the runner's outcome and retry observer interfaces.
type Metrics struct {
	registry *prometheus.Registry

	outcomes     *prometheus.CounterVec
	timeToResult *prometheus.HistogramVec
	retries      *prometheus.CounterVec
}

// NewMetrics creates and registers the run metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Recorded execution outcomes by backend, mode and result.",
		}, []string{"backend", "mode", "result"}),
		timeToResult: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "time_to_result_seconds",
			Help:      "Time from first backend interaction to downloaded result.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 3600, 7200},
		}, []string{"backend"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_retries_total",
			Help:      "Download attempts that found the result not ready.",
		}, []string{"backend"}),
	}
	reg.MustRegister(m.outcomes, m.timeToResult, m.retries)
	return m
}

// ObserveOutcome records one outcome.
func (m *Metrics) ObserveOutcome(_ context.Context, o results.Outcome) {
	result := "success"
	if !o.DownloadSuccessful {
		result = "failure"
	}
	m.outcomes.WithLabelValues(o.Backend, string(o.Mode), result).Inc()
	if o.DownloadSuccessful {
		m.timeToResult.WithLabelValues(o.Backend).Observe(o.TimeToResultSeconds)
	}
}

// ObserveRetry records one poll retry.
func (m *Metrics) ObserveRetry(backend string) {
	m.retries.WithLabelValues(backend).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
