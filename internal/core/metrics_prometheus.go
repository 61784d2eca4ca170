package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder exports operation counts, latencies and conflict
// retries as Prometheus collectors.
type PrometheusMetricsRecorder struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	retries    *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the cureline collectors with reg.
// A nil registerer uses a private registry.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := &PrometheusMetricsRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cureline",
			Subsystem: "service",
			Name:      "operations_total",
			Help:      "Service operations by outcome.",
		}, []string{"operation", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cureline",
			Subsystem: "service",
			Name:      "operation_duration_seconds",
			Help:      "Service operation latency including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"operation"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cureline",
			Subsystem: "service",
			Name:      "conflict_retries_total",
			Help:      "Operation attempts repeated after a concurrency conflict.",
		}, []string{"operation"}),
	}
	for _, c := range []prometheus.Collector{r.operations, r.durations, r.retries} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	outcome := "error"
	if success {
		outcome = "success"
	}
	r.operations.WithLabelValues(operation, outcome).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveRetry implements RetryObserver.
func (r *PrometheusMetricsRecorder) ObserveRetry(_ context.Context, operation string, _ int) {
	r.retries.WithLabelValues(operation).Inc()
}

// Operations exposes the operation counter.
func (r *PrometheusMetricsRecorder) Operations() *prometheus.CounterVec { return r.operations }

// Durations exposes the latency histogram.
func (r *PrometheusMetricsRecorder) Durations() *prometheus.HistogramVec { return r.durations }

// Retries exposes the conflict retry counter.
func (r *PrometheusMetricsRecorder) Retries() *prometheus.CounterVec { return r.retries }
