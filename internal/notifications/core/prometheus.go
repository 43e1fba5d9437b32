package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"alertstream/internal/types"
)

const metricPrefix = "alertstream_"

// PrometheusMetrics implements RelayMetrics with collectors on a private
// registry, exposed by the health server's /metrics route.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	outcomes *prometheus.CounterVec
	attempts *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	cycles   *prometheus.HistogramVec
}

var _ RelayMetrics = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics registers the relay collectors on a fresh registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_outcomes_total",
				Help: "Terminal alert outcomes by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "delivery_attempts_total",
				Help: "Delivery attempts by channel and result",
			},
			[]string{"channel", "result"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "delivery_latency_seconds",
				Help:    "Delivery attempt latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		),
		cycles: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "cycle_duration_seconds",
				Help:    "Poll cycle duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
	}
	m.registry.MustRegister(m.outcomes, m.attempts, m.latency, m.cycles)
	return m
}

// Registry returns the registry the collectors live on.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PrometheusMetrics) RecordOutcome(_ context.Context, source types.SourceType, outcome types.AlertState) {
	m.outcomes.WithLabelValues(string(source), string(outcome)).Inc()
}

func (m *PrometheusMetrics) RecordAttempt(_ context.Context, channel types.ChannelType, result AttemptResult) {
	m.attempts.WithLabelValues(string(channel), string(result)).Inc()
}

func (m *PrometheusMetrics) RecordLatency(_ context.Context, channel types.ChannelType, duration time.Duration) {
	m.latency.WithLabelValues(string(channel)).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordCycle(_ context.Context, source types.SourceType, duration time.Duration) {
	m.cycles.WithLabelValues(string(source)).Observe(duration.Seconds())
}
