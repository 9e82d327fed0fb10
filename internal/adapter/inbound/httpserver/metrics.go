// Package httpserver wires the Gateway into a net/http.Server: Prometheus
// metrics, request-ID logging, and a bounded graceful stop.
package httpserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-level Prometheus instruments. RequestsTotal and
// RequestDuration are recorded by MetricsMiddleware; TenantsActive and
// Registrations are registered but nothing updates them, so they stay at 0.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	TenantsActive   prometheus.Gauge
	Registrations   prometheus.Counter
}

// NewMetrics creates and registers every metric against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentdoor",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agentdoor",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		TenantsActive: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agentdoor",
				Name:      "tenants_active",
				Help:      "Number of tenants currently dispatching traffic",
			},
		),
		Registrations: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentdoor",
				Name:      "registrations_total",
				Help:      "Total successful tenant registrations",
			},
		),
	}
}
