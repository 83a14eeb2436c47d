// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paygate_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "route"})

	ProviderRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_provider_requests_total",
		Help: "Outbound provider API calls, labeled by outcome",
	}, []string{"provider", "operation", "outcome"})

	ProviderRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paygate_provider_request_duration_seconds",
		Help:    "Latency distribution of outbound provider API calls",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"provider", "operation"})

	WebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_webhooks_total",
		Help: "Inbound provider webhooks, labeled by reconciliation outcome",
	}, []string{"provider", "outcome"})

	CallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_callbacks_total",
		Help: "Outbound client callback deliveries, labeled by outcome",
	}, []string{"provider", "outcome"})
)

// ObserveProviderCall records one provider API call.
func ObserveProviderCall(provider, operation string, success bool, started time.Time) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	ProviderRequestsTotal.WithLabelValues(provider, operation, outcome).Inc()
	ProviderRequestDuration.WithLabelValues(provider, operation).Observe(time.Since(started).Seconds())
}
