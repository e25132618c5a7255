// Package metrics declares the gateway's Prometheus metrics, scraped over
// GET /metrics by internal/gateway. Every backend metric is labeled by
// backend name so a single dashboard panel can break down circuit state,
// request volume, and latency per upstream; the capability and response
// cache metrics are labeled by capability and result instead.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BackendRequestsTotal counts backend requests, labeled by outcome
	// (success, failure, rejected — the last for circuit-open/rate-limit
	// rejections that never reach the transport).
	BackendRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_backend_requests_total",
		Help: "Total requests forwarded to a backend, labeled by outcome",
	}, []string{"backend", "outcome"})

	// BackendRequestDuration measures backend request latency for
	// successful calls only; failures short-circuit before a latency
	// sample is meaningful.
	BackendRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcp_gateway_backend_request_duration_seconds",
		Help:    "Backend request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend"})

	// BackendHealthy reports 1 when a backend's health tracker considers
	// it healthy, 0 otherwise.
	BackendHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mcp_gateway_backend_healthy",
		Help: "1 if the backend is healthy, 0 if unhealthy",
	}, []string{"backend"})

	// BackendCircuitOpen reports 1 when a backend's circuit breaker is
	// open (rejecting requests), 0 otherwise.
	BackendCircuitOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mcp_gateway_backend_circuit_open",
		Help: "1 if the backend's circuit breaker is open, 0 otherwise",
	}, []string{"backend"})

	// CapabilityExecutions counts capability invocations, labeled by
	// capability name and outcome.
	CapabilityExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_capability_executions_total",
		Help: "Total capability executions, labeled by capability and outcome",
	}, []string{"capability", "outcome"})

	// ResponseCacheResult counts capability response-cache lookups,
	// labeled by hit or miss.
	ResponseCacheResult = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_response_cache_total",
		Help: "Capability response cache lookups, labeled by result",
	}, []string{"result"})
)

// RecordBackendSuccess records a successful backend request's latency.
func RecordBackendSuccess(backend string, seconds float64) {
	BackendRequestsTotal.WithLabelValues(backend, "success").Inc()
	BackendRequestDuration.WithLabelValues(backend).Observe(seconds)
}

// RecordBackendFailure records a failed backend request.
func RecordBackendFailure(backend string) {
	BackendRequestsTotal.WithLabelValues(backend, "failure").Inc()
}

// RecordBackendRejected records a request that never reached the
// transport because the circuit breaker was open or a rate/concurrency
// limit was exceeded.
func RecordBackendRejected(backend string) {
	BackendRequestsTotal.WithLabelValues(backend, "rejected").Inc()
}

// SetBackendHealth updates the health and circuit-state gauges for backend.
func SetBackendHealth(backend string, healthy, circuitOpen bool) {
	BackendHealthy.WithLabelValues(backend).Set(boolToFloat(healthy))
	BackendCircuitOpen.WithLabelValues(backend).Set(boolToFloat(circuitOpen))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
