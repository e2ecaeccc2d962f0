// Package metrics exposes Prometheus collectors for RPC calls, endpoint
// health, and execution-item outcomes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns every metric the engine records. The executioner takes a
// Collector and records item status transitions through it; the Endpoint
// Manager and the transaction builder take none.
type Collector struct {
	rpcCallsTotal   *prometheus.CounterVec
	rpcDuration     *prometheus.HistogramVec
	endpointHealthy *prometheus.GaugeVec

	itemTransitionsTotal *prometheus.CounterVec
	executionOutcomes    *prometheus.CounterVec
	batchSize            prometheus.Histogram
}

// NewCollector registers every engine metric against reg and returns the
// Collector. Pass prometheus.NewRegistry() in tests to avoid polluting the
// global default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		rpcCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainpilot",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Total number of substrate RPC calls by method and outcome.",
		}, []string{"method", "status"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chainpilot",
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Substrate RPC call latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		endpointHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chainpilot",
			Subsystem: "endpoint",
			Name:      "healthy",
			Help:      "1 if the endpoint's last probe succeeded, 0 otherwise.",
		}, []string{"url"}),
		itemTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainpilot",
			Subsystem: "execution",
			Name:      "item_transitions_total",
			Help:      "Total number of ExecutionItem status transitions.",
		}, []string{"from", "to"}),
		executionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainpilot",
			Subsystem: "execution",
			Name:      "outcomes_total",
			Help:      "Total number of ExecutionItems reaching a terminal outcome.",
		}, []string{"outcome"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chainpilot",
			Subsystem: "execution",
			Name:      "batch_size",
			Help:      "Number of extrinsics wrapped into a single utility.batch.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}),
	}

	reg.MustRegister(
		c.rpcCallsTotal,
		c.rpcDuration,
		c.endpointHealthy,
		c.itemTransitionsTotal,
		c.executionOutcomes,
		c.batchSize,
	)

	return c
}

// RecordRPCCall records one substrate RPC call's outcome and latency.
func (c *Collector) RecordRPCCall(method string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.rpcCallsTotal.WithLabelValues(method, status).Inc()
	c.rpcDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// SetEndpointHealth reports whether url's last health probe succeeded.
func (c *Collector) SetEndpointHealth(url string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.endpointHealthy.WithLabelValues(url).Set(value)
}

// RecordItemTransition records one ExecutionItem status transition.
func (c *Collector) RecordItemTransition(from, to string) {
	c.itemTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordExecutionOutcome records one ExecutionItem reaching a terminal
// outcome (e.g. "confirmed", "failed", "rejected").
func (c *Collector) RecordExecutionOutcome(outcome string) {
	c.executionOutcomes.WithLabelValues(outcome).Inc()
}

// RecordBatchSize records the size of a submitted batch.
func (c *Collector) RecordBatchSize(size int) {
	c.batchSize.Observe(float64(size))
}

// Handler returns an http.Handler exposing metrics in Prometheus text
// format, for wiring into a demo HTTP server.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
