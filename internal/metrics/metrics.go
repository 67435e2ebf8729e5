// Package metrics holds the Prometheus collectors of the dispatch service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated registry served on /metrics
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// OptimizeRuns counts optimize calls by routing backend and outcome
	OptimizeRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_optimize_runs_total", Help: "Optimize runs by route type and status."},
		[]string{"route_type", "status"},
	)
	// OptimizeDuration covers matrix resolution plus search
	OptimizeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "dispatch_optimize_duration_seconds", Help: "Optimize wall time in seconds.", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}},
		[]string{"route_type"},
	)
	// SolverIterations sums ALNS iterations over all trials
	SolverIterations = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_solver_iterations_total", Help: "ALNS iterations over all trials."},
	)
	// DemandOutcomes counts demands of the best result by outcome
	DemandOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_demand_outcomes_total", Help: "Demands in the best result by outcome."},
		[]string{"outcome"},
	)
	// DistanceCacheLookups counts pair lookups against the distance cache
	DistanceCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_distance_cache_lookups_total", Help: "Distance cache lookups by result."},
		[]string{"result"},
	)
	// MatrixMemo counts matrix memo reuse by result
	MatrixMemo = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_matrix_memo_total", Help: "Matrix memo lookups by result."},
		[]string{"result"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// ObserveCacheLookup feeds DistanceCacheLookups; it matches distance.Cached.OnLookup.
func ObserveCacheLookup(hits, misses int) {
	DistanceCacheLookups.WithLabelValues("hit").Add(float64(hits))
	DistanceCacheLookups.WithLabelValues("miss").Add(float64(misses))
}

// RegisterDefault registers every collector on Registry once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(OptimizeRuns)
		Registry.MustRegister(OptimizeDuration)
		Registry.MustRegister(SolverIterations)
		Registry.MustRegister(DemandOutcomes)
		Registry.MustRegister(DistanceCacheLookups)
		Registry.MustRegister(MatrixMemo)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
