package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the engine. Every method is a
// no-op on a nil *Collector so components can run without instrumentation.
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Expansion metrics
	Expansions         *prometheus.CounterVec
	ExpansionDuration  prometheus.Histogram
	ExpansionRounds    prometheus.Histogram
	NodesCreated       prometheus.Counter
	EdgesCreated       prometheus.Counter
	ItemFailures       *prometheus.CounterVec
	ProposalsDiscarded *prometheus.CounterVec

	// Provider metrics
	ProviderCalls    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec

	// Consistency metrics
	Anomalies *prometheus.CounterVec
	Repairs   *prometheus.CounterVec

	// Graph size
	GraphNodes prometheus.Gauge
	GraphEdges prometheus.Gauge
}

// NewCollector creates a collector with its own registry
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Expansions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expansions_total",
			Help:      "Expansion runs by outcome",
		}, []string{"outcome"}),
		ExpansionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "expansion_duration_seconds",
			Help:      "Wall-clock duration of expansion runs",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}),
		ExpansionRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "expansion_rounds",
			Help:      "Provider rounds per expansion run",
			Buckets:   []float64{1, 2, 3, 5, 8, 10, 20},
		}),
		NodesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_created_total",
			Help:      "Total number of nodes committed",
		}),
		EdgesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edges_created_total",
			Help:      "Total number of edges committed",
		}),
		ItemFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_item_failures_total",
			Help:      "Node or edge writes that failed and were skipped",
		}, []string{"kind"}),
		ProposalsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_discarded_total",
			Help:      "Proposed nodes or edges dropped by validation",
		}, []string{"kind"}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Reasoning provider calls by operation and status",
		}, []string{"operation", "status"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Reasoning provider call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_detected_total",
			Help:      "Structural anomalies found by consistency audits",
		}, []string{"type"}),
		Repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repairs_total",
			Help:      "Graph repair actions by kind",
		}, []string{"action"}),
		GraphNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_nodes",
			Help:      "Nodes in the live graph",
		}),
		GraphEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_edges",
			Help:      "Edges in the live graph",
		}),
	}

	registry.MustRegister(
		c.HTTPRequests, c.HTTPDuration,
		c.Expansions, c.ExpansionDuration, c.ExpansionRounds,
		c.NodesCreated, c.EdgesCreated, c.ItemFailures, c.ProposalsDiscarded,
		c.ProviderCalls, c.ProviderDuration,
		c.Anomalies, c.Repairs,
		c.GraphNodes, c.GraphEdges,
		collectors.NewGoCollector(),
	)
	return c
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// GinMiddleware records request counts and latency per route
func (c *Collector) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if c == nil {
			ctx.Next()
			return
		}
		start := time.Now()
		ctx.Next()

		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		c.HTTPRequests.WithLabelValues(ctx.Request.Method, route, strconv.Itoa(ctx.Writer.Status())).Inc()
		c.HTTPDuration.WithLabelValues(ctx.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// RecordExpansion records the outcome of one expansion run
func (c *Collector) RecordExpansion(outcome string, rounds int, duration time.Duration) {
	if c == nil {
		return
	}
	c.Expansions.WithLabelValues(outcome).Inc()
	c.ExpansionRounds.Observe(float64(rounds))
	c.ExpansionDuration.Observe(duration.Seconds())
}

// RecordMerge records what one merge committed and how many items failed
func (c *Collector) RecordMerge(nodes, edges, nodeFailures, edgeFailures int) {
	if c == nil {
		return
	}
	c.NodesCreated.Add(float64(nodes))
	c.EdgesCreated.Add(float64(edges))
	if nodeFailures > 0 {
		c.ItemFailures.WithLabelValues("node").Add(float64(nodeFailures))
	}
	if edgeFailures > 0 {
		c.ItemFailures.WithLabelValues("edge").Add(float64(edgeFailures))
	}
}

// RecordDiscarded counts proposals dropped by validation
func (c *Collector) RecordDiscarded(nodes, edges int) {
	if c == nil {
		return
	}
	if nodes > 0 {
		c.ProposalsDiscarded.WithLabelValues("node").Add(float64(nodes))
	}
	if edges > 0 {
		c.ProposalsDiscarded.WithLabelValues("edge").Add(float64(edges))
	}
}

// ObserveProviderCall matches the provider's call observer signature
func (c *Collector) ObserveProviderCall(operation string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.ProviderCalls.WithLabelValues(operation, status).Inc()
	c.ProviderDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAnomaly counts a detected anomaly by type
func (c *Collector) RecordAnomaly(anomalyType string) {
	if c == nil {
		return
	}
	c.Anomalies.WithLabelValues(anomalyType).Inc()
}

// RecordRepair counts repair actions
func (c *Collector) RecordRepair(action string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.Repairs.WithLabelValues(action).Add(float64(n))
}

// SetGraphSize updates the live graph gauges
func (c *Collector) SetGraphSize(nodes, edges int) {
	if c == nil {
		return
	}
	c.GraphNodes.Set(float64(nodes))
	c.GraphEdges.Set(float64(edges))
}
