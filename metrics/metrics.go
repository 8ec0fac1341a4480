// Package metrics exposes ingestion, query and HTTP counters to Prometheus.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/brunobiangulo/theoremgraph/graph"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest statuses.
const (
	StatusIngested  = "ingested"
	StatusUnchanged = "unchanged"
	StatusFailed    = "failed"
)

// Collector holds all Prometheus metrics for the application
type Collector struct {
	registry *prometheus.Registry

	// Ingestion metrics
	Documents      *prometheus.CounterVec
	Chunks         *prometheus.CounterVec
	Records        *prometheus.CounterVec
	IngestDuration prometheus.Histogram

	// Query metrics
	Queries       *prometheus.CounterVec
	QueryDuration prometheus.Histogram

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewCollector creates a collector with its own registry, so several
// engines (and tests) never collide on registration.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		Documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Documents processed by ingestion, by status",
		}, []string{"status"}),
		Chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Chunks seen by the extractor, by outcome",
		}, []string{"outcome"}),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Theorem and example records, by kind and outcome",
		}, []string{"kind", "outcome"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time to extract and write one document",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Questions answered, by outcome",
		}, []string{"outcome"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Time to resolve and answer one question",
			Buckets:   prometheus.DefBuckets,
		}),
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
	}

	registry.MustRegister(
		c.Documents,
		c.Chunks,
		c.Records,
		c.IngestDuration,
		c.Queries,
		c.QueryDuration,
		c.HTTPRequests,
		c.HTTPDuration,
	)
	return c
}

// Registry returns the Prometheus registry for this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// DocumentSkipped records a document that was not re-extracted.
func (c *Collector) DocumentSkipped() {
	if c == nil {
		return
	}
	c.Documents.WithLabelValues(StatusUnchanged).Inc()
}

// DocumentFailed records a document whose ingestion returned an error.
func (c *Collector) DocumentFailed() {
	if c == nil {
		return
	}
	c.Documents.WithLabelValues(StatusFailed).Inc()
}

// DocumentIngested records the counts of one build.
func (c *Collector) DocumentIngested(r *graph.Report) {
	if c == nil || r == nil {
		return
	}
	c.Documents.WithLabelValues(StatusIngested).Inc()
	c.IngestDuration.Observe(r.Elapsed.Seconds())

	c.Chunks.WithLabelValues("extracted").Add(float64(r.Chunks - r.ChunksSkipped - r.ChunksFailed))
	c.Chunks.WithLabelValues("skipped").Add(float64(r.ChunksSkipped))
	c.Chunks.WithLabelValues("failed").Add(float64(r.ChunksFailed))

	c.Records.WithLabelValues("candidate", "rejected").Add(float64(r.Rejected))
	c.Records.WithLabelValues("theorem", "written").Add(float64(r.Batch.TheoremsWritten))
	c.Records.WithLabelValues("theorem", "failed").Add(float64(r.Batch.TheoremsFailed))
	c.Records.WithLabelValues("example", "written").Add(float64(r.Batch.ExamplesWritten))
	c.Records.WithLabelValues("example", "failed").Add(float64(r.Batch.ExamplesFailed))
}

// QueryAnswered records one question. outcome is "grounded", "ungrounded"
// or "error".
func (c *Collector) QueryAnswered(outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.Queries.WithLabelValues(outcome).Inc()
	c.QueryDuration.Observe(elapsed.Seconds())
}

// Middleware records the count and latency of every request by chi route
// pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(ww, r)

		route := "unknown"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.status)).Inc()
		c.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// statusWriter wraps http.ResponseWriter to capture response status
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
