package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "onebreath"

// Metrics bundles the service's Prometheus collectors on a private registry.
// All methods are safe on a nil receiver so components can run unmetered.
type Metrics struct {
	registry       *prometheus.Registry
	operations     *prometheus.HistogramVec
	sweeps         *prometheus.CounterVec
	sweepSamples   *prometheus.CounterVec
	sweepDuration  prometheus.Histogram
	cacheLookups   *prometheus.CounterVec
	cacheEntries   prometheus.Gauge
	summarizer     *prometheus.CounterVec
	summarizerTime prometheus.Histogram
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// NewMetrics registers all collectors, including Go runtime and process
// collectors, on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "operation_duration_seconds",
			Help:    "Duration of service operations by result.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "result"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lifecycle", Name: "sweeps_total",
			Help: "Lifecycle sweeps by outcome.",
		}, []string{"outcome"}),
		sweepSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lifecycle", Name: "samples_total",
			Help: "Samples handled by sweeps: transitioned, skipped on conflict, or failed.",
		}, []string{"result"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "lifecycle", Name: "sweep_duration_seconds",
			Help:    "Wall time of lifecycle sweeps.",
			Buckets: prometheus.DefBuckets,
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "analysis", Name: "cache_lookups_total",
			Help: "Analysis cache lookups by result.",
		}, []string{"result"}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "analysis", Name: "cache_entries",
			Help: "Entries currently held by the analysis cache.",
		}),
		summarizer: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "analysis", Name: "summarizer_calls_total",
			Help: "Summarizer invocations by outcome.",
		}, []string{"provider", "outcome"}),
		summarizerTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "analysis", Name: "summarizer_duration_seconds",
			Help:    "Latency of summarizer calls.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30},
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations, m.sweeps, m.sweepSamples, m.sweepDuration,
		m.cacheLookups, m.cacheEntries, m.summarizer, m.summarizerTime,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Observe records a generic operation outcome.
func (m *Metrics) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if m == nil || operation == "" {
		return
	}
	m.operations.WithLabelValues(operation, result(success)).Observe(duration.Seconds())
}

// SweepCompleted records one lifecycle sweep.
func (m *Metrics) SweepCompleted(aborted bool, transitioned, skipped, failed int, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "completed"
	if aborted {
		outcome = "aborted"
	}
	m.sweeps.WithLabelValues(outcome).Inc()
	m.sweepSamples.WithLabelValues("transitioned").Add(float64(transitioned))
	m.sweepSamples.WithLabelValues("skipped").Add(float64(skipped))
	m.sweepSamples.WithLabelValues("failed").Add(float64(failed))
	m.sweepDuration.Observe(duration.Seconds())
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	label := "miss"
	if hit {
		label = "hit"
	}
	m.cacheLookups.WithLabelValues(label).Inc()
}

// CacheSize records the current number of cache entries.
func (m *Metrics) CacheSize(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}

// SummarizerCall records one summarizer invocation.
func (m *Metrics) SummarizerCall(provider, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.summarizer.WithLabelValues(provider, outcome).Inc()
	m.summarizerTime.Observe(duration.Seconds())
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method, route string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
