// Package metrics holds the server's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/and161185/squadcal/internal/model"
)

const namespace = "squadcal"

// Metrics is a private registry with RPC and sync counters. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	reg         *prometheus.Registry
	rpcTotal    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec
	truncation  *prometheus.CounterVec
	rateLimited prometheus.Counter
	cache       *prometheus.CounterVec
}

// New registers all collectors plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		rpcTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Unary RPCs handled, by method and status code.",
		}, []string{"method", "code"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_duration_seconds",
			Help:      "Unary RPC latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		truncation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_thread_status_total",
			Help:      "Per-thread truncation statuses returned by message fetches.",
		}, []string{"fetch", "status"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-viewer rate limiter.",
		}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "user_cache_lookups_total",
			Help:      "Username cache lookups by result.",
		}, []string{"result"}),
	}
	m.reg.MustRegister(
		m.rpcTotal, m.rpcDuration, m.truncation, m.rateLimited, m.cache,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRPC records one finished call.
func (m *Metrics) ObserveRPC(method, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.rpcTotal.WithLabelValues(method, code).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveTruncation counts the statuses of one fetch result.
func (m *Metrics) ObserveTruncation(fetch string, st map[int64]model.TruncationStatus) {
	if m == nil {
		return
	}
	for _, s := range st {
		m.truncation.WithLabelValues(fetch, string(s)).Inc()
	}
}

// RateLimited counts a rejected request.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// CacheLookup counts cache hits and misses.
func (m *Metrics) CacheLookup(hits, misses int) {
	if m == nil {
		return
	}
	m.cache.WithLabelValues("hit").Add(float64(hits))
	m.cache.WithLabelValues("miss").Add(float64(misses))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
