// Package metrics exposes Prometheus collectors for the HTTP API and its
// upstream dependencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	InFlight        prometheus.Gauge
	Requests        *prometheus.CounterVec
	Duration        *prometheus.HistogramVec
	Upstream        *prometheus.CounterVec
	CacheRefreshes  *prometheus.CounterVec
	RateLimited     prometheus.Counter
	AuthResolutions *prometheus.CounterVec
}

// New registers all collectors on a private registry so tests can build as
// many instances as they like.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fsr_http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fsr_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fsr_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fsr_upstream_requests_total",
			Help: "Calls to upstream services by outcome.",
		}, []string{"service", "outcome"}),
		CacheRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fsr_cache_refreshes_total",
			Help: "Timed cache recomputations by cache and outcome.",
		}, []string{"cache", "outcome"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fsr_http_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		AuthResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fsr_auth_resolutions_total",
			Help: "Request identity resolutions by source.",
		}, []string{"source"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.InFlight, m.Requests, m.Duration, m.Upstream, m.CacheRefreshes, m.RateLimited, m.AuthResolutions,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveUpstream records one upstream call.
func (m *Metrics) ObserveUpstream(service string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Upstream.WithLabelValues(service, outcome).Inc()
}

// ObserveCacheRefresh records one cache recomputation.
func (m *Metrics) ObserveCacheRefresh(cache string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.CacheRefreshes.WithLabelValues(cache, outcome).Inc()
}
