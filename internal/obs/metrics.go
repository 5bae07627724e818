// Package obs holds the logging, metrics and request id helpers shared by
// the server and the CLI.
package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garnizeh/initiatives/internal/catalog"
)

// Metrics groups every collector the service exports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	signinsTotal *prometheus.CounterVec

	catalogInitiatives prometheus.Gauge
	catalogSkipped     prometheus.Counter
	catalogReloads     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. Pass
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		signinsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signin_attempts_total",
			Help: "Signin attempts by outcome.",
		}, []string{"result"}),
		catalogInitiatives: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_initiatives",
			Help: "Initiatives in the current catalog snapshot.",
		}),
		catalogSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalog_rows_skipped_total",
			Help: "Malformed catalog rows skipped while loading.",
		}),
		catalogReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_reloads_total",
			Help: "Catalog reloads by outcome.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
		m.signinsTotal,
		m.catalogInitiatives, m.catalogSkipped, m.catalogReloads,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Instrument records in-flight requests, totals and latency. The path label
// is the mux route template so ids do not explode cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()

		sw := &StatusWriter{ResponseWriter: w, Code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		status := strconv.Itoa(sw.Code)
		m.httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// Signin counts one signin attempt; result is ok, rejected or limited.
func (m *Metrics) Signin(result string) {
	if m == nil {
		return
	}
	m.signinsTotal.WithLabelValues(result).Inc()
}

// CatalogHooks feeds catalog reload outcomes into the metrics.
func (m *Metrics) CatalogHooks() catalog.Hooks {
	if m == nil {
		return catalog.Hooks{}
	}
	return catalog.Hooks{
		OnLoad: func(snap *catalog.Snapshot) {
			m.catalogInitiatives.Set(float64(snap.Len()))
			m.catalogSkipped.Add(float64(len(snap.Skipped)))
			m.catalogReloads.WithLabelValues("ok").Inc()
		},
		OnError: func(error) {
			m.catalogReloads.WithLabelValues("error").Inc()
		},
	}
}

// StatusWriter remembers the status code written through it.
type StatusWriter struct {
	http.ResponseWriter
	Code int
}

func (w *StatusWriter) WriteHeader(code int) {
	w.Code = code
	w.ResponseWriter.WriteHeader(code)
}
