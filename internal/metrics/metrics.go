// Package metrics exposes the dashboard server's Prometheus instruments:
// HTTP traffic per route and activity-log writes per action.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	activity *prometheus.CounterVec
	samples  *prometheus.CounterVec
}

// New creates the instruments and registers them, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "athena_http_requests_total",
				Help: "HTTP requests served, by method, route pattern and status code.",
			},
			[]string{"method", "route", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "athena_http_request_duration_seconds",
				Help:    "HTTP request latency by method and route pattern.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"method", "route"},
		),
		activity: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "athena_activity_log_entries_total",
				Help: "Activity-log entries committed, by action and entity type.",
			},
			[]string{"action", "entity_type"},
		),
		samples: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "athena_health_samples_total",
				Help: "AI health snapshots attempted by the sampler, by outcome.",
			},
			[]string{"outcome"},
		),
	}
	m.registry.MustRegister(
		m.requests,
		m.duration,
		m.activity,
		m.samples,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records every request under its chi route pattern, so
// /api/clients/123 and /api/clients/456 share one series.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// ObserveActivity counts one committed activity-log entry.
func (m *Metrics) ObserveActivity(action, entityType string) {
	m.activity.WithLabelValues(action, entityType).Inc()
}

// ObserveSample counts one health-sampler run. ok is false when the
// snapshot could not be stored.
func (m *Metrics) ObserveSample(ok bool) {
	outcome := "stored"
	if !ok {
		outcome = "failed"
	}
	m.samples.WithLabelValues(outcome).Inc()
}
