// Package metrics exposes the Prometheus collectors of the CMS: HTTP traffic,
// hook dispatch and module lifecycle.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cms"

// Metrics owns a registry and the collectors registered on it. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	hookDispatches *prometheus.CounterVec
	hookDuration   *prometheus.HistogramVec
	hookErrors     *prometheus.CounterVec

	modulesLoaded prometheus.Gauge
	lifecycleOps  *prometheus.CounterVec
}

// New creates a Metrics with its own registry, including the Go and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"service", "method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"service", "method", "path"}),

		hookDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hooks",
			Name:      "dispatches_total",
			Help:      "Total number of hook dispatches.",
		}, []string{"hook", "kind"}),
		hookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hooks",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent running every callback of a hook.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"hook", "kind"}),
		hookErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hooks",
			Name:      "errors_total",
			Help:      "Total number of hook dispatches that returned an error.",
		}, []string{"hook", "kind"}),

		modulesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "modules",
			Name:      "loaded",
			Help:      "Number of modules mounted by the last rebuild.",
		}),
		lifecycleOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "modules",
			Name:      "lifecycle_operations_total",
			Help:      "Install, uninstall, enable and disable operations by result.",
		}, []string{"module", "operation", "result"}),
	}

	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.hookDispatches,
		m.hookDuration,
		m.hookErrors,
		m.modulesLoaded,
		m.lifecycleOps,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncrementInFlight() {
	if m != nil {
		m.httpInFlight.Inc()
	}
}

func (m *Metrics) DecrementInFlight() {
	if m != nil {
		m.httpInFlight.Dec()
	}
}

// RecordHTTPRequest records one completed request. path should be a route
// template when one is known.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	path = CanonicalPath(path)
	method = strings.ToUpper(method)
	m.httpRequests.WithLabelValues(service, method, path, status).Inc()
	m.httpDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordHookDispatch records one Do or Apply call. kind is "action" or
// "filter".
func (m *Metrics) RecordHookDispatch(hook, kind string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.hookDispatches.WithLabelValues(hook, kind).Inc()
	m.hookDuration.WithLabelValues(hook, kind).Observe(duration.Seconds())
	if err != nil {
		m.hookErrors.WithLabelValues(hook, kind).Inc()
	}
}

func (m *Metrics) SetModulesLoaded(n int) {
	if m != nil {
		m.modulesLoaded.Set(float64(n))
	}
}

// RecordLifecycle counts a module lifecycle operation.
func (m *Metrics) RecordLifecycle(module, operation string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.lifecycleOps.WithLabelValues(module, operation, result).Inc()
}

// CanonicalPath reduces a request path to a bounded label. Route templates
// (containing "{") are kept verbatim; raw paths collapse to their first
// segment.
func CanonicalPath(raw string) string {
	if strings.Contains(raw, "{") {
		return raw
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[:i]
	}
	return "/" + trimmed
}
