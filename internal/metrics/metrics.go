package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pal/gateway/internal/middleware"
)

const namespace = "gateway"

// UnmatchedRoute labels requests that matched no service.
const UnmatchedRoute = "unmatched"

// DefaultBuckets are default histogram buckets in seconds
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// Collector owns the gateway's Prometheus registry and instruments.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	inFlight         prometheus.Gauge
	upstreamDuration *prometheus.HistogramVec
	upstreamErrors   *prometheus.CounterVec
	authFailures     *prometheus.CounterVec
	routes           prometheus.Gauge
	buildInfo        *prometheus.GaugeVec
}

// NewCollector creates a collector on a fresh registry that also carries the
// Go runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests handled by the gateway.",
		}, []string{"route", "method", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency.",
			Buckets:   DefaultBuckets,
		}, []string{"route", "method"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Requests currently being served.",
		}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Backend round-trip latency.",
			Buckets:   DefaultBuckets,
		}, []string{"route"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Backend dispatch failures by kind.",
		}, []string{"route", "kind"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Requests rejected by the authentication gate.",
		}, []string{"reason"}),
		routes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "routes",
			Help:      "Configured routes.",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build metadata, always 1.",
		}, []string{"version", "commit"}),
	}

	c.registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.inFlight,
		c.upstreamDuration,
		c.upstreamErrors,
		c.authFailures,
		c.routes,
		c.buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordRequest records a completed request
func (c *Collector) RecordRequest(route, method string, statusCode int, duration time.Duration) {
	if route == "" {
		route = UnmatchedRoute
	}
	c.requestsTotal.WithLabelValues(route, method, strconv.Itoa(statusCode)).Inc()
	c.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordUpstream records one backend round trip. kind is empty on success,
// otherwise "timeout" or "unreachable".
func (c *Collector) RecordUpstream(route string, duration time.Duration, kind string) {
	c.upstreamDuration.WithLabelValues(route).Observe(duration.Seconds())
	if kind != "" {
		c.upstreamErrors.WithLabelValues(route, kind).Inc()
	}
}

// RecordAuthFailure counts a rejected request.
func (c *Collector) RecordAuthFailure(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

// SetRoutes publishes the number of configured routes.
func (c *Collector) SetRoutes(n int) {
	c.routes.Set(float64(n))
}

// SetBuildInfo publishes build metadata.
func (c *Collector) SetBuildInfo(version, commit string) {
	c.buildInfo.WithLabelValues(version, commit).Set(1)
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Middleware records request count and latency. The route label is read from
// the request info after the inner handlers ran.
func (c *Collector) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.inFlight.Inc()
			defer c.inFlight.Dec()

			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := middleware.InfoFromContext(r.Context()).Route
			c.RecordRequest(route, r.Method, sw.status, time.Since(start))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	return sw.ResponseWriter.Write(b)
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
