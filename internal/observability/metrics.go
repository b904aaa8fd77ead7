package observability

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluxbase-eu/fluxpack/internal/builderr"
)

// Build kinds used as metric labels
const (
	BuildFull        = "full"
	BuildIncremental = "incremental"
)

// Metrics holds the Prometheus metrics of the bundler and dev server
type Metrics struct {
	registry *prometheus.Registry

	// Build metrics
	buildsTotal        *prometheus.CounterVec
	buildDuration      *prometheus.HistogramVec
	buildErrorsTotal   *prometheus.CounterVec
	modulesTransformed prometheus.Counter
	modulesReused      prometheus.Counter
	graphModules       prometheus.Gauge
	transformDuration  prometheus.Histogram
	bundleBytes        *prometheus.GaugeVec

	// Dev server metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	devClients          prometheus.Gauge
	notificationsTotal  *prometheus.CounterVec
	rebuildsThrottled   prometheus.Counter
}

// NewMetrics creates the metrics and registers them on a private registry,
// so several instances can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		buildsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxpack_builds_total",
				Help: "Total number of build generations by kind and result",
			},
			[]string{"kind", "result"},
		),
		buildDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxpack_build_duration_seconds",
				Help:    "Build generation latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		buildErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxpack_build_errors_total",
				Help: "Total number of build errors by error kind",
			},
			[]string{"kind"},
		),
		modulesTransformed: f.NewCounter(
			prometheus.CounterOpts{
				Name: "fluxpack_modules_transformed_total",
				Help: "Total number of modules run through the transform pipeline",
			},
		),
		modulesReused: f.NewCounter(
			prometheus.CounterOpts{
				Name: "fluxpack_modules_reused_total",
				Help: "Total number of modules reused from a previous generation",
			},
		),
		graphModules: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxpack_graph_modules",
				Help: "Number of modules in the last successful build graph",
			},
		),
		transformDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fluxpack_transform_duration_seconds",
				Help:    "Per-module transform pipeline latency in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		bundleBytes: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fluxpack_artifact_bytes",
				Help: "Size of the last emitted artifact in bytes",
			},
			[]string{"artifact"},
		),

		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxpack_http_requests_total",
				Help: "Total number of dev server HTTP requests",
			},
			[]string{"method", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxpack_http_request_duration_seconds",
				Help:    "Dev server HTTP request latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "status"},
		),
		devClients: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxpack_dev_clients",
				Help: "Current number of connected reload clients",
			},
		),
		notificationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxpack_notifications_total",
				Help: "Total number of build notifications pushed to clients",
			},
			[]string{"type"},
		),
		rebuildsThrottled: f.NewCounter(
			prometheus.CounterOpts{
				Name: "fluxpack_rebuilds_throttled_total",
				Help: "Total number of change batches delayed by the rebuild rate limit",
			},
		),
	}
}

// RecordBuild records one finished build generation. err may be a
// builderr.List; every member is counted under its kind.
func (m *Metrics) RecordBuild(kind string, duration time.Duration, modules, transformed, reused int, err error) {
	result := "success"
	if err != nil {
		result = "failure"
		for _, e := range builderr.Flatten(err) {
			k := string(builderr.KindOf(e))
			if k == "" {
				k = "other"
			}
			m.buildErrorsTotal.WithLabelValues(k).Inc()
		}
	} else {
		m.graphModules.Set(float64(modules))
	}

	m.buildsTotal.WithLabelValues(kind, result).Inc()
	m.buildDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.modulesTransformed.Add(float64(transformed))
	m.modulesReused.Add(float64(reused))
}

// ObserveTransform records the pipeline latency of one module
func (m *Metrics) ObserveTransform(duration time.Duration) {
	m.transformDuration.Observe(duration.Seconds())
}

// SetArtifactSize records the size of an emitted artifact
func (m *Metrics) SetArtifactSize(name string, bytes int) {
	m.bundleBytes.WithLabelValues(name).Set(float64(bytes))
}

// SetDevClients updates the connected reload client count
func (m *Metrics) SetDevClients(n int) {
	m.devClients.Set(float64(n))
}

// RecordNotification records a notification pushed to clients
func (m *Metrics) RecordNotification(kind string) {
	m.notificationsTotal.WithLabelValues(kind).Inc()
}

// RecordThrottled records a change batch held back by the rebuild limiter
func (m *Metrics) RecordThrottled() {
	m.rebuildsThrottled.Inc()
}

// MetricsMiddleware returns a Fiber middleware that collects HTTP metrics
func (m *Metrics) MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		method := c.Method()

		err := c.Next()

		status := statusClass(c.Response().StatusCode())
		m.httpRequestsTotal.WithLabelValues(method, status).Inc()
		m.httpRequestDuration.WithLabelValues(method, status).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler returns a Fiber handler that exposes Prometheus metrics
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Gatherer exposes the registry for inspection
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// statusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx)
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
