package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the admin API, runs and the delivery pipeline.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	assetsDeliveredTotal    *prometheus.CounterVec
	assetsFailedTotal       *prometheus.CounterVec
	assetsSkippedTotal      prometheus.Counter
	assetDeliveryDuration   *prometheus.HistogramVec
	runsTotal               *prometheus.CounterVec
	runsInflight            prometheus.Gauge
	rateLimitWaitsTotal     prometheus.Counter
	catalogAssetsDiscovered prometheus.Histogram
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "relay",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		assetsDeliveredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay",
				Name:      "assets_delivered_total",
				Help:      "Total number of assets delivered, by kind and delivery path (upload, copy, link).",
			},
			[]string{"kind", "path"},
		),
		assetsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay",
				Name:      "assets_failed_total",
				Help:      "Total number of assets whose delivery failed, by kind and reason.",
			},
			[]string{"kind", "reason"},
		),
		assetsSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "relay",
				Name:      "assets_skipped_total",
				Help:      "Total number of assets skipped because they were already delivered.",
			},
		),
		assetDeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "relay",
				Name:      "asset_delivery_duration_seconds",
				Help:      "Time spent delivering one asset, grouped by kind.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"kind"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay",
				Name:      "runs_total",
				Help:      "Total number of batch runs by trigger and outcome.",
			},
			[]string{"trigger", "outcome"},
		),
		runsInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "relay",
				Name:      "runs_inflight",
				Help:      "Current number of batch runs in progress.",
			},
		),
		rateLimitWaitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "relay",
				Name:      "rate_limit_waits_total",
				Help:      "Total number of sends that had to wait for the send limiter or a destination back-off.",
			},
		),
		catalogAssetsDiscovered: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "relay",
				Name:      "catalog_assets_discovered",
				Help:      "Number of assets discovered per catalog walk.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.assetsDeliveredTotal,
		m.assetsFailedTotal,
		m.assetsSkippedTotal,
		m.assetDeliveryDuration,
		m.runsTotal,
		m.runsInflight,
		m.rateLimitWaitsTotal,
		m.catalogAssetsDiscovered,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncAssetDelivered(kind string, path string) {
	if m == nil {
		return
	}
	m.assetsDeliveredTotal.WithLabelValues(normalizeLabel(kind), normalizeLabel(path)).Inc()
}

func (m *Metrics) IncAssetFailed(kind string, reason string) {
	if m == nil {
		return
	}
	m.assetsFailedTotal.WithLabelValues(normalizeLabel(kind), normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncAssetSkipped() {
	if m == nil {
		return
	}
	m.assetsSkippedTotal.Inc()
}

func (m *Metrics) ObserveAssetDeliveryDuration(kind string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.assetDeliveryDuration.WithLabelValues(normalizeLabel(kind)).Observe(seconds)
}

func (m *Metrics) IncRun(trigger string, outcome string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(normalizeLabel(trigger), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncRunsInFlight() {
	if m == nil {
		return
	}
	m.runsInflight.Inc()
}

func (m *Metrics) DecRunsInFlight() {
	if m == nil {
		return
	}
	m.runsInflight.Dec()
}

func (m *Metrics) IncRateLimitWait() {
	if m == nil {
		return
	}
	m.rateLimitWaitsTotal.Inc()
}

func (m *Metrics) ObserveCatalogAssets(count int) {
	if m == nil {
		return
	}
	m.catalogAssetsDiscovered.Observe(float64(count))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
