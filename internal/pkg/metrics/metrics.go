package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fgbview",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fgbview",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fgbview",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Loader metrics
	Refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fgbview",
		Subsystem: "loader",
		Name:      "refreshes_total",
		Help:      "Total overlay refreshes by outcome",
	}, []string{"outcome"})

	RefreshesCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fgbview",
		Subsystem: "loader",
		Name:      "refreshes_coalesced_total",
		Help:      "Refresh requests absorbed by an already pending or running refresh",
	})

	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fgbview",
		Subsystem: "loader",
		Name:      "refresh_duration_seconds",
		Help:      "Duration of a refresh from viewport snapshot to publish",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	FeaturesStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fgbview",
		Subsystem: "loader",
		Name:      "features_streamed_total",
		Help:      "Total features accumulated from range queries",
	})

	// FlatGeobuf range access
	RangeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fgbview",
		Subsystem: "source",
		Name:      "range_requests_total",
		Help:      "Total range reads against the dataset by section",
	}, []string{"section"})

	RangeBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fgbview",
		Subsystem: "source",
		Name:      "range_bytes_total",
		Help:      "Total bytes read from the dataset",
	})

	ActiveSurfaces = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fgbview",
		Subsystem: "ws",
		Name:      "active_surfaces",
		Help:      "Current number of connected rendering surfaces",
	})

	ActiveWatchers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fgbview",
		Subsystem: "ws",
		Name:      "active_watchers",
		Help:      "Current number of overlay watch connections",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}
