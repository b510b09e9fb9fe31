package utils

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tracks performance metrics across the system
type MetricsCollector struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	operationTimes *prometheus.HistogramVec
	errors         prometheus.Counter

	systemStartTime time.Time
}

func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		operationTimes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "operation_duration_seconds",
			Help:    "Latency of internal operations such as like, follow and reconcile.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Non-operational errors surfaced as 500.",
		}),
		systemStartTime: time.Now(),
	}

	mc.registry.MustRegister(
		mc.requests,
		mc.requestLatency,
		mc.operationTimes,
		mc.errors,
		collectors.NewGoCollector(),
	)
	return mc
}

func (mc *MetricsCollector) ObserveRequest(method, route string, status int, duration time.Duration) {
	mc.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	mc.requestLatency.WithLabelValues(route).Observe(duration.Seconds())
}

func (mc *MetricsCollector) IncrementErrors() {
	mc.errors.Inc()
}

func (mc *MetricsCollector) AddOperationLatency(operationName string, duration time.Duration) {
	mc.operationTimes.WithLabelValues(operationName).Observe(duration.Seconds())
}

func (mc *MetricsCollector) Uptime() time.Duration {
	return time.Since(mc.systemStartTime)
}

// Handler exposes the collector's registry in the Prometheus text format.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}
