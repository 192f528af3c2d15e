package utils

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector tracks performance metrics across the system. Each
// collector owns its registry so tests can build as many as they like.
type MetricsCollector struct {
	registry *prometheus.Registry

	requestCount   *prometheus.CounterVec
	errorCount     *prometheus.CounterVec
	operationTimes *prometheus.HistogramVec
	connections    prometheus.Gauge
	messagesSent   prometheus.Counter
	chatsPurged    prometheus.Counter
}

func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "HTTP requests handled, by route.",
		}, []string{"route"}),
		errorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_errors_total",
			Help: "Errors returned to callers, by code.",
		}, []string{"code"}),
		operationTimes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_operation_duration_seconds",
			Help:    "Latency of chat operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_realtime_connections",
			Help: "Currently open realtime connections.",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages persisted and broadcast.",
		}),
		chatsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_chats_purged_total",
			Help: "Chats permanently deleted after the last participant left.",
		}),
	}
	mc.registry.MustRegister(
		mc.requestCount,
		mc.errorCount,
		mc.operationTimes,
		mc.connections,
		mc.messagesSent,
		mc.chatsPurged,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return mc
}

func (mc *MetricsCollector) IncrementRequests(route string) {
	mc.requestCount.WithLabelValues(route).Inc()
}

func (mc *MetricsCollector) IncrementErrors(code string) {
	mc.errorCount.WithLabelValues(code).Inc()
}

func (mc *MetricsCollector) AddOperationLatency(operationName string, duration time.Duration) {
	mc.operationTimes.WithLabelValues(operationName).Observe(duration.Seconds())
}

func (mc *MetricsCollector) ConnectionOpened() { mc.connections.Inc() }

func (mc *MetricsCollector) ConnectionClosed() { mc.connections.Dec() }

func (mc *MetricsCollector) MessageSent() { mc.messagesSent.Inc() }

func (mc *MetricsCollector) ChatPurged() { mc.chatsPurged.Inc() }

// Connections exposes the live connection gauge, mainly for tests.
func (mc *MetricsCollector) Connections() prometheus.Gauge { return mc.connections }

// Handler serves the Prometheus exposition format.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{Registry: mc.registry})
}
