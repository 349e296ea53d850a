// Package metrics 定义了网关的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "kenny"
	subsystem = "gateway"
)

var (
	// HTTP 请求计数
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// 工作流调用结果：success / timeout / error
	RelayOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "relay_outcomes_total",
			Help:      "Workflow relay outcomes by class",
		},
		[]string{"outcome"},
	)

	RelayDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "relay_duration_seconds",
			Help:      "Workflow relay call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// 会话解析命中的层级：local / cache / durable / created
	SessionResolvesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "session_resolves_total",
			Help:      "Session resolutions by the tier that served them",
		},
		[]string{"tier"},
	)

	SessionsReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_reaped_total",
			Help:      "Idle sessions evicted from the process-local tier",
		},
	)

	CacheWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_write_failures_total",
			Help:      "Failed write-through updates to the network cache tier",
		},
	)

	// 后台持久化：success / failure / dropped
	PersistTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "persist_total",
			Help:      "Background persistence tasks by result",
		},
		[]string{"status"},
	)

	PersistQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "persist_queue_depth",
			Help:      "Pending background persistence tasks",
		},
	)
)

// RecordRequest records an HTTP request
func RecordRequest(method, path, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, path, status).Inc()
	RequestDuration.WithLabelValues(method, path).Observe(durationSec)
}

// RecordRelay records a workflow relay outcome
func RecordRelay(outcome string, durationSec float64) {
	RelayOutcomesTotal.WithLabelValues(outcome).Inc()
	RelayDuration.Observe(durationSec)
}

// RecordResolve records which tier served a session resolution
func RecordResolve(tier string) {
	SessionResolvesTotal.WithLabelValues(tier).Inc()
}

// RecordPersist records a background persistence result
func RecordPersist(status string) {
	PersistTotal.WithLabelValues(status).Inc()
}

// SetPersistQueueDepth sets the current persistence backlog
func SetPersistQueueDepth(depth int) {
	PersistQueueDepth.Set(float64(depth))
}
