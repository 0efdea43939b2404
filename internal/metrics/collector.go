// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 调度指标
	tasksSubmitted *prometheus.CounterVec
	tasksTerminal  *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec

	// 事件总线指标
	eventsPublished *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec

	// 心跳指标
	heartbeatsEmitted  prometheus.Counter
	heartbeatsSwallowd prometheus.Counter

	// HTTP 指标
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	httpRequestSize  *prometheus.HistogramVec
	httpResponseSize *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到 registerer
// registerer 为 nil 时使用默认注册表
func NewCollector(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := prometheus.WrapRegistererWith(nil, registerer)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.tasksSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Total number of tasks submitted to a scheduler backend",
		},
		[]string{"backend", "target_agent"},
	)

	c.tasksTerminal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_terminal_total",
			Help:      "Total number of tasks reaching a terminal state",
		},
		[]string{"backend", "status"},
	)

	c.taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task wall-clock duration from submission to terminal event",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		},
		[]string{"backend"},
	)

	c.eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of task events fanned out to subscribers",
		},
		[]string{"kind"},
	)

	c.eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Total number of task events dropped (no subscriber or full buffer)",
		},
		[]string{"kind"},
	)

	c.heartbeatsEmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_emitted_total",
			Help:      "Total number of progress heartbeats recorded by activities",
		},
	)

	c.heartbeatsSwallowd = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_swallowed_total",
			Help:      "Total number of heartbeat emission failures swallowed",
		},
	)

	c.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request body size",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response body size",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		},
		[]string{"method", "path"},
	)

	for _, col := range []prometheus.Collector{
		c.tasksSubmitted, c.tasksTerminal, c.taskDuration,
		c.eventsPublished, c.eventsDropped,
		c.heartbeatsEmitted, c.heartbeatsSwallowd,
		c.httpRequests, c.httpDuration, c.httpRequestSize, c.httpResponseSize,
	} {
		if err := factory.Register(col); err != nil {
			// AlreadyRegistered 在测试中重复构建时出现，记录后继续
			c.logger.Debug("metric registration skipped", zap.Error(err))
		}
	}

	return c
}

// TaskSubmitted 记录任务提交
func (c *Collector) TaskSubmitted(backend, targetAgent string) {
	if c == nil {
		return
	}
	c.tasksSubmitted.WithLabelValues(backend, targetAgent).Inc()
}

// TaskTerminal 记录任务到达终态
func (c *Collector) TaskTerminal(backend, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.tasksTerminal.WithLabelValues(backend, status).Inc()
	c.taskDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// EventPublished 记录事件发布
func (c *Collector) EventPublished(kind string) {
	if c == nil {
		return
	}
	c.eventsPublished.WithLabelValues(kind).Inc()
}

// EventDropped 记录事件丢弃
func (c *Collector) EventDropped(kind string) {
	if c == nil {
		return
	}
	c.eventsDropped.WithLabelValues(kind).Inc()
}

// HeartbeatEmitted 记录一次心跳
func (c *Collector) HeartbeatEmitted() {
	if c == nil {
		return
	}
	c.heartbeatsEmitted.Inc()
}

// HeartbeatSwallowed 记录一次被吞掉的心跳失败
func (c *Collector) HeartbeatSwallowed() {
	if c == nil {
		return
	}
	c.heartbeatsSwallowd.Inc()
}

// RecordHTTPRequest 记录一次 HTTP 请求
// path 应当是归一化后的路由模板，避免标签基数爆炸
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	if c == nil {
		return
	}
	statusLabel := strconv.Itoa(status)
	c.httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	c.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}
