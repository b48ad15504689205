// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/credpool/credential"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，同时实现 credential.Observer
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 凭据池指标
	acquireTotal     *prometheus.CounterVec
	acquireDuration  *prometheus.HistogramVec
	throttleDuration *prometheus.HistogramVec
	transitionsTotal *prometheus.CounterVec
	persistErrors    *prometheus.CounterVec
	keysByState      *prometheus.GaugeVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

var _ credential.Observer = (*Collector)(nil)

// NewCollector 创建指标收集器并注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, namespace, logger)
}

// NewCollectorWith 注册到指定 Registerer
func NewCollectorWith(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 凭据池指标
	c.acquireTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquire_total",
			Help:      "Total number of credential acquisitions by outcome",
		},
		[]string{"service", "outcome"},
	)

	c.acquireDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "acquire_duration_seconds",
			Help:      "Credential acquisition latency including throttle and deadline waits",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"service"},
	)

	c.throttleDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "throttle_pause_seconds",
			Help:      "Jitter pause applied before returning a credential",
			Buckets:   []float64{0.25, 0.5, 1, 1.5, 2, 3, 4},
		},
		[]string{"service"},
	)

	c.transitionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_transitions_total",
			Help:      "Credential state transitions",
		},
		[]string{"service", "to"},
	)

	c.persistErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Failed state flushes by operation",
		},
		[]string{"op"},
	)

	c.keysByState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "keys",
			Help:      "Number of credentials per service and state",
		},
		[]string{"service", "state"},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🔑 凭据池指标
// =============================================================================

func (c *Collector) ObserveAcquire(service, outcome string, d time.Duration) {
	c.acquireTotal.WithLabelValues(service, outcome).Inc()
	c.acquireDuration.WithLabelValues(service).Observe(d.Seconds())
}

func (c *Collector) ObserveThrottle(service string, d time.Duration) {
	c.throttleDuration.WithLabelValues(service).Observe(d.Seconds())
}

func (c *Collector) ObserveTransition(service string, to credential.State) {
	c.transitionsTotal.WithLabelValues(service, string(to)).Inc()
}

func (c *Collector) ObservePersistError(op string) {
	c.persistErrors.WithLabelValues(op).Inc()
	c.logger.Debug("persist error recorded", zap.String("op", op))
}

// ObserveHealth 用健康报告刷新按状态统计的 key 数
func (c *Collector) ObserveHealth(r credential.HealthReport) {
	c.keysByState.WithLabelValues(r.Service, string(credential.StateAvailable)).Set(float64(r.Active))
	c.keysByState.WithLabelValues(r.Service, string(credential.StateWaiting)).Set(float64(r.Waiting))
	c.keysByState.WithLabelValues(r.Service, string(credential.StateBlocked)).Set(float64(r.Blocked))
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
