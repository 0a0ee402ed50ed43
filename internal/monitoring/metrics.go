package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 会话指标
	SessionsCreated  prometheus.Counter
	SessionConflicts prometheus.Counter
	SessionsReleased prometheus.Counter
	SessionsSwept    prometheus.Counter
	SessionsActive   prometheus.Gauge

	// 导入指标
	SpoolRuns        prometheus.Counter
	MessagesImported prometheus.Counter
	MessagesDropped  prometheus.Counter
	ParseFailures    prometheus.Counter
	MessagesTotal    prometheus.Gauge
}

// NewMetrics 创建监控指标（promauto 自动注册到默认 Registry）。
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dropmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_session_conflicts_total",
			Help: "Total number of create attempts rejected because the address was taken",
		}),
		SessionsReleased: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_sessions_released_total",
			Help: "Total number of sessions released explicitly",
		}),
		SessionsSwept: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_sessions_swept_total",
			Help: "Total number of sessions removed by the expiry sweeper",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dropmail_sessions_active",
			Help: "Current number of stored sessions",
		}),
		SpoolRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_spool_runs_total",
			Help: "Total number of spool import passes",
		}),
		MessagesImported: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_messages_imported_total",
			Help: "Total number of messages imported from the spool",
		}),
		MessagesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_messages_dropped_total",
			Help: "Total number of spool records dropped (no active session or duplicate id)",
		}),
		ParseFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_parse_failures_total",
			Help: "Total number of spool records that failed to parse",
		}),
		MessagesTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dropmail_messages_total",
			Help: "Current number of stored messages",
		}),
	}
}

// HTTPHandler 返回 Prometheus 指标端点处理器。
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware 记录 HTTP 请求指标的 gin 中间件。
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.HTTPRequestDuration.WithLabelValues(
			c.Request.Method, endpoint,
		).Observe(time.Since(start).Seconds())
	}
}
