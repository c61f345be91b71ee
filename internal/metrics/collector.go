// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 提交与轮询指标
	submissionsTotal *prometheus.CounterVec
	pollAttempts     *prometheus.CounterVec
	jobOutcomes      *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobsInFlight     prometheus.Gauge

	// 视频指标
	framesDecoded  prometheus.Counter
	encodeDuration *prometheus.HistogramVec

	// 存储指标
	storageOps *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 提交与轮询指标
	c.submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of async inference submissions",
		},
		[]string{"status"},
	)

	c.pollAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_attempts_total",
			Help:      "Total number of result/failure location probes",
		},
		[]string{"result"}, // result: pending, succeeded, failed, error
	)

	c.jobOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_outcomes_total",
			Help:      "Terminal job outcomes",
		},
		[]string{"outcome"},
	)

	c.jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from submission to terminal outcome",
			Buckets:   []float64{15, 30, 60, 120, 300, 600, 1200, 2400, 3600},
		},
		[]string{"outcome"},
	)

	c.jobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Number of jobs submitted and not yet terminal",
		},
	)

	// 视频指标
	c.framesDecoded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decoded_total",
			Help:      "Total number of frames decoded from results",
		},
	)

	c.encodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "video_encode_duration_seconds",
			Help:      "Video encode duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"encoder", "status"},
	)

	// 存储指标
	c.storageOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Total number of object store operations",
		},
		[]string{"operation", "status"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🚀 任务指标记录
// =============================================================================

// RecordSubmission 记录一次提交，成功时在途任务数加一
func (c *Collector) RecordSubmission(err error) {
	if err != nil {
		c.submissionsTotal.WithLabelValues("error").Inc()
		return
	}
	c.submissionsTotal.WithLabelValues("ok").Inc()
	c.jobsInFlight.Inc()
}

// RecordResume 恢复一个已提交的任务，在途任务数加一
func (c *Collector) RecordResume() {
	c.jobsInFlight.Inc()
}

// RecordPollAttempt 记录一次探测结果
func (c *Collector) RecordPollAttempt(result string) {
	c.pollAttempts.WithLabelValues(result).Inc()
}

// RecordJobOutcome 记录终态，在途任务数减一
func (c *Collector) RecordJobOutcome(outcome string, elapsed time.Duration) {
	c.jobOutcomes.WithLabelValues(outcome).Inc()
	c.jobDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	c.jobsInFlight.Dec()
}

// =============================================================================
// 🎞️ 视频指标记录
// =============================================================================

// RecordFramesDecoded 记录解码帧数
func (c *Collector) RecordFramesDecoded(n int) {
	c.framesDecoded.Add(float64(n))
}

// RecordEncode 记录一次视频编码
func (c *Collector) RecordEncode(encoder string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.encodeDuration.WithLabelValues(encoder, status).Observe(duration.Seconds())
}

// =============================================================================
// 🗄️ 存储指标记录
// =============================================================================

// RecordStorageOp 记录对象存储操作
func (c *Collector) RecordStorageOp(operation, status string) {
	c.storageOps.WithLabelValues(operation, status).Inc()
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
