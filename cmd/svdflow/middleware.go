package main

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/BaSui01/svdflow/api/handlers"
	"github.com/BaSui01/svdflow/internal/ctxkeys"
	"github.com/BaSui01/svdflow/internal/metrics"
	"github.com/BaSui01/svdflow/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Middleware 类型定义
type Middleware func(http.Handler) http.Handler

// Chain 将多个中间件串联，第一个在最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Recovery panic 恢复中间件
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					handlers.WriteErrorMessage(w, r, http.StatusInternalServerError,
						types.ErrInternalError, "internal server error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID 为每个请求分配 X-Request-ID 并写入 context；客户端已提供时沿用
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = "req-" + uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(ctxkeys.WithRequestID(r.Context(), id)))
		})
	}
}

// RequestLogger 请求日志中间件
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)
			id, _ := ctxkeys.RequestID(r.Context())
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.StatusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("request_id", id),
			)
		})
	}
}

// =============================================================================
// MetricsMiddleware
// =============================================================================

// MetricsMiddleware 通过 Collector 记录请求耗时、状态码与响应大小。
// 路径中的任务 ID 归一化为 :id，避免标签基数膨胀。
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)
			collector.RecordHTTPRequest(r.Method, normalizePath(r.URL.Path), rw.StatusCode,
				time.Since(start), rw.BytesWritten)
		})
	}
}

// pathSegmentPattern 匹配 UUID、8 位以上十六进制串与纯数字
var pathSegmentPattern = regexp.MustCompile(
	`^[0-9a-fA-F]{8,}(-[0-9a-fA-F]{4,}){0,4}$|^[0-9]+$`,
)

// normalizePath 把动态段替换为 :id
//
//	/api/v1/jobs/0b6f...  -> /api/v1/jobs/:id
//	/api/v1/jobs          -> /api/v1/jobs
func normalizePath(path string) string {
	switch path {
	case "/health", "/healthz", "/ready", "/readyz", "/version", "/metrics", "/api/v1/jobs":
		return path
	}

	segments := strings.Split(path, "/")
	normalized := false
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if pathSegmentPattern.MatchString(seg) {
			segments[i] = ":id"
			normalized = true
		}
	}
	if !normalized {
		return path
	}
	return strings.Join(segments, "/")
}

// OTelTracing 为每个请求创建服务端 span，并从请求头提取上游 trace context
func OTelTracing() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := otel.Tracer("svdflow/http").Start(ctx, r.Method+" "+normalizePath(r.URL.Path),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
				),
			)
			defer span.End()

			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))
			span.SetAttributes(attribute.Int("http.response.status_code", rw.StatusCode))
		})
	}
}
