package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger  *zap.Logger
	checks  []HealthCheck
	timeout time.Duration
	mu      sync.RWMutex
}

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // "pass", "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// VersionInfo /version 响应
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger.With(zap.String("component", "health")),
		timeout: 5 * time.Second,
	}
}

// RegisterCheck 注册健康检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 与 /healthz，只表示进程存活
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// HandleReady 处理 /ready，逐个执行已注册的检查
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}

	allHealthy := true
	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		result := CheckResult{
			Status:  "pass",
			Latency: latency.String(),
		}
		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			allHealthy = false

			h.logger.Warn("health check failed",
				zap.String("check", check.Name()),
				zap.Error(err),
				zap.Duration("latency", latency),
			)
		}
		status.Checks[check.Name()] = result
	}

	if !allHealthy {
		status.Status = "unhealthy"
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// HandleVersion 处理 /version
func (h *HealthHandler) HandleVersion(info VersionInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteData(w, r, http.StatusOK, info)
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// PingCheck 以一个 ping 函数实现 HealthCheck，台账、对象存储共用
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建 ping 检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }
