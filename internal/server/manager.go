package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/BaSui01/svdflow/config"
	"go.uber.org/zap"
)

// =============================================================================
// 🌐 HTTP 服务器管理器
// =============================================================================

// Manager HTTP 服务器管理器
type Manager struct {
	name     string
	server   *http.Server
	listener net.Listener
	errCh    chan error
	config   Config
	logger   *zap.Logger
	mu       sync.RWMutex
	closed   bool
}

// Config 服务器配置
type Config struct {
	// 监听地址，":0" 表示随机端口
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// 最大请求头大小
	MaxHeaderBytes int

	// 优雅关闭超时
	ShutdownTimeout time.Duration
}

// DefaultConfig 返回默认服务器配置
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: 30 * time.Second,
	}
}

// ConfigFrom 由服务配置派生监听配置，port 选择 HTTP 或指标端口
func ConfigFrom(cfg config.ServerConfig, port int) Config {
	c := DefaultConfig()
	c.Addr = fmt.Sprintf(":%d", port)
	if cfg.ReadTimeout > 0 {
		c.ReadTimeout = cfg.ReadTimeout
		c.IdleTimeout = 2 * cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		c.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.ShutdownTimeout > 0 {
		c.ShutdownTimeout = cfg.ShutdownTimeout
	}
	return c
}

// NewManager 创建服务器管理器，name 只用于日志
func NewManager(name string, handler http.Handler, config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		name: name,
		server: &http.Server{
			Addr:           config.Addr,
			Handler:        handler,
			ReadTimeout:    config.ReadTimeout,
			WriteTimeout:   config.WriteTimeout,
			IdleTimeout:    config.IdleTimeout,
			MaxHeaderBytes: config.MaxHeaderBytes,
		},
		errCh:  make(chan error, 1),
		config: config,
		logger: logger.With(zap.String("component", "http_server"), zap.String("server", name)),
	}
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Start 监听并在后台提供服务（非阻塞）
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("server %s is closed", m.name)
	}
	if m.listener != nil {
		return fmt.Errorf("server %s already started", m.name)
	}

	listener, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.Addr, err)
	}
	m.listener = listener
	m.logger.Info("starting HTTP server", zap.String("addr", listener.Addr().String()))

	go m.serve(listener)
	return nil
}

func (m *Manager) serve(listener net.Listener) {
	if err := m.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Error("HTTP server failed", zap.Error(err))
		select {
		case m.errCh <- err:
		default:
		}
	}
}

// Shutdown 在 ShutdownTimeout 内排空请求后关闭。重复调用是空操作。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()

	if err := m.server.Shutdown(shutdownCtx); err != nil {
		m.logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}
	m.logger.Info("HTTP server stopped")
	return nil
}

// Errors 返回服务异步退出的错误
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// =============================================================================
// 🛑 信号处理
// =============================================================================

// WaitForShutdown 阻塞直到收到 SIGINT/SIGTERM、ctx 结束或任一服务异常退出。
// 返回异常退出的错误；收到信号或 ctx 结束时返回 nil。不负责关闭服务。
func WaitForShutdown(ctx context.Context, logger *zap.Logger, managers ...*Manager) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	errs := make(chan error, len(managers))
	for _, m := range managers {
		go func(m *Manager) {
			select {
			case err := <-m.Errors():
				errs <- fmt.Errorf("server %s: %w", m.name, err)
			case <-ctx.Done():
			}
		}(m)
	}

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		return nil
	case <-ctx.Done():
		return nil
	case err := <-errs:
		logger.Error("server exited unexpectedly", zap.Error(err))
		return err
	}
}

// =============================================================================
// 🔧 辅助方法
// =============================================================================

// Addr 返回实际监听地址；未启动时返回配置地址
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}

// IsRunning 已启动且未关闭
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listener != nil && !m.closed
}
