package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/svdflow/api/handlers"
	"github.com/BaSui01/svdflow/config"
	"github.com/BaSui01/svdflow/internal/metrics"
	"github.com/BaSui01/svdflow/internal/server"
)

// maxCreateBodyBytes POST /api/v1/jobs 请求体上限，内嵌图片的 base64 约为原图 4/3
const maxCreateBodyBytes = 8 << 20

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 svdflow 的 HTTP 服务
type Server struct {
	cfg        *config.Config
	configPath string
	level      zap.AtomicLevel
	logger     *zap.Logger

	app *app

	httpManager    *server.Manager
	metricsManager *server.Manager

	healthHandler *handlers.HealthHandler
	jobHandler    *handlers.JobHandler

	metricsCollector *metrics.Collector

	reloader *config.Reloader

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, level zap.AtomicLevel, logger *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		level:      level,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector("svdflow", s.logger)

	a, err := newApp(s.ctx, s.cfg, s.metricsCollector, s.logger)
	if err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}
	s.app = a

	s.initHandlers()

	if err := s.initReloader(); err != nil {
		return fmt.Errorf("failed to init config reloader: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 上次退出时仍在等待的任务
	if _, err := s.jobHandler.ResumePending(s.ctx); err != nil {
		s.logger.Warn("failed to resume pending jobs", zap.Error(err))
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.reloader != nil),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("jobstore", s.app.jobs.Ping))

	s.jobHandler = handlers.NewJobHandler(s.app.pipeline, s.app.jobs, handlers.JobHandlerConfig{
		MaxConcurrent: s.cfg.Pipeline.MaxConcurrentJobs,
		MaxBodyBytes:  maxCreateBodyBytes,
	}, s.logger)

	s.logger.Info("Handlers initialized")
}

// initReloader 只有指定了配置文件才启用热重载
func (s *Server) initReloader() error {
	if s.configPath == "" {
		return nil
	}
	r, err := config.NewReloader(s.cfg, config.NewLoader().WithConfigPath(s.configPath), s.logger)
	if err != nil {
		return err
	}
	r.OnReload(func(_, newConfig *config.Config, changes []config.ConfigChange) {
		for _, c := range changes {
			switch c.Path {
			case "Log.Level":
				s.level.SetLevel(parseLevel(newConfig.Log.Level))
			case "Pipeline.SubmitRate", "Pipeline.SubmitBurst":
				s.app.pipeline.SetSubmitRate(newConfig.Pipeline.SubmitRate, newConfig.Pipeline.SubmitBurst)
			}
		}
		s.logger.Info("Configuration reloaded", zap.Int("applied", len(changes)))
	})
	if err := r.Start(s.ctx); err != nil {
		return err
	}
	s.reloader = r
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(handlers.VersionInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}))

	s.jobHandler.Register(mux)

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
	)

	s.httpManager = server.NewManager("http", handler, server.ConfigFrom(s.cfg.Server, s.cfg.Server.HTTPPort), s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.String("addr", s.httpManager.Addr()))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager("metrics", mux, server.ConfigFrom(s.cfg.Server, s.cfg.Server.MetricsPort), s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.String("addr", s.metricsManager.Addr()))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	managers := []*server.Manager{s.httpManager, s.metricsManager}
	if err := server.WaitForShutdown(s.ctx, s.logger, managers...); err != nil {
		s.logger.Error("shutting down after server error", zap.Error(err))
	}
	s.Shutdown()
}

// Shutdown 优雅关闭：停止接收请求 → 中断后台等待 → 关闭台账
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.reloader != nil {
		if err := s.reloader.Stop(); err != nil {
			s.logger.Error("Config reloader shutdown error", zap.Error(err))
		}
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 被中断的任务保持 submitted，下次启动继续
	if s.jobHandler != nil {
		if err := s.jobHandler.Close(ctx); err != nil {
			s.logger.Error("Job workers did not stop in time", zap.Error(err))
		}
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	s.cancel()

	if s.app != nil {
		if err := s.app.Close(); err != nil {
			s.logger.Error("Job store close error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
