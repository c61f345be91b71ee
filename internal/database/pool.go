package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BaSui01/svdflow/config"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// =============================================================================
// 🗄️ 数据库连接池管理器
// =============================================================================

// PoolManager 持有 GORM 实例与底层 sql.DB
type PoolManager struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	driver string
	config PoolConfig
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`

	// 健康检查间隔，0 表示不检查
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultPoolConfig 返回默认连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        5,
		MaxOpenConns:        20,
		ConnMaxLifetime:     time.Hour,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Dialector 按驱动名构造 GORM 方言
func Dialector(cfg config.SQLConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite", "":
		if cfg.DSN != ":memory:" && cfg.DSN != "" {
			if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		return sqlite.Open(cfg.DSN), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres, mysql)", cfg.Driver)
	}
}

// Open 连接数据库并配置连接池。
// sqlite 固定单连接，保证 ":memory:" 库在所有查询间共享。
func Open(cfg config.SQLConfig, pool PoolConfig, logger *zap.Logger) (*PoolManager, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	if cfg.Driver == "sqlite" || cfg.Driver == "" {
		pool.MaxOpenConns = 1
		pool.MaxIdleConns = 1
	}
	pm, err := NewPoolManager(db, pool, logger)
	if err != nil {
		return nil, err
	}
	pm.driver = cfg.Driver
	return pm, nil
}

// NewPoolManager 包装已打开的 GORM 实例
func NewPoolManager(db *gorm.DB, config PoolConfig, logger *zap.Logger) (*PoolManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)

	pm := &PoolManager{
		db:     db,
		sqlDB:  sqlDB,
		config: config,
		logger: logger.With(zap.String("component", "db_pool")),
		stop:   make(chan struct{}),
	}

	if config.HealthCheckInterval > 0 {
		go pm.healthCheckLoop()
	}

	pm.logger.Info("database pool initialized",
		zap.Int("max_idle_conns", config.MaxIdleConns),
		zap.Int("max_open_conns", config.MaxOpenConns),
	)

	return pm, nil
}

// DB 返回 GORM 实例
func (pm *PoolManager) DB() *gorm.DB {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.db
}

// Driver 驱动名
func (pm *PoolManager) Driver() string { return pm.driver }

// Ping 检查数据库连接
func (pm *PoolManager) Ping(ctx context.Context) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if pm.closed {
		return fmt.Errorf("pool is closed")
	}
	return pm.sqlDB.PingContext(ctx)
}

// Stats 连接池统计
func (pm *PoolManager) Stats() sql.DBStats {
	return pm.sqlDB.Stats()
}

// Close 关闭连接池，可重复调用
func (pm *PoolManager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return nil
	}
	pm.closed = true
	close(pm.stop)
	pm.logger.Info("closing database pool")
	return pm.sqlDB.Close()
}

// WithTransaction 在事务中执行 fn
func (pm *PoolManager) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	pm.mu.RLock()
	if pm.closed {
		pm.mu.RUnlock()
		return fmt.Errorf("pool is closed")
	}
	db := pm.db
	pm.mu.RUnlock()

	return db.WithContext(ctx).Transaction(fn)
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (pm *PoolManager) healthCheckLoop() {
	ticker := time.NewTicker(pm.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := pm.Ping(ctx); err != nil {
			pm.logger.Error("database health check failed", zap.Error(err))
		} else {
			stats := pm.Stats()
			pm.logger.Debug("database health check passed",
				zap.Int("open_connections", stats.OpenConnections),
				zap.Int("in_use", stats.InUse),
			)
		}
		cancel()
	}
}
