package jobstore

import (
	"fmt"

	"github.com/BaSui01/svdflow/config"
	"github.com/BaSui01/svdflow/internal/database"
	"go.uber.org/zap"
)

// New 按 cfg.Type 创建台账
func New(cfg config.JobStoreConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Type {
	case "memory", "":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(cfg.Redis, logger)
	case "sql":
		pool, err := database.Open(cfg.SQL, database.DefaultPoolConfig(), logger)
		if err != nil {
			return nil, err
		}
		store, err := NewSQLStore(pool)
		if err != nil {
			_ = pool.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown jobstore type %q", cfg.Type)
	}
}
