package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/svdflow/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	"go.uber.org/zap"
)

// ErrNotFound 对象不存在。只有这一种读取失败允许轮询继续。
var ErrNotFound = errors.New("storage: object not found")

// IsNotFound 判断错误链中是否包含 ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ObjectStore 无状态的对象存储网关
type ObjectStore interface {
	// Put 写入 key 并返回完整位置
	Put(ctx context.Context, key string, data []byte, contentType string) (Location, error)
	// Get 读取位置上的对象；对象不存在时返回包装了 ErrNotFound 的错误
	Get(ctx context.Context, loc Location) ([]byte, error)
}

// OpRecorder 记录存储操作，*metrics.Collector 实现了该接口
type OpRecorder interface {
	RecordStorageOp(operation, status string)
}

// =============================================================================
// 📈 带指标的包装
// =============================================================================

type instrumentedStore struct {
	inner ObjectStore
	rec   OpRecorder
}

// Instrument 为 store 增加按操作与结果分组的计数
func Instrument(store ObjectStore, rec OpRecorder) ObjectStore {
	if rec == nil {
		return store
	}
	return &instrumentedStore{inner: store, rec: rec}
}

func (s *instrumentedStore) Put(ctx context.Context, key string, data []byte, contentType string) (Location, error) {
	loc, err := s.inner.Put(ctx, key, data, contentType)
	s.rec.RecordStorageOp("put", opStatus(err))
	return loc, err
}

func (s *instrumentedStore) Get(ctx context.Context, loc Location) ([]byte, error) {
	data, err := s.inner.Get(ctx, loc)
	s.rec.RecordStorageOp("get", opStatus(err))
	return data, err
}

func opStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}

// =============================================================================
// 🏭 工厂
// =============================================================================

// New 按 cfg.Storage.Type 创建对象存储。awsCfg 只在 s3 后端使用。
func New(cfg *config.Config, awsCfg aws.Config, logger *zap.Logger) (ObjectStore, error) {
	switch cfg.Storage.Type {
	case "s3":
		return NewS3StoreFromConfig(awsCfg, cfg.AWS, logger), nil
	case "file":
		bucket := cfg.AWS.Bucket
		if bucket == "" {
			bucket = "local"
		}
		return NewFileStore(cfg.Storage.Root, bucket, logger)
	case "memory":
		bucket := cfg.AWS.Bucket
		if bucket == "" {
			bucket = "memory"
		}
		return NewMemoryStore(bucket), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}
