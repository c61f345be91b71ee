package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/svdflow/config"
	"github.com/BaSui01/svdflow/internal/tlsutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore Redis 台账：记录以 JSON 存在 {prefix}job:{id}，
// {prefix}jobs 有序集合按创建时间索引，{prefix}jobs:status:{status} 按状态索引。
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisStore 连接 Redis 并检查可用性
func NewRedisStore(cfg config.RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	if cfg.TLS {
		opts.TLSConfig = tlsutil.RedisConfig(cfg.Addr)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStoreFromClient(client, cfg.KeyPrefix, logger), nil
}

// NewRedisStoreFromClient 使用已有客户端
func NewRedisStoreFromClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "svdflow:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("component", "jobstore_redis")),
		now:    time.Now,
	}
}

func (s *RedisStore) jobKey(id string) string { return s.prefix + "job:" + id }
func (s *RedisStore) allKey() string          { return s.prefix + "jobs" }
func (s *RedisStore) statusKey(st Status) string {
	return s.prefix + "jobs:status:" + string(st)
}

// Save 写入记录并维护索引
func (s *RedisStore) Save(ctx context.Context, r *Record) error {
	if err := validate(r); err != nil {
		return err
	}

	old, err := s.Get(ctx, r.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if old != nil && r.CreatedAt.IsZero() {
		r.CreatedAt = old.CreatedAt
	}
	touch(r, s.now())

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	score := float64(r.CreatedAt.UnixNano())
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.jobKey(r.ID), data, 0)
	pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: score, Member: r.ID})
	if old != nil && old.Status != r.Status {
		pipe.ZRem(ctx, s.statusKey(old.Status), r.ID)
	}
	pipe.ZAdd(ctx, s.statusKey(r.Status), redis.Z{Score: score, Member: r.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("save job failed", zap.String("job_id", r.ID), zap.Error(err))
		return fmt.Errorf("save job %s: %w", r.ID, err)
	}
	return nil
}

// Get 读取记录
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.client.Get(ctx, s.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &r, nil
}

// List 单状态过滤时走状态索引，否则扫描全量索引
func (s *RedisStore) List(ctx context.Context, f Filter) ([]*Record, error) {
	index := s.allKey()
	if len(f.Status) == 1 {
		index = s.statusKey(f.Status[0])
	}
	ids, err := s.client.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		r, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if f.matches(r) {
			out = append(out, r)
		}
	}
	return sortAndLimit(out, f.Limit), nil
}

// Ping 检查连接
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close 关闭客户端
func (s *RedisStore) Close() error {
	return s.client.Close()
}
