package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore 并发安全的内存对象存储，用于测试与 dry-run
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string][]byte
	// 按位置注入的读取错误
	getErrs map[string]error
}

// NewMemoryStore 创建内存存储
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string][]byte),
		getErrs: make(map[string]error),
	}
}

// Bucket 返回写入使用的桶
func (m *MemoryStore) Bucket() string { return m.bucket }

// Put 写入对象（保存副本）
func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, _ string) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}
	loc := Location{Bucket: m.bucket, Key: key}
	m.Set(loc, data)
	return loc, nil
}

// Set 直接在任意位置写入对象，模拟远端服务写结果
func (m *MemoryStore) Set(loc Location, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	m.objects[loc.String()] = buf
	m.mu.Unlock()
}

// FailGet 让该位置的读取返回 err，传 nil 清除
func (m *MemoryStore) FailGet(loc Location, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.getErrs, loc.String())
		return
	}
	m.getErrs[loc.String()] = err
}

// Get 读取对象副本
func (m *MemoryStore) Get(ctx context.Context, loc Location) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err, ok := m.getErrs[loc.String()]; ok {
		return nil, fmt.Errorf("get %s: %w", loc, err)
	}
	data, ok := m.objects[loc.String()]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", loc, ErrNotFound)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// Len 返回对象数量
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
