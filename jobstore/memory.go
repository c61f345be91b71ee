package jobstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore 进程内台账
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

// NewMemoryStore 创建内存台账
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record), now: time.Now}
}

// Save 保存副本
func (s *MemoryStore) Save(_ context.Context, r *Record) error {
	if err := validate(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.records[r.ID]; ok && r.CreatedAt.IsZero() {
		r.CreatedAt = old.CreatedAt
	}
	touch(r, s.now())
	s.records[r.ID] = *r
	return nil
}

// Get 返回副本
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

// List 过滤并排序
func (s *MemoryStore) List(_ context.Context, f Filter) ([]*Record, error) {
	s.mu.RLock()
	out := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		if f.matches(&r) {
			r := r
			out = append(out, &r)
		}
	}
	s.mu.RUnlock()
	return sortAndLimit(out, f.Limit), nil
}

// Ping 总是成功
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close 无操作
func (s *MemoryStore) Close() error { return nil }
