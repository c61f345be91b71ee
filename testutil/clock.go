package testutil

import (
	"sync"
	"time"
)

// ManualClock 手动推进的时钟。After 立即把时间推进 d 并返回已就绪的通道，
// 轮询逻辑因此按“逻辑时间”运行，不真正睡眠。
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewManualClock 从固定时刻开始的时钟
func NewManualClock() *ManualClock {
	return &ManualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now 当前逻辑时间
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After 推进时间并立即触发
func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Advance 不经过 After 直接推进时间
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Sleeps 返回所有 After 调用的时长
func (c *ManualClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}
