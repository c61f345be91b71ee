package poller

import "time"

// Clock 轮询使用的时间源，测试中替换为手动时钟
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock 返回系统时钟
func RealClock() Clock { return realClock{} }
