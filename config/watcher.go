// 配置文件变更监听器实现。
//
// 按修改时间轮询，合并短时间内的多次写入后触发回调。
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileOp 文件变更类型
type FileOp int

const (
	// FileOpCreate 表示文件已创建
	FileOpCreate FileOp = iota
	// FileOpWrite 指示文件已被修改
	FileOpWrite
	// FileOpRemove 表示文件已被删除
	FileOpRemove
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent 一次文件变更
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// FileWatcher 监听单个配置文件
type FileWatcher struct {
	mu sync.Mutex

	path          string
	pollInterval  time.Duration
	debounceDelay time.Duration
	lastMod       time.Time
	exists        bool

	callbacks []func(FileEvent)
	running   bool
	stop      chan struct{}
	done      chan struct{}
	logger    *zap.Logger
}

// --- 文件监听器选项 ---

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) { w.pollInterval = d }
}

// WithDebounceDelay 设置合并窗口
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) { w.debounceDelay = d }
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) { w.logger = logger }
}

// --- 文件监听器实现 ---

// NewFileWatcher 创建监听器。文件可以暂不存在，创建后会收到 FileOpCreate。
func NewFileWatcher(path string, opts ...WatcherOption) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	w := &FileWatcher{
		path:          abs,
		pollInterval:  time.Second,
		debounceDelay: 100 * time.Millisecond,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))

	if info, err := os.Stat(abs); err == nil {
		w.lastMod, w.exists = info.ModTime(), true
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat path %s: %w", abs, err)
	}
	return w, nil
}

// Path 被监听的绝对路径
func (w *FileWatcher) Path() string { return w.path }

// OnChange registers a callback for file change events
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start 启动轮询 goroutine，ctx 结束或 Stop 时退出
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	go w.loop(ctx, w.stop, w.done)
	w.logger.Info("file watcher started",
		zap.String("path", w.path),
		zap.Duration("poll_interval", w.pollInterval))
	return nil
}

// Stop 停止监听并等待 goroutine 退出
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stop)
	done := w.done
	w.mu.Unlock()

	<-done
	w.logger.Info("file watcher stopped")
	return nil
}

// IsRunning returns whether the watcher is running
func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *FileWatcher) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var (
		pending *FileEvent
		fire    <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if evt, ok := w.check(); ok {
				// 合并窗口内只保留最后一次事件
				pending = &evt
				fire = time.After(w.debounceDelay)
			}
		case <-fire:
			fire = nil
			if pending != nil {
				w.dispatch(*pending)
				pending = nil
			}
		}
	}
}

func (w *FileWatcher) check() (FileEvent, bool) {
	now := time.Now()
	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) && w.exists {
			w.exists = false
			return FileEvent{Path: w.path, Op: FileOpRemove, Timestamp: now}, true
		}
		return FileEvent{}, false
	}
	if !w.exists {
		w.exists, w.lastMod = true, info.ModTime()
		return FileEvent{Path: w.path, Op: FileOpCreate, Timestamp: now}, true
	}
	if info.ModTime().After(w.lastMod) {
		w.lastMod = info.ModTime()
		return FileEvent{Path: w.path, Op: FileOpWrite, Timestamp: now}, true
	}
	return FileEvent{}, false
}

func (w *FileWatcher) dispatch(evt FileEvent) {
	w.mu.Lock()
	callbacks := make([]func(FileEvent), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Debug("dispatching file event", zap.String("op", evt.Op.String()))
	for _, cb := range callbacks {
		cb(evt)
	}
}
