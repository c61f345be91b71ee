// 配置热重载实现。
//
// 监听配置文件，重新加载并校验后比较新旧配置；只有登记为可热重载的字段
// 会被回调方应用，其余变更记录为需要重启。
package config

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 热重载类型定义 ---

// ConfigChange 一个字段的变更
type ConfigChange struct {
	Timestamp time.Time `json:"timestamp"`
	// Path 字段路径，例如 "Log.Level"
	Path            string `json:"path"`
	OldValue        any    `json:"old_value,omitempty"`
	NewValue        any    `json:"new_value,omitempty"`
	RequiresRestart bool   `json:"requires_restart"`
}

// ReloadCallback 新配置生效后调用，changes 只包含可热重载字段
type ReloadCallback func(oldConfig, newConfig *Config, changes []ConfigChange)

// HotReloadableField 可热重载字段说明
type HotReloadableField struct {
	Path        string
	Description string
}

// hotReloadableFields 不需要重启即可生效的字段
var hotReloadableFields = map[string]HotReloadableField{
	"Log.Level": {
		Path:        "Log.Level",
		Description: "Log level (debug, info, warn, error)",
	},
	"Pipeline.SubmitRate": {
		Path:        "Pipeline.SubmitRate",
		Description: "Submissions per second, 0 disables the limit",
	},
	"Pipeline.SubmitBurst": {
		Path:        "Pipeline.SubmitBurst",
		Description: "Submission burst size",
	},
}

// sensitiveFields 日志中不输出取值
var sensitiveFields = map[string]bool{
	"JobStore.Redis.Password": true,
	"JobStore.SQL.DSN":        true,
}

// IsHotReloadable 字段是否可以热重载
func IsHotReloadable(path string) bool {
	_, ok := hotReloadableFields[path]
	return ok
}

// HotReloadableFields 返回可热重载字段的副本
func HotReloadableFields() map[string]HotReloadableField {
	out := make(map[string]HotReloadableField, len(hotReloadableFields))
	for k, v := range hotReloadableFields {
		out[k] = v
	}
	return out
}

// --- Reloader ---

// Reloader 管理配置热重载
type Reloader struct {
	mu sync.RWMutex

	current   *Config
	loader    *Loader
	watcher   *FileWatcher
	callbacks []ReloadCallback
	changeLog []ConfigChange
	maxLog    int
	logger    *zap.Logger
}

// NewReloader 以已加载的配置为起点；loader 必须带配置文件路径
func NewReloader(current *Config, loader *Loader, logger *zap.Logger) (*Reloader, error) {
	if loader == nil || loader.configPath == "" {
		return nil, fmt.Errorf("hot reload requires a config file path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reloader{
		current: current,
		loader:  loader,
		maxLog:  100,
		logger:  logger.With(zap.String("component", "config_reloader")),
	}, nil
}

// OnReload 注册重载回调
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Current 当前生效的配置
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// ChangeLog 最近的变更记录，最新的在后
func (r *Reloader) ChangeLog() []ConfigChange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConfigChange, len(r.changeLog))
	copy(out, r.changeLog)
	return out
}

// Reload 重新加载配置文件。加载或校验失败时保留旧配置。
// 返回全部变更（含需要重启的字段）。
func (r *Reloader) Reload() ([]ConfigChange, error) {
	next, err := r.loader.Load()
	if err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	prev := r.current
	changes := DiffConfig(prev, next)
	if len(changes) == 0 {
		r.mu.Unlock()
		return nil, nil
	}
	r.current = next
	r.changeLog = append(r.changeLog, changes...)
	if over := len(r.changeLog) - r.maxLog; over > 0 {
		r.changeLog = r.changeLog[over:]
	}
	callbacks := make([]ReloadCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	var applied []ConfigChange
	for _, c := range changes {
		r.logChange(c)
		if !c.RequiresRestart {
			applied = append(applied, c)
		}
	}
	if len(applied) > 0 {
		for _, cb := range callbacks {
			cb(prev, next, applied)
		}
	}
	return changes, nil
}

// Start 开始监听配置文件
func (r *Reloader) Start(ctx context.Context, opts ...WatcherOption) error {
	opts = append([]WatcherOption{WithWatcherLogger(r.logger)}, opts...)
	w, err := NewFileWatcher(r.loader.configPath, opts...)
	if err != nil {
		return err
	}
	w.OnChange(func(evt FileEvent) {
		if evt.Op == FileOpRemove {
			r.logger.Warn("config file removed, keeping current config", zap.String("path", evt.Path))
			return
		}
		if _, err := r.Reload(); err != nil {
			r.logger.Error("config reload failed, keeping current config", zap.Error(err))
		}
	})

	r.mu.Lock()
	r.watcher = w
	r.mu.Unlock()
	return w.Start(ctx)
}

// Stop 停止监听
func (r *Reloader) Stop() error {
	r.mu.RLock()
	w := r.watcher
	r.mu.RUnlock()
	if w == nil {
		return nil
	}
	return w.Stop()
}

func (r *Reloader) logChange(c ConfigChange) {
	fields := []zap.Field{
		zap.String("path", c.Path),
		zap.Bool("requires_restart", c.RequiresRestart),
	}
	if !sensitiveFields[c.Path] {
		fields = append(fields, zap.Any("old_value", c.OldValue), zap.Any("new_value", c.NewValue))
	}
	if c.RequiresRestart {
		r.logger.Warn("configuration changed, restart required", fields...)
		return
	}
	r.logger.Info("configuration changed", fields...)
}

// --- 差异比较 ---

// DiffConfig 递归比较两份配置的导出字段
func DiffConfig(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange
	compareStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), time.Now(), &changes)
	return changes
}

func compareStructs(prefix string, oldVal, newVal reflect.Value, now time.Time, changes *[]ConfigChange) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		path := field.Name
		if prefix != "" {
			path = prefix + "." + field.Name
		}

		oldField, newField := oldVal.Field(i), newVal.Field(i)
		if oldField.Kind() == reflect.Struct {
			compareStructs(path, oldField, newField, now, changes)
			continue
		}
		if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			*changes = append(*changes, ConfigChange{
				Timestamp:       now,
				Path:            path,
				OldValue:        oldField.Interface(),
				NewValue:        newField.Interface(),
				RequiresRestart: !IsHotReloadable(path),
			})
		}
	}
}
