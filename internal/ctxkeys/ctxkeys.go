// Package ctxkeys 集中定义跨包传递的 context 键
package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	jobIDKey     contextKey = "job_id"
)

// WithRequestID 设置 HTTP 请求 ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 获取 HTTP 请求 ID
func RequestID(ctx context.Context) (string, bool) {
	return get(ctx, requestIDKey)
}

// WithJobID 设置推理任务 ID
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// JobID 获取推理任务 ID
func JobID(ctx context.Context) (string, bool) {
	return get(ctx, jobIDKey)
}

func get(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
