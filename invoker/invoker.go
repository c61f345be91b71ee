package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/svdflow/storage"
)

// 服务允许的调用超时范围
const (
	MinInvocationTimeout = time.Second
	MaxInvocationTimeout = time.Hour
)

// JobHandle 提交后得到的任务句柄。结果与失败位置在提交时就已确定。
type JobHandle struct {
	InferenceID     string           `json:"inference_id"`
	InputLocation   storage.Location `json:"input_location"`
	OutputLocation  storage.Location `json:"output_location"`
	FailureLocation storage.Location `json:"failure_location"`
	Timeout         time.Duration    `json:"timeout"`
	// ExpectedFrames 为 0 时以结果里回显的 num_frames 为准
	ExpectedFrames int       `json:"expected_frames,omitempty"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// String 便于日志输出
func (h *JobHandle) String() string {
	b, _ := json.Marshal(h)
	return string(b)
}

// Submitter 异步提交任务，立即返回句柄，不等待完成
type Submitter interface {
	Submit(ctx context.Context, input storage.Location, timeout time.Duration) (*JobHandle, error)
}

// ClampTimeout 把超时限制在服务允许范围内
func ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d < MinInvocationTimeout:
		return MinInvocationTimeout
	case d > MaxInvocationTimeout:
		return MaxInvocationTimeout
	default:
		return d
	}
}

// HandleFromLocations 由持久化的位置字符串重建句柄，用于重启后继续轮询
func HandleFromLocations(output, failure string, timeout time.Duration) (*JobHandle, error) {
	out, err := storage.ParseLocation(output)
	if err != nil {
		return nil, fmt.Errorf("output location: %w", err)
	}
	fail, err := storage.ParseLocation(failure)
	if err != nil {
		return nil, fmt.Errorf("failure location: %w", err)
	}
	return &JobHandle{
		OutputLocation:  out,
		FailureLocation: fail,
		Timeout:         timeout,
	}, nil
}
