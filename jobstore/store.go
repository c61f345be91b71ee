package jobstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/svdflow/invoker"
	"github.com/BaSui01/svdflow/storage"
)

// Status 任务在台账中的状态
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	// StatusError 本地处理出错（存储、解码、编码），远端结果可能仍然可用
	StatusError Status = "error"
)

// IsTerminal 是否为终态
func (s Status) IsTerminal() bool {
	return s != StatusSubmitted
}

// ParseStatus 解析状态名，大小写不敏感
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusSubmitted, StatusSucceeded, StatusFailed, StatusTimedOut, StatusError:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// ErrNotFound 任务不存在
var ErrNotFound = errors.New("job not found")

// Record 一条任务记录。提交成功后立即写入，保证进程重启后可以继续轮询。
type Record struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Status          Status        `json:"status"`
	InputLocation   string        `json:"input_location"`
	OutputLocation  string        `json:"output_location"`
	FailureLocation string        `json:"failure_location"`
	Timeout         time.Duration `json:"timeout"`
	ExpectedFrames  int           `json:"expected_frames"`
	FPS             int           `json:"fps"`
	Attempts        int           `json:"attempts"`
	Error           string        `json:"error,omitempty"`
	VideoPath       string        `json:"video_path,omitempty"`
	SubmittedAt     time.Time     `json:"submitted_at"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// NewRecord 由提交句柄创建记录
func NewRecord(title string, fps int, h *invoker.JobHandle) *Record {
	return &Record{
		ID:              h.InferenceID,
		Title:           title,
		Status:          StatusSubmitted,
		InputLocation:   h.InputLocation.String(),
		OutputLocation:  h.OutputLocation.String(),
		FailureLocation: h.FailureLocation.String(),
		Timeout:         h.Timeout,
		ExpectedFrames:  h.ExpectedFrames,
		FPS:             fps,
		SubmittedAt:     h.SubmittedAt,
	}
}

// Handle 重建轮询句柄
func (r *Record) Handle() (*invoker.JobHandle, error) {
	h, err := invoker.HandleFromLocations(r.OutputLocation, r.FailureLocation, r.Timeout)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", r.ID, err)
	}
	h.InferenceID = r.ID
	h.ExpectedFrames = r.ExpectedFrames
	h.SubmittedAt = r.SubmittedAt
	if r.InputLocation != "" {
		if in, err := storage.ParseLocation(r.InputLocation); err == nil {
			h.InputLocation = in
		}
	}
	return h, nil
}

// Filter 列表过滤条件
type Filter struct {
	Status []Status
	Title  string
	// Limit 为 0 表示不限制
	Limit int
}

func (f Filter) matches(r *Record) bool {
	if f.Title != "" && r.Title != f.Title {
		return false
	}
	if len(f.Status) > 0 && !slices.Contains(f.Status, r.Status) {
		return false
	}
	return true
}

// Store 任务台账
type Store interface {
	// Save 插入或覆盖，自动维护 CreatedAt/UpdatedAt
	Save(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	// List 按 CreatedAt 倒序
	List(ctx context.Context, f Filter) ([]*Record, error)
	Ping(ctx context.Context) error
	Close() error
}

func touch(r *Record, now time.Time) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
}

// sortAndLimit 新的在前，相同时间按 ID 稳定排序
func sortAndLimit(records []*Record, limit int) []*Record {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}

func validate(r *Record) error {
	if r == nil || r.ID == "" {
		return errors.New("job record requires an id")
	}
	return nil
}
