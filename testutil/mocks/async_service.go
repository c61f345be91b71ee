// Package mocks 提供异步推理服务的测试模拟实现。
//
// AsyncService 同时扮演对象存储与提交器：提交时读取已上传的请求，
// 在结果或失败位置被探测到指定次数时写入对应对象，模拟远端服务的延迟完成。
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/svdflow/invoker"
	"github.com/BaSui01/svdflow/payload"
	"github.com/BaSui01/svdflow/storage"
	"github.com/BaSui01/svdflow/testutil/fixtures"
)

// Behavior 单个任务的模拟行为
type Behavior struct {
	// SucceedOnProbe 第 N 次读取结果位置前写入结果，0 表示从不成功
	SucceedOnProbe int
	// FailOnProbe 第 N 次读取失败位置前写入失败记录，0 表示从不失败
	FailOnProbe int
	// FailurePayload 失败记录内容
	FailurePayload []byte
	// Frames 覆盖结果帧数，0 时使用请求中的 num_frames
	Frames int
	// SubmitErr 非空时提交直接失败
	SubmitErr error
}

type mockJob struct {
	req        *payload.Request
	behavior   Behavior
	handle     *invoker.JobHandle
	outProbes  int
	failProbes int
}

// AsyncService 模拟的异步推理服务
type AsyncService struct {
	mu      sync.Mutex
	store   *storage.MemoryStore
	behave  func(*payload.Request) Behavior
	byOut   map[string]*mockJob
	byFail  map[string]*mockJob
	order   []*mockJob
	counter int
}

// NewAsyncService 创建模拟服务；behave 为 nil 时所有任务在第一次探测时成功
func NewAsyncService(bucket string, behave func(*payload.Request) Behavior) *AsyncService {
	if behave == nil {
		behave = func(*payload.Request) Behavior { return Behavior{SucceedOnProbe: 1} }
	}
	return &AsyncService{
		store:  storage.NewMemoryStore(bucket),
		behave: behave,
		byOut:  make(map[string]*mockJob),
		byFail: make(map[string]*mockJob),
	}
}

// Store 底层内存存储
func (s *AsyncService) Store() *storage.MemoryStore { return s.store }

// Put 写入对象
func (s *AsyncService) Put(ctx context.Context, key string, data []byte, contentType string) (storage.Location, error) {
	return s.store.Put(ctx, key, data, contentType)
}

// Get 读取对象，按脚本在读取前写入结果或失败记录
func (s *AsyncService) Get(ctx context.Context, loc storage.Location) ([]byte, error) {
	s.mu.Lock()
	if job, ok := s.byOut[loc.String()]; ok {
		job.outProbes++
		if job.behavior.SucceedOnProbe > 0 && job.outProbes == job.behavior.SucceedOnProbe {
			s.store.Set(loc, s.resultFor(job))
		}
	}
	if job, ok := s.byFail[loc.String()]; ok {
		job.failProbes++
		if job.behavior.FailOnProbe > 0 && job.failProbes == job.behavior.FailOnProbe {
			body := job.behavior.FailurePayload
			if body == nil {
				body = []byte(`{"message":"CUDA out of memory"}`)
			}
			s.store.Set(loc, body)
		}
	}
	s.mu.Unlock()

	return s.store.Get(ctx, loc)
}

// Submit 读取上传的请求并登记任务
func (s *AsyncService) Submit(ctx context.Context, input storage.Location, timeout time.Duration) (*invoker.JobHandle, error) {
	data, err := s.store.Get(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("mock service: read input: %w", err)
	}
	req, err := payload.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	behavior := s.behave(req)
	if behavior.SubmitErr != nil {
		return nil, behavior.SubmitErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id := fmt.Sprintf("mock-%03d", s.counter)
	handle := &invoker.JobHandle{
		InferenceID:     id,
		InputLocation:   input,
		OutputLocation:  storage.Location{Bucket: s.store.Bucket(), Key: "async_inference/output/" + id + ".out"},
		FailureLocation: storage.Location{Bucket: s.store.Bucket(), Key: "async_inference/failure/" + id + "-error.out"},
		Timeout:         invoker.ClampTimeout(timeout),
		SubmittedAt:     time.Now(),
	}
	job := &mockJob{req: req, behavior: behavior, handle: handle}
	s.byOut[handle.OutputLocation.String()] = job
	s.byFail[handle.FailureLocation.String()] = job
	s.order = append(s.order, job)
	return handle, nil
}

// Submissions 按提交顺序返回请求
func (s *AsyncService) Submissions() []*payload.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*payload.Request, len(s.order))
	for i, j := range s.order {
		out[i] = j.req
	}
	return out
}

// OutputProbes 返回第 i 个任务结果位置被读取的次数
func (s *AsyncService) OutputProbes(i int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order[i].outProbes
}

func (s *AsyncService) resultFor(job *mockJob) []byte {
	n := job.behavior.Frames
	if n == 0 {
		n = job.req.NumFrames
	}
	res := &payload.Result{
		Frames: fixtures.EncodedFrames(n, 16, 16),
		Config: job.req.EchoConfig(),
	}
	data, err := res.Marshal()
	if err != nil {
		panic(err)
	}
	return data
}
