package invoker

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/svdflow/storage"
	"github.com/BaSui01/svdflow/types"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SageMakerAPI 是 SageMakerSubmitter 用到的 *sagemakerruntime.Client 方法子集
type SageMakerAPI interface {
	InvokeEndpointAsync(ctx context.Context, params *sagemakerruntime.InvokeEndpointAsyncInput, optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointAsyncOutput, error)
}

// SageMakerSubmitter 通过 InvokeEndpointAsync 提交任务
type SageMakerSubmitter struct {
	client       SageMakerAPI
	endpointName string
	contentType  string
	now          func() time.Time
	logger       *zap.Logger
}

// NewSageMakerSubmitter 创建提交器
func NewSageMakerSubmitter(client SageMakerAPI, endpointName, contentType string, logger *zap.Logger) *SageMakerSubmitter {
	if contentType == "" {
		contentType = "application/json"
	}
	return &SageMakerSubmitter{
		client:       client,
		endpointName: endpointName,
		contentType:  contentType,
		now:          time.Now,
		logger:       logger.With(zap.String("component", "sagemaker_submitter")),
	}
}

// NewSageMakerSubmitterFromConfig 用 AWS 配置创建客户端
func NewSageMakerSubmitterFromConfig(awsCfg aws.Config, endpointName, contentType string, logger *zap.Logger) *SageMakerSubmitter {
	return NewSageMakerSubmitter(sagemakerruntime.NewFromConfig(awsCfg), endpointName, contentType, logger)
}

// Submit 提交一次异步推理。返回的位置无法解析视为提交失败。
func (s *SageMakerSubmitter) Submit(ctx context.Context, input storage.Location, timeout time.Duration) (*JobHandle, error) {
	if s.endpointName == "" {
		return nil, types.NewError(types.ErrSubmitFailed, "endpoint name is not configured")
	}
	timeout = ClampTimeout(timeout)
	inferenceID := uuid.NewString()

	out, err := s.client.InvokeEndpointAsync(ctx, &sagemakerruntime.InvokeEndpointAsyncInput{
		EndpointName:             aws.String(s.endpointName),
		InputLocation:            aws.String(input.String()),
		ContentType:              aws.String(s.contentType),
		InferenceId:              aws.String(inferenceID),
		InvocationTimeoutSeconds: aws.Int32(int32(timeout / time.Second)),
	})
	if err != nil {
		return nil, types.NewError(types.ErrSubmitFailed, "invoke endpoint async").WithCause(err)
	}

	outputLoc, err := storage.ParseLocation(aws.ToString(out.OutputLocation))
	if err != nil {
		return nil, types.NewError(types.ErrSubmitFailed, "service returned an unusable output location").WithCause(err)
	}
	failureLoc, err := storage.ParseLocation(aws.ToString(out.FailureLocation))
	if err != nil {
		return nil, types.NewError(types.ErrSubmitFailed, "service returned an unusable failure location").WithCause(err)
	}
	if id := aws.ToString(out.InferenceId); id != "" {
		inferenceID = id
	}

	handle := &JobHandle{
		InferenceID:     inferenceID,
		InputLocation:   input,
		OutputLocation:  outputLoc,
		FailureLocation: failureLoc,
		Timeout:         timeout,
		SubmittedAt:     s.now(),
	}
	s.logger.Info("async inference submitted",
		zap.String("endpoint", s.endpointName),
		zap.String("inference_id", inferenceID),
		zap.String("input", input.String()),
		zap.String("output", outputLoc.String()),
		zap.String("failure", failureLoc.String()),
		zap.Duration("timeout", timeout),
	)
	return handle, nil
}

// =============================================================================
// 🧪 本地提交器
// =============================================================================

// LocalSubmitter 不调用任何服务，只按约定推导结果与失败位置。
// 用于 dry-run 与本地开发，由其他进程（或测试）往这两个位置写结果。
type LocalSubmitter struct {
	bucket string
	prefix string
	now    func() time.Time
	newID  func() string
}

// NewLocalSubmitter 创建本地提交器
func NewLocalSubmitter(bucket, prefix string) *LocalSubmitter {
	return &LocalSubmitter{
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Submit 生成 {prefix}/output/{id}.out 与 {prefix}/failure/{id}-error.out
func (l *LocalSubmitter) Submit(ctx context.Context, input storage.Location, timeout time.Duration) (*JobHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := l.newID()
	bucket := l.bucket
	if bucket == "" {
		bucket = input.Bucket
	}
	return &JobHandle{
		InferenceID:     id,
		InputLocation:   input,
		OutputLocation:  storage.Location{Bucket: bucket, Key: fmt.Sprintf("%s/output/%s.out", l.prefix, id)},
		FailureLocation: storage.Location{Bucket: bucket, Key: fmt.Sprintf("%s/failure/%s-error.out", l.prefix, id)},
		Timeout:         ClampTimeout(timeout),
		SubmittedAt:     l.now(),
	}, nil
}
