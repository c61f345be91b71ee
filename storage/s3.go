package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/BaSui01/svdflow/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// S3API 是 S3Store 用到的 *s3.Client 方法子集
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store 基于 aws-sdk-go-v2 的对象存储
type S3Store struct {
	client S3API
	bucket string
	logger *zap.Logger
}

// NewS3Store 用已有客户端创建 S3Store
func NewS3Store(client S3API, bucket string, logger *zap.Logger) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		logger: logger.With(zap.String("component", "s3_store")),
	}
}

// NewS3StoreFromConfig 根据 AWS 配置创建客户端，支持 S3 兼容端点
func NewS3StoreFromConfig(awsCfg aws.Config, cfg config.AWSConfig, logger *zap.Logger) *S3Store {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3Store(client, cfg.Bucket, logger)
}

// Bucket 返回写入使用的桶
func (s *S3Store) Bucket() string { return s.bucket }

// Put 上传对象
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (Location, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return Location{}, fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}

	loc := Location{Bucket: s.bucket, Key: key}
	s.logger.Debug("object uploaded", zap.String("location", loc.String()), zap.Int("bytes", len(data)))
	return loc, nil
}

// Get 下载对象；NoSuchKey / NotFound / 404 映射为 ErrNotFound
func (s *S3Store) Get(ctx context.Context, loc Location) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("get %s: %w", loc, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", loc, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", loc, err)
	}
	return data, nil
}

// isS3NotFound 只识别对象缺失；NoSuchBucket、AccessDenied 等都不算
func isS3NotFound(err error) bool {
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
		return false
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return false
}
