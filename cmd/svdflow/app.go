package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"

	"github.com/BaSui01/svdflow/config"
	"github.com/BaSui01/svdflow/internal/metrics"
	"github.com/BaSui01/svdflow/internal/tlsutil"
	"github.com/BaSui01/svdflow/invoker"
	"github.com/BaSui01/svdflow/jobstore"
	"github.com/BaSui01/svdflow/pipeline"
	"github.com/BaSui01/svdflow/storage"
)

// awsRequestTimeout 单次 AWS API 请求（上传、读取、提交）的超时
const awsRequestTimeout = 60 * time.Second

// app 持有一次运行所需的全部组件，由 newApp 按配置装配
type app struct {
	cfg       *config.Config
	store     storage.ObjectStore
	submitter invoker.Submitter
	jobs      jobstore.Store
	pipeline  *pipeline.Pipeline
	logger    *zap.Logger
}

// newApp 装配对象存储、提交器、任务台账与流水线。collector 可为 nil。
func newApp(ctx context.Context, cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (*app, error) {
	var awsCfg aws.Config
	if cfg.Storage.Type == "s3" {
		if cfg.AWS.EndpointName == "" {
			return nil, errors.New("aws.endpoint_name is required for s3 storage")
		}
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.AWS.Region),
			awsconfig.WithHTTPClient(tlsutil.AWSHTTPClient(awsRequestTimeout)),
		)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
	}

	store, err := storage.New(cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}

	var submitter invoker.Submitter
	if cfg.Storage.Type == "s3" {
		submitter = invoker.NewSageMakerSubmitterFromConfig(awsCfg, cfg.AWS.EndpointName, cfg.Inference.ContentType, logger)
	} else {
		// 本地后端没有推理服务，结果由外部进程写入推导出的位置
		submitter = invoker.NewLocalSubmitter(cfg.AWS.Bucket, cfg.AWS.Prefix)
		logger.Warn("using local submitter, results must be written by another process",
			zap.String("storage", cfg.Storage.Type))
	}

	jobs, err := jobstore.New(cfg.JobStore, logger)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	deps := pipeline.Deps{
		Store:     store,
		Submitter: submitter,
		Jobs:      jobs,
	}
	if collector != nil {
		deps.Store = storage.Instrument(store, collector)
		deps.Metrics = collector
	}
	p, err := pipeline.New(cfg, deps, logger)
	if err != nil {
		_ = jobs.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		store:     deps.Store,
		submitter: submitter,
		jobs:      jobs,
		pipeline:  p,
		logger:    logger,
	}, nil
}

// Close 释放台账连接
func (a *app) Close() error {
	if a.jobs == nil {
		return nil
	}
	return a.jobs.Close()
}
