// =============================================================================
// 📦 svdflow 默认配置
// =============================================================================
// 默认值对应参考部署：us-east-1、S3 异步推理、15 秒轮询、libx264 输出
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		AWS:       DefaultAWSConfig(),
		Storage:   DefaultStorageConfig(),
		Inference: DefaultInferenceConfig(),
		Poller:    DefaultPollerConfig(),
		Video:     DefaultVideoConfig(),
		Paths:     DefaultPathsConfig(),
		Pipeline:  DefaultPipelineConfig(),
		JobStore:  DefaultJobStoreConfig(),
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultAWSConfig 返回默认 AWS 配置
func DefaultAWSConfig() AWSConfig {
	return AWSConfig{
		Region: "us-east-1",
		Prefix: "async_inference",
	}
}

// DefaultStorageConfig 返回默认存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Type: "s3",
		Root: "tmp/objects",
	}
}

// DefaultInferenceConfig 返回默认推理配置
func DefaultInferenceConfig() InferenceConfig {
	return InferenceConfig{
		InvocationTimeout: time.Hour,
		ContentType:       "application/json",
		ImageMediaType:    "text/plain",
		MaxImageBytes:     5 * 1024 * 1024,
		JPEGQuality:       95,
	}
}

// DefaultPollerConfig 返回默认轮询配置
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:              15 * time.Second,
		Deadline:              0,
		FailureProbeMaxErrors: 0,
	}
}

// DefaultVideoConfig 返回默认视频配置
func DefaultVideoConfig() VideoConfig {
	return VideoConfig{
		Encoder:     "ffmpeg",
		FFmpegPath:  "ffmpeg",
		Transcode:   false,
		Quality:     20,
		PixelFormat: "yuv420p",
		Codec:       "libx264",
		FastStart:   true,
		Preset:      "slower",
	}
}

// DefaultPathsConfig 返回默认目录配置
func DefaultPathsConfig() PathsConfig {
	return PathsConfig{
		StagingDir: "tmp/request_payloads",
		FramesDir:  "frames_out",
		VideoDir:   "video_out",
	}
}

// DefaultPipelineConfig 返回默认流水线配置
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxConcurrentJobs: 1,
		SubmitRate:        0,
		SubmitBurst:       1,
	}
}

// DefaultJobStoreConfig 返回默认任务台账配置
func DefaultJobStoreConfig() JobStoreConfig {
	return JobStoreConfig{
		Type: "memory",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			DB:        0,
			KeyPrefix: "svdflow:",
			PoolSize:  10,
		},
		SQL: SQLConfig{
			Driver: "sqlite",
			DSN:    "tmp/svdflow.db",
		},
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "svdflow",
		SampleRate:   0.1,
	}
}
