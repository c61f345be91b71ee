// =============================================================================
// 📦 svdflow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("SVDFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 svdflow 的完整配置结构，显式传入每个组件
type Config struct {
	// AWS 账号、区域、桶与端点
	AWS AWSConfig `yaml:"aws" env:"AWS"`

	// Storage 对象存储后端
	Storage StorageConfig `yaml:"storage" env:"STORAGE"`

	// Inference 异步推理调用参数
	Inference InferenceConfig `yaml:"inference" env:"INFERENCE"`

	// Poller 结果轮询
	Poller PollerConfig `yaml:"poller" env:"POLLER"`

	// Video 帧解码与视频编码
	Video VideoConfig `yaml:"video" env:"VIDEO"`

	// Paths 本地产物目录
	Paths PathsConfig `yaml:"paths" env:"PATHS"`

	// Pipeline 批量任务并发
	Pipeline PipelineConfig `yaml:"pipeline" env:"PIPELINE"`

	// JobStore 任务台账
	JobStore JobStoreConfig `yaml:"jobstore" env:"JOBSTORE"`

	// Server HTTP 服务
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// AWSConfig AWS 配置
type AWSConfig struct {
	// 区域
	Region string `yaml:"region" env:"REGION"`
	// 存放请求与结果的桶
	Bucket string `yaml:"bucket" env:"BUCKET"`
	// 请求对象的 key 前缀
	Prefix string `yaml:"prefix" env:"PREFIX"`
	// SageMaker 异步端点名称
	EndpointName string `yaml:"endpoint_name" env:"ENDPOINT_NAME"`
	// S3 兼容存储的自定义端点（可选）
	S3Endpoint string `yaml:"s3_endpoint" env:"S3_ENDPOINT"`
	// 是否使用 path-style 访问
	UsePathStyle bool `yaml:"use_path_style" env:"USE_PATH_STYLE"`
}

// StorageConfig 对象存储配置
type StorageConfig struct {
	// 类型: s3, file, memory
	Type string `yaml:"type" env:"TYPE"`
	// file 后端的根目录
	Root string `yaml:"root" env:"ROOT"`
}

// InferenceConfig 推理请求配置
type InferenceConfig struct {
	// 端点单次调用允许的最长处理时间
	InvocationTimeout time.Duration `yaml:"invocation_timeout" env:"INVOCATION_TIMEOUT"`
	// 请求对象的 Content-Type
	ContentType string `yaml:"content_type" env:"CONTENT_TYPE"`
	// 内嵌图片 data URI 声明的媒体类型
	ImageMediaType string `yaml:"image_media_type" env:"IMAGE_MEDIA_TYPE"`
	// 本地条件图片大小上限（字节）
	MaxImageBytes int64 `yaml:"max_image_bytes" env:"MAX_IMAGE_BYTES"`
	// 重新编码条件图片时的 JPEG 质量
	JPEGQuality int `yaml:"jpeg_quality" env:"JPEG_QUALITY"`
}

// PollerConfig 轮询配置
type PollerConfig struct {
	// 两次探测之间的间隔
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	// 总截止时间，0 表示使用任务句柄上的超时（即 inference.invocation_timeout）。
	// 该超时只覆盖端点处理时间，不含排队时间；端点繁忙时应显式设置更长的值。
	// 超时的任务记为 timed_out，可用 resume 或服务重启继续收取结果。
	Deadline time.Duration `yaml:"deadline" env:"DEADLINE"`
	// 失败位置连续读取错误上限，0 表示一直忽略
	FailureProbeMaxErrors int `yaml:"failure_probe_max_errors" env:"FAILURE_PROBE_MAX_ERRORS"`
}

// VideoConfig 视频编码配置
type VideoConfig struct {
	// 编码器: ffmpeg, mjpeg
	Encoder string `yaml:"encoder" env:"ENCODER"`
	// ffmpeg 可执行文件路径
	FFmpegPath string `yaml:"ffmpeg_path" env:"FFMPEG_PATH"`
	// 是否在封装后再做一次兼容性转码
	Transcode bool `yaml:"transcode" env:"TRANSCODE"`
	// CRF，0-51，越低越好
	Quality int `yaml:"quality" env:"QUALITY"`
	// 像素格式
	PixelFormat string `yaml:"pixel_format" env:"PIXEL_FORMAT"`
	// 目标编码器
	Codec string `yaml:"codec" env:"CODEC"`
	// 是否把 moov 移到文件头
	FastStart bool `yaml:"fast_start" env:"FAST_START"`
	// x264 preset
	Preset string `yaml:"preset" env:"PRESET"`
}

// PathsConfig 本地目录配置
type PathsConfig struct {
	// 请求载荷暂存目录
	StagingDir string `yaml:"staging_dir" env:"STAGING_DIR"`
	// 解码帧输出目录
	FramesDir string `yaml:"frames_dir" env:"FRAMES_DIR"`
	// 视频输出目录
	VideoDir string `yaml:"video_dir" env:"VIDEO_DIR"`
}

// PipelineConfig 流水线配置
type PipelineConfig struct {
	// 同时在途的任务数，1 表示严格串行
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs" env:"MAX_CONCURRENT_JOBS"`
	// 每秒提交次数上限，0 表示不限
	SubmitRate float64 `yaml:"submit_rate" env:"SUBMIT_RATE"`
	// 提交突发量
	SubmitBurst int `yaml:"submit_burst" env:"SUBMIT_BURST"`
}

// JobStoreConfig 任务台账配置
type JobStoreConfig struct {
	// 类型: memory, redis, sql
	Type string `yaml:"type" env:"TYPE"`
	// Redis 后端
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
	// SQL 后端
	SQL SQLConfig `yaml:"sql" env:"SQL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// key 前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 是否启用 TLS
	TLS bool `yaml:"tls" env:"TLS"`
}

// SQLConfig 数据库配置
type SQLConfig struct {
	// 驱动类型: sqlite, postgres, mysql
	Driver string `yaml:"driver" env:"DRIVER"`
	// 连接串；sqlite 为文件路径
	DSN string `yaml:"dsn" env:"DSN"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "SVDFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段，key 形如 PREFIX_SECTION_FIELD
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置，一次性返回全部问题
func (c *Config) Validate() error {
	var errs []string

	switch c.Storage.Type {
	case "s3":
		if c.AWS.Bucket == "" {
			errs = append(errs, "aws.bucket is required for s3 storage")
		}
	case "file":
		if c.Storage.Root == "" {
			errs = append(errs, "storage.root is required for file storage")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("unknown storage type %q", c.Storage.Type))
	}

	if c.Inference.InvocationTimeout < time.Second || c.Inference.InvocationTimeout > time.Hour {
		errs = append(errs, "inference.invocation_timeout must be between 1s and 1h")
	}
	if c.Inference.MaxImageBytes <= 0 {
		errs = append(errs, "inference.max_image_bytes must be positive")
	}
	if c.Inference.JPEGQuality < 1 || c.Inference.JPEGQuality > 100 {
		errs = append(errs, "inference.jpeg_quality must be between 1 and 100")
	}

	if c.Poller.Interval <= 0 {
		errs = append(errs, "poller.interval must be positive")
	}
	if c.Poller.Deadline < 0 {
		errs = append(errs, "poller.deadline must not be negative")
	}
	if c.Poller.FailureProbeMaxErrors < 0 {
		errs = append(errs, "poller.failure_probe_max_errors must not be negative")
	}

	switch c.Video.Encoder {
	case "ffmpeg", "mjpeg":
	default:
		errs = append(errs, fmt.Sprintf("unknown video encoder %q", c.Video.Encoder))
	}
	if c.Video.Quality < 0 || c.Video.Quality > 51 {
		errs = append(errs, "video.quality must be between 0 and 51")
	}

	if c.Pipeline.MaxConcurrentJobs <= 0 {
		errs = append(errs, "pipeline.max_concurrent_jobs must be positive")
	}
	if c.Pipeline.SubmitRate < 0 {
		errs = append(errs, "pipeline.submit_rate must not be negative")
	}

	switch c.JobStore.Type {
	case "memory", "redis", "sql":
	default:
		errs = append(errs, fmt.Sprintf("unknown jobstore type %q", c.JobStore.Type))
	}

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
