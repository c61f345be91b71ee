// =============================================================================
// svdflow 主入口
// =============================================================================
// 图生视频异步推理客户端：提交任务、轮询结果、把返回帧封装成视频
//
// 使用方法:
//
//	svdflow generate --image cat.jpg --title cat   # 提交并等待一个任务
//	svdflow generate --image cat.jpg --variations 4
//	svdflow resume --job <id>                      # 进程重启后继续等待
//	svdflow decode --result out.json               # 离线解码已下载的结果
//	svdflow serve --config config.yaml             # 启动 HTTP 服务
//	svdflow version                                # 显示版本信息
//	svdflow health                                 # 健康检查
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/svdflow/config"
	"github.com/BaSui01/svdflow/internal/telemetry"
	"github.com/BaSui01/svdflow/payload"
	"github.com/BaSui01/svdflow/pipeline"
	"github.com/BaSui01/svdflow/poller"
	"github.com/BaSui01/svdflow/video"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// 退出码：FAILED 与 TIMED_OUT 是正常结局，但脚本需要区分
const (
	exitOK       = 0
	exitError    = 1
	exitFailed   = 2
	exitTimedOut = 3
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(exitError)
	}

	switch os.Args[1] {
	case "generate":
		os.Exit(runGenerate(os.Args[2:]))
	case "resume":
		os.Exit(runResume(os.Args[2:]))
	case "decode":
		os.Exit(runDecode(os.Args[2:]))
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(exitError)
	}
}

// loadConfig 加载并校验配置，失败时退出
func loadConfig(path string) *config.Config {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(exitError)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(exitError)
	}
	return cfg
}

// signalContext 收到 SIGINT/SIGTERM 时取消；被取消的任务保持 submitted，可 resume
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// =============================================================================
// 🎬 generate 命令
// =============================================================================

func runGenerate(args []string) int {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	image := fs.String("image", "", "Conditioning image: local path or http(s) URL")
	title := fs.String("title", "", "Output title, defaults to the image file name")
	variations := fs.Int("variations", 1, "Number of variations (seed, seed+1, ...)")
	dryRun := fs.Bool("dry-run", false, "Build and stage the request without submitting")
	params := bindParams(fs)
	_ = fs.Parse(args)

	if *image == "" {
		fmt.Fprintln(os.Stderr, "--image is required")
		return exitError
	}
	if *title == "" {
		*title = defaultTitle(*image)
	}

	cfg := loadConfig(*configPath)
	logger, _ := initLogger(cliLogConfig(cfg.Log))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	spec := pipeline.JobSpec{Title: *title, Image: payload.ParseImageSource(*image), Params: *params}

	if *dryRun {
		return dryRunRequest(ctx, cfg, spec, logger)
	}

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer shutdownTelemetry(otelProviders, logger)

	a, err := newApp(ctx, cfg, nil, logger)
	if err != nil {
		logger.Error("failed to initialize", zap.Error(err))
		return exitError
	}
	defer func() { _ = a.Close() }()

	reports, err := a.pipeline.Batch(ctx, spec, *variations)
	for _, r := range reports {
		if r != nil {
			printJSON(os.Stdout, r)
		}
	}
	if err != nil {
		logger.Error("generation failed", zap.Error(err))
		return exitError
	}
	return exitCodeFor(reports)
}

// dryRunRequest 只构建与暂存请求，打印请求 JSON
func dryRunRequest(ctx context.Context, cfg *config.Config, spec pipeline.JobSpec, logger *zap.Logger) int {
	req, err := payload.NewBuilder(cfg.Inference, logger).Build(ctx, spec.Title, spec.Image, spec.Params)
	if err != nil {
		logger.Error("invalid request", zap.Error(err))
		return exitError
	}
	path, data, err := payload.NewStager(cfg.Paths.StagingDir).Stage(req)
	if err != nil {
		logger.Error("failed to stage request", zap.Error(err))
		return exitError
	}
	logger.Info("request staged", zap.String("path", path), zap.Int("bytes", len(data)))
	fmt.Fprintln(os.Stdout, path)
	return exitOK
}

// =============================================================================
// 🔄 resume 命令
// =============================================================================

func runResume(args []string) int {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	jobID := fs.String("job", "", "Job ID recorded at submission")
	_ = fs.Parse(args)

	if *jobID == "" {
		fmt.Fprintln(os.Stderr, "--job is required")
		return exitError
	}

	cfg := loadConfig(*configPath)
	logger, _ := initLogger(cliLogConfig(cfg.Log))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, nil, logger)
	if err != nil {
		logger.Error("failed to initialize", zap.Error(err))
		return exitError
	}
	defer func() { _ = a.Close() }()

	report, err := a.pipeline.Resume(ctx, *jobID)
	if report != nil {
		printJSON(os.Stdout, report)
	}
	if err != nil {
		logger.Error("resume failed", zap.String("job_id", *jobID), zap.Error(err))
		return exitError
	}
	return exitCodeFor([]*pipeline.Report{report})
}

// =============================================================================
// 🎞️ decode 命令
// =============================================================================

func runDecode(args []string) int {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	resultPath := fs.String("result", "", "Downloaded result JSON")
	title := fs.String("title", "", "Output title, defaults to config.movie_title of the result")
	fps := fs.Int("fps", 0, "Frame rate override, defaults to config.fps of the result")
	_ = fs.Parse(args)

	if *resultPath == "" {
		fmt.Fprintln(os.Stderr, "--result is required")
		return exitError
	}

	cfg := loadConfig(*configPath)
	logger, _ := initLogger(cliLogConfig(cfg.Log))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	info, err := decodeResultFile(ctx, cfg, *resultPath, *title, *fps, logger)
	if err != nil {
		logger.Error("decode failed", zap.String("result", *resultPath), zap.Error(err))
		return exitError
	}
	printJSON(os.Stdout, info)
	return exitOK
}

// decodeResultFile 解析结果文件，写出帧并封装视频
func decodeResultFile(ctx context.Context, cfg *config.Config, path, title string, fps int, logger *zap.Logger) (*video.Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	result, err := payload.ParseResult(data)
	if err != nil {
		return nil, err
	}
	if n := result.Config.NumFrames; n > 0 && n != len(result.Frames) {
		return nil, fmt.Errorf("result has %d frames, config says %d", len(result.Frames), n)
	}
	if title == "" {
		title = result.Config.MovieTitle
	}
	if err := payload.ValidateTitle(title); err != nil {
		return nil, err
	}
	if fps <= 0 {
		fps = result.Config.FPS
	}

	frames, err := video.DecodeFrames(result)
	if err != nil {
		return nil, err
	}
	paths, err := video.WriteFrames(filepath.Join(cfg.Paths.FramesDir, title), frames)
	if err != nil {
		return nil, err
	}
	logger.Info("frames written", zap.Int("count", len(paths)))

	enc, err := video.NewEncoder(cfg.Video, logger)
	if err != nil {
		return nil, err
	}
	return enc.Encode(ctx, frames, fps, filepath.Join(cfg.Paths.VideoDir, title+"."+enc.Ext()))
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting svdflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	srv := NewServer(cfg, *configPath, level, logger)
	if err := srv.Start(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	srv.WaitForShutdown()
	shutdownTelemetry(otelProviders, logger)
	logger.Info("svdflow stopped")
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(exitError)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(exitError)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("svdflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `svdflow - image-to-video async inference client

Usage:
  svdflow <command> [options]

Commands:
  generate  Submit a job and wait for the video
  resume    Continue waiting for a submitted or timed-out job
  decode    Decode a downloaded result into frames and a video
  serve     Start the HTTP service
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'generate':
  --image <path|url>  Conditioning image (required)
  --title <name>      Output title
  --variations <n>    Generate n variations with consecutive seeds
  --dry-run           Build and stage the request only
  --width, --height, --frames, --steps, --min-guidance, --max-guidance,
  --fps, --motion-bucket, --noise-aug, --decode-chunk, --seed

Common options:
  --config <path>     Path to configuration file (YAML)

Exit codes:
  0 succeeded, 1 error, 2 remote failure, 3 timed out

Examples:
  svdflow generate --image ./cat.jpg --fps 6 --frames 25
  svdflow generate --image https://example.com/cat.png --variations 3
  svdflow resume --job 1f0c8a5e-6c1b-4f43-9a36-3f3c2b0c9a11
  svdflow decode --result ./output.json
  svdflow serve --config /etc/svdflow/config.yaml`)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// bindParams 把生成参数绑定到 flag；宽高默认 0，表示取条件图片尺寸
func bindParams(fs *flag.FlagSet) *payload.Params {
	p := payload.DefaultParams()
	p.Width, p.Height = 0, 0
	fs.IntVar(&p.Width, "width", p.Width, "Output width, 0 uses the image width")
	fs.IntVar(&p.Height, "height", p.Height, "Output height, 0 uses the image height")
	fs.IntVar(&p.NumFrames, "frames", p.NumFrames, "Number of frames")
	fs.IntVar(&p.NumInferenceSteps, "steps", p.NumInferenceSteps, "Denoising steps")
	fs.Float64Var(&p.MinGuidanceScale, "min-guidance", p.MinGuidanceScale, "Minimum guidance scale")
	fs.Float64Var(&p.MaxGuidanceScale, "max-guidance", p.MaxGuidanceScale, "Maximum guidance scale")
	fs.IntVar(&p.FPS, "fps", p.FPS, "Frames per second")
	fs.IntVar(&p.MotionBucketID, "motion-bucket", p.MotionBucketID, "Motion intensity")
	fs.Float64Var(&p.NoiseAugStrength, "noise-aug", p.NoiseAugStrength, "Noise augmentation strength")
	fs.IntVar(&p.DecodeChunkSize, "decode-chunk", p.DecodeChunkSize, "Decode chunk size")
	fs.Int64Var(&p.Seed, "seed", p.Seed, "Random seed")
	return &p
}

// exitCodeFor 取最差的结局：超时优先于失败
func exitCodeFor(reports []*pipeline.Report) int {
	code := exitOK
	for _, r := range reports {
		if r == nil {
			continue
		}
		switch r.State {
		case poller.StateTimedOut:
			code = exitTimedOut
		case poller.StateFailed:
			if code == exitOK {
				code = exitFailed
			}
		}
	}
	return code
}

// defaultTitle 取图片文件名（去掉扩展名）作为标题
func defaultTitle(image string) string {
	name := filepath.Base(image)
	if payload.IsRemoteURL(image) {
		u := image
		if i := strings.IndexAny(u, "?#"); i >= 0 {
			u = u[:i]
		}
		name = path.Base(u)
	}
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if payload.ValidateTitle(name) != nil {
		return "video"
	}
	return name
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func shutdownTelemetry(p *telemetry.Providers, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		logger.Warn("telemetry shutdown error", zap.Error(err))
	}
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// cliLogConfig 把 stdout 输出改到 stderr：generate/resume/decode 的 stdout 只留给 JSON 结果
func cliLogConfig(cfg config.LogConfig) config.LogConfig {
	outputs := make([]string, 0, len(cfg.OutputPaths))
	for _, p := range cfg.OutputPaths {
		if p == "stdout" {
			p = "stderr"
		}
		if !slices.Contains(outputs, p) {
			outputs = append(outputs, p)
		}
	}
	cfg.OutputPaths = outputs
	return cfg
}

// initLogger 返回 logger 及其级别句柄，serve 用后者热更新 log.level
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            level,
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger, level
}

func parseLevel(s string) zapcore.Level {
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}
