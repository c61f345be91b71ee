package video

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/BaSui01/svdflow/types"
	"go.uber.org/zap"
)

// Runner 执行外部命令，返回合并后的输出
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner 基于 os/exec 的 Runner
type ExecRunner struct{}

// Run 执行命令
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// runFFmpeg 执行并把失败包装为 ENCODE_FAILED，附带输出尾部
func runFFmpeg(ctx context.Context, runner Runner, bin string, args []string) error {
	out, err := runner.Run(ctx, bin, args...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return types.NewError(types.ErrCancelled, "ffmpeg cancelled").WithCause(ctx.Err())
	}
	tail := strings.TrimSpace(string(out))
	if len(tail) > 400 {
		tail = tail[len(tail)-400:]
	}
	return types.Errorf(types.ErrEncodeFailed, "ffmpeg failed: %s", tail).WithCause(err)
}

// =============================================================================
// 🎬 FFmpegEncoder
// =============================================================================

// FFmpegEncoder 通过 ffmpeg 把帧序列编码为 MP4
type FFmpegEncoder struct {
	bin    string
	cfg    TranscodeConfig
	runner Runner
	logger *zap.Logger
}

// NewFFmpegEncoder 创建编码器；bin 为空时使用 PATH 中的 ffmpeg
func NewFFmpegEncoder(bin string, cfg TranscodeConfig, runner Runner, logger *zap.Logger) *FFmpegEncoder {
	if bin == "" {
		bin = "ffmpeg"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegEncoder{bin: bin, cfg: cfg, runner: runner, logger: logger.With(zap.String("component", "ffmpeg_encoder"))}
}

// Name 编码器名称
func (*FFmpegEncoder) Name() string { return "ffmpeg" }

// Ext 输出扩展名
func (*FFmpegEncoder) Ext() string { return "mp4" }

// EncodeArgs 从 frame_%02d 序列编码的参数
func (e *FFmpegEncoder) EncodeArgs(framesDir, ext string, fps int, outPath string) []string {
	args := []string{
		"-y",
		"-framerate", fmt.Sprint(fps),
		"-start_number", "1",
		"-i", filepath.Join(framesDir, "frame_%02d."+ext),
	}
	args = append(args, e.cfg.codecArgs()...)
	return append(args, outPath)
}

// Encode 把帧写入临时目录后调用 ffmpeg
func (e *FFmpegEncoder) Encode(ctx context.Context, frames []Frame, fps int, outPath string) (*Info, error) {
	if len(frames) == 0 {
		return nil, types.NewError(types.ErrEncodeFailed, "no frames to encode")
	}
	if fps <= 0 {
		return nil, types.Errorf(types.ErrEncodeFailed, "invalid fps %d", fps)
	}

	tmp, err := os.MkdirTemp("", "svdflow-frames-")
	if err != nil {
		return nil, types.NewError(types.ErrEncodeFailed, "create temp dir").WithCause(err)
	}
	defer os.RemoveAll(tmp)

	// 混合格式时统一转成 JPEG，保证同一个输入模式
	ext := frames[0].Ext()
	for _, f := range frames {
		if f.Ext() != ext {
			ext = "jpg"
			break
		}
	}
	normalized := frames
	if ext == "jpg" {
		normalized = make([]Frame, len(frames))
		for i, f := range frames {
			data, err := toJPEG(f)
			if err != nil {
				return nil, types.Errorf(types.ErrEncodeFailed, "frame %d: convert to jpeg", f.Index).WithCause(err)
			}
			f.Data, f.Format = data, "jpeg"
			normalized[i] = f
		}
	}
	if _, err := WriteFrames(tmp, normalized); err != nil {
		return nil, types.NewError(types.ErrEncodeFailed, "stage frames").WithCause(err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, types.NewError(types.ErrEncodeFailed, "create video dir").WithCause(err)
	}

	args := e.EncodeArgs(tmp, ext, fps, outPath)
	e.logger.Debug("running ffmpeg", zap.Strings("args", args))
	if err := runFFmpeg(ctx, e.runner, e.bin, args); err != nil {
		return nil, err
	}

	return &Info{
		Path:     outPath,
		Encoder:  e.Name(),
		Frames:   len(frames),
		FPS:      fps,
		Duration: Duration(len(frames), fps),
	}, nil
}

// =============================================================================
// 🔁 Transcoder
// =============================================================================

// Transcoder 把已有视频重新编码为兼容性更好的格式，时长与帧数不变
type Transcoder struct {
	bin    string
	cfg    TranscodeConfig
	runner Runner
	logger *zap.Logger
}

// NewTranscoder 创建转码器
func NewTranscoder(bin string, cfg TranscodeConfig, runner Runner, logger *zap.Logger) (*Transcoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if bin == "" {
		bin = "ffmpeg"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transcoder{bin: bin, cfg: cfg, runner: runner, logger: logger.With(zap.String("component", "transcoder"))}, nil
}

// Args 转码参数
func (t *Transcoder) Args(in, out string) []string {
	args := []string{"-y", "-i", in}
	args = append(args, t.cfg.codecArgs()...)
	return append(args, out)
}

// OutputPath in 同目录下的 <name>_h264.mp4
func (t *Transcoder) OutputPath(in string) string {
	base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
	return filepath.Join(filepath.Dir(in), base+"_h264.mp4")
}

// Transcode 转码 in 到 out；out 为空时使用 OutputPath(in)
func (t *Transcoder) Transcode(ctx context.Context, in, out string) (string, error) {
	if out == "" {
		out = t.OutputPath(in)
	}
	if filepath.Clean(in) == filepath.Clean(out) {
		return "", types.NewError(types.ErrEncodeFailed, "transcode output must differ from input")
	}
	if _, err := os.Stat(in); err != nil {
		return "", types.NewError(types.ErrEncodeFailed, "transcode input missing").WithCause(err)
	}
	args := t.Args(in, out)
	t.logger.Debug("transcoding", zap.String("input", in), zap.String("output", out))
	if err := runFFmpeg(ctx, t.runner, t.bin, args); err != nil {
		return "", err
	}
	return out, nil
}
