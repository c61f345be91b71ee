package video

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/svdflow/config"
	"go.uber.org/zap"
)

// Info 编码结果
type Info struct {
	Path     string        `json:"path"`
	Encoder  string        `json:"encoder"`
	Frames   int           `json:"frames"`
	FPS      int           `json:"fps"`
	Duration time.Duration `json:"duration"`
}

// Encoder 把有序帧封装成视频文件
type Encoder interface {
	Name() string
	// Ext 输出文件扩展名（不含点）
	Ext() string
	Encode(ctx context.Context, frames []Frame, fps int, outPath string) (*Info, error)
}

// Duration 帧数 / 帧率
func Duration(frames, fps int) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(fps)
}

// NewEncoder 按 cfg.Encoder 创建编码器
func NewEncoder(cfg config.VideoConfig, logger *zap.Logger) (Encoder, error) {
	switch cfg.Encoder {
	case "mjpeg":
		return NewMJPEGEncoder(), nil
	case "ffmpeg", "":
		tc := TranscodeConfigFrom(cfg)
		if err := tc.Validate(); err != nil {
			return nil, err
		}
		return NewFFmpegEncoder(cfg.FFmpegPath, tc, ExecRunner{}, logger), nil
	default:
		return nil, fmt.Errorf("unknown video encoder %q", cfg.Encoder)
	}
}
