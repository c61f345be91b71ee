package video

import (
	"fmt"
	"strings"

	"github.com/BaSui01/svdflow/config"
)

// TranscodeConfig 兼容性转码参数，只影响编码，不影响帧内容
type TranscodeConfig struct {
	// Quality CRF 0-51，越低越好
	Quality     int    `json:"quality" yaml:"quality"`
	PixelFormat string `json:"pixel_format" yaml:"pixel_format"`
	Codec       string `json:"codec" yaml:"codec"`
	FastStart   bool   `json:"fast_start" yaml:"fast_start"`
	Preset      string `json:"preset" yaml:"preset"`
}

// DefaultTranscodeConfig crf 20、yuv420p、libx264、faststart、slower
func DefaultTranscodeConfig() TranscodeConfig {
	return TranscodeConfig{
		Quality:     20,
		PixelFormat: "yuv420p",
		Codec:       "libx264",
		FastStart:   true,
		Preset:      "slower",
	}
}

// TranscodeConfigFrom 从视频配置取转码参数
func TranscodeConfigFrom(cfg config.VideoConfig) TranscodeConfig {
	return TranscodeConfig{
		Quality:     cfg.Quality,
		PixelFormat: cfg.PixelFormat,
		Codec:       cfg.Codec,
		FastStart:   cfg.FastStart,
		Preset:      cfg.Preset,
	}
}

var knownPresets = map[string]bool{
	"ultrafast": true, "superfast": true, "veryfast": true, "faster": true, "fast": true,
	"medium": true, "slow": true, "slower": true, "veryslow": true, "placebo": true,
}

// Validate 检查参数取值
func (c TranscodeConfig) Validate() error {
	var errs []string
	if c.Quality < 0 || c.Quality > 51 {
		errs = append(errs, fmt.Sprintf("quality %d out of range 0-51", c.Quality))
	}
	if c.Codec == "" {
		errs = append(errs, "codec is required")
	}
	if c.PixelFormat == "" {
		errs = append(errs, "pixel_format is required")
	}
	if c.Preset != "" && !knownPresets[c.Preset] {
		errs = append(errs, fmt.Sprintf("unknown preset %q", c.Preset))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid transcode config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// codecArgs 输出端编码参数
func (c TranscodeConfig) codecArgs() []string {
	args := []string{"-c:v", c.Codec}
	if c.Preset != "" {
		args = append(args, "-preset", c.Preset)
	}
	args = append(args,
		"-crf", fmt.Sprint(c.Quality),
		"-pix_fmt", c.PixelFormat,
	)
	if c.FastStart {
		args = append(args, "-movflags", "+faststart")
	}
	return args
}
