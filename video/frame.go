package video

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // 注册 PNG 解码器
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/svdflow/payload"
	"github.com/BaSui01/svdflow/types"
)

// Frame 一帧解码后的图片，Index 从 1 开始，与产物命名一致
type Frame struct {
	Index  int
	Data   []byte
	Format string // jpeg 或 png
	Width  int
	Height int
}

// Ext 文件扩展名
func (f Frame) Ext() string {
	if f.Format == "png" {
		return "png"
	}
	return "jpg"
}

// DecodeFrames 按顺序解码结果中的 base64 帧。相同输入总是得到相同字节。
func DecodeFrames(result *payload.Result) ([]Frame, error) {
	if result == nil || len(result.Frames) == 0 {
		return nil, types.NewError(types.ErrDecodeFailed, "result contains no frames")
	}

	frames := make([]Frame, 0, len(result.Frames))
	for i, enc := range result.Frames {
		data, err := decodeBase64(enc)
		if err != nil {
			return nil, types.Errorf(types.ErrDecodeFailed, "frame %d: invalid base64", i+1).WithCause(err)
		}
		cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, types.Errorf(types.ErrDecodeFailed, "frame %d: not a decodable image", i+1).WithCause(err)
		}
		frames = append(frames, Frame{
			Index:  i + 1,
			Data:   data,
			Format: format,
			Width:  cfg.Width,
			Height: cfg.Height,
		})
	}
	return frames, nil
}

// decodeBase64 容忍 data URI 前缀、换行与缺失的填充
func decodeBase64(s string) ([]byte, error) {
	if payload.IsDataURI(s) {
		_, s, _ = strings.Cut(s, ";base64,")
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// WriteFrames 把帧写成 dir/frame_01.jpg …，返回按顺序排列的路径。
// 先清掉目录中已有的同名模式文件，避免上一次更长的序列残留。
func WriteFrames(dir string, frames []Frame) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create frames dir: %w", err)
	}
	for _, pattern := range []string{"frame_*.jpg", "frame_*.png"} {
		stale, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("list stale frames: %w", err)
		}
		for _, p := range stale {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("remove stale frame %s: %w", filepath.Base(p), err)
			}
		}
	}

	paths := make([]string, len(frames))
	for i, f := range frames {
		path := filepath.Join(dir, FrameFileName(f.Index, f.Ext()))
		if err := os.WriteFile(path, f.Data, 0o644); err != nil {
			return nil, fmt.Errorf("write frame %d: %w", f.Index, err)
		}
		paths[i] = path
	}
	return paths, nil
}

// FrameFileName frame_%02d.<ext>
func FrameFileName(index int, ext string) string {
	return fmt.Sprintf("frame_%02d.%s", index, ext)
}

// toJPEG PNG 帧转成 JPEG；JPEG 帧原样返回
func toJPEG(f Frame) ([]byte, error) {
	if f.Format == "jpeg" {
		return f.Data, nil
	}
	img, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
