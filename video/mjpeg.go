package video

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BaSui01/svdflow/types"
)

// MJPEGEncoder 纯 Go 的 AVI 封装，JPEG 帧原样写入为 Motion JPEG。
// 相同的帧与帧率总是生成逐字节相同的文件。
type MJPEGEncoder struct{}

// NewMJPEGEncoder 创建 MJPEG 编码器
func NewMJPEGEncoder() *MJPEGEncoder { return &MJPEGEncoder{} }

// Name 编码器名称
func (*MJPEGEncoder) Name() string { return "mjpeg" }

// Ext 输出扩展名
func (*MJPEGEncoder) Ext() string { return "avi" }

// Encode 写出 AVI 文件
func (e *MJPEGEncoder) Encode(ctx context.Context, frames []Frame, fps int, outPath string) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, types.NewError(types.ErrEncodeFailed, "no frames to encode")
	}
	if fps <= 0 {
		return nil, types.Errorf(types.ErrEncodeFailed, "invalid fps %d", fps)
	}

	data := make([][]byte, len(frames))
	for i, f := range frames {
		jpg, err := toJPEG(f)
		if err != nil {
			return nil, types.Errorf(types.ErrEncodeFailed, "frame %d: convert to jpeg", f.Index).WithCause(err)
		}
		data[i] = jpg
	}

	avi := muxAVI(data, frames[0].Width, frames[0].Height, fps)

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, types.NewError(types.ErrEncodeFailed, "create video dir").WithCause(err)
	}
	if err := os.WriteFile(outPath, avi, 0o644); err != nil {
		return nil, types.NewError(types.ErrEncodeFailed, "write video").WithCause(err)
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
// 🎞️ RIFF/AVI 封装
// =============================================================================

const (
	avifHasIndex  = 0x10
	aviifKeyframe = 0x10
	chunkVideo    = "00dc"
)

type riffWriter struct {
	buf bytes.Buffer
}

func (w *riffWriter) fourcc(s string) { w.buf.WriteString(s) }
func (w *riffWriter) u32(v uint32)    { _ = binary.Write(&w.buf, binary.LittleEndian, v) }
func (w *riffWriter) u16(v uint16)    { _ = binary.Write(&w.buf, binary.LittleEndian, v) }

func padded(n int) int { return n + n&1 }

// muxAVI 生成单视频流的 AVI：hdrl(avih, strl(strh, strf)) + movi + idx1
func muxAVI(frames [][]byte, width, height, fps int) []byte {
	maxFrame := 0
	moviSize := 4
	for _, f := range frames {
		if len(f) > maxFrame {
			maxFrame = len(f)
		}
		moviSize += 8 + padded(len(f))
	}
	const strlSize = 4 + (8 + 56) + (8 + 40)
	const hdrlSize = 4 + (8 + 56) + (8 + strlSize)
	idxSize := 16 * len(frames)
	riffSize := 4 + (8 + hdrlSize) + (8 + moviSize) + (8 + idxSize)

	w := &riffWriter{}
	w.buf.Grow(8 + riffSize)

	w.fourcc("RIFF")
	w.u32(uint32(riffSize))
	w.fourcc("AVI ")

	// hdrl
	w.fourcc("LIST")
	w.u32(hdrlSize)
	w.fourcc("hdrl")

	w.fourcc("avih")
	w.u32(56)
	w.u32(uint32(1_000_000 / fps)) // dwMicroSecPerFrame
	w.u32(uint32(maxFrame * fps))  // dwMaxBytesPerSec
	w.u32(0)                       // dwPaddingGranularity
	w.u32(avifHasIndex)            // dwFlags
	w.u32(uint32(len(frames)))     // dwTotalFrames
	w.u32(0)                       // dwInitialFrames
	w.u32(1)                       // dwStreams
	w.u32(uint32(maxFrame))        // dwSuggestedBufferSize
	w.u32(uint32(width))
	w.u32(uint32(height))
	for i := 0; i < 4; i++ {
		w.u32(0)
	}

	w.fourcc("LIST")
	w.u32(strlSize)
	w.fourcc("strl")

	w.fourcc("strh")
	w.u32(56)
	w.fourcc("vids")
	w.fourcc("MJPG")
	w.u32(0) // dwFlags
	w.u16(0) // wPriority
	w.u16(0) // wLanguage
	w.u32(0) // dwInitialFrames
	w.u32(1) // dwScale
	w.u32(uint32(fps))
	w.u32(0) // dwStart
	w.u32(uint32(len(frames)))
	w.u32(uint32(maxFrame))
	w.u32(0xFFFFFFFF) // dwQuality
	w.u32(0)          // dwSampleSize
	w.u16(0)
	w.u16(0)
	w.u16(uint16(width))
	w.u16(uint16(height))

	w.fourcc("strf")
	w.u32(40)
	w.u32(40)
	w.u32(uint32(width))
	w.u32(uint32(height))
	w.u16(1)  // biPlanes
	w.u16(24) // biBitCount
	w.fourcc("MJPG")
	w.u32(uint32(width * height * 3))
	w.u32(0)
	w.u32(0)
	w.u32(0)
	w.u32(0)

	// movi
	w.fourcc("LIST")
	w.u32(uint32(moviSize))
	w.fourcc("movi")
	offsets := make([]uint32, len(frames))
	offset := uint32(4)
	for i, f := range frames {
		offsets[i] = offset
		w.fourcc(chunkVideo)
		w.u32(uint32(len(f)))
		w.buf.Write(f)
		if len(f)&1 == 1 {
			w.buf.WriteByte(0)
		}
		offset += uint32(8 + padded(len(f)))
	}

	// idx1
	w.fourcc("idx1")
	w.u32(uint32(idxSize))
	for i, f := range frames {
		w.fourcc(chunkVideo)
		w.u32(aviifKeyframe)
		w.u32(offsets[i])
		w.u32(uint32(len(f)))
	}

	return w.buf.Bytes()
}

// =============================================================================
// 🔍 读取
// =============================================================================

// AVIInfo ProbeAVI 的结果
type AVIInfo struct {
	Frames   int
	FPS      float64
	Width    int
	Height   int
	Duration float64 // 秒
	// FrameData 按 movi 中的顺序排列
	FrameData [][]byte
}

// ProbeAVI 读回 AVI 的帧数、帧率与帧数据
func ProbeAVI(path string) (*AVIInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "AVI " {
		return nil, fmt.Errorf("%s: not an AVI file", path)
	}

	info := &AVIInfo{}
	var scale, rate uint32
	if err := walkChunks(data[12:], func(id string, body []byte) error {
		switch id {
		case "avih":
			if len(body) < 40 {
				return fmt.Errorf("short avih")
			}
			info.Width = int(binary.LittleEndian.Uint32(body[32:36]))
			info.Height = int(binary.LittleEndian.Uint32(body[36:40]))
		case "strh":
			if len(body) < 32 {
				return fmt.Errorf("short strh")
			}
			scale = binary.LittleEndian.Uint32(body[20:24])
			rate = binary.LittleEndian.Uint32(body[24:28])
		case chunkVideo:
			info.FrameData = append(info.FrameData, body)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	info.Frames = len(info.FrameData)
	if scale > 0 && rate > 0 {
		info.FPS = float64(rate) / float64(scale)
		info.Duration = float64(info.Frames) / info.FPS
	}
	return info, nil
}

// walkChunks 深度优先遍历 RIFF 块，LIST 只下钻不回调
func walkChunks(data []byte, fn func(id string, body []byte) error) error {
	for len(data) >= 8 {
		id := string(data[0:4])
		size := int(binary.LittleEndian.Uint32(data[4:8]))
		if 8+size > len(data) {
			return fmt.Errorf("chunk %q overruns file", id)
		}
		body := data[8 : 8+size]
		if id == "LIST" {
			if size < 4 {
				return fmt.Errorf("short LIST")
			}
			if err := walkChunks(body[4:], fn); err != nil {
				return err
			}
		} else if err := fn(id, body); err != nil {
			return err
		}
		next := 8 + padded(size)
		if next > len(data) {
			break
		}
		data = data[next:]
	}
	return nil
}
