package payload

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // 注册 PNG 解码器
	"os"
	"strings"

	"github.com/BaSui01/svdflow/config"
	"github.com/BaSui01/svdflow/types"
	"go.uber.org/zap"
)

// ImageSource 条件图片来源：本地路径、内存字节或远程 URL，三选一
type ImageSource struct {
	Path string
	Data []byte
	URL  string
}

// ParseImageSource http(s) 开头视为 URL，否则视为本地路径
func ParseImageSource(s string) ImageSource {
	if IsRemoteURL(s) {
		return ImageSource{URL: s}
	}
	return ImageSource{Path: s}
}

// IsRemoteURL 是否为 http(s) URL
func IsRemoteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// IsDataURI 是否为 base64 data URI
func IsDataURI(s string) bool {
	return strings.HasPrefix(s, "data:") && strings.Contains(s, ";base64,")
}

// EncodeDataURI 生成 data:<mediaType>;base64,<payload>
func EncodeDataURI(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI 拆出媒体类型与原始字节
func DecodeDataURI(s string) (string, []byte, error) {
	if !IsDataURI(s) {
		return "", nil, fmt.Errorf("not a base64 data URI")
	}
	head, body, _ := strings.Cut(strings.TrimPrefix(s, "data:"), ";base64,")
	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URI: %w", err)
	}
	return head, data, nil
}

// =============================================================================
// 🔨 Builder
// =============================================================================

// Builder 组装推理请求
type Builder struct {
	mediaType   string
	maxBytes    int64
	jpegQuality int
	logger      *zap.Logger
}

// NewBuilder 创建请求构建器
func NewBuilder(cfg config.InferenceConfig, logger *zap.Logger) *Builder {
	quality := cfg.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	mediaType := cfg.ImageMediaType
	if mediaType == "" {
		mediaType = "text/plain"
	}
	return &Builder{
		mediaType:   mediaType,
		maxBytes:    cfg.MaxImageBytes,
		jpegQuality: quality,
		logger:      logger.With(zap.String("component", "payload_builder")),
	}
}

// Build 本地图片重新编码为 JPEG 并内嵌；URL 原样透传。
// 宽高为 0 时本地图片取图片尺寸，URL 取默认值。
func (b *Builder) Build(ctx context.Context, title string, src ImageSource, params Params) (*Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var imageField string
	switch {
	case src.URL != "":
		imageField = src.URL
		if params.Width == 0 || params.Height == 0 {
			def := DefaultParams()
			params.Width, params.Height = def.Width, def.Height
		}

	case src.Path != "" || src.Data != nil:
		raw, err := b.readLocal(src)
		if err != nil {
			return nil, err
		}
		encoded, w, h, err := b.reencode(raw)
		if err != nil {
			return nil, err
		}
		if params.Width == 0 || params.Height == 0 {
			params.Width, params.Height = w, h
		}
		imageField = EncodeDataURI(b.mediaType, encoded)
		b.logger.Debug("conditioning image embedded",
			zap.String("title", title),
			zap.Int("source_bytes", len(raw)),
			zap.Int("jpeg_bytes", len(encoded)),
			zap.Int("width", w),
			zap.Int("height", h),
		)

	default:
		return nil, types.NewError(types.ErrInvalidRequest, "image source is required")
	}

	req := newRequest(title, imageField, params)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func (b *Builder) readLocal(src ImageSource) ([]byte, error) {
	if src.Data != nil {
		if b.maxBytes > 0 && int64(len(src.Data)) > b.maxBytes {
			return nil, types.Errorf(types.ErrInvalidRequest, "image is %d bytes, limit is %d", len(src.Data), b.maxBytes)
		}
		return src.Data, nil
	}

	info, err := os.Stat(src.Path)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "cannot read image").WithCause(err)
	}
	if info.IsDir() {
		return nil, types.Errorf(types.ErrInvalidRequest, "image path %s is a directory", src.Path)
	}
	if b.maxBytes > 0 && info.Size() > b.maxBytes {
		return nil, types.Errorf(types.ErrInvalidRequest, "image %s is %d bytes, limit is %d", src.Path, info.Size(), b.maxBytes)
	}
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "cannot read image").WithCause(err)
	}
	return data, nil
}

func (b *Builder) reencode(raw []byte) ([]byte, int, int, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, 0, 0, types.NewError(types.ErrInvalidRequest, "unsupported or corrupt image").WithCause(err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: b.jpegQuality}); err != nil {
		return nil, 0, 0, types.NewError(types.ErrInternalError, "jpeg encode failed").WithCause(err)
	}
	bounds := img.Bounds()
	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}
