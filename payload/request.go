package payload

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/BaSui01/svdflow/types"
)

// =============================================================================
// 📝 请求模型
// =============================================================================

// Request 一次图生视频推理请求。创建后不再修改，序列化后上传。
type Request struct {
	MovieTitle        string  `json:"movie_title"`
	Image             string  `json:"image"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	NumFrames         int     `json:"num_frames"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	MinGuidanceScale  float64 `json:"min_guidance_scale"`
	MaxGuidanceScale  float64 `json:"max_guidance_scale"`
	FPS               int     `json:"fps"`
	MotionBucketID    int     `json:"motion_bucket_id"`
	NoiseAugStrength  float64 `json:"noise_aug_strength"`
	DecodeChunkSize   int     `json:"decode_chunk_size"`
	Seed              int64   `json:"seed"`
}

// Params 除图片与标题外的生成参数
type Params struct {
	Width             int
	Height            int
	NumFrames         int
	NumInferenceSteps int
	MinGuidanceScale  float64
	MaxGuidanceScale  float64
	FPS               int
	MotionBucketID    int
	NoiseAugStrength  float64
	DecodeChunkSize   int
	Seed              int64
}

// DefaultParams 与部署端 handler 的默认值一致
func DefaultParams() Params {
	return Params{
		Width:             1024,
		Height:            576,
		NumFrames:         25,
		NumInferenceSteps: 25,
		MinGuidanceScale:  1.0,
		MaxGuidanceScale:  3.0,
		FPS:               6,
		MotionBucketID:    127,
		NoiseAugStrength:  0.02,
		DecodeChunkSize:   8,
		Seed:              42,
	}
}

// Params 取出请求中的生成参数
func (r *Request) Params() Params {
	return Params{
		Width:             r.Width,
		Height:            r.Height,
		NumFrames:         r.NumFrames,
		NumInferenceSteps: r.NumInferenceSteps,
		MinGuidanceScale:  r.MinGuidanceScale,
		MaxGuidanceScale:  r.MaxGuidanceScale,
		FPS:               r.FPS,
		MotionBucketID:    r.MotionBucketID,
		NoiseAugStrength:  r.NoiseAugStrength,
		DecodeChunkSize:   r.DecodeChunkSize,
		Seed:              r.Seed,
	}
}

func newRequest(title, image string, p Params) *Request {
	return &Request{
		MovieTitle:        title,
		Image:             image,
		Width:             p.Width,
		Height:            p.Height,
		NumFrames:         p.NumFrames,
		NumInferenceSteps: p.NumInferenceSteps,
		MinGuidanceScale:  p.MinGuidanceScale,
		MaxGuidanceScale:  p.MaxGuidanceScale,
		FPS:               p.FPS,
		MotionBucketID:    p.MotionBucketID,
		NoiseAugStrength:  p.NoiseAugStrength,
		DecodeChunkSize:   p.DecodeChunkSize,
		Seed:              p.Seed,
	}
}

// WithSeed 返回替换了 seed 的副本
func (r *Request) WithSeed(seed int64) *Request {
	cp := *r
	cp.Seed = seed
	return &cp
}

// WithTitle 返回替换了标题的副本
func (r *Request) WithTitle(title string) *Request {
	cp := *r
	cp.MovieTitle = title
	return &cp
}

// =============================================================================
// ✅ 校验
// =============================================================================

// Validate 只做类型与范围检查，宽高比交给远端服务判断
func (r *Request) Validate() error {
	var errs []string

	if err := ValidateTitle(r.MovieTitle); err != nil {
		errs = append(errs, err.Error())
	}
	if r.Image == "" {
		errs = append(errs, "image is required")
	} else if !IsDataURI(r.Image) && !IsRemoteURL(r.Image) {
		errs = append(errs, "image must be a data URI or an http(s) URL")
	}
	if r.Width <= 0 || r.Height <= 0 {
		errs = append(errs, fmt.Sprintf("width and height must be positive, got %dx%d", r.Width, r.Height))
	}
	if r.FPS <= 0 {
		errs = append(errs, "fps must be positive")
	}
	if r.NumFrames < 0 {
		errs = append(errs, "num_frames must not be negative")
	}
	if r.NumInferenceSteps < 0 {
		errs = append(errs, "num_inference_steps must not be negative")
	}
	if r.Seed < 0 {
		errs = append(errs, "seed must not be negative")
	}
	if r.DecodeChunkSize < 0 {
		errs = append(errs, "decode_chunk_size must not be negative")
	}
	if r.MotionBucketID < 0 {
		errs = append(errs, "motion_bucket_id must not be negative")
	}
	if r.MinGuidanceScale > r.MaxGuidanceScale {
		errs = append(errs, fmt.Sprintf("min_guidance_scale %.3g exceeds max_guidance_scale %.3g", r.MinGuidanceScale, r.MaxGuidanceScale))
	}
	if r.NoiseAugStrength < 0 {
		errs = append(errs, "noise_aug_strength must not be negative")
	}

	if len(errs) > 0 {
		return types.NewError(types.ErrInvalidRequest, strings.Join(errs, "; "))
	}
	return nil
}

const maxTitleLen = 200

// ValidateTitle 标题用于拼接文件名与对象 key，不能包含路径分隔符或控制字符
func ValidateTitle(title string) error {
	switch {
	case strings.TrimSpace(title) == "":
		return fmt.Errorf("movie_title is required")
	case len(title) > maxTitleLen:
		return fmt.Errorf("movie_title longer than %d bytes", maxTitleLen)
	case title == "." || title == "..":
		return fmt.Errorf("movie_title %q is not a valid file name", title)
	case strings.ContainsAny(title, `/\`):
		return fmt.Errorf("movie_title %q must not contain path separators", title)
	}
	for _, r := range title {
		if unicode.IsControl(r) {
			return fmt.Errorf("movie_title contains control characters")
		}
	}
	return nil
}

// =============================================================================
// 📦 序列化
// =============================================================================

// Marshal 输出 4 空格缩进的 JSON
func (r *Request) Marshal() ([]byte, error) {
	return json.MarshalIndent(r, "", "    ")
}

// Unmarshal 解析请求 JSON
func Unmarshal(data []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "malformed request JSON").WithCause(err)
	}
	return &r, nil
}
