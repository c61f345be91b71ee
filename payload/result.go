package payload

import (
	"encoding/json"

	"github.com/BaSui01/svdflow/types"
)

// Result 远端服务写到结果位置的 JSON：按播放顺序排列的 base64 帧，加请求回显
type Result struct {
	Frames []string     `json:"frames"`
	Config ResultConfig `json:"config"`
}

// ResultConfig 回显的请求字段（不含图片）
type ResultConfig struct {
	MovieTitle        string  `json:"movie_title"`
	FPS               int     `json:"fps"`
	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`
	NumFrames         int     `json:"num_frames,omitempty"`
	NumInferenceSteps int     `json:"num_inference_steps,omitempty"`
	MinGuidanceScale  float64 `json:"min_guidance_scale,omitempty"`
	MaxGuidanceScale  float64 `json:"max_guidance_scale,omitempty"`
	MotionBucketID    int     `json:"motion_bucket_id,omitempty"`
	NoiseAugStrength  float64 `json:"noise_aug_strength,omitempty"`
	DecodeChunkSize   int     `json:"decode_chunk_size,omitempty"`
	Seed              int64   `json:"seed,omitempty"`
}

// EchoConfig 生成请求对应的回显配置
func (r *Request) EchoConfig() ResultConfig {
	return ResultConfig{
		MovieTitle:        r.MovieTitle,
		FPS:               r.FPS,
		Width:             r.Width,
		Height:            r.Height,
		NumFrames:         r.NumFrames,
		NumInferenceSteps: r.NumInferenceSteps,
		MinGuidanceScale:  r.MinGuidanceScale,
		MaxGuidanceScale:  r.MaxGuidanceScale,
		MotionBucketID:    r.MotionBucketID,
		NoiseAugStrength:  r.NoiseAugStrength,
		DecodeChunkSize:   r.DecodeChunkSize,
		Seed:              r.Seed,
	}
}

// ParseResult 解析结果 JSON；内容无法解析属于致命的解码失败
func ParseResult(data []byte) (*Result, error) {
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, types.NewError(types.ErrDecodeFailed, "result is not valid JSON").WithCause(err)
	}
	if res.Frames == nil {
		return nil, types.NewError(types.ErrDecodeFailed, "result has no frames field")
	}
	return &res, nil
}

// Marshal 序列化结果
func (r *Result) Marshal() ([]byte, error) {
	return json.Marshal(r)
}
