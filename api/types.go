package api

import (
	"time"

	"github.com/BaSui01/svdflow/jobstore"
	"github.com/BaSui01/svdflow/payload"
)

// =============================================================================
// 任务提交类型
// =============================================================================

// CreateJobRequest 提交一个图生视频任务。image_url 与 image_base64 二选一。
type CreateJobRequest struct {
	// 视频标题，同时决定输入对象键、帧目录与视频文件名
	Title string `json:"title"`
	// 远程图片地址，原样交给推理端下载
	ImageURL string `json:"image_url,omitempty"`
	// 图片字节的 base64，或完整的 data URI
	ImageBase64 string `json:"image_base64,omitempty"`
	// 生成参数，缺省字段使用默认值
	Params *JobParams `json:"params,omitempty"`
}

// JobParams 可选生成参数。指针为 nil 表示沿用默认值。
type JobParams struct {
	Width             *int     `json:"width,omitempty"`
	Height            *int     `json:"height,omitempty"`
	NumFrames         *int     `json:"num_frames,omitempty"`
	NumInferenceSteps *int     `json:"num_inference_steps,omitempty"`
	MinGuidanceScale  *float64 `json:"min_guidance_scale,omitempty"`
	MaxGuidanceScale  *float64 `json:"max_guidance_scale,omitempty"`
	FPS               *int     `json:"fps,omitempty"`
	MotionBucketID    *int     `json:"motion_bucket_id,omitempty"`
	NoiseAugStrength  *float64 `json:"noise_aug_strength,omitempty"`
	DecodeChunkSize   *int     `json:"decode_chunk_size,omitempty"`
	Seed              *int64   `json:"seed,omitempty"`
}

// Apply 把非空字段覆盖到 base 上
func (p *JobParams) Apply(base payload.Params) payload.Params {
	if p == nil {
		return base
	}
	setInt(&base.Width, p.Width)
	setInt(&base.Height, p.Height)
	setInt(&base.NumFrames, p.NumFrames)
	setInt(&base.NumInferenceSteps, p.NumInferenceSteps)
	setFloat(&base.MinGuidanceScale, p.MinGuidanceScale)
	setFloat(&base.MaxGuidanceScale, p.MaxGuidanceScale)
	setInt(&base.FPS, p.FPS)
	setInt(&base.MotionBucketID, p.MotionBucketID)
	setFloat(&base.NoiseAugStrength, p.NoiseAugStrength)
	setInt(&base.DecodeChunkSize, p.DecodeChunkSize)
	if p.Seed != nil {
		base.Seed = *p.Seed
	}
	return base
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// CreateJobResponse 提交成功后立即返回，任务在后台继续轮询
type CreateJobResponse struct {
	JobID    string          `json:"job_id"`
	Title    string          `json:"title"`
	Status   jobstore.Status `json:"status"`
	InputURI string          `json:"input_uri,omitempty"`
}

// =============================================================================
// 任务查询类型
// =============================================================================

// Job 台账记录的对外视图
type Job struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Status         jobstore.Status `json:"status"`
	InputURI       string          `json:"input_uri,omitempty"`
	OutputURI      string          `json:"output_uri"`
	FailureURI     string          `json:"failure_uri"`
	Timeout        string          `json:"timeout"`
	ExpectedFrames int             `json:"expected_frames"`
	FPS            int             `json:"fps"`
	Attempts       int             `json:"attempts"`
	Error          string          `json:"error,omitempty"`
	VideoPath      string          `json:"video_path,omitempty"`
	SubmittedAt    time.Time       `json:"submitted_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// JobFromRecord 转换台账记录
func JobFromRecord(r *jobstore.Record) Job {
	return Job{
		ID:             r.ID,
		Title:          r.Title,
		Status:         r.Status,
		InputURI:       r.InputLocation,
		OutputURI:      r.OutputLocation,
		FailureURI:     r.FailureLocation,
		Timeout:        r.Timeout.String(),
		ExpectedFrames: r.ExpectedFrames,
		FPS:            r.FPS,
		Attempts:       r.Attempts,
		Error:          r.Error,
		VideoPath:      r.VideoPath,
		SubmittedAt:    r.SubmittedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// JobList GET /api/v1/jobs 的响应
type JobList struct {
	Jobs  []Job `json:"jobs"`
	Count int   `json:"count"`
}
