package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/BaSui01/svdflow/config"
	"github.com/BaSui01/svdflow/internal/telemetry"
	"github.com/BaSui01/svdflow/invoker"
	"github.com/BaSui01/svdflow/jobstore"
	"github.com/BaSui01/svdflow/payload"
	"github.com/BaSui01/svdflow/poller"
	"github.com/BaSui01/svdflow/storage"
	"github.com/BaSui01/svdflow/types"
	"github.com/BaSui01/svdflow/video"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Recorder 流水线使用的指标，*metrics.Collector 实现了该接口
type Recorder interface {
	RecordSubmission(err error)
	RecordResume()
	RecordPollAttempt(result string)
	RecordJobOutcome(outcome string, elapsed time.Duration)
	RecordFramesDecoded(n int)
	RecordEncode(encoder string, duration time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordSubmission(error)                    {}
func (nopRecorder) RecordResume()                             {}
func (nopRecorder) RecordPollAttempt(string)                  {}
func (nopRecorder) RecordJobOutcome(string, time.Duration)    {}
func (nopRecorder) RecordFramesDecoded(int)                   {}
func (nopRecorder) RecordEncode(string, time.Duration, error) {}

// Deps 流水线依赖。Encoder 为 nil 时按配置创建，Transcoder 为 nil 且配置开启转码时同理。
type Deps struct {
	Store      storage.ObjectStore
	Submitter  invoker.Submitter
	Jobs       jobstore.Store
	Encoder    video.Encoder
	Transcoder *video.Transcoder
	Metrics    Recorder
	// Clock 轮询用时钟，测试注入
	Clock poller.Clock
}

// JobSpec 一次生成任务的输入。Request 非空时直接使用，跳过构建。
type JobSpec struct {
	Title   string
	Image   payload.ImageSource
	Params  payload.Params
	Request *payload.Request
}

// Report 一个任务的结局与产物
type Report struct {
	JobID      string                `json:"job_id"`
	Title      string                `json:"title"`
	State      poller.State          `json:"state"`
	Attempts   int                   `json:"attempts"`
	Elapsed    time.Duration         `json:"elapsed"`
	StagedPath string                `json:"staged_path,omitempty"`
	InputURI   string                `json:"input_uri,omitempty"`
	FramePaths []string              `json:"frame_paths,omitempty"`
	Video      *video.Info           `json:"video,omitempty"`
	Transcoded string                `json:"transcoded,omitempty"`
	Failure    *poller.FailureRecord `json:"failure,omitempty"`
	Handle     *invoker.JobHandle    `json:"-"`
}

// Pipeline 把一次生成从构建请求推进到视频文件
type Pipeline struct {
	cfg        *config.Config
	store      storage.ObjectStore
	submitter  invoker.Submitter
	jobs       jobstore.Store
	encoder    video.Encoder
	transcoder *video.Transcoder
	metrics    Recorder
	clock      poller.Clock
	builder    *payload.Builder
	stager     *payload.Stager
	limiter    *rate.Limiter
	logger     *zap.Logger

	titleMu sync.Mutex
	claimed map[string]struct{}
}

// New 组装流水线
func New(cfg *config.Config, deps Deps, logger *zap.Logger) (*Pipeline, error) {
	if deps.Store == nil || deps.Submitter == nil {
		return nil, errors.New("pipeline requires an object store and a submitter")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Jobs == nil {
		deps.Jobs = jobstore.NewMemoryStore()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if deps.Encoder == nil {
		enc, err := video.NewEncoder(cfg.Video, logger)
		if err != nil {
			return nil, err
		}
		deps.Encoder = enc
	}
	if deps.Transcoder == nil && cfg.Video.Transcode {
		tc, err := video.NewTranscoder(cfg.Video.FFmpegPath, video.TranscodeConfigFrom(cfg.Video), video.ExecRunner{}, logger)
		if err != nil {
			return nil, err
		}
		deps.Transcoder = tc
	}

	limit, burst := submitLimit(cfg.Pipeline.SubmitRate, cfg.Pipeline.SubmitBurst)

	return &Pipeline{
		cfg:        cfg,
		store:      deps.Store,
		submitter:  deps.Submitter,
		jobs:       deps.Jobs,
		encoder:    deps.Encoder,
		transcoder: deps.Transcoder,
		metrics:    deps.Metrics,
		clock:      deps.Clock,
		builder:    payload.NewBuilder(cfg.Inference, logger),
		stager:     payload.NewStager(cfg.Paths.StagingDir),
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger.With(zap.String("component", "pipeline")),
		claimed:    make(map[string]struct{}),
	}, nil
}

// Jobs 任务台账
func (p *Pipeline) Jobs() jobstore.Store { return p.jobs }

// SetSubmitRate 运行时调整提交限速，rate 为 0 表示不限速
func (p *Pipeline) SetSubmitRate(perSecond float64, burst int) {
	limit, b := submitLimit(perSecond, burst)
	p.limiter.SetBurst(b)
	p.limiter.SetLimit(limit)
	p.logger.Info("submit rate updated", zap.Float64("rate", perSecond), zap.Int("burst", b))
}

func submitLimit(perSecond float64, burst int) (rate.Limit, int) {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return limit, burst
}

// =============================================================================
// 🚀 Run
// =============================================================================

// Run 构建 → 暂存 → 上传 → 提交 → 记账 → 轮询 → 解码 → 写帧 → 编码 → 可选转码。
// FAILED 与 TIMED_OUT 通过 Report 返回，不是错误。
func (p *Pipeline) Run(ctx context.Context, spec JobSpec) (report *Report, err error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.run", attribute.String("job.title", spec.Title))
	defer func() { telemetry.EndSpan(span, err) }()

	req, err := p.request(ctx, spec)
	if err != nil {
		return nil, err
	}
	rec, handle, report, err := p.submit(ctx, req)
	if err != nil {
		if handle != nil {
			p.metrics.RecordJobOutcome("ERROR", 0)
		}
		return report, err
	}
	return p.complete(ctx, rec, handle, report)
}

// Prepare 构建并校验请求，不产生任何副作用
func (p *Pipeline) Prepare(ctx context.Context, spec JobSpec) (*payload.Request, error) {
	return p.request(ctx, spec)
}

func (p *Pipeline) request(ctx context.Context, spec JobSpec) (*payload.Request, error) {
	if spec.Request != nil {
		req := spec.Request
		if spec.Title != "" && spec.Title != req.MovieTitle {
			req = req.WithTitle(spec.Title)
		}
		if err := req.Validate(); err != nil {
			return nil, err
		}
		return req, nil
	}
	return p.builder.Build(ctx, spec.Title, spec.Image, spec.Params)
}

// Submit 暂存、上传并提交请求，成功后立即写入台账。不等待结果。
func (p *Pipeline) Submit(ctx context.Context, req *payload.Request) (*invoker.JobHandle, *Report, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	_, handle, report, err := p.submit(ctx, req)
	return handle, report, err
}

func (p *Pipeline) submit(ctx context.Context, req *payload.Request) (*jobstore.Record, *invoker.JobHandle, *Report, error) {
	report := &Report{Title: req.MovieTitle}
	logger := p.logger.With(zap.String("title", req.MovieTitle))

	release, err := p.claimTitle(ctx, req.MovieTitle)
	if err != nil {
		return nil, nil, report, err
	}
	defer release()

	staged, data, err := p.stager.Stage(req)
	if err != nil {
		return nil, nil, report, err
	}
	report.StagedPath = staged

	key := fmt.Sprintf("%s/input/%s.json", p.cfg.AWS.Prefix, req.MovieTitle)
	input, err := p.store.Put(ctx, key, data, "application/json")
	if err != nil {
		return nil, nil, report, types.WrapError(err, types.ErrStorage, "upload request")
	}
	report.InputURI = input.String()
	logger.Info("request uploaded", zap.String("input", input.String()), zap.Int("bytes", len(data)))

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, nil, report, types.NewError(types.ErrCancelled, "submission cancelled").WithCause(err)
	}
	handle, err := p.submitter.Submit(ctx, input, p.cfg.Inference.InvocationTimeout)
	p.metrics.RecordSubmission(err)
	if err != nil {
		return nil, nil, report, err
	}
	if handle.InputLocation.IsZero() {
		handle.InputLocation = input
	}
	if handle.ExpectedFrames == 0 {
		handle.ExpectedFrames = req.NumFrames
	}
	report.JobID = handle.InferenceID
	report.Handle = handle

	rec := jobstore.NewRecord(req.MovieTitle, req.FPS, handle)
	if err := p.jobs.Save(ctx, rec); err != nil {
		logger.Error("failed to record submitted job", zap.String("job_id", handle.InferenceID), zap.Error(err))
		return nil, handle, report, types.WrapError(err, types.ErrStorage, "record submitted job")
	}
	logger.Info("job submitted",
		zap.String("job_id", handle.InferenceID),
		zap.String("output", handle.OutputLocation.String()),
		zap.String("failure", handle.FailureLocation.String()),
	)
	return rec, handle, report, nil
}

// liveStatuses 处于这些状态的任务，远端仍可能读取其输入对象。
// timed_out 在内：句柄超时不含排队时间，任务可能仍在端点队列里。
var liveStatuses = []jobstore.Status{jobstore.StatusSubmitted, jobstore.StatusTimedOut}

// LiveStatuses 返回远端可能仍在处理的任务状态，服务启动时据此继续轮询
func LiveStatuses() []jobstore.Status {
	return slices.Clone(liveStatuses)
}

// claimTitle 保证同一标题同时只有一个存活任务。输入对象、暂存文件、帧目录和视频路径都由标题派生，
// 重名会让排队中的任务读到别人的请求。占用一直持续到台账写入 submitted 记录为止，之后由台账负责。
// 跨进程互斥依赖共享台账（redis / sql）。
func (p *Pipeline) claimTitle(ctx context.Context, title string) (func(), error) {
	p.titleMu.Lock()
	defer p.titleMu.Unlock()

	if _, busy := p.claimed[title]; busy {
		return nil, titleConflict(title, "")
	}
	live, err := p.jobs.List(ctx, jobstore.Filter{Title: title, Status: liveStatuses, Limit: 1})
	if err != nil {
		return nil, types.WrapError(err, types.ErrStorage, "check live jobs for title")
	}
	if len(live) > 0 {
		return nil, titleConflict(title, live[0].ID)
	}

	p.claimed[title] = struct{}{}
	return func() {
		p.titleMu.Lock()
		delete(p.claimed, title)
		p.titleMu.Unlock()
	}, nil
}

func titleConflict(title, jobID string) *types.Error {
	msg := fmt.Sprintf("title %q is used by a job that is still being submitted", title)
	if jobID != "" {
		msg = fmt.Sprintf("title %q is used by live job %s; resume it or choose another title", title, jobID)
	}
	return types.NewError(types.ErrInvalidRequest, msg).WithHTTPStatus(http.StatusConflict)
}

// =============================================================================
// 🔄 Resume
// =============================================================================

// Resume 由台账记录重建句柄继续轮询。已成功或已失败的任务直接返回记录中的结局。
func (p *Pipeline) Resume(ctx context.Context, jobID string) (*Report, error) {
	return p.resume(ctx, jobID, true)
}

// Await 等待本进程刚通过 Submit 提交的任务
func (p *Pipeline) Await(ctx context.Context, jobID string) (*Report, error) {
	return p.resume(ctx, jobID, false)
}

func (p *Pipeline) resume(ctx context.Context, jobID string, resumed bool) (report *Report, err error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.resume",
		attribute.String("job.id", jobID),
		attribute.Bool("job.resumed", resumed),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	rec, err := p.jobs.Get(ctx, jobID)
	if errors.Is(err, jobstore.ErrNotFound) {
		return nil, types.Errorf(types.ErrNotFound, "job %s not found", jobID)
	}
	if err != nil {
		return nil, types.WrapError(err, types.ErrStorage, "load job record")
	}

	report = &Report{JobID: rec.ID, Title: rec.Title, InputURI: rec.InputLocation, Attempts: rec.Attempts}
	switch rec.Status {
	case jobstore.StatusSucceeded:
		report.State = poller.StateSucceeded
		if rec.VideoPath != "" {
			report.Video = &video.Info{Path: rec.VideoPath, Encoder: p.encoder.Name(), FPS: rec.FPS}
		}
		return report, nil
	case jobstore.StatusFailed:
		report.State = poller.StateFailed
		report.Failure = &poller.FailureRecord{Message: rec.Error}
		return report, nil
	}

	handle, err := rec.Handle()
	if err != nil {
		return report, types.NewError(types.ErrInvalidRequest, "job record has unusable locations").WithCause(err)
	}
	report.Handle = handle
	if resumed {
		p.metrics.RecordResume()
		p.logger.Info("resuming job", zap.String("job_id", rec.ID), zap.String("previous_status", string(rec.Status)))
	}
	return p.complete(ctx, rec, handle, report)
}

// =============================================================================
// 🎬 轮询与产物
// =============================================================================

func (p *Pipeline) complete(ctx context.Context, rec *jobstore.Record, handle *invoker.JobHandle, report *Report) (*Report, error) {
	logger := p.logger.With(zap.String("job_id", rec.ID), zap.String("title", rec.Title))
	baseAttempts := rec.Attempts

	opts := poller.OptionsFromConfig(p.cfg.Poller)
	opts.Clock = p.clock
	opts.Recorder = p.metrics
	opts.OnAttempt = func(a poller.Attempt) {
		logger.Info("waiting for model output",
			zap.Int("attempt", a.Number),
			zap.Duration("elapsed", a.Elapsed),
			zap.String("state", string(a.State)),
		)
	}

	outcome, waitErr := poller.New(p.store, opts, logger).Wait(ctx, handle)
	if outcome != nil {
		report.State = outcome.State
		report.Attempts = baseAttempts + outcome.Attempts
		report.Elapsed = outcome.Elapsed
		rec.Attempts = report.Attempts
	}
	if waitErr != nil {
		if types.IsErrorCode(waitErr, types.ErrCancelled) {
			// 保持 submitted，之后可用 Resume 继续
			p.finish(ctx, rec, jobstore.StatusSubmitted, "", report, "CANCELLED")
			return report, waitErr
		}
		p.finish(ctx, rec, jobstore.StatusError, waitErr.Error(), report, "ERROR")
		return report, waitErr
	}

	switch outcome.State {
	case poller.StateFailed:
		report.Failure = outcome.Failure
		p.finish(ctx, rec, jobstore.StatusFailed, outcome.Failure.Message, report, string(outcome.State))
		logger.Warn("job failed", zap.String("message", outcome.Failure.Message))
		return report, nil
	case poller.StateTimedOut:
		p.finish(ctx, rec, jobstore.StatusTimedOut, "no result before deadline", report, string(outcome.State))
		logger.Warn("job timed out", zap.Int("attempts", outcome.Attempts), zap.Duration("elapsed", outcome.Elapsed))
		return report, nil
	}

	fps := rec.FPS
	if outcome.Result.Config.FPS > 0 {
		fps = outcome.Result.Config.FPS
	}
	title := rec.Title
	if title == "" {
		title = outcome.Result.Config.MovieTitle
	}
	if err := p.produce(ctx, title, fps, outcome.Result, report); err != nil {
		p.finish(ctx, rec, jobstore.StatusError, err.Error(), report, "ERROR")
		return report, err
	}

	rec.VideoPath = report.Video.Path
	if report.Transcoded != "" {
		rec.VideoPath = report.Transcoded
	}
	p.finish(ctx, rec, jobstore.StatusSucceeded, "", report, string(outcome.State))
	logger.Info("video written",
		zap.String("path", rec.VideoPath),
		zap.Int("frames", report.Video.Frames),
		zap.Duration("duration", report.Video.Duration),
	)
	return report, nil
}

// produce 解码帧、写入帧目录、封装视频并按需转码
func (p *Pipeline) produce(ctx context.Context, title string, fps int, result *payload.Result, report *Report) error {
	frames, err := video.DecodeFrames(result)
	if err != nil {
		return err
	}
	p.metrics.RecordFramesDecoded(len(frames))

	paths, err := video.WriteFrames(filepath.Join(p.cfg.Paths.FramesDir, title), frames)
	if err != nil {
		return types.NewError(types.ErrStorage, "write frames").WithCause(err)
	}
	report.FramePaths = paths

	out := filepath.Join(p.cfg.Paths.VideoDir, title+"."+p.encoder.Ext())
	start := time.Now()
	info, err := p.encoder.Encode(ctx, frames, fps, out)
	p.metrics.RecordEncode(p.encoder.Name(), time.Since(start), err)
	if err != nil {
		return err
	}
	report.Video = info

	if p.transcoder != nil {
		transcoded, err := p.transcoder.Transcode(ctx, info.Path, "")
		if err != nil {
			return err
		}
		report.Transcoded = transcoded
	}
	return nil
}

// finish 更新台账与结局指标；台账写失败只记日志，结局以返回值为准
func (p *Pipeline) finish(ctx context.Context, rec *jobstore.Record, status jobstore.Status, msg string, report *Report, outcome string) {
	rec.Status = status
	rec.Error = msg
	p.metrics.RecordJobOutcome(outcome, report.Elapsed)
	// 取消后仍要落账
	saveCtx := context.WithoutCancel(ctx)
	if err := p.jobs.Save(saveCtx, rec); err != nil {
		p.logger.Error("failed to update job record",
			zap.String("job_id", rec.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}
