package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/BaSui01/svdflow/api"
	"github.com/BaSui01/svdflow/internal/ctxkeys"
	"github.com/BaSui01/svdflow/invoker"
	"github.com/BaSui01/svdflow/jobstore"
	"github.com/BaSui01/svdflow/payload"
	"github.com/BaSui01/svdflow/pipeline"
	"github.com/BaSui01/svdflow/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🎬 任务 Handler
// =============================================================================

// maxListLimit GET /api/v1/jobs 单次最多返回条数
const maxListLimit = 500

// JobRunner 任务执行方，由 *pipeline.Pipeline 实现
type JobRunner interface {
	Prepare(ctx context.Context, spec pipeline.JobSpec) (*payload.Request, error)
	Submit(ctx context.Context, req *payload.Request) (*invoker.JobHandle, *pipeline.Report, error)
	Await(ctx context.Context, jobID string) (*pipeline.Report, error)
	Resume(ctx context.Context, jobID string) (*pipeline.Report, error)
}

// JobHandlerConfig 任务处理器配置
type JobHandlerConfig struct {
	// MaxConcurrent 同时轮询的任务数上限，<= 0 视为 1
	MaxConcurrent int
	// MaxBodyBytes 请求体上限，0 表示不限制
	MaxBodyBytes int64
}

// JobHandler 提交任务并在后台等待结果。提交在请求内同步完成，轮询交给受限的后台 worker。
type JobHandler struct {
	runner  JobRunner
	jobs    jobstore.Store
	maxBody int64
	sem     chan struct{}
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewJobHandler 创建任务处理器
func NewJobHandler(runner JobRunner, jobs jobstore.Store, cfg JobHandlerConfig, logger *zap.Logger) *JobHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := cfg.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobHandler{
		runner:  runner,
		jobs:    jobs,
		maxBody: cfg.MaxBodyBytes,
		sem:     make(chan struct{}, limit),
		logger:  logger.With(zap.String("component", "job_handler")),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register 挂载 /api/v1/jobs 路由
func (h *JobHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/jobs", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/jobs", h.HandleList)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.HandleGet)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleCreate 处理 POST /api/v1/jobs
func (h *JobHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if err := ValidateContentType(r); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	var body api.CreateJobRequest
	if err := DecodeJSONBody(w, r, &body, h.maxBody); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	spec, err := jobSpecFrom(&body)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	req, err := h.runner.Prepare(r.Context(), spec)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	handle, report, err := h.runner.Submit(r.Context(), req)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	if !h.dispatch(handle.InferenceID, false) {
		WriteError(w, r, types.NewError(types.ErrInternalError, "server is shutting down").
			WithHTTPStatus(http.StatusServiceUnavailable).WithRetryable(true), h.logger)
		return
	}

	w.Header().Set("Location", "/api/v1/jobs/"+handle.InferenceID)
	WriteData(w, r, http.StatusAccepted, api.CreateJobResponse{
		JobID:    handle.InferenceID,
		Title:    req.MovieTitle,
		Status:   jobstore.StatusSubmitted,
		InputURI: report.InputURI,
	})
}

// HandleGet 处理 GET /api/v1/jobs/{id}
func (h *JobHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "job id is required", h.logger)
		return
	}
	rec, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		WriteError(w, r, ledgerError(err, id), h.logger)
		return
	}
	WriteData(w, r, http.StatusOK, api.JobFromRecord(rec))
}

// HandleList 处理 GET /api/v1/jobs?status=failed,submitted&title=&limit=
func (h *JobHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	records, err := h.jobs.List(r.Context(), filter)
	if err != nil {
		WriteError(w, r, ledgerError(err, ""), h.logger)
		return
	}
	out := api.JobList{Jobs: make([]api.Job, 0, len(records))}
	for _, rec := range records {
		out.Jobs = append(out.Jobs, api.JobFromRecord(rec))
	}
	out.Count = len(out.Jobs)
	WriteData(w, r, http.StatusOK, out)
}

// =============================================================================
// ⚙️ 后台 worker
// =============================================================================

// ResumePending 为台账中所有 submitted 和 timed_out 任务重新安排轮询，返回安排的数量。
// timed_out 任务的结果可能在截止之后才写出（排队时间不计入句柄超时），重启时再给一次机会。
func (h *JobHandler) ResumePending(ctx context.Context) (int, error) {
	records, err := h.jobs.List(ctx, jobstore.Filter{Status: pipeline.LiveStatuses()})
	if err != nil {
		return 0, types.WrapError(err, types.ErrStorage, "list pending jobs")
	}
	n := 0
	for _, rec := range records {
		if h.dispatch(rec.ID, true) {
			n++
		}
	}
	if n > 0 {
		h.logger.Info("resumed pending jobs", zap.Int("count", n))
	}
	return n, nil
}

func (h *JobHandler) dispatch(id string, resumed bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.wg.Add(1)
	go h.await(id, resumed)
	return true
}

func (h *JobHandler) await(id string, resumed bool) {
	defer h.wg.Done()

	select {
	case h.sem <- struct{}{}:
	case <-h.ctx.Done():
		return
	}
	defer func() { <-h.sem }()

	ctx := ctxkeys.WithJobID(h.ctx, id)
	wait := h.runner.Await
	if resumed {
		wait = h.runner.Resume
	}
	report, err := wait(ctx, id)

	log := h.logger.With(zap.String("job_id", id), zap.Bool("resumed", resumed))
	switch {
	case types.IsErrorCode(err, types.ErrCancelled):
		log.Info("job wait interrupted, left for resume")
	case err != nil:
		log.Error("job failed", zap.Error(err))
	default:
		log.Info("job finished",
			zap.String("state", string(report.State)),
			zap.Int("attempts", report.Attempts),
		)
	}
}

// Close 停止接收新任务，取消正在进行的等待并等待 worker 退出。
// 被中断的任务保持 submitted，下次启动由 ResumePending 接手。
func (h *JobHandler) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func jobSpecFrom(body *api.CreateJobRequest) (pipeline.JobSpec, error) {
	if err := payload.ValidateTitle(body.Title); err != nil {
		return pipeline.JobSpec{}, types.NewError(types.ErrInvalidRequest, err.Error())
	}

	var src payload.ImageSource
	switch {
	case body.ImageURL != "" && body.ImageBase64 != "":
		return pipeline.JobSpec{}, types.NewError(types.ErrInvalidRequest, "image_url and image_base64 are mutually exclusive")
	case body.ImageURL != "":
		if !payload.IsRemoteURL(body.ImageURL) {
			return pipeline.JobSpec{}, types.NewError(types.ErrInvalidRequest, "image_url must be an http(s) URL")
		}
		src.URL = body.ImageURL
	case body.ImageBase64 != "":
		data, err := decodeImage(body.ImageBase64)
		if err != nil {
			return pipeline.JobSpec{}, err
		}
		src.Data = data
	default:
		return pipeline.JobSpec{}, types.NewError(types.ErrInvalidRequest, "image_url or image_base64 is required")
	}

	// 宽高留 0，由图片尺寸或默认值决定
	base := payload.DefaultParams()
	base.Width, base.Height = 0, 0
	return pipeline.JobSpec{
		Title:  body.Title,
		Image:  src,
		Params: body.Params.Apply(base),
	}, nil
}

func decodeImage(s string) ([]byte, error) {
	if payload.IsDataURI(s) {
		_, data, err := payload.DecodeDataURI(s)
		if err != nil {
			return nil, types.NewError(types.ErrInvalidRequest, "invalid image data URI").WithCause(err)
		}
		return data, nil
	}
	s = strings.TrimSpace(s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	if err != nil || len(data) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "image_base64 is not valid base64")
	}
	return data, nil
}

func parseFilter(r *http.Request) (jobstore.Filter, error) {
	q := r.URL.Query()
	var f jobstore.Filter
	for _, raw := range q["status"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			st, err := jobstore.ParseStatus(part)
			if err != nil {
				return f, types.NewError(types.ErrInvalidRequest, err.Error())
			}
			f.Status = append(f.Status, st)
		}
	}
	f.Title = q.Get("title")
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, types.Errorf(types.ErrInvalidRequest, "limit must be a non-negative integer, got %q", v)
		}
		f.Limit = n
	}
	if f.Limit == 0 || f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	return f, nil
}

func ledgerError(err error, id string) error {
	if errors.Is(err, jobstore.ErrNotFound) {
		return types.Errorf(types.ErrNotFound, "job %s not found", id).WithCause(err)
	}
	return types.WrapError(err, types.ErrStorage, "job ledger unavailable")
}
