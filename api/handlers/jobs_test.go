package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/svdflow/api"
	"github.com/BaSui01/svdflow/config"
	"github.com/BaSui01/svdflow/jobstore"
	"github.com/BaSui01/svdflow/payload"
	"github.com/BaSui01/svdflow/pipeline"
	"github.com/BaSui01/svdflow/testutil"
	"github.com/BaSui01/svdflow/testutil/fixtures"
	"github.com/BaSui01/svdflow/testutil/mocks"
	"github.com/BaSui01/svdflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

type jobsFixture struct {
	svc     *mocks.AsyncService
	jobs    *jobstore.MemoryStore
	handler *JobHandler
	mux     *http.ServeMux
}

func newJobsFixture(t *testing.T, behave func(*payload.Request) mocks.Behavior) *jobsFixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.AWS.Bucket = "bucket"
	cfg.Video.Encoder = "mjpeg"
	cfg.Video.Transcode = false
	cfg.Paths.StagingDir = filepath.Join(dir, "staging")
	cfg.Paths.FramesDir = filepath.Join(dir, "frames")
	cfg.Paths.VideoDir = filepath.Join(dir, "video")

	f := &jobsFixture{
		svc:  mocks.NewAsyncService("bucket", behave),
		jobs: jobstore.NewMemoryStore(),
	}
	p, err := pipeline.New(cfg, pipeline.Deps{
		Store:     f.svc,
		Submitter: f.svc,
		Jobs:      f.jobs,
		Clock:     testutil.NewManualClock(),
	}, zap.NewNop())
	require.NoError(t, err)

	f.handler = NewJobHandler(p, f.jobs, JobHandlerConfig{MaxConcurrent: 2, MaxBodyBytes: 1 << 20}, zap.NewNop())
	t.Cleanup(func() { _ = f.handler.Close(context.Background()) })
	f.mux = http.NewServeMux()
	f.handler.Register(f.mux)
	return f
}

func (f *jobsFixture) do(t *testing.T, method, target string, body []byte) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	r := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func (f *jobsFixture) status(id string) jobstore.Status {
	rec, err := f.jobs.Get(context.Background(), id)
	if err != nil {
		return ""
	}
	return rec.Status
}

func decodeData[T any](t *testing.T, resp Response) T {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func createBody(t *testing.T, title string, frames int) []byte {
	return testutil.MustJSON(t, map[string]any{
		"title":     title,
		"image_url": "https://example.com/rocket.png",
		"params":    map[string]any{"num_frames": frames, "fps": 6},
	})
}

// =============================================================================
// 🧪 POST /api/v1/jobs
// =============================================================================

func TestJobHandler_CreateRunsInBackground(t *testing.T) {
	f := newJobsFixture(t, nil)

	w, resp := f.do(t, http.MethodPost, "/api/v1/jobs", createBody(t, "rocket", 3))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.True(t, resp.Success)

	created := decodeData[api.CreateJobResponse](t, resp)
	assert.Equal(t, "mock-001", created.JobID)
	assert.Equal(t, "rocket", created.Title)
	assert.Equal(t, jobstore.StatusSubmitted, created.Status)
	assert.Equal(t, "s3://bucket/async_inference/input/rocket.json", created.InputURI)
	assert.Equal(t, "/api/v1/jobs/mock-001", w.Header().Get("Location"))

	testutil.AssertEventuallyTrue(t, func() bool {
		return f.status("mock-001") == jobstore.StatusSucceeded
	}, 5*time.Second)

	w, resp = f.do(t, http.MethodGet, "/api/v1/jobs/mock-001", nil)
	require.Equal(t, http.StatusOK, w.Code)
	job := decodeData[api.Job](t, resp)
	assert.Equal(t, jobstore.StatusSucceeded, job.Status)
	assert.Equal(t, 3, job.ExpectedFrames)
	assert.Equal(t, 6, job.FPS)
	assert.Equal(t, 1, job.Attempts)
	assert.FileExists(t, job.VideoPath)
}

func TestJobHandler_CreateWithBase64Image(t *testing.T) {
	f := newJobsFixture(t, nil)
	img := base64.StdEncoding.EncodeToString(fixtures.MakeJPEG(64, 32, 90))

	for _, image := range []string{img, payload.EncodeDataURI("image/jpeg", fixtures.MakeJPEG(64, 32, 90))} {
		body := testutil.MustJSON(t, map[string]any{
			"title":        "local",
			"image_base64": image,
			"params":       map[string]any{"num_frames": 2, "seed": 7},
		})
		w, _ := f.do(t, http.MethodPost, "/api/v1/jobs", body)
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	}

	subs := f.svc.Submissions()
	require.Len(t, subs, 2)
	assert.True(t, payload.IsDataURI(subs[0].Image))
	assert.Equal(t, 64, subs[0].Width)
	assert.Equal(t, 32, subs[0].Height)
	assert.Equal(t, int64(7), subs[0].Seed)
	assert.Equal(t, payload.DefaultParams().FPS, subs[0].FPS)
}

func TestJobHandler_CreateRejectsBadRequests(t *testing.T) {
	f := newJobsFixture(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty title", `{"title":"","image_url":"https://example.com/a.png"}`, http.StatusBadRequest},
		{"path in title", `{"title":"../x","image_url":"https://example.com/a.png"}`, http.StatusBadRequest},
		{"no image", `{"title":"a"}`, http.StatusBadRequest},
		{"both images", `{"title":"a","image_url":"https://example.com/a.png","image_base64":"AAAA"}`, http.StatusBadRequest},
		{"local path url", `{"title":"a","image_url":"/etc/passwd"}`, http.StatusBadRequest},
		{"bad base64", `{"title":"a","image_base64":"%%%"}`, http.StatusBadRequest},
		{"unknown field", `{"title":"a","image_url":"https://example.com/a.png","model":"x"}`, http.StatusBadRequest},
		{"bad fps", `{"title":"a","image_url":"https://example.com/a.png","params":{"fps":0}}`, http.StatusBadRequest},
		{"malformed json", `{"title":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := f.do(t, http.MethodPost, "/api/v1/jobs", []byte(tt.body))
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
		})
	}
	assert.Empty(t, f.svc.Submissions())
}

func TestJobHandler_CreateRequiresJSON(t *testing.T) {
	f := newJobsFixture(t, nil)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestJobHandler_CreateSubmitFailure(t *testing.T) {
	f := newJobsFixture(t, func(*payload.Request) mocks.Behavior {
		return mocks.Behavior{SubmitErr: types.NewError(types.ErrSubmitFailed, "endpoint not found")}
	})

	w, resp := f.do(t, http.MethodPost, "/api/v1/jobs", createBody(t, "rocket", 3))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrSubmitFailed), resp.Error.Code)

	records, err := f.jobs.List(context.Background(), jobstore.Filter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestJobHandler_CreateRejectsLiveTitle(t *testing.T) {
	f := newJobsFixture(t, func(*payload.Request) mocks.Behavior { return mocks.Behavior{} })

	w, resp := f.do(t, http.MethodPost, "/api/v1/jobs", createBody(t, "cat", 3))
	require.Equal(t, http.StatusAccepted, w.Code)
	created := decodeData[api.CreateJobResponse](t, resp)

	w, resp = f.do(t, http.MethodPost, "/api/v1/jobs", createBody(t, "cat", 3))
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
	assert.Contains(t, resp.Error.Message, created.JobID)
	assert.Len(t, f.svc.Submissions(), 1)

	w, _ = f.do(t, http.MethodPost, "/api/v1/jobs", createBody(t, "dog", 3))
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestJobHandler_CreateAfterClose(t *testing.T) {
	f := newJobsFixture(t, nil)
	require.NoError(t, f.handler.Close(context.Background()))

	w, resp := f.do(t, http.MethodPost, "/api/v1/jobs", createBody(t, "late", 1))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NotNil(t, resp.Error)
	assert.True(t, resp.Error.Retryable)
}

// =============================================================================
// 🧪 GET /api/v1/jobs
// =============================================================================

func TestJobHandler_GetMissing(t *testing.T) {
	f := newJobsFixture(t, nil)
	w, resp := f.do(t, http.MethodGet, "/api/v1/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrNotFound), resp.Error.Code)
}

func TestJobHandler_ListByStatus(t *testing.T) {
	f := newJobsFixture(t, func(req *payload.Request) mocks.Behavior {
		if req.MovieTitle == "doomed" {
			return mocks.Behavior{FailOnProbe: 1}
		}
		return mocks.Behavior{SucceedOnProbe: 1}
	})

	for _, title := range []string{"one", "doomed", "two"} {
		w, _ := f.do(t, http.MethodPost, "/api/v1/jobs", createBody(t, title, 1))
		require.Equal(t, http.StatusAccepted, w.Code)
	}
	testutil.AssertEventuallyTrue(t, func() bool {
		return f.status("mock-001").IsTerminal() && f.status("mock-002").IsTerminal() && f.status("mock-003").IsTerminal()
	}, 5*time.Second)

	_, resp := f.do(t, http.MethodGet, "/api/v1/jobs", nil)
	all := decodeData[api.JobList](t, resp)
	assert.Equal(t, 3, all.Count)

	_, resp = f.do(t, http.MethodGet, "/api/v1/jobs?status=failed", nil)
	failed := decodeData[api.JobList](t, resp)
	require.Equal(t, 1, failed.Count)
	assert.Equal(t, "doomed", failed.Jobs[0].Title)
	assert.Equal(t, "CUDA out of memory", failed.Jobs[0].Error)

	_, resp = f.do(t, http.MethodGet, "/api/v1/jobs?status=succeeded,failed&limit=2", nil)
	assert.Equal(t, 2, decodeData[api.JobList](t, resp).Count)

	w, resp := f.do(t, http.MethodGet, "/api/v1/jobs?status=running", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, resp.Error.Message, "running")

	w, _ = f.do(t, http.MethodGet, "/api/v1/jobs?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// 🧪 ResumePending
// =============================================================================

func TestJobHandler_ResumePending(t *testing.T) {
	f := newJobsFixture(t, nil)
	ctx := testutil.TestContext(t)

	// 模拟上一次进程提交后退出：只提交不等待
	p, ok := f.handler.runner.(*pipeline.Pipeline)
	require.True(t, ok)
	for _, title := range []string{"a", "b"} {
		_, _, err := p.Submit(ctx, fixtures.Request(title, 2, 6))
		require.NoError(t, err)
	}
	assert.Equal(t, jobstore.StatusSubmitted, f.status("mock-001"))

	n, err := f.handler.ResumePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	testutil.AssertEventuallyTrue(t, func() bool {
		return f.status("mock-001") == jobstore.StatusSucceeded && f.status("mock-002") == jobstore.StatusSucceeded
	}, 5*time.Second)

	n, err = f.handler.ResumePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestJobHandler_ResumePendingIncludesTimedOut(t *testing.T) {
	f := newJobsFixture(t, nil)
	ctx := testutil.TestContextWithTimeout(t, 10*time.Second)

	p, ok := f.handler.runner.(*pipeline.Pipeline)
	require.True(t, ok)
	handle, _, err := p.Submit(ctx, fixtures.Request("slow", 2, 6))
	require.NoError(t, err)

	// 上一次进程在排队期间就已判定超时
	rec, err := f.jobs.Get(ctx, handle.InferenceID)
	require.NoError(t, err)
	rec.Status = jobstore.StatusTimedOut
	require.NoError(t, f.jobs.Save(ctx, rec))

	n, err := f.handler.ResumePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	testutil.AssertEventuallyTrue(t, func() bool {
		return f.status(handle.InferenceID) == jobstore.StatusSucceeded
	}, 5*time.Second)
}

// =============================================================================
// 🧪 参数转换
// =============================================================================

func TestJobParams_Apply(t *testing.T) {
	base := payload.DefaultParams()
	assert.Equal(t, base, (*api.JobParams)(nil).Apply(base))

	frames, guidance, seed := 14, 2.5, int64(-1)
	got := (&api.JobParams{NumFrames: &frames, MaxGuidanceScale: &guidance, Seed: &seed}).Apply(base)
	assert.Equal(t, 14, got.NumFrames)
	assert.Equal(t, 2.5, got.MaxGuidanceScale)
	assert.Equal(t, int64(-1), got.Seed)
	assert.Equal(t, base.FPS, got.FPS)
	assert.Equal(t, base.MotionBucketID, got.MotionBucketID)
}
