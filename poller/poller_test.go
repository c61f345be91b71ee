package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/svdflow/invoker"
	"github.com/BaSui01/svdflow/payload"
	"github.com/BaSui01/svdflow/storage"
	"github.com/BaSui01/svdflow/testutil"
	"github.com/BaSui01/svdflow/testutil/fixtures"
	"github.com/BaSui01/svdflow/testutil/mocks"
	"github.com/BaSui01/svdflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

const interval = 15 * time.Second

func newHandle() *invoker.JobHandle {
	return &invoker.JobHandle{
		InferenceID:     "job-1",
		OutputLocation:  storage.Location{Bucket: "bucket", Key: "async_inference/output/job-1.out"},
		FailureLocation: storage.Location{Bucket: "bucket", Key: "async_inference/failure/job-1-error.out"},
	}
}

func submitTo(ctx context.Context, svc *mocks.AsyncService, req *payload.Request) (*invoker.JobHandle, error) {
	data, err := req.Marshal()
	if err != nil {
		return nil, err
	}
	input, err := svc.Put(ctx, "async_inference/input/"+req.MovieTitle+".json", data, "application/json")
	if err != nil {
		return nil, err
	}
	return svc.Submit(ctx, input, time.Hour)
}

func newPoller(store storage.ObjectStore, clock Clock, deadline time.Duration) *Poller {
	return New(store, Options{Interval: interval, Deadline: deadline, Clock: clock}, zap.NewNop())
}

// =============================================================================
// 🎬 端到端场景
// =============================================================================

func TestWait_SucceedsOnThirdAttempt(t *testing.T) {
	ctx := testutil.TestContext(t)
	clock := testutil.NewManualClock()
	svc := mocks.NewAsyncService("bucket", func(*payload.Request) mocks.Behavior {
		return mocks.Behavior{SucceedOnProbe: 3}
	})

	handle, err := submitTo(ctx, svc, fixtures.Request("t1", 3, 6))
	require.NoError(t, err)

	var attempts []Attempt
	p := New(svc, Options{Interval: interval, Clock: clock, OnAttempt: func(a Attempt) { attempts = append(attempts, a) }}, zap.NewNop())

	out, err := p.Wait(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, out.State)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 30*time.Second, out.Elapsed)
	require.NotNil(t, out.Result)
	assert.Len(t, out.Result.Frames, 3)
	assert.Equal(t, "t1", out.Result.Config.MovieTitle)
	assert.Equal(t, 6, out.Result.Config.FPS)
	assert.Nil(t, out.Failure)
	assert.Same(t, handle, out.Handle)

	assert.Equal(t, []time.Duration{interval, interval}, clock.Sleeps())
	require.Len(t, attempts, 3)
	assert.Equal(t, StateWaiting, attempts[0].State)
	assert.Equal(t, StateSucceeded, attempts[2].State)
}

func TestWait_FailureRecordAttached(t *testing.T) {
	ctx := testutil.TestContext(t)
	clock := testutil.NewManualClock()
	raw := []byte(`{"message":"Input image has an unsupported aspect ratio"}`)
	svc := mocks.NewAsyncService("bucket", func(*payload.Request) mocks.Behavior {
		return mocks.Behavior{FailOnProbe: 2, FailurePayload: raw}
	})

	handle, err := submitTo(ctx, svc, fixtures.Request("t1", 3, 6))
	require.NoError(t, err)

	out, err := newPoller(svc, clock, 0).Wait(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, 2, out.Attempts)
	require.NotNil(t, out.Failure)
	assert.Equal(t, raw, out.Failure.Raw)
	assert.Equal(t, "Input image has an unsupported aspect ratio", out.Failure.Message)
	// 失败出现后一个间隔内结束
	assert.Equal(t, interval, out.Elapsed)
}

func TestWait_TimesOutAfterExactlyTwoRetries(t *testing.T) {
	ctx := testutil.TestContext(t)
	clock := testutil.NewManualClock()
	svc := mocks.NewAsyncService("bucket", func(*payload.Request) mocks.Behavior { return mocks.Behavior{} })

	handle, err := submitTo(ctx, svc, fixtures.Request("t1", 3, 6))
	require.NoError(t, err)

	out, err := newPoller(svc, clock, 2*interval).Wait(ctx, handle)
	require.NoError(t, err, "timeout is an outcome, not an error")
	assert.Equal(t, StateTimedOut, out.State)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3, svc.OutputProbes(0))
	assert.Len(t, clock.Sleeps(), 2)
	assert.Nil(t, out.Result)
	assert.Nil(t, out.Failure)
}

// =============================================================================
// 🎲 性质测试
// =============================================================================

func TestWait_SuccessBeforeFailureAlwaysSucceeds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		succeedAt := rapid.IntRange(1, 8).Draw(rt, "succeed_at")
		failAt := rapid.IntRange(succeedAt, 10).Draw(rt, "fail_at")
		step := time.Duration(rapid.IntRange(1, 120).Draw(rt, "interval_s")) * time.Second

		ctx := context.Background()
		svc := mocks.NewAsyncService("bucket", func(*payload.Request) mocks.Behavior {
			return mocks.Behavior{SucceedOnProbe: succeedAt, FailOnProbe: failAt}
		})
		handle, err := submitTo(ctx, svc, fixtures.Request("p", 2, 6))
		if err != nil {
			rt.Fatalf("submit: %v", err)
		}

		p := New(svc, Options{Interval: step, Clock: testutil.NewManualClock()}, zap.NewNop())
		out, err := p.Wait(ctx, handle)
		if err != nil {
			rt.Fatalf("wait: %v", err)
		}
		if out.State != StateSucceeded {
			rt.Fatalf("state = %s, want SUCCEEDED", out.State)
		}
		if out.Attempts != succeedAt {
			rt.Fatalf("attempts = %d, want %d", out.Attempts, succeedAt)
		}
	})
}

func TestWait_OnlyFailureTerminatesWithinOneInterval(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		failAt := rapid.IntRange(1, 10).Draw(rt, "fail_at")

		ctx := context.Background()
		svc := mocks.NewAsyncService("bucket", func(*payload.Request) mocks.Behavior {
			return mocks.Behavior{FailOnProbe: failAt}
		})
		handle, err := submitTo(ctx, svc, fixtures.Request("p", 2, 6))
		if err != nil {
			rt.Fatalf("submit: %v", err)
		}

		out, err := newPoller(svc, testutil.NewManualClock(), 0).Wait(ctx, handle)
		if err != nil {
			rt.Fatalf("wait: %v", err)
		}
		if out.State != StateFailed || out.Attempts != failAt {
			rt.Fatalf("got %s after %d attempts, want FAILED after %d", out.State, out.Attempts, failAt)
		}
		if want := time.Duration(failAt-1) * interval; out.Elapsed != want {
			rt.Fatalf("elapsed %v, want %v", out.Elapsed, want)
		}
	})
}

func TestWait_NeitherLocationTimesOutWithoutError(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		retries := rapid.IntRange(0, 6).Draw(rt, "retries")

		out, err := newPoller(storage.NewMemoryStore("bucket"), testutil.NewManualClock(), time.Duration(retries)*interval).
			Wait(context.Background(), &invoker.JobHandle{
				OutputLocation:  storage.Location{Bucket: "bucket", Key: "o"},
				FailureLocation: storage.Location{Bucket: "bucket", Key: "f"},
				Timeout:         time.Second,
			})
		if retries == 0 {
			// Deadline 为 0 时退回句柄上的 1s 超时
			if err != nil || out.State != StateTimedOut {
				rt.Fatalf("got %v / %v", out, err)
			}
			return
		}
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if out.State != StateTimedOut || out.Attempts != retries+1 {
			rt.Fatalf("got %s after %d attempts, want TIMED_OUT after %d", out.State, out.Attempts, retries+1)
		}
	})
}

// =============================================================================
// 💥 错误处理
// =============================================================================

func TestWait_OutputReadErrorIsFatal(t *testing.T) {
	store := storage.NewMemoryStore("bucket")
	handle := newHandle()
	denied := errors.New("AccessDenied")
	store.FailGet(handle.OutputLocation, denied)

	out, err := newPoller(store, testutil.NewManualClock(), 0).Wait(context.Background(), handle)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrStorage))
	assert.ErrorIs(t, err, denied)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, StateWaiting, out.State)
}

func TestWait_FailureProbeErrorsAreSwallowed(t *testing.T) {
	store := storage.NewMemoryStore("bucket")
	handle := newHandle()
	flaky := errors.New("connection reset by peer")
	store.FailGet(handle.FailureLocation, flaky)

	clock := testutil.NewManualClock()
	var seen []error
	p := New(store, Options{
		Interval:  interval,
		Clock:     clock,
		OnAttempt: func(a Attempt) {
			seen = append(seen, a.FailureProbeErr)
			if a.Number == 4 {
				store.Set(handle.OutputLocation, fixtures.ResultJSON(t, "t1", 6, 3))
			}
		},
	}, zap.NewNop())

	out, err := p.Wait(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, out.State)
	assert.Equal(t, 5, out.Attempts)
	assert.ErrorIs(t, out.LastProbeError, flaky)
	for _, e := range seen[:4] {
		assert.ErrorIs(t, e, flaky)
	}
}

func TestWait_FailureProbeThreshold(t *testing.T) {
	store := storage.NewMemoryStore("bucket")
	handle := newHandle()
	flaky := errors.New("503 SlowDown")
	store.FailGet(handle.FailureLocation, flaky)

	p := New(store, Options{Interval: interval, FailureProbeMaxErrors: 3, Clock: testutil.NewManualClock()}, zap.NewNop())
	out, err := p.Wait(context.Background(), handle)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrStorage))
	assert.ErrorIs(t, err, flaky)
	assert.Equal(t, 3, out.Attempts)
}

func TestWait_FailureProbeThresholdResetsOnNotFound(t *testing.T) {
	store := storage.NewMemoryStore("bucket")
	handle := newHandle()
	flaky := errors.New("503 SlowDown")
	store.FailGet(handle.FailureLocation, flaky)

	p := New(store, Options{
		Interval:              interval,
		FailureProbeMaxErrors: 2,
		Clock:                 testutil.NewManualClock(),
		OnAttempt: func(a Attempt) {
			switch a.Number {
			case 1:
				store.FailGet(handle.FailureLocation, nil)
			case 2:
				store.FailGet(handle.FailureLocation, flaky)
			case 3:
				store.Set(handle.OutputLocation, fixtures.ResultJSON(t, "t1", 6, 2))
			}
		},
	}, zap.NewNop())

	out, err := p.Wait(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, out.State)
}

func TestWait_UndecodableResultIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		body     []byte
		expected int
	}{
		{"not json", []byte("<html>502</html>"), 0},
		{"no frames field", []byte(`{"config":{"fps":6}}`), 0},
		{"empty frames", []byte(`{"frames":[],"config":{"fps":6}}`), 0},
		{"frame count differs from handle", fixtures.ResultJSON(t, "t1", 6, 3), 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStore("bucket")
			handle := newHandle()
			handle.ExpectedFrames = tt.expected
			store.Set(handle.OutputLocation, tt.body)

			_, err := newPoller(store, testutil.NewManualClock(), 0).Wait(context.Background(), handle)
			require.Error(t, err)
			assert.True(t, types.IsErrorCode(err, types.ErrDecodeFailed), err.Error())
		})
	}
}

func TestWait_FrameCountFallsBackToEchoedConfig(t *testing.T) {
	store := storage.NewMemoryStore("bucket")
	handle := newHandle()

	res := fixtures.Result(t, "t1", 6, 3)
	res.Config.NumFrames = 4
	data, err := res.Marshal()
	require.NoError(t, err)
	store.Set(handle.OutputLocation, data)

	_, err = newPoller(store, testutil.NewManualClock(), 0).Wait(context.Background(), handle)
	assert.True(t, types.IsErrorCode(err, types.ErrDecodeFailed))
}

// =============================================================================
// ⏱️ 取消与时限
// =============================================================================

type blockingClock struct {
	*testutil.ManualClock
}

func (blockingClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

func TestWait_CancelledWhileSleeping(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(storage.NewMemoryStore("bucket"), Options{
		Interval:  interval,
		Clock:     blockingClock{testutil.NewManualClock()},
		OnAttempt: func(Attempt) { cancel() },
	}, zap.NewNop())

	out, err := p.Wait(ctx, newHandle())
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrCancelled))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, out.Attempts)
}

func TestWait_CancelledBeforeStart(t *testing.T) {
	_, err := newPoller(storage.NewMemoryStore("bucket"), testutil.NewManualClock(), 0).
		Wait(testutil.CancelledContext(), newHandle())
	assert.True(t, types.IsErrorCode(err, types.ErrCancelled))
}

func TestWait_FinalSleepShortenedToDeadline(t *testing.T) {
	clock := testutil.NewManualClock()
	handle := newHandle()
	handle.Timeout = 40 * time.Second

	out, err := newPoller(storage.NewMemoryStore("bucket"), clock, 0).Wait(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, StateTimedOut, out.State)
	assert.Equal(t, 4, out.Attempts)
	assert.Equal(t, []time.Duration{interval, interval, 10 * time.Second}, clock.Sleeps())
}

func TestWait_RealClockShortInterval(t *testing.T) {
	store := storage.NewMemoryStore("bucket")
	handle := newHandle()
	handle.ExpectedFrames = 2

	go func() {
		time.Sleep(20 * time.Millisecond)
		store.Set(handle.OutputLocation, fixtures.ResultJSON(t, "t1", 6, 2))
	}()

	p := New(store, Options{Interval: 5 * time.Millisecond, Deadline: 5 * time.Second}, zap.NewNop())
	out, err := p.Wait(testutil.TestContext(t), handle)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, out.State)
	assert.Greater(t, out.Attempts, 1)
}

// =============================================================================
// 📈 指标与并发
// =============================================================================

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingRecorder) RecordPollAttempt(result string) {
	c.mu.Lock()
	c.counts[result]++
	c.mu.Unlock()
}

func TestWait_RecordsAttempts(t *testing.T) {
	ctx := context.Background()
	svc := mocks.NewAsyncService("bucket", func(*payload.Request) mocks.Behavior {
		return mocks.Behavior{SucceedOnProbe: 3}
	})
	handle, err := submitTo(ctx, svc, fixtures.Request("t1", 2, 6))
	require.NoError(t, err)

	rec := &countingRecorder{counts: map[string]int{}}
	p := New(svc, Options{Interval: interval, Clock: testutil.NewManualClock(), Recorder: rec}, zap.NewNop())
	_, err = p.Wait(ctx, handle)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"pending": 2, "succeeded": 1}, rec.counts)
}

func TestWait_ConcurrentJobsAreIndependent(t *testing.T) {
	ctx := testutil.TestContext(t)
	svc := mocks.NewAsyncService("bucket", func(r *payload.Request) mocks.Behavior {
		if r.Seed%2 == 0 {
			return mocks.Behavior{SucceedOnProbe: int(r.Seed%5) + 1}
		}
		return mocks.Behavior{FailOnProbe: int(r.Seed%5) + 1}
	})

	p := New(svc, Options{Interval: time.Millisecond, Deadline: 10 * time.Second}, zap.NewNop())

	const jobs = 8
	var wg sync.WaitGroup
	states := make([]State, jobs)
	errs := make([]error, jobs)
	for i := 0; i < jobs; i++ {
		req := fixtures.Request("c", 2, 6).WithSeed(int64(i)).WithTitle("c-" + string(rune('a'+i)))
		handle, err := submitTo(ctx, svc, req)
		require.NoError(t, err)

		wg.Add(1)
		go func(i int, h *invoker.JobHandle) {
			defer wg.Done()
			out, err := p.Wait(ctx, h)
			errs[i] = err
			if out != nil {
				states[i] = out.State
			}
		}(i, handle)
	}
	wg.Wait()

	for i := 0; i < jobs; i++ {
		require.NoError(t, errs[i])
		want := StateSucceeded
		if i%2 == 1 {
			want = StateFailed
		}
		assert.Equal(t, want, states[i], "job %d", i)
	}
}

func TestState_IsTerminal(t *testing.T) {
	assert.False(t, StateWaiting.IsTerminal())
	assert.True(t, StateSucceeded.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.True(t, StateTimedOut.IsTerminal())
}

func TestParseFailure(t *testing.T) {
	assert.Equal(t, "boom", ParseFailure([]byte(`{"error":"boom"}`)).Message)
	assert.Equal(t, "model load failed", ParseFailure([]byte(`{"errorMessage":"model load failed","code":500}`)).Message)
	assert.Equal(t, "Traceback: oops", ParseFailure([]byte("  Traceback: oops\n")).Message)
	assert.Equal(t, `{"code":500}`, ParseFailure([]byte(`{"code":500}`)).Message)

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	rec := ParseFailure(long)
	assert.Len(t, rec.Raw, 2000)
	assert.Len(t, rec.Message, maxFailureMessage+3)
}
