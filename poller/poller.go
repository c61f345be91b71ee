package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/svdflow/config"
	"github.com/BaSui01/svdflow/internal/telemetry"
	"github.com/BaSui01/svdflow/invoker"
	"github.com/BaSui01/svdflow/payload"
	"github.com/BaSui01/svdflow/storage"
	"github.com/BaSui01/svdflow/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultInterval 参考部署中的探测间隔
const DefaultInterval = 15 * time.Second

// =============================================================================
// 🚦 状态
// =============================================================================

// State 任务轮询状态
type State string

const (
	StateWaiting   State = "WAITING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateTimedOut  State = "TIMED_OUT"
)

// IsTerminal 终态不再转移
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateTimedOut
}

// Attempt 一次探测后的进度
type Attempt struct {
	Number  int
	Elapsed time.Duration
	State   State
	// FailureProbeErr 失败位置读取时被忽略的错误
	FailureProbeErr error
}

// Outcome 终态及轮询过程中积累的状态。出错返回时同样携带已有进度。
type Outcome struct {
	State    State
	Result   *payload.Result
	Failure  *FailureRecord
	Attempts int
	Elapsed  time.Duration
	// LastProbeError 最近一次被忽略的失败位置读取错误
	LastProbeError error
	Handle         *invoker.JobHandle
}

// Recorder 记录探测结果，*metrics.Collector 实现了该接口
type Recorder interface {
	RecordPollAttempt(result string)
}

// =============================================================================
// ⚙️ 选项
// =============================================================================

// Options 轮询选项
type Options struct {
	// Interval 两次探测的间隔，<=0 时使用 DefaultInterval
	Interval time.Duration
	// Deadline 总时限；0 时使用句柄上的 Timeout，二者都为 0 则不设上限
	Deadline time.Duration
	// FailureProbeMaxErrors 失败位置连续读取错误达到该次数后终止，0 表示一直忽略
	FailureProbeMaxErrors int
	Clock                 Clock
	OnAttempt             func(Attempt)
	Recorder              Recorder
}

// OptionsFromConfig 由配置生成选项
func OptionsFromConfig(cfg config.PollerConfig) Options {
	return Options{
		Interval:              cfg.Interval,
		Deadline:              cfg.Deadline,
		FailureProbeMaxErrors: cfg.FailureProbeMaxErrors,
	}
}

// =============================================================================
// 🔁 Poller
// =============================================================================

// Poller 等待单个任务的终态。只读存储，不持有跨任务的可变状态，可并发用于多个任务。
type Poller struct {
	store  storage.ObjectStore
	opts   Options
	logger *zap.Logger
}

// New 创建轮询器
func New(store storage.ObjectStore, opts Options, logger *zap.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	return &Poller{
		store:  store,
		opts:   opts,
		logger: logger.With(zap.String("component", "poller")),
	}
}

// Wait 循环探测结果与失败位置直到终态。
//
// 结果位置读到对象即 SUCCEEDED；读取出现 NotFound 以外的错误立即返回。
// 失败位置读到对象即 FAILED；读取错误默认忽略。超过时限返回 TIMED_OUT，
// 这是一种结果而不是错误。ctx 取消返回 CANCELLED 错误。
func (p *Poller) Wait(ctx context.Context, handle *invoker.JobHandle) (outcome *Outcome, err error) {
	ctx, span := telemetry.StartSpan(ctx, "poller.wait",
		attribute.String("job.output_location", handle.OutputLocation.String()),
		attribute.String("job.inference_id", handle.InferenceID),
	)
	defer func() {
		if outcome != nil {
			span.SetAttributes(
				attribute.String("job.state", string(outcome.State)),
				attribute.Int("job.attempts", outcome.Attempts),
			)
		}
		telemetry.EndSpan(span, err)
	}()

	deadline := p.opts.Deadline
	if deadline <= 0 {
		deadline = handle.Timeout
	}

	clock := p.opts.Clock
	start := clock.Now()
	out := &Outcome{State: StateWaiting, Handle: handle}
	log := p.logger.With(
		zap.String("inference_id", handle.InferenceID),
		zap.String("output", handle.OutputLocation.String()),
	)
	consecutiveProbeErrs := 0

	for {
		out.Attempts++

		// 1. 结果位置
		data, getErr := p.store.Get(ctx, handle.OutputLocation)
		out.Elapsed = clock.Now().Sub(start)
		switch {
		case getErr == nil:
			result, decodeErr := decodeResult(data, handle)
			if decodeErr != nil {
				p.record("error")
				return out, decodeErr
			}
			out.State = StateSucceeded
			out.Result = result
			p.record("succeeded")
			p.notify(out, nil)
			log.Info("job succeeded",
				zap.Int("attempts", out.Attempts),
				zap.Duration("elapsed", out.Elapsed),
				zap.Int("frames", len(result.Frames)),
			)
			return out, nil

		case ctx.Err() != nil:
			return out, cancelled(ctx)

		case !storage.IsNotFound(getErr):
			p.record("error")
			return out, types.NewError(types.ErrStorage, "read output location").WithCause(getErr)
		}

		// 2. 失败位置
		raw, probeErr := p.store.Get(ctx, handle.FailureLocation)
		out.Elapsed = clock.Now().Sub(start)
		var swallowed error
		switch {
		case probeErr == nil:
			out.State = StateFailed
			out.Failure = ParseFailure(raw)
			p.record("failed")
			p.notify(out, nil)
			log.Warn("job failed remotely",
				zap.Int("attempts", out.Attempts),
				zap.Duration("elapsed", out.Elapsed),
				zap.String("failure", out.Failure.Message),
			)
			return out, nil

		case ctx.Err() != nil:
			return out, cancelled(ctx)

		case storage.IsNotFound(probeErr):
			consecutiveProbeErrs = 0

		default:
			consecutiveProbeErrs++
			swallowed = probeErr
			out.LastProbeError = probeErr
			log.Warn("failure location probe error ignored",
				zap.Int("consecutive", consecutiveProbeErrs),
				zap.Error(probeErr),
			)
			if p.opts.FailureProbeMaxErrors > 0 && consecutiveProbeErrs >= p.opts.FailureProbeMaxErrors {
				p.record("error")
				return out, types.Errorf(types.ErrStorage,
					"failure location unreadable %d times in a row", consecutiveProbeErrs).WithCause(probeErr)
			}
		}

		p.record("pending")
		p.notify(out, swallowed)
		log.Debug("result not ready",
			zap.Int("attempt", out.Attempts),
			zap.Duration("elapsed", out.Elapsed),
		)

		// 3. 等待。最后一次等待缩短到时限，时限用尽即超时
		sleep := p.opts.Interval
		if deadline > 0 {
			remaining := deadline - out.Elapsed
			if remaining <= 0 {
				out.State = StateTimedOut
				p.notify(out, nil)
				log.Warn("job timed out",
					zap.Int("attempts", out.Attempts),
					zap.Duration("deadline", deadline),
				)
				return out, nil
			}
			if remaining < sleep {
				sleep = remaining
			}
		}

		select {
		case <-ctx.Done():
			return out, cancelled(ctx)
		case <-clock.After(sleep):
		}
	}
}

func (p *Poller) record(result string) {
	if p.opts.Recorder != nil {
		p.opts.Recorder.RecordPollAttempt(result)
	}
}

func (p *Poller) notify(out *Outcome, probeErr error) {
	if p.opts.OnAttempt == nil {
		return
	}
	p.opts.OnAttempt(Attempt{
		Number:          out.Attempts,
		Elapsed:         out.Elapsed,
		State:           out.State,
		FailureProbeErr: probeErr,
	})
}

func cancelled(ctx context.Context) error {
	return types.NewError(types.ErrCancelled, "polling cancelled").WithCause(ctx.Err())
}

// decodeResult 解析结果并校验帧数：句柄上的期望值优先，其次是回显的 num_frames
func decodeResult(data []byte, handle *invoker.JobHandle) (*payload.Result, error) {
	result, err := payload.ParseResult(data)
	if err != nil {
		return nil, err
	}
	if len(result.Frames) == 0 {
		return nil, types.NewError(types.ErrDecodeFailed, "result contains no frames")
	}
	expected := handle.ExpectedFrames
	if expected == 0 {
		expected = result.Config.NumFrames
	}
	if expected > 0 && len(result.Frames) != expected {
		return nil, types.NewError(types.ErrDecodeFailed,
			fmt.Sprintf("result has %d frames, expected %d", len(result.Frames), expected))
	}
	return result, nil
}
