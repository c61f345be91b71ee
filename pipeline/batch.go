package pipeline

import (
	"context"
	"fmt"

	"github.com/BaSui01/svdflow/payload"
	"github.com/BaSui01/svdflow/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Variations 由基础请求派生 n 个变体：标题 {title}-1…{title}-n，seed 依次加一
func Variations(base *payload.Request, n int) []*payload.Request {
	out := make([]*payload.Request, n)
	for i := range out {
		out[i] = base.
			WithSeed(base.Seed + int64(i)).
			WithTitle(fmt.Sprintf("%s-%d", base.MovieTitle, i+1))
	}
	return out
}

// Batch 运行 n 个变体。max_concurrent_jobs <= 1 时顺序执行；
// 否则每个任务一个轮询器，共享同一个取消信号。任一致命错误取消其余任务。
// 返回的 reports 与变体一一对应，未开始的位置为 nil。
func (p *Pipeline) Batch(ctx context.Context, spec JobSpec, n int) ([]*Report, error) {
	if n < 1 {
		return nil, types.Errorf(types.ErrInvalidRequest, "variations must be >= 1, got %d", n)
	}
	base, err := p.request(ctx, spec)
	if err != nil {
		return nil, err
	}
	if n == 1 {
		report, err := p.Run(ctx, JobSpec{Request: base})
		return []*Report{report}, err
	}

	requests := Variations(base, n)
	for _, req := range requests {
		if err := req.Validate(); err != nil {
			return nil, err
		}
	}
	reports := make([]*Report, n)

	limit := p.cfg.Pipeline.MaxConcurrentJobs
	if limit <= 1 {
		for i, req := range requests {
			reports[i], err = p.Run(ctx, JobSpec{Request: req})
			if err != nil {
				return reports, err
			}
		}
		return reports, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, req := range requests {
		g.Go(func() error {
			report, err := p.Run(gctx, JobSpec{Request: req})
			reports[i] = report
			if err != nil {
				p.logger.Error("variation failed", zap.String("title", req.MovieTitle), zap.Error(err))
			}
			return err
		})
	}
	err = g.Wait()
	p.logger.Info("batch finished", zap.Int("variations", n), zap.Int("concurrency", limit), zap.Bool("ok", err == nil))
	return reports, err
}
