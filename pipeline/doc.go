/*
Package pipeline 编排一次图生视频任务的完整流程。

	Builder.Build → Stager.Stage → ObjectStore.Put({prefix}/input/{title}.json)
	→ Submitter.Submit → jobstore.Save(submitted)
	→ Poller.Wait → video.DecodeFrames → WriteFrames({frames_dir}/{title}/)
	→ Encoder.Encode({video_dir}/{title}.{ext}) → Transcoder（可选）

FAILED 与 TIMED_OUT 作为 Report.State 返回；存储、解码、编码错误作为 error 返回，
并把台账记录标记为 error。被取消的任务保持 submitted，可以用 Resume 继续。

Batch 生成 N 个变体。提交经过 x/time/rate 限速，并发由 errgroup.SetLimit 约束。
*/
package pipeline
