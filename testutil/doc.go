/*
Package testutil 提供 svdflow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue
  - 时间: ManualClock，After 立即推进逻辑时间，轮询测试无需真实等待

# 子包

  - testutil/fixtures: JPEG 帧、推理结果与请求样例
  - testutil/mocks: AsyncService，同时实现对象存储与提交器，
    按脚本在第 N 次探测时写入结果或失败记录

# 使用示例

	clock := testutil.NewManualClock()
	svc := mocks.NewAsyncService("bucket", func(*payload.Request) mocks.Behavior {
		return mocks.Behavior{SucceedOnProbe: 3}
	})
*/
package testutil
