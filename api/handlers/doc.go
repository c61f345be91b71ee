/*
Package handlers 提供 svdflow HTTP API 的请求处理器实现。

# 核心类型

  - JobHandler     — 提交任务、查询台账，后台 worker 轮询结果并生成视频
  - HealthHandler  — 健康检查（/health, /healthz, /ready, /version）
  - Response       — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo      — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck    — 可插拔健康检查接口，PingCheck 包装任意 ping 函数

# 后台任务

POST /api/v1/jobs 在请求内完成上传与提交，返回 202 后由后台 worker 等待结果。
worker 数量受 max_concurrent_jobs 限制。Close 会中断等待，被中断的任务在台账中
保持 submitted，ResumePending 在下次启动时接手。

错误码到 HTTP 状态码的映射由 types.HTTPStatusFor 完成。
*/
package handlers
