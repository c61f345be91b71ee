/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、异步任务、视频编码与对象存储四个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制。所有指标按 namespace 隔离。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 任务指标：提交次数、探测次数（pending/succeeded/failed/error）、
    终态计数与耗时、在途任务数。
  - 视频指标：解码帧数、编码耗时（按 encoder/status 分组）。
  - 存储指标：按 operation/status 分组的操作计数。
*/
package metrics
