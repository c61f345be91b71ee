/*
Package main 提供 svdflow 命令行程序入口。

# 概述

cmd/svdflow 把一张条件图片提交给托管的异步图生视频推理端点，
轮询对象存储中的结果或失败对象，并把返回的 base64 帧封装成视频。
同一个二进制也可以作为 HTTP 服务运行，后台并发等待多个任务。

# 子命令

  - generate — 构建请求、上传、提交并等待；--variations 生成多个种子变体
  - resume   — 按台账中的任务 ID 重建结果位置，继续等待
  - decode   — 离线解码已下载的结果 JSON
  - serve    — HTTP 服务：/api/v1/jobs、/health、/ready、/version，独立端口暴露 /metrics
  - version、health、help

# 组成

  - app        — 按配置装配对象存储、提交器、任务台账与流水线
  - Server     — HTTP 与 Metrics 双端口、配置热重载、优雅关闭
  - Middleware — Recovery、RequestID、OTelTracing、RequestLogger、MetricsMiddleware
*/
package main
