// Package api 定义 svdflow HTTP API 的请求与响应类型。
//
// # API Overview
//
//	POST /api/v1/jobs          提交任务，返回 202 与 job_id，后台继续轮询
//	GET  /api/v1/jobs/{id}     查询单个任务
//	GET  /api/v1/jobs?status=  按状态列出任务（逗号分隔多个状态）
//	GET  /health /healthz      存活探针
//	GET  /ready                就绪探针，检查任务台账
//	GET  /version              版本信息
//
// Prometheus 指标在独立端口的 /metrics 暴露。
//
// 所有 JSON 响应使用统一包装：
//
//	{"success": true, "data": {...}, "timestamp": "..."}
//	{"success": false, "error": {"code": "NOT_FOUND", "message": "..."}, "timestamp": "..."}
package api
