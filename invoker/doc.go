// Package invoker 把已上传的请求提交给异步推理端点，
// 同步返回包含结果位置与失败位置的 JobHandle。提交本身不等待任务完成。
package invoker
