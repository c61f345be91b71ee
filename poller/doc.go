/*
Package poller 实现异步任务的结果轮询协议。

状态机：

	WAITING → SUCCEEDED | FAILED | TIMED_OUT

每轮先读结果位置，NotFound 时再探测失败位置，两者都不存在则等待一个间隔后重试。
只有“对象不存在”允许继续等待；结果位置的其他读取错误、无法解析的结果都是致命错误。
轮询状态只属于单个任务，多个任务可以各自运行一个 Wait 并共享同一个取消信号。
*/
package poller
