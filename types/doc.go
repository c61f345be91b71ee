/*
Package types 提供 svdflow 的全局共享类型定义。

types 是最底层的公共包，不依赖任何内部包。目前只包含结构化错误体系：

  - ErrorCode         — 统一错误码（请求、存储、提交、解码、编码、远端失败、超时、取消）
  - Error             — 带错误码、HTTP 状态码与 Retryable 标记的错误
  - WrapError / AsError / IsErrorCode / HTTPStatusFor — 错误工具链
*/
package types
