// Package tlsutil 集中提供 svdflow 对外连接使用的 TLS 设置：
// AWS SDK（S3、SageMaker Runtime）的 HTTP 客户端与启用 TLS 的 Redis 台账连接。
// 统一要求 TLS 1.2+，只允许 AEAD 密码套件。
package tlsutil
