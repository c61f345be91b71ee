// Package payload 构造自包含的推理请求：条件图片（内嵌 base64 或远程 URL）
// 加数值生成参数，并把序列化结果按标题暂存到本地目录。
//
// 校验只覆盖类型与范围，超出模型能力的取值由远端服务拒绝。
package payload
