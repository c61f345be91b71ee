// Package config 提供 svdflow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序合并，
// 加载结果以 *Config 显式传给各组件，不使用全局会话状态。
//
// Reloader 监听配置文件变化：日志级别与提交限速可在运行时生效，
// 其余字段的变更只记录日志并标记为需要重启。
package config
