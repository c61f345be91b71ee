// Package storage 是对象存储的无状态网关。
//
// Get 只把“对象不存在”映射为 ErrNotFound，权限、网络等其他错误按原样返回，
// 轮询逻辑依赖这一区分决定是否继续等待。提供 S3、内存与本地文件三种实现。
package storage
