/*
Package database 打开任务台账使用的关系型数据库并管理连接池。

支持的驱动：

  - sqlite（纯 Go，github.com/glebarez/sqlite），默认，DSN 为文件路径或 ":memory:"
  - postgres（gorm.io/driver/postgres）
  - mysql（gorm.io/driver/mysql）

PoolManager 封装 GORM 与 database/sql 的连接池参数，可选的后台健康检查
定时 PingContext 并通过 zap 输出连接数。
*/
package database
