/*
Package jobstore 持久化已提交任务的句柄与结局。

每个任务在提交成功后立刻写入一条 StatusSubmitted 记录，其中包含结果与失败位置，
进程重启后可以由记录重建句柄继续轮询（见 Record.Handle）。任务结束后同一条记录
更新为 succeeded、failed、timed_out 或 error。

后端：

  - memory：进程内 map
  - redis：JSON 记录加有序集合索引，github.com/redis/go-redis/v9
  - sql：GORM，驱动由 internal/database 选择
*/
package jobstore
