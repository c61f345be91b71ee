/*
包 server 提供 HTTP 服务器生命周期管理：非阻塞启动、优雅关闭与系统信号监听。

Manager 封装 net/http.Server，svdflow serve 用两个实例分别承载 API 与 /metrics。
WaitForShutdown 监听 SIGINT/SIGTERM 与各实例的异步错误，返回后由调用方按顺序关闭。
*/
package server
