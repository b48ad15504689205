/*
包 server 提供凭据池诊断 HTTP 服务：生命周期管理与只读端点。

# 核心类型

  - Manager：封装 net/http.Server，Start 非阻塞启动，Run 阻塞到 ctx 结束后
    优雅关闭，适合与健康刷新任务一起放进 errgroup。
  - Handler：诊断端点，依赖 PoolReader（*credential.Pool 即可）。

# 端点

  - GET /healthz          存活探针
  - GET /ready            依赖检查（Redis、数据库），任一失败返回 503
  - GET /health           所有服务的健康报告，没有可用 key 时返回 503
  - GET /health/{service} 单个服务健康报告
  - GET /stats/{service}  单个服务用量统计，只暴露 key 哈希
  - GET /metrics          Prometheus 指标
  - GET /version          版本
*/
package server
