/*
包 metrics 提供基于 Prometheus 的凭据池指标采集。

# 核心类型

  - Collector：指标收集器，实现 credential.Observer，
    由 credential.Pool 在取用、挂起、封禁、落盘失败时回调。

# 指标

  - acquire_total / acquire_duration_seconds：按 service/outcome 统计取用结果与耗时。
  - throttle_pause_seconds：节奏控制的实际暂停时长。
  - key_transitions_total：key 进入 waiting/blocked/available 的次数。
  - keys：按 service/state 统计的 key 数，由健康检查刷新。
  - persist_errors_total：落盘失败次数。
  - http_*、db_connections_*：诊断服务与数据库连接池。
*/
package metrics
