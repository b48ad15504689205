// Package credential 管理多服务 API Key 的轮换、配额与封禁。
//
// 核心流程：KeyStore 在启动时从环境变量和安全文件加载凭据；
// Pool.Acquire 挑选用量最少的可用 key，超出配额的 key 进入等待列表，
// 连续失败达到阈值的 key 被永久封禁。所有状态变更在同一把锁内完成，
// 并通过 Store 持久化，重启后恢复。
//
// 节奏控制（Throttle）与观测（Observer）均可注入。
package credential
