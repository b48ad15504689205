/*
包 cache 管理凭据池 Redis 后端的连接。

Manager 根据 config.RedisConfig 创建 go-redis 客户端，启动时 Ping 验证连通性，
并在后台定时健康检查。credential/store.RedisStore 通过 Client 获取客户端，
用量与状态文档都写在同一个 Redis 实例中。
*/
package cache
