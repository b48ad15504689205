// Package store 提供凭据池快照的持久化后端。
//
// 所有后端都实现 credential.Store：
//   - FileStore  两个 JSON 文件，原子替换
//   - GormStore  关系型数据库（SQLite/PostgreSQL/MySQL）
//   - RedisStore 两个 Redis key，MULTI/EXEC 写入
//   - MemoryStore 进程内副本
//   - AsyncStore 包装任意后端，单写者后台落盘
package store
