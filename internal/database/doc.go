// Package database 打开凭据池状态库（SQLite/PostgreSQL/MySQL）并管理连接池。
//
// PoolManager 提供健康检查、连接数上报与带重试的事务，
// credential/store.GormStore 通过 WithTransactionRetry 写入快照。
package database
