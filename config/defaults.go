// =============================================================================
// 📦 credpool 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/credpool/credential"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Pool:      credential.DefaultPoolConfig(),
		Services:  credential.DefaultServiceSpecs(),
		Store:     DefaultStoreConfig(),
		Server:    DefaultServerConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultStoreConfig 返回默认持久化配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Driver:         DriverFile,
		UsageFile:      "data/api_key_usage.json",
		StatusFile:     "data/api_key_status.json",
		SecureKeysFile: ".keys_secure.json",
		FlushMode:      FlushSync,
		RedisPrefix:    "credpool",
	}
}

// DefaultServerConfig 返回默认诊断服务配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:              9091,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ShutdownTimeout:       15 * time.Second,
		HealthRefreshInterval: 30 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:                "localhost:6379",
		Password:            "",
		DB:                  0,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "credpool",
		Password:        "",
		Name:            "credpool",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "credpool",
		SampleRate:   0.1,
	}
}
