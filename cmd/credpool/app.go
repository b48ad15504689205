package main

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	"github.com/BaSui01/credpool/config"
	"github.com/BaSui01/credpool/credential"
	"github.com/BaSui01/credpool/credential/store"
	"github.com/BaSui01/credpool/internal/cache"
	"github.com/BaSui01/credpool/internal/database"
	"github.com/BaSui01/credpool/internal/metrics"
	"github.com/BaSui01/credpool/internal/server"
)

// =============================================================================
// 🧩 应用装配
// =============================================================================

// app 持有一次命令运行所需的凭据池及其依赖
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	keys   *credential.KeyStore
	pool   *credential.Pool

	checks  []server.HealthCheck
	closers []func(context.Context) error
}

// appOptions 装配选项
type appOptions struct {
	// collector 为 nil 时不采集指标
	collector *metrics.Collector
	tracer    trace.Tracer
	// lookup 为 nil 时读取进程环境变量
	lookup credential.LookupFunc
}

// txRetries 状态库事务最多重试次数
const txRetries = 3

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	ksOpts := []credential.KeyStoreOption{
		credential.WithSecureFile(cfg.Store.SecureKeysFile),
		credential.WithKeyStoreLogger(logger),
	}
	if opts.lookup != nil {
		ksOpts = append(ksOpts, credential.WithLookupEnv(opts.lookup))
	}
	keys, err := credential.LoadKeyStore(cfg.Services, ksOpts...)
	if err != nil {
		return nil, err
	}
	a.keys = keys

	st, err := a.buildStore(ctx, opts.collector)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	poolOpts := []credential.Option{
		credential.WithStore(st),
		credential.WithLogger(logger),
	}
	if opts.collector != nil {
		poolOpts = append(poolOpts, credential.WithObserver(opts.collector))
	}
	if opts.tracer != nil {
		poolOpts = append(poolOpts, credential.WithTracer(opts.tracer))
	}
	pool, err := credential.NewPool(ctx, keys, cfg.Pool, poolOpts...)
	if err != nil {
		if c, ok := st.(interface{ Close(context.Context) error }); ok {
			_ = c.Close(ctx)
		}
		a.close(ctx)
		return nil, err
	}
	a.pool = pool
	// 池最先关闭，保证最后一次落盘时连接仍可用
	a.closers = append(a.closers, pool.Close)
	return a, nil
}

// buildStore 按驱动创建持久化后端，flush_mode=async 时包一层后台写入
func (a *app) buildStore(ctx context.Context, collector *metrics.Collector) (credential.Store, error) {
	cfg := a.cfg
	var st credential.Store

	switch cfg.Store.Driver {
	case config.DriverFile:
		fs, err := store.NewFileStore(cfg.Store.UsageFile, cfg.Store.StatusFile, a.logger)
		if err != nil {
			return nil, err
		}
		st = fs

	case config.DriverMemory:
		st = store.NewMemoryStore()

	case config.DriverRedis:
		rm, err := cache.NewManager(ctx, cfg.Redis, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return rm.Close() })
		a.checks = append(a.checks, server.NewCheck("redis", rm.Ping))
		st = store.NewRedisStore(rm.Client(), cfg.Store.RedisPrefix)

	case config.DriverSQLite, config.DriverPostgres, config.DriverMySQL:
		driver := cfg.Store.Driver
		pm, err := database.Open(driver, cfg.Database, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return pm.Close() })
		a.checks = append(a.checks, server.NewCheck("database", pm.Ping))
		if collector != nil {
			pm.StartHealthCheck(func(open, idle int) {
				collector.RecordDBConnections(driver, open, idle)
			})
		}
		gs, err := store.NewGormStore(ctx, pm.DB(), store.WithTransactor(
			func(ctx context.Context, fn func(tx *gorm.DB) error) error {
				return pm.WithTransactionRetry(ctx, txRetries, fn)
			}))
		if err != nil {
			return nil, err
		}
		st = gs

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Store.FlushMode == config.FlushAsync {
		var asyncOpts []store.AsyncOption
		if collector != nil {
			asyncOpts = append(asyncOpts, store.WithErrorHandler(func(error) {
				collector.ObservePersistError("async_flush")
			}))
		}
		st = store.NewAsyncStore(st, a.logger, asyncOpts...)
	}

	a.logger.Info("credential store ready",
		zap.String("driver", cfg.Store.Driver),
		zap.String("flush_mode", cfg.Store.FlushMode))
	return st, nil
}

// close 按注册的逆序释放资源
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// =============================================================================
// ⚙️ 配置与日志
// =============================================================================

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	return loader.Load()
}

// initLogger 根据日志配置构建 zap logger
func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// cliLogConfig 一次性命令的结果写 stdout，日志改到 stderr 且只保留告警
func cliLogConfig(cfg config.LogConfig) config.LogConfig {
	out := make([]string, 0, len(cfg.OutputPaths))
	for _, p := range cfg.OutputPaths {
		if p == "stdout" {
			p = "stderr"
		}
		out = append(out, p)
	}
	cfg.OutputPaths = out
	if cfg.Level == "" || cfg.Level == "info" {
		cfg.Level = "warn"
	}
	return cfg
}
