package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/credpool/config"
	"github.com/BaSui01/credpool/credential"
	"github.com/BaSui01/credpool/internal/metrics"
	"github.com/BaSui01/credpool/internal/server"
	"github.com/BaSui01/credpool/internal/telemetry"
)

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

const instrumentationName = "github.com/BaSui01/credpool/credential"

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting credpool",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger, appOptions{}); err != nil {
		logger.Error("credpool exited with error", zap.Error(err))
		return 1
	}
	logger.Info("credpool stopped")
	return 0
}

// serve 装配凭据池与诊断服务，阻塞到 ctx 结束
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts appOptions) error {
	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollectorWith(reg, "credpool", logger)

	opts.collector = collector
	opts.tracer = providers.Tracer(instrumentationName)
	a, err := newApp(ctx, cfg, logger, opts)
	if err != nil {
		return fmt.Errorf("open credential pool: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.close(closeCtx); err != nil {
			logger.Error("failed to close credential pool", zap.Error(err))
		}
	}()

	handler := server.NewHandler(a.pool, Version, logger)
	for _, c := range a.checks {
		handler.RegisterCheck(c)
	}
	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	httpManager := server.NewManager(
		handler.Routes(metricsHandler, collector),
		server.FromServerConfig(cfg.Server),
		logger,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpManager.Run(gctx)
	})
	g.Go(func() error {
		refreshHealth(gctx, a.pool, cfg.Server.HealthRefreshInterval, logger)
		return nil
	})

	logger.Info("credpool serving",
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Strings("services", a.keys.Services()),
		zap.String("store", cfg.Store.Driver),
	)
	return g.Wait()
}

// healthReader 刷新任务只需要 HealthAll
type healthReader interface {
	HealthAll() []credential.HealthReport
}

// refreshHealth 定时生成健康报告，观察者借此刷新按状态统计的 key 数；
// 等待中的 key 到期后即使没有 Acquire 也会反映到指标上
func refreshHealth(ctx context.Context, pool healthReader, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	refresh := func() {
		for _, r := range pool.HealthAll() {
			if r.Total > 0 && !r.Healthy() {
				logger.Warn("service has no active credentials",
					zap.String("service", r.Service),
					zap.Int("waiting", r.Waiting),
					zap.Int("blocked", r.Blocked))
			}
		}
	}
	refresh()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}
