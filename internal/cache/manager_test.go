package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/credpool/config"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T, interval time.Duration) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := config.DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = interval

	manager, err := NewManager(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

func TestNewManager(t *testing.T) {
	_, manager := setupTestRedis(t, 0)
	ctx := context.Background()

	require.NoError(t, manager.Ping(ctx))
	require.NoError(t, manager.Client().Set(ctx, "credpool:probe", "1", 0).Err())
	val, err := manager.Client().Get(ctx, "credpool:probe").Result()
	require.NoError(t, err)
	assert.Equal(t, "1", val)
}

func TestNewManager_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.DefaultRedisConfig()
	cfg.Addr = addr
	_, err := NewManager(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)

	_, err = NewManager(context.Background(), config.RedisConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestManager_PingAfterServerDown(t *testing.T) {
	mr, manager := setupTestRedis(t, 0)
	mr.Close()
	assert.Error(t, manager.Ping(context.Background()))
}

func TestManager_Close(t *testing.T) {
	_, manager := setupTestRedis(t, 10*time.Millisecond)

	// 让健康检查至少跑一轮
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())
	assert.ErrorIs(t, manager.Ping(context.Background()), ErrClosed)
}

func TestNewManager_TLSAgainstPlainServer(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	cfg.TLSEnabled = true
	cfg.MinIdleConns = 0

	_, err := NewManager(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
