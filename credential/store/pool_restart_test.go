package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/credpool/credential"
)

func TestPoolRestartFromFileStore(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	env := map[string]string{
		"ELEVENLABS_API_KEY_1": "test-el-1",
		"ELEVENLABS_API_KEY_2": "test-el-2",
		"ELEVENLABS_API_KEY_3": "test-el-3",
	}
	specs := []credential.ServiceSpec{{Name: "elevenlabs", Quota: credential.QuotaSpec{Limit: 10000, Window: credential.WindowMonthly}}}

	keys, err := credential.LoadKeyStore(specs, credential.WithLookupEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	require.NoError(t, err)

	open := func(async bool) *credential.Pool {
		fs, err := NewFileStore(filepath.Join(dir, "usage.json"), filepath.Join(dir, "status.json"), logger)
		require.NoError(t, err)
		var s credential.Store = fs
		if async {
			s = NewAsyncStore(fs, logger)
		}
		p, err := credential.NewPool(ctx, keys, credential.DefaultPoolConfig(),
			credential.WithStore(s),
			credential.WithThrottle(credential.NopThrottle{}),
			credential.WithLogger(logger))
		require.NoError(t, err)
		return p
	}

	p := open(true)
	a, err := p.Acquire(ctx, "elevenlabs")
	require.NoError(t, err)
	require.NoError(t, p.ReportSuccess(ctx, a, 250))
	for range 3 {
		require.NoError(t, p.ReportFailure(ctx, a, "HTTP 401"))
	}
	require.NoError(t, p.Close(ctx))

	restarted := open(false)
	defer restarted.Close(ctx)

	report, err := restarted.Health("elevenlabs")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Blocked)
	assert.Equal(t, 2, report.Active)

	st, err := restarted.Stats("elevenlabs")
	require.NoError(t, err)
	assert.Equal(t, uint64(250), st.Keys[0].MonthlyUsage)
	assert.Equal(t, uint64(3), st.Keys[0].Errors)

	for range 10 {
		c, err := restarted.Acquire(ctx, "elevenlabs")
		require.NoError(t, err)
		assert.NotEqual(t, a.Hash(), c.Hash())
	}
}
