package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/credpool/config"
	"github.com/BaSui01/credpool/credential"
)

// writeConfig 写一份只含 grok 服务的配置，密钥放在安全文件里
func writeConfig(t *testing.T, storeYAML string, keys map[string][]string) string {
	t.Helper()
	dir := t.TempDir()

	keysPath := filepath.Join(dir, "keys.json")
	data, err := json.Marshal(keys)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(keysPath, data, 0o600))

	if storeYAML == "" {
		storeYAML = fmt.Sprintf("  driver: file\n  usage_file: %s\n  status_file: %s\n",
			filepath.Join(dir, "usage.json"), filepath.Join(dir, "status.json"))
	}
	cfg := fmt.Sprintf(`services:
  - name: grok
    env_prefix: CREDPOOLTEST_GROK
  - name: youtube
    env_prefix: CREDPOOLTEST_YOUTUBE
    quota:
      limit: 100
      window: daily
store:
%s  secure_keys_file: %s
log:
  level: error
  output_paths: ["stderr"]
`, storeYAML, keysPath)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_VersionAndHelp(t *testing.T) {
	code, out, _ := runCmd(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "credpool dev")

	code, out, _ = runCmd(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Commands:")

	code, _, errOut := runCmd(t, "bogus")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Unknown command: bogus")

	code, _, _ = runCmd(t)
	assert.Equal(t, 2, code)
}

func TestRun_Health(t *testing.T) {
	path := writeConfig(t, "", map[string][]string{
		"grok": {"test-GROK-key-1", "test-GROK-key-2"},
	})

	code, out, _ := runCmd(t, "health", "--config", path)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "grok [OK]")
	assert.Contains(t, out, "youtube [UNAVAILABLE]")
	assert.Contains(t, out, "total: 2  active: 2")
	assert.NotContains(t, out, "test-GROK-key")

	code, out, _ = runCmd(t, "health", "--config", path, "--service", "youtube", "--json")
	assert.Equal(t, 1, code)
	var reports []credential.HealthReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, 0, reports[0].Total)
	assert.NotEmpty(t, reports[0].Recommendations)

	code, _, errOut := runCmd(t, "health", "--config", path, "--service", "nope")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "INVALID_ARGUMENT")
}

func TestRun_StatsAndReset(t *testing.T) {
	keys := map[string][]string{"youtube": {"test-YOUTUBE-key-1"}}
	path := writeConfig(t, "", keys)

	// 先用同一份配置记录一次用量
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	a, err := newApp(context.Background(), cfg, zaptest.NewLogger(t), appOptions{})
	require.NoError(t, err)
	cred, err := a.pool.Acquire(context.Background(), "youtube")
	require.NoError(t, err)
	require.NoError(t, a.pool.ReportSuccess(context.Background(), cred, 7))
	require.NoError(t, a.close(context.Background()))

	code, out, _ := runCmd(t, "stats", "--config", path, "--service", "youtube")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "quota: 100/daily")
	assert.Contains(t, out, cred.Hash())
	assert.NotContains(t, out, "test-YOUTUBE-key-1")

	code, out, _ = runCmd(t, "stats", "--config", path, "--service", "youtube", "--json")
	require.Equal(t, 0, code)
	var stats []credential.UsageStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Len(t, stats, 1)
	assert.EqualValues(t, 1, stats[0].TotalUsage)
	assert.EqualValues(t, 7, stats[0].Keys[0].DailyUsage)
	require.NotNil(t, stats[0].Keys[0].Remaining)
	assert.EqualValues(t, 93, *stats[0].Keys[0].Remaining)

	code, _, errOut := runCmd(t, "reset", "--config", path)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "--service")

	code, out, _ = runCmd(t, "reset", "--config", path, "--service", "youtube")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "usage counters reset for youtube")

	code, out, _ = runCmd(t, "stats", "--config", path, "--service", "youtube", "--json")
	require.Equal(t, 0, code)
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.EqualValues(t, 0, stats[0].TotalUsage)
	assert.EqualValues(t, 0, stats[0].Keys[0].DailyUsage)
}

func TestRun_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: tape\n"), 0o600))

	code, _, errOut := runCmd(t, "stats", "--config", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unknown store driver")
}

func TestNewApp_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	path := writeConfig(t, "  driver: redis\n  flush_mode: async\n", map[string][]string{
		"grok": {"test-GROK-key-1"},
	})
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	cfg.Redis.Addr = mr.Addr()

	a, err := newApp(context.Background(), cfg, zaptest.NewLogger(t), appOptions{})
	require.NoError(t, err)
	require.Len(t, a.checks, 1)
	assert.Equal(t, "redis", a.checks[0].Name())

	cred, err := a.pool.Acquire(context.Background(), "grok")
	require.NoError(t, err)
	require.NoError(t, a.close(context.Background()))

	usage, err := mr.Get("credpool:usage")
	require.NoError(t, err)
	assert.Contains(t, usage, cred.Hash())
}

func TestNewApp_SQLiteStore(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "  driver: sqlite\n", map[string][]string{
		"grok": {"test-GROK-key-1"},
	})
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	cfg.Database.Name = filepath.Join(dir, "credpool.db")

	a, err := newApp(context.Background(), cfg, zaptest.NewLogger(t), appOptions{})
	require.NoError(t, err)
	cred, err := a.pool.Acquire(context.Background(), "grok")
	require.NoError(t, err)
	require.NoError(t, a.pool.ReportFailure(context.Background(), cred, "HTTP 500"))
	require.NoError(t, a.close(context.Background()))

	// 重新打开后失败计数仍在
	b, err := newApp(context.Background(), cfg, zaptest.NewLogger(t), appOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.close(context.Background()) })
	st, err := b.pool.Stats("grok")
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.TotalErrors)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServe(t *testing.T) {
	path := writeConfig(t, "  driver: memory\n", nil)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	cfg.Server.HTTPPort = freePort(t)

	lookup := func(k string) (string, bool) {
		if k == "CREDPOOLTEST_GROK_KEYS_LIST" {
			return "test-GROK-key-1,test-GROK-key-2", true
		}
		return "", false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, zaptest.NewLogger(t), appOptions{lookup: lookup}) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.HTTPPort)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	resp, err := http.Get(base + "/health/grok")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"active":2`)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(body), `credpool_keys{service="grok",state="available"} 2`), string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestCLILogConfig(t *testing.T) {
	cfg := cliLogConfig(config.DefaultLogConfig())
	assert.Equal(t, []string{"stderr"}, cfg.OutputPaths)
	assert.Equal(t, "warn", cfg.Level)

	debug := config.DefaultLogConfig()
	debug.Level = "debug"
	assert.Equal(t, "debug", cliLogConfig(debug).Level)
}
