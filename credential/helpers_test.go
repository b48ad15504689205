package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Sleep 推进时钟代替真实等待
func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

// testKeys 生成 n 个测试用假 key
func testKeys(prefix string, n int) map[string]string {
	env := make(map[string]string, n)
	for i := 1; i <= n; i++ {
		env[fmt.Sprintf("%s_API_KEY_%d", prefix, i)] = fmt.Sprintf("test-%s-key-%d", prefix, i)
	}
	return env
}

// memStore 测试用内存 Store，可注入写入错误
type memStore struct {
	mu    sync.Mutex
	snap  *Snapshot
	saves int
	fail  error
}

func (s *memStore) Load(context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return NewSnapshot(), nil
	}
	return cloneSnapshot(s.snap), nil
}

func (s *memStore) Save(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.snap = cloneSnapshot(snap)
	s.saves++
	return nil
}

func (s *memStore) setFail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func cloneSnapshot(in *Snapshot) *Snapshot {
	out := NewSnapshot()
	for svc, m := range in.Usage {
		cp := make(map[string]UsageRecord, len(m))
		for h, r := range m {
			cp[h] = r
		}
		out.Usage[svc] = cp
	}
	for k, e := range in.Status.WaitingList {
		out.Status.WaitingList[k] = e
	}
	out.Status.PermanentlyBlocked = append(out.Status.PermanentlyBlocked, in.Status.PermanentlyBlocked...)
	return out
}

var errDiskFull = errors.New("disk full")

type poolFixture struct {
	pool  *Pool
	keys  *KeyStore
	clock *fakeClock
	store *memStore
}

func newFixture(t *testing.T, specs []ServiceSpec, env map[string]string, opts ...Option) *poolFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	ks, err := LoadKeyStore(specs, WithLookupEnv(envMap(env)), WithKeyStoreLogger(logger))
	require.NoError(t, err)

	f := &poolFixture{
		keys:  ks,
		clock: newFakeClock(time.Date(2025, 3, 14, 10, 0, 0, 0, time.Local)),
		store: &memStore{},
	}
	f.pool = f.open(t, opts...)
	return f
}

// open 基于同一个 Store 重新构造池，模拟进程重启
func (f *poolFixture) open(t *testing.T, opts ...Option) *Pool {
	t.Helper()
	base := []Option{
		WithStore(f.store),
		WithThrottle(NopThrottle{}),
		WithClock(f.clock.Now),
		WithSleep(f.clock.Sleep),
		WithLogger(zaptest.NewLogger(t)),
	}
	p, err := NewPool(context.Background(), f.keys, DefaultPoolConfig(), append(base, opts...)...)
	require.NoError(t, err)
	return p
}

func (f *poolFixture) cred(t *testing.T, service string, i int) Credential {
	t.Helper()
	creds, err := f.keys.Load(service)
	require.NoError(t, err)
	require.Less(t, i, len(creds))
	return creds[i]
}
