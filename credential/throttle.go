package credential

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// ⏱️ Throttle：取 key 之前的节奏控制，在池锁之外执行
// =============================================================================

// Throttle 在返回凭据之前暂停；ctx 取消时立即返回 ctx.Err()
type Throttle interface {
	Pause(ctx context.Context, service string) error
}

// NopThrottle 不做任何暂停
type NopThrottle struct{}

func (NopThrottle) Pause(ctx context.Context, _ string) error { return ctx.Err() }

// JitterThrottle 在 [MinDelay, MaxDelay] 中均匀取值，
// 以 SpikeProbability 的概率再乘以 [SpikeMinFactor, SpikeMaxFactor]
type JitterThrottle struct {
	cfg JitterConfig

	mu  sync.Mutex
	rng *rand.Rand

	sleep    func(ctx context.Context, d time.Duration) error
	observer Observer
}

// JitterOption JitterThrottle 选项
type JitterOption func(*JitterThrottle)

// WithJitterSeed 固定随机种子（测试用）
func WithJitterSeed(seed int64) JitterOption {
	return func(t *JitterThrottle) { t.rng = rand.New(rand.NewSource(seed)) }
}

// WithJitterSleep 替换睡眠函数（测试用）
func WithJitterSleep(sleep func(ctx context.Context, d time.Duration) error) JitterOption {
	return func(t *JitterThrottle) { t.sleep = sleep }
}

// WithJitterObserver 上报实际暂停时长
func WithJitterObserver(o Observer) JitterOption {
	return func(t *JitterThrottle) { t.observer = o }
}

// NewJitterThrottle 创建随机节奏控制
func NewJitterThrottle(cfg JitterConfig, opts ...JitterOption) *JitterThrottle {
	t := &JitterThrottle{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:    sleepCtx,
		observer: NopObserver{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Delay 抽取一次延迟
func (t *JitterThrottle) Delay() time.Duration {
	if !t.cfg.Enabled || t.cfg.MaxDelay <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	span := t.cfg.MaxDelay - t.cfg.MinDelay
	d := t.cfg.MinDelay
	if span > 0 {
		d += time.Duration(t.rng.Int63n(int64(span) + 1))
	}
	if t.cfg.SpikeProbability > 0 && t.rng.Float64() < t.cfg.SpikeProbability {
		lo, hi := t.cfg.SpikeMinFactor, t.cfg.SpikeMaxFactor
		if hi < lo {
			hi = lo
		}
		factor := lo + t.rng.Float64()*(hi-lo)
		d = time.Duration(float64(d) * factor)
	}
	return d
}

func (t *JitterThrottle) Pause(ctx context.Context, service string) error {
	d := t.Delay()
	if d <= 0 {
		return ctx.Err()
	}
	t.observer.ObserveThrottle(service, d)
	return t.sleep(ctx, d)
}

// RateThrottle 按服务的 MinInterval 做令牌桶限速，然后交给内层 Throttle
type RateThrottle struct {
	inner Throttle

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval map[string]time.Duration
}

// NewRateThrottle 创建按服务限速的 Throttle，inner 可为 nil
func NewRateThrottle(specs []ServiceSpec, inner Throttle) *RateThrottle {
	if inner == nil {
		inner = NopThrottle{}
	}
	t := &RateThrottle{
		inner:    inner,
		limiters: make(map[string]*rate.Limiter),
		interval: make(map[string]time.Duration),
	}
	for _, s := range specs {
		if s.MinInterval > 0 {
			t.interval[s.Name] = s.MinInterval
		}
	}
	return t
}

func (t *RateThrottle) limiter(service string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	iv, ok := t.interval[service]
	if !ok {
		return nil
	}
	l, ok := t.limiters[service]
	if !ok {
		l = rate.NewLimiter(rate.Every(iv), 1)
		t.limiters[service] = l
	}
	return l
}

func (t *RateThrottle) Pause(ctx context.Context, service string) error {
	if l := t.limiter(service); l != nil {
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}
	return t.inner.Pause(ctx, service)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
