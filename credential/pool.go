package credential

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/credpool/types"
)

// =============================================================================
// 🏊 Pool：凭据池门面
// =============================================================================

const instrumentationName = "github.com/BaSui01/credpool/credential"

// Acquirer 调用方依赖的最小接口，便于注入与替换
type Acquirer interface {
	Acquire(ctx context.Context, service string) (Credential, error)
	ReportSuccess(ctx context.Context, cred Credential, units uint64) error
	ReportFailure(ctx context.Context, cred Credential, message string) error
}

// Pool 管理全部服务的凭据轮换。
// 账本、等待列表、封禁集合都由同一把锁保护；Throttle 在锁外执行。
type Pool struct {
	mu sync.Mutex

	keys     *KeyStore
	cfg      PoolConfig
	ledger   *Ledger
	selector *Selector
	guard    *QuotaGuard
	waiting  *WaitingList
	blocked  *BlockList

	throttle Throttle
	store    Store
	observer Observer
	logger   *zap.Logger
	tracer   trace.Tracer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	closed bool
}

var _ Acquirer = (*Pool)(nil)

// Option Pool 选项
type Option func(*Pool)

// WithStore 设置持久化后端，为 nil 时只保存在内存
func WithStore(s Store) Option {
	return func(p *Pool) { p.store = s }
}

// WithThrottle 替换默认的 JitterThrottle
func WithThrottle(t Throttle) Option {
	return func(p *Pool) { p.throttle = t }
}

// WithObserver 设置观测钩子
func WithObserver(o Observer) Option {
	return func(p *Pool) { p.observer = o }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithClock 设置时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithSleep 设置等待函数（测试用）
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pool) { p.sleep = sleep }
}

// WithTracer 设置 tracer，默认使用全局 TracerProvider
func WithTracer(t trace.Tracer) Option {
	return func(p *Pool) { p.tracer = t }
}

// NewPool 创建凭据池并从 Store 恢复状态
func NewPool(ctx context.Context, keys *KeyStore, cfg PoolConfig, opts ...Option) (*Pool, error) {
	if keys == nil {
		return nil, types.NewError(types.ErrInvalidArgument, "key store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, types.NewError(types.ErrConfiguration, err.Error())
	}
	cfg = cfg.withDefaults()

	ledger := newLedger(windowPolicy{mode: cfg.MonthlyReset, period: cfg.MonthlyPeriod})
	p := &Pool{
		keys:     keys,
		cfg:      cfg,
		ledger:   ledger,
		selector: newSelector(ledger),
		guard:    newQuotaGuard(ledger),
		waiting:  newWaitingList(),
		blocked:  newBlockList(ledger),
		observer: NopObserver{},
		logger:   zap.NewNop(),
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "credential_pool"))
	if p.tracer == nil {
		p.tracer = otel.Tracer(instrumentationName)
	}
	if p.throttle == nil {
		p.throttle = NewRateThrottle(p.specs(), NewJitterThrottle(cfg.Throttle, WithJitterObserver(p.observer)))
	}

	if p.store != nil {
		snap, err := p.store.Load(ctx)
		if err != nil {
			return nil, newPersistenceError("load", err)
		}
		p.restore(snap.Normalize())
	}

	p.logger.Info("credential pool ready",
		zap.Any("services", keys.Summary()),
		zap.Int("blocked", len(p.blocked.blocked)),
		zap.Bool("persistent", p.store != nil))
	return p, nil
}

func (p *Pool) specs() []ServiceSpec {
	out := make([]ServiceSpec, 0, len(p.keys.order))
	for _, name := range p.keys.order {
		out = append(out, p.keys.specs[name])
	}
	return out
}

func (p *Pool) restore(snap *Snapshot) {
	p.ledger.load(snap.Usage)
	p.waiting.load(snap.Status.WaitingList)
	p.blocked.load(snap.Status.PermanentlyBlocked)
}

// Acquire 返回服务当前用量最少的可用凭据。
// ctx 没有截止时间时，没有候选立即返回 ExhaustionError；
// 有截止时间时等待最早的释放时间后重试，截止时返回包装了 ctx 错误的 ExhaustionError。
func (p *Pool) Acquire(ctx context.Context, service string) (Credential, error) {
	start := p.now()
	ctx, span := p.tracer.Start(ctx, "credpool.Acquire",
		trace.WithAttributes(attribute.String("credpool.service", service)))
	defer span.End()

	cred, outcome, err := p.acquire(ctx, service)
	p.observer.ObserveAcquire(service, outcome, p.now().Sub(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(types.GetErrorCode(err)))
		return Credential{}, err
	}
	span.SetAttributes(attribute.String("credpool.key_hash", cred.hash))
	return cred, nil
}

func (p *Pool) acquire(ctx context.Context, service string) (Credential, string, error) {
	creds, err := p.keys.Load(service)
	if err != nil {
		return Credential{}, OutcomeConfig, err
	}

	if err := p.throttle.Pause(ctx, service); err != nil {
		return Credential{}, OutcomeCanceled, newExhaustionError(service, 0, 0, err)
	}

	for {
		cred, next, err := p.tryAcquire(ctx, service, creds)
		if err == nil {
			return cred, OutcomeOK, nil
		}
		if types.GetErrorCode(err) != types.ErrExhausted {
			return Credential{}, OutcomeExhausted, err
		}

		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || next.IsZero() {
			return Credential{}, OutcomeExhausted, err
		}

		wait := next.Sub(p.now())
		remaining := time.Until(deadline)
		cut := wait >= remaining
		if cut {
			wait = remaining
		}
		if wait < 0 {
			wait = 0
		}
		p.logger.Debug("all credentials waiting, sleeping until release",
			zap.String("service", service),
			zap.Duration("wait", wait))
		if serr := p.sleep(ctx, wait); serr != nil {
			return Credential{}, OutcomeExhausted, exhaustionWithCause(err, serr)
		}
		if cut {
			return Credential{}, OutcomeExhausted, exhaustionWithCause(err, context.DeadlineExceeded)
		}
	}
}

func exhaustionWithCause(err, cause error) error {
	var te *types.Error
	if errors.As(err, &te) {
		return te.WithCause(cause)
	}
	return err
}

// tryAcquire 在锁内完成 释放到期 → 过滤 → 选择 → 配额检查 → 计数。
// 返回 ExhaustionError 时附带最早的释放时间（没有等待条目时为零值）。
func (p *Pool) tryAcquire(ctx context.Context, service string, creds []Credential) (Credential, time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return Credential{}, time.Time{}, types.NewError(types.ErrInvalidArgument, "credential pool is closed")
	}

	now := p.now()
	dirty := false
	for _, h := range p.waiting.ReleaseExpired(service, now) {
		dirty = true
		p.observer.ObserveTransition(service, StateAvailable)
		p.logger.Debug("credential released from waiting list",
			zap.String("service", service), zap.String("key_hash", h))
	}

	spec, _ := p.keys.Spec(service)
	// 每轮至少挂起一个 key，循环次数不超过池大小
	for range len(creds) {
		c, ok := p.selector.peek(p.candidates(service, creds))
		if !ok {
			break
		}
		if p.guard.Check(spec, c, now) == QuotaExhausted {
			releaseAt := p.guard.ReleaseAt(spec, c, now)
			p.waiting.Add(service, c.hash, now, releaseAt, ReasonQuotaExhausted)
			p.observer.ObserveTransition(service, StateWaiting)
			p.logger.Info("credential moved to waiting list",
				zap.String("service", service),
				zap.Error(quotaSignal{keyHash: c.hash, releaseAt: releaseAt}))
			dirty = true
			continue
		}
		p.selector.commit(c, now)
		p.flushQuiet(ctx, "acquire")
		return c, time.Time{}, nil
	}

	if dirty {
		p.flushQuiet(ctx, "acquire")
	}
	waiting, blocked := p.countStates(service, creds, now)
	next, _ := p.waiting.EarliestRelease(service)
	p.logger.Warn("no eligible credential",
		zap.String("service", service),
		zap.Int("waiting", waiting),
		zap.Int("blocked", blocked))
	return Credential{}, next, newExhaustionError(service, waiting, blocked, nil)
}

// candidates 去掉已封禁和仍在等待中的 key
func (p *Pool) candidates(service string, creds []Credential) []Credential {
	out := make([]Credential, 0, len(creds))
	for _, c := range creds {
		if p.blocked.IsBlocked(c.hash) || p.waiting.Contains(service, c.hash) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (p *Pool) countStates(service string, creds []Credential, now time.Time) (waiting, blocked int) {
	r := buildHealth(service, creds, p.waiting, p.blocked, now)
	return r.Waiting, r.Blocked
}

// ReportSuccess 记录一次成功调用消耗的配额单位，units 为 0 时按 1 计
func (p *Pool) ReportSuccess(ctx context.Context, cred Credential, units uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkRegistered(cred); err != nil {
		return err
	}
	p.ledger.AddUnits(cred.service, cred.hash, units, p.now())
	return p.flush(ctx, "report_success")
}

// ReportFailure 记录一次失败；累计达到阈值后永久封禁
func (p *Pool) ReportFailure(ctx context.Context, cred Credential, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkRegistered(cred); err != nil {
		return err
	}
	now := p.now()
	spec, _ := p.keys.Spec(cred.service)
	threshold := spec.FailureThreshold
	if threshold <= 0 {
		threshold = p.cfg.FailureThreshold
	}

	blockedNow, count := p.blocked.RecordFailure(cred.service, cred.hash, message, threshold, now)
	switch {
	case blockedNow:
		p.waiting.Remove(cred.service, cred.hash)
		p.observer.ObserveTransition(cred.service, StateBlocked)
		p.logger.Warn("credential permanently blocked",
			zap.String("service", cred.service),
			zap.String("key_hash", cred.hash),
			zap.Uint64("errors", count))
	case spec.FailureCooldown > 0 && !p.blocked.IsBlocked(cred.hash):
		p.waiting.Add(cred.service, cred.hash, now, now.Add(spec.FailureCooldown), ReasonFailure)
		p.observer.ObserveTransition(cred.service, StateWaiting)
		p.logger.Info("credential cooling down after failure",
			zap.String("service", cred.service),
			zap.String("key_hash", cred.hash),
			zap.Uint64("errors", count),
			zap.Duration("cooldown", spec.FailureCooldown))
	default:
		p.logger.Info("credential failure recorded",
			zap.String("service", cred.service),
			zap.String("key_hash", cred.hash),
			zap.Uint64("errors", count),
			zap.Int("threshold", threshold))
	}
	return p.flush(ctx, "report_failure")
}

// Suspend 手动挂起一个 key；已封禁的 key 不受影响
func (p *Pool) Suspend(ctx context.Context, cred Credential, cooldown time.Duration, reason string) error {
	if cooldown <= 0 {
		return newInvalidArgumentError(cred.service, "cooldown must be positive")
	}
	if reason == "" {
		reason = ReasonManual
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkRegistered(cred); err != nil {
		return err
	}
	if p.blocked.IsBlocked(cred.hash) {
		return nil
	}
	now := p.now()
	p.waiting.Add(cred.service, cred.hash, now, now.Add(cooldown), reason)
	p.observer.ObserveTransition(cred.service, StateWaiting)
	return p.flush(ctx, "suspend")
}

// State 返回 key 当前状态
func (p *Pool) State(cred Credential) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked(cred.service, cred.hash, p.now())
}

func (p *Pool) stateLocked(service, hash string, now time.Time) State {
	if p.blocked.IsBlocked(hash) {
		return StateBlocked
	}
	if e, ok := p.waiting.Get(service, hash); ok && e.ReleaseAt.After(now) {
		return StateWaiting
	}
	return StateAvailable
}

func (p *Pool) checkRegistered(cred Credential) error {
	if _, ok := p.keys.Lookup(cred.service, cred.hash); !ok {
		return newUnknownCredentialError(cred)
	}
	return nil
}

// Health 返回服务的健康报告
func (p *Pool) Health(service string) (HealthReport, error) {
	if _, ok := p.keys.Spec(service); !ok {
		return HealthReport{}, newInvalidArgumentError(service, "unknown service")
	}
	p.mu.Lock()
	r := buildHealth(service, p.keys.Credentials(service), p.waiting, p.blocked, p.now())
	p.mu.Unlock()

	p.observer.ObserveHealth(r)
	return r, nil
}

// HealthAll 返回所有服务的健康报告，按配置顺序
func (p *Pool) HealthAll() []HealthReport {
	services := p.keys.Services()
	out := make([]HealthReport, 0, len(services))
	for _, s := range services {
		r, err := p.Health(s)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out
}

// KeyUsage 单个 key 的用量明细
type KeyUsage struct {
	KeyHash      string     `json:"key_hash"`
	State        State      `json:"state"`
	Usage        uint64     `json:"usage"`
	DailyUsage   uint64     `json:"daily_usage"`
	MonthlyUsage uint64     `json:"monthly_usage"`
	Remaining    *uint64    `json:"remaining,omitempty"`
	Errors       uint64     `json:"errors"`
	LastUsedDate string     `json:"last_used_date,omitempty"`
	LastError    *LastError `json:"last_error,omitempty"`
}

// UsageStats 服务的用量汇总
type UsageStats struct {
	Service     string     `json:"service"`
	TotalUsage  uint64     `json:"total_usage"`
	TotalErrors uint64     `json:"total_errors"`
	QuotaLimit  uint64     `json:"quota_limit,omitempty"`
	QuotaWindow string     `json:"quota_window,omitempty"`
	Keys        []KeyUsage `json:"keys"`
}

// Stats 返回服务下每个 key 的用量，按 KeyStore 顺序
func (p *Pool) Stats(service string) (UsageStats, error) {
	spec, ok := p.keys.Spec(service)
	if !ok {
		return UsageStats{}, newInvalidArgumentError(service, "unknown service")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	st := UsageStats{
		Service:     service,
		QuotaLimit:  spec.Quota.Limit,
		QuotaWindow: string(spec.Quota.Window),
		Keys:        []KeyUsage{},
	}
	for _, c := range p.keys.Credentials(service) {
		r := p.ledger.Effective(service, c.hash, now)
		ku := KeyUsage{
			KeyHash:      c.hash,
			State:        p.stateLocked(service, c.hash, now),
			Usage:        r.Usage,
			DailyUsage:   r.DailyUsage,
			MonthlyUsage: r.MonthlyUsage,
			Errors:       r.Errors,
			LastUsedDate: r.LastUsedDate,
			LastError:    r.LastError,
		}
		if rem, ok := p.guard.Remaining(spec, c, now); ok {
			ku.Remaining = &rem
		}
		st.TotalUsage += r.Usage
		st.TotalErrors += r.Errors
		st.Keys = append(st.Keys, ku)
	}
	return st, nil
}

// ResetUsage 清零服务的用量计数；失败计数、等待列表、封禁集合保持不变
func (p *Pool) ResetUsage(ctx context.Context, service string) error {
	if _, ok := p.keys.Spec(service); !ok {
		return newInvalidArgumentError(service, "unknown service")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.ledger.Reset(service, p.now())
	p.logger.Info("usage counters reset",
		zap.String("service", service),
		zap.Int("keys", n))
	return p.flush(ctx, "reset_usage")
}

// Snapshot 返回当前状态的深拷贝
func (p *Pool) Snapshot() *Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Pool) snapshotLocked() *Snapshot {
	return &Snapshot{
		Usage: p.ledger.document(),
		Status: StatusDocument{
			WaitingList:        p.waiting.document(),
			PermanentlyBlocked: p.blocked.Hashes(),
		},
	}
}

// flush 写入持久化后端。调用方的 ctx 取消不应中断一次已经发生的状态变更。
func (p *Pool) flush(ctx context.Context, op string) error {
	if p.store == nil {
		return nil
	}
	if err := p.store.Save(context.WithoutCancel(ctx), p.snapshotLocked()); err != nil {
		p.observer.ObservePersistError(op)
		p.logger.Error("failed to persist credential state",
			zap.String("op", op),
			zap.Error(err))
		return newPersistenceError(op, err)
	}
	return nil
}

// flushQuiet Acquire 路径上持久化失败只记录，不影响已选中的凭据
func (p *Pool) flushQuiet(ctx context.Context, op string) {
	_ = p.flush(ctx, op)
}

// Close 落盘并关闭后端，之后的 Acquire 返回错误
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	err := p.flush(ctx, "close")
	p.mu.Unlock()

	if c, ok := p.store.(interface{ Close(context.Context) error }); ok {
		if cerr := c.Close(ctx); cerr != nil && err == nil {
			err = newPersistenceError("close", cerr)
		}
	}
	p.logger.Info("credential pool closed")
	return err
}
